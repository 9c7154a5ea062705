package signal

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
)

// Zone is the AI-literacy level detected for a visitor.
type Zone int

const (
	ZoneUnknown      Zone = 0
	ZoneNovice       Zone = 1
	ZonePractitioner Zone = 2
	ZoneTechnical    Zone = 3
)

// PathType classifies how fast a visitor intends to move.
type PathType string

const (
	PathUnknown PathType = "unknown"
	PathFast    PathType = "fast"
	PathSlow    PathType = "slow"
)

const (
	// contextRadius is the number of characters captured on each side of a
	// pain keyword match, clamped to string bounds.
	contextRadius = 20
	// maxPainPhrases caps pain phrase collection per message.
	maxPainPhrases = 5
)

// Pre-compiled contact patterns (compiled once, used many times).
var (
	reEmail = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)
	rePhone = regexp.MustCompile(`\+?\d[\d\s().-]{7,}\d`)
)

// FindEmail returns the first email address in text, or "".
func FindEmail(text string) string {
	return reEmail.FindString(text)
}

// FindPhone returns the first phone-shaped number in text, or "".
func FindPhone(text string) string {
	return rePhone.FindString(text)
}

// Detections is the structured result of extracting one message.
// Multi-valued fields collect all matches; single-valued fields are
// first-match-wins against the table's group order.
type Detections struct {
	PainPhrases []string // Context windows around pain keyword hits, capped
	Competitors []string // Deduplicated competitor names
	AIZone      Zone
	PathType    PathType
	Email       string
	Phone       string
	Industry    string
	Location    string
	Payment     string
	Channel     string
}

// Extractor matches messages against keyword tables. It is pure and safe
// for concurrent use once constructed.
type Extractor struct {
	tables *Tables
}

// NewExtractor builds an extractor over the given tables. Pass nil for the
// built-in defaults.
func NewExtractor(t *Tables) *Extractor {
	if t == nil {
		t = DefaultTables()
	}
	return &Extractor{tables: t}
}

// Extract runs every detection table against one message. Deterministic:
// the same message always yields the same detections.
func (e *Extractor) Extract(message string) Detections {
	// Casers are stateful transformers, so build one per call rather than
	// sharing across goroutines.
	lower := cases.Fold().String(message)

	d := Detections{
		PainPhrases: e.painPhrases(lower),
		Competitors: e.competitors(lower),
		AIZone:      e.literacyZone(lower),
		PathType:    e.pathType(lower),
		Industry:    firstMatch(lower, e.tables.Industries),
		Location:    firstMatch(lower, e.tables.Locations),
		Payment:     firstMatch(lower, e.tables.Payments),
		Channel:     firstMatch(lower, e.tables.Channels),
	}
	// Contact details come from the original message so casing survives.
	d.Email = reEmail.FindString(message)
	d.Phone = rePhone.FindString(message)
	return d
}

// painPhrases collects a context window for each pain keyword hit,
// deduplicated, capped at maxPainPhrases.
func (e *Extractor) painPhrases(lower string) []string {
	var phrases []string
	seen := make(map[string]struct{})
	for _, kw := range e.tables.Pain {
		idx := strings.Index(lower, kw)
		if idx < 0 {
			continue
		}
		win := contextWindow(lower, idx, len(kw))
		if _, dup := seen[win]; dup {
			continue
		}
		seen[win] = struct{}{}
		phrases = append(phrases, win)
		if len(phrases) >= maxPainPhrases {
			break
		}
	}
	return phrases
}

func (e *Extractor) competitors(lower string) []string {
	var found []string
	for _, name := range e.tables.Competitors {
		if strings.Contains(lower, name) {
			found = append(found, name)
		}
	}
	return found
}

// literacyZone resolves most-specific-wins: any technical keyword wins
// regardless of other matches, then practitioner, then novice.
func (e *Extractor) literacyZone(lower string) Zone {
	if containsAny(lower, e.tables.ZoneTechnical) {
		return ZoneTechnical
	}
	if containsAny(lower, e.tables.ZonePractitioner) {
		return ZonePractitioner
	}
	if containsAny(lower, e.tables.ZoneNovice) {
		return ZoneNovice
	}
	return ZoneUnknown
}

// pathType gives urgency keywords priority over planning keywords.
func (e *Extractor) pathType(lower string) PathType {
	if containsAny(lower, e.tables.Urgency) {
		return PathFast
	}
	if containsAny(lower, e.tables.Planning) {
		return PathSlow
	}
	return PathUnknown
}

// MatchTaxonomy resolves a single-valued taxonomy against arbitrary-case
// text: the earliest group in table order with any keyword present wins;
// fallback when nothing matches. Used by segmentation for the role and
// behavior taxonomies.
func MatchTaxonomy(text string, groups []Group, fallback string) string {
	if name := firstMatch(cases.Fold().String(text), groups); name != "" {
		return name
	}
	return fallback
}

// firstMatch resolves a single-valued taxonomy: the earliest group in table
// order with any keyword present wins, ties included.
func firstMatch(lower string, groups []Group) string {
	for _, g := range groups {
		if containsAny(lower, g.Keywords) {
			return g.Name
		}
	}
	return ""
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if kw != "" && strings.Contains(s, kw) {
			return true
		}
	}
	return false
}

// contextWindow returns ±contextRadius characters around a match, clamped
// to the string bounds and snapped outward to rune boundaries so a window
// never slices a multi-byte character.
func contextWindow(s string, idx, matchLen int) string {
	start := idx - contextRadius
	if start < 0 {
		start = 0
	}
	end := idx + matchLen + contextRadius
	if end > len(s) {
		end = len(s)
	}
	for start > 0 && !utf8.RuneStart(s[start]) {
		start--
	}
	for end < len(s) && !utf8.RuneStart(s[end]) {
		end++
	}
	return strings.TrimSpace(s[start:end])
}
