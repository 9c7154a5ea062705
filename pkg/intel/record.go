// Package intel owns the per-conversation IntelligenceRecord: the
// accumulating structured-signal state that every turn merges into. Records
// are append-only analytics: created on the first turn, updated by both
// the foreground path and background tasks, never deleted. Merge semantics
// are the heart of the package: set-valued fields union without loss,
// scalar fields fill-if-absent, and concurrent merges for the same
// conversation must interleave in any order without regressing state.
package intel

import (
	"time"

	"github.com/localos/nuru/pkg/signal"
)

// MaxPainVocabulary caps the deduplicated pain vocabulary per record.
const MaxPainVocabulary = 20

// Outcome is the terminal classification of a conversation.
type Outcome string

const (
	OutcomeNone          Outcome = "none"
	OutcomeBounced       Outcome = "bounced"
	OutcomeEmailCaptured Outcome = "email_captured"
	OutcomeEscalated     Outcome = "escalated"
	OutcomeQualified     Outcome = "qualified"
)

// rank orders outcomes so an explicit override can only move forward:
// escalated supersedes bounced, never the reverse.
func (o Outcome) rank() int {
	switch o {
	case OutcomeBounced:
		return 1
	case OutcomeEmailCaptured:
		return 2
	case OutcomeEscalated:
		return 3
	case OutcomeQualified:
		return 4
	default:
		return 0
	}
}

// Supersedes reports whether o may override prev.
func (o Outcome) Supersedes(prev Outcome) bool {
	return o.rank() > prev.rank()
}

// Record is the 1:1 accumulated intelligence for a conversation.
type Record struct {
	ConversationID int64

	GeoCountry     string
	GeoCity        string
	GeoRegion      string
	ReferrerURL    string
	ReferrerSource string
	DeviceType     string

	VisitorSegment string
	AILiteracyZone signal.Zone
	PathType       signal.PathType

	TotalTurns       int
	DropoutTurn      int
	AvgMessageLength int // Last observed length, a documented approximation

	PainVocabulary     []string
	CompetitorMentions []string
	IndustryDetected   string

	Outcome           Outcome
	EmailCaptured     string
	InjectionAttempts int
	FlaggedSuspicious bool
	CIPProcessed      bool

	CreatedAt time.Time
	UpdatedAt time.Time
}
