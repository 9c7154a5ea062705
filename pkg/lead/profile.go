package lead

import (
	"regexp"
	"strings"
	"time"

	"github.com/localos/nuru/pkg/llm"
	"github.com/localos/nuru/pkg/signal"
)

// Profile is the best-effort lead record extracted from a conversation.
type Profile struct {
	ConversationID int64
	Trigger        Trigger
	Company        string
	Industry       string
	Email          string
	Phone          string
	Budget         string
	Timeline       string
	Problem        string
	Summary        string // Handoff brief written after the claim; "" when disabled
	NotifiedAt     time.Time
}

// Company mention patterns, tried in order. Captures stop at sentence
// punctuation to avoid swallowing the rest of the message.
var companyPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)my company(?: is)?(?: called)?\s+([^.,!?\n]{2,40})`),
	regexp.MustCompile(`(?i)we(?:'re| are) (?:a company )?called\s+([^.,!?\n]{2,40})`),
	regexp.MustCompile(`(?i)i (?:run|own|work (?:at|for))\s+([^.,!?\n]{2,40})`),
	regexp.MustCompile(`(?i)(?:^|\s)at\s+([A-Z][\w&-]+(?:\s+[A-Z][\w&-]+){0,2})\s+we\b`),
}

// Fixed timeframe phrases for timeline extraction; the numeric pattern is
// tried first so "2 weeks" beats a vaguer "this month" elsewhere in the text.
var (
	reTimeframe      = regexp.MustCompile(`(?i)\b\d+\s*(?:day|week|month|quarter)s?\b`)
	timelinePhrases  = []string{"this week", "this month", "next month", "next quarter", "end of year", "asap", "immediately"}
	minProblemLength = 30
)

// Enrichment is externally supplied context merged into an extracted
// profile fill-if-absent, e.g. a company name known from a prior session.
type Enrichment struct {
	Company  string
	Industry string
	Email    string
}

// ExtractProfile builds a lead profile from the full turn history.
// Every field is best-effort; absence is represented by "".
func ExtractProfile(conversationID int64, history []llm.Message, tables *signal.Tables) Profile {
	if tables == nil {
		tables = signal.DefaultTables()
	}

	var all, userOnly strings.Builder
	var problem string
	for _, m := range history {
		all.WriteString(m.Content)
		all.WriteString("\n")
		if m.Role != "user" {
			continue
		}
		userOnly.WriteString(m.Content)
		userOnly.WriteString("\n")
		// Problem: the first substantive user message.
		if problem == "" && len(strings.TrimSpace(m.Content)) >= minProblemLength {
			problem = strings.TrimSpace(m.Content)
		}
	}
	allText := all.String()
	userText := userOnly.String()

	return Profile{
		ConversationID: conversationID,
		Company:        extractCompany(userText),
		Industry:       signal.MatchTaxonomy(userText, tables.Industries, ""),
		Email:          signal.FindEmail(allText),
		Phone:          signal.FindPhone(allText),
		Budget:         ExtractBudget(userText),
		Timeline:       extractTimeline(userText),
		Problem:        problem,
	}
}

// Merge fills absent profile fields from enrichment. Extracted values win:
// what the visitor said in this conversation is fresher than prior-session
// context.
func (p Profile) Merge(e Enrichment) Profile {
	if p.Company == "" {
		p.Company = e.Company
	}
	if p.Industry == "" {
		p.Industry = e.Industry
	}
	if p.Email == "" {
		p.Email = e.Email
	}
	return p
}

func extractCompany(text string) string {
	for _, re := range companyPatterns {
		if m := re.FindStringSubmatch(text); m != nil {
			return strings.TrimSpace(m[1])
		}
	}
	return ""
}

func extractTimeline(text string) string {
	if m := reTimeframe.FindString(text); m != "" {
		return strings.ToLower(m)
	}
	lower := strings.ToLower(text)
	for _, p := range timelinePhrases {
		if strings.Contains(lower, p) {
			return p
		}
	}
	return ""
}
