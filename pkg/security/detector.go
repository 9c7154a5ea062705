package security

import (
	"time"
	"unicode/utf8"
)

// maxStoredContent bounds how much of a flagged message is persisted.
const maxStoredContent = 500

// Classification is the result of scanning one message. IsSuspicious false
// means the zero value of the other fields.
type Classification struct {
	IsSuspicious   bool
	EventType      EventType
	MatchedPattern string
}

// Event is one append-only security_events row.
type Event struct {
	ConversationID int64
	EventType      EventType
	MatchedPattern string
	MessageContent string // truncated to maxStoredContent
	SourceAddress  string
	Details        string
	CreatedAt      time.Time
}

// Detector classifies raw user turns against the honeypot registry.
type Detector struct {
	registry *Registry
}

// NewDetector returns a detector over the global pattern registry.
func NewDetector() *Detector {
	return &Detector{registry: Get()}
}

// Classify scans a message. Injection patterns are checked first: they are
// higher severity and a message matching both families is an injection.
// Classification must never influence the visible reply; callers act on
// it only in background logging paths.
func (d *Detector) Classify(message string) Classification {
	if p := d.registry.MatchAny(message, EventInjection); p != nil {
		return Classification{IsSuspicious: true, EventType: EventInjection, MatchedPattern: p.Name}
	}
	if p := d.registry.MatchAny(message, EventRecon); p != nil {
		return Classification{IsSuspicious: true, EventType: EventRecon, MatchedPattern: p.Name}
	}
	return Classification{}
}

// NewEvent builds a persistable event from a classification, truncating
// message content. The cut snaps back to a rune boundary so the stored
// content is always valid UTF-8 even when the limit lands inside a
// multi-byte character.
func NewEvent(conversationID int64, c Classification, message, sourceAddr string) Event {
	content := message
	if len(content) > maxStoredContent {
		cut := maxStoredContent
		for cut > 0 && !utf8.RuneStart(content[cut]) {
			cut--
		}
		content = content[:cut]
	}
	return Event{
		ConversationID: conversationID,
		EventType:      c.EventType,
		MatchedPattern: c.MatchedPattern,
		MessageContent: content,
		SourceAddress:  sourceAddr,
		CreatedAt:      time.Now(),
	}
}
