// Package security is the passive honeypot: it classifies prompt-injection
// and reconnaissance attempts in chat turns without ever altering the
// visible reply. All regex patterns are compiled once at first use and
// shared across all conversations.
//
// Design principles:
// - COMPILE ONCE: All patterns compiled at init, not per-turn
// - CATEGORIZED: injection vs. reconnaissance, with different handling
// - PASSIVE: classification feeds background logging and counters only;
//   alerting the sender would let an adversary learn they were detected
package security

import (
	"regexp"
	"sync"
)

// EventType is a security event category.
type EventType string

const (
	// EventInjection covers instructions to override the assistant's
	// directives, reveal its configuration, or adopt an unrestricted
	// persona. High severity: triggers an out-of-band alert.
	EventInjection EventType = "injection_attempt"
	// EventRecon covers probing for the underlying model, technology
	// stack, or business methodology. Logged only; too frequent to
	// alert on.
	EventRecon EventType = "reconnaissance"
)

// Pattern holds a compiled regex with metadata.
type Pattern struct {
	Name        string         // Human-readable name for logging
	Regex       *regexp.Regexp // Compiled regex (never nil after init)
	Type        EventType      // Event category
	Description string         // What this pattern detects
}

// Registry holds all compiled patterns, organized by event type.
type Registry struct {
	mu     sync.RWMutex
	byType map[EventType][]*Pattern
	all    []*Pattern
}

// global singleton - initialized once at package load
var (
	globalRegistry *Registry
	initOnce       sync.Once
)

// Get returns the global pattern registry (singleton).
// Thread-safe and guaranteed to be initialized.
func Get() *Registry {
	initOnce.Do(func() {
		globalRegistry = newRegistry()
	})
	return globalRegistry
}

func newRegistry() *Registry {
	r := &Registry{
		byType: make(map[EventType][]*Pattern),
		all:    make([]*Pattern, 0, 64),
	}
	r.registerInjectionPatterns()
	r.registerReconPatterns()
	return r
}

// register adds a pattern to the registry (internal use only).
func (r *Registry) register(name, pattern string, typ EventType, description string) {
	compiled := regexp.MustCompile(pattern)
	p := &Pattern{
		Name:        name,
		Regex:       compiled,
		Type:        typ,
		Description: description,
	}
	r.byType[typ] = append(r.byType[typ], p)
	r.all = append(r.all, p)
}

// ByType returns all patterns for an event type.
// Returns empty slice if type not found (never nil).
func (r *Registry) ByType(typ EventType) []*Pattern {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if patterns, ok := r.byType[typ]; ok {
		return patterns
	}
	return []*Pattern{}
}

// MatchAny checks text against the given event types in order and returns
// the first matching pattern or nil. Optimized for early exit.
func (r *Registry) MatchAny(text string, types ...EventType) *Pattern {
	for _, typ := range types {
		for _, p := range r.ByType(typ) {
			if p.Regex.MatchString(text) {
				return p
			}
		}
	}
	return nil
}

// TotalPatterns returns the total count of registered patterns.
func (r *Registry) TotalPatterns() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.all)
}
