// Package lead decides, exactly once per conversation, when an intake
// conversation becomes a qualified lead worth a human's time, extracts a
// best-effort profile from the turn history, and hands the claimed lead to
// the notification path. The state machine is strictly one-way:
// unqualified → qualified → notified.
package lead

import (
	"regexp"
	"strings"

	"golang.org/x/text/cases"
)

// Trigger names which predicate fired qualification.
type Trigger string

const (
	TriggerNone          Trigger = ""
	TriggerBooking       Trigger = "booking_intent"
	TriggerEscalation    Trigger = "escalation_language"
	TriggerForwardMotion Trigger = "forward_motion"
	TriggerBudget        Trigger = "budget_signal"
)

// Currency figures: "$5,000", "$5k", "5,000 dollars", "3000 usd".
var reCurrency = regexp.MustCompile(`\$\s?\d[\d,]*(?:\.\d+)?\s*k?\b|\b\d[\d,]*(?:\.\d+)?\s*(?:dollars|usd|ksh|shillings)\b`)

// anchorRadius is how far (in bytes) around a currency figure the budget
// heuristic looks for spend/loss anchors.
const anchorRadius = 60

// spendAnchors mark willingness to spend. A currency figure only counts as
// a budget when one of these co-occurs nearby.
var spendAnchors = []string{
	"budget", "willing to spend", "willing to invest", "allocated",
	"set aside", "can spend", "ready to invest", "have",
}

// lossAnchors veto a figure: "we lost $5k" is a pain signal, not a budget.
// The veto is checked first so a loss figure never qualifies even when a
// loose spend anchor like "have" also appears in the window.
var lossAnchors = []string{
	"lost", "losing", "loses", "wasted", "wasting", "waste",
	"cost us", "costing us", "costs us", "down the drain", "bleeding",
}

var bookingPhrases = []string{
	"schedule a call", "book a meeting", "set up a call", "calendly",
	"booking link", "scheduling link",
}

var forwardMotionPhrases = []string{
	"ready to start", "let's move forward", "lets move forward",
	"let's do it", "lets do it", "where do i sign", "ready to go ahead",
	"send the invoice", "send over the contract",
}

var escalationVerbs = []string{"connect", "discuss", "loop in", "talk to", "speak with", "intro"}

// Detection is the result of evaluating one turn's combined text.
type Detection struct {
	Trigger Trigger
	Budget  string // The accepted currency figure when Trigger is budget_signal
}

// DetectTrigger evaluates the qualification predicates against combined
// user+assistant turn text. agentName is the human the assistant escalates
// to ("eli" in production); empty disables the escalation predicate.
func DetectTrigger(text, agentName string) Detection {
	lower := cases.Fold().String(text)

	// Explicit booking intent.
	if strings.Contains(lower, "book") && strings.Contains(lower, "call") {
		return Detection{Trigger: TriggerBooking}
	}
	for _, p := range bookingPhrases {
		if strings.Contains(lower, p) {
			return Detection{Trigger: TriggerBooking}
		}
	}

	// Explicit escalation language: agent name plus a connect verb.
	if agentName != "" && strings.Contains(lower, strings.ToLower(agentName)) {
		for _, v := range escalationVerbs {
			if strings.Contains(lower, v) {
				return Detection{Trigger: TriggerEscalation}
			}
		}
	}

	// Explicit forward motion.
	for _, p := range forwardMotionPhrases {
		if strings.Contains(lower, p) {
			return Detection{Trigger: TriggerForwardMotion}
		}
	}

	// Budget signal, narrowly defined.
	if figure := ExtractBudget(lower); figure != "" {
		return Detection{Trigger: TriggerBudget, Budget: figure}
	}

	return Detection{}
}

// ExtractBudget returns the first currency figure that reads as a
// willingness to spend, or "" when every figure is a loss/cost figure or
// unanchored. Heuristic by design: false positives and negatives are an
// accepted approximation.
func ExtractBudget(text string) string {
	lower := cases.Fold().String(text)
	for _, loc := range reCurrency.FindAllStringIndex(lower, -1) {
		window := anchorWindow(lower, loc[0], loc[1])
		if containsAny(window, lossAnchors) {
			continue // loss figure, never a budget
		}
		if containsAny(window, spendAnchors) {
			return strings.TrimSpace(lower[loc[0]:loc[1]])
		}
	}
	return ""
}

func anchorWindow(s string, start, end int) string {
	lo := start - anchorRadius
	if lo < 0 {
		lo = 0
	}
	hi := end + anchorRadius
	if hi > len(s) {
		hi = len(s)
	}
	return s[lo:hi]
}

func containsAny(s string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}
