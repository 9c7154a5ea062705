package lead

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/localos/nuru/pkg/llm"
	"github.com/localos/nuru/pkg/signal"
)

// Store is the persistence the qualifier needs. ClaimLead must perform the
// existence check and the insert with notified_at set inside one
// transaction; that transaction is what closes the race between
// concurrent triggers for the same conversation.
type Store interface {
	// ClaimLead returns true when this call created the lead row. False
	// means a lead with non-null notified_at already existed and the
	// caller must not dispatch anything.
	ClaimLead(ctx context.Context, p Profile) (bool, error)
}

// Dispatcher receives the claimed lead for asynchronous, multi-channel
// notification. Implementations must never block the caller.
type Dispatcher interface {
	DispatchQualified(p Profile)
}

// summaryPrompt frames the handoff brief written for the human agent.
// Runs on the strong model tier: the brief is client facing and written
// once per lead, so the extra cost is justified.
const summaryPrompt = `You are preparing a handoff brief for a human sales agent.
Summarize the conversation below in at most five short bullet points:
who the visitor is, the problem they want solved, and any budget,
timeline, or urgency they mentioned. Plain text only, no preamble.`

// Qualifier runs the per-conversation qualification state machine:
// unqualified → qualified → notified, one-way, at most one notification
// ever.
type Qualifier struct {
	store      Store
	dispatch   Dispatcher
	tables     *signal.Tables
	agent      string
	summarizer llm.Client
	log        *zap.Logger
}

// Option configures a Qualifier.
type Option func(*Qualifier)

// WithSummarizer supplies the completion client used to write the handoff
// brief for a claimed lead. Callers pass a client routed to the strong
// model tier; nil disables the brief.
func WithSummarizer(c llm.Client) Option {
	return func(q *Qualifier) { q.summarizer = c }
}

// NewQualifier builds a qualifier. agent is the escalation target's name
// used by the escalation-language predicate.
func NewQualifier(store Store, dispatch Dispatcher, tables *signal.Tables, agent string, log *zap.Logger, opts ...Option) *Qualifier {
	if tables == nil {
		tables = signal.DefaultTables()
	}
	if log == nil {
		log = zap.NewNop()
	}
	q := &Qualifier{store: store, dispatch: dispatch, tables: tables, agent: agent, log: log}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Evaluate checks one turn's combined user+assistant text against the
// trigger predicates. On the first trigger it extracts the profile from
// the full history, merges enrichment, claims the lead, and dispatches the
// notification, all of it exactly once per conversation no matter how
// many times or how concurrently Evaluate fires. The returned profile is
// nil unless this call claimed the lead.
func (q *Qualifier) Evaluate(ctx context.Context, conversationID int64, turnText string, history []llm.Message, enrich Enrichment) (*Profile, error) {
	det := DetectTrigger(turnText, q.agent)
	if det.Trigger == TriggerNone {
		return nil, nil
	}

	profile := ExtractProfile(conversationID, history, q.tables).Merge(enrich)
	profile.Trigger = det.Trigger
	if profile.Budget == "" {
		profile.Budget = det.Budget
	}

	claimed, err := q.store.ClaimLead(ctx, profile)
	if err != nil {
		return nil, fmt.Errorf("lead: claim for conversation %d: %w", conversationID, err)
	}
	if !claimed {
		// Already notified. Idempotent no-op for duplicate or concurrent
		// triggers.
		return nil, nil
	}

	profile.Summary = q.summarize(ctx, history)

	q.log.Info("lead qualified",
		zap.Int64("conversation_id", conversationID),
		zap.String("trigger", string(det.Trigger)),
		zap.String("industry", profile.Industry))
	if q.dispatch != nil {
		q.dispatch.DispatchQualified(profile)
	}
	return &profile, nil
}

// summarize writes the handoff brief for a claimed lead. Best effort: a
// summarizer failure degrades to an empty brief, never blocks the
// notification.
func (q *Qualifier) summarize(ctx context.Context, history []llm.Message) string {
	if q.summarizer == nil {
		return ""
	}
	summary, err := q.summarizer.Complete(ctx, summaryPrompt, history)
	if err != nil {
		q.log.Warn("handoff brief unavailable", zap.Error(err))
		return ""
	}
	return strings.TrimSpace(summary)
}
