// Package engine orchestrates one conversation turn: persist the user
// message, obtain the assistant reply, and fan everything else out to
// background tasks. Only user-turn persistence and the completion call may
// fail a request; intelligence, segmentation, qualification, pattern
// writes, enrichment, and security detection are fire-and-forget behind
// the worker pool.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/localos/nuru/pkg/cip"
	"github.com/localos/nuru/pkg/enrich"
	"github.com/localos/nuru/pkg/intel"
	"github.com/localos/nuru/pkg/lead"
	"github.com/localos/nuru/pkg/llm"
	"github.com/localos/nuru/pkg/security"
	"github.com/localos/nuru/pkg/signal"
	"github.com/localos/nuru/pkg/store"
	"github.com/localos/nuru/pkg/work"
)

// ErrEmptyMessage rejects a turn with no content before any side effect.
var ErrEmptyMessage = errors.New("engine: empty message")

// ErrUnknownSession reports a close request for a session that never had
// a conversation.
var ErrUnknownSession = errors.New("engine: unknown session")

// EntryMetadata is the request-scoped context a turn arrives with.
type EntryMetadata struct {
	SourceIP       string
	ReferrerURL    string
	ReferrerSource string
	DeviceType     string
}

// TurnResult is the foreground outcome of one processed turn.
type TurnResult struct {
	SessionID      string `json:"session_id"`
	ConversationID int64  `json:"conversation_id"`
	Reply          string `json:"reply"`
}

// Storage is the persistence surface the engine touches directly.
// *store.Store satisfies it; engine tests supply fakes.
type Storage interface {
	EnsureConversation(ctx context.Context, sessionID string) (int64, bool, error)
	FindConversation(ctx context.Context, sessionID string) (int64, error)
	GetIntelligence(ctx context.Context, conversationID int64) (*intel.Record, error)
	SaveMessage(ctx context.Context, conversationID int64, role, content string) error
	History(ctx context.Context, conversationID int64, limit int) ([]llm.Message, error)
	UserTurnCount(ctx context.Context, conversationID int64) (int, error)
	InsertSecurityEvent(ctx context.Context, ev security.Event) error
	MarkCIPProcessed(ctx context.Context, conversationID int64) error
	IntelligenceSummary(ctx context.Context) (*store.Summary, error)
}

// SecurityAlerter sends the out-of-band injection alert.
// *notify.Dispatcher satisfies it.
type SecurityAlerter interface {
	DispatchSecurityAlert(ev security.Event)
}

// Engine wires the whole pipeline together.
type Engine struct {
	storage   Storage
	completer llm.Client
	extractor *signal.Extractor
	detector  *security.Detector
	records   *intel.Manager
	segmenter *intel.Segmenter
	patterns  *cip.Engine
	qualifier *lead.Qualifier
	alerter   SecurityAlerter
	geo       *enrich.GeoResolver
	sessions  *enrich.SessionResolver
	pool      *work.Pool
	log       *zap.Logger

	systemPrompt string
	historyLimit int
}

// Options carries the engine's collaborators. Every field is required
// except geo, sessions, and alerter, which degrade to no-ops.
type Options struct {
	Storage      Storage
	Completer    llm.Client
	Extractor    *signal.Extractor
	Detector     *security.Detector
	Records      *intel.Manager
	Segmenter    *intel.Segmenter
	Patterns     *cip.Engine
	Qualifier    *lead.Qualifier
	Alerter      SecurityAlerter
	Geo          *enrich.GeoResolver
	Sessions     *enrich.SessionResolver
	Pool         *work.Pool
	Log          *zap.Logger
	SystemPrompt string
	HistoryLimit int
}

func New(o Options) *Engine {
	log := o.Log
	if log == nil {
		log = zap.NewNop()
	}
	if o.HistoryLimit <= 0 {
		o.HistoryLimit = 20
	}
	return &Engine{
		storage:      o.Storage,
		completer:    o.Completer,
		extractor:    o.Extractor,
		detector:     o.Detector,
		records:      o.Records,
		segmenter:    o.Segmenter,
		patterns:     o.Patterns,
		qualifier:    o.Qualifier,
		alerter:      o.Alerter,
		geo:          o.Geo,
		sessions:     o.Sessions,
		pool:         o.Pool,
		log:          log,
		systemPrompt: o.SystemPrompt,
		historyLimit: o.HistoryLimit,
	}
}

// ProcessTurn handles one incoming message. An empty sessionID starts a
// new conversation. The visible reply is computed identically whether or
// not any detector fires; everything beyond reply assembly happens in the
// background.
func (e *Engine) ProcessTurn(ctx context.Context, sessionID, message string, meta EntryMetadata) (TurnResult, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return TurnResult{}, ErrEmptyMessage
	}
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	conversationID, created, err := e.storage.EnsureConversation(ctx, sessionID)
	if err != nil {
		return TurnResult{}, fmt.Errorf("engine: ensure conversation: %w", err)
	}

	if err := e.storage.SaveMessage(ctx, conversationID, "user", message); err != nil {
		return TurnResult{}, fmt.Errorf("engine: persist user turn: %w", err)
	}

	turnNumber, err := e.storage.UserTurnCount(ctx, conversationID)
	if err != nil {
		e.log.Warn("turn count unavailable", zap.Int64("conversation", conversationID), zap.Error(err))
		turnNumber = 1
	}

	history, err := e.storage.History(ctx, conversationID, e.historyLimit)
	if err != nil {
		// Degrade to a single-turn context rather than failing the reply.
		e.log.Warn("history unavailable", zap.Int64("conversation", conversationID), zap.Error(err))
		history = []llm.Message{{Role: "user", Content: message}}
	}

	det := e.extractor.Extract(message)

	reply, err := e.completer.Complete(ctx, e.buildSystemPrompt(ctx, det.Industry), history)
	if err != nil {
		return TurnResult{}, fmt.Errorf("engine: completion: %w", err)
	}

	if err := e.storage.SaveMessage(ctx, conversationID, "assistant", reply); err != nil {
		e.log.Warn("assistant turn not persisted", zap.Int64("conversation", conversationID), zap.Error(err))
	}

	e.spawnBackground(conversationID, turnNumber, created, message, reply, det, history, meta)

	return TurnResult{SessionID: sessionID, ConversationID: conversationID, Reply: reply}, nil
}

// buildSystemPrompt appends the learned-pattern fragment for the detected
// industry, when one exists, to the base persona prompt.
func (e *Engine) buildSystemPrompt(ctx context.Context, industry string) string {
	if e.patterns == nil || industry == "" {
		return e.systemPrompt
	}
	fragment := e.patterns.PromptFragment(ctx, industry)
	if fragment == "" {
		return e.systemPrompt
	}
	return e.systemPrompt + "\n\n" + fragment
}

func (e *Engine) spawnBackground(conversationID int64, turnNumber int, created bool, message, reply string, det signal.Detections, history []llm.Message, meta EntryMetadata) {
	e.submit("security.classify", func(ctx context.Context) error {
		return e.runSecurity(ctx, conversationID, message, meta)
	})
	e.submit("intel.merge", func(ctx context.Context) error {
		return e.records.MergeTurn(ctx, conversationID, turnNumber, det, message)
	})
	if created {
		e.submit("intel.entry", func(ctx context.Context) error {
			return e.runEntryMerge(ctx, conversationID, meta)
		})
	}
	e.submit("intel.segment", func(ctx context.Context) error {
		return e.segmenter.Apply(ctx, conversationID, turnNumber, det.Industry, userText(history, message))
	})
	if e.patterns != nil && det.Industry != "" && len(det.Competitors) > 0 {
		e.submit("cip.objection", func(ctx context.Context) error {
			return e.runObjection(ctx, det, history, message)
		})
	}
	e.submit("lead.qualify", func(ctx context.Context) error {
		return e.runQualification(ctx, conversationID, message, reply, det, history)
	})
}

func (e *Engine) submit(name string, task work.Task) {
	if !e.pool.Submit(name, task) {
		e.log.Warn("background task dropped", zap.String("task", name))
	}
}

// runSecurity classifies the raw turn. Injection attempts raise the
// out-of-band alert and bump the record counters; reconnaissance is logged
// and stored only. Neither touches the reply.
func (e *Engine) runSecurity(ctx context.Context, conversationID int64, message string, meta EntryMetadata) error {
	c := e.detector.Classify(message)
	if !c.IsSuspicious {
		return nil
	}

	ev := security.NewEvent(conversationID, c, message, meta.SourceIP)
	if err := e.storage.InsertSecurityEvent(ctx, ev); err != nil {
		return err
	}

	if c.EventType == security.EventInjection {
		if err := e.records.NoteInjectionAttempt(ctx, conversationID); err != nil {
			return err
		}
		if e.alerter != nil {
			e.alerter.DispatchSecurityAlert(ev)
		}
	} else {
		e.log.Info("reconnaissance attempt",
			zap.Int64("conversation", conversationID),
			zap.String("pattern", c.MatchedPattern))
	}
	return nil
}

// runEntryMerge records first-turn metadata: referrer, device, and the
// visitor's rough location.
func (e *Engine) runEntryMerge(ctx context.Context, conversationID int64, meta EntryMetadata) error {
	entry := intel.Merge{
		ConversationID: conversationID,
		ReferrerURL:    meta.ReferrerURL,
		ReferrerSource: meta.ReferrerSource,
		DeviceType:     meta.DeviceType,
	}
	if e.geo != nil {
		if geo := e.geo.Resolve(ctx, meta.SourceIP); geo != nil {
			entry.GeoCountry = geo.Country
			entry.GeoCity = geo.City
			entry.GeoRegion = geo.Region
		}
	}
	return e.records.MergeEntry(ctx, conversationID, entry)
}

// runQualification evaluates the trigger predicates on the combined
// user+assistant text, feeds the outcome chain, and records the conversion
// signature when a lead is claimed.
func (e *Engine) runQualification(ctx context.Context, conversationID int64, message, reply string, det signal.Detections, history []llm.Message) error {
	var enrichment lead.Enrichment
	email := det.Email
	if email == "" {
		email = signal.FindEmail(userText(history, message))
	}
	if email != "" {
		if err := e.records.SetOutcome(ctx, conversationID, intel.OutcomeEmailCaptured); err != nil {
			e.log.Warn("email outcome not recorded", zap.Error(err))
		}
		if e.sessions != nil {
			if prior := e.sessions.Resolve(ctx, email); prior != nil {
				enrichment = lead.Enrichment{Company: prior.Company, Industry: prior.Industry}
			}
		}
	}

	profile, err := e.qualifier.Evaluate(ctx, conversationID, message+"\n"+reply, history, enrichment)
	if err != nil || profile == nil {
		return err
	}

	// Escalation language means a human handoff was requested; every other
	// trigger is a full qualification.
	outcome := intel.OutcomeQualified
	if profile.Trigger == lead.TriggerEscalation {
		outcome = intel.OutcomeEscalated
	}
	if err := e.records.SetOutcome(ctx, conversationID, outcome); err != nil {
		e.log.Warn("qualified outcome not recorded", zap.Error(err))
	}

	if e.patterns != nil && det.Industry != "" {
		entry := cip.Entry{
			Type:     cip.TypeConversion,
			Industry: det.Industry,
			Segment:  e.segmenter.Classify(det.Industry, userText(history, message)),
			Data: map[string]string{
				"ai_zone":   fmt.Sprintf("%d", det.AIZone),
				"path_type": string(det.PathType),
			},
		}
		if err := e.patterns.Record(ctx, entry); err == nil {
			if err := e.storage.MarkCIPProcessed(ctx, conversationID); err != nil {
				e.log.Warn("cip flag not recorded", zap.Error(err))
			}
		}
	}
	return nil
}

// runObjection records one objection signature per competitor mentioned
// this turn. Competitor mentions are the strongest objection signal the
// extractor produces; counting them per industry feeds the prompt
// fragment for future conversations.
func (e *Engine) runObjection(ctx context.Context, det signal.Detections, history []llm.Message, message string) error {
	segment := e.segmenter.Classify(det.Industry, userText(history, message))
	for _, competitor := range det.Competitors {
		entry := cip.Entry{
			Type:     cip.TypeObjection,
			Industry: det.Industry,
			Segment:  segment,
			Data:     map[string]string{"competitor": competitor},
		}
		if err := e.patterns.Record(ctx, entry); err != nil {
			return err
		}
	}
	return nil
}

// CloseConversation finalizes a session the visitor walked away from. A
// conversation with no terminal outcome is marked bounced, and when the
// industry is known its dropout signature feeds the pattern store.
// Closing an already-resolved conversation is a no-op.
func (e *Engine) CloseConversation(ctx context.Context, sessionID string) error {
	conversationID, err := e.storage.FindConversation(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("engine: find conversation: %w", err)
	}
	if conversationID == 0 {
		return ErrUnknownSession
	}

	rec, err := e.storage.GetIntelligence(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("engine: load record for close: %w", err)
	}
	if rec != nil && rec.Outcome != "" && rec.Outcome != intel.OutcomeNone {
		return nil
	}

	if err := e.records.SetOutcome(ctx, conversationID, intel.OutcomeBounced); err != nil {
		return err
	}

	if e.patterns == nil || rec == nil || rec.IndustryDetected == "" {
		return nil
	}
	data := map[string]string{"dropout_turn": fmt.Sprintf("%d", rec.TotalTurns)}
	if rec.PathType != "" && rec.PathType != signal.PathUnknown {
		data["path_type"] = string(rec.PathType)
	}
	entry := cip.Entry{
		Type:     cip.TypeDropout,
		Industry: rec.IndustryDetected,
		Segment:  rec.VisitorSegment,
		Data:     data,
	}
	if err := e.patterns.Record(ctx, entry); err != nil {
		return err
	}
	if err := e.storage.MarkCIPProcessed(ctx, conversationID); err != nil {
		e.log.Warn("cip flag not recorded", zap.Error(err))
	}
	return nil
}

// userText concatenates all user turns plus the current message for the
// accumulated-text scans.
func userText(history []llm.Message, current string) string {
	var b strings.Builder
	for _, m := range history {
		if m.Role != "user" {
			continue
		}
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	b.WriteString(current)
	return b.String()
}

// IntelligenceSummary is the operator read path.
func (e *Engine) IntelligenceSummary(ctx context.Context) (*store.Summary, error) {
	return e.storage.IntelligenceSummary(ctx)
}

// Patterns returns the top stored patterns for an industry.
func (e *Engine) Patterns(ctx context.Context, industry string, minOccurrence, limit int) ([]cip.Row, error) {
	return e.patterns.Top(ctx, industry, minOccurrence, limit)
}
