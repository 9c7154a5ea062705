package intel

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/localos/nuru/pkg/signal"
)

// Merge carries one turn's worth of detections into the store's atomic
// upsert. Empty strings and zero values mean "no signal this turn" and
// must leave existing state untouched; the store maps them to COALESCE
// semantics. The whole operation is commutative and idempotent with
// respect to arrival order, because background merges race each other and
// the next incoming turn.
type Merge struct {
	ConversationID int64
	TurnNumber     int

	PainPhrases []string // Unioned into pain_vocabulary, capped
	Competitors []string // Unioned into competitor_mentions

	AILiteracyZone signal.Zone     // 0 = no signal
	PathType       signal.PathType // "" or unknown = no signal
	Industry       string
	Email          string

	GeoCountry     string
	GeoCity        string
	GeoRegion      string
	ReferrerURL    string
	ReferrerSource string
	DeviceType     string
	VisitorSegment string

	MessageLength int // Replaces avg_message_length (last observed)

	// FlagIfCreated marks the record suspicious when this merge has to
	// create it: records are created at turn 1, so creation by a later
	// turn's merge means the normal path was skipped.
	FlagIfCreated bool
}

// RecordStore is the persistence needed by the manager. *store.Store
// satisfies it; tests supply fakes.
type RecordStore interface {
	// MergeIntelligence applies m as a single atomic upsert: set-union on
	// the vocabulary fields, fill-if-absent on scalars, monotonic turn
	// counter.
	MergeIntelligence(ctx context.Context, m Merge) error
	// GetIntelligence returns the record, or nil when absent.
	GetIntelligence(ctx context.Context, conversationID int64) (*Record, error)
	// OverrideOutcome replaces the outcome regardless of fill-if-absent,
	// subject to Outcome.Supersedes ordering.
	OverrideOutcome(ctx context.Context, conversationID int64, outcome Outcome) error
	// SetVisitorSegment writes the segment fill-if-absent.
	SetVisitorSegment(ctx context.Context, conversationID int64, segment string) error
	// RecordInjectionAttempt bumps the monotonic counter and sets the
	// suspicious flag.
	RecordInjectionAttempt(ctx context.Context, conversationID int64) error
}

// Manager merges per-turn detections into intelligence records.
type Manager struct {
	store RecordStore
	log   *zap.Logger
}

// NewManager builds a record manager.
func NewManager(store RecordStore, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{store: store, log: log}
}

// MergeTurn folds one turn's detections into the conversation's record.
// Safe to call from background tasks in any order relative to other merges
// for the same conversation.
func (m *Manager) MergeTurn(ctx context.Context, conversationID int64, turnNumber int, det signal.Detections, message string) error {
	merge := Merge{
		ConversationID: conversationID,
		TurnNumber:     turnNumber,
		PainPhrases:    det.PainPhrases,
		Competitors:    det.Competitors,
		AILiteracyZone: det.AIZone,
		PathType:       det.PathType,
		Industry:       det.Industry,
		Email:          det.Email,
		GeoCountry:     det.Location,
		MessageLength:  len(message),
		FlagIfCreated:  turnNumber > 1,
	}
	if merge.PathType == signal.PathUnknown {
		merge.PathType = ""
	}
	if err := m.store.MergeIntelligence(ctx, merge); err != nil {
		return fmt.Errorf("intel: merge turn %d for conversation %d: %w", turnNumber, conversationID, err)
	}
	return nil
}

// MergeEntry folds request metadata (referrer, device, geo enrichment) into
// the record, fill-if-absent. Runs in the background on the first turn and
// whenever enrichment completes.
func (m *Manager) MergeEntry(ctx context.Context, conversationID int64, entry Merge) error {
	entry.ConversationID = conversationID
	if err := m.store.MergeIntelligence(ctx, entry); err != nil {
		return fmt.Errorf("intel: merge entry metadata for conversation %d: %w", conversationID, err)
	}
	return nil
}

// SetOutcome applies an explicit terminal-outcome override. The store
// enforces that only a superseding outcome replaces a non-null one.
func (m *Manager) SetOutcome(ctx context.Context, conversationID int64, outcome Outcome) error {
	if err := m.store.OverrideOutcome(ctx, conversationID, outcome); err != nil {
		return fmt.Errorf("intel: set outcome %s for conversation %d: %w", outcome, conversationID, err)
	}
	return nil
}

// NoteInjectionAttempt bumps the injection counter. Counters only; the
// conversational flow never changes.
func (m *Manager) NoteInjectionAttempt(ctx context.Context, conversationID int64) error {
	return m.store.RecordInjectionAttempt(ctx, conversationID)
}
