package intel

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/localos/nuru/pkg/signal"
)

// Segmenter classifies a conversation into an industry/role/behavior bucket
// once enough turns have accumulated. Role and behavior resolve
// first-match-wins over their taxonomies with an "unknown" default;
// industry comes from the already-resolved record field. The computed
// segment follows fill-if-absent like every other scalar.
type Segmenter struct {
	tables    *signal.Tables
	store     RecordStore
	threshold int
	log       *zap.Logger
}

// NewSegmenter builds a segmenter. threshold is the turn count at which a
// segment is first computed.
func NewSegmenter(tables *signal.Tables, store RecordStore, threshold int, log *zap.Logger) *Segmenter {
	if tables == nil {
		tables = signal.DefaultTables()
	}
	if threshold <= 0 {
		threshold = 4
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Segmenter{tables: tables, store: store, threshold: threshold, log: log}
}

// Threshold returns the turn count that triggers segmentation.
func (s *Segmenter) Threshold() int {
	return s.threshold
}

// Classify computes "{industry}_{role}_{type}" from accumulated user text
// and the record's detected industry. Pure; exposed for tests.
func (s *Segmenter) Classify(industry, userText string) string {
	role := signal.MatchTaxonomy(userText, s.tables.Roles, "unknown")
	behavior := signal.MatchTaxonomy(userText, s.tables.Behaviors, "unknown")
	return fmt.Sprintf("%s_%s_%s", slugify(industry), role, behavior)
}

// Apply computes and persists the segment for a conversation once the turn
// threshold is reached. Idempotent: the store write is fill-if-absent, so
// re-running on later turns never changes an existing segment.
func (s *Segmenter) Apply(ctx context.Context, conversationID int64, totalTurns int, industry, userText string) error {
	if totalTurns < s.threshold {
		return nil
	}
	segment := s.Classify(industry, userText)
	if err := s.store.SetVisitorSegment(ctx, conversationID, segment); err != nil {
		return fmt.Errorf("intel: set segment for conversation %d: %w", conversationID, err)
	}
	return nil
}

// slugify lowercases and underscores an industry name for segment keys;
// empty industries bucket to "unknown".
func slugify(s string) string {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return "unknown"
	}
	return strings.ReplaceAll(s, " ", "_")
}
