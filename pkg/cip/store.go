package cip

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/localos/nuru/pkg/cache"
)

// PatternType tags what kind of signature a pattern captures.
type PatternType string

const (
	TypeConversion PatternType = "conversion" // What a qualifying conversation looked like
	TypeObjection  PatternType = "objection"  // Recurring objections before dropout
	TypeDropout    PatternType = "dropout"    // Where conversations bounce
)

// Entry is one observed signature to record.
type Entry struct {
	Type     PatternType
	Industry string
	Segment  string
	Data     map[string]string
}

// Row is a stored pattern with its frequency count.
type Row struct {
	ID          int64
	Type        PatternType
	Industry    string
	Segment     string
	Data        map[string]string
	Occurrences int64
	FirstSeen   time.Time
	LastSeen    time.Time
}

// Persistence is the store-level surface the CIP engine needs.
// *store.Store satisfies it.
type Persistence interface {
	// UpsertPattern inserts or increments by composite identity
	// (type, industry, segment, hash) atomically.
	UpsertPattern(ctx context.Context, e Entry, hash string, canonical []byte) error
	// QueryPatterns returns rows for an industry ordered by occurrence
	// count descending.
	QueryPatterns(ctx context.Context, industry string, minOccurrence, limit int) ([]Row, error)
}

// Engine records signatures and serves the feedback read path.
//
// Writes are at-least-once: an outcome reprocessed on retry double-counts
// because there is no delivery idempotency token. Accepted cost: the
// store feeds heuristics, not billing.
type Engine struct {
	db        Persistence
	cache     cache.Cache
	log       *zap.Logger
	promptTTL time.Duration
}

// NewEngine builds a CIP engine. cache may be nil to disable read caching.
func NewEngine(db Persistence, c cache.Cache, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{db: db, cache: c, log: log, promptTTL: 10 * time.Minute}
}

// Record canonicalizes and upserts one signature. Best-effort: callers run
// it on the background pool and a failure is logged, never propagated to
// the interactive path.
func (e *Engine) Record(ctx context.Context, entry Entry) error {
	if entry.Type == "" {
		return errors.New("cip: pattern type is required")
	}
	canonical, hash, err := Canonicalize(entry.Data)
	if err != nil {
		return err
	}
	if err := e.db.UpsertPattern(ctx, entry, hash, canonical); err != nil {
		return fmt.Errorf("cip: upsert %s pattern: %w", entry.Type, err)
	}
	return nil
}

// Top returns the highest-frequency patterns for an industry.
func (e *Engine) Top(ctx context.Context, industry string, minOccurrence, limit int) ([]Row, error) {
	if limit <= 0 {
		limit = 10
	}
	if minOccurrence < 1 {
		minOccurrence = 1
	}
	rows, err := e.db.QueryPatterns(ctx, industry, minOccurrence, limit)
	if err != nil {
		return nil, fmt.Errorf("cip: query patterns for %q: %w", industry, err)
	}
	return rows, nil
}

// PromptFragment renders learned patterns for an industry into a short
// system-prompt addendum, the explicit feedback loop from stored patterns
// into live conversations. Cached for promptTTL; an empty string means no
// learned intelligence yet.
func (e *Engine) PromptFragment(ctx context.Context, industry string) string {
	if industry == "" {
		return ""
	}
	key := "cip:prompt:" + strings.ToLower(industry)
	if e.cache != nil {
		if b, err := e.cache.Get(ctx, key); err == nil {
			return string(b)
		}
	}

	rows, err := e.Top(ctx, industry, 2, 5)
	if err != nil {
		e.log.Warn("cip prompt fragment lookup failed",
			zap.String("industry", industry), zap.Error(err))
		return ""
	}
	fragment := renderFragment(industry, rows)
	if e.cache != nil {
		if err := e.cache.Set(ctx, key, []byte(fragment), e.promptTTL); err != nil {
			e.log.Warn("cip prompt fragment cache write failed", zap.Error(err))
		}
	}
	return fragment
}

func renderFragment(industry string, rows []Row) string {
	if len(rows) == 0 {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Learned patterns for %s conversations:\n", industry)
	for _, r := range rows {
		fmt.Fprintf(&b, "- [%s, seen %dx]", r.Type, r.Occurrences)
		keys := make([]string, 0, len(r.Data))
		for k := range r.Data {
			keys = append(keys, k)
		}
		sort.Strings(keys) // stable rendering regardless of map order
		for _, k := range keys {
			fmt.Fprintf(&b, " %s=%s", k, r.Data[k])
		}
		b.WriteString("\n")
	}
	return b.String()
}
