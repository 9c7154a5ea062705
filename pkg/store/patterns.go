package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/localos/nuru/pkg/cip"
)

// UpsertPattern inserts the signature or increments its occurrence
// counter. Identity is the composite (type, industry, segment, canonical
// hash); the unique index makes the increment atomic under concurrent
// writers.
func (s *Store) UpsertPattern(ctx context.Context, e cip.Entry, hash string, canonical []byte) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO conversation_patterns (
			pattern_type, industry, visitor_segment, pattern_hash, pattern_data
		) VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (pattern_type, industry, visitor_segment, pattern_hash)
		DO UPDATE SET
			occurrence_count = conversation_patterns.occurrence_count + 1,
			last_seen        = now()`,
		string(e.Type), e.Industry, e.Segment, hash, canonical)
	if err != nil {
		return fmt.Errorf("store: upsert pattern: %w", err)
	}
	return nil
}

// QueryPatterns returns an industry's patterns ordered by frequency.
func (s *Store) QueryPatterns(ctx context.Context, industry string, minOccurrence, limit int) ([]cip.Row, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, pattern_type, industry, visitor_segment, pattern_data,
			occurrence_count, created_at, last_seen
		FROM conversation_patterns
		WHERE industry = $1 AND occurrence_count >= $2
		ORDER BY occurrence_count DESC, last_seen DESC
		LIMIT $3`, industry, minOccurrence, limit)
	if err != nil {
		return nil, fmt.Errorf("store: query patterns: %w", err)
	}
	defer rows.Close()

	var out []cip.Row
	for rows.Next() {
		var (
			r   cip.Row
			typ string
			raw []byte
		)
		if err := rows.Scan(&r.ID, &typ, &r.Industry, &r.Segment, &raw,
			&r.Occurrences, &r.FirstSeen, &r.LastSeen); err != nil {
			return nil, fmt.Errorf("store: pattern scan: %w", err)
		}
		r.Type = cip.PatternType(typ)
		if err := json.Unmarshal(raw, &r.Data); err != nil {
			return nil, fmt.Errorf("store: pattern data decode: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: pattern rows: %w", err)
	}
	return out, nil
}
