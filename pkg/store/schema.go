package store

import (
	"context"
	"fmt"
)

// Schema statements, executed in order. Everything is idempotent so
// startup can run them unconditionally.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS conversations (
		id         BIGSERIAL PRIMARY KEY,
		session_id TEXT NOT NULL UNIQUE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS messages (
		id              BIGSERIAL PRIMARY KEY,
		conversation_id BIGINT NOT NULL REFERENCES conversations(id),
		role            TEXT NOT NULL,
		content         TEXT NOT NULL,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS messages_conversation_idx
		ON messages (conversation_id, id)`,

	`CREATE TABLE IF NOT EXISTS intelligence_records (
		conversation_id     BIGINT PRIMARY KEY REFERENCES conversations(id),
		geo_country         TEXT,
		geo_city            TEXT,
		geo_region          TEXT,
		referrer_url        TEXT,
		referrer_source     TEXT,
		device_type         TEXT,
		visitor_segment     TEXT,
		ai_literacy_zone    INT,
		path_type           TEXT,
		total_turns         INT NOT NULL DEFAULT 0,
		dropout_turn        INT,
		avg_message_length  INT NOT NULL DEFAULT 0,
		pain_vocabulary     TEXT[] NOT NULL DEFAULT '{}',
		competitor_mentions TEXT[] NOT NULL DEFAULT '{}',
		industry_detected   TEXT,
		outcome             TEXT NOT NULL DEFAULT 'none',
		email_captured      TEXT,
		injection_attempts  INT NOT NULL DEFAULT 0,
		flagged_suspicious  BOOLEAN NOT NULL DEFAULT FALSE,
		cip_processed       BOOLEAN NOT NULL DEFAULT FALSE,
		created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at          TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS intelligence_email_idx
		ON intelligence_records (email_captured)
		WHERE email_captured IS NOT NULL`,

	`CREATE TABLE IF NOT EXISTS leads (
		id                   BIGSERIAL PRIMARY KEY,
		conversation_id      BIGINT NOT NULL UNIQUE REFERENCES conversations(id),
		qualification_status TEXT NOT NULL DEFAULT 'qualified',
		trigger_type         TEXT NOT NULL,
		company              TEXT,
		industry             TEXT,
		email                TEXT,
		phone                TEXT,
		budget               TEXT,
		timeline             TEXT,
		problem              TEXT,
		notified_at          TIMESTAMPTZ,
		created_at           TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS conversation_patterns (
		id               BIGSERIAL PRIMARY KEY,
		pattern_type     TEXT NOT NULL,
		industry         TEXT NOT NULL,
		visitor_segment  TEXT NOT NULL,
		pattern_hash     TEXT NOT NULL,
		pattern_data     JSONB NOT NULL,
		occurrence_count BIGINT NOT NULL DEFAULT 1,
		created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
		last_seen        TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (pattern_type, industry, visitor_segment, pattern_hash)
	)`,
	`CREATE INDEX IF NOT EXISTS patterns_industry_idx
		ON conversation_patterns (industry, occurrence_count DESC)`,

	`CREATE TABLE IF NOT EXISTS security_events (
		id              BIGSERIAL PRIMARY KEY,
		conversation_id BIGINT REFERENCES conversations(id),
		event_type      TEXT NOT NULL,
		message_content TEXT,
		source_address  TEXT,
		details         TEXT,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
}

// EnsureSchema creates every table and index the engine needs. Statements
// run one at a time; pgx's extended protocol rejects multi-statement
// strings.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("store: schema: %w", err)
		}
	}
	return nil
}
