package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/localos/nuru/pkg/enrich"
	"github.com/localos/nuru/pkg/intel"
	"github.com/localos/nuru/pkg/signal"
)

// arrayUnion renders the set-union expression for one TEXT[] column:
// existing plus incoming, deduplicated with first-seen order preserved,
// optionally capped. Doing the union in SQL keeps concurrent merges from
// losing each other's entries.
func arrayUnion(column string, cap int) string {
	limit := ""
	if cap > 0 {
		limit = fmt.Sprintf(" LIMIT %d", cap)
	}
	return fmt.Sprintf(`(
		SELECT COALESCE(array_agg(e ORDER BY ord), '{}')
		FROM (
			SELECT e, ord FROM (
				SELECT DISTINCT ON (e) e, ord
				FROM unnest(intelligence_records.%[1]s || EXCLUDED.%[1]s)
					WITH ORDINALITY AS t(e, ord)
				ORDER BY e, ord
			) dedup ORDER BY ord%[2]s
		) capped
	)`, column, limit)
}

var mergeIntelligenceSQL = fmt.Sprintf(`
	INSERT INTO intelligence_records (
		conversation_id, pain_vocabulary, competitor_mentions,
		ai_literacy_zone, path_type, industry_detected, email_captured,
		geo_country, geo_city, geo_region, referrer_url, referrer_source,
		device_type, visitor_segment, total_turns, avg_message_length,
		flagged_suspicious
	) VALUES (
		$1, $2, $3,
		NULLIF($4, 0), NULLIF($5, ''), NULLIF($6, ''), NULLIF($7, ''),
		NULLIF($8, ''), NULLIF($9, ''), NULLIF($10, ''), NULLIF($11, ''), NULLIF($12, ''),
		NULLIF($13, ''), NULLIF($14, ''), $15, $16,
		$17
	)
	ON CONFLICT (conversation_id) DO UPDATE SET
		pain_vocabulary     = %s,
		competitor_mentions = %s,
		ai_literacy_zone    = COALESCE(intelligence_records.ai_literacy_zone, EXCLUDED.ai_literacy_zone),
		path_type           = COALESCE(intelligence_records.path_type, EXCLUDED.path_type),
		industry_detected   = COALESCE(intelligence_records.industry_detected, EXCLUDED.industry_detected),
		email_captured      = COALESCE(intelligence_records.email_captured, EXCLUDED.email_captured),
		geo_country         = COALESCE(intelligence_records.geo_country, EXCLUDED.geo_country),
		geo_city            = COALESCE(intelligence_records.geo_city, EXCLUDED.geo_city),
		geo_region          = COALESCE(intelligence_records.geo_region, EXCLUDED.geo_region),
		referrer_url        = COALESCE(intelligence_records.referrer_url, EXCLUDED.referrer_url),
		referrer_source     = COALESCE(intelligence_records.referrer_source, EXCLUDED.referrer_source),
		device_type         = COALESCE(intelligence_records.device_type, EXCLUDED.device_type),
		visitor_segment     = COALESCE(intelligence_records.visitor_segment, EXCLUDED.visitor_segment),
		total_turns         = GREATEST(intelligence_records.total_turns, EXCLUDED.total_turns),
		avg_message_length  = CASE WHEN EXCLUDED.avg_message_length > 0
		                           THEN EXCLUDED.avg_message_length
		                           ELSE intelligence_records.avg_message_length END,
		updated_at          = now()`,
	arrayUnion("pain_vocabulary", intel.MaxPainVocabulary),
	arrayUnion("competitor_mentions", 0),
)

// MergeIntelligence applies one merge as a single atomic upsert. Merges
// for the same conversation may interleave in any order: set unions never
// drop entries, COALESCE never regresses a scalar to null, and the turn
// counter only moves forward.
func (s *Store) MergeIntelligence(ctx context.Context, m intel.Merge) error {
	pain := m.PainPhrases
	if pain == nil {
		pain = []string{}
	}
	competitors := m.Competitors
	if competitors == nil {
		competitors = []string{}
	}

	_, err := s.pool.Exec(ctx, mergeIntelligenceSQL,
		m.ConversationID, pain, competitors,
		int(m.AILiteracyZone), string(m.PathType), m.Industry, m.Email,
		m.GeoCountry, m.GeoCity, m.GeoRegion, m.ReferrerURL, m.ReferrerSource,
		m.DeviceType, m.VisitorSegment, m.TurnNumber, m.MessageLength,
		m.FlagIfCreated,
	)
	if err != nil {
		return fmt.Errorf("store: merge intelligence for conversation %d: %w", m.ConversationID, err)
	}
	return nil
}

// GetIntelligence returns the record, or nil when none exists.
func (s *Store) GetIntelligence(ctx context.Context, conversationID int64) (*intel.Record, error) {
	var (
		r        intel.Record
		zone     int
		pathType string
		dropout  *int
	)
	err := s.pool.QueryRow(ctx, `
		SELECT conversation_id,
			COALESCE(geo_country, ''), COALESCE(geo_city, ''), COALESCE(geo_region, ''),
			COALESCE(referrer_url, ''), COALESCE(referrer_source, ''),
			COALESCE(device_type, ''), COALESCE(visitor_segment, ''),
			COALESCE(ai_literacy_zone, 0), COALESCE(path_type, ''),
			total_turns, dropout_turn, avg_message_length,
			pain_vocabulary, competitor_mentions,
			COALESCE(industry_detected, ''), outcome, COALESCE(email_captured, ''),
			injection_attempts, flagged_suspicious, cip_processed,
			created_at, updated_at
		FROM intelligence_records
		WHERE conversation_id = $1`, conversationID).Scan(
		&r.ConversationID,
		&r.GeoCountry, &r.GeoCity, &r.GeoRegion,
		&r.ReferrerURL, &r.ReferrerSource,
		&r.DeviceType, &r.VisitorSegment,
		&zone, &pathType,
		&r.TotalTurns, &dropout, &r.AvgMessageLength,
		&r.PainVocabulary, &r.CompetitorMentions,
		&r.IndustryDetected, &r.Outcome, &r.EmailCaptured,
		&r.InjectionAttempts, &r.FlaggedSuspicious, &r.CIPProcessed,
		&r.CreatedAt, &r.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get intelligence: %w", err)
	}

	r.AILiteracyZone = signal.Zone(zone)
	r.PathType = signal.PathType(pathType)
	if dropout != nil {
		r.DropoutTurn = *dropout
	}
	return &r, nil
}

// outcomeRankSQL mirrors intel.Outcome.Supersedes so the gate runs inside
// the UPDATE and racing overrides cannot move the outcome backwards.
const outcomeRankSQL = `CASE %s
	WHEN 'bounced' THEN 1
	WHEN 'email_captured' THEN 2
	WHEN 'escalated' THEN 3
	WHEN 'qualified' THEN 4
	ELSE 0 END`

// overrideOutcomeSQL is an upsert so an outcome write landing before the
// first merge of a fresh conversation still creates the record instead of
// matching zero rows. The rank gate lives in the conflict clause, so racing
// overrides cannot move the outcome backwards.
var overrideOutcomeSQL = fmt.Sprintf(`
	INSERT INTO intelligence_records (conversation_id, outcome)
	VALUES ($1, $2)
	ON CONFLICT (conversation_id) DO UPDATE SET
		outcome      = CASE WHEN %[1]s < %[2]s
		               THEN EXCLUDED.outcome
		               ELSE intelligence_records.outcome END,
		dropout_turn = CASE WHEN %[1]s < %[2]s AND EXCLUDED.outcome = 'bounced'
		               THEN intelligence_records.total_turns
		               ELSE intelligence_records.dropout_turn END,
		updated_at   = now()`,
	"("+fmt.Sprintf(outcomeRankSQL, "intelligence_records.outcome")+")",
	"("+fmt.Sprintf(outcomeRankSQL, "EXCLUDED.outcome")+")",
)

// OverrideOutcome replaces the outcome when the new one supersedes the
// stored one. A bounced outcome also freezes the dropout turn.
func (s *Store) OverrideOutcome(ctx context.Context, conversationID int64, outcome intel.Outcome) error {
	if _, err := s.pool.Exec(ctx, overrideOutcomeSQL, conversationID, string(outcome)); err != nil {
		return fmt.Errorf("store: override outcome: %w", err)
	}
	return nil
}

// The remaining background writes are upserts for the same reason as the
// outcome override: segmentation, injection counting, and CIP marking all
// run on pool goroutines with no ordering against the first merge, and a
// bare UPDATE on an absent record would be a silent no-op.
const (
	setVisitorSegmentSQL = `
		INSERT INTO intelligence_records (conversation_id, visitor_segment)
		VALUES ($1, NULLIF($2, ''))
		ON CONFLICT (conversation_id) DO UPDATE SET
			visitor_segment = COALESCE(intelligence_records.visitor_segment, EXCLUDED.visitor_segment),
			updated_at      = now()`

	recordInjectionSQL = `
		INSERT INTO intelligence_records (conversation_id, injection_attempts, flagged_suspicious)
		VALUES ($1, 1, TRUE)
		ON CONFLICT (conversation_id) DO UPDATE SET
			injection_attempts = intelligence_records.injection_attempts + 1,
			flagged_suspicious = TRUE,
			updated_at         = now()`

	markCIPProcessedSQL = `
		INSERT INTO intelligence_records (conversation_id, cip_processed)
		VALUES ($1, TRUE)
		ON CONFLICT (conversation_id) DO UPDATE SET
			cip_processed = TRUE,
			updated_at    = now()`
)

// SetVisitorSegment writes the computed segment fill-if-absent.
func (s *Store) SetVisitorSegment(ctx context.Context, conversationID int64, segment string) error {
	if _, err := s.pool.Exec(ctx, setVisitorSegmentSQL, conversationID, segment); err != nil {
		return fmt.Errorf("store: set segment: %w", err)
	}
	return nil
}

// RecordInjectionAttempt bumps the monotonic counter and flags the record.
func (s *Store) RecordInjectionAttempt(ctx context.Context, conversationID int64) error {
	if _, err := s.pool.Exec(ctx, recordInjectionSQL, conversationID); err != nil {
		return fmt.Errorf("store: record injection attempt: %w", err)
	}
	return nil
}

// MarkCIPProcessed records that the conversation's outcome has been fed to
// the pattern store.
func (s *Store) MarkCIPProcessed(ctx context.Context, conversationID int64) error {
	if _, err := s.pool.Exec(ctx, markCIPProcessedSQL, conversationID); err != nil {
		return fmt.Errorf("store: mark cip processed: %w", err)
	}
	return nil
}

// PriorSession returns what earlier conversations captured for this email,
// or nil when the visitor is new.
func (s *Store) PriorSession(ctx context.Context, email string) (*enrich.Prior, error) {
	var p enrich.Prior
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(l.company, ''),
			COALESCE(ir.industry_detected, ''),
			COALESCE(ir.visitor_segment, '')
		FROM intelligence_records ir
		LEFT JOIN leads l ON l.conversation_id = ir.conversation_id
		WHERE ir.email_captured = $1
		ORDER BY ir.updated_at DESC
		LIMIT 1`, email).Scan(&p.Company, &p.Industry, &p.Segment)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: prior session: %w", err)
	}
	return &p, nil
}

// Summary is the operator-facing aggregate view.
type Summary struct {
	TotalConversations int64            `json:"total_conversations"`
	TotalLeads         int64            `json:"total_leads"`
	InjectionAttempts  int64            `json:"injection_attempts"`
	FlaggedRecords     int64            `json:"flagged_records"`
	Outcomes           map[string]int64 `json:"outcomes"`
	Industries         map[string]int64 `json:"industries"`
	Segments           map[string]int64 `json:"segments"`
}

// IntelligenceSummary aggregates the record table for the operator
// endpoint.
func (s *Store) IntelligenceSummary(ctx context.Context) (*Summary, error) {
	sum := &Summary{
		Outcomes:   make(map[string]int64),
		Industries: make(map[string]int64),
		Segments:   make(map[string]int64),
	}

	err := s.pool.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM conversations),
			(SELECT COUNT(*) FROM leads),
			COALESCE(SUM(injection_attempts), 0),
			COUNT(*) FILTER (WHERE flagged_suspicious)
		FROM intelligence_records`).Scan(
		&sum.TotalConversations, &sum.TotalLeads,
		&sum.InjectionAttempts, &sum.FlaggedRecords)
	if err != nil {
		return nil, fmt.Errorf("store: summary totals: %w", err)
	}

	if err := s.countBy(ctx, `SELECT outcome, COUNT(*) FROM intelligence_records GROUP BY outcome`, sum.Outcomes); err != nil {
		return nil, err
	}
	if err := s.countBy(ctx, `
		SELECT industry_detected, COUNT(*) FROM intelligence_records
		WHERE industry_detected IS NOT NULL
		GROUP BY industry_detected ORDER BY COUNT(*) DESC LIMIT 10`, sum.Industries); err != nil {
		return nil, err
	}
	if err := s.countBy(ctx, `
		SELECT visitor_segment, COUNT(*) FROM intelligence_records
		WHERE visitor_segment IS NOT NULL
		GROUP BY visitor_segment ORDER BY COUNT(*) DESC LIMIT 10`, sum.Segments); err != nil {
		return nil, err
	}
	return sum, nil
}

func (s *Store) countBy(ctx context.Context, query string, into map[string]int64) error {
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return fmt.Errorf("store: summary group: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var n int64
		if err := rows.Scan(&key, &n); err != nil {
			return fmt.Errorf("store: summary scan: %w", err)
		}
		into[key] = n
	}
	return rows.Err()
}
