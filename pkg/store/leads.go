package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/localos/nuru/pkg/lead"
)

// ClaimLead inserts the lead with notified_at already set, claiming the
// conversation's single notification slot. The conflict target is the
// unique conversation_id, so of any number of racing claims exactly one
// sees a returned row. Only that caller may dispatch the notification.
func (s *Store) ClaimLead(ctx context.Context, p lead.Profile) (bool, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO leads (
			conversation_id, trigger_type, company, industry,
			email, phone, budget, timeline, problem, notified_at
		) VALUES (
			$1, $2, NULLIF($3, ''), NULLIF($4, ''),
			NULLIF($5, ''), NULLIF($6, ''), NULLIF($7, ''), NULLIF($8, ''), NULLIF($9, ''),
			now()
		)
		ON CONFLICT (conversation_id) DO NOTHING
		RETURNING id`,
		p.ConversationID, string(p.Trigger), p.Company, p.Industry,
		p.Email, p.Phone, p.Budget, p.Timeline, p.Problem,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil // already claimed
	}
	if err != nil {
		return false, fmt.Errorf("store: claim lead: %w", err)
	}
	return true, nil
}
