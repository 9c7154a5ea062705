package store

import (
	"context"
	"fmt"

	"github.com/localos/nuru/pkg/security"
)

// InsertSecurityEvent appends one event row. The table is append-only.
func (s *Store) InsertSecurityEvent(ctx context.Context, ev security.Event) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO security_events (
			conversation_id, event_type, message_content, source_address, details
		) VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''))`,
		ev.ConversationID, string(ev.EventType), ev.MessageContent,
		ev.SourceAddress, ev.Details)
	if err != nil {
		return fmt.Errorf("store: insert security event: %w", err)
	}
	return nil
}
