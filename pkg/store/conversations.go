package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/localos/nuru/pkg/llm"
)

// EnsureConversation returns the conversation id for sessionID, creating
// the row when this is the session's first turn. created reports whether
// this call created it.
func (s *Store) EnsureConversation(ctx context.Context, sessionID string) (id int64, created bool, err error) {
	err = s.pool.QueryRow(ctx, `
		INSERT INTO conversations (session_id) VALUES ($1)
		ON CONFLICT (session_id) DO NOTHING
		RETURNING id`, sessionID).Scan(&id)
	if err == nil {
		return id, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, false, fmt.Errorf("store: create conversation: %w", err)
	}

	err = s.pool.QueryRow(ctx, `
		SELECT id FROM conversations WHERE session_id = $1`, sessionID).Scan(&id)
	if err != nil {
		return 0, false, fmt.Errorf("store: lookup conversation: %w", err)
	}
	return id, false, nil
}

// FindConversation returns the conversation id for sessionID, or 0 when
// the session has never been seen.
func (s *Store) FindConversation(ctx context.Context, sessionID string) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		SELECT id FROM conversations WHERE session_id = $1`, sessionID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("store: find conversation: %w", err)
	}
	return id, nil
}

// SaveMessage appends one turn. Per-conversation ordering comes from the
// serial id, assigned in insert order.
func (s *Store) SaveMessage(ctx context.Context, conversationID int64, role, content string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO messages (conversation_id, role, content)
		VALUES ($1, $2, $3)`, conversationID, role, content)
	if err != nil {
		return fmt.Errorf("store: save message: %w", err)
	}
	return nil
}

// History returns the last limit turns in chronological order.
func (s *Store) History(ctx context.Context, conversationID int64, limit int) ([]llm.Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT role, content FROM (
			SELECT id, role, content FROM messages
			WHERE conversation_id = $1
			ORDER BY id DESC
			LIMIT $2
		) recent ORDER BY id ASC`, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("store: history: %w", err)
	}
	defer rows.Close()

	var history []llm.Message
	for rows.Next() {
		var m llm.Message
		if err := rows.Scan(&m.Role, &m.Content); err != nil {
			return nil, fmt.Errorf("store: history scan: %w", err)
		}
		history = append(history, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: history rows: %w", err)
	}
	return history, nil
}

// UserTurnCount reports how many user turns the conversation has,
// including any just persisted.
func (s *Store) UserTurnCount(ctx context.Context, conversationID int64) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM messages
		WHERE conversation_id = $1 AND role = 'user'`, conversationID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("store: turn count: %w", err)
	}
	return n, nil
}
