// Package store is the Postgres persistence layer: conversations, turns,
// intelligence records, leads, conversation patterns, and security events.
// The intelligence and pattern tables carry the only concurrent
// multi-conversation writers, so their write paths are single atomic
// upserts with set-union and COALESCE expressions rather than
// read-modify-write round trips.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Store wraps a bounded pgx connection pool. Connections check out per
// statement and return promptly.
type Store struct {
	pool *pgxpool.Pool
	log  *zap.Logger
}

// New connects to databaseURL and verifies the connection.
func New(ctx context.Context, databaseURL string, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}

	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("store: parse database url: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("store: connect: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}

	return &Store{pool: pool, log: log}, nil
}

// Close releases the pool. Safe to call once at shutdown.
func (s *Store) Close() {
	s.pool.Close()
}
