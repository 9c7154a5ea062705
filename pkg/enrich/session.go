package enrich

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/localos/nuru/pkg/cache"
)

// Prior is what an earlier conversation taught us about a returning
// visitor, keyed by captured email.
type Prior struct {
	Company  string `json:"company"`
	Industry string `json:"industry"`
	Segment  string `json:"segment"`
}

// PriorSource fetches prior-session context from persistent storage.
// A nil result with a nil error means no prior session exists.
type PriorSource interface {
	PriorSession(ctx context.Context, email string) (*Prior, error)
}

// SessionResolver fronts the prior-session lookup with the cache.
type SessionResolver struct {
	source PriorSource
	cache  cache.Cache
	ttl    time.Duration
	log    *zap.Logger
}

func NewSessionResolver(source PriorSource, c cache.Cache, ttl time.Duration, log *zap.Logger) *SessionResolver {
	if log == nil {
		log = zap.NewNop()
	}
	return &SessionResolver{source: source, cache: c, ttl: ttl, log: log}
}

// Resolve returns prior-session context for email, or nil. Failures are
// logged and swallowed.
func (s *SessionResolver) Resolve(ctx context.Context, email string) *Prior {
	if s.source == nil || email == "" {
		return nil
	}

	key := "prior:" + email
	if s.cache != nil {
		if raw, err := s.cache.Get(ctx, key); err == nil {
			var cached Prior
			if json.Unmarshal(raw, &cached) == nil {
				return &cached
			}
		}
	}

	prior, err := s.source.PriorSession(ctx, email)
	if err != nil {
		s.log.Warn("prior-session lookup failed", zap.Error(err))
		return nil
	}
	if prior == nil {
		return nil
	}

	if s.cache != nil {
		if raw, err := json.Marshal(prior); err == nil {
			if err := s.cache.Set(ctx, key, raw, s.ttl); err != nil {
				s.log.Warn("prior-session cache write failed", zap.Error(err))
			}
		}
	}
	return prior
}
