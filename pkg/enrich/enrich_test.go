package enrich

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/localos/nuru/pkg/cache"
)

func TestGeoResolveCachesByIP(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		json.NewEncoder(w).Encode(Geo{Country: "Kenya", City: "Nairobi", Region: "Nairobi County"})
	}))
	defer srv.Close()

	g := NewGeoResolver(srv.URL, time.Second, cache.NewMemory(time.Minute), 10*time.Minute, nil)
	ctx := context.Background()

	first := g.Resolve(ctx, "41.90.1.1")
	require.NotNil(t, first)
	require.Equal(t, "Kenya", first.Country)

	second := g.Resolve(ctx, "41.90.1.1")
	require.NotNil(t, second)
	require.Equal(t, "Nairobi", second.City)
	require.Equal(t, int64(1), hits.Load(), "second lookup served from cache")
}

func TestGeoResolveSkipsPrivateAndInvalid(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("provider must not be called")
	}))
	defer srv.Close()

	g := NewGeoResolver(srv.URL, time.Second, nil, time.Minute, nil)
	ctx := context.Background()

	require.Nil(t, g.Resolve(ctx, ""))
	require.Nil(t, g.Resolve(ctx, "not-an-ip"))
	require.Nil(t, g.Resolve(ctx, "127.0.0.1"))
	require.Nil(t, g.Resolve(ctx, "192.168.1.10"))
}

func TestGeoResolveSwallowsProviderFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	g := NewGeoResolver(srv.URL, time.Second, nil, time.Minute, nil)
	require.Nil(t, g.Resolve(context.Background(), "41.90.1.1"))
}

func TestGeoResolveDisabledWithoutEndpoint(t *testing.T) {
	g := NewGeoResolver("", time.Second, nil, time.Minute, nil)
	require.Nil(t, g.Resolve(context.Background(), "41.90.1.1"))
}

type fakePriorSource struct {
	prior *Prior
	err   error
	calls int
}

func (f *fakePriorSource) PriorSession(context.Context, string) (*Prior, error) {
	f.calls++
	return f.prior, f.err
}

func TestSessionResolveCachesHit(t *testing.T) {
	src := &fakePriorSource{prior: &Prior{Company: "Acme Freight", Industry: "Logistics"}}
	s := NewSessionResolver(src, cache.NewMemory(time.Minute), 10*time.Minute, nil)
	ctx := context.Background()

	first := s.Resolve(ctx, "jane@acme.co")
	require.NotNil(t, first)
	require.Equal(t, "Acme Freight", first.Company)

	second := s.Resolve(ctx, "jane@acme.co")
	require.NotNil(t, second)
	require.Equal(t, 1, src.calls, "store queried once")
}

func TestSessionResolveMissAndFailure(t *testing.T) {
	ctx := context.Background()

	s := NewSessionResolver(&fakePriorSource{}, nil, time.Minute, nil)
	require.Nil(t, s.Resolve(ctx, "nobody@acme.co"))

	s = NewSessionResolver(&fakePriorSource{err: errors.New("db down")}, nil, time.Minute, nil)
	require.Nil(t, s.Resolve(ctx, "jane@acme.co"))

	require.Nil(t, s.Resolve(ctx, ""), "empty email short-circuits")
}
