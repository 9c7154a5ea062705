// Package enrich resolves optional cross-system context for a
// conversation: the visitor's rough location from their IP, and prior
// sessions they may have had with us. Lookups are fronted by a short-TTL
// cache and bounded by single-digit-second timeouts; absence and failure
// are equivalent from the caller's point of view.
package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/localos/nuru/pkg/cache"
	"github.com/localos/nuru/pkg/httputil"
)

// Geo is the subset of an ip-api style response we keep.
type Geo struct {
	Country string `json:"country"`
	City    string `json:"city"`
	Region  string `json:"regionName"`
}

// GeoResolver looks up IP geolocation against an ip-api compatible
// endpoint, caching results per IP.
type GeoResolver struct {
	endpoint string
	timeout  time.Duration
	cache    cache.Cache
	ttl      time.Duration
	client   *http.Client
	log      *zap.Logger
}

func NewGeoResolver(endpoint string, timeout time.Duration, c cache.Cache, ttl time.Duration, log *zap.Logger) *GeoResolver {
	if log == nil {
		log = zap.NewNop()
	}
	return &GeoResolver{
		endpoint: endpoint,
		timeout:  timeout,
		cache:    c,
		ttl:      ttl,
		client:   httputil.FastClient(),
		log:      log,
	}
}

// Resolve returns the location for ip, or nil when the lookup is
// disabled, the address is private, or the provider fails. Never returns
// an error to the caller: enrichment is optional by contract.
func (g *GeoResolver) Resolve(ctx context.Context, ip string) *Geo {
	if g.endpoint == "" || ip == "" {
		return nil
	}
	parsed := net.ParseIP(ip)
	if parsed == nil || parsed.IsLoopback() || parsed.IsPrivate() {
		return nil
	}

	key := "geo:" + ip
	if g.cache != nil {
		if raw, err := g.cache.Get(ctx, key); err == nil {
			var cached Geo
			if json.Unmarshal(raw, &cached) == nil {
				return &cached
			}
		}
	}

	geo, err := g.fetch(ctx, ip)
	if err != nil {
		g.log.Warn("geo lookup failed", zap.String("ip", ip), zap.Error(err))
		return nil
	}

	if g.cache != nil {
		if raw, err := json.Marshal(geo); err == nil {
			if err := g.cache.Set(ctx, key, raw, g.ttl); err != nil {
				g.log.Warn("geo cache write failed", zap.Error(err))
			}
		}
	}
	return geo
}

func (g *GeoResolver) fetch(ctx context.Context, ip string) (*Geo, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		g.endpoint+"/"+url.PathEscape(ip), nil)
	if err != nil {
		return nil, fmt.Errorf("enrich: geo request: %w", err)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("enrich: geo fetch: %w", err)
	}
	defer httputil.DrainAndClose(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("enrich: geo provider returned %d", resp.StatusCode)
	}

	body, err := httputil.ReadResponseBody(resp.Body, 16*1024)
	if err != nil {
		return nil, fmt.Errorf("enrich: geo body: %w", err)
	}

	var geo Geo
	if err := json.Unmarshal(body, &geo); err != nil {
		return nil, fmt.Errorf("enrich: geo decode: %w", err)
	}
	return &geo, nil
}
