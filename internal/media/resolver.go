// Package media picks the playable video URL and the analytics source for a
// session, adapting the choice to backend health and caching the result.
package media

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/kiranshivaraju/motiontrack/internal/cache"
	"github.com/kiranshivaraju/motiontrack/internal/metrics"
	"github.com/kiranshivaraju/motiontrack/pkg/models"
)

// ErrNoAnalytics is returned when a session carries nothing analytics can be located by.
var ErrNoAnalytics = errors.New("no analytics source for session")

// HealthSource exposes the latest backend health snapshot.
type HealthSource interface {
	Current() models.HealthState
}

// Fetcher retrieves analytics documents from the backend.
type Fetcher interface {
	FetchJSON(ctx context.Context, rawURL string) (json.RawMessage, error)
}

type Options struct {
	BackendURL           string
	StreamCustomerDomain string
	FallbackVideoURL     string
}

// Resolver resolves media for sessions. It never checks candidate URLs; the
// only network call it makes is fetching an analytics payload on a cache miss.
type Resolver struct {
	health      HealthSource
	fetcher     Fetcher
	urls        *cache.Tiered[string]
	payloads    *cache.Tiered[json.RawMessage]
	opts        Options
	backendHost string
	log         *slog.Logger
}

func NewResolver(health HealthSource, fetcher Fetcher, urls *cache.Tiered[string], payloads *cache.Tiered[json.RawMessage], opts Options) *Resolver {
	opts.BackendURL = strings.TrimSuffix(opts.BackendURL, "/")
	var host string
	if u, err := url.Parse(opts.BackendURL); err == nil {
		host = u.Host
	}
	return &Resolver{
		health:      health,
		fetcher:     fetcher,
		urls:        urls,
		payloads:    payloads,
		opts:        opts,
		backendHost: host,
		log:         slog.Default().With("component", "media"),
	}
}

// ResolveVideoURL returns the best playable URL for the session. It always
// returns something; the configured fallback when nothing better applies.
func (r *Resolver) ResolveVideoURL(ctx context.Context, s *models.Session) string {
	key := cache.VideoURLKey(s.ID, cache.Fingerprint(s), s.LogicalFilename())
	return r.resolve(ctx, "video", key, videoCandidates, s)
}

// ResolveAnalyticsURL returns the URL the session's analytics can be fetched
// from, or "" when none can be derived.
func (r *Resolver) ResolveAnalyticsURL(ctx context.Context, s *models.Session) string {
	key := cache.AnalyticsURLKey(s.ID, cache.Fingerprint(s), s.LogicalFilename())
	return r.resolve(ctx, "analytics", key, analyticsCandidates, s)
}

func (r *Resolver) resolve(ctx context.Context, kind, key string, list []candidate, s *models.Session) string {
	if v, ok := r.urls.Get(key); ok {
		metrics.MediaResolutionsTotal.WithLabelValues(kind, "cache").Inc()
		return v
	}

	overloaded := r.health.Current().Overloaded
	v, name := r.pick(list, s, overloaded)
	metrics.MediaResolutionsTotal.WithLabelValues(kind, name).Inc()
	r.log.Debug("resolved media",
		"kind", kind,
		"session_id", s.ID,
		"candidate", name,
		"overloaded", overloaded,
	)

	if v == "" {
		return v
	}
	if err := r.urls.Set(ctx, key, v); err != nil {
		r.log.Warn("caching resolved url failed", "kind", kind, "session_id", s.ID, "error", err)
	}
	return v
}

// Analytics returns the session's analytics payload, fetching and caching it on a miss.
func (r *Resolver) Analytics(ctx context.Context, s *models.Session) (json.RawMessage, error) {
	key := cache.AnalyticsPayloadKey(s.ID, cache.Fingerprint(s), s.LogicalFilename())
	if v, ok := r.payloads.Get(key); ok {
		return v, nil
	}

	src := r.ResolveAnalyticsURL(ctx, s)
	if src == "" {
		return nil, ErrNoAnalytics
	}

	payload, err := r.fetcher.FetchJSON(ctx, src)
	if err != nil {
		return nil, fmt.Errorf("fetching analytics for session %s: %w", s.ID, err)
	}
	if err := r.payloads.Set(ctx, key, payload); err != nil {
		r.log.Warn("caching analytics payload failed", "session_id", s.ID, "error", err)
	}
	return payload, nil
}

// Warm resolves and caches a session's media after it changed. Completed
// sessions also get their analytics prefetched while the backend is healthy.
func (r *Resolver) Warm(ctx context.Context, s *models.Session) {
	r.ResolveVideoURL(ctx, s)
	r.ResolveAnalyticsURL(ctx, s)

	if s.Phase() != models.SessionCompleted || r.health.Current().Overloaded {
		return
	}
	if _, err := r.Analytics(ctx, s); err != nil && !errors.Is(err, ErrNoAnalytics) {
		r.log.Info("analytics prefetch failed", "session_id", s.ID, "error", err)
	}
}
