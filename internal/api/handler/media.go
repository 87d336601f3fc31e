package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kiranshivaraju/motiontrack/internal/api/response"
	"github.com/kiranshivaraju/motiontrack/internal/backend"
	"github.com/kiranshivaraju/motiontrack/internal/media"
	"github.com/kiranshivaraju/motiontrack/pkg/models"
)

// MediaService resolves media for a session.
type MediaService interface {
	ResolveVideoURL(ctx context.Context, s *models.Session) string
	ResolveAnalyticsURL(ctx context.Context, s *models.Session) string
	Analytics(ctx context.Context, s *models.Session) (json.RawMessage, error)
}

// SessionSource looks up known sessions.
type SessionSource interface {
	Get(id string) (models.Session, bool)
	List() []models.Session
}

// SessionSyncer refreshes the session source from the backend.
type SessionSyncer interface {
	Sync(ctx context.Context) error
}

// HealthReader exposes the current backend health snapshot.
type HealthReader interface {
	Current() models.HealthState
}

// Media serves the per-session media endpoints.
type Media struct {
	media    MediaService
	sessions SessionSource
	syncer   SessionSyncer
	health   HealthReader
}

// NewMedia builds the media handlers. syncer may be nil.
func NewMedia(m MediaService, sessions SessionSource, syncer SessionSyncer, health HealthReader) *Media {
	return &Media{media: m, sessions: sessions, syncer: syncer, health: health}
}

type mediaResponse struct {
	SessionID    string `json:"session_id"`
	VideoURL     string `json:"video_url"`
	AnalyticsURL string `json:"analytics_url,omitempty"`
	Mode         string `json:"mode"`
}

// List handles GET /api/v1/sessions. Sessions are returned newest first as
// the backend reported them.
func (h *Media) List(w http.ResponseWriter, r *http.Request) {
	sessions := h.sessions.List()
	if sessions == nil {
		sessions = []models.Session{}
	}
	response.JSON(w, sessions)
}

// Resolve handles GET /api/v1/sessions/{sessionID}/media.
func (h *Media) Resolve(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(r)
	if !ok {
		response.Error(w, http.StatusNotFound, "SESSION_NOT_FOUND", "Session not found", nil)
		return
	}

	response.JSON(w, mediaResponse{
		SessionID:    s.ID,
		VideoURL:     h.media.ResolveVideoURL(r.Context(), &s),
		AnalyticsURL: h.media.ResolveAnalyticsURL(r.Context(), &s),
		Mode:         h.health.Current().Mode(),
	})
}

// Analytics handles GET /api/v1/sessions/{sessionID}/analytics.
func (h *Media) Analytics(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(r)
	if !ok {
		response.Error(w, http.StatusNotFound, "SESSION_NOT_FOUND", "Session not found", nil)
		return
	}

	payload, err := h.media.Analytics(r.Context(), &s)
	switch {
	case err == nil:
		response.Raw(w, payload)
	case errors.Is(err, media.ErrNoAnalytics), errors.Is(err, backend.ErrNotFound):
		response.Error(w, http.StatusNotFound, "ANALYTICS_NOT_FOUND", "No analytics available for this session", nil)
	case backend.IsRetryable(err):
		response.Error(w, http.StatusBadGateway, "BACKEND_UNAVAILABLE", "Analytics could not be fetched from the analysis server", nil)
	default:
		slog.Warn("analytics fetch failed", "session_id", s.ID, "error", err)
		response.Error(w, http.StatusBadGateway, "BACKEND_ERROR", "The analysis server returned an unusable response", nil)
	}
}

// lookup finds the session, refreshing from the backend once on a miss.
func (h *Media) lookup(r *http.Request) (models.Session, bool) {
	id := chi.URLParam(r, "sessionID")
	if s, ok := h.sessions.Get(id); ok {
		return s, true
	}
	if h.syncer == nil {
		return models.Session{}, false
	}
	if err := h.syncer.Sync(r.Context()); err != nil {
		slog.Warn("session refresh failed", "session_id", id, "error", err)
		return models.Session{}, false
	}
	return h.sessions.Get(id)
}
