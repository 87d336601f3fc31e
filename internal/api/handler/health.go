package handler

import (
	"context"
	"net/http"

	"github.com/kiranshivaraju/motiontrack/internal/api/response"
)

// Pinger checks connectivity to a dependency.
type Pinger interface {
	Ping(ctx context.Context) error
}

// NewHealth reports database, cache and analysis backend status. Only local
// dependencies make the service degraded; an overloaded backend switches
// media resolution to conservative mode instead.
func NewHealth(db, cache Pinger, backend HealthReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"database": "ok",
			"cache":    "ok",
		}

		if err := db.Ping(r.Context()); err != nil {
			checks["database"] = "degraded"
		}
		if err := cache.Ping(r.Context()); err != nil {
			checks["cache"] = "degraded"
		}

		if checks["database"] != "ok" || checks["cache"] != "ok" {
			response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
				"One or more services degraded", checks)
			return
		}

		state := backend.Current()
		response.JSON(w, map[string]any{
			"status":   "ok",
			"services": checks,
			"backend": map[string]any{
				"overloaded":      state.Overloaded,
				"mode":            state.Mode(),
				"last_check":      state.LastCheck,
				"last_latency_ms": state.LastLatencyMs,
				"last_error":      state.LastError,
			},
		})
	}
}
