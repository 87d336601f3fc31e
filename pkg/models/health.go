package models

import "time"

// HealthState is the last known classification of the analysis backend.
// Snapshots are immutable once published.
type HealthState struct {
	Overloaded    bool      `json:"overloaded"`
	LastCheck     time.Time `json:"last_check"`
	LastLatencyMs int64     `json:"last_latency_ms"`
	LastError     string    `json:"last_error,omitempty"`
}

// Mode names the resolution strategy implied by the state.
func (h HealthState) Mode() string {
	if h.Overloaded {
		return "conservative"
	}
	return "normal"
}
