// Package store persists the job audit trail in Postgres.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/kiranshivaraju/motiontrack/pkg/models"
)

// Store is the data access interface for job history.
type Store interface {
	Ping(ctx context.Context) error
	// RecordJob appends an audit event and updates the job's current row.
	// Removed and replaced events delete the row but keep the history.
	RecordJob(ctx context.Context, job *models.Job, event string) error
	ListJobs(ctx context.Context) ([]*models.Job, error)
	ListJobEvents(ctx context.Context, jobID string) ([]*JobEvent, error)
}

// JobEvent is one entry of a job's audit trail.
type JobEvent struct {
	ID         uuid.UUID        `json:"id"`
	JobID      string           `json:"job_id"`
	Event      string           `json:"event"`
	Status     models.JobStatus `json:"status"`
	RetryCount int              `json:"retry_count"`
	Error      string           `json:"error,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
}
