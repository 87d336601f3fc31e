package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kiranshivaraju/motiontrack/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) RecordJob(ctx context.Context, job *models.Job, event string) error {
	var result []byte
	if job.Result != nil {
		b, err := json.Marshal(job.Result)
		if err != nil {
			return fmt.Errorf("encode job result: %w", err)
		}
		result = b
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin record job: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	_, err = tx.Exec(ctx,
		`INSERT INTO job_events (id, job_id, event, status, retry_count, error)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		uuid.New(), job.ID, event, string(job.Status), job.RetryCount, job.Error)
	if err != nil {
		return fmt.Errorf("insert job event: %w", err)
	}

	switch event {
	case models.JobEventRemoved, models.JobEventReplaced:
		_, err = tx.Exec(ctx, `DELETE FROM jobs WHERE id = $1`, job.ID)
		if err != nil {
			return fmt.Errorf("delete job: %w", err)
		}
	default:
		_, err = tx.Exec(ctx,
			`INSERT INTO jobs (id, video_name, session_id, type, status, progress, start_time, end_time,
			                   error, retry_count, max_retries, result, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW())
			 ON CONFLICT (id) DO UPDATE SET
			   video_name = EXCLUDED.video_name,
			   session_id = EXCLUDED.session_id,
			   type = EXCLUDED.type,
			   status = EXCLUDED.status,
			   progress = EXCLUDED.progress,
			   start_time = EXCLUDED.start_time,
			   end_time = EXCLUDED.end_time,
			   error = EXCLUDED.error,
			   retry_count = EXCLUDED.retry_count,
			   max_retries = EXCLUDED.max_retries,
			   result = EXCLUDED.result,
			   updated_at = NOW()`,
			job.ID, job.VideoName, job.SessionID, string(job.Type), string(job.Status), job.Progress,
			job.StartTime, job.EndTime, job.Error, job.RetryCount, job.MaxRetries, result)
		if err != nil {
			return fmt.Errorf("upsert job: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit record job: %w", err)
	}
	return nil
}

// ListJobs returns every recorded job in start order.
func (s *PostgresStore) ListJobs(ctx context.Context) ([]*models.Job, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, video_name, session_id, type, status, progress, start_time, end_time,
		        error, retry_count, max_retries, result
		 FROM jobs ORDER BY start_time, id`)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		var (
			j      models.Job
			typ    string
			status string
			result []byte
		)
		if err := rows.Scan(&j.ID, &j.VideoName, &j.SessionID, &typ, &status, &j.Progress,
			&j.StartTime, &j.EndTime, &j.Error, &j.RetryCount, &j.MaxRetries, &result); err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		j.Type = models.JobType(typ)
		j.Status = models.JobStatus(status)
		if len(result) > 0 {
			j.Result = &models.JobResult{}
			if err := json.Unmarshal(result, j.Result); err != nil {
				return nil, fmt.Errorf("decode job result %s: %w", j.ID, err)
			}
		}
		jobs = append(jobs, &j)
	}
	return jobs, rows.Err()
}

func (s *PostgresStore) ListJobEvents(ctx context.Context, jobID string) ([]*JobEvent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, job_id, event, status, retry_count, error, created_at
		 FROM job_events WHERE job_id = $1 ORDER BY created_at, id`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list job events: %w", err)
	}
	defer rows.Close()

	var events []*JobEvent
	for rows.Next() {
		var (
			e      JobEvent
			status string
		)
		if err := rows.Scan(&e.ID, &e.JobID, &e.Event, &status, &e.RetryCount, &e.Error, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan job event: %w", err)
		}
		e.Status = models.JobStatus(status)
		events = append(events, &e)
	}
	return events, rows.Err()
}

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)
