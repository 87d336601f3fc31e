// Package models contains the data types shared across the motiontrack codebase.
package models

import "time"

// JobType distinguishes the two analysis endpoints of the backend.
type JobType string

const (
	JobTypeAnalysis JobType = "analysis"
	JobTypePerFrame JobType = "per_frame"
)

// JobStatus is the lifecycle state of a tracked job.
type JobStatus string

const (
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// DefaultMaxRetries bounds both automatic submission retries and manual job retries.
const DefaultMaxRetries = 3

// Terminal reports whether no further transition is possible without an explicit retry.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Job tracks one analysis request accepted by the backend. The ID is assigned by
// the backend; SessionID links the job to the session record the poller watches.
type Job struct {
	ID         string     `json:"id"`
	VideoName  string     `json:"video_name"`
	SessionID  string     `json:"session_id,omitempty"`
	Type       JobType    `json:"type"`
	Status     JobStatus  `json:"status"`
	Progress   int        `json:"progress"` // advisory; the backend may report 0 until completion
	StartTime  time.Time  `json:"start_time"`
	EndTime    *time.Time `json:"end_time,omitempty"`
	Error      string     `json:"error,omitempty"`
	RetryCount int        `json:"retry_count"`
	MaxRetries int        `json:"max_retries"`
	Result     *JobResult `json:"result,omitempty"`
}

// JobResult holds the artifacts reported for a completed job.
type JobResult struct {
	AnalyticsFile          string `json:"analytics_file,omitempty"`
	OverlayVideo           string `json:"overlay_video,omitempty"`
	ProcessedVideoFilename string `json:"processed_video_filename,omitempty"`
	ProcessedVideoURL      string `json:"processed_video_url,omitempty"`
	TotalFrames            int    `json:"total_frames,omitempty"`
	FramesProcessed        int    `json:"frames_processed,omitempty"`
}

// Clone returns a deep copy so callers never share mutable state with the tracker.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	if j.EndTime != nil {
		t := *j.EndTime
		c.EndTime = &t
	}
	if j.Result != nil {
		r := *j.Result
		c.Result = &r
	}
	return &c
}

// Job audit events. Removed and replaced mark the end of a job ID's life.
const (
	JobEventSubmitted   = "submitted"
	JobEventCompleted   = "completed"
	JobEventFailed      = "failed"
	JobEventRetrying    = "retrying"
	JobEventResubmitted = "resubmitted"
	JobEventReplaced    = "replaced"
	JobEventRemoved     = "removed"
)
