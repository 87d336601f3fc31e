package models

import (
	"encoding/json"
	"time"
)

// Session phases derived from the backend's status and processing_status pair.
const (
	SessionUploaded   = "uploaded"
	SessionProcessing = "processing"
	SessionCompleted  = "completed"
	SessionFailed     = "failed"
	SessionPending    = "pending"
)

// Session is a backend session record describing one uploaded video. It is
// owned by the backend; the service only reads it. Raw keeps the original
// record so fields this type does not model are passed through untouched.
type Session struct {
	ID                     string          `json:"_id"`
	Status                 string          `json:"status"`
	ProcessingStatus       string          `json:"processing_status,omitempty"`
	OriginalFilename       string          `json:"original_filename,omitempty"`
	VideoFilename          string          `json:"video_filename,omitempty"`
	VideoURL               string          `json:"video_url,omitempty"`
	ProcessedVideoFilename string          `json:"processed_video_filename,omitempty"`
	ProcessedVideoURL      string          `json:"processed_video_url,omitempty"`
	AnalyticsFilename      string          `json:"analytics_filename,omitempty"`
	AnalyticsURL           string          `json:"analytics_url,omitempty"`
	GridFSVideoID          string          `json:"gridfs_video_id,omitempty"`
	GridFSAnalyticsID      string          `json:"gridfs_analytics_id,omitempty"`
	Error                  string          `json:"error,omitempty"`
	Meta                   *StreamMeta     `json:"meta,omitempty"`
	CreatedAt              *time.Time      `json:"created_at,omitempty"`
	Raw                    json.RawMessage `json:"-"`
}

// StreamMeta describes externally hosted stream copies of the session video.
type StreamMeta struct {
	StreamID         string `json:"cloudflare_stream_id,omitempty"`
	StreamURL        string `json:"stream_url,omitempty"`
	AnalyzedStreamID string `json:"analyzed_cloudflare_stream_id,omitempty"`
	AnalyzedURL      string `json:"analyzed_stream_url,omitempty"`
	UploadSource     string `json:"upload_source,omitempty"`
	ReadyToStream    bool   `json:"ready_to_stream,omitempty"`
	Thumbnail        string `json:"thumbnail,omitempty"`
}

// Phase collapses status and processing_status into a single phase.
func (s *Session) Phase() string {
	switch {
	case s.Status == SessionFailed || s.ProcessingStatus == SessionFailed:
		return SessionFailed
	case s.Status == SessionCompleted && (s.ProcessingStatus == "" || s.ProcessingStatus == SessionCompleted):
		return SessionCompleted
	case s.Status == SessionProcessing || s.ProcessingStatus == "analyzing":
		return SessionProcessing
	case s.Status == SessionUploaded && (s.ProcessingStatus == "" || s.ProcessingStatus == SessionUploaded):
		return SessionUploaded
	default:
		return SessionPending
	}
}

// Terminal reports whether the backend finished with this session.
func (s *Session) Terminal() bool {
	p := s.Phase()
	return p == SessionCompleted || p == SessionFailed
}

// LogicalFilename is the most specific filename known for the session.
func (s *Session) LogicalFilename() string {
	switch {
	case s.ProcessedVideoFilename != "":
		return s.ProcessedVideoFilename
	case s.VideoFilename != "":
		return s.VideoFilename
	default:
		return s.OriginalFilename
	}
}

// MarshalJSON emits the raw backend record when one is present.
func (s Session) MarshalJSON() ([]byte, error) {
	if len(s.Raw) > 0 {
		return s.Raw, nil
	}
	type plain Session
	return json.Marshal(plain(s))
}
