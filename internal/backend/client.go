// Package backend is the HTTP client for the external video-analysis service.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kiranshivaraju/motiontrack/pkg/models"
)

// Sentinel errors for backend failures. Overloaded, unreachable and timeout
// are transient; everything else is permanent.
var (
	ErrBackendOverloaded  = errors.New("analysis backend overloaded")
	ErrBackendUnreachable = errors.New("analysis backend unreachable")
	ErrBackendTimeout     = errors.New("analysis backend timeout")
	ErrNotFound           = errors.New("analysis backend resource not found")
	ErrRequestRejected    = errors.New("analysis backend rejected request")
)

// IsRetryable reports whether err is worth another submission attempt.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrBackendOverloaded) ||
		errors.Is(err, ErrBackendUnreachable) ||
		errors.Is(err, ErrBackendTimeout)
}

// Client is the interface for talking to the analysis backend.
type Client interface {
	Submit(ctx context.Context, req SubmitRequest) (*SubmitResponse, error)
	Health(ctx context.Context) error
	ListSessions(ctx context.Context) ([]models.Session, error)
	JobStatus(ctx context.Context, jobID string) (*JobStatus, error)
	FetchJSON(ctx context.Context, rawURL string) (json.RawMessage, error)
}

// SubmitRequest asks the backend to analyze one uploaded video.
type SubmitRequest struct {
	VideoFilename string
	SessionID     string
	Type          models.JobType
}

// SubmitResponse is the backend's acknowledgement of an accepted analysis.
type SubmitResponse struct {
	JobID         string `json:"job_id"`
	Message       string `json:"message"`
	OutputVideo   string `json:"output_video"`
	AnalyticsFile string `json:"analytics_file"`
}

// JobStatus is the per-job status document served by /getJobStatus.
type JobStatus struct {
	Status          string `json:"status"`
	VideoFilename   string `json:"video_filename"`
	Progress        int    `json:"progress"`
	AnalyticsFile   string `json:"analytics_file"`
	OverlayVideo    string `json:"overlay_video"`
	TotalFrames     int    `json:"total_frames"`
	FramesProcessed int    `json:"frames_processed"`
	Error           string `json:"error"`
}

// HTTPClient implements Client over the backend's JSON HTTP API.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

// NewHTTPClient creates a new backend client. timeout bounds every request.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) Submit(ctx context.Context, req SubmitRequest) (*SubmitResponse, error) {
	endpoint := "/analyzeVideo"
	if req.Type == models.JobTypePerFrame {
		endpoint = "/analyzeVideoPerFrame"
	}

	body, err := json.Marshal(map[string]string{
		"video_filename": req.VideoFilename,
		"session_id":     req.SessionID,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding submit request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, statusError(resp)
	}

	var out SubmitResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decoding submit response: %v", ErrRequestRejected, err)
	}
	if out.JobID == "" {
		return nil, fmt.Errorf("%w: response has no job_id", ErrRequestRejected)
	}
	return &out, nil
}

// Health checks /health. A reachable backend that reports a status other
// than healthy or ok is treated as overloaded.
func (c *HTTPClient) Health(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusError(resp)
	}

	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil
	}
	switch body.Status {
	case "", "healthy", "ok":
		return nil
	default:
		return fmt.Errorf("%w: backend reports status %q", ErrBackendOverloaded, body.Status)
	}
}

func (c *HTTPClient) ListSessions(ctx context.Context) ([]models.Session, error) {
	raw, err := c.getJSON(ctx, c.baseURL+"/getSessions")
	if err != nil {
		return nil, err
	}

	var envelope struct {
		Success  bool              `json:"success"`
		Sessions []json.RawMessage `json:"sessions"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("decoding sessions response: %w", err)
	}
	if !envelope.Success {
		return nil, fmt.Errorf("%w: session listing unsuccessful", ErrRequestRejected)
	}

	sessions := make([]models.Session, 0, len(envelope.Sessions))
	for _, rec := range envelope.Sessions {
		var s models.Session
		if err := json.Unmarshal(rec, &s); err != nil || s.ID == "" {
			continue
		}
		s.Raw = rec
		sessions = append(sessions, s)
	}
	return sessions, nil
}

func (c *HTTPClient) JobStatus(ctx context.Context, jobID string) (*JobStatus, error) {
	u := fmt.Sprintf("%s/getJobStatus?%s", c.baseURL, url.Values{"job_id": {jobID}}.Encode())
	raw, err := c.getJSON(ctx, u)
	if err != nil {
		return nil, err
	}

	var st JobStatus
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("decoding job status: %w", err)
	}
	return &st, nil
}

// FetchJSON GETs a JSON document. Relative URLs are resolved against the backend root.
func (c *HTTPClient) FetchJSON(ctx context.Context, rawURL string) (json.RawMessage, error) {
	if strings.HasPrefix(rawURL, "/") {
		rawURL = c.baseURL + rawURL
	}
	raw, err := c.getJSON(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	if !json.Valid(raw) {
		return nil, fmt.Errorf("%w: response is not JSON", ErrRequestRejected)
	}
	return raw, nil
}

func (c *HTTPClient) getJSON(ctx context.Context, u string) (json.RawMessage, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyError(err)
	}
	return raw, nil
}

// statusError maps a non-success response onto the sentinel errors, keeping
// the backend's own error message when it sent one.
func statusError(resp *http.Response) error {
	var sentinel error
	switch resp.StatusCode {
	case http.StatusServiceUnavailable:
		sentinel = ErrBackendOverloaded
	case http.StatusNotFound:
		sentinel = ErrNotFound
	default:
		sentinel = ErrRequestRejected
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &payload) == nil {
		msg := payload.Error
		if msg == "" {
			msg = payload.Message
		}
		if msg != "" {
			return fmt.Errorf("%w: status %d: %s", sentinel, resp.StatusCode, msg)
		}
	}
	return fmt.Errorf("%w: status %d", sentinel, resp.StatusCode)
}

// classifyError maps transport-level errors to sentinel errors.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrBackendTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrBackendTimeout, err)
	}

	return fmt.Errorf("%w: %v", ErrBackendUnreachable, err)
}

// Compile-time check that HTTPClient implements Client.
var _ Client = (*HTTPClient)(nil)
