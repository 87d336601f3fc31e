package backend

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kiranshivaraju/motiontrack/pkg/models"
)

// --- helpers ---

func backendServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	return ts
}

func newTestClient(t *testing.T, baseURL string) *HTTPClient {
	t.Helper()
	return NewHTTPClient(baseURL, 5*time.Second)
}

// --- Submit tests ---

func TestSubmit_Analysis(t *testing.T) {
	ts := backendServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/analyzeVideo" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method: %s", r.Method)
		}
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decoding body: %v", err)
		}
		if body["video_filename"] != "jump.mp4" || body["session_id"] != "s1" {
			t.Errorf("unexpected body: %v", body)
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"job_id":"job-1","message":"started"}`)
	})

	c := newTestClient(t, ts.URL)
	resp, err := c.Submit(context.Background(), SubmitRequest{
		VideoFilename: "jump.mp4",
		SessionID:     "s1",
		Type:          models.JobTypeAnalysis,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.JobID != "job-1" {
		t.Errorf("expected job-1, got %q", resp.JobID)
	}
}

func TestSubmit_PerFrameEndpoint(t *testing.T) {
	var gotPath string
	ts := backendServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		io.WriteString(w, `{"job_id":"pf-1"}`)
	})

	c := newTestClient(t, ts.URL)
	if _, err := c.Submit(context.Background(), SubmitRequest{VideoFilename: "a.mp4", Type: models.JobTypePerFrame}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotPath != "/analyzeVideoPerFrame" {
		t.Errorf("expected per-frame endpoint, got %s", gotPath)
	}
}

func TestSubmit_StatusClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		want      error
		retryable bool
	}{
		{"overloaded", http.StatusServiceUnavailable, `{"error":"busy"}`, ErrBackendOverloaded, true},
		{"not found", http.StatusNotFound, `{"error":"Video not found"}`, ErrNotFound, false},
		{"bad request", http.StatusBadRequest, `{"error":"invalid filename"}`, ErrRequestRejected, false},
		{"server error", http.StatusInternalServerError, `oops`, ErrRequestRejected, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := backendServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			})

			c := newTestClient(t, ts.URL)
			_, err := c.Submit(context.Background(), SubmitRequest{VideoFilename: "a.mp4"})
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if IsRetryable(err) != tt.retryable {
				t.Errorf("IsRetryable = %v, want %v", IsRetryable(err), tt.retryable)
			}
		})
	}
}

func TestSubmit_ErrorBodyFoldedIntoMessage(t *testing.T) {
	ts := backendServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		io.WriteString(w, `{"error":"Video not found in storage"}`)
	})

	c := newTestClient(t, ts.URL)
	_, err := c.Submit(context.Background(), SubmitRequest{VideoFilename: "missing.mp4"})
	if err == nil || !strings.Contains(err.Error(), "Video not found in storage") {
		t.Fatalf("expected backend message in error, got %v", err)
	}
}

func TestSubmit_MissingJobID(t *testing.T) {
	ts := backendServer(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"message":"ok"}`)
	})

	c := newTestClient(t, ts.URL)
	_, err := c.Submit(context.Background(), SubmitRequest{VideoFilename: "a.mp4"})
	if !errors.Is(err, ErrRequestRejected) {
		t.Fatalf("expected ErrRequestRejected, got %v", err)
	}
}

func TestSubmit_Timeout(t *testing.T) {
	ts := backendServer(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		io.WriteString(w, `{"job_id":"late"}`)
	})

	c := NewHTTPClient(ts.URL, 20*time.Millisecond)
	_, err := c.Submit(context.Background(), SubmitRequest{VideoFilename: "a.mp4"})
	if !errors.Is(err, ErrBackendTimeout) {
		t.Fatalf("expected ErrBackendTimeout, got %v", err)
	}
	if !IsRetryable(err) {
		t.Error("timeouts should be retryable")
	}
}

func TestSubmit_Unreachable(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := ts.URL
	ts.Close()

	c := newTestClient(t, url)
	_, err := c.Submit(context.Background(), SubmitRequest{VideoFilename: "a.mp4"})
	if !errors.Is(err, ErrBackendUnreachable) {
		t.Fatalf("expected ErrBackendUnreachable, got %v", err)
	}
	if !IsRetryable(err) {
		t.Error("network failures should be retryable")
	}
}

// --- Health tests ---

func TestHealth(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{"healthy", http.StatusOK, `{"status":"healthy"}`, nil},
		{"ok", http.StatusOK, `{"status":"ok"}`, nil},
		{"no body", http.StatusOK, ``, nil},
		{"degraded", http.StatusOK, `{"status":"degraded"}`, ErrBackendOverloaded},
		{"503", http.StatusServiceUnavailable, ``, ErrBackendOverloaded},
		{"500", http.StatusInternalServerError, ``, ErrRequestRejected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := backendServer(t, func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/health" {
					t.Errorf("unexpected path: %s", r.URL.Path)
				}
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			})

			err := newTestClient(t, ts.URL).Health(context.Background())
			if tt.wantErr == nil && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

// --- ListSessions tests ---

func TestListSessions_KeepsRawRecords(t *testing.T) {
	ts := backendServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/getSessions" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		io.WriteString(w, `{"success":true,"sessions":[
			{"_id":"s1","status":"completed","video_filename":"a.mp4","athlete":"kim"},
			{"status":"orphan"},
			{"_id":"s2","status":"processing","processing_status":"analyzing"}
		]}`)
	})

	sessions, err := newTestClient(t, ts.URL).ListSessions(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(sessions))
	}
	if sessions[0].ID != "s1" || sessions[0].VideoFilename != "a.mp4" {
		t.Errorf("unexpected first session: %+v", sessions[0])
	}
	if !strings.Contains(string(sessions[0].Raw), `"athlete":"kim"`) {
		t.Errorf("raw record lost unknown fields: %s", sessions[0].Raw)
	}
	if sessions[1].Phase() != models.SessionProcessing {
		t.Errorf("expected processing phase, got %s", sessions[1].Phase())
	}
}

func TestListSessions_Unsuccessful(t *testing.T) {
	ts := backendServer(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"success":false}`)
	})

	_, err := newTestClient(t, ts.URL).ListSessions(context.Background())
	if !errors.Is(err, ErrRequestRejected) {
		t.Fatalf("expected ErrRequestRejected, got %v", err)
	}
}

// --- JobStatus / FetchJSON tests ---

func TestJobStatus(t *testing.T) {
	ts := backendServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/getJobStatus" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.URL.Query().Get("job_id") != "pf-1" {
			t.Errorf("unexpected job_id: %s", r.URL.Query().Get("job_id"))
		}
		io.WriteString(w, `{"status":"processing","progress":40,"frames_processed":120,"total_frames":300}`)
	})

	st, err := newTestClient(t, ts.URL).JobStatus(context.Background(), "pf-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st.Status != "processing" || st.Progress != 40 || st.TotalFrames != 300 {
		t.Errorf("unexpected status: %+v", st)
	}
}

func TestFetchJSON_RelativeURL(t *testing.T) {
	ts := backendServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/getAnalytics/abc" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		io.WriteString(w, `{"frames":[1,2,3]}`)
	})

	raw, err := newTestClient(t, ts.URL).FetchJSON(context.Background(), "/getAnalytics/abc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(raw) != `{"frames":[1,2,3]}` {
		t.Errorf("unexpected payload: %s", raw)
	}
}

func TestFetchJSON_NotJSON(t *testing.T) {
	ts := backendServer(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `<html>nope</html>`)
	})

	_, err := newTestClient(t, ts.URL).FetchJSON(context.Background(), ts.URL+"/x")
	if !errors.Is(err, ErrRequestRejected) {
		t.Fatalf("expected ErrRequestRejected, got %v", err)
	}
}

func TestNewHTTPClient_TrimsTrailingSlash(t *testing.T) {
	c := NewHTTPClient("http://backend:5000/", time.Second)
	if c.baseURL != "http://backend:5000" {
		t.Errorf("unexpected base url: %s", c.baseURL)
	}
}
