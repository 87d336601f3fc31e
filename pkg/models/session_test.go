package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionPhase(t *testing.T) {
	tests := []struct {
		name       string
		status     string
		processing string
		want       string
	}{
		{"completed both", "completed", "completed", SessionCompleted},
		{"completed no processing status", "completed", "", SessionCompleted},
		{"completed but still analyzing", "completed", "analyzing", SessionProcessing},
		{"failed backend", "failed", "", SessionFailed},
		{"failed processing", "processing", "failed", SessionFailed},
		{"processing", "processing", "", SessionProcessing},
		{"uploaded", "uploaded", "", SessionUploaded},
		{"unknown", "queued", "", SessionPending},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Session{Status: tt.status, ProcessingStatus: tt.processing}
			assert.Equal(t, tt.want, s.Phase())
		})
	}
}

func TestSessionLogicalFilename(t *testing.T) {
	s := Session{OriginalFilename: "orig.mp4"}
	assert.Equal(t, "orig.mp4", s.LogicalFilename())

	s.VideoFilename = "video.mp4"
	assert.Equal(t, "video.mp4", s.LogicalFilename())

	s.ProcessedVideoFilename = "analyzed_video.mp4"
	assert.Equal(t, "analyzed_video.mp4", s.LogicalFilename())
}

func TestSessionMarshal_PassesRawThrough(t *testing.T) {
	raw := json.RawMessage(`{"_id":"s1","status":"completed","motion_iq":91}`)
	var s Session
	require.NoError(t, json.Unmarshal(raw, &s))
	s.Raw = raw

	out, err := json.Marshal(s)
	require.NoError(t, err)
	assert.JSONEq(t, string(raw), string(out))
}

func TestJobClone_IsDeep(t *testing.T) {
	j := &Job{ID: "j1", Result: &JobResult{AnalyticsFile: "a.json"}}
	c := j.Clone()
	c.Result.AnalyticsFile = "changed"
	assert.Equal(t, "a.json", j.Result.AnalyticsFile)
	assert.Nil(t, (*Job)(nil).Clone())
}

func TestJobStatusTerminal(t *testing.T) {
	assert.False(t, JobStatusProcessing.Terminal())
	assert.True(t, JobStatusCompleted.Terminal())
	assert.True(t, JobStatusFailed.Terminal())
}
