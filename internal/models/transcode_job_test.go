package models

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTranscodeJob_Validate(t *testing.T) {
	tests := []struct {
		name    string
		job     TranscodeJob
		wantErr error
	}{
		{"valid", TranscodeJob{JobID: "01J0000000000000000000000A", Status: JobStatusRunning}, nil},
		{"missing job id", TranscodeJob{Status: JobStatusRunning}, ErrJobIDRequired},
		{"blank job id", TranscodeJob{JobID: "  ", Status: JobStatusRunning}, ErrJobIDRequired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.job.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	t.Run("unknown status", func(t *testing.T) {
		job := TranscodeJob{JobID: "x", Status: "paused"}
		err := job.Validate()
		var verr ErrValidation
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "status", verr.Field)
	})
}

func TestTranscodeJob_MarkCompleted(t *testing.T) {
	job := &TranscodeJob{JobID: "x", Status: JobStatusRunning, LastError: "stale"}
	assert.False(t, job.IsFinished())

	job.MarkCompleted(1500*time.Millisecond, "out-peaks.json", []string{"slow disk"})

	assert.True(t, job.IsFinished())
	assert.Equal(t, JobStatusCompleted, job.Status)
	assert.EqualValues(t, 1500, job.DurationMs)
	assert.Equal(t, "out-peaks.json", job.PeaksPath)
	assert.Equal(t, []string{"slow disk"}, job.Warnings)
	assert.Empty(t, job.LastError)
	require.NotNil(t, job.CompletedAt)
}

func TestTranscodeJob_MarkFailed(t *testing.T) {
	job := &TranscodeJob{JobID: "x", Status: JobStatusRunning, PeaksPath: "p.json"}
	long := strings.Repeat("a", maxErrorLength) + "tail"

	job.MarkFailed(time.Second, 1, long)

	assert.True(t, job.IsFinished())
	assert.Equal(t, JobStatusFailed, job.Status)
	assert.Equal(t, 1, job.ExitCode)
	assert.Len(t, job.LastError, maxErrorLength)
	assert.True(t, strings.HasSuffix(job.LastError, "tail"))
	assert.Empty(t, job.PeaksPath)
}
