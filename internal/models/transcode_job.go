package models

import (
	"strings"
	"time"
)

// JobStatus represents the current status of a transcode job.
type JobStatus string

const (
	// JobStatusRunning indicates ffmpeg has been launched.
	JobStatusRunning JobStatus = "running"
	// JobStatusCompleted indicates the job finished and its output was committed.
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed indicates the job failed.
	JobStatusFailed JobStatus = "failed"
)

// Valid reports whether s is a known status.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusRunning, JobStatusCompleted, JobStatusFailed:
		return true
	}
	return false
}

// maxErrorLength bounds LastError so a long ffmpeg log fits the column.
const maxErrorLength = 4096

// TranscodeJob is the history record of one executor run.
type TranscodeJob struct {
	BaseModel

	// JobID is the ID the executor assigned to the run.
	JobID string `gorm:"not null;size:26;uniqueIndex" json:"job_id"`

	Status JobStatus `gorm:"not null;default:'running';size:20;index" json:"status"`

	// Mode is streaming, standard or peaks_only.
	Mode string `gorm:"size:20" json:"mode,omitempty"`

	Command string   `gorm:"size:4096" json:"command,omitempty"`
	Inputs  []string `gorm:"serializer:json" json:"inputs,omitempty"`
	Output  string   `gorm:"size:1024" json:"output,omitempty"`

	StartedAt   *Time `json:"started_at,omitempty"`
	CompletedAt *Time `gorm:"index" json:"completed_at,omitempty"`
	DurationMs  int64 `json:"duration_ms,omitempty"`

	// TimeProcessed is the media time reached, in seconds.
	TimeProcessed float64 `json:"time_processed,omitempty"`

	ExitCode  int      `json:"exit_code"`
	LastError string   `gorm:"size:4096" json:"last_error,omitempty"`
	PeaksPath string   `gorm:"size:1024" json:"peaks_path,omitempty"`
	Warnings  []string `gorm:"serializer:json" json:"warnings,omitempty"`
}

// TableName returns the table name for TranscodeJob.
func (TranscodeJob) TableName() string {
	return "transcode_jobs"
}

// Validate checks required fields.
func (j *TranscodeJob) Validate() error {
	if strings.TrimSpace(j.JobID) == "" {
		return ErrJobIDRequired
	}
	if !j.Status.Valid() {
		return ErrValidation{Field: "status", Message: ErrInvalidJobStatus.Error()}
	}
	return nil
}

// IsFinished reports whether the job completed or failed.
func (j *TranscodeJob) IsFinished() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed
}

// MarkCompleted records a successful finish.
func (j *TranscodeJob) MarkCompleted(duration time.Duration, peaksPath string, warnings []string) {
	j.finish(JobStatusCompleted, duration)
	j.ExitCode = 0
	j.LastError = ""
	j.PeaksPath = peaksPath
	j.Warnings = warnings
}

// MarkFailed records a failed finish.
func (j *TranscodeJob) MarkFailed(duration time.Duration, exitCode int, errMsg string) {
	j.finish(JobStatusFailed, duration)
	j.ExitCode = exitCode
	if len(errMsg) > maxErrorLength {
		errMsg = errMsg[len(errMsg)-maxErrorLength:]
	}
	j.LastError = errMsg
	j.PeaksPath = ""
}

func (j *TranscodeJob) finish(status JobStatus, duration time.Duration) {
	now := Now()
	j.Status = status
	j.CompletedAt = &now
	j.DurationMs = duration.Milliseconds()
}
