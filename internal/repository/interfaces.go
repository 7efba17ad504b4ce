// Package repository defines data access for ffpeaks records. All database
// access goes through these interfaces.
package repository

import (
	"context"
	"time"

	"github.com/jmylchreest/ffpeaks/internal/models"
)

// JobFilter narrows a job listing.
type JobFilter struct {
	Status *models.JobStatus
	Mode   string
	Offset int
	Limit  int
}

// TranscodeJobRepository defines operations for transcode job history.
type TranscodeJobRepository interface {
	// Create creates a new job record.
	Create(ctx context.Context, job *models.TranscodeJob) error
	// GetByID retrieves a record by its row ID. Returns nil when absent.
	GetByID(ctx context.Context, id models.ULID) (*models.TranscodeJob, error)
	// GetByJobID retrieves a record by executor job ID. Returns nil when absent.
	GetByJobID(ctx context.Context, jobID string) (*models.TranscodeJob, error)
	// List returns a page of records, newest first, and the total match count.
	List(ctx context.Context, filter JobFilter) ([]*models.TranscodeJob, int64, error)
	// Update saves every field of an existing record.
	Update(ctx context.Context, job *models.TranscodeJob) error
	// UpdateProgress records the media time reached by a running job.
	UpdateProgress(ctx context.Context, jobID string, timeProcessed float64) error
	// DeleteFinished deletes completed and failed records finished before the cutoff.
	DeleteFinished(ctx context.Context, before time.Time) (int64, error)
}
