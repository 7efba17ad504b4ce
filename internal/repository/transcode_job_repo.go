package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/jmylchreest/ffpeaks/internal/models"
)

// DefaultPageSize is used when a listing does not set a limit.
const DefaultPageSize = 50

// transcodeJobRepo implements TranscodeJobRepository using GORM.
type transcodeJobRepo struct {
	db *gorm.DB
}

// NewTranscodeJobRepository creates a new TranscodeJobRepository.
func NewTranscodeJobRepository(db *gorm.DB) *transcodeJobRepo {
	return &transcodeJobRepo{db: db}
}

// Create creates a new job record.
func (r *transcodeJobRepo) Create(ctx context.Context, job *models.TranscodeJob) error {
	if err := job.Validate(); err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Create(job).Error; err != nil {
		return fmt.Errorf("creating transcode job: %w", err)
	}
	return nil
}

// GetByID retrieves a record by row ID.
func (r *transcodeJobRepo) GetByID(ctx context.Context, id models.ULID) (*models.TranscodeJob, error) {
	return r.first(ctx, "id = ?", id)
}

// GetByJobID retrieves a record by executor job ID.
func (r *transcodeJobRepo) GetByJobID(ctx context.Context, jobID string) (*models.TranscodeJob, error) {
	return r.first(ctx, "job_id = ?", jobID)
}

func (r *transcodeJobRepo) first(ctx context.Context, query string, arg any) (*models.TranscodeJob, error) {
	var job models.TranscodeJob
	if err := r.db.WithContext(ctx).Where(query, arg).First(&job).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting transcode job: %w", err)
	}
	return &job, nil
}

// List returns a page of records, newest first.
func (r *transcodeJobRepo) List(ctx context.Context, filter JobFilter) ([]*models.TranscodeJob, int64, error) {
	var jobs []*models.TranscodeJob
	var total int64

	query := r.db.WithContext(ctx).Model(&models.TranscodeJob{})
	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}
	if filter.Mode != "" {
		query = query.Where("mode = ?", filter.Mode)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("counting transcode jobs: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultPageSize
	}
	// ULIDs sort by creation time.
	if err := query.Order("id DESC").Offset(filter.Offset).Limit(limit).Find(&jobs).Error; err != nil {
		return nil, 0, fmt.Errorf("listing transcode jobs: %w", err)
	}
	return jobs, total, nil
}

// Update saves every field of an existing record.
func (r *transcodeJobRepo) Update(ctx context.Context, job *models.TranscodeJob) error {
	if err := job.Validate(); err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Save(job).Error; err != nil {
		return fmt.Errorf("updating transcode job: %w", err)
	}
	return nil
}

// UpdateProgress records the media time reached by a running job. Finished
// records are left untouched.
func (r *transcodeJobRepo) UpdateProgress(ctx context.Context, jobID string, timeProcessed float64) error {
	err := r.db.WithContext(ctx).
		Model(&models.TranscodeJob{}).
		Where("job_id = ? AND status = ?", jobID, models.JobStatusRunning).
		Update("time_processed", timeProcessed).Error
	if err != nil {
		return fmt.Errorf("updating transcode job progress: %w", err)
	}
	return nil
}

// DeleteFinished deletes finished records older than before.
func (r *transcodeJobRepo) DeleteFinished(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("status IN (?, ?) AND completed_at < ?", models.JobStatusCompleted, models.JobStatusFailed, before).
		Delete(&models.TranscodeJob{})
	if result.Error != nil {
		return 0, fmt.Errorf("deleting finished transcode jobs: %w", result.Error)
	}
	return result.RowsAffected, nil
}
