package repository

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jmylchreest/ffpeaks/internal/events"
	"github.com/jmylchreest/ffpeaks/internal/models"
)

// DefaultProgressInterval is the least time between progress writes for one job.
const DefaultProgressInterval = time.Second

// JobRecorder is an events.Sink that keeps a TranscodeJob record per
// executor run. Store failures are logged; they never fail the run.
type JobRecorder struct {
	repo     TranscodeJobRepository
	logger   *slog.Logger
	interval time.Duration

	mu        sync.Mutex
	lastWrite map[string]time.Time
}

// NewJobRecorder creates a recorder backed by repo.
func NewJobRecorder(repo TranscodeJobRepository, logger *slog.Logger) *JobRecorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &JobRecorder{
		repo:      repo,
		logger:    logger.With(slog.String("component", "job_recorder")),
		interval:  DefaultProgressInterval,
		lastWrite: make(map[string]time.Time),
	}
}

// WithProgressInterval sets the progress write throttle. Zero writes every event.
func (r *JobRecorder) WithProgressInterval(d time.Duration) *JobRecorder {
	r.interval = d
	return r
}

// Emit implements events.Sink.
func (r *JobRecorder) Emit(ctx context.Context, ev events.Event) {
	var err error
	switch ev.Type {
	case events.TypeStarted:
		err = r.started(ctx, ev)
	case events.TypeProgress:
		err = r.progress(ctx, ev)
	case events.TypeCompleted, events.TypeFailed:
		// A cancelled run still has to close its record.
		err = r.finished(context.WithoutCancel(ctx), ev)
	default:
		return
	}
	if err != nil {
		r.logger.WarnContext(ctx, "failed to record job event",
			slog.String("job_id", ev.JobID),
			slog.String("event", string(ev.Type)),
			slog.String("error", err.Error()))
	}
}

func (r *JobRecorder) started(ctx context.Context, ev events.Event) error {
	started := ev.Timestamp.UTC()
	return r.repo.Create(ctx, &models.TranscodeJob{
		JobID:     ev.JobID,
		Status:    models.JobStatusRunning,
		Mode:      ev.Mode,
		Command:   ev.Command,
		Inputs:    ev.Inputs,
		Output:    ev.Output,
		StartedAt: &started,
	})
}

func (r *JobRecorder) progress(ctx context.Context, ev events.Event) error {
	if ev.Progress == nil {
		return nil
	}

	r.mu.Lock()
	last, seen := r.lastWrite[ev.JobID]
	if seen && r.interval > 0 && ev.Timestamp.Sub(last) < r.interval {
		r.mu.Unlock()
		return nil
	}
	r.lastWrite[ev.JobID] = ev.Timestamp
	r.mu.Unlock()

	return r.repo.UpdateProgress(ctx, ev.JobID, ev.Progress.TimeProcessed)
}

// finished closes the record. A run rejected before launch has no started
// event, so its record is created here.
func (r *JobRecorder) finished(ctx context.Context, ev events.Event) error {
	r.mu.Lock()
	delete(r.lastWrite, ev.JobID)
	r.mu.Unlock()

	job, err := r.repo.GetByJobID(ctx, ev.JobID)
	if err != nil {
		return err
	}
	create := job == nil
	if create {
		job = &models.TranscodeJob{JobID: ev.JobID, Output: ev.Output}
	}

	if ev.Type == events.TypeCompleted {
		job.MarkCompleted(ev.Duration, ev.PeaksPath, ev.Warnings)
	} else {
		job.MarkFailed(ev.Duration, ev.ExitCode, ev.Error)
	}

	if create {
		return r.repo.Create(ctx, job)
	}
	return r.repo.Update(ctx, job)
}
