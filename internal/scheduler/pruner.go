// Package scheduler runs recurring maintenance for ffpeaks. Today that is
// pruning finished job records past their retention.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jmylchreest/ffpeaks/internal/config"
)

// JobPruner deletes finished job records completed before a cutoff.
type JobPruner interface {
	DeleteFinished(ctx context.Context, before time.Time) (int64, error)
}

// Pruner deletes finished job records on a cron schedule.
type Pruner struct {
	repo      JobPruner
	schedule  cron.Schedule
	expr      string
	retention time.Duration
	logger    *slog.Logger
	now       func() time.Time

	mu     sync.Mutex
	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
}

// NewPruner creates a pruner from the history configuration.
func NewPruner(repo JobPruner, cfg config.HistoryConfig) (*Pruner, error) {
	if cfg.Retention <= 0 {
		return nil, fmt.Errorf("history retention must be positive, got %s", cfg.Retention)
	}
	schedule, err := config.CronParser().Parse(cfg.PruneSchedule)
	if err != nil {
		return nil, fmt.Errorf("parsing prune schedule %q: %w", cfg.PruneSchedule, err)
	}
	return &Pruner{
		repo:      repo,
		schedule:  schedule,
		expr:      cfg.PruneSchedule,
		retention: cfg.Retention,
		logger:    slog.Default(),
		now:       time.Now,
	}, nil
}

// WithLogger sets a custom logger.
func (p *Pruner) WithLogger(logger *slog.Logger) *Pruner {
	p.logger = logger.With(slog.String("component", "pruner"))
	return p
}

// Next returns the next scheduled run after t.
func (p *Pruner) Next(t time.Time) time.Time {
	return p.schedule.Next(t)
}

// RunOnce prunes immediately and returns the number of records deleted.
func (p *Pruner) RunOnce(ctx context.Context) (int64, error) {
	cutoff := p.now().Add(-p.retention)
	deleted, err := p.repo.DeleteFinished(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("pruning job history: %w", err)
	}
	if deleted > 0 {
		p.logger.InfoContext(ctx, "pruned job history",
			slog.Int64("deleted", deleted),
			slog.Time("cutoff", cutoff))
	} else {
		p.logger.DebugContext(ctx, "no job history to prune", slog.Time("cutoff", cutoff))
	}
	return deleted, nil
}

// Start schedules pruning until ctx is done or Stop is called.
func (p *Pruner) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cron != nil {
		return fmt.Errorf("pruner already started")
	}

	p.ctx, p.cancel = context.WithCancel(ctx)
	p.cron = cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	p.cron.Schedule(p.schedule, cron.FuncJob(p.run))
	p.cron.Start()

	p.logger.Info("pruner started",
		slog.String("schedule", p.expr),
		slog.Duration("retention", p.retention),
		slog.Time("next_run", p.Next(p.now())))

	done := p.ctx.Done()
	go func() {
		<-done
		p.Stop()
	}()
	return nil
}

// Running reports whether the pruner is scheduled.
func (p *Pruner) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cron != nil
}

func (p *Pruner) run() {
	p.mu.Lock()
	ctx := p.ctx
	p.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}
	if _, err := p.RunOnce(ctx); err != nil {
		p.logger.Error("scheduled prune failed", slog.String("error", err.Error()))
	}
}

// Stop halts scheduling and waits for a running prune to finish. It is safe
// to call more than once.
func (p *Pruner) Stop() {
	p.mu.Lock()
	c := p.cron
	cancel := p.cancel
	p.cron = nil
	p.mu.Unlock()

	if c == nil {
		return
	}
	// Done fires once a running prune has returned.
	<-c.Stop().Done()
	cancel()
	p.logger.Info("pruner stopped")
}
