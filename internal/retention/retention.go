// Package retention periodically prunes old events from the store.
package retention

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"
)

// Config controls the pruning job
type Config struct {
	// MaxAge is how long events are kept; zero disables pruning
	MaxAge time.Duration `yaml:"max_age"`
	// Schedule is a Go duration ("1h") or a cron expression ("0 3 * * *")
	Schedule string `yaml:"schedule"`
}

// Deleter removes events older than a cutoff
type Deleter interface {
	DeleteEventsBefore(ctx context.Context, before time.Time) (int64, error)
}

// Pruner runs the pruning job on a gocron scheduler
type Pruner struct {
	cfg       Config
	store     Deleter
	clock     clock.Clock
	logger    *zap.SugaredLogger
	scheduler gocron.Scheduler

	deleted atomic.Int64
	runs    atomic.Int64
}

// New creates a pruner and registers its job. The job runs once right away
// and then on the configured schedule after Start.
func New(cfg Config, store Deleter, clk clock.Clock, logger *zap.SugaredLogger) (*Pruner, error) {
	if cfg.MaxAge <= 0 {
		return nil, fmt.Errorf("retention max_age must be positive, got %s", cfg.MaxAge)
	}
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}

	p := &Pruner{
		cfg:       cfg,
		store:     store,
		clock:     clk,
		logger:    logger,
		scheduler: scheduler,
	}

	var jobType gocron.JobDefinition
	if d, err := time.ParseDuration(cfg.Schedule); err == nil {
		jobType = gocron.DurationJob(d)
	} else {
		jobType = gocron.CronJob(cfg.Schedule, false)
	}

	_, err = scheduler.NewJob(
		jobType,
		gocron.NewTask(func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			if _, err := p.RunOnce(ctx); err != nil {
				p.logger.Warnw("event pruning failed", "error", err)
			}
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
		gocron.WithName("prune-events"),
	)
	if err != nil {
		_ = scheduler.Shutdown()
		return nil, fmt.Errorf("schedule %q: %w", cfg.Schedule, err)
	}
	return p, nil
}

// Start begins scheduling
func (p *Pruner) Start() {
	p.logger.Infow("event retention started", "max_age", p.cfg.MaxAge, "schedule", p.cfg.Schedule)
	p.scheduler.Start()
}

// Stop shuts the scheduler down, waiting for a running job
func (p *Pruner) Stop() error {
	return p.scheduler.Shutdown()
}

// RunOnce deletes events older than MaxAge
func (p *Pruner) RunOnce(ctx context.Context) (int64, error) {
	cutoff := p.clock.Now().Add(-p.cfg.MaxAge)
	n, err := p.store.DeleteEventsBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	p.runs.Add(1)
	p.deleted.Add(n)
	if n > 0 {
		p.logger.Infow("pruned old events", "deleted", n, "cutoff", cutoff)
	}
	return n, nil
}

// Deleted returns the total number of events pruned
func (p *Pruner) Deleted() int64 { return p.deleted.Load() }

// Runs returns the number of completed pruning runs
func (p *Pruner) Runs() int64 { return p.runs.Load() }
