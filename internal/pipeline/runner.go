// Package pipeline feeds frame observations to the detection machine at a
// fixed cadence.
package pipeline

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"driveguard/internal/detection"
	"driveguard/internal/events"
)

// DefaultInterval is the tick period, about 25 frames per second
const DefaultInterval = 40 * time.Millisecond

// Processor consumes one observation per tick
type Processor interface {
	ProcessTick(obs detection.FrameObservation) []events.Event
}

// Stats are the runner counters
type Stats struct {
	Ticks        uint64     `json:"ticks"`
	Events       uint64     `json:"events"`
	SourceErrors uint64     `json:"source_errors"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	LastTickAt   *time.Time `json:"last_tick_at,omitempty"`
	Exhausted    bool       `json:"exhausted"`
}

// Runner pulls one observation from the source on every tick and hands it
// to the processor. Only one tick is in flight at a time.
type Runner struct {
	source    Source
	processor Processor
	clock     clock.Clock
	interval  time.Duration
	logger    *zap.SugaredLogger

	running atomic.Bool
	stepMu  sync.Mutex

	statsMu sync.RWMutex
	stats   Stats
}

// NewRunner creates a runner; a zero interval means DefaultInterval
func NewRunner(source Source, processor Processor, clk clock.Clock, interval time.Duration, logger *zap.SugaredLogger) *Runner {
	if clk == nil {
		clk = clock.New()
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Runner{
		source:    source,
		processor: processor,
		clock:     clk,
		interval:  interval,
		logger:    logger,
	}
}

// Step processes a single observation. It returns io.EOF once the source
// is exhausted.
func (r *Runner) Step(ctx context.Context) ([]events.Event, error) {
	r.stepMu.Lock()
	defer r.stepMu.Unlock()

	obs, err := r.source.Next(ctx)
	if err != nil {
		if errors.Is(err, io.EOF) {
			r.statsMu.Lock()
			r.stats.Exhausted = true
			r.statsMu.Unlock()
			return nil, io.EOF
		}
		r.statsMu.Lock()
		r.stats.SourceErrors++
		r.statsMu.Unlock()
		return nil, err
	}

	out := r.processor.ProcessTick(obs)

	now := r.clock.Now()
	r.statsMu.Lock()
	r.stats.Ticks++
	r.stats.Events += uint64(len(out))
	r.stats.LastTickAt = &now
	r.statsMu.Unlock()

	return out, nil
}

// Run ticks until the source is exhausted (returns nil) or ctx is done
// (returns ctx.Err()). Source errors other than io.EOF skip the tick.
func (r *Runner) Run(ctx context.Context) error {
	if !r.running.CompareAndSwap(false, true) {
		return errors.New("runner already running")
	}
	defer r.running.Store(false)

	ticker := r.clock.Ticker(r.interval)
	defer ticker.Stop()

	started := r.clock.Now()
	r.statsMu.Lock()
	r.stats.StartedAt = &started
	r.statsMu.Unlock()

	r.logger.Infow("detection loop started", "interval", r.interval)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("detection loop stopped")
			return ctx.Err()
		case <-ticker.C:
			_, err := r.Step(ctx)
			switch {
			case err == nil:
			case errors.Is(err, io.EOF):
				r.logger.Infow("observation source exhausted", "ticks", r.Stats().Ticks)
				return nil
			case ctx.Err() != nil:
				return ctx.Err()
			default:
				r.logger.Warnw("observation source error", "error", err)
			}
		}
	}
}

// Running reports whether Run is active
func (r *Runner) Running() bool {
	return r.running.Load()
}

// Stats returns a copy of the counters
func (r *Runner) Stats() Stats {
	r.statsMu.RLock()
	defer r.statsMu.RUnlock()
	return r.stats
}
