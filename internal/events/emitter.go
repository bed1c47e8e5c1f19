package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

var (
	ErrQueueFull     = errors.New("event queue full")
	ErrEmitterClosed = errors.New("event emitter closed")
)

// EmitterOptions tunes the delivery queue
type EmitterOptions struct {
	QueueSize    int           // Pending events before Emit starts rejecting
	StoreTimeout time.Duration // Upper bound for a single Store call
}

// DefaultEmitterOptions returns the production defaults
func DefaultEmitterOptions() EmitterOptions {
	return EmitterOptions{
		QueueSize:    256,
		StoreTimeout: 5 * time.Second,
	}
}

// EmitterStats counts delivery outcomes since startup
type EmitterStats struct {
	Accepted  uint64 `json:"accepted"`
	Delivered uint64 `json:"delivered"`
	Failed    uint64 `json:"failed"`
	Dropped   uint64 `json:"dropped"`
	Pending   int    `json:"pending"`
}

// Emitter hands events off to a single worker goroutine so that slow sinks
// never stall the detection tick. The worker calls Store then Display for
// every event, then publishes it on the Bus.
type Emitter struct {
	store   Store
	display Display
	bus     *Bus
	logger  *zap.SugaredLogger
	opts    EmitterOptions

	queue   chan Event
	mu      sync.RWMutex
	closed  bool
	started bool
	done    chan struct{}

	accepted  atomic.Uint64
	delivered atomic.Uint64
	failed    atomic.Uint64
	dropped   atomic.Uint64

	// OnError is called from the worker when a sink fails. Optional.
	OnError func(ev Event, err error)
}

// NewEmitter creates an emitter. Any of store, display and bus may be nil.
func NewEmitter(store Store, display Display, bus *Bus, logger *zap.SugaredLogger, opts EmitterOptions) *Emitter {
	defaults := DefaultEmitterOptions()
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaults.QueueSize
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = defaults.StoreTimeout
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	return &Emitter{
		store:   store,
		display: display,
		bus:     bus,
		logger:  logger,
		opts:    opts,
		queue:   make(chan Event, opts.QueueSize),
		done:    make(chan struct{}),
	}
}

// Start launches the delivery worker. Calling it twice is a no-op.
func (e *Emitter) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.started || e.closed {
		return
	}
	e.started = true
	go e.run()
}

// Emit enqueues an event without blocking
func (e *Emitter) Emit(ev Event) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed {
		return ErrEmitterClosed
	}

	select {
	case e.queue <- ev:
		e.accepted.Add(1)
		return nil
	default:
		e.dropped.Add(1)
		return fmt.Errorf("%w: dropping %s event", ErrQueueFull, ev.Kind)
	}
}

// Close stops accepting events and waits until the queue is drained
func (e *Emitter) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	started := e.started
	close(e.queue)
	e.mu.Unlock()

	if !started {
		// Nobody will drain; deliver inline so queued events are not lost.
		for ev := range e.queue {
			e.deliver(ev)
		}
		return nil
	}

	<-e.done
	return nil
}

// Stats returns delivery counters
func (e *Emitter) Stats() EmitterStats {
	return EmitterStats{
		Accepted:  e.accepted.Load(),
		Delivered: e.delivered.Load(),
		Failed:    e.failed.Load(),
		Dropped:   e.dropped.Load(),
		Pending:   len(e.queue),
	}
}

func (e *Emitter) run() {
	defer close(e.done)
	for ev := range e.queue {
		e.deliver(ev)
	}
}

func (e *Emitter) deliver(ev Event) {
	var err error

	if e.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), e.opts.StoreTimeout)
		if storeErr := e.store.Store(ctx, ev); storeErr != nil {
			err = multierr.Append(err, fmt.Errorf("store: %w", storeErr))
		}
		cancel()
	}

	if e.display != nil {
		if displayErr := e.display.Display(ev); displayErr != nil {
			err = multierr.Append(err, fmt.Errorf("display: %w", displayErr))
		}
	}

	if err != nil {
		e.failed.Add(1)
		e.logger.Errorw("event sink failure", "event_id", ev.ID, "kind", ev.Kind, "error", err)
		if e.OnError != nil {
			e.OnError(ev, err)
		}
	} else {
		e.delivered.Add(1)
	}

	if e.bus != nil {
		e.bus.Publish(ev)
	}
}
