package dispatch

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// InlineDispatcher executes tasks synchronously in the caller's goroutine.
// The requested lane and delay are ignored; lanes only attribute stats.
// It is meant for tests and for contexts that must not add concurrency.
type InlineDispatcher struct {
	lanes    *LaneSet
	executor *Executor
	logger   zerolog.Logger
	disposed atomic.Bool
	counters []laneCounters
}

// InlineOption configures an InlineDispatcher.
type InlineOption func(*inlineConfig)

type inlineConfig struct {
	panicHandler PanicHandler
	logger       zerolog.Logger
}

// WithPanicHandler sets the panic handler for inline execution.
func WithPanicHandler(h PanicHandler) InlineOption {
	return func(c *inlineConfig) {
		c.panicHandler = h
	}
}

// WithLogger sets the logger for inline execution.
func WithLogger(l zerolog.Logger) InlineOption {
	return func(c *inlineConfig) {
		c.logger = l
	}
}

// NewInlineDispatcher creates a synchronous dispatcher for lanes.
func NewInlineDispatcher(lanes *LaneSet, opts ...InlineOption) *InlineDispatcher {
	if lanes == nil {
		panic("dispatch: nil lane set")
	}
	cfg := inlineConfig{
		panicHandler: defaultPanicHandler,
		logger:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	d := &InlineDispatcher{
		lanes:    lanes,
		logger:   cfg.logger.With().Str("dispatcher", "inline").Logger(),
		counters: make([]laneCounters, lanes.Count()),
	}
	d.executor = NewExecutor(loggingPanicHandler(d.logger, cfg.panicHandler))
	return d
}

// Lanes returns the lane set.
func (d *InlineDispatcher) Lanes() *LaneSet {
	return d.lanes
}

// Add runs task immediately and returns after it completes.
func (d *InlineDispatcher) Add(lane Lane, task Task) error {
	if err := d.admit(lane, task); err != nil {
		return err
	}
	c := &d.counters[lane.ID()]
	c.enqueued.Add(1)
	c.record(d.executor.Execute(lane, task))
	return nil
}

// AddDelayed runs task immediately; the delay is ignored.
func (d *InlineDispatcher) AddDelayed(lane Lane, _ time.Duration, task Task) error {
	if err := d.admit(lane, task); err != nil {
		return err
	}
	c := &d.counters[lane.ID()]
	c.delayed.Add(1)
	c.enqueued.Add(1)
	c.record(d.executor.Execute(lane, task))
	return nil
}

// Dispose marks the dispatcher as disposed. There is never queued work to drain.
func (d *InlineDispatcher) Dispose(context.Context) error {
	if d.disposed.Swap(true) {
		return ErrDisposed
	}
	return nil
}

// Stats returns a snapshot of per-lane statistics.
func (d *InlineDispatcher) Stats() Stats {
	s := Stats{
		Lanes:    make([]LaneStats, len(d.counters)),
		Disposed: d.disposed.Load(),
	}
	for i, lane := range d.lanes.All() {
		s.Lanes[i] = d.counters[i].snapshot(lane)
	}
	return s
}

// ResetStats resets all statistics to zero.
func (d *InlineDispatcher) ResetStats() {
	for i := range d.counters {
		d.counters[i].reset()
	}
}

func (d *InlineDispatcher) admit(lane Lane, task Task) error {
	if task == nil {
		return ErrNilTask
	}
	if err := checkLane(d.lanes, lane); err != nil {
		return err
	}
	if d.disposed.Load() {
		return ErrDisposed
	}
	return nil
}

// loggingPanicHandler logs a recovered panic before handing it to next.
func loggingPanicHandler(logger zerolog.Logger, next PanicHandler) PanicHandler {
	return func(lane Lane, panicValue any, stack []byte) {
		logger.Error().
			Str("lane", lane.String()).
			Interface("panic", panicValue).
			Bytes("stack", stack).
			Msg("task panicked")
		if next != nil {
			next(lane, panicValue, stack)
		}
	}
}
