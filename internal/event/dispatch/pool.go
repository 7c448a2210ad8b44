package dispatch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Overflow selects what Add does when a lane queue is full.
// The policy applies to every lane of a dispatcher.
type Overflow int

const (
	// OverflowBlock stalls the caller until the lane has room or the
	// dispatcher is disposed.
	OverflowBlock Overflow = iota

	// OverflowReject returns ErrQueueFull and counts the task as dropped.
	OverflowReject
)

// String returns a human-readable policy name.
func (o Overflow) String() string {
	switch o {
	case OverflowBlock:
		return "block"
	case OverflowReject:
		return "reject"
	default:
		return "unknown"
	}
}

// PoolDispatcher runs tasks on one dedicated worker goroutine per lane.
//
// Every lane owns a bounded queue, a worker and a delay scheduler; lanes
// share nothing, so a slow lane cannot starve another. A single worker per
// lane keeps execution in queue order.
//
// Dispose drops delayed tasks that are not yet due and drains queued tasks
// best-effort until the context is done.
type PoolDispatcher struct {
	lanes     *LaneSet
	queueSize int
	overflow  Overflow
	executor  *Executor
	logger    zerolog.Logger

	// mu guards closing the lane queues against concurrent sends.
	mu     sync.RWMutex
	closed bool

	done     chan struct{}
	disposed atomic.Bool

	workers   []*laneWorker
	workerWG  sync.WaitGroup
	delayerWG sync.WaitGroup

	// afterDelayedPush runs between the push and the disposed re-check
	// in AddDelayed. Tests only.
	afterDelayedPush func()
}

// laneWorker is the per-lane state of a PoolDispatcher.
type laneWorker struct {
	lane     Lane
	queue    chan Task
	delays   *delayQueue
	counters laneCounters
}

// PoolOption configures a PoolDispatcher.
type PoolOption func(*poolConfig)

type poolConfig struct {
	queueSize    int
	overflow     Overflow
	panicHandler PanicHandler
	logger       zerolog.Logger
}

// WithQueueSize sets the capacity of each lane queue.
func WithQueueSize(size int) PoolOption {
	return func(c *poolConfig) {
		if size > 0 {
			c.queueSize = size
		}
	}
}

// WithOverflow sets the full-queue policy for all lanes.
func WithOverflow(o Overflow) PoolOption {
	return func(c *poolConfig) {
		c.overflow = o
	}
}

// WithPoolPanicHandler sets the panic handler for pooled execution.
func WithPoolPanicHandler(h PanicHandler) PoolOption {
	return func(c *poolConfig) {
		c.panicHandler = h
	}
}

// WithPoolLogger sets the logger for the pool.
func WithPoolLogger(l zerolog.Logger) PoolOption {
	return func(c *poolConfig) {
		c.logger = l
	}
}

// NewPoolDispatcher creates a pooled dispatcher and starts its lane workers.
func NewPoolDispatcher(lanes *LaneSet, opts ...PoolOption) *PoolDispatcher {
	if lanes == nil {
		panic("dispatch: nil lane set")
	}
	cfg := poolConfig{
		queueSize:    1024,
		overflow:     OverflowBlock,
		panicHandler: defaultPanicHandler,
		logger:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	d := &PoolDispatcher{
		lanes:     lanes,
		queueSize: cfg.queueSize,
		overflow:  cfg.overflow,
		logger:    cfg.logger.With().Str("dispatcher", "pool").Logger(),
		done:      make(chan struct{}),
	}
	d.executor = NewExecutor(loggingPanicHandler(d.logger, cfg.panicHandler))

	for _, lane := range lanes.All() {
		w := &laneWorker{
			lane:   lane,
			queue:  make(chan Task, d.queueSize),
			delays: newDelayQueue(),
		}
		d.workers = append(d.workers, w)

		d.workerWG.Add(1)
		go d.work(w)

		d.delayerWG.Add(1)
		go d.schedule(w)
	}

	d.logger.Debug().
		Int("lanes", lanes.Count()).
		Int("queue_size", d.queueSize).
		Str("overflow", d.overflow.String()).
		Msg("dispatcher started")

	return d
}

// Lanes returns the lane set.
func (d *PoolDispatcher) Lanes() *LaneSet {
	return d.lanes
}

// Add hands task to the lane's queue.
func (d *PoolDispatcher) Add(lane Lane, task Task) error {
	if task == nil {
		return ErrNilTask
	}
	if err := checkLane(d.lanes, lane); err != nil {
		return err
	}
	return d.enqueue(d.workers[lane.ID()], task)
}

// AddDelayed arms task on the lane's delay scheduler. Tasks due earlier on
// the same lane always reach the queue first; equal due times keep
// submission order. A non-positive delay behaves like Add.
func (d *PoolDispatcher) AddDelayed(lane Lane, delay time.Duration, task Task) error {
	if task == nil {
		return ErrNilTask
	}
	if err := checkLane(d.lanes, lane); err != nil {
		return err
	}
	if delay <= 0 {
		return d.enqueue(d.workers[lane.ID()], task)
	}
	if d.disposed.Load() {
		return ErrDisposed
	}

	w := d.workers[lane.ID()]
	w.delays.push(time.Now().Add(delay), task)
	if d.afterDelayedPush != nil {
		d.afterDelayedPush()
	}

	// Lost a race with Dispose; the scheduler may already be gone and
	// has either dropped the task or will never see it.
	if d.disposed.Load() {
		if n := w.delays.drain(); n > 0 {
			w.counters.dropped.Add(uint64(n))
		}
		return ErrDisposed
	}
	w.counters.delayed.Add(1)
	return nil
}

// Dispose stops accepting work, discards delayed tasks that are not yet due
// and waits for the lane workers to drain their queues. If ctx ends first,
// Dispose returns ctx.Err() and the workers finish draining in the background.
func (d *PoolDispatcher) Dispose(ctx context.Context) error {
	if d.disposed.Swap(true) {
		return ErrDisposed
	}

	// Unblock senders and stop the delay schedulers.
	close(d.done)
	d.delayerWG.Wait()

	d.mu.Lock()
	d.closed = true
	for _, w := range d.workers {
		close(w.queue)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.workerWG.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.logger.Debug().Msg("dispatcher disposed")
		return nil
	case <-ctx.Done():
		d.logger.Warn().Err(ctx.Err()).Msg("dispatcher drain interrupted")
		return ctx.Err()
	}
}

// IsDisposed returns true once Dispose has been called.
func (d *PoolDispatcher) IsDisposed() bool {
	return d.disposed.Load()
}

// Stats returns a snapshot of per-lane statistics.
func (d *PoolDispatcher) Stats() Stats {
	s := Stats{
		Lanes:    make([]LaneStats, len(d.workers)),
		Disposed: d.disposed.Load(),
	}
	for i, w := range d.workers {
		ls := w.counters.snapshot(w.lane)
		ls.QueueDepth = len(w.queue)
		ls.PendingDelayed = w.delays.len()
		s.Lanes[i] = ls
	}
	return s
}

// ResetStats resets all statistics to zero.
// For consistent results, call this while the dispatcher is idle.
func (d *PoolDispatcher) ResetStats() {
	for _, w := range d.workers {
		w.counters.reset()
	}
}

// enqueue applies the overflow policy and sends task to w's queue.
func (d *PoolDispatcher) enqueue(w *laneWorker, task Task) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed || d.disposed.Load() {
		return ErrDisposed
	}

	switch d.overflow {
	case OverflowReject:
		select {
		case w.queue <- task:
		default:
			w.counters.dropped.Add(1)
			d.logger.Warn().Str("lane", w.lane.String()).Msg("lane queue full, task dropped")
			return ErrQueueFull
		}
	default:
		select {
		case w.queue <- task:
		case <-d.done:
			return ErrDisposed
		}
	}

	w.counters.enqueued.Add(1)
	return nil
}

// work runs the tasks of one lane in queue order.
func (d *PoolDispatcher) work(w *laneWorker) {
	defer d.workerWG.Done()

	for task := range w.queue {
		w.counters.record(d.executor.Execute(w.lane, task))
	}
}

// schedule moves delayed tasks of one lane into its queue as they fall due.
func (d *PoolDispatcher) schedule(w *laneWorker) {
	defer d.delayerWG.Done()

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		due, next, pending := w.delays.popDue(time.Now())
		for _, task := range due {
			if err := d.enqueue(w, task); errors.Is(err, ErrDisposed) {
				w.counters.dropped.Add(1)
			}
		}
		if pending {
			timer.Reset(time.Until(next))
		}

		select {
		case <-d.done:
			if n := w.delays.drain(); n > 0 {
				w.counters.dropped.Add(uint64(n))
				d.logger.Debug().Str("lane", w.lane.String()).Int("dropped", n).Msg("pending delayed tasks dropped")
			}
			return
		case <-w.delays.wake:
		case <-timer.C:
		}
	}
}
