package dispatch

import (
	"sync/atomic"
	"time"
)

// laneCounters holds the live counters of one lane.
type laneCounters struct {
	enqueued    atomic.Uint64
	delayed     atomic.Uint64
	executed    atomic.Uint64
	panicked    atomic.Uint64
	dropped     atomic.Uint64
	totalTimeNs atomic.Int64
}

func (c *laneCounters) record(r Result) {
	c.executed.Add(1)
	c.totalTimeNs.Add(r.Duration.Nanoseconds())
	if r.Panicked {
		c.panicked.Add(1)
	}
}

func (c *laneCounters) snapshot(lane Lane) LaneStats {
	executed := c.executed.Load()
	totalNs := c.totalTimeNs.Load()

	var avgNs int64
	if executed > 0 {
		avgNs = totalNs / int64(executed)
	}

	return LaneStats{
		ID:            lane.ID(),
		Name:          lane.String(),
		Enqueued:      c.enqueued.Load(),
		Delayed:       c.delayed.Load(),
		Executed:      executed,
		Panicked:      c.panicked.Load(),
		Dropped:       c.dropped.Load(),
		TotalDuration: time.Duration(totalNs),
		AvgDuration:   time.Duration(avgNs),
	}
}

func (c *laneCounters) reset() {
	c.enqueued.Store(0)
	c.delayed.Store(0)
	c.executed.Store(0)
	c.panicked.Store(0)
	c.dropped.Store(0)
	c.totalTimeNs.Store(0)
}

// LaneStats contains statistics for a single lane.
type LaneStats struct {
	// ID is the lane identifier.
	ID LaneID

	// Name is the lane name from the lane set.
	Name string

	// Enqueued is the number of tasks accepted for immediate execution,
	// including delayed tasks that became due.
	Enqueued uint64

	// Delayed is the number of tasks accepted through AddDelayed.
	Delayed uint64

	// Executed is the number of tasks that have run.
	Executed uint64

	// Panicked is the number of tasks that panicked.
	Panicked uint64

	// Dropped is the number of tasks rejected or discarded.
	Dropped uint64

	// QueueDepth is the number of tasks waiting in the lane queue.
	QueueDepth int

	// PendingDelayed is the number of delayed tasks not yet due.
	PendingDelayed int

	// TotalDuration is the cumulative time spent running tasks.
	TotalDuration time.Duration

	// AvgDuration is the average task execution time.
	AvgDuration time.Duration
}

// Stats is a point-in-time snapshot of dispatcher statistics.
type Stats struct {
	// Lanes holds one entry per lane in ID order.
	Lanes []LaneStats

	// Disposed is true once Dispose has been called.
	Disposed bool
}

// Lane returns the stats for id, or false if the id is unknown.
func (s Stats) Lane(id LaneID) (LaneStats, bool) {
	if int(id) >= len(s.Lanes) {
		return LaneStats{}, false
	}
	return s.Lanes[id], true
}

// Totals sums the counters of every lane.
func (s Stats) Totals() LaneStats {
	var t LaneStats
	t.Name = "total"
	for _, l := range s.Lanes {
		t.Enqueued += l.Enqueued
		t.Delayed += l.Delayed
		t.Executed += l.Executed
		t.Panicked += l.Panicked
		t.Dropped += l.Dropped
		t.QueueDepth += l.QueueDepth
		t.PendingDelayed += l.PendingDelayed
		t.TotalDuration += l.TotalDuration
	}
	if t.Executed > 0 {
		t.AvgDuration = t.TotalDuration / time.Duration(t.Executed)
	}
	return t
}
