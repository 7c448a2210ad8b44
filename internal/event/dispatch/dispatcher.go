package dispatch

import (
	"context"
	"time"
)

// Task is a unit of work scheduled onto a lane.
type Task func()

// Dispatcher schedules tasks onto a fixed set of lanes.
//
// Tasks added to the same lane run in the order they were added.
// Tasks on different lanes run independently of each other.
type Dispatcher interface {
	// Lanes returns the lane set the dispatcher was built for.
	Lanes() *LaneSet

	// Add schedules task for execution on lane.
	Add(lane Lane, task Task) error

	// AddDelayed schedules task on lane no earlier than delay from now.
	AddDelayed(lane Lane, delay time.Duration, task Task) error

	// Dispose stops accepting work and releases lane resources.
	Dispose(ctx context.Context) error
}

// StatsReporter is implemented by dispatchers that keep lane statistics.
type StatsReporter interface {
	Stats() Stats
}

// PanicHandler is called when a task panics.
// It receives the lane, the panic value and the stack trace.
type PanicHandler func(lane Lane, panicValue any, stack []byte)

// defaultPanicHandler is a no-op panic handler.
func defaultPanicHandler(Lane, any, []byte) {}

// checkLane validates a lane token against the dispatcher's lane set.
func checkLane(set *LaneSet, lane Lane) error {
	if !lane.Valid() {
		return ErrInvalidLane
	}
	if !lane.BelongsTo(set) {
		return ErrForeignLane
	}
	return nil
}
