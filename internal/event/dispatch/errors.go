package dispatch

import "errors"

// Sentinel errors for the dispatch package.
var (
	// ErrInvalidLane is returned for lane IDs outside the lane set.
	ErrInvalidLane = errors.New("invalid lane")

	// ErrForeignLane is returned when a lane token was issued by another lane set.
	ErrForeignLane = errors.New("lane belongs to a different dispatcher")

	// ErrDisposed is returned when work is added after Dispose.
	ErrDisposed = errors.New("dispatcher is disposed")

	// ErrQueueFull is returned by a rejecting dispatcher when a lane queue is at capacity.
	ErrQueueFull = errors.New("lane queue is full")

	// ErrNilTask is returned when a nil task is scheduled.
	ErrNilTask = errors.New("task cannot be nil")
)
