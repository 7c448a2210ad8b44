// Package dispatch schedules notification tasks onto execution lanes.
//
// A lane is a named, independent execution context. The set of lanes is
// fixed when a dispatcher is built; lane tokens are obtained from the
// LaneSet, so an unknown lane identifier fails at registration time and
// never reaches Add.
//
// # Dispatchers
//
// Two implementations are provided:
//
//   - InlineDispatcher: runs every task in the caller's goroutine, ignoring
//     lane and delay. Used in tests and where no concurrency may be added.
//
//   - PoolDispatcher: one bounded queue, one worker goroutine and one delay
//     scheduler per lane. Lanes share nothing with each other.
//
// # Ordering
//
// Tasks added to the same lane run in the order they were added. Delayed
// tasks on a lane reach its queue in due order; a delayed task may run after
// immediate tasks submitted later. There is no ordering across lanes.
//
// # Backpressure
//
// A full lane queue either blocks the caller (OverflowBlock, the default) or
// rejects the task with ErrQueueFull (OverflowReject). The policy is the same
// for every lane of a dispatcher.
//
// # Shutdown
//
// Dispose stops accepting work, drops delayed tasks that are not yet due and
// drains queued tasks best-effort until its context is done.
//
// # Usage
//
//	lanes := dispatch.NewLaneSet("yac", "metrics")
//	d := dispatch.NewPoolDispatcher(lanes, dispatch.WithQueueSize(256))
//	defer d.Dispose(context.Background())
//
//	_ = d.Add(lanes.MustLane(0), func() { ... })
//	_ = d.AddDelayed(lanes.MustLane(1), time.Second, func() { ... })
package dispatch
