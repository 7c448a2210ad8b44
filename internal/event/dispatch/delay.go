package dispatch

import (
	"container/heap"
	"sync"
	"time"
)

// delayedTask is a task waiting for its due time.
type delayedTask struct {
	due  time.Time
	seq  uint64
	task Task
}

// delayHeap orders delayed tasks by due time, then by submission order.
type delayHeap []delayedTask

func (h delayHeap) Len() int { return len(h) }

func (h delayHeap) Less(i, j int) bool {
	if h[i].due.Equal(h[j].due) {
		return h[i].seq < h[j].seq
	}
	return h[i].due.Before(h[j].due)
}

func (h delayHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *delayHeap) Push(x any) { *h = append(*h, x.(delayedTask)) }

func (h *delayHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = delayedTask{}
	*h = old[:n-1]
	return item
}

// delayQueue holds the delayed tasks of one lane.
type delayQueue struct {
	mu    sync.Mutex
	items delayHeap
	seq   uint64
	wake  chan struct{}
}

func newDelayQueue() *delayQueue {
	return &delayQueue{wake: make(chan struct{}, 1)}
}

// push schedules task at due and wakes the scheduler.
func (q *delayQueue) push(due time.Time, task Task) {
	q.mu.Lock()
	heap.Push(&q.items, delayedTask{due: due, seq: q.seq, task: task})
	q.seq++
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// popDue removes every task due at or before now, in due order.
// It also returns the due time of the next pending task, if any.
func (q *delayQueue) popDue(now time.Time) (due []Task, next time.Time, pending bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) > 0 && !q.items[0].due.After(now) {
		item := heap.Pop(&q.items).(delayedTask)
		due = append(due, item.task)
	}
	if len(q.items) > 0 {
		return due, q.items[0].due, true
	}
	return due, time.Time{}, false
}

// drain discards all pending tasks and returns how many were dropped.
func (q *delayQueue) drain() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.items)
	q.items = nil
	return n
}

// len returns the number of pending tasks.
func (q *delayQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
