package dispatch

import (
	"runtime/debug"
	"time"
)

// Result represents the outcome of a task execution.
type Result struct {
	// Panicked is true if the task panicked.
	Panicked bool

	// PanicValue is the value passed to panic(), if Panicked is true.
	PanicValue any

	// PanicStack is the stack trace at the point of panic.
	PanicStack []byte

	// Duration is how long the task took to execute.
	Duration time.Duration
}

// Executor runs tasks with panic recovery and timing.
type Executor struct {
	panicHandler PanicHandler
}

// NewExecutor creates an executor reporting panics to h.
// A nil handler silently recovers.
func NewExecutor(h PanicHandler) *Executor {
	if h == nil {
		h = defaultPanicHandler
	}
	return &Executor{panicHandler: h}
}

// Execute runs task and returns the result.
// A panicking task never propagates the panic to the caller.
func (e *Executor) Execute(lane Lane, task Task) (result Result) {
	start := time.Now()

	defer func() {
		result.Duration = time.Since(start)

		if r := recover(); r != nil {
			stack := debug.Stack()

			result.Panicked = true
			result.PanicValue = r
			result.PanicStack = stack

			// A panicking panic handler must not take the worker down.
			func() {
				defer func() { _ = recover() }()
				e.panicHandler(lane, r, stack)
			}()
		}
	}()

	task()
	return result
}
