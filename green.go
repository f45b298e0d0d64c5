package green

import "time"

//go:generate mockgen -destination internal/testutil/schedmock/schedmock.go -package schedmock . Scheduler,Timer,Task

// Task represents a lightweight cooperative task managed by a [Scheduler].
//
// Only one task runs at a time. A task suspends at well-defined yielding
// operations and is resumed by its scheduler, either normally or with an
// injected error surfacing at the suspension point.
type Task interface {
	// ID returns the unique task identifier.
	ID() string
	// Name returns the human-readable task name.
	Name() string
	// Done returns a channel that is closed when the task finishes.
	Done() <-chan struct{}
	// String returns a short textual description of the task.
	String() string
}

// Timer is a handle of a single delayed injection registered with a [Scheduler].
type Timer interface {
	// Pending reports whether the timer has neither fired nor been cancelled.
	Pending() bool
	// Cancel withdraws the timer if it has not yet fired.
	// It is idempotent and has no effect after firing.
	Cancel()
}

// Scheduler is implemented by runtimes capable of timed error injection
// into suspended tasks.
//
// Implementations guarantee that firing and cancellation of a registration
// are mutually exclusive outcomes.
type Scheduler interface {
	// Current returns the task running at the time of the call,
	// or nil when called from outside any task.
	Current() Task
	// ScheduleInject registers a one-shot callback that fires after d and
	// injects err into task at its suspension point at that moment.
	// A nil task, nil error or negative delay is a programmer error and panics.
	ScheduleInject(d time.Duration, task Task, err error) Timer
}
