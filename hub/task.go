package hub

import (
	"fmt"
	"time"

	"braces.dev/errtrace"
	"github.com/qmuntal/stateless"

	"github.com/ghettovoice/green"
)

// TaskState represents a task lifecycle state.
type TaskState string

const (
	// TaskStateCreated indicates the task was created but not yet admitted to the run queue.
	TaskStateCreated TaskState = "created"
	// TaskStateReady indicates the task is queued for its next turn.
	TaskStateReady TaskState = "ready"
	// TaskStateRunning indicates the task currently owns control.
	TaskStateRunning TaskState = "running"
	// TaskStateSuspended indicates the task is parked at a suspension point.
	TaskStateSuspended TaskState = "suspended"
	// TaskStateDone indicates the task has finished.
	TaskStateDone TaskState = "done"
)

const (
	taskEvtSchedule = "schedule"
	taskEvtRun      = "run"
	taskEvtSuspend  = "suspend"
	taskEvtFinish   = "finish"
)

// Task is a lightweight cooperative task driven by a [Hub].
//
// Task bodies run one at a time and transfer control back to the hub only
// at the blocking operations [Task.Sleep], [Task.Yield] and [Task.Join].
// An error injected into the task surfaces as the return value of whichever
// blocking operation it is parked in.
type Task struct {
	id   string
	name string
	hub  *Hub
	fn   func(*Task) error
	fsm  *stateless.StateMachine

	// resume transfers control from the hub to the task.
	// The carried value is the injected error, or nil for a normal turn.
	resume chan error
	done   chan struct{}

	// Fields below are owned by the hub and guarded by hub.mu.
	injected error
	wake     *timerEntry
	waitOn   *Task
	waiters  []*Task

	err error
}

func (t *Task) initFSM() {
	fsm := stateless.NewStateMachine(TaskStateCreated)
	fsm.Configure(TaskStateCreated).
		Permit(taskEvtSchedule, TaskStateReady).
		Permit(taskEvtFinish, TaskStateDone)
	fsm.Configure(TaskStateReady).
		Permit(taskEvtRun, TaskStateRunning)
	fsm.Configure(TaskStateRunning).
		Permit(taskEvtSuspend, TaskStateSuspended).
		Permit(taskEvtFinish, TaskStateDone)
	fsm.Configure(TaskStateSuspended).
		Permit(taskEvtSchedule, TaskStateReady)
	t.fsm = fsm
}

func (t *Task) fireEvt(evt string) {
	if err := t.fsm.Fire(evt); err != nil {
		panic(fmt.Errorf("fire %q in state %q: %w", evt, t.State(), err))
	}
}

// ID returns the unique task identifier.
func (t *Task) ID() string { return t.id }

// Name returns the human-readable task name.
func (t *Task) Name() string { return t.name }

// State returns the current task lifecycle state.
func (t *Task) State() TaskState {
	return t.fsm.MustState().(TaskState) //nolint:forcetypeassert
}

// Done returns a channel that is closed when the task finishes.
func (t *Task) Done() <-chan struct{} { return t.done }

// Err returns the task result once it has finished, nil before that.
func (t *Task) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

func (t *Task) String() string {
	return fmt.Sprintf("hub.Task(%s, %q, state=%s)", t.id, t.name, t.State())
}

// run is the task goroutine body. The first turn either starts the task
// function or, when an error was injected before the task ever ran,
// finishes the task without running it.
func (t *Task) run() {
	if err := <-t.resume; err != nil {
		t.finish(err)
		return
	}
	t.finish(t.fn(t))
}

func (t *Task) finish(err error) {
	t.err = err
	t.fireEvt(taskEvtFinish)
	close(t.done)
	t.hub.yielded <- t
}

// park hands control back to the hub and blocks until the next turn.
// The returned value is the injected error, or nil.
func (t *Task) park() error {
	t.hub.yielded <- t
	return <-t.resume
}

// checkBlocking validates a blocking call: it must come from the task's own
// turn of a live hub.
func (t *Task) checkBlocking() error {
	if t.hub.isClosed() {
		return errtrace.Wrap(ErrStopped)
	}
	if t.hub.currentTask() != t {
		panic(green.NewInvalidArgumentError("blocking call from outside the task"))
	}
	return nil
}

// Sleep suspends the task for d.
// It returns nil when the sleep elapsed, or the error injected into the
// task while it was parked. Sleep(0) yields until the hub's next pass over
// the timer queue.
func (t *Task) Sleep(d time.Duration) error {
	if err := t.checkBlocking(); err != nil {
		return err //errtrace:skip
	}
	if d < 0 {
		return errtrace.Wrap(green.NewInvalidArgumentError("negative sleep duration"))
	}

	h := t.hub
	h.mu.Lock()
	t.fireEvt(taskEvtSuspend)
	t.wake = h.pushTimerLocked(d, t, nil)
	h.mu.Unlock()

	return errtrace.Wrap(t.park())
}

// Yield gives up the rest of the task's turn and requeues it behind any
// other ready tasks. It returns the error injected while the task was
// queued, if any.
func (t *Task) Yield() error {
	if err := t.checkBlocking(); err != nil {
		return err //errtrace:skip
	}

	h := t.hub
	h.mu.Lock()
	t.fireEvt(taskEvtSuspend)
	t.fireEvt(taskEvtSchedule)
	h.ready.Add(t)
	h.mu.Unlock()

	return errtrace.Wrap(t.park())
}

// Join suspends the task until target finishes.
// It returns nil once target is done (inspect its result with [Task.Err]),
// or the error injected into the waiting task first.
func (t *Task) Join(target *Task) error {
	if err := t.checkBlocking(); err != nil {
		return err //errtrace:skip
	}
	if target == nil || target.hub != t.hub {
		return errtrace.Wrap(green.NewInvalidArgumentError("unknown task"))
	}
	if target == t {
		return errtrace.Wrap(green.NewInvalidArgumentError("task cannot join itself"))
	}

	h := t.hub
	h.mu.Lock()
	if target.State() == TaskStateDone {
		h.mu.Unlock()
		return nil
	}
	t.fireEvt(taskEvtSuspend)
	t.waitOn = target
	target.waiters = append(target.waiters, t)
	h.mu.Unlock()

	return errtrace.Wrap(t.park())
}

// removeWaiterLocked drops w from the task's waiter list.
// Caller must hold hub.mu.
func (t *Task) removeWaiterLocked(w *Task) {
	for i, task := range t.waiters {
		if task == w {
			t.waiters = append(t.waiters[:i], t.waiters[i+1:]...)
			return
		}
	}
}
