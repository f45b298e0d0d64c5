// Package hub implements a single-threaded cooperative runtime for green
// tasks and the timed error injection contract of the green package.
//
// A [Hub] drives its tasks one at a time: control is transferred between the
// hub loop and the running task through strict channel handoff, so at any
// moment exactly one of them owns execution. Tasks suspend at blocking
// operations and the hub wakes them when timers fire, other tasks finish, or
// an error is injected via [Hub.ScheduleInject].
package hub

import (
	"container/heap"
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"braces.dev/errtrace"
	"github.com/eapache/queue"
	"github.com/google/uuid"

	"github.com/ghettovoice/green"
	"github.com/ghettovoice/green/log"
)

// Hub errors.
const (
	// ErrStopped is injected into live tasks when the hub stops before they finish.
	ErrStopped green.Error = "hub stopped"
	// ErrDeadlocked is returned by [Hub.Run] when live tasks remain but no
	// timer or ready task can ever wake them.
	ErrDeadlocked green.Error = "all tasks blocked"
	// ErrRunning is returned by [Hub.Run] when the hub is already running.
	ErrRunning green.Error = "hub already running"
)

// Options are optional settings of a [Hub].
type Options struct {
	// Clock is the time source of the hub.
	// If nil, the system clock is used. See [ManualClock] for virtual time.
	Clock Clock
	// Logger is the logger used by the hub.
	// If nil, the [log.Default] is used.
	Logger *slog.Logger
}

func (o *Options) clock() Clock {
	if o == nil || o.Clock == nil {
		return SystemClock()
	}
	return o.Clock
}

func (o *Options) log() *slog.Logger {
	if o == nil || o.Logger == nil {
		return log.Default()
	}
	return o.Logger
}

var (
	_ green.Scheduler = (*Hub)(nil)
	_ green.Task      = (*Task)(nil)
	_ green.Timer     = (*timerEntry)(nil)
)

// Hub is a single-threaded cooperative scheduler.
// It implements [green.Scheduler].
type Hub struct {
	clock Clock
	log   *slog.Logger

	mu      sync.Mutex
	ready   *queue.Queue
	timers  timerQueue
	tasks   map[*Task]struct{}
	current *Task
	seq     uint64
	closed  bool

	// yielded transfers control from the running task back to the hub.
	yielded chan *Task
	// wakeCh interrupts an idle wait when work is added from outside.
	wakeCh chan struct{}

	running atomic.Bool
}

// New creates a new [Hub].
// Options are optional, default options are used if nil (see [Options]).
func New(opts *Options) *Hub {
	return &Hub{
		clock:   opts.clock(),
		log:     opts.log(),
		ready:   queue.New(),
		tasks:   make(map[*Task]struct{}),
		yielded: make(chan *Task),
		wakeCh:  make(chan struct{}, 1),
	}
}

// Spawn admits a new task running fn to the run queue.
// Tasks may be spawned before [Hub.Run] or from inside another task.
//
// On a stopped hub the returned task is already finished with [ErrStopped].
func (h *Hub) Spawn(name string, fn func(*Task) error) *Task {
	if fn == nil {
		panic(green.NewInvalidArgumentError("nil task function"))
	}

	t := &Task{
		id:     uuid.NewString(),
		name:   name,
		hub:    h,
		fn:     fn,
		resume: make(chan error),
		done:   make(chan struct{}),
	}
	t.initFSM()

	h.mu.Lock()
	if h.closed {
		t.err = ErrStopped
		t.fireEvt(taskEvtFinish)
		close(t.done)
		h.mu.Unlock()
		return t
	}
	h.tasks[t] = struct{}{}
	t.fireEvt(taskEvtSchedule)
	h.ready.Add(t)
	h.mu.Unlock()

	go t.run()
	h.notify()

	h.log.LogAttrs(context.Background(), slog.LevelDebug, "task spawned", slog.Any("task", green.Task(t)))
	return t
}

// Run drives the hub until every task has finished.
//
// It fires due timers, hands control to ready tasks one at a time and
// sleeps until the next deadline when idle. With a [ManualClock] the idle
// wait advances virtual time instead of blocking.
//
// Run returns nil when the last task finishes, [ErrDeadlocked] when live
// tasks remain that nothing can ever wake, and the context error when ctx
// is cancelled. On every early return live tasks are unwound first by
// resuming them with [ErrStopped].
func (h *Hub) Run(ctx context.Context) error {
	if !h.running.CompareAndSwap(false, true) {
		return errtrace.Wrap(ErrRunning)
	}
	defer h.running.Store(false)

	h.log.LogAttrs(ctx, slog.LevelDebug, "hub started")
	defer h.log.LogAttrs(ctx, slog.LevelDebug, "hub stopped")

	for {
		if ctx.Err() != nil {
			h.unwind(ctx)
			return errtrace.Wrap(ctx.Err())
		}

		h.fireDue(ctx)

		if t, ok := h.popReady(); ok {
			h.step(ctx, t)
			continue
		}

		h.mu.Lock()
		live := len(h.tasks)
		next, hasNext := h.peekDeadlineLocked()
		h.mu.Unlock()

		if live == 0 {
			return nil
		}
		if !hasNext {
			h.unwind(ctx)
			return errtrace.Wrap(ErrDeadlocked)
		}
		h.sleepUntil(ctx, next)
	}
}

// Current implements [green.Scheduler].
// It returns the task executing at the time of the call, or nil when called
// from outside any task's turn.
func (h *Hub) Current() green.Task {
	if t := h.currentTask(); t != nil {
		return t
	}
	return nil
}

// ScheduleInject implements [green.Scheduler].
// It registers a one-shot callback firing after d that injects err into task
// at its suspension point at that moment.
func (h *Hub) ScheduleInject(d time.Duration, task green.Task, err error) green.Timer {
	t, ok := task.(*Task)
	if !ok || t == nil {
		panic(green.NewInvalidArgumentError("unknown task"))
	}
	if t.hub != h {
		panic(green.NewInvalidArgumentError("task belongs to another hub"))
	}
	if err == nil {
		panic(green.NewInvalidArgumentError("nil injection error"))
	}
	if d < 0 {
		panic(green.NewInvalidArgumentError("negative delay"))
	}

	h.mu.Lock()
	e := h.pushTimerLocked(d, t, err)
	h.mu.Unlock()
	h.notify()
	return e
}

func (h *Hub) currentTask() *Task {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.current
}

func (h *Hub) isClosed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

// notify interrupts an idle real-time wait, e.g. after an external Spawn.
func (h *Hub) notify() {
	select {
	case h.wakeCh <- struct{}{}:
	default:
	}
}

// pushTimerLocked registers a one-shot timer entry.
// Caller must hold h.mu.
func (h *Hub) pushTimerLocked(d time.Duration, t *Task, err error) *timerEntry {
	h.seq++
	e := &timerEntry{
		state:    timerStateRunning,
		deadline: h.clock.Now().Add(d),
		seq:      h.seq,
		task:     t,
		err:      err,
	}
	heap.Push(&h.timers, e)
	return e
}

// popDueLocked removes and returns the next entry due at now.
// Cancelled entries are discarded lazily. Caller must hold h.mu.
func (h *Hub) popDueLocked(now time.Time) *timerEntry {
	for len(h.timers) > 0 {
		e := h.timers[0]
		if e.stopped() {
			heap.Pop(&h.timers)
			continue
		}
		if e.deadline.After(now) {
			return nil
		}
		heap.Pop(&h.timers)
		return e
	}
	return nil
}

// peekDeadlineLocked returns the earliest live deadline.
// Caller must hold h.mu.
func (h *Hub) peekDeadlineLocked() (time.Time, bool) {
	for len(h.timers) > 0 {
		e := h.timers[0]
		if e.stopped() {
			heap.Pop(&h.timers)
			continue
		}
		return e.deadline, true
	}
	return time.Time{}, false
}

// fireDue fires every timer entry whose deadline has passed.
func (h *Hub) fireDue(ctx context.Context) {
	now := h.clock.Now()
	for {
		h.mu.Lock()
		e := h.popDueLocked(now)
		if e == nil {
			h.mu.Unlock()
			return
		}
		if !e.expire() {
			// lost the race with cancellation
			h.mu.Unlock()
			continue
		}

		t := e.task
		if e.err == nil {
			// wake-up of a sleeping task
			if t.wake == e {
				t.wake = nil
				h.scheduleLocked(t)
			}
			h.mu.Unlock()
			continue
		}

		delivered := h.injectLocked(t, e.err)
		h.mu.Unlock()
		if !delivered {
			h.log.LogAttrs(ctx, slog.LevelDebug, "injection dropped",
				slog.Any("task", green.Task(t)), slog.Any("error", e.err))
		}
	}
}

// injectLocked marks err for delivery on the task's next turn.
// A finished task and a task with an undelivered injection drop the error:
// the first injection wins. Caller must hold h.mu.
func (h *Hub) injectLocked(t *Task, err error) bool {
	if t.State() == TaskStateDone || t.injected != nil {
		return false
	}
	t.injected = err
	if t.State() == TaskStateSuspended {
		if t.wake != nil {
			t.wake.Cancel()
			t.wake = nil
		}
		if t.waitOn != nil {
			t.waitOn.removeWaiterLocked(t)
			t.waitOn = nil
		}
		h.scheduleLocked(t)
	}
	return true
}

// scheduleLocked moves a suspended task to the run queue.
// Caller must hold h.mu.
func (h *Hub) scheduleLocked(t *Task) {
	t.fireEvt(taskEvtSchedule)
	h.ready.Add(t)
}

func (h *Hub) popReady() (*Task, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.ready.Length() == 0 {
		return nil, false
	}
	return h.ready.Remove().(*Task), true //nolint:forcetypeassert
}

// step hands control to t for one turn and waits for it to yield back.
func (h *Hub) step(ctx context.Context, t *Task) {
	h.mu.Lock()
	h.current = t
	inj := t.injected
	t.injected = nil
	h.mu.Unlock()

	t.fireEvt(taskEvtRun)
	t.resume <- inj
	<-h.yielded

	h.mu.Lock()
	h.current = nil
	done := t.State() == TaskStateDone
	h.mu.Unlock()

	if done {
		h.finished(ctx, t)
	}
}

// finished retires a completed task and readies its waiters.
func (h *Hub) finished(ctx context.Context, t *Task) {
	h.mu.Lock()
	delete(h.tasks, t)
	waiters := t.waiters
	t.waiters = nil
	for _, w := range waiters {
		w.waitOn = nil
		h.scheduleLocked(w)
	}
	h.mu.Unlock()

	h.log.LogAttrs(ctx, slog.LevelDebug, "task finished",
		slog.Any("task", green.Task(t)), slog.Any("error", t.err))
}

// sleepUntil blocks until deadline, an external wake-up or ctx cancellation.
// With a [ManualClock] it advances virtual time to deadline instead.
func (h *Hub) sleepUntil(ctx context.Context, deadline time.Time) {
	if mc, ok := h.clock.(*ManualClock); ok {
		mc.AdvanceTo(deadline)
		return
	}

	d := deadline.Sub(h.clock.Now())
	if d <= 0 {
		return
	}
	tm := time.NewTimer(d)
	defer tm.Stop()
	select {
	case <-tm.C:
	case <-h.wakeCh:
	case <-ctx.Done():
	}
}

// unwind resumes every live task with [ErrStopped] until none remain,
// so that no task goroutine is left parked behind a stopped hub.
func (h *Hub) unwind(ctx context.Context) {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()

	for {
		h.mu.Lock()
		var t *Task
		if h.ready.Length() > 0 {
			t = h.ready.Remove().(*Task) //nolint:forcetypeassert
		} else {
			for task := range h.tasks {
				if task.State() == TaskStateSuspended {
					t = task
					break
				}
			}
			if t != nil {
				if t.wake != nil {
					t.wake.Cancel()
					t.wake = nil
				}
				if t.waitOn != nil {
					t.waitOn.removeWaiterLocked(t)
					t.waitOn = nil
				}
				t.fireEvt(taskEvtSchedule)
			}
		}
		if t == nil {
			h.mu.Unlock()
			return
		}
		if t.injected == nil {
			t.injected = ErrStopped
		}
		h.mu.Unlock()

		h.step(ctx, t)
	}
}
