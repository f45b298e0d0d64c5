package hub

import (
	"sync"
	"time"
)

// timerState represents the current state of a timer entry.
type timerState string

const (
	// timerStateRunning indicates the entry is waiting for its deadline.
	timerStateRunning timerState = "running"
	// timerStateStopped indicates the entry was cancelled before firing.
	timerStateStopped timerState = "stopped"
	// timerStateExpired indicates the entry has fired.
	timerStateExpired timerState = "expired"
)

// timerEntry is a single one-shot registration in the hub timer queue.
// A nil err marks a plain wake-up of a sleeping task; a non-nil err is
// injected into the task when the entry fires. Firing and cancellation are
// mutually exclusive: whichever transition happens first wins.
type timerEntry struct {
	mu    sync.Mutex
	state timerState

	deadline time.Time
	seq      uint64
	task     *Task
	err      error
}

// Pending reports whether the entry has neither fired nor been cancelled.
func (e *timerEntry) Pending() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state == timerStateRunning
}

// Cancel withdraws the entry if it has not yet fired.
// The entry stays in the queue and is discarded lazily.
func (e *timerEntry) Cancel() {
	e.mu.Lock()
	if e.state == timerStateRunning {
		e.state = timerStateStopped
	}
	e.mu.Unlock()
}

func (e *timerEntry) expire() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != timerStateRunning {
		return false
	}
	e.state = timerStateExpired
	return true
}

func (e *timerEntry) stopped() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state == timerStateStopped
}

// timerQueue is a min-heap of entries ordered by deadline,
// with the registration sequence as a stable tie-break.
type timerQueue []*timerEntry

func (q timerQueue) Len() int { return len(q) }

func (q timerQueue) Less(i, j int) bool {
	if q[i].deadline.Equal(q[j].deadline) {
		return q[i].seq < q[j].seq
	}
	return q[i].deadline.Before(q[j].deadline)
}

func (q timerQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *timerQueue) Push(x any) { *q = append(*q, x.(*timerEntry)) }

func (q *timerQueue) Pop() any {
	old := *q
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return e
}
