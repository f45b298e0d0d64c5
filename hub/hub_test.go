package hub_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"

	"github.com/ghettovoice/green"
	"github.com/ghettovoice/green/hub"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestHub() *hub.Hub {
	return hub.New(&hub.Options{Clock: hub.NewManualClock(time.Unix(0, 0))})
}

func TestHub_Run(t *testing.T) {
	t.Parallel()

	t.Run("empty hub returns immediately", func(t *testing.T) {
		t.Parallel()

		h := newTestHub()
		if err := h.Run(context.Background()); err != nil {
			t.Errorf("h.Run() = %v, want nil", err)
		}
	})

	t.Run("runs tasks to completion", func(t *testing.T) {
		t.Parallel()

		h := newTestHub()
		var order []string
		h.Spawn("a", func(task *hub.Task) error {
			order = append(order, "a1")
			if err := task.Sleep(2 * time.Second); err != nil {
				return err
			}
			order = append(order, "a2")
			return nil
		})
		h.Spawn("b", func(task *hub.Task) error {
			order = append(order, "b1")
			if err := task.Sleep(time.Second); err != nil {
				return err
			}
			order = append(order, "b2")
			return nil
		})

		if err := h.Run(context.Background()); err != nil {
			t.Fatalf("h.Run() = %v, want nil", err)
		}

		want := []string{"a1", "b1", "b2", "a2"}
		if diff := cmp.Diff(order, want); diff != "" {
			t.Errorf("execution order mismatch (-got +want):\n%v", diff)
		}
	})

	t.Run("reports task result", func(t *testing.T) {
		t.Parallel()

		h := newTestHub()
		want := errors.New("boom")
		task := h.Spawn("failing", func(*hub.Task) error { return want })

		if err := h.Run(context.Background()); err != nil {
			t.Fatalf("h.Run() = %v, want nil", err)
		}

		select {
		case <-task.Done():
		default:
			t.Fatal("task.Done() is not closed after run")
		}
		if got := task.Err(); !errors.Is(got, want) {
			t.Errorf("task.Err() = %v, want %v", got, want)
		}
		if got := task.State(); got != hub.TaskStateDone {
			t.Errorf("task.State() = %v, want %v", got, hub.TaskStateDone)
		}
	})

	t.Run("run inside run", func(t *testing.T) {
		t.Parallel()

		h := newTestHub()
		h.Spawn("again", func(*hub.Task) error {
			if err := h.Run(context.Background()); !errors.Is(err, hub.ErrRunning) {
				t.Errorf("nested h.Run() = %v, want %v", err, hub.ErrRunning)
			}
			return nil
		})
		if err := h.Run(context.Background()); err != nil {
			t.Fatalf("h.Run() = %v, want nil", err)
		}
	})

	t.Run("deadlocked tasks are unwound", func(t *testing.T) {
		t.Parallel()

		h := newTestHub()
		var t1, t2 *hub.Task
		t1 = h.Spawn("t1", func(task *hub.Task) error { return task.Join(t2) })
		t2 = h.Spawn("t2", func(task *hub.Task) error { return task.Join(t1) })

		if err := h.Run(context.Background()); !errors.Is(err, hub.ErrDeadlocked) {
			t.Fatalf("h.Run() = %v, want %v", err, hub.ErrDeadlocked)
		}
		if got := t1.Err(); !errors.Is(got, hub.ErrStopped) {
			t.Errorf("t1.Err() = %v, want %v", got, hub.ErrStopped)
		}
		if got := t2.Err(); !errors.Is(got, hub.ErrStopped) {
			t.Errorf("t2.Err() = %v, want %v", got, hub.ErrStopped)
		}
	})

	t.Run("context cancellation stops live tasks", func(t *testing.T) {
		t.Parallel()

		h := hub.New(nil) // system clock: the idle wait must notice cancellation
		task := h.Spawn("sleeper", func(task *hub.Task) error {
			return task.Sleep(10 * time.Second)
		})

		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			time.Sleep(10 * time.Millisecond)
			cancel()
		}()

		if err := h.Run(ctx); !errors.Is(err, context.Canceled) {
			t.Fatalf("h.Run() = %v, want %v", err, context.Canceled)
		}
		if got := task.Err(); !errors.Is(got, hub.ErrStopped) {
			t.Errorf("task.Err() = %v, want %v", got, hub.ErrStopped)
		}

		// the hub stays closed: late spawns finish without running
		late := h.Spawn("late", func(*hub.Task) error { return nil })
		if got := late.Err(); !errors.Is(got, hub.ErrStopped) {
			t.Errorf("late.Err() = %v, want %v", got, hub.ErrStopped)
		}
	})
}

func TestHub_Current(t *testing.T) {
	t.Parallel()

	h := newTestHub()
	if got := h.Current(); got != nil {
		t.Errorf("h.Current() = %v outside any task, want nil", got)
	}

	h.Spawn("self", func(task *hub.Task) error {
		if got := h.Current(); got != green.Task(task) {
			t.Errorf("h.Current() = %v, want %v", got, task)
		}
		return nil
	})
	if err := h.Run(context.Background()); err != nil {
		t.Fatalf("h.Run() = %v, want nil", err)
	}
}

func TestTask_Sleep(t *testing.T) {
	t.Parallel()

	t.Run("zero duration yields", func(t *testing.T) {
		t.Parallel()

		h := newTestHub()
		h.Spawn("zero", func(task *hub.Task) error { return task.Sleep(0) })
		if err := h.Run(context.Background()); err != nil {
			t.Errorf("h.Run() = %v, want nil", err)
		}
	})

	t.Run("negative duration errors", func(t *testing.T) {
		t.Parallel()

		h := newTestHub()
		task := h.Spawn("negative", func(task *hub.Task) error { return task.Sleep(-time.Second) })
		if err := h.Run(context.Background()); err != nil {
			t.Fatalf("h.Run() = %v, want nil", err)
		}
		if got := task.Err(); !errors.Is(got, green.ErrInvalidArgument) {
			t.Errorf("task.Err() = %v, want %v", got, green.ErrInvalidArgument)
		}
	})

	t.Run("blocking call from outside the task panics", func(t *testing.T) {
		t.Parallel()

		h := newTestHub()
		task := h.Spawn("idle", func(*hub.Task) error { return nil })

		func() {
			defer func() {
				if recover() == nil {
					t.Error("task.Sleep(1s) from outside the hub did not panic")
				}
			}()
			task.Sleep(time.Second) //nolint:errcheck
		}()

		if err := h.Run(context.Background()); err != nil {
			t.Fatalf("h.Run() = %v, want nil", err)
		}
	})
}

func TestTask_Yield(t *testing.T) {
	t.Parallel()

	h := newTestHub()
	var order []string
	h.Spawn("a", func(task *hub.Task) error {
		for range 3 {
			order = append(order, "a")
			if err := task.Yield(); err != nil {
				return err
			}
		}
		return nil
	})
	h.Spawn("b", func(task *hub.Task) error {
		for range 3 {
			order = append(order, "b")
			if err := task.Yield(); err != nil {
				return err
			}
		}
		return nil
	})

	if err := h.Run(context.Background()); err != nil {
		t.Fatalf("h.Run() = %v, want nil", err)
	}

	want := []string{"a", "b", "a", "b", "a", "b"}
	if diff := cmp.Diff(order, want); diff != "" {
		t.Errorf("execution order mismatch (-got +want):\n%v", diff)
	}
}

func TestTask_Join(t *testing.T) {
	t.Parallel()

	t.Run("waits for target", func(t *testing.T) {
		t.Parallel()

		h := newTestHub()
		var order []string
		worker := h.Spawn("worker", func(task *hub.Task) error {
			if err := task.Sleep(5 * time.Second); err != nil {
				return err
			}
			order = append(order, "worker done")
			return nil
		})
		h.Spawn("waiter", func(task *hub.Task) error {
			if err := task.Join(worker); err != nil {
				return err
			}
			order = append(order, "joined")
			return nil
		})

		if err := h.Run(context.Background()); err != nil {
			t.Fatalf("h.Run() = %v, want nil", err)
		}

		want := []string{"worker done", "joined"}
		if diff := cmp.Diff(order, want); diff != "" {
			t.Errorf("execution order mismatch (-got +want):\n%v", diff)
		}
	})

	t.Run("finished target returns immediately", func(t *testing.T) {
		t.Parallel()

		h := newTestHub()
		worker := h.Spawn("worker", func(*hub.Task) error { return nil })
		h.Spawn("waiter", func(task *hub.Task) error {
			if err := task.Sleep(time.Second); err != nil {
				return err
			}
			return task.Join(worker)
		})

		if err := h.Run(context.Background()); err != nil {
			t.Errorf("h.Run() = %v, want nil", err)
		}
	})

	t.Run("join self errors", func(t *testing.T) {
		t.Parallel()

		h := newTestHub()
		task := h.Spawn("self", func(task *hub.Task) error { return task.Join(task) })
		if err := h.Run(context.Background()); err != nil {
			t.Fatalf("h.Run() = %v, want nil", err)
		}
		if got := task.Err(); !errors.Is(got, green.ErrInvalidArgument) {
			t.Errorf("task.Err() = %v, want %v", got, green.ErrInvalidArgument)
		}
	})

	t.Run("join nil errors", func(t *testing.T) {
		t.Parallel()

		h := newTestHub()
		task := h.Spawn("nil", func(task *hub.Task) error { return task.Join(nil) })
		if err := h.Run(context.Background()); err != nil {
			t.Fatalf("h.Run() = %v, want nil", err)
		}
		if got := task.Err(); !errors.Is(got, green.ErrInvalidArgument) {
			t.Errorf("task.Err() = %v, want %v", got, green.ErrInvalidArgument)
		}
	})
}
