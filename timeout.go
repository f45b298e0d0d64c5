package green

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"braces.dev/errtrace"

	"github.com/ghettovoice/green/internal/errorutil"
)

// Forever disables automatic firing of a [Timeout].
// A timeout created with Forever is never scheduled: it exists only to be
// raised manually or used as a scoped guard.
const Forever time.Duration = -1

// Timeout arranges for an error to be injected into the task that armed it
// after a fixed delay, unless cancelled first.
//
// A Timeout owns at most one scheduler registration at any time. It is
// created armed (see [NewTimeout]) and cancelled explicitly, by [Timeout.Do]
// on scope exit, or implicitly once the registration fires. The value itself
// implements the error interface and is the injected error unless an explicit
// payload is configured, so "did this timeout fire" is an identity check via
// [errors.Is].
type Timeout struct {
	sched    Scheduler
	duration time.Duration
	err      error
	silent   bool
	timer    Timer
}

// TimeoutOptions are optional settings of a [Timeout].
type TimeoutOptions struct {
	// Error is injected into the owning task when the timeout fires.
	// If nil, the timeout itself is injected.
	Error error
	// Silent marks the timeout's own error for suppression by [Timeout.Do]
	// when it exits due to exactly this timeout.
	// Silent and Error are mutually exclusive.
	Silent bool
}

func (o *TimeoutOptions) error() error {
	if o == nil {
		return nil
	}
	return o.Error
}

func (o *TimeoutOptions) isSilent() bool {
	if o == nil {
		return false
	}
	return o.Silent
}

// NewTimeout creates a new [Timeout] and immediately arms it, unless d is
// [Forever]. Any negative d is treated as Forever.
//
// The injection target is the task returned by s.Current() at arm time.
// Options are optional, default options are used if nil (see [TimeoutOptions]).
//
// NewTimeout panics when s is nil or when both an explicit error and the
// silent flag are set.
func NewTimeout(s Scheduler, d time.Duration, opts *TimeoutOptions) *Timeout {
	if s == nil {
		panic(NewInvalidArgumentError("nil scheduler"))
	}
	if opts.error() != nil && opts.isSilent() {
		panic(NewInvalidArgumentError("silent timeout with explicit error"))
	}

	if d < 0 {
		d = Forever
	}
	t := &Timeout{
		sched:    s,
		duration: d,
		err:      opts.error(),
		silent:   opts.isSilent(),
	}
	return t.Start()
}

// Start schedules the timeout and returns it.
//
// The injection target is captured eagerly: the error fires into the task
// that is current at the moment Start is called. Starting a timeout created
// with [Forever] is a no-op beyond the precondition check.
//
// Starting an already pending timeout is a programmer error and panics with
// [ErrTimeoutStarted].
func (t *Timeout) Start() *Timeout {
	if t.Pending() {
		panic(errorutil.NewWrapperError(ErrTimeoutStarted, "%s", t))
	}
	if t.duration == Forever {
		return t
	}

	err := t.err
	if err == nil {
		err = t
	}
	t.timer = t.sched.ScheduleInject(t.duration, t.sched.Current(), err)
	return t
}

// Pending reports whether the scheduler registration exists and has neither
// fired nor been cancelled. It is false for a timeout that was never armed,
// for a [Forever] timeout, and after firing or cancellation.
func (t *Timeout) Pending() bool {
	return t.timer != nil && t.timer.Pending()
}

// Cancel withdraws the scheduler registration if one exists.
// It is idempotent and safe to call whether or not the timeout ever fired.
func (t *Timeout) Cancel() {
	if t.timer != nil {
		t.timer.Cancel()
		t.timer = nil
	}
}

// Duration returns the configured delay, or [Forever].
func (t *Timeout) Duration() time.Duration { return t.duration }

// Err returns the explicit error payload, or nil when the timeout itself
// is the injected error.
func (t *Timeout) Err() error { return t.err }

// Silent reports whether the timeout's own error is suppressed by
// [Timeout.Do] on scope exit.
func (t *Timeout) Silent() bool { return t.silent }

// Do runs fn under the timeout.
//
// On entry the timeout is armed unless it already holds a registration.
// On exit the timeout is always cancelled, whatever path fn takes out.
// When the error returned by fn is this exact timeout instance and the
// timeout is silent, the error is suppressed and Do returns nil.
// Every other error, including a different timeout's error, is returned
// unchanged.
func (t *Timeout) Do(fn func() error) error {
	if t.timer == nil {
		t.Start()
	}
	defer t.Cancel()

	if err := fn(); err != nil {
		if t.silent && errors.Is(err, t) {
			return nil
		}
		return errtrace.Wrap(err)
	}
	return nil
}

// With creates a [Timeout] for d and runs fn under it via [Timeout.Do].
// The timeout is passed to fn so that it can be inspected or cancelled
// from inside the guarded region.
func With(s Scheduler, d time.Duration, opts *TimeoutOptions, fn func(*Timeout) error) error {
	t := NewTimeout(s, d, opts)
	return t.Do(func() error { return fn(t) }) //errtrace:skip
}

// Error returns the human-readable description of the timeout, used when the
// timeout itself surfaces as an uncaught error: "30 seconds",
// "30 seconds (silent)" or "30 seconds (<payload>)".
func (t *Timeout) Error() string {
	var sb strings.Builder
	if t.duration == Forever {
		sb.WriteString("timeout")
	} else {
		secs := t.duration.Seconds()
		sb.WriteString(strconv.FormatFloat(secs, 'f', -1, 64))
		if secs == 1 {
			sb.WriteString(" second")
		} else {
			sb.WriteString(" seconds")
		}
	}
	switch {
	case t.silent:
		sb.WriteString(" (silent)")
	case t.err != nil:
		sb.WriteString(" (")
		sb.WriteString(t.err.Error())
		sb.WriteString(")")
	}
	return sb.String()
}

// String returns the debugging description of the timeout, including its
// pending, silent and payload state.
func (t *Timeout) String() string {
	return fmt.Sprintf("green.Timeout[%p](duration=%v, pending=%v, silent=%v, error=%v)",
		t, t.duration, t.Pending(), t.silent, t.err)
}
