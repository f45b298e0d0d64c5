package green

import (
	"errors"
	"time"

	"braces.dev/errtrace"
)

// CallOption is an optional setting of [Call].
type CallOption[T any] func(*callOptions[T])

type callOptions[T any] struct {
	err      error
	value    T
	hasValue bool
}

// WithError sets an explicit error to inject when the call times out.
// An explicit error is always propagated to the caller, never converted
// into a timeout value.
func WithError[T any](err error) CallOption[T] {
	return func(o *callOptions[T]) { o.err = err }
}

// WithTimeoutValue sets the value returned by [Call] instead of an error
// when the call fails purely due to expiry.
func WithTimeoutValue[T any](v T) CallOption[T] {
	return func(o *callOptions[T]) {
		o.value = v
		o.hasValue = true
	}
}

// Call invokes fn bounded by a [Timeout] of d and returns its result.
// The timeout is cancelled on every outcome.
//
// When the timeout constructed by Call itself fires, the behavior depends
// on the options:
//   - with [WithTimeoutValue], Call returns that value and a nil error;
//   - otherwise the timeout is returned as the error, distinguishable from
//     any legitimate result by identity via [errors.Is].
//
// Every other failure is propagated unchanged: an error returned by fn, a
// different timeout's error raised inside fn, or an explicit [WithError]
// payload the caller intends to observe.
func Call[T any](s Scheduler, d time.Duration, fn func() (T, error), opts ...CallOption[T]) (T, error) {
	var o callOptions[T]
	for _, opt := range opts {
		opt(&o)
	}

	t := NewTimeout(s, d, &TimeoutOptions{Error: o.err})
	defer t.Cancel()

	v, err := fn()
	if err == nil {
		return v, nil
	}

	var zero T
	if o.err == nil && errors.Is(err, t) {
		if o.hasValue {
			return o.value, nil
		}
		return zero, errtrace.Wrap(err)
	}
	return zero, errtrace.Wrap(err)
}
