// Package green provides a cooperative timeout primitive for lightweight
// green tasks scheduled by a single-threaded hub.
//
// The central type is [Timeout]: it arranges for an error to be injected
// into the task that armed it if a blocking operation does not complete
// within a deadline. A Timeout is used either as an explicit resource
// (start/cancel) or as a scoped guard via [Timeout.Do], which cancels the
// timeout on every exit path and optionally suppresses the timeout's own
// error. [Call] wraps an arbitrary function with a Timeout and converts
// the expiry into a caller-supplied placeholder value.
//
// The package does not schedule tasks itself. Timed injection is delegated
// to a [Scheduler], implemented by the hub subpackage and substitutable in
// tests.
package green
