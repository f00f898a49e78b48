// SPDX-License-Identifier: MIT

// Package safego wraps goroutine execution with panic recovery, turning
// an unexpected panic into the program's "assertion / invariant
// breach" path instead of a silent crash: the panic is logged with its
// stack trace and handed to a caller-supplied callback, which in this
// module always raises the death level to 5 before the process exits.
package safego

import (
	"fmt"
	"io"
	"runtime/debug"
)

// OnPanic is invoked with the recovered value and the captured stack
// once a wrapped goroutine panics.
type OnPanic func(recovered any, stack []byte)

// Go runs fn in a new goroutine, recovering any panic, logging it to
// logger (if non-nil), and invoking onPanic (if non-nil).
func Go(name string, logger io.Writer, fn func(), onPanic OnPanic) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				stack := debug.Stack()
				if logger != nil {
					_, _ = fmt.Fprintf(logger, "[PANIC in %s] %v\n%s\n", name, r, stack)
				}
				if onPanic != nil {
					onPanic(r, stack)
				}
			}
		}()
		fn()
	}()
}

// GoWithRecover is like Go but fn returns an error, which (along with
// any recovered panic converted to an error) is delivered on errCh.
// errCh is always closed exactly once so a single receive, or a
// for-range, never blocks forever.
func GoWithRecover(name string, logger io.Writer, fn func() error, errCh chan<- error, onPanic OnPanic) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				stack := debug.Stack()
				if logger != nil {
					_, _ = fmt.Fprintf(logger, "[PANIC in %s] %v\n%s\n", name, r, stack)
				}
				if onPanic != nil {
					onPanic(r, stack)
				}
				if errCh != nil {
					errCh <- fmt.Errorf("panic in %s: %v", name, r)
					close(errCh)
				}
			}
		}()

		err := fn()
		if errCh != nil {
			if err != nil {
				errCh <- err
			}
			close(errCh)
		}
	}()
}

// RecoverToPanic converts any panic inside fn into a returned error.
func RecoverToPanic(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}
