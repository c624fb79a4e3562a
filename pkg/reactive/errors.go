package reactive

import (
	"errors"
	"fmt"
	"runtime/debug"
)

// ErrRootClosed is returned by Dispatch after Close.
var ErrRootClosed = errors.New("reactive: root closed")

// PanicError carries a panic recovered by Catch.
type PanicError struct {
	Value any
	Stack []byte
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	return fmt.Sprintf("reactive: panic: %v", e.Value)
}

// Unwrap returns the panic value when it was itself an error.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// Catch runs fn and converts a panic into a *PanicError.
//
// It is meant for hosts that drive a graph and must survive a failing
// effect:
//
//	if err := reactive.Catch(func() { price.Set(10) }); err != nil {
//	    log.Println(err)
//	}
//
// The execution context is already consistent when Catch returns because
// every subscriber pops its frame while the panic unwinds.
func Catch(fn func()) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &PanicError{Value: p, Stack: debug.Stack()}
		}
	}()
	fn()
	return nil
}
