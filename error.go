package stepz

import (
	"context"
	"errors"
)

// ErrNilStep is returned by a Retrier configured without a step or policy.
var ErrNilStep = errors.New("step is nil")

// PanicError carries a panic recovered from a step by Recover.
type PanicError struct {
	Value any
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	if err, ok := e.Value.(error); ok {
		return "step panicked: " + err.Error()
	}
	return "step panicked"
}

// Unwrap returns the panic value when it is an error, so errors.As can
// match it through Catch.
func (e *PanicError) Unwrap() error {
	err, _ := e.Value.(error)
	return err
}

// Recover converts a panic inside step into a *PanicError returned with the
// input state. Wrap it in Catch to turn a panic into a status.
func Recover[S any](step Step[S]) Step[S] {
	return func(ctx context.Context, state S) (result S, err error) {
		defer func() {
			if r := recover(); r != nil {
				result = state
				err = &PanicError{Value: r}
			}
		}()
		return step(ctx, state)
	}
}
