package stepz

import (
	"context"
	"errors"
)

// Catch runs step and intercepts one error type.
//
// When step returns an error that matches E (errors.As semantics, so a
// wrapped E also matches), handler receives the state that was passed to
// step together with the matched error, and its result replaces the state
// with a nil error. Any other error propagates unchanged.
//
// Only one error type is filtered per call. To handle several types, nest
// Catch calls; the innermost runs first.
//
// Catch is the bridge from the error channel to the status channel: a
// handler that returns a TransientFailure state makes the fault visible to
// an enclosing Retry.
//
// Example:
//
//	safe := stepz.Catch(fetch, func(r Request, err *net.OpError) Request {
//	    return r.Fail(stepz.TransientFailure, err)
//	})
func Catch[E error, S any](step Step[S], handler func(S, E) S) Step[S] {
	return func(ctx context.Context, state S) (S, error) {
		result, err := step(ctx, state)
		if err == nil {
			return result, nil
		}
		var target E
		if errors.As(err, &target) {
			return handler(state, target), nil
		}
		return state, err
	}
}

// CatchFunc is the synchronous form of Catch. A Func reports faults by
// panicking; CatchFunc recovers a panic whose value is an error matching E
// and hands it to handler. Any other panic is re-raised with its original
// value.
func CatchFunc[E error, S any](fn Func[S], handler func(S, E) S) Func[S] {
	return func(state S) (result S) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			err, ok := r.(error)
			if !ok {
				panic(r)
			}
			var target E
			if !errors.As(err, &target) {
				panic(r)
			}
			result = handler(state, target)
		}()
		return fn(state)
	}
}
