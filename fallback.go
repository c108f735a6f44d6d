package stepz

import (
	"context"
	"slices"
)

// OnError runs step and, only when the resulting status is not Success,
// runs onError against that failing state and returns its result. A
// successful state is returned unchanged. Errors from step propagate without
// running onError.
//
// Example:
//
//	withCleanup := stepz.OnError(reserveAndCharge, releaseInventory)
func OnError[S Fail](step, onError Step[S]) Step[S] {
	return func(ctx context.Context, state S) (S, error) {
		result, err := step(ctx, state)
		if err != nil {
			return state, err
		}
		if result.ExecutionStatus() == Success {
			return result, nil
		}
		return onError(ctx, result)
	}
}

// Fallback tries each step against the original input, in order, until one
// yields Success. If every step fails the last failing state is returned.
// An error from any step stops the chain immediately.
//
// With no steps Fallback behaves like Current.
//
// Example:
//
//	lookup := stepz.Fallback(fromCache, fromReplica, fromPrimary)
func Fallback[S Fail](steps ...Step[S]) Step[S] {
	steps = slices.Clone(steps)
	return func(ctx context.Context, state S) (S, error) {
		last := state
		for _, step := range steps {
			result, err := step(ctx, state)
			if err != nil {
				return state, err
			}
			if result.ExecutionStatus() == Success {
				return result, nil
			}
			last = result
		}
		return last, nil
	}
}

// OnErrorFunc is the synchronous form of OnError.
func OnErrorFunc[S Fail](fn, onError Func[S]) Func[S] {
	return func(state S) S {
		result := fn(state)
		if result.ExecutionStatus() == Success {
			return result
		}
		return onError(result)
	}
}

// FallbackFunc is the synchronous form of Fallback.
func FallbackFunc[S Fail](fns ...Func[S]) Func[S] {
	fns = slices.Clone(fns)
	return func(state S) S {
		last := state
		for _, fn := range fns {
			result := fn(state)
			if result.ExecutionStatus() == Success {
				return result
			}
			last = result
		}
		return last
	}
}
