package stepz

import (
	"context"
	"slices"
)

// Build returns a step that folds the input state through steps in slice
// order, feeding each output into the next step. The steps slice is copied,
// so later changes by the caller do not affect the pipeline.
//
// Build never reorders or parallelizes: each step finishes before the next
// one starts. If a step returns an error the fold stops and the error is
// returned together with the state that was handed to the failing step.
//
// Example:
//
//	pipeline := stepz.Build(validate, enrich, persist)
//	result, err := pipeline(ctx, input)
func Build[S any](steps ...Step[S]) Step[S] {
	steps = slices.Clone(steps)
	return func(ctx context.Context, state S) (S, error) {
		for _, step := range steps {
			next, err := step(ctx, state)
			if err != nil {
				return state, err
			}
			state = next
		}
		return state, nil
	}
}

// BuildUntil is Build with an early exit. Immediately before each step,
// shouldTerminate is consulted with the current accumulated state; when it
// reports true the fold stops and that state is returned unchanged, and the
// remaining steps do not run.
//
// The predicate is never consulted after the last step.
func BuildUntil[S any](shouldTerminate func(S) bool, steps ...Step[S]) Step[S] {
	steps = slices.Clone(steps)
	return func(ctx context.Context, state S) (S, error) {
		for _, step := range steps {
			if shouldTerminate(state) {
				return state, nil
			}
			next, err := step(ctx, state)
			if err != nil {
				return state, err
			}
			state = next
		}
		return state, nil
	}
}

// Current returns the identity step. It is the default branch target for
// If and Choose.
func Current[S any]() Step[S] {
	return func(_ context.Context, state S) (S, error) {
		return state, nil
	}
}

// BuildFunc is the synchronous form of Build.
func BuildFunc[S any](fns ...Func[S]) Func[S] {
	fns = slices.Clone(fns)
	return func(state S) S {
		for _, fn := range fns {
			state = fn(state)
		}
		return state
	}
}

// BuildFuncUntil is the synchronous form of BuildUntil.
func BuildFuncUntil[S any](shouldTerminate func(S) bool, fns ...Func[S]) Func[S] {
	fns = slices.Clone(fns)
	return func(state S) S {
		for _, fn := range fns {
			if shouldTerminate(state) {
				return state
			}
			state = fn(state)
		}
		return state
	}
}

// CurrentFunc returns the synchronous identity step.
func CurrentFunc[S any]() Func[S] {
	return func(state S) S { return state }
}
