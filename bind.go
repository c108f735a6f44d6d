package stepz

import "context"

// Bind runs first, then feeds its output into second.
// If first returns an error, second does not run and the input state is
// returned with that error.
func Bind[S any](first, second Step[S]) Step[S] {
	return func(ctx context.Context, state S) (S, error) {
		next, err := first(ctx, state)
		if err != nil {
			return state, err
		}
		return second(ctx, next)
	}
}

// Scope adapts a step over an inner state shape to an outer one.
//
// wrap projects the outer state onto the part the inner step needs; unwrap
// folds the inner result back into the original outer state. The inner step
// only ever sees what wrap exposes, which makes it reusable as a
// sub-pipeline across different outer types.
//
// Example:
//
//	type Request struct {
//	    Headers http.Header
//	    Auth    Credentials
//	}
//
//	authenticate := stepz.Scope(
//	    func(r Request) Credentials { return r.Auth },
//	    func(r Request, c Credentials) Request { r.Auth = c; return r },
//	    refreshToken, // Step[Credentials]
//	)
func Scope[Outer, Inner any](
	wrap func(Outer) Inner,
	unwrap func(Outer, Inner) Outer,
	inner Step[Inner],
) Step[Outer] {
	return func(ctx context.Context, outer Outer) (Outer, error) {
		result, err := inner(ctx, wrap(outer))
		if err != nil {
			return outer, err
		}
		return unwrap(outer, result), nil
	}
}

// BindFunc is the synchronous form of Bind.
func BindFunc[S any](first, second Func[S]) Func[S] {
	return func(state S) S {
		return second(first(state))
	}
}

// ScopeFunc is the synchronous form of Scope.
func ScopeFunc[Outer, Inner any](
	wrap func(Outer) Inner,
	unwrap func(Outer, Inner) Outer,
	inner Func[Inner],
) Func[Outer] {
	return func(outer Outer) Outer {
		return unwrap(outer, inner(wrap(outer)))
	}
}
