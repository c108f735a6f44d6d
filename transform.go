package stepz

import "context"

// Transform creates a step from an infallible, context-aware function.
// Transform never returns an error; use it when the function needs values
// carried by the context but cannot fail. For functions that ignore the
// context, ToAsync is enough.
//
// Example:
//
//	stamp := stepz.Transform(func(ctx context.Context, o Order) Order {
//	    o.TenantID = tenant.FromContext(ctx)
//	    return o
//	})
func Transform[S any](fn func(context.Context, S) S) Step[S] {
	return func(ctx context.Context, state S) (S, error) {
		return fn(ctx, state), nil
	}
}
