package stepz

import "context"

// Effect creates a step that performs a side effect and passes the state
// through unchanged. A returned error stops the pipeline like any other
// step error; it is not converted into a status.
//
// Use Effect for auditing, notifications and other work whose outcome must
// not alter the state.
//
// Example:
//
//	audit := stepz.Effect(func(ctx context.Context, p Payment) error {
//	    return auditLog.Record(ctx, "payment_processed", p.ID)
//	})
func Effect[S any](fn func(context.Context, S) error) Step[S] {
	return func(ctx context.Context, state S) (S, error) {
		if err := fn(ctx, state); err != nil {
			return state, err
		}
		return state, nil
	}
}
