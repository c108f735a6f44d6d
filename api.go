package stepz

import "context"

// Name is a type alias for step and connector names.
// Using this type encourages storing names as constants rather than
// using inline strings throughout your code.
//
// Example:
//
//	const (
//	    ValidateOrderName Name = "validate-order"
//	    ChargeOrderName   Name = "charge-order"
//	)
type Name = string

// Func is the synchronous step shape: a pure mapping from one state value
// to the next. A Func never blocks on I/O and has no error return; a fault
// inside a Func surfaces as a panic, which only CatchFunc intercepts.
type Func[S any] func(S) S

// Step is the asynchronous step shape. It may block, must honor ctx, and
// reports unexpected faults through its error return.
//
// Expected, business-level failures are not errors: a step that wants to be
// retried returns a state whose ExecutionStatus is TransientFailure or
// PermanentFailure together with a nil error. Returning an error bypasses
// every retry policy and stops the enclosing pipeline immediately.
//
// When a Step returns a non-nil error the accompanying state is undefined
// by convention; operators in this package return the last good state they
// held.
type Step[S any] func(context.Context, S) (S, error)

// ToAsync lifts a synchronous Func into the Step shape. The returned step
// ignores the context and never returns an error.
func ToAsync[S any](fn Func[S]) Step[S] {
	return func(_ context.Context, state S) (S, error) {
		return fn(state), nil
	}
}
