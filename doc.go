// Package stepz provides a small algebra of composable steps over immutable
// state values, together with retry, backoff and racing primitives.
//
// # Overview
//
// A step turns one state value into another. stepz never mutates a state in
// place: every operator receives a value and returns a new one, so a state is
// usually a plain struct copied by assignment.
//
// There are two step shapes:
//
//   - Func[S]: func(S) S, a pure synchronous mapping
//   - Step[S]: func(context.Context, S) (S, error), a blocking, cancellable call
//
// ToAsync lifts any Func into a Step without changing its behavior. Every
// operator is offered for Step; the operators that make sense without a
// context also exist for Func (BuildFunc, BindFunc, ChooseFunc, CatchFunc,
// OnErrorFunc, RetryFunc, ...).
//
// # Capabilities
//
// Operators constrain their state type with small structural interfaces
// rather than a type hierarchy:
//
//   - Fail: exposes ExecutionStatus (Success, TransientFailure, PermanentFailure)
//   - ErrorProvider[E]: Fail plus ErrorDetails
//   - Cancellable[S]: exposes a context.Context and a WithContext constructor
//   - Loggable: exposes a *slog.Logger
//   - ValueProvider[S, V]: exposes one value and a WithValue constructor
//
// A state type implements as many as the chosen operators require.
//
// # Two error channels
//
// Expected failures travel in the state as a Status. Retry, OnError and
// Fallback only ever look at the status. Unexpected faults travel as the
// error return of a Step (or a panic inside a Func) and are intercepted only
// by an explicit Catch for a specific error type. Errors are never wrapped:
// the caller of the top-level step receives exactly what the failing step
// returned.
//
// # Quick Start
//
//	type Order struct {
//	    Total  int
//	    status stepz.Status
//	}
//
//	func (o Order) ExecutionStatus() stepz.Status { return o.status }
//
//	charge := func(ctx context.Context, o Order) (Order, error) {
//	    if err := gateway.Charge(ctx, o.Total); err != nil {
//	        o.status = stepz.TransientFailure
//	        return o, nil
//	    }
//	    return o, nil
//	}
//
//	pipeline := stepz.Build(
//	    stepz.ToAsync(applyDiscount),
//	    stepz.Retry(charge,
//	        stepz.And(stepz.TransientOnly[Order](), stepz.MaxFailures[Order](5)),
//	        stepz.Delay[Order](backoff.Strategy{Kind: backoff.Exponential, Base: 200 * time.Millisecond, Jitter: true}),
//	    ),
//	)
//
//	result, err := pipeline(ctx, Order{Total: 100})
//
// # Observability
//
// The stateful connectors (Retrier, Racer, LoggedPipeline) carry a metricz
// registry, a tracez tracer and hookz hooks, exposed through Metrics, Tracer
// and the OnXxx registration methods. Logged pipelines additionally write
// structured slog records tagged with stable numeric event identifiers
// (see EventID).
package stepz
