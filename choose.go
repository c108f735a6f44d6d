package stepz

import (
	"context"
	"maps"
)

// Choose evaluates selector against the current state on every invocation
// and immediately runs the selected step against that same state. The
// selection is never cached. A nil selection behaves like Current.
//
// Example:
//
//	route := stepz.Choose(func(r Request) stepz.Step[Request] {
//	    if r.IsAdmin {
//	        return adminFlow
//	    }
//	    return userFlow
//	})
func Choose[S any](selector func(S) Step[S]) Step[S] {
	return func(ctx context.Context, state S) (S, error) {
		step := selector(state)
		if step == nil {
			return state, nil
		}
		return step(ctx, state)
	}
}

// If runs then when predicate holds for the current state and passes the
// state through unchanged otherwise.
func If[S any](predicate func(S) bool, then Step[S]) Step[S] {
	return IfElse(predicate, then, Current[S]())
}

// IfElse runs then when predicate holds and otherwise runs otherwise.
func IfElse[S any](predicate func(S) bool, then, otherwise Step[S]) Step[S] {
	return func(ctx context.Context, state S) (S, error) {
		if predicate(state) {
			return then(ctx, state)
		}
		return otherwise(ctx, state)
	}
}

// Switch routes the state to the step registered under the key returned by
// condition. Keys without a route pass the state through unchanged.
//
// The routes map is copied when Switch is called; mutating it afterwards has
// no effect, so the returned step is safe for concurrent use.
//
// Example:
//
//	type PaymentRoute string
//
//	pay := stepz.Switch(
//	    func(o Order) PaymentRoute { return o.Method },
//	    map[PaymentRoute]stepz.Step[Order]{
//	        "card":   chargeCard,
//	        "crypto": chargeWallet,
//	    },
//	)
func Switch[S any, K comparable](condition func(S) K, routes map[K]Step[S]) Step[S] {
	routes = maps.Clone(routes)
	return Choose(func(state S) Step[S] {
		return routes[condition(state)]
	})
}

// ChooseFunc is the synchronous form of Choose.
func ChooseFunc[S any](selector func(S) Func[S]) Func[S] {
	return func(state S) S {
		fn := selector(state)
		if fn == nil {
			return state
		}
		return fn(state)
	}
}

// IfFunc is the synchronous form of If.
func IfFunc[S any](predicate func(S) bool, then Func[S]) Func[S] {
	return IfElseFunc(predicate, then, CurrentFunc[S]())
}

// IfElseFunc is the synchronous form of IfElse.
func IfElseFunc[S any](predicate func(S) bool, then, otherwise Func[S]) Func[S] {
	return func(state S) S {
		if predicate(state) {
			return then(state)
		}
		return otherwise(state)
	}
}
