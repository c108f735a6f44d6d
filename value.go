package stepz

// MapValue lifts a Func over a state's single value into a Func over the
// state. The caller names S; V is inferred from fn:
//
//	double := stepz.MapValue[Counter](func(n int) int { return n * 2 })
func MapValue[S ValueProvider[S, V], V any](fn Func[V]) Func[S] {
	return func(state S) S {
		return state.WithValue(fn(state.Value()))
	}
}

// OnValue runs a Step over the state's single value and writes the result
// back. It is Scope specialized to ValueProvider.
func OnValue[S ValueProvider[S, V], V any](step Step[V]) Step[S] {
	return Scope(
		func(state S) V { return state.Value() },
		func(state S, value V) S { return state.WithValue(value) },
		step,
	)
}
