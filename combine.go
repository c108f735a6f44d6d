package stepz

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Tuple2 is a pair of independently typed states.
type Tuple2[A, B any] struct {
	First  A
	Second B
}

// NewTuple2 creates a Tuple2.
func NewTuple2[A, B any](a A, b B) Tuple2[A, B] {
	return Tuple2[A, B]{First: a, Second: b}
}

// Tuple3 is a triple of independently typed states.
type Tuple3[A, B, C any] struct {
	First  A
	Second B
	Third  C
}

// NewTuple3 creates a Tuple3.
func NewTuple3[A, B, C any](a A, b B, c C) Tuple3[A, B, C] {
	return Tuple3[A, B, C]{First: a, Second: b, Third: c}
}

// CombineSequential2 runs a over the first element and then b over the
// second. The first error stops the combination and the input tuple is
// returned with it.
func CombineSequential2[A, B any](a Step[A], b Step[B]) Step[Tuple2[A, B]] {
	return func(ctx context.Context, in Tuple2[A, B]) (Tuple2[A, B], error) {
		first, err := a(ctx, in.First)
		if err != nil {
			return in, err
		}
		second, err := b(ctx, in.Second)
		if err != nil {
			return in, err
		}
		return NewTuple2(first, second), nil
	}
}

// CombineSequential3 is CombineSequential2 over three elements.
func CombineSequential3[A, B, C any](a Step[A], b Step[B], c Step[C]) Step[Tuple3[A, B, C]] {
	return func(ctx context.Context, in Tuple3[A, B, C]) (Tuple3[A, B, C], error) {
		first, err := a(ctx, in.First)
		if err != nil {
			return in, err
		}
		second, err := b(ctx, in.Second)
		if err != nil {
			return in, err
		}
		third, err := c(ctx, in.Third)
		if err != nil {
			return in, err
		}
		return NewTuple3(first, second, third), nil
	}
}

// CombineParallel2 runs a and b concurrently and waits for both. The first
// error cancels the context passed to the other step and is returned with
// the input tuple.
//
// Example:
//
//	both := stepz.CombineParallel2(fetchProfile, fetchOrders)
//	out, err := both(ctx, stepz.NewTuple2(profileReq, ordersReq))
func CombineParallel2[A, B any](a Step[A], b Step[B]) Step[Tuple2[A, B]] {
	return func(ctx context.Context, in Tuple2[A, B]) (Tuple2[A, B], error) {
		group, subCtx := errgroup.WithContext(ctx)
		out := in
		group.Go(func() error {
			var err error
			out.First, err = a(subCtx, in.First)
			return err
		})
		group.Go(func() error {
			var err error
			out.Second, err = b(subCtx, in.Second)
			return err
		})
		if err := group.Wait(); err != nil {
			return in, err
		}
		return out, nil
	}
}

// CombineParallel3 is CombineParallel2 over three elements.
func CombineParallel3[A, B, C any](a Step[A], b Step[B], c Step[C]) Step[Tuple3[A, B, C]] {
	return func(ctx context.Context, in Tuple3[A, B, C]) (Tuple3[A, B, C], error) {
		group, subCtx := errgroup.WithContext(ctx)
		out := in
		group.Go(func() error {
			var err error
			out.First, err = a(subCtx, in.First)
			return err
		})
		group.Go(func() error {
			var err error
			out.Second, err = b(subCtx, in.Second)
			return err
		})
		group.Go(func() error {
			var err error
			out.Third, err = c(subCtx, in.Third)
			return err
		})
		if err := group.Wait(); err != nil {
			return in, err
		}
		return out, nil
	}
}

// EachSequential runs step over every element of a slice, in order. The
// input slice is never modified.
func EachSequential[S any](step Step[S]) Step[[]S] {
	return func(ctx context.Context, in []S) ([]S, error) {
		out := make([]S, len(in))
		for i, s := range in {
			next, err := step(ctx, s)
			if err != nil {
				return in, err
			}
			out[i] = next
		}
		return out, nil
	}
}

// EachParallel runs step over every element of a slice concurrently. Output
// order matches input order. The first error cancels the remaining elements
// and is returned with the input slice.
func EachParallel[S any](step Step[S]) Step[[]S] {
	return func(ctx context.Context, in []S) ([]S, error) {
		group, subCtx := errgroup.WithContext(ctx)
		out := make([]S, len(in))
		for i, s := range in {
			group.Go(func() error {
				next, err := step(subCtx, s)
				if err != nil {
					return err
				}
				out[i] = next
				return nil
			})
		}
		if err := group.Wait(); err != nil {
			return in, err
		}
		return out, nil
	}
}

// CombineSequential2Func is the synchronous form of CombineSequential2.
func CombineSequential2Func[A, B any](a Func[A], b Func[B]) Func[Tuple2[A, B]] {
	return func(in Tuple2[A, B]) Tuple2[A, B] {
		return NewTuple2(a(in.First), b(in.Second))
	}
}

// CombineSequential3Func is the synchronous form of CombineSequential3.
func CombineSequential3Func[A, B, C any](a Func[A], b Func[B], c Func[C]) Func[Tuple3[A, B, C]] {
	return func(in Tuple3[A, B, C]) Tuple3[A, B, C] {
		return NewTuple3(a(in.First), b(in.Second), c(in.Third))
	}
}
