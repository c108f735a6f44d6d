package stepz

import (
	"context"
	"errors"
	"slices"
	"testing"
)

func TestBuild(t *testing.T) {
	t.Run("Folds steps in order", func(t *testing.T) {
		pipeline := Build(add(1), times(2), visit("a"), visit("b"))

		result, err := pipeline(context.Background(), newJob(3))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.n != 8 {
			t.Errorf("expected 8, got %d", result.n)
		}
		if !slices.Equal(result.trail, []string{"a", "b"}) {
			t.Errorf("unexpected trail %v", result.trail)
		}
	})

	t.Run("Fold law holds for every prefix", func(t *testing.T) {
		steps := []Step[job]{add(1), times(3), add(-2), times(5)}
		for k := 0; k <= len(steps); k++ {
			direct := newJob(2)
			for _, step := range steps[:k] {
				var err error
				direct, err = step(context.Background(), direct)
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
			}
			built, err := Build(steps[:k]...)(context.Background(), newJob(2))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if built.n != direct.n {
				t.Errorf("prefix %d: expected %d, got %d", k, direct.n, built.n)
			}
		}
	})

	t.Run("Empty build is identity", func(t *testing.T) {
		result, err := Build[job]()(context.Background(), newJob(7))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.n != 7 {
			t.Errorf("expected 7, got %d", result.n)
		}
	})

	t.Run("Caller slice changes do not leak in", func(t *testing.T) {
		steps := []Step[job]{add(1)}
		pipeline := Build(steps...)
		steps[0] = add(100)

		result, _ := pipeline(context.Background(), newJob(0)) //nolint:errcheck
		if result.n != 1 {
			t.Errorf("expected 1, got %d", result.n)
		}
	})

	t.Run("Error stops the fold", func(t *testing.T) {
		ran := false
		pipeline := Build(add(1), returnError(errTest), ToAsync(func(j job) job {
			ran = true
			return j
		}))

		result, err := pipeline(context.Background(), newJob(1))
		if !errors.Is(err, errTest) {
			t.Fatalf("expected errTest, got %v", err)
		}
		if ran {
			t.Error("step after the error should not run")
		}
		if result.n != 2 {
			t.Errorf("expected last good state 2, got %d", result.n)
		}
	})

	t.Run("Failure status does not stop the fold", func(t *testing.T) {
		result, err := Build(failWith(TransientFailure), add(1))(context.Background(), newJob(0))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.n != 1 || !IsTransient(result) {
			t.Errorf("expected transient state with n=1, got %+v", result)
		}
	})
}

func TestBuildUntil(t *testing.T) {
	over25 := func(j job) bool { return j.n > 25 }
	pipeline := BuildUntil(over25, times(5), times(5))

	t.Run("Runs every step when the predicate never holds", func(t *testing.T) {
		result, err := pipeline(context.Background(), newJob(1))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.n != 25 {
			t.Errorf("expected 25, got %d", result.n)
		}
	})

	t.Run("Stops before the next step once the predicate holds", func(t *testing.T) {
		result, err := pipeline(context.Background(), newJob(6))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.n != 30 {
			t.Errorf("expected 30, got %d", result.n)
		}
	})

	t.Run("Predicate is checked before the first step", func(t *testing.T) {
		result, err := pipeline(context.Background(), newJob(26))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.n != 26 {
			t.Errorf("expected 26, got %d", result.n)
		}
	})

	t.Run("Predicate is not consulted after the last step", func(t *testing.T) {
		var seen []int
		record := func(j job) bool {
			seen = append(seen, j.n)
			return false
		}
		_, _ = BuildUntil(record, times(2), times(2))(context.Background(), newJob(1)) //nolint:errcheck
		if !slices.Equal(seen, []int{1, 2}) {
			t.Errorf("expected predicate calls [1 2], got %v", seen)
		}
	})
}

func TestBuildFunc(t *testing.T) {
	double := MapValue[job](func(v int) int { return v * 2 })
	inc := MapValue[job](func(v int) int { return v + 1 })

	t.Run("Folds in order", func(t *testing.T) {
		if got := BuildFunc(inc, double)(newJob(3)).n; got != 8 {
			t.Errorf("expected 8, got %d", got)
		}
		if got := BuildFunc[job]()(newJob(3)).n; got != 3 {
			t.Errorf("expected identity, got %d", got)
		}
	})

	t.Run("Until matches the async form", func(t *testing.T) {
		x5 := MapValue[job](func(v int) int { return v * 5 })
		fn := BuildFuncUntil(func(j job) bool { return j.n > 25 }, x5, x5)
		if got := fn(newJob(1)).n; got != 25 {
			t.Errorf("expected 25, got %d", got)
		}
		if got := fn(newJob(6)).n; got != 30 {
			t.Errorf("expected 30, got %d", got)
		}
	})

	t.Run("Current is identity", func(t *testing.T) {
		if got := CurrentFunc[job]()(newJob(4)).n; got != 4 {
			t.Errorf("expected 4, got %d", got)
		}
		result, err := Current[job]()(context.Background(), newJob(4))
		if err != nil || result.n != 4 {
			t.Errorf("expected 4 and no error, got %d, %v", result.n, err)
		}
	})
}

func TestToAsync(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	step := ToAsync(MapValue[job](func(v int) int { return v + 1 }))
	result, err := step(ctx, newJob(1))
	if err != nil {
		t.Fatalf("lifted step must ignore the context, got %v", err)
	}
	if result.n != 2 {
		t.Errorf("expected 2, got %d", result.n)
	}
}
