package stepz

import (
	"context"
	"slices"
	"sync"
	"testing"
)

func TestChoose(t *testing.T) {
	t.Run("Selector runs on every invocation", func(t *testing.T) {
		calls := 0
		step := Choose(func(j job) Step[job] {
			calls++
			if j.n%2 == 0 {
				return visit("even")
			}
			return visit("odd")
		})

		even, _ := step(context.Background(), newJob(2)) //nolint:errcheck
		odd, _ := step(context.Background(), newJob(3))  //nolint:errcheck
		if even.trail[0] != "even" || odd.trail[0] != "odd" {
			t.Errorf("unexpected routing: %v / %v", even.trail, odd.trail)
		}
		if calls != 2 {
			t.Errorf("expected selector to run twice, got %d", calls)
		}
	})

	t.Run("Nil selection is identity", func(t *testing.T) {
		step := Choose(func(job) Step[job] { return nil })
		out, err := step(context.Background(), newJob(5))
		if err != nil || out.n != 5 {
			t.Errorf("expected identity, got %d, %v", out.n, err)
		}
	})
}

func TestIf(t *testing.T) {
	positive := func(j job) bool { return j.n > 0 }

	t.Run("Runs then when the predicate holds", func(t *testing.T) {
		out, _ := If(positive, times(3))(context.Background(), newJob(2)) //nolint:errcheck
		if out.n != 6 {
			t.Errorf("expected 6, got %d", out.n)
		}
	})

	t.Run("Passes through otherwise", func(t *testing.T) {
		out, _ := If(positive, times(3))(context.Background(), newJob(-2)) //nolint:errcheck
		if out.n != -2 {
			t.Errorf("expected -2, got %d", out.n)
		}
	})

	t.Run("IfElse picks a branch", func(t *testing.T) {
		step := IfElse(positive, visit("then"), visit("else"))
		a, _ := step(context.Background(), newJob(1))  //nolint:errcheck
		b, _ := step(context.Background(), newJob(-1)) //nolint:errcheck
		if a.trail[0] != "then" || b.trail[0] != "else" {
			t.Errorf("unexpected branches %v / %v", a.trail, b.trail)
		}
	})

	t.Run("Sync forms", func(t *testing.T) {
		triple := MapValue[job](func(v int) int { return v * 3 })
		negate := MapValue[job](func(v int) int { return -v })
		if got := IfFunc(positive, triple)(newJob(2)).n; got != 6 {
			t.Errorf("expected 6, got %d", got)
		}
		if got := IfElseFunc(positive, triple, negate)(newJob(-4)).n; got != 4 {
			t.Errorf("expected 4, got %d", got)
		}
		pick := ChooseFunc(func(j job) Func[job] {
			if j.n == 0 {
				return nil
			}
			return negate
		})
		if got := pick(newJob(0)).n; got != 0 {
			t.Errorf("expected identity for nil selection, got %d", got)
		}
		if got := pick(newJob(3)).n; got != -3 {
			t.Errorf("expected -3, got %d", got)
		}
	})
}

type tier string

func TestSwitch(t *testing.T) {
	classify := func(j job) tier {
		switch {
		case j.n >= 100:
			return "gold"
		case j.n >= 10:
			return "silver"
		default:
			return "bronze"
		}
	}

	t.Run("Routes by key", func(t *testing.T) {
		step := Switch(classify, map[tier]Step[job]{
			"gold":   visit("gold"),
			"silver": visit("silver"),
		})
		for n, want := range map[int][]string{150: {"gold"}, 50: {"silver"}, 1: nil} {
			out, err := step(context.Background(), newJob(n))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !slices.Equal(out.trail, want) {
				t.Errorf("n=%d: expected %v, got %v", n, want, out.trail)
			}
		}
	})

	t.Run("Routes are copied", func(t *testing.T) {
		routes := map[tier]Step[job]{"bronze": visit("bronze")}
		step := Switch(classify, routes)
		routes["bronze"] = visit("changed")

		out, _ := step(context.Background(), newJob(1)) //nolint:errcheck
		if out.trail[0] != "bronze" {
			t.Errorf("expected original route, got %v", out.trail)
		}
	})

	t.Run("Safe for concurrent use", func(t *testing.T) {
		step := Switch(classify, map[tier]Step[job]{"silver": add(1)})
		var wg sync.WaitGroup
		for i := range 50 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				out, err := step(context.Background(), newJob(10+i))
				if err != nil || out.n != 11+i {
					t.Errorf("unexpected result %d, %v", out.n, err)
				}
			}()
		}
		wg.Wait()
	})
}
