package stepz

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

var errThrottled = errors.New("throttled")

func TestThrottle(t *testing.T) {
	t.Run("Drop mode answers with onLimited", func(t *testing.T) {
		throttle := NewThrottle[job]("payments", 1, 2, func(j job) job {
			return j.fail(TransientFailure, errThrottled)
		}).SetMode(ThrottleDrop)
		defer throttle.Close()

		var mu sync.Mutex
		limited := 0
		if err := throttle.OnLimited(func(_ context.Context, e ThrottleEvent) error {
			mu.Lock()
			if e.Name == "payments" {
				limited++
			}
			mu.Unlock()
			return nil
		}); err != nil {
			t.Fatalf("hook registration failed: %v", err)
		}

		for i := range 2 {
			out, err := throttle.Process(context.Background(), newJob(i))
			if err != nil || !IsSuccess(out) || out.n != i {
				t.Fatalf("call %d: expected pass-through, got %+v, %v", i, out, err)
			}
		}
		out, err := throttle.Process(context.Background(), newJob(2))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !errors.Is(out.err, errThrottled) {
			t.Errorf("expected the limited state, got %+v", out)
		}

		if got := throttle.Metrics().Counter(ThrottleAllowedTotal).Value(); got != 2 {
			t.Errorf("expected 2 allowed, got %v", got)
		}
		if got := throttle.Metrics().Counter(ThrottleLimitedTotal).Value(); got != 1 {
			t.Errorf("expected 1 limited, got %v", got)
		}

		time.Sleep(50 * time.Millisecond)
		mu.Lock()
		defer mu.Unlock()
		if limited != 1 {
			t.Errorf("expected 1 limited event, got %d", limited)
		}
	})

	t.Run("Wait mode paces calls", func(t *testing.T) {
		throttle := NewThrottle[job]("fast", 200, 1, nil)
		defer throttle.Close()

		start := time.Now()
		for range 3 {
			if _, err := throttle.Process(context.Background(), newJob(0)); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		}
		if elapsed := time.Since(start); elapsed < 5*time.Millisecond {
			t.Errorf("expected calls to be paced, took %v", elapsed)
		}
	})

	t.Run("Wait mode honors cancellation", func(t *testing.T) {
		throttle := NewThrottle[job]("slow", 0.01, 1, nil)
		defer throttle.Close()

		if _, err := throttle.Process(context.Background(), newJob(0)); err != nil {
			t.Fatalf("first call should use the burst token: %v", err)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		out, err := throttle.Process(ctx, newJob(5))
		if err == nil {
			t.Fatal("expected an error when the wait cannot finish in time")
		}
		if out.n != 5 {
			t.Errorf("expected the input state, got %d", out.n)
		}
	})

	t.Run("Configuration", func(t *testing.T) {
		throttle := NewThrottle[job]("cfg", 10, 5, nil).SetRate(20).SetBurst(7)
		defer throttle.Close()

		if throttle.Rate() != 20 || throttle.Burst() != 7 || throttle.Name() != "cfg" {
			t.Errorf("unexpected configuration %v/%d/%s", throttle.Rate(), throttle.Burst(), throttle.Name())
		}
		if _, err := throttle.Step()(context.Background(), newJob(0)); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})
}
