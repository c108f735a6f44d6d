package stepz

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/zoobzio/clockz"
	"go.uber.org/atomic"
)

var errCircuitOpen = errors.New("circuit open")

func rejectOpen(j job) job { return j.fail(TransientFailure, errCircuitOpen) }

func TestBreaker(t *testing.T) {
	t.Run("Opens after consecutive failures", func(t *testing.T) {
		calls := 0
		step := func(_ context.Context, j job) (job, error) {
			calls++
			return j.fail(TransientFailure, errTest), nil
		}
		breaker := NewBreaker("inventory", step, 3, time.Minute, rejectOpen)
		defer breaker.Close()

		for range 3 {
			_, _ = breaker.Process(context.Background(), newJob(0)) //nolint:errcheck
		}
		if breaker.State() != BreakerOpen {
			t.Fatalf("expected open, got %s", breaker.State())
		}

		out, err := breaker.Process(context.Background(), newJob(0))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !errors.Is(out.err, errCircuitOpen) {
			t.Errorf("expected the onOpen state, got %+v", out)
		}
		if calls != 3 {
			t.Errorf("expected the step to be skipped while open, got %d calls", calls)
		}
		if got := breaker.Metrics().Counter(BreakerRejectedTotal).Value(); got != 1 {
			t.Errorf("expected 1 rejection, got %v", got)
		}
	})

	t.Run("Success resets the failure count", func(t *testing.T) {
		fail := true
		step := func(_ context.Context, j job) (job, error) {
			if fail {
				return j, errTest
			}
			return j, nil
		}
		breaker := NewBreaker("db", step, 2, time.Minute, rejectOpen)
		defer breaker.Close()

		_, _ = breaker.Process(context.Background(), newJob(0)) //nolint:errcheck
		fail = false
		_, _ = breaker.Process(context.Background(), newJob(0)) //nolint:errcheck
		fail = true
		_, err := breaker.Process(context.Background(), newJob(0))
		if !errors.Is(err, errTest) {
			t.Errorf("expected the step error to propagate, got %v", err)
		}
		if breaker.State() != BreakerClosed {
			t.Errorf("expected closed, got %s", breaker.State())
		}
	})

	t.Run("Half-open recovers or reopens", func(t *testing.T) {
		clock := clockz.NewFakeClock()
		healthy := false
		step := func(_ context.Context, j job) (job, error) {
			if healthy {
				return j.succeed(), nil
			}
			return j.fail(TransientFailure, errTest), nil
		}
		breaker := NewBreaker("api", step, 1, 10*time.Second, rejectOpen).WithClock(clock)
		defer breaker.Close()

		_, _ = breaker.Process(context.Background(), newJob(0)) //nolint:errcheck
		if breaker.State() != BreakerOpen {
			t.Fatalf("expected open, got %s", breaker.State())
		}

		clock.Advance(11 * time.Second)
		if breaker.State() != BreakerHalfOpen {
			t.Fatalf("expected half-open, got %s", breaker.State())
		}

		_, _ = breaker.Process(context.Background(), newJob(0)) //nolint:errcheck
		if breaker.State() != BreakerOpen {
			t.Fatalf("a half-open failure must reopen, got %s", breaker.State())
		}

		clock.Advance(11 * time.Second)
		healthy = true
		out, err := breaker.Process(context.Background(), newJob(0))
		if err != nil || !IsSuccess(out) {
			t.Fatalf("expected the trial call to succeed, got %+v, %v", out, err)
		}
		if breaker.State() != BreakerClosed {
			t.Errorf("expected closed, got %s", breaker.State())
		}
		if got := breaker.Metrics().Counter(BreakerOpenedTotal).Value(); got != 2 {
			t.Errorf("expected 2 openings, got %v", got)
		}
	})

	t.Run("Success threshold and reset", func(t *testing.T) {
		clock := clockz.NewFakeClock()
		breaker := NewBreaker("cfg", failWith(TransientFailure), 0, time.Second, nil).
			WithClock(clock).
			SetSuccessThreshold(2)
		defer breaker.Close()

		out, _ := breaker.Process(context.Background(), newJob(0)) //nolint:errcheck
		if !IsTransient(out) || breaker.State() != BreakerOpen {
			t.Fatalf("threshold 0 must behave as 1, got %s", breaker.State())
		}

		rejected, err := breaker.Process(context.Background(), newJob(9))
		if err != nil || rejected.n != 9 || !IsSuccess(rejected) {
			t.Errorf("nil onOpen must pass the input through, got %+v, %v", rejected, err)
		}

		breaker.Reset()
		if breaker.State() != BreakerClosed {
			t.Errorf("expected closed after reset, got %s", breaker.State())
		}
		if breaker.Name() != "cfg" {
			t.Errorf("unexpected name %s", breaker.Name())
		}
	})

	t.Run("Hooks fire on transitions", func(t *testing.T) {
		clock := clockz.NewFakeClock()
		healthy := false
		step := func(_ context.Context, j job) (job, error) {
			if healthy {
				return j, nil
			}
			return j, errTest
		}
		breaker := NewBreaker("hooks", step, 1, time.Second, rejectOpen).WithClock(clock)
		defer breaker.Close()

		var mu sync.Mutex
		var states []BreakerState
		record := func(_ context.Context, e BreakerEvent) error {
			mu.Lock()
			states = append(states, e.State)
			mu.Unlock()
			return nil
		}
		for _, register := range []func(func(context.Context, BreakerEvent) error) error{
			breaker.OnOpened, breaker.OnHalfOpen, breaker.OnClosed,
		} {
			if err := register(record); err != nil {
				t.Fatalf("hook registration failed: %v", err)
			}
		}

		_, _ = breaker.Process(context.Background(), newJob(0)) //nolint:errcheck
		clock.Advance(2 * time.Second)
		healthy = true
		_, _ = breaker.Process(context.Background(), newJob(0)) //nolint:errcheck

		time.Sleep(50 * time.Millisecond)
		mu.Lock()
		defer mu.Unlock()
		if len(states) != 3 {
			t.Fatalf("expected 3 transitions, got %v", states)
		}
		seen := map[BreakerState]bool{}
		for _, s := range states {
			seen[s] = true
		}
		if !seen[BreakerOpen] || !seen[BreakerHalfOpen] || !seen[BreakerClosed] {
			t.Errorf("expected open, half-open and closed, got %v", states)
		}
	})

	t.Run("Half-open admits one call at a time", func(t *testing.T) {
		clock := clockz.NewFakeClock()
		calls := atomic.NewInt32(0)
		healthy := atomic.NewBool(false)
		entered := make(chan struct{}, 1)
		release := make(chan struct{})
		step := func(_ context.Context, j job) (job, error) {
			calls.Inc()
			if !healthy.Load() {
				return j.fail(TransientFailure, errTest), nil
			}
			entered <- struct{}{}
			<-release
			return j.succeed(), nil
		}
		breaker := NewBreaker("single", step, 1, time.Second, rejectOpen).WithClock(clock)
		defer breaker.Close()

		_, _ = breaker.Process(context.Background(), newJob(0)) //nolint:errcheck
		clock.Advance(2 * time.Second)
		healthy.Store(true)

		results := make([]job, 3)
		var wg sync.WaitGroup
		for i := range results {
			wg.Add(1)
			go func() {
				defer wg.Done()
				results[i], _ = breaker.Process(context.Background(), newJob(i)) //nolint:errcheck
			}()
		}

		<-entered
		deadline := time.Now().Add(time.Second)
		for breaker.Metrics().Counter(BreakerRejectedTotal).Value() < 2 && time.Now().Before(deadline) {
			time.Sleep(time.Millisecond)
		}
		close(release)
		wg.Wait()

		if got := calls.Load(); got != 2 {
			t.Errorf("expected 1 failure and 1 trial call, got %d step calls", got)
		}
		rejected := 0
		for _, r := range results {
			if errors.Is(r.err, errCircuitOpen) {
				rejected++
			}
		}
		if rejected != 2 {
			t.Errorf("expected 2 calls answered by onOpen, got %d", rejected)
		}
		if breaker.State() != BreakerClosed {
			t.Errorf("expected the successful trial call to close the breaker, got %s", breaker.State())
		}
	})

	t.Run("Breaker feeds retry", func(t *testing.T) {
		breaker := NewBreaker("retry", failWith(TransientFailure), 2, time.Minute, rejectOpen)
		defer breaker.Close()

		out, err := Retry(breaker.Step(), MaxFailures[job](5))(context.Background(), newJob(0))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !errors.Is(out.err, errCircuitOpen) {
			t.Errorf("expected the breaker to answer once open, got %v", out.err)
		}
		if got := breaker.Metrics().Counter(BreakerRejectedTotal).Value(); got != 4 {
			t.Errorf("expected 4 rejections, got %v", got)
		}
	})
}

func TestBreakerStateString(t *testing.T) {
	cases := map[BreakerState]string{
		BreakerClosed:   "closed",
		BreakerOpen:     "open",
		BreakerHalfOpen: "half-open",
		BreakerState(9): "unknown",
	}
	for s, want := range cases {
		if got := s.String(); got != want {
			t.Errorf("expected %s, got %s", want, got)
		}
	}
}
