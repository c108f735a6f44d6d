package testing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/zoobzio/clockz"

	"github.com/zoobzio/stepz"
)

func TestMockStep(t *testing.T) {
	ctx := context.Background()

	t.Run("Passes Input Through By Default", func(t *testing.T) {
		mock := NewMockStep[int](t, "mock-default")

		result, err := mock.Process(ctx, 7)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result != 7 {
			t.Errorf("expected 7, got %d", result)
		}
	})

	t.Run("Returns Configured Value", func(t *testing.T) {
		mock := NewMockStep[string](t, "mock-test")
		mock.WithReturn("mocked", nil)

		result, err := mock.Process(ctx, "input")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result != "mocked" {
			t.Errorf("expected 'mocked', got %q", result)
		}
	})

	t.Run("Returns Configured Error With Input", func(t *testing.T) {
		mock := NewMockStep[string](t, "mock-error")
		expectedErr := errors.New("test error")
		mock.WithError(expectedErr)

		result, err := mock.Process(ctx, "input")
		if !errors.Is(err, expectedErr) {
			t.Errorf("expected error %v, got %v", expectedErr, err)
		}
		if result != "input" {
			t.Errorf("expected input to be returned, got %q", result)
		}
	})

	t.Run("Records Inputs In Order", func(t *testing.T) {
		mock := NewMockStep[int](t, "mock-count")

		for i := 0; i < 5; i++ {
			_, _ = mock.Process(ctx, i) //nolint:errcheck
		}

		AssertProcessed(t, mock, 5)
		AssertProcessedWith(t, mock, 4)
		if got := mock.Inputs(); len(got) != 5 || got[0] != 0 || got[4] != 4 {
			t.Errorf("expected inputs 0..4, got %v", got)
		}
	})

	t.Run("Delay Waits On The Mock Clock", func(t *testing.T) {
		clock := clockz.NewFakeClock()
		mock := NewMockStep[int](t, "mock-clock").WithDelay(time.Minute).WithClock(clock)

		done := make(chan int, 1)
		go func() {
			result, _ := mock.Process(ctx, 5) //nolint:errcheck
			done <- result
		}()

		time.Sleep(10 * time.Millisecond)
		clock.Advance(time.Minute)
		clock.BlockUntilReady()

		select {
		case result := <-done:
			if result != 5 {
				t.Errorf("expected 5, got %d", result)
			}
		case <-time.After(time.Second):
			t.Fatal("delay did not end after the clock advanced")
		}
	})

	t.Run("Delay Honors Cancellation", func(t *testing.T) {
		mock := NewMockStep[int](t, "mock-delay").WithDelay(time.Second)
		cctx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
		defer cancel()

		start := time.Now()
		_, err := mock.Process(cctx, 1)
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("expected deadline exceeded, got %v", err)
		}
		if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
			t.Errorf("delay ignored cancellation, took %v", elapsed)
		}
	})

	t.Run("Panics When Configured", func(t *testing.T) {
		mock := NewMockStep[int](t, "mock-panic").WithPanic("boom")
		defer AssertProcessed(t, mock, 1)
		defer func() {
			if r := recover(); r == nil {
				t.Error("expected panic")
			}
		}()
		_, _ = mock.Process(ctx, 1) //nolint:errcheck
	})

	t.Run("Reset Clears Tracking", func(t *testing.T) {
		mock := NewMockStep[int](t, "mock-reset")
		_, _ = mock.Process(ctx, 3) //nolint:errcheck
		mock.Reset()

		AssertNotProcessed(t, mock)
		if mock.LastInput() != 0 || len(mock.Inputs()) != 0 {
			t.Errorf("expected no recorded inputs, got %v", mock.Inputs())
		}
	})

	t.Run("Named Uses Mock Name", func(t *testing.T) {
		mock := NewMockStep[int](t, "charge")
		if name := mock.Named().Name(); name != "charge" {
			t.Errorf("expected name 'charge', got %q", name)
		}
	})
}

func TestCounter(t *testing.T) {
	t.Run("Is Immutable", func(t *testing.T) {
		c := NewCounter(1)
		failed := c.Fail(stepz.TransientFailure, errors.New("down"))

		AssertStatus(t, c, stepz.Success)
		AssertStatus(t, failed, stepz.TransientFailure)
		if failed.Succeed().ErrorDetails() != nil {
			t.Error("expected Succeed to clear error details")
		}
	})

	t.Run("Satisfies Terminator", func(t *testing.T) {
		var term stepz.Terminator[Counter, int] = NewCounter(0)
		done := term.Terminate(9)
		if !stepz.Terminated(done) {
			t.Error("expected counter to be terminated")
		}
		if done.Result() != 9 {
			t.Errorf("expected result 9, got %d", done.Result())
		}
		if stepz.Terminated(done.Continue()) {
			t.Error("expected Continue to clear termination")
		}
	})

	t.Run("Carries Error Details", func(t *testing.T) {
		failed := NewCounter(0).Fail(stepz.PermanentFailure, nil)
		if err := stepz.CheckErrorDetails[error](failed); !errors.Is(err, stepz.ErrMissingErrorDetails) {
			t.Errorf("expected missing details error, got %v", err)
		}
	})
}

func TestFlaky(t *testing.T) {
	flaky := NewFlaky(2,
		func(c Counter) Counter { return c.Fail(stepz.TransientFailure, errors.New("flaky")) },
		func(c Counter) Counter { return c.Succeed() },
	)

	for i, want := range []stepz.Status{stepz.TransientFailure, stepz.TransientFailure, stepz.Success, stepz.Success} {
		result, err := flaky.Process(context.Background(), NewCounter(0))
		if err != nil {
			t.Fatalf("call %d: unexpected error: %v", i, err)
		}
		AssertStatus(t, result, want)
	}
	if flaky.Calls() != 4 {
		t.Errorf("expected 4 calls, got %d", flaky.Calls())
	}
}

func TestChaosStep(t *testing.T) {
	ctx := context.Background()
	base := stepz.ToAsync(func(n int) int { return n + 1 })

	t.Run("Always Fails At Full Rate", func(t *testing.T) {
		chaos := NewChaosStep("chaos-fail", base, ChaosConfig{FailureRate: 1, Seed: 7})
		for i := 0; i < 10; i++ {
			if _, err := chaos.Process(ctx, i); !errors.Is(err, ErrChaos) {
				t.Fatalf("expected ErrChaos, got %v", err)
			}
		}
		if stats := chaos.Stats(); stats.Calls != 10 || stats.Errors != 10 {
			t.Errorf("expected 10 errors in 10 calls, got %+v", stats)
		}
	})

	t.Run("Simulates Timeouts", func(t *testing.T) {
		chaos := NewChaosStep("chaos-timeout", base, ChaosConfig{TimeoutRate: 1, Seed: 7})
		if _, err := chaos.Process(ctx, 1); !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("expected deadline exceeded, got %v", err)
		}
		if chaos.Stats().Timeouts != 1 {
			t.Errorf("expected 1 timeout, got %d", chaos.Stats().Timeouts)
		}
	})

	t.Run("Zero Rates Run The Wrapped Step", func(t *testing.T) {
		chaos := NewChaosStep("chaos-none", base, ChaosConfig{Seed: 7})
		result, err := chaos.Process(ctx, 1)
		if err != nil || result != 2 {
			t.Errorf("expected 2, got %d, %v", result, err)
		}
		if stats := chaos.Stats(); stats.Calls != 1 || stats.Errors+stats.Timeouts+stats.Panics != 0 {
			t.Errorf("expected one clean call, got %+v", stats)
		}
	})

	t.Run("Same Seed Same Faults", func(t *testing.T) {
		config := ChaosConfig{FailureRate: 0.5, Seed: 99}
		a := NewChaosStep("a", base, config)
		b := NewChaosStep("b", base, config)
		for i := 0; i < 20; i++ {
			_, errA := a.Process(ctx, i)
			_, errB := b.Process(ctx, i)
			if errors.Is(errA, ErrChaos) != errors.Is(errB, ErrChaos) {
				t.Fatalf("call %d: seeded steps diverged", i)
			}
		}
	})
}
