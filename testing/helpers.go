// Package testing provides test utilities for stepz pipelines: a reference
// state type implementing every capability, scripted and flaky steps, a
// chaos step, and assertions.
//
// Example usage:
//
//	func TestCheckout(t *testing.T) {
//		charge := stepztest.NewMockStep[Order](t, "charge").WithReturn(paid, nil)
//
//		pipeline := stepz.Build(validate, charge.Step())
//		result, err := pipeline(context.Background(), order)
//
//		require.NoError(t, err)
//		assert.Equal(t, paid, result)
//		stepztest.AssertProcessed(t, charge, 1)
//	}
package testing

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/neilotoole/slogt"
	"github.com/zoobzio/clockz"
	"go.uber.org/atomic"

	"github.com/zoobzio/stepz"
)

// NewLogger returns a logger that writes through t.Log, so output is only
// shown for failing or verbose tests.
func NewLogger(t testing.TB) *slog.Logger {
	return slogt.New(t)
}

// mockReply is what a MockStep answers with.
type mockReply[S any] struct {
	state   S
	err     error
	panic   any
	delay   time.Duration
	replace bool
}

// MockStep is a scripted step. It records every input and answers with
// whatever the latest With* call configured; by default it passes the
// input through.
type MockStep[S any] struct {
	t      *testing.T
	clock  clockz.Clock
	calls  *atomic.Int64
	name   stepz.Name
	inputs []S
	reply  mockReply[S]
	mu     sync.Mutex
}

// NewMockStep creates a pass-through mock step.
func NewMockStep[S any](t *testing.T, name stepz.Name) *MockStep[S] {
	return &MockStep[S]{
		t:     t,
		name:  name,
		clock: clockz.RealClock,
		calls: atomic.NewInt64(0),
	}
}

func (m *MockStep[S]) configure(fn func(*mockReply[S])) *MockStep[S] {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(&m.reply)
	return m
}

// WithReturn makes the mock answer with state and err instead of its input.
func (m *MockStep[S]) WithReturn(state S, err error) *MockStep[S] {
	return m.configure(func(r *mockReply[S]) {
		r.state, r.err, r.replace = state, err, true
	})
}

// WithError makes the mock answer with its input and err.
func (m *MockStep[S]) WithError(err error) *MockStep[S] {
	return m.configure(func(r *mockReply[S]) {
		r.err, r.replace = err, false
	})
}

// WithDelay makes every call wait d on the mock's clock first. The wait
// ends early with ctx's error when ctx is done.
func (m *MockStep[S]) WithDelay(d time.Duration) *MockStep[S] {
	return m.configure(func(r *mockReply[S]) { r.delay = d })
}

// WithPanic makes every call panic with v.
func (m *MockStep[S]) WithPanic(v any) *MockStep[S] {
	return m.configure(func(r *mockReply[S]) { r.panic = v })
}

// WithClock sets the clock delays wait on.
func (m *MockStep[S]) WithClock(clock clockz.Clock) *MockStep[S] {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clock = clock
	return m
}

// Name returns the mock's name.
func (m *MockStep[S]) Name() stepz.Name { return m.name }

// Step returns the mock as a stepz.Step.
func (m *MockStep[S]) Step() stepz.Step[S] { return m.Process }

// Named returns the mock as a stepz.NamedStep carrying the mock's name.
func (m *MockStep[S]) Named() stepz.NamedStep[S] {
	return stepz.Named(m.name, m.Process)
}

// Process records state and answers as configured.
func (m *MockStep[S]) Process(ctx context.Context, state S) (S, error) {
	m.calls.Inc()
	m.mu.Lock()
	m.inputs = append(m.inputs, state)
	reply := m.reply
	clock := m.clock
	m.mu.Unlock()

	if reply.panic != nil {
		panic(reply.panic)
	}
	if reply.delay > 0 {
		select {
		case <-clock.After(reply.delay):
		case <-ctx.Done():
			return state, ctx.Err()
		}
	}
	if reply.replace {
		return reply.state, reply.err
	}
	return state, reply.err
}

// CallCount returns the number of calls so far.
func (m *MockStep[S]) CallCount() int {
	return int(m.calls.Load())
}

// Inputs returns a copy of every input received, oldest first.
func (m *MockStep[S]) Inputs() []S {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]S(nil), m.inputs...)
}

// LastInput returns the most recent input, or the zero value before the
// first call.
func (m *MockStep[S]) LastInput() S {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.inputs) == 0 {
		var zero S
		return zero
	}
	return m.inputs[len(m.inputs)-1]
}

// Reset forgets every recorded call. The configured reply is kept.
func (m *MockStep[S]) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls.Store(0)
	m.inputs = nil
}

// Flaky is a step that fails a fixed number of times before succeeding.
// Failures are reported through the status channel, never as errors.
type Flaky[S stepz.Fail] struct {
	failures int64
	calls    *atomic.Int64
	fail     func(S) S
	succeed  func(S) S
}

// NewFlaky creates a step whose first failures calls return fail(input);
// every later call returns succeed(input).
func NewFlaky[S stepz.Fail](failures int, fail, succeed func(S) S) *Flaky[S] {
	return &Flaky[S]{
		failures: int64(failures),
		calls:    atomic.NewInt64(0),
		fail:     fail,
		succeed:  succeed,
	}
}

// Process runs one attempt.
func (f *Flaky[S]) Process(_ context.Context, state S) (S, error) {
	if f.calls.Inc() <= f.failures {
		return f.fail(state), nil
	}
	return f.succeed(state), nil
}

// Step returns the flaky step as a stepz.Step.
func (f *Flaky[S]) Step() stepz.Step[S] {
	return f.Process
}

// Calls returns the number of attempts made.
func (f *Flaky[S]) Calls() int {
	return int(f.calls.Load())
}

// AssertProcessed fails t unless mock was called exactly n times.
func AssertProcessed[S any](t *testing.T, mock *MockStep[S], n int) {
	t.Helper()
	if got := mock.CallCount(); got != n {
		t.Errorf("step %s: expected %d calls, got %d", mock.name, n, got)
	}
}

// AssertNotProcessed fails t if mock was called.
func AssertNotProcessed[S any](t *testing.T, mock *MockStep[S]) {
	t.Helper()
	AssertProcessed(t, mock, 0)
}

// AssertProcessedWith fails t unless mock's most recent input is want.
func AssertProcessedWith[S comparable](t *testing.T, mock *MockStep[S], want S) {
	t.Helper()
	if mock.CallCount() == 0 {
		t.Errorf("step %s: expected a call with %v, got none", mock.name, want)
		return
	}
	if got := mock.LastInput(); got != want {
		t.Errorf("step %s: expected last input %v, got %v", mock.name, want, got)
	}
}

// AssertStatus fails t unless state carries want.
func AssertStatus(t *testing.T, state stepz.Fail, want stepz.Status) {
	t.Helper()
	if got := state.ExecutionStatus(); got != want {
		t.Errorf("expected status %s, got %s", want, got)
	}
}

// ErrChaos is returned by a ChaosStep when it injects an error.
var ErrChaos = errors.New("chaos step induced failure")

// Fault is what a ChaosStep does to one call.
type Fault uint8

// Faults.
const (
	FaultNone Fault = iota
	FaultError
	FaultTimeout
	FaultPanic
	faultCount
)

// ChaosConfig sets the probability of each fault. A single draw per call
// picks at most one fault, checked in the order panic, timeout, error.
type ChaosConfig struct {
	FailureRate float64       // Answer ErrChaos without running the wrapped step
	TimeoutRate float64       // Answer context.DeadlineExceeded
	PanicRate   float64       // Panic
	MaxLatency  time.Duration // Extra latency drawn uniformly from [0, MaxLatency)
	Seed        uint64        // Zero picks a random seed
}

// ChaosStats counts the calls of a ChaosStep by outcome.
type ChaosStats struct {
	Calls    int64
	Errors   int64
	Timeouts int64
	Panics   int64
}

// ChaosStep wraps a step and injects faults at configured rates.
type ChaosStep[S any] struct {
	wrapped stepz.Step[S]
	rng     *rand.Rand
	name    stepz.Name
	counts  [faultCount]atomic.Int64
	config  ChaosConfig
	mu      sync.Mutex
}

// NewChaosStep creates a chaos step around wrapped.
func NewChaosStep[S any](name stepz.Name, wrapped stepz.Step[S], config ChaosConfig) *ChaosStep[S] {
	seed := config.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}
	return &ChaosStep[S]{
		name:    name,
		wrapped: wrapped,
		config:  config,
		rng:     rand.New(rand.NewPCG(seed, ^seed)), //nolint:gosec // G404: reproducible fault injection
	}
}

// Name returns the chaos step's name.
func (c *ChaosStep[S]) Name() stepz.Name { return c.name }

// Step returns the chaos step as a stepz.Step.
func (c *ChaosStep[S]) Step() stepz.Step[S] { return c.Process }

func (c *ChaosStep[S]) draw() (Fault, time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var latency time.Duration
	if c.config.MaxLatency > 0 {
		latency = time.Duration(c.rng.Int64N(int64(c.config.MaxLatency)))
	}

	r := c.rng.Float64()
	for _, f := range []struct {
		fault Fault
		rate  float64
	}{
		{FaultPanic, c.config.PanicRate},
		{FaultTimeout, c.config.TimeoutRate},
		{FaultError, c.config.FailureRate},
	} {
		if r < f.rate {
			return f.fault, latency
		}
		r -= f.rate
	}
	return FaultNone, latency
}

// Process runs one call, possibly faulted.
func (c *ChaosStep[S]) Process(ctx context.Context, state S) (S, error) {
	fault, latency := c.draw()
	c.counts[fault].Inc()

	if fault == FaultPanic {
		panic("chaos step induced panic")
	}
	if latency > 0 {
		select {
		case <-time.After(latency):
		case <-ctx.Done():
			return state, ctx.Err()
		}
	}

	switch fault {
	case FaultTimeout:
		return state, context.DeadlineExceeded
	case FaultError:
		return state, ErrChaos
	default:
		return c.wrapped(ctx, state)
	}
}

// Stats returns the outcome counts so far.
func (c *ChaosStep[S]) Stats() ChaosStats {
	stats := ChaosStats{
		Errors:   c.counts[FaultError].Load(),
		Timeouts: c.counts[FaultTimeout].Load(),
		Panics:   c.counts[FaultPanic].Load(),
	}
	for i := range c.counts {
		stats.Calls += c.counts[i].Load()
	}
	return stats
}
