package stepz

import (
	"context"
	"sync"

	"github.com/zoobzio/hookz"
	"github.com/zoobzio/metricz"
	"golang.org/x/time/rate"
)

// ThrottleMode decides what a Throttle does when no token is available.
type ThrottleMode uint8

// Throttle modes.
const (
	// ThrottleWait blocks until a token is available or ctx is done.
	ThrottleWait ThrottleMode = iota
	// ThrottleDrop applies onLimited to the state immediately.
	ThrottleDrop
)

// Observability constants for the Throttle connector.
const (
	ThrottleAllowedTotal = metricz.Key("throttle.allowed.total")
	ThrottleLimitedTotal = metricz.Key("throttle.limited.total")

	ThrottleEventLimited = hookz.Key("throttle.limited")
)

// ThrottleEvent is emitted via hookz when a call is limited in drop mode.
type ThrottleEvent struct {
	Name Name
}

// Throttle is a token-bucket gate placed in front of a pipeline. It passes
// the state through unchanged once a token is granted.
//
// In ThrottleWait mode (the default) Process waits for a token; if ctx is
// done first it returns the input state and the context's error. In
// ThrottleDrop mode a call without a token is answered with onLimited,
// typically marking the state a TransientFailure so a Retry with a Delay
// paces the caller.
//
// Like Breaker, a Throttle is stateful and must be shared between runs.
//
// Example:
//
//	var paymentsThrottle = stepz.NewThrottle[Payment]("payments", 100, 10, nil)
//
//	charge := stepz.Build(paymentsThrottle.Process, chargeCard)
type Throttle[S any] struct {
	name      Name
	limiter   *rate.Limiter
	mode      ThrottleMode
	onLimited Func[S]
	mu        sync.RWMutex
	metrics   *metricz.Registry
	hooks     *hookz.Hooks[ThrottleEvent]
}

// NewThrottle creates a Throttle allowing ratePerSecond calls with bursts
// of up to burst.
func NewThrottle[S any](name Name, ratePerSecond float64, burst int, onLimited Func[S]) *Throttle[S] {
	metrics := metricz.New()
	metrics.Counter(ThrottleAllowedTotal)
	metrics.Counter(ThrottleLimitedTotal)

	return &Throttle[S]{
		name:      name,
		limiter:   rate.NewLimiter(rate.Limit(ratePerSecond), burst),
		mode:      ThrottleWait,
		onLimited: onLimited,
		metrics:   metrics,
		hooks:     hookz.New[ThrottleEvent](),
	}
}

// Process waits for, or tries to take, one token.
func (t *Throttle[S]) Process(ctx context.Context, state S) (S, error) {
	t.mu.RLock()
	limiter := t.limiter
	mode := t.mode
	onLimited := t.onLimited
	name := t.name
	t.mu.RUnlock()

	if mode == ThrottleDrop {
		if limiter.Allow() {
			t.metrics.Counter(ThrottleAllowedTotal).Inc()
			return state, nil
		}
		t.metrics.Counter(ThrottleLimitedTotal).Inc()
		_ = t.hooks.Emit(ctx, ThrottleEventLimited, ThrottleEvent{Name: name}) //nolint:errcheck
		if onLimited == nil {
			return state, nil
		}
		return onLimited(state), nil
	}

	if err := limiter.Wait(ctx); err != nil {
		return state, err
	}
	t.metrics.Counter(ThrottleAllowedTotal).Inc()
	return state, nil
}

// Step returns the Throttle as a plain Step.
func (t *Throttle[S]) Step() Step[S] {
	return t.Process
}

// SetRate updates the sustained rate.
func (t *Throttle[S]) SetRate(ratePerSecond float64) *Throttle[S] {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.limiter.SetLimit(rate.Limit(ratePerSecond))
	return t
}

// SetBurst updates the burst capacity.
func (t *Throttle[S]) SetBurst(burst int) *Throttle[S] {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.limiter.SetBurst(burst)
	return t
}

// SetMode sets the limiting mode.
func (t *Throttle[S]) SetMode(mode ThrottleMode) *Throttle[S] {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.mode = mode
	return t
}

// Rate returns the sustained rate.
func (t *Throttle[S]) Rate() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return float64(t.limiter.Limit())
}

// Burst returns the burst capacity.
func (t *Throttle[S]) Burst() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.limiter.Burst()
}

// Name returns the name of this connector.
func (t *Throttle[S]) Name() Name {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.name
}

// Metrics returns the metrics registry for this connector.
func (t *Throttle[S]) Metrics() *metricz.Registry {
	return t.metrics
}

// Close gracefully shuts down observability components.
func (t *Throttle[S]) Close() error {
	t.hooks.Close()
	return nil
}

// OnLimited registers a handler fired when drop mode limits a call.
func (t *Throttle[S]) OnLimited(handler func(context.Context, ThrottleEvent) error) error {
	_, err := t.hooks.Hook(ThrottleEventLimited, handler)
	return err
}
