package stepz

import (
	"context"

	"github.com/zoobzio/clockz"

	"github.com/zoobzio/stepz/backoff"
)

// DelayOption configures a Delay step.
type DelayOption func(*delayConfig)

type delayConfig struct {
	clock clockz.Clock
	rnd   func() float64
}

// WithDelayClock sets the clock the delay waits on. Tests pass a fake clock.
func WithDelayClock(clock clockz.Clock) DelayOption {
	return func(c *delayConfig) {
		c.clock = clock
	}
}

// WithRandom sets the random source used for jitter. rnd must return values
// in [0, 1).
func WithRandom(rnd func() float64) DelayOption {
	return func(c *delayConfig) {
		c.rnd = rnd
	}
}

func newDelayConfig(opts []DelayOption) delayConfig {
	cfg := delayConfig{clock: clockz.RealClock}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.clock == nil {
		cfg.clock = clockz.RealClock
	}
	return cfg
}

// Delay returns a before-retry step that waits according to strategy.
//
// The attempt number comes from the context's FailureCount. Constant and
// Linear use it directly; Exponential uses FailureCount-1 so the first wait
// is the base delay. The context's CorrelationBase is advanced in place and
// returned, keeping exponential jitter decorrelated across one retry loop.
//
// The wait honors cancellation: if ctx is done first the context is
// returned with ctx.Err().
//
// Example:
//
//	retry := stepz.Retry(call, stepz.MaxFailures[Call](4),
//	    stepz.Delay[Call](backoff.Strategy{
//	        Kind:   backoff.Exponential,
//	        Base:   50 * time.Millisecond,
//	        Max:    2 * time.Second,
//	        Jitter: true,
//	    }),
//	)
func Delay[S Fail](strategy backoff.Strategy, opts ...DelayOption) Step[RetryContext[S]] {
	cfg := newDelayConfig(opts)
	return func(ctx context.Context, rc RetryContext[S]) (RetryContext[S], error) {
		attempt := rc.FailureCount
		if strategy.Kind == backoff.Exponential && attempt > 0 {
			attempt--
		}

		wait := backoff.Compute(strategy, attempt, &rc.CorrelationBase, cfg.rnd)
		if wait <= 0 {
			return rc, ctx.Err()
		}

		select {
		case <-cfg.clock.After(wait):
			return rc, nil
		case <-ctx.Done():
			return rc, ctx.Err()
		}
	}
}
