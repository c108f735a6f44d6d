package stepz

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/zoobzio/clockz"
	"github.com/zoobzio/hookz"
	"github.com/zoobzio/metricz"
	"github.com/zoobzio/tracez"
)

// Observability constants for the Retrier connector.
const (
	// Metrics.
	RetryProcessedTotal = metricz.Key("retry.processed.total")
	RetryAttemptsTotal  = metricz.Key("retry.attempts.total")
	RetrySuccessesTotal = metricz.Key("retry.successes.total")
	RetryGivenUpTotal   = metricz.Key("retry.given_up.total")
	RetryErrorsTotal    = metricz.Key("retry.errors.total")
	RetryFailureCount   = metricz.Key("retry.failure_count")

	// Spans.
	RetryProcessSpan = tracez.Key("retry.process")
	RetryAttemptSpan = tracez.Key("retry.attempt")

	// Tags.
	RetryTagAttempt = tracez.Tag("retry.attempt")
	RetryTagStatus  = tracez.Tag("retry.status")
	RetryTagError   = tracez.Tag("retry.error")

	// Hook event keys.
	RetryEventRetrying  = hookz.Key("retry.retrying")
	RetryEventGivenUp   = hookz.Key("retry.given_up")
	RetryEventRecovered = hookz.Key("retry.recovered")
)

// RetryContext is the accumulator carried through one retry loop.
//
// FailureCount is the number of failures that have been retried so far. A
// policy sees the count before the current failure is retried; a
// before-retry step sees it after, so the first before-retry call observes 1.
// CorrelationBase is owned by the delay strategy and persists between its
// invocations within the loop.
type RetryContext[S any] struct {
	State           S
	RetryDuration   time.Duration
	FailureCount    uint32
	CorrelationBase float64
}

// WithState returns a copy of rc carrying state.
func (rc RetryContext[S]) WithState(state S) RetryContext[S] {
	rc.State = state
	return rc
}

// RetryEvent is emitted via hookz when the Retrier schedules another
// attempt, gives up, or recovers after at least one failure.
type RetryEvent struct {
	Name          Name
	Status        Status
	FailureCount  uint32
	RetryDuration time.Duration
	Timestamp     time.Time
}

// Retrier runs a step until it succeeds or the policy declines another
// attempt.
//
// Retry only looks at statuses. An error returned by the step, or by the
// before-retry step, leaves the loop immediately and is returned unchanged
// together with the last state that was handed to the step. When the policy
// declines, the failing state is returned as-is with a nil error; the
// Retrier does not suppress failures.
//
// There is no built-in attempt cap. Always() on its own retries forever;
// bound it with MaxFailures or MaxDuration.
//
// Example:
//
//	retrier := stepz.NewRetrier("charge", charge,
//	    stepz.And(stepz.TransientOnly[Payment](), stepz.MaxFailures[Payment](5)),
//	).WithBeforeRetry(stepz.Delay[Payment](backoff.Strategy{
//	    Kind:   backoff.Exponential,
//	    Base:   100 * time.Millisecond,
//	    Max:    5 * time.Second,
//	    Jitter: true,
//	}))
//	defer retrier.Close()
//
//	retrier.OnGivenUp(func(ctx context.Context, e stepz.RetryEvent) error {
//	    alert.Warn("charge gave up after %d retries", e.FailureCount)
//	    return nil
//	})
//
// # Observability
//
// Metrics:
//   - retry.processed.total: Counter of retry loops started
//   - retry.attempts.total: Counter of individual attempts
//   - retry.successes.total: Counter of loops ending in Success
//   - retry.given_up.total: Counter of loops the policy ended on a failure
//   - retry.errors.total: Counter of loops ended by a returned error
//   - retry.failure_count: Gauge of the failure count of the last loop
//
// Traces:
//   - retry.process: Span for the whole loop
//   - retry.attempt: Span for each attempt
//
// Events (via hooks):
//   - retry.retrying: Fired before every retry, after the policy agreed
//   - retry.given_up: Fired when the policy declines
//   - retry.recovered: Fired on Success after at least one failure
type Retrier[S Fail] struct {
	step        Step[S]
	policy      Policy[S]
	beforeRetry Step[RetryContext[S]]
	name        Name
	clock       clockz.Clock
	mu          sync.RWMutex
	metrics     *metricz.Registry
	tracer      *tracez.Tracer
	hooks       *hookz.Hooks[RetryEvent]
}

// NewRetrier creates a Retrier for step under policy.
func NewRetrier[S Fail](name Name, step Step[S], policy Policy[S]) *Retrier[S] {
	metrics := metricz.New()
	metrics.Counter(RetryProcessedTotal)
	metrics.Counter(RetryAttemptsTotal)
	metrics.Counter(RetrySuccessesTotal)
	metrics.Counter(RetryGivenUpTotal)
	metrics.Counter(RetryErrorsTotal)
	metrics.Gauge(RetryFailureCount)

	return &Retrier[S]{
		name:    name,
		step:    step,
		policy:  policy,
		clock:   clockz.RealClock,
		metrics: metrics,
		tracer:  tracez.New(),
		hooks:   hookz.New[RetryEvent](),
	}
}

// Process runs the retry loop.
func (r *Retrier[S]) Process(ctx context.Context, state S) (result S, err error) {
	r.mu.RLock()
	step := r.step
	policy := r.policy
	beforeRetry := r.beforeRetry
	clock := r.clock
	name := r.name
	r.mu.RUnlock()

	if step == nil || policy == nil {
		return state, ErrNilStep
	}
	r.metrics.Counter(RetryProcessedTotal).Inc()

	ctx, span := r.tracer.StartSpan(ctx, RetryProcessSpan)
	rc := RetryContext[S]{State: state}
	defer func() {
		r.metrics.Gauge(RetryFailureCount).Set(float64(rc.FailureCount))
		span.SetTag(RetryTagAttempt, strconv.FormatUint(uint64(rc.FailureCount)+1, 10))
		if err != nil {
			r.metrics.Counter(RetryErrorsTotal).Inc()
			span.SetTag(RetryTagError, err.Error())
		} else {
			span.SetTag(RetryTagStatus, result.ExecutionStatus().String())
		}
		span.Finish()
	}()

	start := clock.Now()
	current := state
	for {
		attempt, err := r.attempt(ctx, step, current, rc.FailureCount+1)
		if err != nil {
			return current, err
		}

		if attempt.ExecutionStatus() == Success {
			r.metrics.Counter(RetrySuccessesTotal).Inc()
			if rc.FailureCount > 0 {
				r.emit(ctx, RetryEventRecovered, name, Success, rc, clock)
			}
			return attempt, nil
		}

		rc.State = attempt
		rc.RetryDuration = clock.Since(start)
		if !policy(rc) {
			r.metrics.Counter(RetryGivenUpTotal).Inc()
			r.emit(ctx, RetryEventGivenUp, name, attempt.ExecutionStatus(), rc, clock)
			return attempt, nil
		}

		rc.FailureCount++
		r.emit(ctx, RetryEventRetrying, name, attempt.ExecutionStatus(), rc, clock)

		if beforeRetry != nil {
			next, err := beforeRetry(ctx, rc)
			if err != nil {
				return attempt, err
			}
			rc = next
		}
		current = rc.State
	}
}

func (r *Retrier[S]) attempt(ctx context.Context, step Step[S], state S, n uint32) (S, error) {
	ctx, span := r.tracer.StartSpan(ctx, RetryAttemptSpan)
	defer span.Finish()
	span.SetTag(RetryTagAttempt, strconv.FormatUint(uint64(n), 10))
	r.metrics.Counter(RetryAttemptsTotal).Inc()

	result, err := step(ctx, state)
	if err != nil {
		span.SetTag(RetryTagError, err.Error())
		return result, err
	}
	span.SetTag(RetryTagStatus, result.ExecutionStatus().String())
	return result, nil
}

func (r *Retrier[S]) emit(ctx context.Context, key hookz.Key, name Name, status Status, rc RetryContext[S], clock clockz.Clock) {
	_ = r.hooks.Emit(ctx, key, RetryEvent{ //nolint:errcheck
		Name:          name,
		Status:        status,
		FailureCount:  rc.FailureCount,
		RetryDuration: rc.RetryDuration,
		Timestamp:     clock.Now(),
	})
}

// Step returns the Retrier as a plain Step.
func (r *Retrier[S]) Step() Step[S] {
	return r.Process
}

// WithBeforeRetry sets the step run between a failed attempt and the next
// one, typically a Delay, a LogRetry, or both built together.
func (r *Retrier[S]) WithBeforeRetry(step Step[RetryContext[S]]) *Retrier[S] {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.beforeRetry = step
	return r
}

// SetPolicy replaces the retry policy.
func (r *Retrier[S]) SetPolicy(policy Policy[S]) *Retrier[S] {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.policy = policy
	return r
}

// WithClock sets the clock used to measure RetryDuration.
func (r *Retrier[S]) WithClock(clock clockz.Clock) *Retrier[S] {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clock = clock
	return r
}

// Name returns the name of this connector.
func (r *Retrier[S]) Name() Name {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.name
}

// Metrics returns the metrics registry for this connector.
func (r *Retrier[S]) Metrics() *metricz.Registry {
	return r.metrics
}

// Tracer returns the tracer for this connector.
func (r *Retrier[S]) Tracer() *tracez.Tracer {
	return r.tracer
}

// Close gracefully shuts down observability components.
func (r *Retrier[S]) Close() error {
	if r.tracer != nil {
		r.tracer.Close()
	}
	r.hooks.Close()
	return nil
}

// OnRetrying registers a handler fired before each retry.
func (r *Retrier[S]) OnRetrying(handler func(context.Context, RetryEvent) error) error {
	_, err := r.hooks.Hook(RetryEventRetrying, handler)
	return err
}

// OnGivenUp registers a handler fired when the policy declines another
// attempt.
func (r *Retrier[S]) OnGivenUp(handler func(context.Context, RetryEvent) error) error {
	_, err := r.hooks.Hook(RetryEventGivenUp, handler)
	return err
}

// OnRecovered registers a handler fired when a loop succeeds after at least
// one failure.
func (r *Retrier[S]) OnRecovered(handler func(context.Context, RetryEvent) error) error {
	_, err := r.hooks.Hook(RetryEventRecovered, handler)
	return err
}

// Retry wraps step in a retry loop driven by policy. Any beforeRetry steps
// are built into one and run, in order, between a failed attempt and the
// next.
//
// Example:
//
//	fetch := stepz.Retry(fetchQuote,
//	    stepz.And(stepz.TransientOnly[Quote](), stepz.MaxFailures[Quote](3)),
//	    stepz.LogRetry[Quote](),
//	    stepz.Delay[Quote](backoff.Strategy{Kind: backoff.Constant, Base: time.Second}),
//	)
func Retry[S Fail](step Step[S], policy Policy[S], beforeRetry ...Step[RetryContext[S]]) Step[S] {
	r := NewRetrier("retry", step, policy)
	if len(beforeRetry) > 0 {
		r.WithBeforeRetry(Build(beforeRetry...))
	}
	return r.Process
}

// RetryFunc is the synchronous form of Retry. The loop has the same shape;
// beforeRetry can adjust the context but cannot wait.
func RetryFunc[S Fail](fn Func[S], policy Policy[S], beforeRetry ...Func[RetryContext[S]]) Func[S] {
	return RetryFuncWithClock(clockz.RealClock, fn, policy, beforeRetry...)
}

// RetryFuncWithClock is RetryFunc measuring RetryDuration on clock.
func RetryFuncWithClock[S Fail](clock clockz.Clock, fn Func[S], policy Policy[S], beforeRetry ...Func[RetryContext[S]]) Func[S] {
	before := BuildFunc(beforeRetry...)
	return func(state S) S {
		rc := RetryContext[S]{State: state}
		start := clock.Now()
		current := state
		for {
			result := fn(current)
			if result.ExecutionStatus() == Success {
				return result
			}
			rc.State = result
			rc.RetryDuration = clock.Since(start)
			if !policy(rc) {
				return result
			}
			rc.FailureCount++
			rc = before(rc)
			current = rc.State
		}
	}
}
