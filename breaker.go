package stepz

import (
	"context"
	"sync"
	"time"

	"github.com/zoobzio/clockz"
	"github.com/zoobzio/hookz"
	"github.com/zoobzio/metricz"
)

// BreakerState is the position of a Breaker.
type BreakerState uint8

// Breaker states.
const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

// String returns the name of the state.
func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Observability constants for the Breaker connector.
const (
	// Metrics.
	BreakerProcessedTotal = metricz.Key("breaker.processed.total")
	BreakerRejectedTotal  = metricz.Key("breaker.rejected.total")
	BreakerFailuresTotal  = metricz.Key("breaker.failures.total")
	BreakerOpenedTotal    = metricz.Key("breaker.opened.total")
	BreakerStateGauge     = metricz.Key("breaker.state")

	// Hook event keys.
	BreakerEventOpened   = hookz.Key("breaker.opened")
	BreakerEventHalfOpen = hookz.Key("breaker.half_open")
	BreakerEventClosed   = hookz.Key("breaker.closed")
	BreakerEventRejected = hookz.Key("breaker.rejected")
)

// BreakerEvent is emitted via hookz on every state change and rejection.
type BreakerEvent struct {
	Name       Name
	State      BreakerState
	Failures   int
	Generation int
	Timestamp  time.Time
}

// Breaker stops calling a step that keeps failing.
//
// A failure is either a returned error or a state whose status is not
// Success. After failureThreshold consecutive failures the breaker opens:
// the step is no longer called and onOpen is applied to the input instead,
// typically marking it a TransientFailure. Once resetTimeout has passed the
// breaker lets one trial call through at a time (half-open); calls arriving
// while it is in flight are answered by onOpen and counted as
// rejected. successThreshold successful trial calls close it, any failure
// reopens it.
//
// A Breaker is stateful. Create it once and share it between runs; a new
// Breaker per run never opens.
//
// Example:
//
//	var inventoryBreaker = stepz.NewBreaker("inventory", fetchStock, 5, 30*time.Second,
//	    func(o Order) Order { return o.Fail(stepz.TransientFailure, errInventoryDown) },
//	)
//
//	checkout := stepz.Retry(inventoryBreaker.Process,
//	    stepz.And(stepz.TransientOnly[Order](), stepz.MaxFailures[Order](3)),
//	    stepz.Delay[Order](backoff.Strategy{Kind: backoff.Exponential, Base: time.Second}),
//	)
//
// # Observability
//
// Metrics:
//   - breaker.processed.total: Counter of calls
//   - breaker.rejected.total: Counter of calls answered by onOpen
//   - breaker.failures.total: Counter of failures observed
//   - breaker.opened.total: Counter of transitions to open
//   - breaker.state: Gauge of the current state (0 closed, 1 open, 2 half-open)
//
// Events (via hooks):
//   - breaker.opened, breaker.half_open, breaker.closed, breaker.rejected
type Breaker[S Fail] struct {
	lastFailure      time.Time
	step             Step[S]
	onOpen           Func[S]
	clock            clockz.Clock
	name             Name
	mu               sync.Mutex
	resetTimeout     time.Duration
	generation       int
	failureThreshold int
	successThreshold int
	failures         int
	successes        int
	state            BreakerState
	trialInFlight    bool
	metrics          *metricz.Registry
	hooks            *hookz.Hooks[BreakerEvent]
}

// NewBreaker creates a closed Breaker around step. Thresholds below one
// are raised to one.
func NewBreaker[S Fail](name Name, step Step[S], failureThreshold int, resetTimeout time.Duration, onOpen Func[S]) *Breaker[S] {
	if failureThreshold < 1 {
		failureThreshold = 1
	}
	metrics := metricz.New()
	metrics.Counter(BreakerProcessedTotal)
	metrics.Counter(BreakerRejectedTotal)
	metrics.Counter(BreakerFailuresTotal)
	metrics.Counter(BreakerOpenedTotal)
	metrics.Gauge(BreakerStateGauge)

	return &Breaker[S]{
		name:             name,
		step:             step,
		onOpen:           onOpen,
		failureThreshold: failureThreshold,
		successThreshold: 1,
		resetTimeout:     resetTimeout,
		clock:            clockz.RealClock,
		metrics:          metrics,
		hooks:            hookz.New[BreakerEvent](),
	}
}

// Process runs the step unless the breaker is open.
func (b *Breaker[S]) Process(ctx context.Context, state S) (S, error) {
	b.metrics.Counter(BreakerProcessedTotal).Inc()

	b.mu.Lock()
	if b.state == BreakerOpen && b.clock.Since(b.lastFailure) > b.resetTimeout {
		b.transition(ctx, BreakerHalfOpen, BreakerEventHalfOpen)
	}
	current := b.state
	rejected := current == BreakerOpen
	if current == BreakerHalfOpen {
		// One trial call at a time while half-open.
		rejected = b.trialInFlight
		b.trialInFlight = true
	}
	generation := b.generation
	step := b.step
	onOpen := b.onOpen
	b.mu.Unlock()

	if rejected {
		b.metrics.Counter(BreakerRejectedTotal).Inc()
		b.emit(ctx, BreakerEventRejected, current, generation)
		if onOpen == nil {
			return state, nil
		}
		return onOpen(state), nil
	}
	if step == nil {
		b.mu.Lock()
		if b.generation == generation {
			b.trialInFlight = false
		}
		b.mu.Unlock()
		return state, ErrNilStep
	}

	result, err := step(ctx, state)

	b.mu.Lock()
	defer b.mu.Unlock()
	// A Reset or reopen happened while the step ran; its outcome belongs
	// to an older generation.
	if b.generation != generation {
		return result, err
	}
	if err != nil || result.ExecutionStatus() != Success {
		b.onFailure(ctx)
	} else {
		b.onSuccess(ctx)
	}
	return result, err
}

// onFailure must be called with mu held.
func (b *Breaker[S]) onFailure(ctx context.Context) {
	b.trialInFlight = false
	b.metrics.Counter(BreakerFailuresTotal).Inc()
	b.lastFailure = b.clock.Now()
	switch b.state {
	case BreakerClosed:
		b.failures++
		if b.failures >= b.failureThreshold {
			b.transition(ctx, BreakerOpen, BreakerEventOpened)
		}
	case BreakerHalfOpen:
		b.transition(ctx, BreakerOpen, BreakerEventOpened)
	}
}

// onSuccess must be called with mu held.
func (b *Breaker[S]) onSuccess(ctx context.Context) {
	b.trialInFlight = false
	switch b.state {
	case BreakerClosed:
		b.failures = 0
	case BreakerHalfOpen:
		b.successes++
		if b.successes >= b.successThreshold {
			b.transition(ctx, BreakerClosed, BreakerEventClosed)
		}
	}
}

// transition must be called with mu held.
func (b *Breaker[S]) transition(ctx context.Context, to BreakerState, key hookz.Key) {
	failures := b.failures
	b.state = to
	b.failures = 0
	b.successes = 0
	b.trialInFlight = false
	b.generation++
	if to == BreakerOpen {
		b.metrics.Counter(BreakerOpenedTotal).Inc()
	}
	b.metrics.Gauge(BreakerStateGauge).Set(float64(to))
	_ = b.hooks.Emit(ctx, key, BreakerEvent{ //nolint:errcheck
		Name:       b.name,
		State:      to,
		Failures:   failures,
		Generation: b.generation,
		Timestamp:  b.clock.Now(),
	})
}

func (b *Breaker[S]) emit(ctx context.Context, key hookz.Key, state BreakerState, generation int) {
	b.mu.Lock()
	name := b.name
	now := b.clock.Now()
	b.mu.Unlock()
	_ = b.hooks.Emit(ctx, key, BreakerEvent{ //nolint:errcheck
		Name:       name,
		State:      state,
		Generation: generation,
		Timestamp:  now,
	})
}

// Step returns the Breaker as a plain Step.
func (b *Breaker[S]) Step() Step[S] {
	return b.Process
}

// State returns the current state, reporting half-open once the reset
// timeout has passed even if no call has observed it yet.
func (b *Breaker[S]) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == BreakerOpen && b.clock.Since(b.lastFailure) > b.resetTimeout {
		return BreakerHalfOpen
	}
	return b.state
}

// SetFailureThreshold updates the consecutive failures needed to open.
func (b *Breaker[S]) SetFailureThreshold(n int) *Breaker[S] {
	if n < 1 {
		n = 1
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failureThreshold = n
	return b
}

// SetSuccessThreshold updates the successes needed to close from half-open.
func (b *Breaker[S]) SetSuccessThreshold(n int) *Breaker[S] {
	if n < 1 {
		n = 1
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.successThreshold = n
	return b
}

// SetResetTimeout updates how long the breaker stays open.
func (b *Breaker[S]) SetResetTimeout(d time.Duration) *Breaker[S] {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.resetTimeout = d
	return b
}

// Reset closes the breaker and clears its counters.
func (b *Breaker[S]) Reset() *Breaker[S] {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = BreakerClosed
	b.failures = 0
	b.successes = 0
	b.trialInFlight = false
	b.generation++
	b.metrics.Gauge(BreakerStateGauge).Set(float64(BreakerClosed))
	return b
}

// WithClock sets the clock used for the reset timeout.
func (b *Breaker[S]) WithClock(clock clockz.Clock) *Breaker[S] {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.clock = clock
	return b
}

// Name returns the name of this connector.
func (b *Breaker[S]) Name() Name {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.name
}

// Metrics returns the metrics registry for this connector.
func (b *Breaker[S]) Metrics() *metricz.Registry {
	return b.metrics
}

// Close gracefully shuts down observability components.
func (b *Breaker[S]) Close() error {
	b.hooks.Close()
	return nil
}

// OnOpened registers a handler fired when the breaker opens.
func (b *Breaker[S]) OnOpened(handler func(context.Context, BreakerEvent) error) error {
	_, err := b.hooks.Hook(BreakerEventOpened, handler)
	return err
}

// OnHalfOpen registers a handler fired when the breaker starts letting
// calls through again.
func (b *Breaker[S]) OnHalfOpen(handler func(context.Context, BreakerEvent) error) error {
	_, err := b.hooks.Hook(BreakerEventHalfOpen, handler)
	return err
}

// OnClosed registers a handler fired when the breaker closes.
func (b *Breaker[S]) OnClosed(handler func(context.Context, BreakerEvent) error) error {
	_, err := b.hooks.Hook(BreakerEventClosed, handler)
	return err
}

// OnRejected registers a handler fired for every call answered by onOpen.
func (b *Breaker[S]) OnRejected(handler func(context.Context, BreakerEvent) error) error {
	_, err := b.hooks.Hook(BreakerEventRejected, handler)
	return err
}
