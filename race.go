package stepz

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/zoobzio/clockz"
	"github.com/zoobzio/hookz"
	"github.com/zoobzio/metricz"
	"github.com/zoobzio/tracez"
	"go.uber.org/atomic"
)

// ErrNoAttempts is returned by a race that was given nothing to run.
var ErrNoAttempts = errors.New("race has no attempts")

// Observability constants for the Racer connector.
const (
	// Metrics.
	RaceProcessedTotal = metricz.Key("race.processed.total")
	RaceErrorsTotal    = metricz.Key("race.errors.total")
	RaceInFlight       = metricz.Key("race.inflight")
	RaceDurationMs     = metricz.Key("race.duration.ms")

	// Spans.
	RaceProcessSpan = tracez.Key("race.process")

	// Tags.
	RaceTagAttempts = tracez.Tag("race.attempts")
	RaceTagWinner   = tracez.Tag("race.winner")
	RaceTagError    = tracez.Tag("race.error")

	// Hook event keys.
	RaceEventWon = hookz.Key("race.won")
)

// RaceEvent is emitted via hookz when an attempt wins a race.
type RaceEvent struct {
	Name      Name
	Winner    int // Index of the winning attempt
	Attempts  int
	Error     error // Error returned by the winner, if any
	Duration  time.Duration
	Timestamp time.Time
}

type raceResult[S any] struct {
	state S
	err   error
	index int
}

// Racer runs every attempt concurrently against the same input and returns
// whichever completes first, error or not.
//
// Cancellation is cooperative. Racer derives one child context from the
// state's own context, additionally cancelled when the call context is,
// and hands every attempt a copy of the state carrying that child. The
// child is cancelled on every exit path, so losers observe cancellation
// through the state they were given; they are never awaited. Cancelling the
// child never cancels the state's original context, which is restored on
// the returned state.
//
// A state whose Context returns nil is linked to the call context alone.
//
// Example:
//
//	racer := stepz.NewRacer("quote",
//	    fetchFromPrimary,
//	    fetchFromReplica,
//	)
//	defer racer.Close()
//
//	quote, err := racer.Process(ctx, req)
//
// # Observability
//
// Metrics:
//   - race.processed.total: Counter of races run
//   - race.errors.total: Counter of races won by an error
//   - race.inflight: Gauge of attempts still running, losers included
//   - race.duration.ms: Gauge of time to the first completion
//
// Traces:
//   - race.process: Span from launch to the first completion
//
// Events (via hooks):
//   - race.won: Fired when an attempt completes first
type Racer[S Cancellable[S]] struct {
	name     Name
	attempts []Step[S]
	clock    clockz.Clock
	mu       sync.RWMutex
	buffers  sync.Pool
	inFlight *atomic.Int64
	metrics  *metricz.Registry
	tracer   *tracez.Tracer
	hooks    *hookz.Hooks[RaceEvent]
}

// NewRacer creates a Racer over attempts.
func NewRacer[S Cancellable[S]](name Name, attempts ...Step[S]) *Racer[S] {
	metrics := metricz.New()
	metrics.Counter(RaceProcessedTotal)
	metrics.Counter(RaceErrorsTotal)
	metrics.Gauge(RaceInFlight)
	metrics.Gauge(RaceDurationMs)

	r := &Racer[S]{
		name:     name,
		attempts: append([]Step[S](nil), attempts...),
		clock:    clockz.RealClock,
		inFlight: atomic.NewInt64(0),
		metrics:  metrics,
		tracer:   tracez.New(),
		hooks:    hookz.New[RaceEvent](),
	}
	r.buffers.New = func() any {
		buf := make([]Step[S], 0, 4)
		return &buf
	}
	return r
}

// Process runs the race.
func (r *Racer[S]) Process(ctx context.Context, state S) (result S, err error) {
	buf := r.snapshot()
	defer r.release(buf)
	attempts := *buf

	r.mu.RLock()
	clock := r.clock
	name := r.name
	r.mu.RUnlock()

	if len(attempts) == 0 {
		return state, ErrNoAttempts
	}

	r.metrics.Counter(RaceProcessedTotal).Inc()
	start := clock.Now()

	ctx, span := r.tracer.StartSpan(ctx, RaceProcessSpan)
	span.SetTag(RaceTagAttempts, strconv.Itoa(len(attempts)))
	defer func() {
		r.metrics.Gauge(RaceDurationMs).Set(float64(clock.Since(start).Milliseconds()))
		if err != nil {
			r.metrics.Counter(RaceErrorsTotal).Inc()
			span.SetTag(RaceTagError, err.Error())
		}
		span.Finish()
	}()

	original := state.Context()
	linked, cancel := context.WithCancel(orContext(original, ctx))
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	callCtx, callCancel := context.WithCancel(ctx)
	defer callCancel()

	raced := state.WithContext(linked)
	results := make(chan raceResult[S], len(attempts))
	for i, attempt := range attempts {
		r.metrics.Gauge(RaceInFlight).Set(float64(r.inFlight.Inc()))
		go func() {
			defer func() {
				r.metrics.Gauge(RaceInFlight).Set(float64(r.inFlight.Dec()))
			}()
			s, err := attempt(callCtx, raced)
			results <- raceResult[S]{state: s, err: err, index: i}
		}()
	}

	select {
	case res := <-results:
		span.SetTag(RaceTagWinner, strconv.Itoa(res.index))
		_ = r.hooks.Emit(ctx, RaceEventWon, RaceEvent{ //nolint:errcheck
			Name:      name,
			Winner:    res.index,
			Attempts:  len(attempts),
			Error:     res.err,
			Duration:  clock.Since(start),
			Timestamp: clock.Now(),
		})
		if res.err != nil {
			return state, res.err
		}
		return res.state.WithContext(original), nil
	case <-ctx.Done():
		return state, ctx.Err()
	}
}

// snapshot copies the attempt list into a pooled buffer.
func (r *Racer[S]) snapshot() *[]Step[S] {
	buf, _ := r.buffers.Get().(*[]Step[S])
	if buf == nil {
		buf = new([]Step[S])
	}
	r.mu.RLock()
	*buf = append((*buf)[:0], r.attempts...)
	r.mu.RUnlock()
	return buf
}

func (r *Racer[S]) release(buf *[]Step[S]) {
	clear(*buf)
	*buf = (*buf)[:0]
	r.buffers.Put(buf)
}

// Step returns the Racer as a plain Step.
func (r *Racer[S]) Step() Step[S] {
	return r.Process
}

// Add appends an attempt.
func (r *Racer[S]) Add(attempt Step[S]) *Racer[S] {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts = append(r.attempts, attempt)
	return r
}

// SetAttempts replaces all attempts atomically.
func (r *Racer[S]) SetAttempts(attempts ...Step[S]) *Racer[S] {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts = append([]Step[S](nil), attempts...)
	return r
}

// Len returns the number of attempts.
func (r *Racer[S]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.attempts)
}

// InFlight returns the number of attempts still running, losers included.
func (r *Racer[S]) InFlight() int64 {
	return r.inFlight.Load()
}

// WithClock sets the clock used for duration metrics.
func (r *Racer[S]) WithClock(clock clockz.Clock) *Racer[S] {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clock = clock
	return r
}

// Name returns the name of this connector.
func (r *Racer[S]) Name() Name {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.name
}

// Metrics returns the metrics registry for this connector.
func (r *Racer[S]) Metrics() *metricz.Registry {
	return r.metrics
}

// Tracer returns the tracer for this connector.
func (r *Racer[S]) Tracer() *tracez.Tracer {
	return r.tracer
}

// Close gracefully shuts down observability components.
func (r *Racer[S]) Close() error {
	if r.tracer != nil {
		r.tracer.Close()
	}
	r.hooks.Close()
	return nil
}

// OnWon registers a handler for when an attempt wins a race.
func (r *Racer[S]) OnWon(handler func(context.Context, RaceEvent) error) error {
	_, err := r.hooks.Hook(RaceEventWon, handler)
	return err
}

// Race runs attempts concurrently and returns the first to complete. See
// Racer for the cancellation contract.
func Race[S Cancellable[S]](attempts ...Step[S]) Step[S] {
	return NewRacer("race", attempts...).Process
}

// orContext returns ctx, or fallback when ctx is nil.
func orContext(ctx, fallback context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return fallback
}
