package stepz

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zoobzio/clockz"
	"github.com/zoobzio/hookz"
	"github.com/zoobzio/metricz"
	"github.com/zoobzio/tracez"
)

// Observability constants for the LoggedPipeline connector.
const (
	// Metrics.
	PipelineRunsTotal       = metricz.Key("pipeline.runs.total")
	PipelineStepsTotal      = metricz.Key("pipeline.steps.total")
	PipelineTerminatedTotal = metricz.Key("pipeline.terminated.total")
	PipelineErrorsTotal     = metricz.Key("pipeline.errors.total")
	PipelineDurationMs      = metricz.Key("pipeline.duration.ms")

	// Spans.
	PipelineRunSpan  = tracez.Key("pipeline.run")
	PipelineStepSpan = tracez.Key("pipeline.step")

	// Tags.
	PipelineTagName   = tracez.Tag("pipeline.name")
	PipelineTagRunID  = tracez.Tag("pipeline.run_id")
	PipelineTagStep   = tracez.Tag("pipeline.step")
	PipelineTagStatus = tracez.Tag("pipeline.status")
	PipelineTagError  = tracez.Tag("pipeline.error")

	// Hook event keys.
	PipelineEventEntered    = hookz.Key("pipeline.entered")
	PipelineEventExited     = hookz.Key("pipeline.exited")
	PipelineEventTerminated = hookz.Key("pipeline.terminated")
)

// PipelineEvent is emitted via hookz for every step a logged pipeline
// enters and exits, and when the termination predicate stops it.
type PipelineEvent struct {
	Pipeline  Name
	RunID     string
	Step      Name
	Event     EventID
	Error     error
	Duration  time.Duration // Step duration, set on exit
	Timestamp time.Time
}

// LoggedPipeline is a pipeline executor that records every run.
//
// Each run opens an outer scope: a logger derived from the state's logger
// with the pipeline and run_id attributes, and a pipeline.run span. Each
// step opens an inner scope: the run logger with a step attribute, and a
// pipeline.step span. The inner logger is placed in the step's context;
// steps retrieve it with LoggerFromContext.
//
// Entered (2001) and exited (2002) records are written at the configured
// level around every step, and a terminated (2003) record when the
// termination predicate ends the run early. A step error is recorded on
// the exited record and returned unchanged.
//
// Logging never changes control flow: LoggedPipeline folds exactly like
// Build, or like BuildUntil when a predicate is set.
//
// # Observability
//
// Metrics:
//   - pipeline.runs.total: Counter of runs started
//   - pipeline.steps.total: Counter of steps entered
//   - pipeline.terminated.total: Counter of runs stopped by the predicate
//   - pipeline.errors.total: Counter of runs ended by a step error
//   - pipeline.duration.ms: Gauge of the last run's duration
//
// Traces:
//   - pipeline.run: Span for the whole run
//   - pipeline.step: Span for each step
//
// Events (via hooks):
//   - pipeline.entered, pipeline.exited, pipeline.terminated
type LoggedPipeline[S Loggable] struct {
	name    Name
	level   slog.Level
	steps   []NamedStep[S]
	until   func(S) bool
	clock   clockz.Clock
	mu      sync.RWMutex
	metrics *metricz.Registry
	tracer  *tracez.Tracer
	hooks   *hookz.Hooks[PipelineEvent]
}

// NewLoggedPipeline creates a logged pipeline writing its lifecycle records
// at level.
func NewLoggedPipeline[S Loggable](name Name, level slog.Level, steps ...NamedStep[S]) *LoggedPipeline[S] {
	metrics := metricz.New()
	metrics.Counter(PipelineRunsTotal)
	metrics.Counter(PipelineStepsTotal)
	metrics.Counter(PipelineTerminatedTotal)
	metrics.Counter(PipelineErrorsTotal)
	metrics.Gauge(PipelineDurationMs)

	return &LoggedPipeline[S]{
		name:    name,
		level:   level,
		steps:   slices.Clone(steps),
		clock:   clockz.RealClock,
		metrics: metrics,
		tracer:  tracez.New(),
		hooks:   hookz.New[PipelineEvent](),
	}
}

// Process runs the pipeline.
func (p *LoggedPipeline[S]) Process(ctx context.Context, state S) (result S, err error) {
	p.mu.RLock()
	name := p.name
	level := p.level
	steps := slices.Clone(p.steps)
	until := p.until
	clock := p.clock
	p.mu.RUnlock()

	p.metrics.Counter(PipelineRunsTotal).Inc()
	start := clock.Now()
	runID := uuid.NewString()
	logger := loggerOf(state).With(
		slog.String(PipelineKey, name),
		slog.String(RunIDKey, runID),
	)

	ctx, span := p.tracer.StartSpan(ctx, PipelineRunSpan)
	span.SetTag(PipelineTagName, name)
	span.SetTag(PipelineTagRunID, runID)
	defer func() {
		p.metrics.Gauge(PipelineDurationMs).Set(float64(clock.Since(start).Milliseconds()))
		if err != nil {
			p.metrics.Counter(PipelineErrorsTotal).Inc()
			span.SetTag(PipelineTagError, err.Error())
		}
		span.Finish()
	}()

	current := state
	for _, step := range steps {
		if until != nil && until(current) {
			p.metrics.Counter(PipelineTerminatedTotal).Inc()
			stepLogger := logger.With(slog.String(StepKey, step.Name()))
			stepLogger.LogAttrs(ctx, level, "pipeline terminated", EventTerminated.Attr())
			p.emit(ctx, PipelineEventTerminated, PipelineEvent{
				Pipeline:  name,
				RunID:     runID,
				Step:      step.Name(),
				Event:     EventTerminated,
				Timestamp: clock.Now(),
			})
			return current, nil
		}

		next, err := p.runStep(ctx, logger, level, clock, name, runID, step, current)
		if err != nil {
			return current, err
		}
		current = next
	}
	return current, nil
}

func (p *LoggedPipeline[S]) runStep(
	ctx context.Context,
	runLogger *slog.Logger,
	level slog.Level,
	clock clockz.Clock,
	pipeline Name,
	runID string,
	step NamedStep[S],
	state S,
) (S, error) {
	p.metrics.Counter(PipelineStepsTotal).Inc()
	stepName := step.Name()
	logger := runLogger.With(slog.String(StepKey, stepName))

	ctx, span := p.tracer.StartSpan(ctx, PipelineStepSpan)
	defer span.Finish()
	span.SetTag(PipelineTagStep, stepName)
	ctx = ContextWithLogger(ctx, logger)

	logger.LogAttrs(ctx, level, "step entered", EventEntered.Attr())
	p.emit(ctx, PipelineEventEntered, PipelineEvent{
		Pipeline:  pipeline,
		RunID:     runID,
		Step:      stepName,
		Event:     EventEntered,
		Timestamp: clock.Now(),
	})

	start := clock.Now()
	next, err := step.Process(ctx, state)
	elapsed := clock.Since(start)

	exited := PipelineEvent{
		Pipeline:  pipeline,
		RunID:     runID,
		Step:      stepName,
		Event:     EventExited,
		Error:     err,
		Duration:  elapsed,
		Timestamp: clock.Now(),
	}
	if err != nil {
		span.SetTag(PipelineTagError, err.Error())
		logger.LogAttrs(ctx, slog.LevelError, "step exited", EventExited.Attr(),
			slog.String(ErrorDetailsKey, err.Error()))
		p.emit(ctx, PipelineEventExited, exited)
		return state, err
	}

	attrs := []slog.Attr{EventExited.Attr(), slog.Duration("elapsed", elapsed)}
	if f, ok := any(next).(Fail); ok {
		status := f.ExecutionStatus().String()
		span.SetTag(PipelineTagStatus, status)
		attrs = append(attrs, slog.String(StatusKey, status))
	}
	logger.LogAttrs(ctx, level, "step exited", attrs...)
	p.emit(ctx, PipelineEventExited, exited)
	return next, nil
}

func (p *LoggedPipeline[S]) emit(ctx context.Context, key hookz.Key, event PipelineEvent) {
	_ = p.hooks.Emit(ctx, key, event) //nolint:errcheck
}

// Step returns the pipeline as a plain Step.
func (p *LoggedPipeline[S]) Step() Step[S] {
	return p.Process
}

// Until sets the termination predicate, consulted before every step.
func (p *LoggedPipeline[S]) Until(shouldTerminate func(S) bool) *LoggedPipeline[S] {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.until = shouldTerminate
	return p
}

// Add appends steps.
func (p *LoggedPipeline[S]) Add(steps ...NamedStep[S]) *LoggedPipeline[S] {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.steps = append(p.steps, steps...)
	return p
}

// Names returns the names of the steps, in order.
func (p *LoggedPipeline[S]) Names() []Name {
	p.mu.RLock()
	defer p.mu.RUnlock()
	names := make([]Name, len(p.steps))
	for i, step := range p.steps {
		names[i] = step.Name()
	}
	return names
}

// WithClock sets the clock used for durations and event timestamps.
func (p *LoggedPipeline[S]) WithClock(clock clockz.Clock) *LoggedPipeline[S] {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clock = clock
	return p
}

// Name returns the name of this pipeline.
func (p *LoggedPipeline[S]) Name() Name {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.name
}

// Metrics returns the metrics registry for this pipeline.
func (p *LoggedPipeline[S]) Metrics() *metricz.Registry {
	return p.metrics
}

// Tracer returns the tracer for this pipeline.
func (p *LoggedPipeline[S]) Tracer() *tracez.Tracer {
	return p.tracer
}

// Close gracefully shuts down observability components.
func (p *LoggedPipeline[S]) Close() error {
	if p.tracer != nil {
		p.tracer.Close()
	}
	p.hooks.Close()
	return nil
}

// OnEntered registers a handler fired when a step is entered.
func (p *LoggedPipeline[S]) OnEntered(handler func(context.Context, PipelineEvent) error) error {
	_, err := p.hooks.Hook(PipelineEventEntered, handler)
	return err
}

// OnExited registers a handler fired when a step returns.
func (p *LoggedPipeline[S]) OnExited(handler func(context.Context, PipelineEvent) error) error {
	_, err := p.hooks.Hook(PipelineEventExited, handler)
	return err
}

// OnTerminated registers a handler fired when the predicate ends a run.
func (p *LoggedPipeline[S]) OnTerminated(handler func(context.Context, PipelineEvent) error) error {
	_, err := p.hooks.Hook(PipelineEventTerminated, handler)
	return err
}

// BuildLogged is Build with lifecycle logging. See LoggedPipeline.
func BuildLogged[S Loggable](level slog.Level, steps ...NamedStep[S]) Step[S] {
	return NewLoggedPipeline("pipeline", level, steps...).Process
}

// BuildLoggedUntil is BuildUntil with lifecycle logging.
//
// Example:
//
//	handle := stepz.BuildLoggedUntil(slog.LevelDebug, stepz.Terminated[httpstep.State],
//	    stepz.Named("auth", authenticate),
//	    stepz.Named("route", route),
//	)
func BuildLoggedUntil[S Loggable](level slog.Level, shouldTerminate func(S) bool, steps ...NamedStep[S]) Step[S] {
	return NewLoggedPipeline("pipeline", level, steps...).Until(shouldTerminate).Process
}

// LogRetry returns a before-retry step that records the failure being
// retried: a transient (4000, warn) or permanent (5000, error) record,
// followed by a retrying (2004, info) record. The context is returned
// unchanged.
//
// Records go to the scoped logger in ctx when there is one, otherwise to
// the state's logger.
func LogRetry[S interface {
	Fail
	Loggable
}]() Step[RetryContext[S]] {
	return func(ctx context.Context, rc RetryContext[S]) (RetryContext[S], error) {
		logger := LoggerFromContext(ctx, loggerOf(rc.State))
		status := rc.State.ExecutionStatus()
		attrs := []slog.Attr{
			slog.Uint64(FailureCountKey, uint64(rc.FailureCount)),
			slog.Duration(RetryDurationKey, rc.RetryDuration),
			slog.String(StatusKey, status.String()),
		}
		if details, ok := errorDetailsOf(rc.State); ok {
			attrs = append(attrs, slog.String(ErrorDetailsKey, details))
		}

		switch status {
		case TransientFailure:
			logger.LogAttrs(ctx, slog.LevelWarn, "transient failure",
				append([]slog.Attr{EventTransientFailure.Attr()}, attrs...)...)
		case PermanentFailure:
			logger.LogAttrs(ctx, slog.LevelError, "permanent failure",
				append([]slog.Attr{EventPermanentFailure.Attr()}, attrs...)...)
		}
		logger.LogAttrs(ctx, slog.LevelInfo, "retrying",
			append([]slog.Attr{EventRetrying.Attr()}, attrs...)...)
		return rc, nil
	}
}

// LogResult returns a step that writes msg at level as a result (2000)
// record and passes the state through.
func LogResult[S Loggable](level slog.Level, msg string) Step[S] {
	return func(ctx context.Context, state S) (S, error) {
		logger := LoggerFromContext(ctx, loggerOf(state))
		attrs := []slog.Attr{EventResult.Attr()}
		if f, ok := any(state).(Fail); ok {
			attrs = append(attrs, slog.String(StatusKey, f.ExecutionStatus().String()))
		}
		logger.LogAttrs(ctx, level, msg, attrs...)
		return state, nil
	}
}

// errorDetailsOf renders the error details of states whose details are an
// error or a string.
func errorDetailsOf(state any) (string, bool) {
	switch p := state.(type) {
	case ErrorProvider[error]:
		if err := p.ErrorDetails(); err != nil {
			return err.Error(), true
		}
	case ErrorProvider[string]:
		if details := p.ErrorDetails(); details != "" {
			return details, true
		}
	}
	return "", false
}
