package stepz

import (
	"context"
	"errors"
	"log/slog"
)

// Status is the outcome carried by any state implementing Fail.
// The zero value is Success, so a freshly constructed state is successful
// until a step says otherwise.
type Status uint8

// Step outcomes.
const (
	Success Status = iota
	TransientFailure
	PermanentFailure
)

// String returns the snake_case name of the status.
func (s Status) String() string {
	switch s {
	case Success:
		return "success"
	case TransientFailure:
		return "transient_failure"
	case PermanentFailure:
		return "permanent_failure"
	default:
		return "unknown"
	}
}

// ErrMissingErrorDetails is returned by CheckErrorDetails when a failed
// state carries no error details.
var ErrMissingErrorDetails = errors.New("failed state has no error details")

// Fail is the minimum capability required by Retry, OnError and Fallback.
type Fail interface {
	ExecutionStatus() Status
}

// ErrorProvider extends Fail with a payload describing the failure. A state
// whose status is not Success is expected to carry details; the engine does
// not enforce it, see CheckErrorDetails.
type ErrorProvider[E any] interface {
	Fail
	ErrorDetails() E
}

// Cancellable is implemented by states that carry their own cancellation
// signal. WithContext must be pure: it returns a copy carrying ctx and leaves
// the receiver untouched. Race uses it to hand every attempt a linked child
// context.
type Cancellable[S any] interface {
	Context() context.Context
	WithContext(ctx context.Context) S
}

// Loggable is implemented by states that carry a structured logger. The
// logger is only ever used for diagnostics. A nil logger discards output.
type Loggable interface {
	Logger() *slog.Logger
}

// ValueProvider is implemented by states that are mostly one value.
// WithValue must be pure.
type ValueProvider[S, V any] interface {
	Value() V
	WithValue(value V) S
}

// Terminator is the contract an adapter's state offers to signal that a
// pipeline has produced its final result. The core never implements it; it
// only consumes it through the Terminated predicate.
type Terminator[S, R any] interface {
	Continue() S
	Terminate(result R) S
	Terminated() bool
}

// Terminated reports whether state has been terminated. It is meant to be
// passed to BuildUntil:
//
//	pipeline := stepz.BuildUntil(stepz.Terminated[Request], steps...)
func Terminated[S interface{ Terminated() bool }](state S) bool {
	return state.Terminated()
}

// IsSuccess reports whether f carries the Success status.
func IsSuccess(f Fail) bool { return f.ExecutionStatus() == Success }

// IsTransient reports whether f carries the TransientFailure status.
func IsTransient(f Fail) bool { return f.ExecutionStatus() == TransientFailure }

// IsPermanent reports whether f carries the PermanentFailure status.
func IsPermanent(f Fail) bool { return f.ExecutionStatus() == PermanentFailure }

// CheckErrorDetails verifies that a failed state carries non-zero error
// details. It is a debugging aid for tests and assertions.
func CheckErrorDetails[E comparable](p ErrorProvider[E]) error {
	if p.ExecutionStatus() == Success {
		return nil
	}
	var zero E
	if p.ErrorDetails() == zero {
		return ErrMissingErrorDetails
	}
	return nil
}

var discardLogger = slog.New(slog.DiscardHandler)

// loggerOf returns the state's logger, or a discarding logger when it is nil.
func loggerOf(l Loggable) *slog.Logger {
	if logger := l.Logger(); logger != nil {
		return logger
	}
	return discardLogger
}

type loggerKey struct{}

// ContextWithLogger returns a copy of ctx carrying logger. Logged pipelines
// use it to hand every step its scoped logger.
func ContextWithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// LoggerFromContext returns the scoped logger stored in ctx, or fallback when
// there is none.
func LoggerFromContext(ctx context.Context, fallback *slog.Logger) *slog.Logger {
	if logger, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok && logger != nil {
		return logger
	}
	if fallback == nil {
		return discardLogger
	}
	return fallback
}
