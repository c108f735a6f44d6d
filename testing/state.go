package testing

import (
	"context"
	"log/slog"

	"github.com/zoobzio/stepz"
)

// Counter is a reference state implementing every capability: Fail,
// ErrorProvider[error], Cancellable, Loggable, ValueProvider[Counter, int]
// and Terminator[Counter, int]. It is a plain value; every method returns a
// modified copy.
type Counter struct {
	ctx        context.Context
	logger     *slog.Logger
	err        error
	value      int
	result     int
	status     stepz.Status
	terminated bool
}

// NewCounter creates a successful Counter holding value.
func NewCounter(value int) Counter {
	return Counter{value: value}
}

// ExecutionStatus implements stepz.Fail.
func (c Counter) ExecutionStatus() stepz.Status { return c.status }

// ErrorDetails implements stepz.ErrorProvider.
func (c Counter) ErrorDetails() error { return c.err }

// Context implements stepz.Cancellable.
func (c Counter) Context() context.Context { return c.ctx }

// WithContext implements stepz.Cancellable.
func (c Counter) WithContext(ctx context.Context) Counter {
	c.ctx = ctx
	return c
}

// Logger implements stepz.Loggable.
func (c Counter) Logger() *slog.Logger { return c.logger }

// WithLogger returns a copy carrying logger.
func (c Counter) WithLogger(logger *slog.Logger) Counter {
	c.logger = logger
	return c
}

// Value implements stepz.ValueProvider.
func (c Counter) Value() int { return c.value }

// WithValue implements stepz.ValueProvider.
func (c Counter) WithValue(value int) Counter {
	c.value = value
	return c
}

// Fail returns a copy with status and err.
func (c Counter) Fail(status stepz.Status, err error) Counter {
	c.status = status
	c.err = err
	return c
}

// Succeed returns a copy with the Success status and no error.
func (c Counter) Succeed() Counter {
	c.status = stepz.Success
	c.err = nil
	return c
}

// Continue implements stepz.Terminator.
func (c Counter) Continue() Counter {
	c.terminated = false
	return c
}

// Terminate implements stepz.Terminator.
func (c Counter) Terminate(result int) Counter {
	c.terminated = true
	c.result = result
	return c
}

// Terminated implements stepz.Terminator.
func (c Counter) Terminated() bool { return c.terminated }

// Result returns the value passed to Terminate.
func (c Counter) Result() int { return c.result }

// Add returns a step adding n to the counter.
func Add(n int) stepz.Step[Counter] {
	return stepz.ToAsync(stepz.MapValue[Counter](func(v int) int { return v + n }))
}

// Multiply returns a step multiplying the counter by n.
func Multiply(n int) stepz.Step[Counter] {
	return stepz.ToAsync(stepz.MapValue[Counter](func(v int) int { return v * n }))
}
