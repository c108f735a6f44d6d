// Package httpstep adapts stepz pipelines to net/http.
//
// A State wraps one inbound request together with the response a pipeline
// eventually produces. It implements every stepz capability, so HTTP
// pipelines can use Retry, Race, Timeout and the logged executors
// directly. Pipelines built with Pipeline stop as soon as a step calls
// Terminate; Handler writes that terminal response.
package httpstep

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/zoobzio/stepz"
)

// RequestIDHeader is read for an inbound request ID and echoed on the
// response.
const RequestIDHeader = "X-Request-ID"

// Response is the terminal result of an HTTP pipeline.
type Response struct {
	Header     http.Header
	Body       []byte
	StatusCode int
}

// State is the immutable per-request state of an HTTP pipeline.
type State struct {
	request    *http.Request
	logger     *slog.Logger
	err        error
	requestID  string
	response   Response
	status     stepz.Status
	terminated bool
}

// NewState creates the state for r. The request ID is taken from the
// X-Request-ID header or generated.
func NewState(r *http.Request, logger *slog.Logger) State {
	id := r.Header.Get(RequestIDHeader)
	if id == "" {
		id = uuid.NewString()
	}
	if logger != nil {
		logger = logger.With(slog.String("request_id", id))
	}
	return State{request: r, logger: logger, requestID: id}
}

// Request returns the current request.
func (s State) Request() *http.Request { return s.request }

// RequestID returns the request's correlation ID.
func (s State) RequestID() string { return s.requestID }

// Response returns the terminal response. It is only meaningful once
// Terminated reports true.
func (s State) Response() Response { return s.response }

// ExecutionStatus implements stepz.Fail.
func (s State) ExecutionStatus() stepz.Status { return s.status }

// ErrorDetails implements stepz.ErrorProvider.
func (s State) ErrorDetails() error { return s.err }

// Fail returns a copy carrying status and err.
func (s State) Fail(status stepz.Status, err error) State {
	s.status = status
	s.err = err
	return s
}

// Succeed returns a copy with the Success status and no error.
func (s State) Succeed() State {
	s.status = stepz.Success
	s.err = nil
	return s
}

// Context implements stepz.Cancellable using the request's context.
func (s State) Context() context.Context {
	if s.request == nil {
		return nil
	}
	return s.request.Context()
}

// WithContext implements stepz.Cancellable. The request is shallow-copied.
func (s State) WithContext(ctx context.Context) State {
	if s.request != nil && ctx != nil {
		s.request = s.request.WithContext(ctx)
	}
	return s
}

// Logger implements stepz.Loggable.
func (s State) Logger() *slog.Logger { return s.logger }

// Value implements stepz.ValueProvider.
func (s State) Value() *http.Request { return s.request }

// WithValue implements stepz.ValueProvider.
func (s State) WithValue(r *http.Request) State {
	s.request = r
	return s
}

// Continue implements stepz.Terminator.
func (s State) Continue() State {
	s.terminated = false
	return s
}

// Terminate implements stepz.Terminator.
func (s State) Terminate(resp Response) State {
	s.terminated = true
	s.response = resp
	return s
}

// Terminated implements stepz.Terminator.
func (s State) Terminated() bool { return s.terminated }
