package stepz

import (
	"log/slog"
	"strconv"
)

// EventID classifies a structured log record written by the logged
// pipeline and the logging steps. Records carry it as the event_id
// attribute. IDs below 4000 are informational, 4xxx are recoverable
// failures and 5xxx are unrecoverable.
type EventID int

// Event IDs.
const (
	EventResult           EventID = 2000
	EventEntered          EventID = 2001
	EventExited           EventID = 2002
	EventTerminated       EventID = 2003
	EventRetrying         EventID = 2004
	EventTransientFailure EventID = 4000
	EventPermanentFailure EventID = 5000
)

// EventIDKey is the attribute key event IDs are logged under.
const EventIDKey = "event_id"

// Attribute keys used by logged pipelines.
const (
	PipelineKey      = "pipeline"
	RunIDKey         = "run_id"
	StepKey          = "step"
	FailureCountKey  = "failure_count"
	RetryDurationKey = "retry_duration"
	StatusKey        = "status"
	ErrorDetailsKey  = "error"
)

// String returns the event's name.
func (id EventID) String() string {
	switch id {
	case EventResult:
		return "result"
	case EventEntered:
		return "entered"
	case EventExited:
		return "exited"
	case EventTerminated:
		return "terminated"
	case EventRetrying:
		return "retrying"
	case EventTransientFailure:
		return "transient_failure"
	case EventPermanentFailure:
		return "permanent_failure"
	default:
		return "event_" + strconv.Itoa(int(id))
	}
}

// Attr returns the event_id attribute for id.
func (id EventID) Attr() slog.Attr {
	return slog.Int(EventIDKey, int(id))
}
