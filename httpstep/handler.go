package httpstep

import (
	"log/slog"
	"net/http"

	"github.com/zoobzio/stepz"
)

// Pipeline folds steps over a State and stops at the first terminated
// state.
func Pipeline(steps ...stepz.Step[State]) stepz.Step[State] {
	return stepz.BuildUntil(stepz.Terminated[State], steps...)
}

// Handler serves each request by running pipeline over a fresh State.
//
// A terminated state writes its Response. Otherwise the status decides:
// TransientFailure answers 503, PermanentFailure 500, and a successful
// state that never terminated 404. An error returned by the pipeline
// answers 500 and is logged.
func Handler(pipeline stepz.Step[State], logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		state := NewState(r, logger)
		w.Header().Set(RequestIDHeader, state.RequestID())

		result, err := pipeline(r.Context(), state)
		if err != nil {
			state.Logger().ErrorContext(r.Context(), "pipeline failed", slog.String("error", err.Error()))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}

		if result.Terminated() {
			write(w, result.Response())
			return
		}

		switch result.ExecutionStatus() {
		case stepz.TransientFailure:
			logFailure(result)
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		case stepz.PermanentFailure:
			logFailure(result)
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		default:
			http.NotFound(w, r)
		}
	})
}

func logFailure(s State) {
	attrs := []slog.Attr{slog.String(stepz.StatusKey, s.ExecutionStatus().String())}
	if err := s.ErrorDetails(); err != nil {
		attrs = append(attrs, slog.String(stepz.ErrorDetailsKey, err.Error()))
	}
	s.Logger().LogAttrs(s.Context(), slog.LevelWarn, "pipeline ended in failure", attrs...)
}

func write(w http.ResponseWriter, resp Response) {
	for key, values := range resp.Header {
		for _, v := range values {
			w.Header().Add(key, v)
		}
	}
	code := resp.StatusCode
	if code == 0 {
		code = http.StatusOK
	}
	w.WriteHeader(code)
	if len(resp.Body) > 0 {
		_, _ = w.Write(resp.Body) //nolint:errcheck
	}
}
