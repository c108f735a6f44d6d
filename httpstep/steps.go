package httpstep

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/zoobzio/stepz"
)

// MaxBodyBytes caps how much of a request or upstream body Forward reads.
const MaxBodyBytes = 10 << 20

// ErrBodyTooLarge is the error details of a state whose request body
// exceeds MaxBodyBytes.
var ErrBodyTooLarge = errors.New("request body too large")

// SetHeader returns a step that sets a request header on a copy of the
// request.
func SetHeader(key, value string) stepz.Step[State] {
	return stepz.OnValue[State](stepz.ToAsync(func(r *http.Request) *http.Request {
		clone := r.Clone(r.Context())
		clone.Header.Set(key, value)
		return clone
	}))
}

// RequireHeader terminates with 400 when the request lacks key.
func RequireHeader(key string) stepz.Step[State] {
	return stepz.ToAsync(func(s State) State {
		if s.Request().Header.Get(key) != "" {
			return s
		}
		return s.Terminate(Response{
			StatusCode: http.StatusBadRequest,
			Body:       []byte("missing header " + key + "\n"),
		})
	})
}

// Respond terminates with a fixed response.
func Respond(code int, body string) stepz.Step[State] {
	return stepz.ToAsync(func(s State) State {
		return s.Terminate(Response{
			StatusCode: code,
			Header:     http.Header{"Content-Type": {"text/plain; charset=utf-8"}},
			Body:       []byte(body),
		})
	})
}

// UpstreamError describes an upstream response that counts as a failure.
type UpstreamError struct {
	StatusCode int
}

// Error implements the error interface.
func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream answered %d %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// Forward proxies the request to upstream, keeping its method, path, query,
// headers and body.
//
// The inbound body is read into memory once, up to MaxBodyBytes, and the
// returned state carries a request whose body can be replayed, so every
// attempt of an enclosing Retry sends the same bytes. A larger body, or one
// that cannot be read, is a PermanentFailure.
//
// Transport errors and 5xx answers mark the state TransientFailure so an
// enclosing Retry can try again; anything else terminates with the
// upstream response. The outbound request uses the state's context, so a
// Race or Timeout around Forward cancels it.
//
// Example:
//
//	proxy := httpstep.Pipeline(
//	    httpstep.RequireHeader("Authorization"),
//	    stepz.Retry(httpstep.Forward(client, backend),
//	        stepz.And(stepz.TransientOnly[httpstep.State](), stepz.MaxFailures[httpstep.State](3)),
//	        stepz.Delay[httpstep.State](backoff.Strategy{Kind: backoff.Exponential, Base: 50 * time.Millisecond, Jitter: true}),
//	    ),
//	)
func Forward(client *http.Client, upstream *url.URL) stepz.Step[State] {
	if client == nil {
		client = http.DefaultClient
	}
	return func(ctx context.Context, s State) (State, error) {
		s = s.Succeed()
		in, err := bufferBody(s.Request())
		if err != nil {
			return s.Fail(stepz.PermanentFailure, err), nil
		}
		s = s.WithValue(in)

		target := *upstream
		target.Path = singleJoin(upstream.Path, in.URL.Path)
		target.RawQuery = in.URL.RawQuery

		reqCtx := s.Context()
		if reqCtx == nil {
			reqCtx = ctx
		}
		var reqBody io.ReadCloser
		if in.GetBody != nil {
			if reqBody, err = in.GetBody(); err != nil {
				return s.Fail(stepz.PermanentFailure, err), nil
			}
		}
		out, err := http.NewRequestWithContext(reqCtx, in.Method, target.String(), reqBody)
		if err != nil {
			return s, err
		}
		out.GetBody = in.GetBody
		out.ContentLength = in.ContentLength
		out.Header = in.Header.Clone()
		out.Header.Set(RequestIDHeader, s.RequestID())

		resp, err := client.Do(out)
		if err != nil {
			return s.Fail(stepz.TransientFailure, err), nil
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, MaxBodyBytes))
		if err != nil {
			return s.Fail(stepz.TransientFailure, err), nil
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			return s.Fail(stepz.TransientFailure, &UpstreamError{StatusCode: resp.StatusCode}), nil
		}
		return s.Terminate(Response{
			StatusCode: resp.StatusCode,
			Header:     resp.Header.Clone(),
			Body:       body,
		}), nil
	}
}

// bufferBody returns r when its body is empty or already replayable, and
// otherwise a copy whose body is held in memory and served by GetBody.
func bufferBody(r *http.Request) (*http.Request, error) {
	if r.Body == nil || r.Body == http.NoBody || r.GetBody != nil {
		return r, nil
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, MaxBodyBytes+1))
	_ = r.Body.Close() //nolint:errcheck
	if err != nil {
		return r, err
	}
	if len(data) > MaxBodyBytes {
		return r, ErrBodyTooLarge
	}

	clone := r.Clone(r.Context())
	clone.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}
	clone.Body = io.NopCloser(bytes.NewReader(data))
	clone.ContentLength = int64(len(data))
	return clone, nil
}

func singleJoin(a, b string) string {
	switch {
	case a == "" || a == "/":
		return b
	case b == "" || b == "/":
		return a
	case a[len(a)-1] == '/' && b[0] == '/':
		return a + b[1:]
	case a[len(a)-1] != '/' && b[0] != '/':
		return a + "/" + b
	default:
		return a + b
	}
}
