package stepz

import (
	"context"
	"errors"
	"log/slog"
	"slices"
)

var errTest = errors.New("test error")

// job is the state used throughout the package tests. It implements every
// capability.
type job struct {
	ctx    context.Context
	logger *slog.Logger
	err    error
	trail  []string
	n      int
	status Status
}

func newJob(n int) job {
	return job{ctx: context.Background(), n: n}
}

func (j job) ExecutionStatus() Status { return j.status }
func (j job) ErrorDetails() error     { return j.err }

func (j job) Context() context.Context { return j.ctx }

func (j job) WithContext(ctx context.Context) job {
	j.ctx = ctx
	return j
}

func (j job) Logger() *slog.Logger { return j.logger }

func (j job) Value() int { return j.n }

func (j job) WithValue(n int) job {
	j.n = n
	return j
}

func (j job) fail(status Status, err error) job {
	j.status = status
	j.err = err
	return j
}

func (j job) succeed() job {
	j.status = Success
	j.err = nil
	return j
}

func (j job) visit(name string) job {
	j.trail = append(slices.Clone(j.trail), name)
	return j
}

func add(n int) Step[job] {
	return ToAsync(MapValue[job](func(v int) int { return v + n }))
}

func times(n int) Step[job] {
	return ToAsync(MapValue[job](func(v int) int { return v * n }))
}

func visit(name string) Step[job] {
	return ToAsync(func(j job) job { return j.visit(name) })
}

func failWith(status Status) Step[job] {
	return ToAsync(func(j job) job { return j.fail(status, errTest) })
}

func returnError(err error) Step[job] {
	return func(_ context.Context, j job) (job, error) {
		return j, err
	}
}

// failFirst fails the first k calls with status and succeeds afterwards.
// It is not safe for concurrent use.
func failFirst(k int, status Status, calls *int) Step[job] {
	return func(_ context.Context, j job) (job, error) {
		*calls++
		if *calls <= k {
			return j.fail(status, errTest), nil
		}
		return j.succeed(), nil
	}
}
