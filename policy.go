package stepz

import "time"

// Policy decides whether Retry should run another attempt. It is evaluated
// once per failed attempt and must be pure.
type Policy[S Fail] func(RetryContext[S]) bool

// TransientOnly retries only states whose status is TransientFailure.
func TransientOnly[S Fail]() Policy[S] {
	return func(rc RetryContext[S]) bool {
		return rc.State.ExecutionStatus() == TransientFailure
	}
}

// MaxFailures retries while fewer than n failures have been retried.
// MaxFailures(0) never retries.
func MaxFailures[S Fail](n uint32) Policy[S] {
	return func(rc RetryContext[S]) bool {
		return rc.FailureCount < n
	}
}

// MaxDuration retries while the time spent in the retry loop is below d.
func MaxDuration[S Fail](d time.Duration) Policy[S] {
	return func(rc RetryContext[S]) bool {
		return rc.RetryDuration < d
	}
}

// Always retries unconditionally. Combine it with a bound; on its own it
// retries forever.
func Always[S Fail]() Policy[S] {
	return func(RetryContext[S]) bool { return true }
}

// And holds when every policy holds. And() holds.
func And[S Fail](policies ...Policy[S]) Policy[S] {
	return func(rc RetryContext[S]) bool {
		for _, p := range policies {
			if !p(rc) {
				return false
			}
		}
		return true
	}
}

// Or holds when any policy holds. Or() does not hold.
func Or[S Fail](policies ...Policy[S]) Policy[S] {
	return func(rc RetryContext[S]) bool {
		for _, p := range policies {
			if p(rc) {
				return true
			}
		}
		return false
	}
}

// Not inverts a policy.
func Not[S Fail](policy Policy[S]) Policy[S] {
	return func(rc RetryContext[S]) bool {
		return !policy(rc)
	}
}
