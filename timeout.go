package stepz

import (
	"context"
	"time"
)

// Timeout bounds step by racing it against a delay of d.
//
// If step completes first its result is returned. If the delay elapses
// first, Timeout returns onTimeout applied to the input state, and step
// observes cancellation through the state's context. Typically onTimeout
// marks the state as a TransientFailure so an enclosing Retry can try
// again.
//
// The delay waits on the clock given with WithDelayClock, or the real clock.
//
// Example:
//
//	bounded := stepz.Timeout(callInventory, 2*time.Second,
//	    func(r Request) Request {
//	        return r.Fail(stepz.TransientFailure, errInventoryTimeout)
//	    },
//	)
func Timeout[S Cancellable[S]](step Step[S], d time.Duration, onTimeout Func[S], opts ...DelayOption) Step[S] {
	cfg := newDelayConfig(opts)
	timer := func(ctx context.Context, state S) (S, error) {
		select {
		case <-cfg.clock.After(d):
			return onTimeout(state), nil
		case <-orContext(state.Context(), ctx).Done():
			return state, context.Canceled
		case <-ctx.Done():
			return state, ctx.Err()
		}
	}
	return Race(step, timer)
}
