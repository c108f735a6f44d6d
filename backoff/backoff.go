// Package backoff computes retry delays.
//
// Every function here is pure apart from the injected random source: given
// the same inputs and the same random draws it returns the same delay. All
// arithmetic is carried out in float64 and saturates, so no input can make
// a function panic or wrap around to a negative duration.
//
// The decorrelated jitter formula is empirical. Its two tuning factors are
// exposed through [Decorrelation] and default to the values that give the
// well-known "decorrelated jitter v2" curve.
package backoff

import (
	"math"
	"math/rand/v2"
	"time"
)

// MaxDuration is the largest delay any function in this package returns.
// It sits just below math.MaxInt64 nanoseconds so that converting the
// float64 result back to a time.Duration can never overflow.
const MaxDuration = time.Duration(math.MaxInt64 - 1000)

// Kind selects the growth curve of a [Strategy].
type Kind uint8

// Growth curves.
const (
	Constant Kind = iota
	Linear
	Exponential
)

// String returns the lowercase name of the kind.
func (k Kind) String() string {
	switch k {
	case Constant:
		return "constant"
	case Linear:
		return "linear"
	case Exponential:
		return "exponential"
	default:
		return "unknown"
	}
}

// Decorrelation holds the tuning factors of [DecorrelatedJitter].
// A zero field falls back to its default.
type Decorrelation struct {
	// PFactor shapes the tanh ramp. Default 4.0.
	PFactor float64
	// Scale converts the curve into multiples of the base delay. Default 1/1.4.
	Scale float64
}

// DefaultDecorrelation is the parameter set used when none is given.
var DefaultDecorrelation = Decorrelation{PFactor: 4.0, Scale: 1 / 1.4}

func (d Decorrelation) withDefaults() Decorrelation {
	if d.PFactor == 0 {
		d.PFactor = DefaultDecorrelation.PFactor
	}
	if d.Scale == 0 {
		d.Scale = DefaultDecorrelation.Scale
	}
	return d
}

// Strategy describes how a delay is derived from an attempt number.
type Strategy struct {
	Kind Kind
	// Base is the unit delay. A Base of zero or less always yields zero.
	Base time.Duration
	// Max caps the computed delay. Zero means no cap.
	Max time.Duration
	// Jitter randomizes the delay. Constant and Linear spread it ±25%;
	// Exponential switches to decorrelated jitter.
	Jitter bool
	// Decorrelation tunes exponential jitter. Zero value means defaults.
	Decorrelation Decorrelation
}

// Compute returns the delay for attempt under s.
//
// corr is the correlation basis of the current retry loop. It is read and
// advanced only by exponential jitter and must be carried from one call to
// the next for the delays to stay decorrelated. rnd returns values in
// [0, 1); nil selects math/rand/v2.
//
// The cap is applied after the raw delay is computed.
func Compute(s Strategy, attempt uint32, corr *float64, rnd func() float64) time.Duration {
	if rnd == nil {
		rnd = rand.Float64
	}

	var d time.Duration
	switch s.Kind {
	case Constant:
		d = ConstantDelay(s.Base, s.Jitter, rnd)
	case Linear:
		d = LinearDelay(attempt, s.Base, s.Jitter, rnd)
	case Exponential:
		if s.Jitter {
			if corr == nil {
				corr = new(float64)
			}
			d = DecorrelatedJitter(attempt, s.Base, corr, rnd, s.Decorrelation)
		} else {
			d = ExponentialDelay(attempt, s.Base)
		}
	}

	if s.Max > 0 && d > s.Max {
		return s.Max
	}
	return d
}

// ConstantDelay returns base, or base spread uniformly over ±25% of itself
// when jitter is set.
func ConstantDelay(base time.Duration, jitter bool, rnd func() float64) time.Duration {
	if base <= 0 {
		return 0
	}
	if !jitter {
		return base
	}
	return spread(float64(base), rnd)
}

// LinearDelay returns attempt*base, jittered like [ConstantDelay] but with
// the spread scaled by attempt.
func LinearDelay(attempt uint32, base time.Duration, jitter bool, rnd func() float64) time.Duration {
	if base <= 0 {
		return 0
	}
	d := float64(attempt) * float64(base)
	if !jitter {
		return saturate(d)
	}
	return spread(d, rnd)
}

// ExponentialDelay returns 2^attempt*base.
func ExponentialDelay(attempt uint32, base time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	return saturate(math.Exp2(float64(attempt)) * float64(base))
}

// DecorrelatedJitter returns the next delay of a decorrelated exponential
// sequence and advances prev.
//
//	t     = attempt + rnd()
//	next  = 2^t * tanh(sqrt(PFactor * t))
//	delay = (next - prev) * Scale * base
//
// Carry prev across the calls of one retry loop; start it at zero.
func DecorrelatedJitter(attempt uint32, base time.Duration, prev *float64, rnd func() float64, params Decorrelation) time.Duration {
	if base <= 0 {
		return 0
	}
	if rnd == nil {
		rnd = rand.Float64
	}
	params = params.withDefaults()

	t := float64(attempt) + rnd()
	next := math.Exp2(t) * math.Tanh(math.Sqrt(params.PFactor*t))
	d := (next - *prev) * params.Scale * float64(base)
	*prev = next
	return saturate(d)
}

// spread applies ±25% jitter around d.
func spread(d float64, rnd func() float64) time.Duration {
	if rnd == nil {
		rnd = rand.Float64
	}
	const factor = 0.5
	offset := d * factor / 2
	return saturate(d + d*factor*rnd() - offset)
}

func saturate(d float64) time.Duration {
	switch {
	case math.IsNaN(d), d >= float64(MaxDuration):
		return MaxDuration
	case d <= 0:
		return 0
	default:
		return time.Duration(d)
	}
}
