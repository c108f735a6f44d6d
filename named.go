package stepz

import (
	"context"
	"maps"
	"runtime"
	"strings"
)

// FeatureKey identifies one typed entry in a NamedStep's feature set. Keys
// compare by identity, so two keys created with the same label are distinct.
type FeatureKey[V any] struct {
	label string
}

// NewFeatureKey creates a feature key. The label is only used for display.
func NewFeatureKey[V any](label string) *FeatureKey[V] {
	return &FeatureKey[V]{label: label}
}

// String returns the key's label.
func (k *FeatureKey[V]) String() string {
	return k.label
}

// NameFeature holds the display name of a NamedStep.
var NameFeature = NewFeatureKey[Name]("name")

// NamedStep is a step carrying an immutable set of typed features, the
// display name among them. Adding a feature returns a copy; the original
// is never modified, so a NamedStep can be shared freely.
type NamedStep[S any] struct {
	step     Step[S]
	features map[any]any
}

// Named attaches name to step.
//
// Example:
//
//	const ChargeCardName stepz.Name = "charge-card"
//	charge := stepz.Named(ChargeCardName, chargeCard)
func Named[S any](name Name, step Step[S]) NamedStep[S] {
	return NamedStep[S]{
		step:     step,
		features: map[any]any{NameFeature: name},
	}
}

type autoNameOptions struct {
	callerSkip int
}

// AutoNameOption configures NamedAuto.
type AutoNameOption func(*autoNameOptions)

// SkipCaller adds delta to the number of stack frames NamedAuto skips
// before reading the caller's name. Use it when NamedAuto is called from a
// helper shared by several step constructors.
func SkipCaller(delta int) AutoNameOption {
	return func(o *autoNameOptions) {
		o.callerSkip += delta
	}
}

// NamedAuto names step after the function that called NamedAuto, which is
// normally the step's constructor:
//
//	func ChargeCard() stepz.NamedStep[Order] {
//	    return stepz.NamedAuto(func(ctx context.Context, o Order) (Order, error) {
//	        ...
//	    })
//	}
//	// Name() == "ChargeCard"
//
// Called from a closure, the name is the closure's symbol, such as "func1".
// If the caller cannot be resolved the name is "step".
func NamedAuto[S any](step Step[S], opts ...AutoNameOption) NamedStep[S] {
	const minimumCallerSkip = 1
	cfg := autoNameOptions{callerSkip: minimumCallerSkip}
	for _, opt := range opts {
		opt(&cfg)
	}

	name := "step"
	if pc, _, _, ok := runtime.Caller(cfg.callerSkip); ok {
		if fn := runtime.FuncForPC(pc); fn != nil {
			name = shortFuncName(fn.Name())
		}
	}
	return Named(name, step)
}

// shortFuncName reduces a full symbol such as
// "github.com/acme/shop.(*Cart).Checkout" to "Checkout".
func shortFuncName(full string) string {
	if i := strings.LastIndex(full, "/"); i != -1 {
		full = full[i+1:]
	}
	if i := strings.LastIndex(full, "."); i != -1 {
		full = full[i+1:]
	}
	return full
}

// WithFeature returns a copy of n with key set to value.
func WithFeature[S, V any](n NamedStep[S], key *FeatureKey[V], value V) NamedStep[S] {
	features := maps.Clone(n.features)
	if features == nil {
		features = make(map[any]any, 1)
	}
	features[key] = value
	return NamedStep[S]{step: n.step, features: features}
}

// Feature returns the value stored under key and whether it was present.
func Feature[S, V any](n NamedStep[S], key *FeatureKey[V]) (V, bool) {
	v, ok := n.features[key].(V)
	return v, ok
}

// Name returns the display name, or "" for an unnamed step.
func (n NamedStep[S]) Name() Name {
	name, _ := Feature(n, NameFeature)
	return name
}

// Step returns the underlying step, without name tracking.
func (n NamedStep[S]) Step() Step[S] {
	return n.step
}

// Process runs the step with its name pushed onto the context's name stack,
// see StepNames.
func (n NamedStep[S]) Process(ctx context.Context, state S) (S, error) {
	if n.step == nil {
		return state, nil
	}
	return n.step(withStepName(ctx, n.Name()), state)
}

type stepNamesKey struct{}

func withStepName(ctx context.Context, name Name) context.Context {
	names, _ := ctx.Value(stepNamesKey{}).([]Name)
	next := make([]Name, len(names), len(names)+1)
	copy(next, names)
	return context.WithValue(ctx, stepNamesKey{}, append(next, name))
}

// StepNames returns a copy of the names of the NamedSteps currently running,
// outermost first. It returns nil outside any NamedStep.
func StepNames(ctx context.Context) []Name {
	names, ok := ctx.Value(stepNamesKey{}).([]Name)
	if !ok || len(names) == 0 {
		return nil
	}
	return append([]Name(nil), names...)
}
