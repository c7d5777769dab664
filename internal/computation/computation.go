// Package computation defines the user-supplied unit of work run for every
// replication of every condition.
package computation

import (
	"context"
	"fmt"

	"github.com/hochfrequenz/simgrid/internal/domain"
)

// Input is what one invocation of a computation sees
type Input struct {
	Condition domain.Condition
	Task      domain.Task
	Seed      int64
	// Exports is the worker's private copy of the exported objects
	Exports domain.Exports
}

// Get returns the level of a factor
func (in Input) Get(name string) domain.Value {
	v, _ := in.Condition.Get(name)
	return v
}

// Float returns a numeric factor level, failing for non-numeric kinds
func (in Input) Float(name string) (float64, error) {
	v, ok := in.Condition.Get(name)
	if !ok {
		return 0, fmt.Errorf("unknown factor %q", name)
	}
	f, ok := v.Float()
	if !ok {
		return 0, fmt.Errorf("factor %q is %s, not numeric", name, v.Kind())
	}
	return f, nil
}

// Computation produces named outputs for one condition. Implementations
// must be safe to invoke concurrently from different workers and must not
// depend on call order.
type Computation interface {
	Invoke(ctx context.Context, in Input) (domain.Outputs, error)
}

// Func adapts a plain function to the Computation interface
type Func func(ctx context.Context, in Input) (domain.Outputs, error)

// Invoke calls f
func (f Func) Invoke(ctx context.Context, in Input) (domain.Outputs, error) {
	return f(ctx, in)
}

// Values adapts a function returning plain Go values. Each value is
// converted with domain.ValueOf.
func Values(fn func(ctx context.Context, in Input) (map[string]any, error)) Computation {
	return Func(func(ctx context.Context, in Input) (domain.Outputs, error) {
		raw, err := fn(ctx, in)
		if err != nil {
			return nil, err
		}
		return ToOutputs(raw)
	})
}

// ToOutputs converts plain Go values into Outputs
func ToOutputs(raw map[string]any) (domain.Outputs, error) {
	out := make(domain.Outputs, len(raw))
	for k, v := range raw {
		val, err := domain.ValueOf(v)
		if err != nil {
			return nil, fmt.Errorf("output %q: %w", k, err)
		}
		out[k] = val
	}
	return out, nil
}
