// Package grid expands factor levels into the conditions of a full
// factorial design.
package grid

import (
	"fmt"
	"math"

	"github.com/hochfrequenz/simgrid/internal/domain"
)

// ExcludeFunc reports whether a candidate condition must be dropped
type ExcludeFunc func(c domain.Condition) (bool, error)

// Options controls grid construction
type Options struct {
	Policy domain.ExclusionPolicy
}

// Grid is the ordered set of surviving conditions
type Grid struct {
	Factors    []string
	Conditions []domain.Condition
	// Candidates is the size of the unfiltered product
	Candidates int
	Excluded   int
	Warnings   []domain.Warning
}

// Len returns the number of surviving conditions
func (g Grid) Len() int { return len(g.Conditions) }

// Build generates the Cartesian product of all factor levels with the first
// declared factor varying slowest, drops the candidates rejected by exclude
// and numbers the survivors densely in generation order.
func Build(factors []domain.Factor, exclude ExcludeFunc, opts Options) (Grid, error) {
	if err := Validate(factors); err != nil {
		return Grid{}, err
	}
	if !opts.Policy.Valid() {
		return Grid{}, domain.Configf("exclusion_policy", "unknown policy %q", opts.Policy)
	}

	names := make([]string, len(factors))
	total := 1
	for i, f := range factors {
		names[i] = f.Name
		if total > math.MaxInt/len(f.Levels) {
			return Grid{}, domain.Configf("factors", "the product of factor levels exceeds %d conditions", math.MaxInt)
		}
		total *= len(f.Levels)
	}

	g := Grid{Factors: names, Candidates: total}

	// odometer over level indices; the last factor is the fastest digit
	digits := make([]int, len(factors))
	values := make([]domain.Value, len(factors))
	for n := 0; n < total; n++ {
		for i, f := range factors {
			values[i] = f.Levels[digits[i]]
		}
		candidate := domain.NewCondition(len(g.Conditions), names, values)

		drop, err := evaluate(exclude, candidate)
		if err != nil {
			evalErr := &domain.ExclusionEvaluationError{Condition: candidate.String(), Err: err}
			if opts.Policy == domain.FailOnError {
				return Grid{}, &domain.ConfigurationError{Field: "exclude", Err: evalErr}
			}
			g.Warnings = append(g.Warnings, domain.Warning{
				Condition: candidate.String(),
				Message:   evalErr.Error(),
			})
			drop = true
		}

		if drop {
			g.Excluded++
		} else {
			g.Conditions = append(g.Conditions, candidate)
		}

		for i := len(digits) - 1; i >= 0; i-- {
			digits[i]++
			if digits[i] < len(factors[i].Levels) {
				break
			}
			digits[i] = 0
		}
	}

	return g, nil
}

// Validate checks factor names and level lists
func Validate(factors []domain.Factor) error {
	if len(factors) == 0 {
		return domain.Configf("factors", "at least one factor is required")
	}
	seen := make(map[string]bool, len(factors))
	for i, f := range factors {
		if f.Name == "" {
			return domain.Configf("factors", "factor %d has an empty name", i)
		}
		if seen[f.Name] {
			return domain.Configf("factors", "duplicate factor name %q", f.Name)
		}
		seen[f.Name] = true
		if len(f.Levels) == 0 {
			return domain.Configf("factors", "factor %q has no candidate values", f.Name)
		}
	}
	return nil
}

func evaluate(exclude ExcludeFunc, c domain.Condition) (drop bool, err error) {
	if exclude == nil {
		return false, nil
	}
	defer func() {
		if r := recover(); r != nil {
			drop, err = false, &domain.PanicError{Value: r}
		}
	}()
	return exclude(c)
}

// Equal returns an ExcludeFunc dropping conditions whose levels match all
// of the given pairs
func Equal(pairs map[string]any) ExcludeFunc {
	return func(c domain.Condition) (bool, error) {
		for name, want := range pairs {
			got, ok := c.Get(name)
			if !ok {
				return false, fmt.Errorf("unknown factor %q", name)
			}
			wv, err := domain.ValueOf(want)
			if err != nil {
				return false, err
			}
			if !got.Equal(wv) {
				return false, nil
			}
		}
		return true, nil
	}
}
