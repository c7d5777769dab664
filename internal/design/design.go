// Package design loads simulation designs from HCL files.
//
// A design file declares factors, replications and an optional exclusion
// expression evaluated against each candidate condition:
//
//	replications = 100
//	seed         = 42
//	command      = "./simulate.sh"
//
//	factor "n" {
//	  values = [20, 50, 100]
//	}
//
//	factor "dist" {
//	  values = ["norm", "t"]
//	}
//
//	exclude = n == 100 && dist == "t"
package design

import (
	"fmt"
	"os"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"

	"github.com/hochfrequenz/simgrid/internal/domain"
	"github.com/hochfrequenz/simgrid/internal/grid"
)

// Design is a parsed design file
type Design struct {
	Path         string
	Factors      []domain.Factor
	Replications int
	Seed         int64
	Command      string
	MaxErrors    int
	// ExcludeSource is the source text of the exclusion expression
	ExcludeSource string

	exclude hcl.Expression
	set     map[string]bool
}

type designFile struct {
	Replications *int           `hcl:"replications,optional"`
	Seed         *int64         `hcl:"seed,optional"`
	Command      *string        `hcl:"command,optional"`
	MaxErrors    *int           `hcl:"max_errors,optional"`
	Exclude      hcl.Expression `hcl:"exclude,optional"`
	Factors      []*factorBlock `hcl:"factor,block"`
}

type factorBlock struct {
	Name   string         `hcl:"name,label"`
	Values hcl.Expression `hcl:"values,attr"`
}

// Load parses the design file at path
func Load(path string) (*Design, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading design: %w", err)
	}
	return Parse(src, path)
}

// Parse parses design source. filename is used in diagnostics.
func Parse(src []byte, filename string) (*Design, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, &domain.ConfigurationError{Field: "design", Reason: "parsing " + filename, Err: diags}
	}

	var raw designFile
	if diags := gohcl.DecodeBody(file.Body, nil, &raw); diags.HasErrors() {
		return nil, &domain.ConfigurationError{Field: "design", Reason: "decoding " + filename, Err: diags}
	}

	d := &Design{Path: filename, Replications: 1, set: make(map[string]bool)}
	if raw.Replications != nil {
		d.Replications = *raw.Replications
		d.set["replications"] = true
	}
	if raw.Seed != nil {
		d.Seed = *raw.Seed
		d.set["seed"] = true
	}
	if raw.Command != nil {
		d.Command = *raw.Command
		d.set["command"] = true
	}
	if raw.MaxErrors != nil {
		d.MaxErrors = *raw.MaxErrors
		d.set["max_errors"] = true
	}

	for _, fb := range raw.Factors {
		f, err := decodeFactor(fb)
		if err != nil {
			return nil, err
		}
		d.Factors = append(d.Factors, f)
	}
	if err := grid.Validate(d.Factors); err != nil {
		return nil, err
	}

	if !isNull(raw.Exclude) {
		d.exclude = raw.Exclude
		rng := raw.Exclude.Range()
		d.ExcludeSource = string(rng.SliceBytes(src))
		if err := d.checkVariables(); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// IsSet reports whether the design file assigned a top-level attribute
func (d *Design) IsSet(attr string) bool {
	return d.set[attr]
}

func decodeFactor(fb *factorBlock) (domain.Factor, error) {
	val, diags := fb.Values.Value(nil)
	if diags.HasErrors() {
		return domain.Factor{}, &domain.ConfigurationError{Field: "factor " + fb.Name, Err: diags}
	}
	if !val.IsKnown() || val.IsNull() || !(val.Type().IsTupleType() || val.Type().IsListType()) {
		return domain.Factor{}, domain.Configf("factor "+fb.Name, "values must be a list")
	}

	levels := make([]domain.Value, 0, val.LengthInt())
	for it := val.ElementIterator(); it.Next(); {
		_, elem := it.Element()
		v, err := FromCty(elem)
		if err != nil {
			return domain.Factor{}, &domain.ConfigurationError{Field: "factor " + fb.Name, Err: err}
		}
		levels = append(levels, v)
	}
	return domain.Factor{Name: fb.Name, Levels: levels}, nil
}

// checkVariables rejects expressions that refer to unknown factors
func (d *Design) checkVariables() error {
	known := make(map[string]bool, len(d.Factors))
	for _, f := range d.Factors {
		known[f.Name] = true
	}
	for _, traversal := range d.exclude.Variables() {
		name := traversal.RootName()
		if !known[name] {
			return domain.Configf("exclude", "unknown factor %q", name)
		}
	}
	return nil
}

// HasExclude reports whether the design declares an exclusion expression
func (d *Design) HasExclude() bool { return d.exclude != nil }

// Exclude returns the exclusion predicate, nil when none is declared
func (d *Design) Exclude() grid.ExcludeFunc {
	if d.exclude == nil {
		return nil
	}
	expr := d.exclude
	return func(c domain.Condition) (bool, error) {
		return evalExclude(expr, c)
	}
}

func isNull(expr hcl.Expression) bool {
	if expr == nil {
		return true
	}
	if len(expr.Variables()) > 0 {
		return false
	}
	v, diags := expr.Value(nil)
	return !diags.HasErrors() && v.IsNull()
}
