package design

import (
	"errors"
	"fmt"
	"math"

	"github.com/hashicorp/hcl/v2"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
	"github.com/zclconf/go-cty/cty/function"
	"github.com/zclconf/go-cty/cty/function/stdlib"

	"github.com/hochfrequenz/simgrid/internal/domain"
)

// functions available to exclusion expressions
var functions = map[string]function.Function{
	"abs":      stdlib.AbsoluteFunc,
	"ceil":     stdlib.CeilFunc,
	"floor":    stdlib.FloorFunc,
	"log":      stdlib.LogFunc,
	"pow":      stdlib.PowFunc,
	"max":      stdlib.MaxFunc,
	"min":      stdlib.MinFunc,
	"signum":   stdlib.SignumFunc,
	"length":   stdlib.LengthFunc,
	"contains": stdlib.ContainsFunc,
	"lower":    stdlib.LowerFunc,
	"upper":    stdlib.UpperFunc,
	"strlen":   stdlib.StrlenFunc,
}

// FromCty converts a cty value into a factor level
func FromCty(v cty.Value) (domain.Value, error) {
	if v.IsNull() {
		return domain.NA, nil
	}
	if !v.IsKnown() {
		return domain.NA, errors.New("value is not known")
	}

	ty := v.Type()
	switch {
	case ty == cty.Bool:
		return domain.Bool(v.True()), nil
	case ty == cty.String:
		return domain.String(v.AsString()), nil
	case ty == cty.Number:
		bf := v.AsBigFloat()
		if bf.IsInt() {
			if i, acc := bf.Int64(); acc == 0 {
				return domain.Int(i), nil
			}
		}
		f, _ := bf.Float64()
		return domain.Float(f), nil
	case ty.IsTupleType() || ty.IsListType():
		vec := make([]float64, 0, v.LengthInt())
		for it := v.ElementIterator(); it.Next(); {
			_, elem := it.Element()
			n, err := convert.Convert(elem, cty.Number)
			if err != nil || n.IsNull() {
				return domain.NA, fmt.Errorf("vector levels must be numeric, got %s", elem.Type().FriendlyName())
			}
			f, _ := n.AsBigFloat().Float64()
			vec = append(vec, f)
		}
		return domain.Vector(vec), nil
	}
	return domain.NA, fmt.Errorf("unsupported level type %s", ty.FriendlyName())
}

// ToCty converts a factor level for use in expressions
func ToCty(v domain.Value) cty.Value {
	switch v.Kind() {
	case domain.KindBool:
		b, _ := v.Bool()
		return cty.BoolVal(b)
	case domain.KindInt:
		i, _ := v.Int()
		return cty.NumberIntVal(i)
	case domain.KindFloat:
		f, _ := v.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return cty.NullVal(cty.Number)
		}
		return cty.NumberFloatVal(f)
	case domain.KindString:
		s, _ := v.Str()
		return cty.StringVal(s)
	case domain.KindVector:
		vec, _ := v.Vec()
		if len(vec) == 0 {
			return cty.ListValEmpty(cty.Number)
		}
		elems := make([]cty.Value, len(vec))
		for i, f := range vec {
			elems[i] = ToCty(domain.Float(f))
		}
		return cty.ListVal(elems)
	}
	return cty.NullVal(cty.DynamicPseudoType)
}

// EvalContext exposes a condition's levels as variables
func EvalContext(c domain.Condition) *hcl.EvalContext {
	vars := make(map[string]cty.Value, c.Len())
	names := c.Names()
	for i, v := range c.Values() {
		vars[names[i]] = ToCty(v)
	}
	return &hcl.EvalContext{Variables: vars, Functions: functions}
}

func evalExclude(expr hcl.Expression, c domain.Condition) (bool, error) {
	val, diags := expr.Value(EvalContext(c))
	if diags.HasErrors() {
		return false, diags
	}
	val, err := convert.Convert(val, cty.Bool)
	if err != nil {
		return false, fmt.Errorf("exclude must be a bool: %w", err)
	}
	if val.IsNull() || !val.IsKnown() {
		return false, errors.New("exclude evaluated to null")
	}
	return val.True(), nil
}
