package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Kind identifies the dynamic type held by a Value
type Kind int

const (
	KindNA Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindVector
)

// String returns the kind name used in persisted payloads
func (k Kind) String() string {
	switch k {
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindVector:
		return "vector"
	default:
		return "na"
	}
}

// Value is a factor level or a computation output: a scalar, a string or a
// numeric vector. The zero Value is NA.
type Value struct {
	kind Kind
	b    bool
	i    int64
	f    float64
	s    string
	vec  []float64
}

// NA is the absent value
var NA = Value{}

// Bool returns a boolean Value
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Int returns an integer Value
func Int(i int64) Value { return Value{kind: KindInt, i: i} }

// Float returns a floating-point Value
func Float(f float64) Value { return Value{kind: KindFloat, f: f} }

// String returns a string Value
func String(s string) Value { return Value{kind: KindString, s: s} }

// Vector returns a numeric vector Value. The slice is copied.
func Vector(v []float64) Value {
	return Value{kind: KindVector, vec: append([]float64(nil), v...)}
}

// ValueOf converts a Go value into a Value. Supported inputs are bool, the
// integer and float types, string, []float64, []int and Value itself.
func ValueOf(v any) (Value, error) {
	switch x := v.(type) {
	case nil:
		return NA, nil
	case Value:
		return x.Clone(), nil
	case bool:
		return Bool(x), nil
	case int:
		return Int(int64(x)), nil
	case int8:
		return Int(int64(x)), nil
	case int16:
		return Int(int64(x)), nil
	case int32:
		return Int(int64(x)), nil
	case int64:
		return Int(x), nil
	case uint:
		return Int(int64(x)), nil
	case uint8:
		return Int(int64(x)), nil
	case uint16:
		return Int(int64(x)), nil
	case uint32:
		return Int(int64(x)), nil
	case float32:
		return Float(float64(x)), nil
	case float64:
		return Float(x), nil
	case string:
		return String(x), nil
	case []float64:
		return Vector(x), nil
	case []int:
		vec := make([]float64, len(x))
		for i, n := range x {
			vec[i] = float64(n)
		}
		return Value{kind: KindVector, vec: vec}, nil
	default:
		return NA, fmt.Errorf("unsupported value type %T", v)
	}
}

// MustValue is like ValueOf but panics on unsupported types
func MustValue(v any) Value {
	val, err := ValueOf(v)
	if err != nil {
		panic(err)
	}
	return val
}

// Kind returns the dynamic kind
func (v Value) Kind() Kind { return v.kind }

// IsNA reports whether the value is absent
func (v Value) IsNA() bool { return v.kind == KindNA }

// Bool returns the boolean payload
func (v Value) Bool() (bool, bool) { return v.b, v.kind == KindBool }

// Int returns the integer payload
func (v Value) Int() (int64, bool) { return v.i, v.kind == KindInt }

// Str returns the string payload
func (v Value) Str() (string, bool) { return v.s, v.kind == KindString }

// Vec returns a copy of the vector payload
func (v Value) Vec() ([]float64, bool) {
	if v.kind != KindVector {
		return nil, false
	}
	return append([]float64(nil), v.vec...), true
}

// Float returns the value as a float64 for numeric kinds
func (v Value) Float() (float64, bool) {
	switch v.kind {
	case KindFloat:
		return v.f, true
	case KindInt:
		return float64(v.i), true
	case KindBool:
		if v.b {
			return 1, true
		}
		return 0, true
	default:
		return math.NaN(), false
	}
}

// Interface returns the payload as a plain Go value
func (v Value) Interface() any {
	switch v.kind {
	case KindBool:
		return v.b
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	case KindString:
		return v.s
	case KindVector:
		return append([]float64(nil), v.vec...)
	default:
		return nil
	}
}

// Clone returns a deep copy
func (v Value) Clone() Value {
	if v.kind == KindVector {
		v.vec = append([]float64(nil), v.vec...)
	}
	return v
}

// Equal reports whether both values have the same kind and payload
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNA:
		return true
	case KindBool:
		return v.b == o.b
	case KindInt:
		return v.i == o.i
	case KindFloat:
		return v.f == o.f || (math.IsNaN(v.f) && math.IsNaN(o.f))
	case KindString:
		return v.s == o.s
	case KindVector:
		if len(v.vec) != len(o.vec) {
			return false
		}
		for i := range v.vec {
			if v.vec[i] != o.vec[i] {
				return false
			}
		}
		return true
	}
	return false
}

// String formats the value as written to result files. NA is "NA" and
// vector elements are joined with ";".
func (v Value) String() string {
	switch v.kind {
	case KindBool:
		if v.b {
			return "TRUE"
		}
		return "FALSE"
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return formatFloat(v.f)
	case KindString:
		return v.s
	case KindVector:
		parts := make([]string, len(v.vec))
		for i, f := range v.vec {
			parts[i] = formatFloat(f)
		}
		return strings.Join(parts, ";")
	default:
		return "NA"
	}
}

func formatFloat(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Inf"
	case math.IsInf(f, -1):
		return "-Inf"
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

type valueJSON struct {
	Kind string    `json:"k"`
	Bool bool      `json:"b,omitempty"`
	Int  int64     `json:"i,omitempty"`
	Num  string    `json:"f,omitempty"`
	Str  string    `json:"s,omitempty"`
	Vec  []float64 `json:"v,omitempty"`
}

// MarshalJSON encodes the value with an explicit kind tag so integers and
// floats survive a round trip through the result store.
func (v Value) MarshalJSON() ([]byte, error) {
	out := valueJSON{Kind: v.kind.String()}
	switch v.kind {
	case KindBool:
		out.Bool = v.b
	case KindInt:
		out.Int = v.i
	case KindFloat:
		out.Num = formatFloat(v.f)
	case KindString:
		out.Str = v.s
	case KindVector:
		out.Vec = v.vec
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes a value written by MarshalJSON
func (v *Value) UnmarshalJSON(data []byte) error {
	var in valueJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	switch in.Kind {
	case "bool":
		*v = Bool(in.Bool)
	case "int":
		*v = Int(in.Int)
	case "float":
		f, err := parseFloat(in.Num)
		if err != nil {
			return err
		}
		*v = Float(f)
	case "string":
		*v = String(in.Str)
	case "vector":
		*v = Vector(in.Vec)
	case "na", "":
		*v = NA
	default:
		return fmt.Errorf("unknown value kind %q", in.Kind)
	}
	return nil
}

func parseFloat(s string) (float64, error) {
	switch s {
	case "NaN":
		return math.NaN(), nil
	case "Inf":
		return math.Inf(1), nil
	case "-Inf":
		return math.Inf(-1), nil
	}
	return strconv.ParseFloat(s, 64)
}

// Outputs is the flat mapping of named values produced by one computation
type Outputs map[string]Value

// Clone returns a deep copy
func (o Outputs) Clone() Outputs {
	if o == nil {
		return nil
	}
	out := make(Outputs, len(o))
	for k, v := range o {
		out[k] = v.Clone()
	}
	return out
}

// Exports are named objects made available to every worker context. Each
// worker receives its own copy before running any task.
type Exports map[string]any
