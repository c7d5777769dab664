package domain

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
)

func TestValueOf(t *testing.T) {
	tests := []struct {
		input    any
		wantKind Kind
		wantStr  string
		wantErr  bool
	}{
		{1, KindInt, "1", false},
		{int64(-4), KindInt, "-4", false},
		{2.5, KindFloat, "2.5", false},
		{"norm", KindString, "norm", false},
		{true, KindBool, "TRUE", false},
		{[]float64{1, 2.5}, KindVector, "1;2.5", false},
		{nil, KindNA, "NA", false},
		{struct{}{}, KindNA, "", true},
	}

	for _, tt := range tests {
		v, err := ValueOf(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValueOf(%v) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			continue
		}
		if err != nil {
			continue
		}
		if v.Kind() != tt.wantKind {
			t.Errorf("ValueOf(%v).Kind() = %v, want %v", tt.input, v.Kind(), tt.wantKind)
		}
		if v.String() != tt.wantStr {
			t.Errorf("ValueOf(%v).String() = %q, want %q", tt.input, v.String(), tt.wantStr)
		}
	}
}

func TestValue_Float(t *testing.T) {
	if f, ok := Int(3).Float(); !ok || f != 3 {
		t.Errorf("Int(3).Float() = %v, %v", f, ok)
	}
	if _, ok := String("x").Float(); ok {
		t.Error("String should not convert to float")
	}
	if f, _ := Float(math.Inf(1)).Float(); !math.IsInf(f, 1) {
		t.Errorf("Inf lost: %v", f)
	}
}

func TestValue_CloneIsolatesVector(t *testing.T) {
	src := []float64{1, 2, 3}
	v := Vector(src)
	src[0] = 99

	got, _ := v.Vec()
	if got[0] != 1 {
		t.Errorf("Vector aliased its input: got %v", got)
	}

	got[1] = 42
	again, _ := v.Vec()
	if again[1] != 2 {
		t.Errorf("Vec() exposed internal storage: got %v", again)
	}
}

func TestValue_JSONKeepsKind(t *testing.T) {
	values := []Value{Int(7), Float(7), String("7"), Bool(false), Vector([]float64{0.5}), NA, Float(math.NaN())}

	for _, v := range values {
		data, err := json.Marshal(v)
		if err != nil {
			t.Fatal(err)
		}
		var got Value
		if err := json.Unmarshal(data, &got); err != nil {
			t.Fatalf("Unmarshal(%s): %v", data, err)
		}
		if !got.Equal(v) {
			t.Errorf("decoded %s as %v (%v), want %v (%v)", data, got, got.Kind(), v, v.Kind())
		}
	}
}

func TestCondition_Accessors(t *testing.T) {
	c := NewCondition(3, []string{"a", "b"}, []Value{Int(1), String("x")})

	if v, ok := c.Get("b"); !ok || !v.Equal(String("x")) {
		t.Errorf("Get(b) = %v, %v", v, ok)
	}
	if _, ok := c.Get("missing"); ok {
		t.Error("Get(missing) should fail")
	}
	if c.String() != "a=1, b=x" {
		t.Errorf("String() = %q", c.String())
	}

	names := c.Names()
	names[0] = "mutated"
	if c.Names()[0] != "a" {
		t.Error("Names() exposed internal storage")
	}
}

func TestSeedPolicy_For(t *testing.T) {
	p := SeedPolicy{Base: 100}
	if got := p.For(Task{Index: 5}); got != 105 {
		t.Errorf("base seed = %d, want 105", got)
	}

	p = SeedPolicy{PerCondition: []int64{10, 20}}
	if got := p.For(Task{ConditionIndex: 1, Replication: 3, Index: 9}); got != 23 {
		t.Errorf("per-condition seed = %d, want 23", got)
	}
}

func TestRunStatus_Transitions(t *testing.T) {
	tests := []struct {
		from, to RunStatus
		want     bool
	}{
		{RunIdle, RunRunning, true},
		{RunIdle, RunCompleted, false},
		{RunRunning, RunCompleted, true},
		{RunRunning, RunCancelled, true},
		{RunRunning, RunAborted, true},
		{RunCompleted, RunRunning, false},
	}

	for _, tt := range tests {
		if got := tt.from.CanTransition(tt.to); got != tt.want {
			t.Errorf("%s -> %s = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestErrors_Match(t *testing.T) {
	var err error = Configf("factors", "factor %q has no levels", "a")
	if !errors.Is(err, ErrConfiguration) {
		t.Error("ConfigurationError should match ErrConfiguration")
	}

	err = &PoolError{Op: "submit", Err: errors.New("closed")}
	if !errors.Is(err, ErrPool) {
		t.Error("PoolError should match ErrPool")
	}
	if errors.Is(err, ErrConfiguration) {
		t.Error("PoolError should not match ErrConfiguration")
	}

	var pe *PersistenceError
	err = errors.Join(errors.New("other"), &PersistenceError{Path: "x.csv", Err: errors.New("disk full")})
	if !errors.As(err, &pe) || pe.Path != "x.csv" {
		t.Errorf("errors.As PersistenceError failed: %v", err)
	}
}
