package domain

import (
	"errors"
	"fmt"
	"time"
)

// Factor is a named experimental variable with its candidate levels
type Factor struct {
	Name   string
	Levels []Value
}

// NewFactor builds a Factor from plain Go values
func NewFactor(name string, levels ...any) (Factor, error) {
	f := Factor{Name: name, Levels: make([]Value, 0, len(levels))}
	for i, l := range levels {
		v, err := ValueOf(l)
		if err != nil {
			return Factor{}, fmt.Errorf("factor %q level %d: %w", name, i, err)
		}
		f.Levels = append(f.Levels, v)
	}
	return f, nil
}

// MustFactor is like NewFactor but panics on unsupported level types
func MustFactor(name string, levels ...any) Factor {
	f, err := NewFactor(name, levels...)
	if err != nil {
		panic(err)
	}
	return f
}

// Condition is one cell of the factorial design. It is immutable once built.
type Condition struct {
	Index  int
	names  []string
	values []Value
}

// NewCondition creates a condition. names and values must have equal length.
func NewCondition(index int, names []string, values []Value) Condition {
	c := Condition{
		Index:  index,
		names:  append([]string(nil), names...),
		values: make([]Value, len(values)),
	}
	for i, v := range values {
		c.values[i] = v.Clone()
	}
	return c
}

// Names returns the factor names in declaration order
func (c Condition) Names() []string {
	return append([]string(nil), c.names...)
}

// Values returns copies of the levels in declaration order
func (c Condition) Values() []Value {
	out := make([]Value, len(c.values))
	for i, v := range c.values {
		out[i] = v.Clone()
	}
	return out
}

// Get returns the level chosen for a factor
func (c Condition) Get(name string) (Value, bool) {
	for i, n := range c.names {
		if n == name {
			return c.values[i].Clone(), true
		}
	}
	return NA, false
}

// Map returns the condition as a name to value mapping
func (c Condition) Map() map[string]Value {
	m := make(map[string]Value, len(c.names))
	for i, n := range c.names {
		m[n] = c.values[i].Clone()
	}
	return m
}

// Len returns the number of factors
func (c Condition) Len() int { return len(c.names) }

// String renders the condition as "a=1, b=10"
func (c Condition) String() string {
	s := ""
	for i, n := range c.names {
		if i > 0 {
			s += ", "
		}
		s += n + "=" + c.values[i].String()
	}
	return s
}

// Task identifies one replication of one condition
type Task struct {
	ConditionIndex int
	Replication    int
	Index          int
}

// String returns the canonical string representation
func (t Task) String() string {
	return fmt.Sprintf("task %d (condition %d, replication %d)", t.Index, t.ConditionIndex, t.Replication)
}

// ResultStatus distinguishes successful from failed task outcomes
type ResultStatus string

const (
	ResultSucceeded ResultStatus = "succeeded"
	ResultFailed    ResultStatus = "failed"
	ResultSkipped   ResultStatus = "skipped"
)

// TaskResult is the outcome of executing a task
type TaskResult struct {
	Task    Task
	Status  ResultStatus
	Outputs Outputs
	Error   string
	Seed    int64
	Elapsed time.Duration
	// Cause is the execution error of a failed result. Results restored
	// from a store carry only Error.
	Cause error
}

// Succeeded reports whether the task produced outputs
func (r TaskResult) Succeeded() bool { return r.Status == ResultSucceeded }

// Success builds a successful result
func Success(task Task, out Outputs) TaskResult {
	return TaskResult{Task: task, Status: ResultSucceeded, Outputs: out.Clone()}
}

// Failure builds a failed result from an execution error. The error
// column holds the computation's own message, without the task prefix
// of a TaskExecutionError.
func Failure(task Task, err error) TaskResult {
	msg := err.Error()
	var te *TaskExecutionError
	if errors.As(err, &te) && te.Err != nil {
		msg = te.Err.Error()
	}
	return TaskResult{Task: task, Status: ResultFailed, Error: msg, Cause: err}
}

// Skipped builds a result for a task that was never executed
func Skipped(task Task, reason string) TaskResult {
	return TaskResult{Task: task, Status: ResultSkipped, Error: reason}
}

// SeedPolicy derives the random seed handed to each task. A task's seed
// depends only on its identity, never on the worker that runs it.
type SeedPolicy struct {
	Base         int64
	PerCondition []int64
}

// For returns the seed for a task. When per-condition seeds are configured
// the condition seed is offset by the replication index, otherwise the
// base seed is offset by the global task index.
func (p SeedPolicy) For(t Task) int64 {
	if t.ConditionIndex < len(p.PerCondition) {
		return p.PerCondition[t.ConditionIndex] + int64(t.Replication)
	}
	return p.Base + int64(t.Index)
}
