package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration marks fatal errors in factors, replications or options
	ErrConfiguration = errors.New("configuration error")
	// ErrPool marks worker pool failures that abort a run
	ErrPool = errors.New("worker pool error")
	// ErrPersistence marks failed result flushes
	ErrPersistence = errors.New("persistence error")
)

// ConfigurationError reports a malformed design. No task runs.
type ConfigurationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	msg := "configuration error"
	if e.Field != "" {
		msg += ": " + e.Field
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// Is matches ErrConfiguration
func (e *ConfigurationError) Is(target error) bool { return target == ErrConfiguration }

// Configf builds a ConfigurationError with a formatted reason
func Configf(field, format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// ExclusionEvaluationError reports a failing exclusion predicate for one
// candidate condition
type ExclusionEvaluationError struct {
	Condition string
	Err       error
}

func (e *ExclusionEvaluationError) Error() string {
	return fmt.Sprintf("evaluating exclusion for %s: %v", e.Condition, e.Err)
}

func (e *ExclusionEvaluationError) Unwrap() error { return e.Err }

// TaskExecutionError reports a failing user computation for one task
type TaskExecutionError struct {
	Task Task
	Err  error
}

func (e *TaskExecutionError) Error() string {
	return fmt.Sprintf("%s: %v", e.Task, e.Err)
}

func (e *TaskExecutionError) Unwrap() error { return e.Err }

// PanicError wraps a value recovered from a panicking computation
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// PoolError reports that the worker pool could not start or crashed
type PoolError struct {
	Op  string
	Err error
}

func (e *PoolError) Error() string {
	return fmt.Sprintf("worker pool %s: %v", e.Op, e.Err)
}

func (e *PoolError) Unwrap() error { return e.Err }

// Is matches ErrPool
func (e *PoolError) Is(target error) bool { return target == ErrPool }

// PersistenceError reports a failed write or rename during a flush
type PersistenceError struct {
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("writing %s: %v", e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Is matches ErrPersistence
func (e *PersistenceError) Is(target error) bool { return target == ErrPersistence }
