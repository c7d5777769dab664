package domain

// RunStatus represents the lifecycle state of a simulation run
type RunStatus string

const (
	RunIdle      RunStatus = "idle"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunCancelled RunStatus = "cancelled"
	RunAborted   RunStatus = "aborted"
)

// Terminal reports whether no further transitions are possible
func (s RunStatus) Terminal() bool {
	switch s {
	case RunCompleted, RunCancelled, RunAborted:
		return true
	}
	return false
}

// CanTransition reports whether moving from s to next is allowed
func (s RunStatus) CanTransition(next RunStatus) bool {
	switch s {
	case RunIdle:
		return next == RunRunning
	case RunRunning:
		return next.Terminal()
	}
	return false
}

// ExclusionPolicy decides what happens when the exclusion predicate fails
type ExclusionPolicy string

const (
	// ExcludeOnError drops the candidate and records a warning
	ExcludeOnError ExclusionPolicy = "exclude"
	// FailOnError aborts grid construction
	FailOnError ExclusionPolicy = "fail"
)

// Valid reports whether the policy is known
func (p ExclusionPolicy) Valid() bool {
	return p == ExcludeOnError || p == FailOnError || p == ""
}
