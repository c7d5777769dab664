package domain

import "time"

// Run is a stored record of one simulation run
type Run struct {
	ID         string
	DesignHash string
	Status     RunStatus
	TotalTasks int
	Succeeded  int
	Failed     int
	StartedAt  *time.Time
	FinishedAt *time.Time
}

// Warning is a non-fatal problem recorded while building or running a grid
type Warning struct {
	Condition string
	Message   string
}
