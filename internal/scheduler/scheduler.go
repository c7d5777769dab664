package scheduler

import (
	"math"

	"github.com/hochfrequenz/simgrid/internal/domain"
)

// Queue holds the ordered replication tasks of a grid
type Queue struct {
	tasks        []domain.Task
	conditions   int
	replications int
}

// New expands every condition into replications tasks. Tasks are ordered
// by condition index, then replication index, and numbered densely.
func New(conditions []domain.Condition, replications int) (*Queue, error) {
	if replications < 0 {
		return nil, domain.Configf("replications", "must not be negative, got %d", replications)
	}

	if len(conditions) > 0 && replications > math.MaxInt/len(conditions) {
		return nil, domain.Configf("replications", "%d conditions x %d replications exceeds %d tasks", len(conditions), replications, math.MaxInt)
	}

	tasks := make([]domain.Task, 0, len(conditions)*replications)
	for _, c := range conditions {
		for r := 0; r < replications; r++ {
			tasks = append(tasks, domain.Task{
				ConditionIndex: c.Index,
				Replication:    r,
				Index:          len(tasks),
			})
		}
	}

	return &Queue{
		tasks:        tasks,
		conditions:   len(conditions),
		replications: replications,
	}, nil
}

// Tasks returns all tasks in execution order
func (q *Queue) Tasks() []domain.Task {
	return append([]domain.Task(nil), q.tasks...)
}

// Total returns the number of tasks
func (q *Queue) Total() int {
	return len(q.tasks)
}

// Replications returns the per-condition replication count
func (q *Queue) Replications() int {
	return q.replications
}

// Task returns the task with the given global index
func (q *Queue) Task(index int) (domain.Task, bool) {
	if index < 0 || index >= len(q.tasks) {
		return domain.Task{}, false
	}
	return q.tasks[index], true
}

// Pending returns the tasks whose index is not in done, in order
func (q *Queue) Pending(done map[int]bool) []domain.Task {
	var pending []domain.Task
	for _, t := range q.tasks {
		if !done[t.Index] {
			pending = append(pending, t)
		}
	}
	return pending
}

// ForCondition returns the tasks belonging to one condition
func (q *Queue) ForCondition(conditionIndex int) []domain.Task {
	if conditionIndex < 0 || conditionIndex >= q.conditions || q.replications == 0 {
		return nil
	}
	start := conditionIndex * q.replications
	return append([]domain.Task(nil), q.tasks[start:start+q.replications]...)
}
