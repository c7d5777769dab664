// Package observer watches a running simulation: per-task timings and
// the stop file that requests a graceful stop.
package observer

import (
	"sort"
	"sync"
	"time"

	"github.com/hochfrequenz/simgrid/internal/domain"
)

// Observer collects task timings and flags slow tasks
type Observer struct {
	slowThreshold time.Duration

	completions []completion
	mu          sync.RWMutex
}

type completion struct {
	Task        domain.Task
	Status      domain.ResultStatus
	Elapsed     time.Duration
	CompletedAt time.Time
}

// Metrics holds aggregated metrics
type Metrics struct {
	Completed  int
	Failed     int
	Skipped    int
	AvgElapsed time.Duration
	MaxElapsed time.Duration
	// Slowest is the task with the largest elapsed time
	Slowest domain.Task
}

// New creates an observer. Tasks running longer than slowThreshold are
// reported by IsSlow; zero disables the check.
func New(slowThreshold time.Duration) *Observer {
	return &Observer{
		slowThreshold: slowThreshold,
	}
}

// IsSlow reports whether a result took longer than the threshold
func (o *Observer) IsSlow(res domain.TaskResult) bool {
	return o.slowThreshold > 0 && res.Elapsed > o.slowThreshold
}

// RecordResult records a released task result
func (o *Observer) RecordResult(res domain.TaskResult) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.completions = append(o.completions, completion{
		Task:        res.Task,
		Status:      res.Status,
		Elapsed:     res.Elapsed,
		CompletedAt: time.Now(),
	})
}

// GetMetrics returns aggregated metrics. Skipped tasks never ran and do
// not count towards the timings.
func (o *Observer) GetMetrics() Metrics {
	o.mu.RLock()
	defer o.mu.RUnlock()

	var metrics Metrics
	var totalElapsed time.Duration
	ran := 0

	for _, c := range o.completions {
		metrics.Completed++
		switch c.Status {
		case domain.ResultFailed:
			metrics.Failed++
		case domain.ResultSkipped:
			metrics.Skipped++
			continue
		}
		ran++
		totalElapsed += c.Elapsed
		if c.Elapsed > metrics.MaxElapsed {
			metrics.MaxElapsed = c.Elapsed
			metrics.Slowest = c.Task
		}
	}

	if ran > 0 {
		metrics.AvgElapsed = totalElapsed / time.Duration(ran)
	}

	return metrics
}

// EstimateRemaining extrapolates the time left for remaining tasks from
// the average task time spread over workers
func (o *Observer) EstimateRemaining(remaining, workers int) time.Duration {
	if remaining <= 0 {
		return 0
	}
	if workers < 1 {
		workers = 1
	}
	m := o.GetMetrics()
	return m.AvgElapsed * time.Duration(remaining) / time.Duration(workers)
}

// SlowestConditions returns condition indices ordered by their mean task
// time, slowest first, limited to n entries
func (o *Observer) SlowestConditions(n int) []int {
	o.mu.RLock()
	defer o.mu.RUnlock()

	sum := make(map[int]time.Duration)
	count := make(map[int]int)
	for _, c := range o.completions {
		if c.Status == domain.ResultSkipped {
			continue
		}
		sum[c.Task.ConditionIndex] += c.Elapsed
		count[c.Task.ConditionIndex]++
	}

	conds := make([]int, 0, len(sum))
	for ci := range sum {
		conds = append(conds, ci)
	}
	mean := func(ci int) time.Duration { return sum[ci] / time.Duration(count[ci]) }
	sort.Slice(conds, func(i, j int) bool {
		if mean(conds[i]) != mean(conds[j]) {
			return mean(conds[i]) > mean(conds[j])
		}
		return conds[i] < conds[j]
	})
	if n > 0 && len(conds) > n {
		conds = conds[:n]
	}
	return conds
}
