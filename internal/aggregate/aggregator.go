package aggregate

import (
	"fmt"
	"sort"
	"sync"

	"github.com/hochfrequenz/simgrid/internal/domain"
)

// Aggregator accumulates one row per ingested task. Ingest is expected to be
// called from a single goroutine in task order; Snapshot may be called from
// any goroutine.
type Aggregator struct {
	mu       sync.RWMutex
	table    Table
	reserved map[string]bool
	seen     map[string]bool
	// output name -> column, and column -> output name
	columns map[string]string
	owners  map[string]string
	next    int
	failed   int
	skipped  int
}

// New creates an aggregator for the given factor names
func New(factors []string) *Aggregator {
	reserved := map[string]bool{ReplicationColumn: true, ErrorColumn: true}
	for _, f := range factors {
		reserved[f] = true
	}
	return &Aggregator{
		table:    Table{Factors: append([]string(nil), factors...)},
		reserved: reserved,
		seen:     make(map[string]bool),
		columns:  make(map[string]string),
		owners:   make(map[string]string),
	}
}

// Ingest appends the row for a task. Tasks must arrive in increasing index
// order; out-of-order or duplicate tasks are rejected.
func (a *Aggregator) Ingest(task domain.Task, cond domain.Condition, res domain.TaskResult) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if task.Index < a.next {
		return fmt.Errorf("task %d ingested after task %d", task.Index, a.next-1)
	}
	if cond.Index != task.ConditionIndex {
		return fmt.Errorf("task %d belongs to condition %d, got condition %d", task.Index, task.ConditionIndex, cond.Index)
	}

	row := Row{
		TaskIndex:      task.Index,
		ConditionIndex: task.ConditionIndex,
		Replication:    task.Replication,
		Status:         res.Status,
		Factors:        cond.Values(),
		Seed:           res.Seed,
		Elapsed:        res.Elapsed,
	}

	if res.Succeeded() {
		row.Outputs = make(domain.Outputs, len(res.Outputs))
		for _, name := range sortedNames(res.Outputs) {
			col := a.columnFor(name)
			row.Outputs[col] = res.Outputs[name].Clone()
		}
	} else {
		row.Error = res.Error
		if !a.seen[ErrorColumn] {
			a.seen[ErrorColumn] = true
			a.table.Columns = append(a.table.Columns, ErrorColumn)
		}
		if res.Status == domain.ResultSkipped {
			a.skipped++
		} else {
			a.failed++
		}
	}

	a.table.Rows = append(a.table.Rows, row)
	a.next = task.Index + 1
	return nil
}

// columnFor maps an output name to its column. Outputs that collide with
// a factor, a reserved column or another output's column are suffixed
// with "_out" until the name is free. The mapping is fixed on first use.
func (a *Aggregator) columnFor(name string) string {
	if col, ok := a.columns[name]; ok {
		return col
	}
	col := name
	for {
		owner, claimed := a.owners[col]
		if !a.reserved[col] && (!claimed || owner == name) {
			break
		}
		col += "_out"
	}
	a.columns[name] = col
	a.owners[col] = name
	a.table.Columns = append(a.table.Columns, col)
	return col
}

// Snapshot returns a copy of the table accumulated so far
func (a *Aggregator) Snapshot() *Table {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.table.Clone()
}

// Counts returns the number of succeeded, failed and skipped rows
func (a *Aggregator) Counts() (succeeded, failed, skipped int) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.table.Rows) - a.failed - a.skipped, a.failed, a.skipped
}

// Len returns the number of ingested rows
func (a *Aggregator) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.table.Rows)
}

// Outputs within one result have no inherent order; sorting them keeps the
// first-seen column order independent of map iteration.
func sortedNames(out domain.Outputs) []string {
	names := make([]string, 0, len(out))
	for k := range out {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
