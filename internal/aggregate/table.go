// Package aggregate merges task results with their condition's factor
// levels into one wide table.
package aggregate

import (
	"time"

	"github.com/hochfrequenz/simgrid/internal/domain"
)

const (
	// ReplicationColumn holds the replication index of each row
	ReplicationColumn = "replication"
	// ErrorColumn holds the failure description of failed rows
	ErrorColumn = "error"
)

// Row is one task's contribution to the table
type Row struct {
	TaskIndex      int
	ConditionIndex int
	Replication    int
	Status         domain.ResultStatus
	Factors        []domain.Value
	Outputs        domain.Outputs
	Error          string
	Seed           int64
	Elapsed        time.Duration
}

// Failed reports whether the row carries an error instead of outputs
func (r Row) Failed() bool { return r.Status != domain.ResultSucceeded }

// Table is the accumulated result set. Rows are ordered by task index.
type Table struct {
	Factors []string
	// Columns lists output columns in first-seen order; the error column
	// appears at the position of the first failure.
	Columns []string
	Rows    []Row
}

// Len returns the number of rows
func (t *Table) Len() int { return len(t.Rows) }

// Header returns all column names: factors, replication, then outputs
func (t *Table) Header() []string {
	h := make([]string, 0, len(t.Factors)+1+len(t.Columns))
	h = append(h, t.Factors...)
	h = append(h, ReplicationColumn)
	h = append(h, t.Columns...)
	return h
}

// Cell returns the value of a column in a row. Absent outputs are NA.
func (t *Table) Cell(row int, column string) domain.Value {
	if row < 0 || row >= len(t.Rows) {
		return domain.NA
	}
	r := t.Rows[row]
	for i, f := range t.Factors {
		if f == column {
			return r.Factors[i].Clone()
		}
	}
	switch column {
	case ReplicationColumn:
		return domain.Int(int64(r.Replication))
	case ErrorColumn:
		if r.Failed() {
			return domain.String(r.Error)
		}
		return domain.NA
	}
	if v, ok := r.Outputs[column]; ok {
		return v.Clone()
	}
	return domain.NA
}

// Record renders a row as strings in Header order
func (t *Table) Record(row int) []string {
	header := t.Header()
	rec := make([]string, len(header))
	for i, col := range header {
		rec[i] = t.Cell(row, col).String()
	}
	return rec
}

// Column returns every value of one column
func (t *Table) Column(name string) []domain.Value {
	out := make([]domain.Value, len(t.Rows))
	for i := range t.Rows {
		out[i] = t.Cell(i, name)
	}
	return out
}

// Failures returns the rows that carry an error
func (t *Table) Failures() []Row {
	var out []Row
	for _, r := range t.Rows {
		if r.Failed() {
			out = append(out, r)
		}
	}
	return out
}

// Clone returns a deep copy
func (t *Table) Clone() *Table {
	c := &Table{
		Factors: append([]string(nil), t.Factors...),
		Columns: append([]string(nil), t.Columns...),
		Rows:    make([]Row, len(t.Rows)),
	}
	for i, r := range t.Rows {
		r.Factors = append([]domain.Value(nil), r.Factors...)
		for j := range r.Factors {
			r.Factors[j] = r.Factors[j].Clone()
		}
		r.Outputs = r.Outputs.Clone()
		c.Rows[i] = r
	}
	return c
}
