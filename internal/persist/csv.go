// Package persist writes result tables to disk as CSV. Writes go to a
// temporary file in the destination directory that is renamed into place,
// so readers never observe a partial table.
package persist

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"

	"github.com/hochfrequenz/simgrid/internal/aggregate"
)

// NA is written for absent cells
const NA = "NA"

// WriteCSV renders a table: factors, replication, outputs in first-seen
// order, with the error column moved last
func WriteCSV(w io.Writer, table *aggregate.Table) error {
	header := Columns(table)
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return err
	}

	rec := make([]string, len(header))
	for i := range table.Rows {
		for j, col := range header {
			rec[j] = table.Cell(i, col).String()
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Columns returns the persisted column order for a table
func Columns(table *aggregate.Table) []string {
	header := make([]string, 0, len(table.Factors)+1+len(table.Columns))
	header = append(header, table.Factors...)
	header = append(header, aggregate.ReplicationColumn)
	hasError := false
	for _, c := range table.Columns {
		if c == aggregate.ErrorColumn {
			hasError = true
			continue
		}
		header = append(header, c)
	}
	if hasError {
		header = append(header, aggregate.ErrorColumn)
	}
	return header
}

// ReadRecords loads a CSV written by WriteCSV
func ReadRecords(path string) (header []string, rows [][]string, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("reading %s: %w", path, err)
	}
	if len(records) == 0 {
		return nil, nil, fmt.Errorf("reading %s: missing header", path)
	}
	return records[0], records[1:], nil
}
