// Package resultstore keeps run records and per-task results in SQLite so
// that an interrupted run can be resumed.
package resultstore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/hochfrequenz/simgrid/internal/domain"
)

// Store provides SQLite-backed result persistence
type Store struct {
	db *sql.DB
}

// New opens or creates the database at dbPath
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// Every connection to ":memory:" is a separate database
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// StartRun records a new running run for a design
func (s *Store) StartRun(designHash string, totalTasks int) (*domain.Run, error) {
	now := time.Now()
	run := &domain.Run{
		ID:         uuid.NewString(),
		DesignHash: designHash,
		Status:     domain.RunRunning,
		TotalTasks: totalTasks,
		StartedAt:  &now,
	}
	_, err := s.db.Exec(`
		INSERT INTO runs (id, design_hash, status, total_tasks, started_at)
		VALUES (?, ?, ?, ?, ?)
	`, run.ID, run.DesignHash, string(run.Status), run.TotalTasks, now)
	if err != nil {
		return nil, fmt.Errorf("inserting run: %w", err)
	}
	return run, nil
}

// FinishRun stores the final state and counts of a run
func (s *Store) FinishRun(run *domain.Run) error {
	now := time.Now()
	run.FinishedAt = &now
	_, err := s.db.Exec(`
		UPDATE runs SET status = ?, succeeded = ?, failed = ?, finished_at = ?
		WHERE id = ?
	`, string(run.Status), run.Succeeded, run.Failed, now, run.ID)
	return err
}

// GetRun retrieves a run by ID
func (s *Store) GetRun(id string) (*domain.Run, error) {
	row := s.db.QueryRow(`
		SELECT id, design_hash, status, total_tasks, succeeded, failed, started_at, finished_at
		FROM runs WHERE id = ?
	`, id)
	return scanRun(row)
}

// ListRuns returns the most recent runs first. limit <= 0 returns all.
func (s *Store) ListRuns(limit int) ([]*domain.Run, error) {
	query := `SELECT id, design_hash, status, total_tasks, succeeded, failed, started_at, finished_at
		FROM runs ORDER BY started_at DESC`
	var args []interface{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*domain.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// SaveResult stores one task result. A result saved again for the same
// design and task replaces the earlier one.
func (s *Store) SaveResult(runID, designHash string, res domain.TaskResult) error {
	var outputs []byte
	if res.Outputs != nil {
		var err error
		outputs, err = json.Marshal(res.Outputs)
		if err != nil {
			return fmt.Errorf("encoding outputs of %s: %w", res.Task, err)
		}
	}

	_, err := s.db.Exec(`
		INSERT INTO results (design_hash, task_index, condition_index, replication, run_id, status, outputs, error, seed, elapsed_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(design_hash, task_index) DO UPDATE SET
			run_id = excluded.run_id,
			status = excluded.status,
			outputs = excluded.outputs,
			error = excluded.error,
			seed = excluded.seed,
			elapsed_ns = excluded.elapsed_ns
	`,
		designHash,
		res.Task.Index,
		res.Task.ConditionIndex,
		res.Task.Replication,
		nullString(runID),
		string(res.Status),
		nullString(string(outputs)),
		nullString(res.Error),
		res.Seed,
		int64(res.Elapsed),
	)
	return err
}

// CompletedResults returns the stored results of a design keyed by task
// index
func (s *Store) CompletedResults(designHash string) (map[int]domain.TaskResult, error) {
	rows, err := s.db.Query(`
		SELECT task_index, condition_index, replication, status, outputs, error, seed, elapsed_ns
		FROM results WHERE design_hash = ? ORDER BY task_index
	`, designHash)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := make(map[int]domain.TaskResult)
	for rows.Next() {
		var res domain.TaskResult
		var status string
		var outputs, errMsg sql.NullString
		var elapsed int64

		if err := rows.Scan(&res.Task.Index, &res.Task.ConditionIndex, &res.Task.Replication, &status, &outputs, &errMsg, &res.Seed, &elapsed); err != nil {
			return nil, err
		}
		res.Status = domain.ResultStatus(status)
		res.Error = errMsg.String
		res.Elapsed = time.Duration(elapsed)
		if outputs.Valid && outputs.String != "" {
			if err := json.Unmarshal([]byte(outputs.String), &res.Outputs); err != nil {
				return nil, fmt.Errorf("decoding outputs of task %d: %w", res.Task.Index, err)
			}
		}
		results[res.Task.Index] = res
	}
	return results, rows.Err()
}

// ClearResults deletes the stored results of a design
func (s *Store) ClearResults(designHash string) error {
	_, err := s.db.Exec(`DELETE FROM results WHERE design_hash = ?`, designHash)
	return err
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row scanner) (*domain.Run, error) {
	var run domain.Run
	var status string
	var started, finished sql.NullTime

	err := row.Scan(&run.ID, &run.DesignHash, &status, &run.TotalTasks, &run.Succeeded, &run.Failed, &started, &finished)
	if err != nil {
		return nil, err
	}

	run.Status = domain.RunStatus(status)
	if started.Valid {
		run.StartedAt = &started.Time
	}
	if finished.Valid {
		run.FinishedAt = &finished.Time
	}
	return &run, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
