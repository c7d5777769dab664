package simulation

import (
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/hochfrequenz/simgrid/internal/aggregate"
	"github.com/hochfrequenz/simgrid/internal/domain"
	"github.com/hochfrequenz/simgrid/internal/persist"
	"github.com/hochfrequenz/simgrid/internal/resultstore"
)

// recorder is the dispatcher sink: it appends each released result to the
// table, mirrors it into the store and flushes the CSV when due.
type recorder struct {
	agg     *aggregate.Aggregator
	store   *resultstore.Store
	runID   string
	hash    string
	manager *persist.Manager
	logger  log.Logger
}

func (r *recorder) Ingest(task domain.Task, cond domain.Condition, res domain.TaskResult) error {
	if err := r.agg.Ingest(task, cond, res); err != nil {
		return err
	}
	if r.store != nil {
		// not fatal: the row is recomputed on resume
		if err := r.store.SaveResult(r.runID, r.hash, res); err != nil {
			level.Warn(r.logger).Log("msg", "storing result", "task", task.Index, "err", err)
		}
	}
	// failures are logged by the manager and retried on the next tick
	_ = r.manager.MaybeFlush(r.agg.Snapshot)
	return nil
}
