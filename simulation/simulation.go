// Package simulation runs a factorial simulation study: it expands the
// factor grid, replicates every surviving condition, executes the
// computation on a worker pool and collects one row per task.
package simulation

import (
	"context"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/hochfrequenz/simgrid/internal/aggregate"
	"github.com/hochfrequenz/simgrid/internal/computation"
	"github.com/hochfrequenz/simgrid/internal/design"
	"github.com/hochfrequenz/simgrid/internal/dispatcher"
	"github.com/hochfrequenz/simgrid/internal/domain"
	"github.com/hochfrequenz/simgrid/internal/grid"
	"github.com/hochfrequenz/simgrid/internal/notify"
	"github.com/hochfrequenz/simgrid/internal/observer"
	"github.com/hochfrequenz/simgrid/internal/persist"
	"github.com/hochfrequenz/simgrid/internal/resultstore"
	"github.com/hochfrequenz/simgrid/internal/scheduler"
	"github.com/hochfrequenz/simgrid/internal/workerpool"
)

type (
	Factor      = domain.Factor
	Condition   = domain.Condition
	Task        = domain.Task
	TaskResult  = domain.TaskResult
	Value       = domain.Value
	Outputs     = domain.Outputs
	Exports     = domain.Exports
	Table       = aggregate.Table
	Input       = computation.Input
	Computation = computation.Computation
	Func        = computation.Func
	ExcludeFunc = grid.ExcludeFunc
)

// Options describes one simulation run
type Options struct {
	Factors         []domain.Factor
	Exclude         grid.ExcludeFunc
	ExclusionPolicy domain.ExclusionPolicy

	Computation  computation.Computation
	Replications int
	Exports      domain.Exports
	// PoolSize is the number of parallel execution contexts. 1 (or 0)
	// runs every task sequentially on the calling goroutine.
	PoolSize int

	Seed              int64
	PerConditionSeeds []int64
	MaxErrors         int
	TaskTimeout       time.Duration
	// SlowTaskThreshold logs a warning for tasks running longer; zero
	// disables the warning
	SlowTaskThreshold time.Duration

	// SavePath is the CSV destination; empty keeps results in memory only
	SavePath      string
	FlushSchedule string
	// WatchStopFile stops the run gracefully when <SavePath>.stop appears
	WatchStopFile bool

	// Store records runs and results; with Resume, results stored for the
	// same design are reused instead of being recomputed
	Store  *resultstore.Store
	Resume bool

	Progress func(completed, total int)
	OnResult func(res domain.TaskResult)
	// OnSlotsChanged reports the number of idle execution contexts
	OnSlotsChanged func(available int)
	// OnStart receives the dispatcher's stop function once the run starts
	OnStart  func(stop func())
	Logger   log.Logger
	Notifier notify.Notifier
}

// Result is everything a run produced
type Result struct {
	RunID      string
	DesignHash string
	Grid       grid.Grid
	Table      *aggregate.Table
	Summary    dispatcher.Summary
	// Resumed is the number of tasks restored from the store
	Resumed   int
	Succeeded int
	Failed    int
	Skipped   int
	Metrics   observer.Metrics
	Warnings  []domain.Warning
}

// Run executes the study and returns the result table. Failing tasks
// produce rows with an error instead of aborting the run. The table is
// returned alongside pool and persistence errors.
func Run(ctx context.Context, opts Options) (*aggregate.Table, error) {
	res, err := Execute(ctx, opts)
	if res == nil {
		return nil, err
	}
	return res.Table, err
}

// Execute is Run with the full run details
func Execute(ctx context.Context, opts Options) (*Result, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.NewNopLogger()
	}
	logger = log.With(logger, "component", "simulation")

	if opts.Computation == nil {
		return nil, domain.Configf("computation", "a computation is required")
	}
	if opts.MaxErrors < 0 {
		return nil, domain.Configf("max_errors", "must not be negative, got %d", opts.MaxErrors)
	}
	poolSize := opts.PoolSize
	if poolSize == 0 {
		poolSize = 1
	}

	g, err := grid.Build(opts.Factors, opts.Exclude, grid.Options{Policy: opts.ExclusionPolicy})
	if err != nil {
		return nil, err
	}
	for _, w := range g.Warnings {
		level.Warn(logger).Log("msg", "condition excluded after exclusion error", "condition", w.Condition, "err", w.Message)
	}

	queue, err := scheduler.New(g.Conditions, opts.Replications)
	if err != nil {
		return nil, err
	}

	manager, err := persist.NewManager(opts.SavePath, persist.Options{Logger: logger, Schedule: opts.FlushSchedule})
	if err != nil {
		return nil, err
	}

	pool, err := newPool(poolSize, opts.Exports)
	if err != nil {
		return nil, err
	}
	defer pool.Destroy()
	if opts.OnSlotsChanged != nil {
		pool.SetOnSlotsChanged(opts.OnSlotsChanged)
	}

	seeds := domain.SeedPolicy{Base: opts.Seed, PerCondition: opts.PerConditionSeeds}
	res := &Result{
		Grid:       g,
		Warnings:   g.Warnings,
		DesignHash: design.Hash(opts.Factors, g.Conditions, opts.Replications, seeds),
	}
	agg := aggregate.New(g.Factors)

	pending := queue.Tasks()
	var prior map[int]int
	var run *domain.Run
	if opts.Store != nil {
		pending, prior, err = restore(opts, queue, g.Conditions, agg, res.DesignHash)
		if err != nil {
			return nil, err
		}
		res.Resumed = queue.Total() - len(pending)
		if res.Resumed > 0 {
			level.Info(logger).Log("msg", "resuming run", "restored", res.Resumed, "pending", len(pending))
		}
		if run, err = opts.Store.StartRun(res.DesignHash, queue.Total()); err != nil {
			return nil, err
		}
		res.RunID = run.ID
	}

	obs := observer.New(opts.SlowTaskThreshold)
	sink := &recorder{
		agg:     agg,
		store:   opts.Store,
		runID:   res.RunID,
		hash:    res.DesignHash,
		manager: manager,
		logger:  logger,
	}

	d := dispatcher.New(pool, dispatcher.Options{
		Logger:     logger,
		OnProgress: opts.Progress,
		OnResult: func(r domain.TaskResult) {
			obs.RecordResult(r)
			if obs.IsSlow(r) {
				level.Warn(logger).Log("msg", "slow task", "task", r.Task.Index, "condition", r.Task.ConditionIndex, "elapsed", r.Elapsed)
			}
			if opts.OnResult != nil {
				opts.OnResult(r)
			}
		},
		Seeds:         seeds,
		MaxErrors:     opts.MaxErrors,
		PriorFailures: prior,
		TaskTimeout:   opts.TaskTimeout,
		Offset:        res.Resumed,
		Total:         queue.Total(),
	})

	var stopWatcher *observer.StopWatcher
	if opts.WatchStopFile && manager.Enabled() {
		stopWatcher, err = observer.NewStopWatcher(manager.StopPath(), func() {
			level.Info(logger).Log("msg", "stop file found, stopping", "path", manager.StopPath())
			d.Stop()
		})
		if err != nil {
			level.Warn(logger).Log("msg", "cannot watch stop file", "path", manager.StopPath(), "err", err)
		} else {
			stopWatcher.Start(ctx)
			defer stopWatcher.Stop()
		}
	}
	if opts.OnStart != nil {
		opts.OnStart(d.Stop)
	}

	summary, runErr := d.Run(ctx, pending, g.Conditions, opts.Computation, sink)
	res.Summary = summary
	res.Table = agg.Snapshot()
	res.Succeeded, res.Failed, res.Skipped = agg.Counts()
	res.Metrics = obs.GetMetrics()

	if summary.State == domain.RunCancelled && stopWatcher != nil {
		if err := stopWatcher.Clear(); err != nil {
			level.Warn(logger).Log("msg", "removing stop file", "err", err)
		}
	}

	flushErr := manager.Flush(res.Table)

	if run != nil {
		run.Status = summary.State
		run.Succeeded = res.Succeeded
		run.Failed = res.Failed + res.Skipped
		if err := opts.Store.FinishRun(run); err != nil {
			level.Warn(logger).Log("msg", "recording run", "run", run.ID, "err", err)
		}
	}

	if opts.Notifier != nil {
		report := notify.RunReport{
			RunID:     res.RunID,
			State:     summary.State,
			Succeeded: res.Succeeded,
			Failed:    res.Failed,
			Skipped:   res.Skipped,
			Duration:  summary.Duration,
			SavePath:  opts.SavePath,
			Err:       runErr,
		}
		if err := opts.Notifier.Send(notify.ForRun(report)); err != nil {
			level.Warn(logger).Log("msg", "sending notification", "err", err)
		}
	}

	if runErr != nil {
		return res, runErr
	}
	return res, flushErr
}

type pool interface {
	dispatcher.Pool
	SetOnSlotsChanged(callback func(available int))
	Destroy()
}

func newPool(size int, exports domain.Exports) (pool, error) {
	if size == 1 {
		return workerpool.NewInline(exports), nil
	}
	return workerpool.New(size, exports)
}

// restore re-ingests stored results of the same design. Only the
// contiguous prefix of stored tasks is reused so that rows stay in task
// order; everything after the first gap is recomputed. The restored
// failures per condition are returned so that max_errors carries over.
func restore(opts Options, queue *scheduler.Queue, conditions []domain.Condition, agg *aggregate.Aggregator, hash string) ([]domain.Task, map[int]int, error) {
	if !opts.Resume {
		if err := opts.Store.ClearResults(hash); err != nil {
			return nil, nil, err
		}
		return queue.Tasks(), nil, nil
	}

	stored, err := opts.Store.CompletedResults(hash)
	if err != nil {
		return nil, nil, err
	}

	done := make(map[int]bool)
	failures := make(map[int]int)
	for _, task := range queue.Tasks() {
		r, ok := stored[task.Index]
		if !ok || r.Task != task || task.ConditionIndex >= len(conditions) {
			break
		}
		if err := agg.Ingest(task, conditions[task.ConditionIndex], r); err != nil {
			return nil, nil, err
		}
		if r.Status == domain.ResultFailed {
			failures[task.ConditionIndex]++
		}
		done[task.Index] = true
	}
	return queue.Pending(done), failures, nil
}
