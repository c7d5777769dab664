// Package dispatcher drives the task queue through a worker pool and
// releases results to a sink strictly in task order.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"go.uber.org/atomic"

	"github.com/hochfrequenz/simgrid/internal/computation"
	"github.com/hochfrequenz/simgrid/internal/domain"
	"github.com/hochfrequenz/simgrid/internal/workerpool"
)

// ErrAlreadyRun is returned when Run is called on a used dispatcher
var ErrAlreadyRun = errors.New("dispatcher has already run")

// Pool is the execution backend. workerpool.Pool and workerpool.Inline
// satisfy it.
type Pool interface {
	Submit(ctx context.Context, job workerpool.Job) error
	AwaitAny(ctx context.Context) (workerpool.Completion, error)
	InFlight() int
	Size() int
}

// Sink receives results in task order
type Sink interface {
	Ingest(task domain.Task, cond domain.Condition, res domain.TaskResult) error
}

// SinkFunc adapts a function to the Sink interface
type SinkFunc func(task domain.Task, cond domain.Condition, res domain.TaskResult) error

// Ingest calls f
func (f SinkFunc) Ingest(task domain.Task, cond domain.Condition, res domain.TaskResult) error {
	return f(task, cond, res)
}

// Options configures a dispatcher
type Options struct {
	Logger log.Logger
	// OnProgress is called once per released result with the number of
	// results released so far, including Offset
	OnProgress func(completed, total int)
	// OnResult is called after a result has been handed to the sink
	OnResult func(res domain.TaskResult)
	Seeds    domain.SeedPolicy
	// MaxErrors stops executing a condition's remaining tasks once it has
	// that many failures. Zero disables the limit.
	MaxErrors int
	// PriorFailures counts failures per condition index that were recorded
	// before this dispatch, e.g. by an interrupted run being resumed
	PriorFailures map[int]int
	TaskTimeout   time.Duration
	// Offset and Total describe resumed runs where some tasks were
	// completed earlier. Total defaults to Offset plus the tasks passed to Run.
	Offset int
	Total  int
}

// Summary describes a finished dispatch
type Summary struct {
	State     domain.RunStatus
	Released  int
	Succeeded int
	Failed    int
	Skipped   int
	Duration  time.Duration
}

// Dispatcher runs tasks once. It is not reusable.
type Dispatcher struct {
	pool    Pool
	opts    Options
	logger  log.Logger
	state   *atomic.String
	stopped *atomic.Bool
}

// New creates a dispatcher on top of pool
func New(pool Pool, opts Options) *Dispatcher {
	logger := opts.Logger
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Dispatcher{
		pool:    pool,
		opts:    opts,
		logger:  log.With(logger, "component", "dispatcher"),
		state:   atomic.NewString(string(domain.RunIdle)),
		stopped: atomic.NewBool(false),
	}
}

// State returns the current lifecycle state
func (d *Dispatcher) State() domain.RunStatus {
	return domain.RunStatus(d.state.Load())
}

// Stop requests a graceful stop. In-flight tasks are drained and the
// contiguous prefix of finished tasks is released.
func (d *Dispatcher) Stop() {
	d.stopped.Store(true)
}

func (d *Dispatcher) transition(next domain.RunStatus) error {
	cur := d.State()
	if !cur.CanTransition(next) {
		return fmt.Errorf("invalid state transition %s -> %s", cur, next)
	}
	d.state.Store(string(next))
	return nil
}

// run holds the per-Run bookkeeping
type run struct {
	tasks      []domain.Task
	conditions []domain.Condition
	comp       computation.Computation
	sink       Sink

	submitted int
	released  int
	// completed results keyed by position in tasks, waiting for release
	buffer   map[int]domain.TaskResult
	failures map[int]int
	summary  Summary
	total    int
}

// Run executes tasks and streams their results to sink. Task failures are
// recorded as failure results; only pool failures and sink errors are
// returned. A cancelled context or Stop ends the run in the Cancelled state
// without an error.
func (d *Dispatcher) Run(ctx context.Context, tasks []domain.Task, conditions []domain.Condition, comp computation.Computation, sink Sink) (Summary, error) {
	if d.State() != domain.RunIdle {
		return Summary{State: d.State()}, ErrAlreadyRun
	}
	for _, t := range tasks {
		if t.ConditionIndex < 0 || t.ConditionIndex >= len(conditions) {
			return Summary{State: domain.RunIdle}, domain.Configf("tasks", "%s refers to unknown condition", t)
		}
	}
	_ = d.transition(domain.RunRunning)

	start := time.Now()
	r := &run{
		tasks:      tasks,
		conditions: conditions,
		comp:       comp,
		sink:       sink,
		buffer:     make(map[int]domain.TaskResult),
		failures:   make(map[int]int, len(d.opts.PriorFailures)),
		total:      d.opts.Total,
	}
	for ci, n := range d.opts.PriorFailures {
		r.failures[ci] = n
	}
	if r.total == 0 {
		r.total = d.opts.Offset + len(tasks)
	}

	level.Info(d.logger).Log("msg", "dispatching tasks", "tasks", len(tasks), "workers", d.pool.Size(), "offset", d.opts.Offset)

	err := d.loop(ctx, r)

	r.summary.Duration = time.Since(start)
	r.summary.Released = r.released
	switch {
	case err != nil:
		_ = d.transition(domain.RunAborted)
		level.Error(d.logger).Log("msg", "run aborted", "released", r.released, "err", err)
	case r.released < len(tasks):
		_ = d.transition(domain.RunCancelled)
		level.Warn(d.logger).Log("msg", "run cancelled", "released", r.released, "pending", len(tasks)-r.released)
	default:
		_ = d.transition(domain.RunCompleted)
		level.Info(d.logger).Log("msg", "run completed", "succeeded", r.summary.Succeeded, "failed", r.summary.Failed, "skipped", r.summary.Skipped, "duration", r.summary.Duration)
	}
	r.summary.State = d.State()
	return r.summary, err
}

func (d *Dispatcher) loop(ctx context.Context, r *run) error {
	stopping := false
	for {
		// release first: a stop requested from a progress callback must be
		// seen before the next submit
		if err := d.release(r); err != nil {
			return err
		}
		if r.released == len(r.tasks) {
			return nil
		}

		if !stopping && (ctx.Err() != nil || d.stopped.Load()) {
			stopping = true
			level.Info(d.logger).Log("msg", "stop requested, draining", "in_flight", d.pool.InFlight())
		}

		if !stopping {
			if err := d.fill(ctx, r); err != nil {
				if ctx.Err() == nil {
					return err
				}
				stopping = true
			}
		}

		if d.pool.InFlight() == 0 {
			if stopping {
				// skipped results buffered by the last fill
				return d.release(r)
			}
			if _, ok := r.buffer[r.released]; !ok && r.submitted == len(r.tasks) {
				return &domain.PoolError{Op: "await", Err: fmt.Errorf("task %d never completed", r.tasks[r.released].Index)}
			}
			continue
		}

		// In-flight tasks are always drained; cancellation is only observed
		// between completions.
		c, err := d.pool.AwaitAny(context.Background())
		if err != nil {
			if errors.Is(err, workerpool.ErrIdle) {
				continue
			}
			return asPoolError("await", err)
		}
		d.complete(r, c)
	}
}

// fill submits tasks in order until the pool is saturated
func (d *Dispatcher) fill(ctx context.Context, r *run) error {
	for r.submitted < len(r.tasks) && d.pool.InFlight() < d.pool.Size() {
		pos := r.submitted
		task := r.tasks[pos]

		if d.limitReached(r, task.ConditionIndex) {
			r.buffer[pos] = d.skip(task)
			r.submitted++
			continue
		}

		err := d.pool.Submit(ctx, d.job(pos, task, r))
		if errors.Is(err, workerpool.ErrFull) {
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return asPoolError("submit", err)
		}
		r.submitted++
	}
	return nil
}

func (d *Dispatcher) job(pos int, task domain.Task, r *run) workerpool.Job {
	cond := r.conditions[task.ConditionIndex]
	seed := d.opts.Seeds.For(task)
	comp := r.comp
	return workerpool.Job{
		ID:      pos,
		Timeout: d.opts.TaskTimeout,
		Run: func(ctx context.Context, env domain.Exports) (domain.Outputs, error) {
			return comp.Invoke(ctx, computation.Input{
				Condition: cond,
				Task:      task,
				Seed:      seed,
				Exports:   env,
			})
		},
	}
}

// complete converts a completion into a buffered result
func (d *Dispatcher) complete(r *run, c workerpool.Completion) {
	task := r.tasks[c.ID]
	var res domain.TaskResult
	if c.Err != nil {
		level.Debug(d.logger).Log("msg", "task failed", "task", task.Index, "condition", task.ConditionIndex, "replication", task.Replication, "worker", c.Worker, "err", c.Err)
		res = domain.Failure(task, &domain.TaskExecutionError{Task: task, Err: c.Err})
	} else {
		res = domain.Success(task, c.Outputs)
	}
	res.Seed = d.opts.Seeds.For(task)
	res.Elapsed = c.Elapsed
	r.buffer[c.ID] = res
}

// release hands the contiguous prefix of buffered results to the sink
func (d *Dispatcher) release(r *run) error {
	for {
		res, ok := r.buffer[r.released]
		if !ok {
			return nil
		}
		delete(r.buffer, r.released)
		task := r.tasks[r.released]

		// The failure limit is applied in task order: once reached, every
		// later result of the condition is skipped, even one that already
		// ran, so the outcome does not depend on the pool size.
		if res.Status != domain.ResultSkipped && d.limitReached(r, task.ConditionIndex) {
			res = d.skip(task)
		}

		if err := r.sink.Ingest(task, r.conditions[task.ConditionIndex], res); err != nil {
			return fmt.Errorf("ingesting %s: %w", task, err)
		}
		switch res.Status {
		case domain.ResultSucceeded:
			r.summary.Succeeded++
		case domain.ResultFailed:
			r.summary.Failed++
			r.failures[task.ConditionIndex]++
		case domain.ResultSkipped:
			r.summary.Skipped++
		}
		r.released++

		if d.opts.OnResult != nil {
			d.opts.OnResult(res)
		}
		if d.opts.OnProgress != nil {
			d.opts.OnProgress(d.opts.Offset+r.released, r.total)
		}
	}
}

func (d *Dispatcher) limitReached(r *run, condition int) bool {
	return d.opts.MaxErrors > 0 && r.failures[condition] >= d.opts.MaxErrors
}

func (d *Dispatcher) skip(task domain.Task) domain.TaskResult {
	res := domain.Skipped(task, fmt.Sprintf("skipped: condition %d reached %d errors", task.ConditionIndex, d.opts.MaxErrors))
	res.Seed = d.opts.Seeds.For(task)
	return res
}

func asPoolError(op string, err error) error {
	var pe *domain.PoolError
	if errors.As(err, &pe) {
		return pe
	}
	return &domain.PoolError{Op: op, Err: err}
}
