// Package workerpool provides the fixed-size set of isolated execution
// contexts that run simulation tasks.
package workerpool

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hochfrequenz/simgrid/internal/domain"
)

var (
	// ErrClosed is returned when submitting to a destroyed pool
	ErrClosed = errors.New("pool is closed")
	// ErrFull is returned when every execution context is busy
	ErrFull = errors.New("no free execution context")
	// ErrIdle is returned by AwaitAny when nothing is in flight
	ErrIdle = errors.New("no task in flight")
)

// RunFunc is the body of a job. env is the worker's private copy of the
// exports.
type RunFunc func(ctx context.Context, env domain.Exports) (domain.Outputs, error)

// Job is one unit of work submitted to a pool
type Job struct {
	ID      int
	Timeout time.Duration
	Run     RunFunc
}

// Completion is the outcome of a job
type Completion struct {
	ID      int
	Worker  int
	Outputs domain.Outputs
	Err     error
	Elapsed time.Duration
}

// Pool runs jobs on a fixed number of goroutine workers. Each worker owns a
// private copy of the exports taken before it accepts its first job.
type Pool struct {
	size int
	jobs chan Job
	done chan Completion

	ctx    context.Context
	cancel context.CancelFunc
	exited chan struct{}
	exitErr error

	mu             sync.Mutex
	busy           int
	closed         bool
	onSlotsChanged func(available int)
}

// New starts a pool with size workers
func New(size int, exports domain.Exports) (*Pool, error) {
	if size < 1 {
		return nil, domain.Configf("pool_size", "must be at least 1, got %d", size)
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		size:   size,
		jobs:   make(chan Job, size),
		done:   make(chan Completion, size),
		ctx:    ctx,
		cancel: cancel,
		exited: make(chan struct{}),
	}

	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < size; w++ {
		env := CopyExports(exports)
		g.Go(func() error {
			return p.work(gctx, w, env)
		})
	}

	go func() {
		p.exitErr = g.Wait()
		close(p.exited)
	}()

	return p, nil
}

func (p *Pool) work(ctx context.Context, worker int, env domain.Exports) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case job, ok := <-p.jobs:
			if !ok {
				return nil
			}
			p.done <- execute(ctx, worker, job, env)
		}
	}
}

// SetOnSlotsChanged sets a callback to be invoked when the number of free
// execution contexts changes
func (p *Pool) SetOnSlotsChanged(callback func(available int)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onSlotsChanged = callback
}

// Submit hands a job to a free worker. It never blocks: callers are
// expected to AwaitAny once all contexts are busy.
func (p *Pool) Submit(ctx context.Context, job Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return &domain.PoolError{Op: "submit", Err: ErrClosed}
	}
	if p.busy >= p.size {
		p.mu.Unlock()
		return ErrFull
	}
	p.busy++
	callback := p.onSlotsChanged
	available := p.size - p.busy
	p.jobs <- job
	p.mu.Unlock()

	// Notify outside of lock to avoid deadlock
	if callback != nil {
		callback(available)
	}
	return nil
}

// AwaitAny blocks until some in-flight job completes
func (p *Pool) AwaitAny(ctx context.Context) (Completion, error) {
	p.mu.Lock()
	busy := p.busy
	p.mu.Unlock()
	if busy == 0 {
		return Completion{}, ErrIdle
	}

	select {
	case c := <-p.done:
		p.mu.Lock()
		p.busy--
		callback := p.onSlotsChanged
		available := p.size - p.busy
		p.mu.Unlock()
		if callback != nil {
			callback(available)
		}
		return c, nil
	case <-p.exited:
		err := p.exitErr
		if err == nil {
			err = ErrClosed
		}
		return Completion{}, &domain.PoolError{Op: "await", Err: err}
	case <-ctx.Done():
		return Completion{}, ctx.Err()
	}
}

// InFlight returns the number of submitted jobs not yet collected
func (p *Pool) InFlight() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.busy
}

// Size returns the number of execution contexts
func (p *Pool) Size() int {
	return p.size
}

// Destroy stops the workers and waits for running jobs to return. Jobs
// receive a cancelled context.
func (p *Pool) Destroy() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.jobs)
	p.mu.Unlock()

	p.cancel()
	<-p.exited
}

func execute(ctx context.Context, worker int, job Job, env domain.Exports) (c Completion) {
	c = Completion{ID: job.ID, Worker: worker}
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			c.Outputs = nil
			c.Err = &domain.PanicError{Value: r}
		}
		c.Elapsed = time.Since(start)
	}()

	if job.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, job.Timeout)
		defer cancel()
	}

	c.Outputs, c.Err = job.Run(ctx, env)
	return c
}
