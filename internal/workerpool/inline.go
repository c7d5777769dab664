package workerpool

import (
	"context"
	"sync"

	"github.com/hochfrequenz/simgrid/internal/domain"
)

// Inline is a single execution context that runs each job synchronously
// inside Submit, on the caller's goroutine. It is the reference path for
// debugging: jobs run strictly in submission order.
type Inline struct {
	env    domain.Exports
	ctx    context.Context
	cancel context.CancelFunc

	mu             sync.Mutex
	pending        []Completion
	closed         bool
	onSlotsChanged func(available int)
}

// NewInline creates a sequential pool with its own copy of exports
func NewInline(exports domain.Exports) *Inline {
	ctx, cancel := context.WithCancel(context.Background())
	return &Inline{
		env:    CopyExports(exports),
		ctx:    ctx,
		cancel: cancel,
	}
}

// SetOnSlotsChanged sets a callback to be invoked when the slot is taken or freed
func (p *Inline) SetOnSlotsChanged(callback func(available int)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onSlotsChanged = callback
}

// Submit runs the job to completion before returning
func (p *Inline) Submit(ctx context.Context, job Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return &domain.PoolError{Op: "submit", Err: ErrClosed}
	}
	if len(p.pending) > 0 {
		p.mu.Unlock()
		return ErrFull
	}
	callback := p.onSlotsChanged
	p.mu.Unlock()

	if callback != nil {
		callback(0)
	}
	c := execute(p.ctx, 0, job, p.env)

	p.mu.Lock()
	p.pending = append(p.pending, c)
	p.mu.Unlock()
	return nil
}

// AwaitAny returns the completion of the last submitted job
func (p *Inline) AwaitAny(ctx context.Context) (Completion, error) {
	p.mu.Lock()
	if len(p.pending) == 0 {
		p.mu.Unlock()
		return Completion{}, ErrIdle
	}
	c := p.pending[0]
	p.pending = p.pending[1:]
	callback := p.onSlotsChanged
	p.mu.Unlock()

	if callback != nil {
		callback(1)
	}
	return c, nil
}

// InFlight returns the number of completions not yet collected
func (p *Inline) InFlight() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

// Size returns 1
func (p *Inline) Size() int { return 1 }

// Destroy cancels the context handed to jobs and rejects further submissions
func (p *Inline) Destroy() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	p.cancel()
}
