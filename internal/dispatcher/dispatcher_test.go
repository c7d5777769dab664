package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/hochfrequenz/simgrid/internal/computation"
	"github.com/hochfrequenz/simgrid/internal/domain"
	"github.com/hochfrequenz/simgrid/internal/grid"
	"github.com/hochfrequenz/simgrid/internal/scheduler"
	"github.com/hochfrequenz/simgrid/internal/workerpool"
)

var resultOpts = cmp.Options{
	cmp.Comparer(func(a, b domain.Value) bool { return a.Equal(b) }),
	cmpopts.IgnoreFields(domain.TaskResult{}, "Elapsed", "Cause"),
}

func setup(t *testing.T, replications int) ([]domain.Condition, []domain.Task) {
	t.Helper()
	g, err := grid.Build([]domain.Factor{
		domain.MustFactor("a", 1, 2),
		domain.MustFactor("b", 10, 20),
	}, nil, grid.Options{})
	if err != nil {
		t.Fatal(err)
	}
	q, err := scheduler.New(g.Conditions, replications)
	if err != nil {
		t.Fatal(err)
	}
	return g.Conditions, q.Tasks()
}

// sum adds a and b and sleeps a seed-dependent amount so that parallel
// completions arrive out of order
var sum = computation.Func(func(ctx context.Context, in computation.Input) (domain.Outputs, error) {
	a, _ := in.Float("a")
	b, _ := in.Float("b")
	time.Sleep(time.Duration(in.Seed%4) * time.Millisecond)
	return domain.Outputs{"sum": domain.Float(a + b), "seed": domain.Int(in.Seed)}, nil
})

type collector struct {
	results []domain.TaskResult
}

func (c *collector) Ingest(task domain.Task, cond domain.Condition, res domain.TaskResult) error {
	c.results = append(c.results, res)
	return nil
}

func newPool(t *testing.T, size int) Pool {
	t.Helper()
	if size == 1 {
		p := workerpool.NewInline(nil)
		t.Cleanup(p.Destroy)
		return p
	}
	p, err := workerpool.New(size, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(p.Destroy)
	return p
}

func TestRun_ReleasesInOrder(t *testing.T) {
	conds, tasks := setup(t, 2)

	var progress []int
	sink := &collector{}
	d := New(newPool(t, 4), Options{
		Seeds:      domain.SeedPolicy{Base: 7},
		OnProgress: func(completed, total int) { progress = append(progress, completed) },
	})

	summary, err := d.Run(context.Background(), tasks, conds, sum, sink)
	if err != nil {
		t.Fatal(err)
	}
	if summary.State != domain.RunCompleted {
		t.Errorf("State = %s, want completed", summary.State)
	}
	if summary.Succeeded != 8 {
		t.Errorf("Succeeded = %d, want 8", summary.Succeeded)
	}

	var sums []float64
	for i, res := range sink.results {
		if res.Task.Index != i {
			t.Errorf("result %d has task index %d", i, res.Task.Index)
		}
		f, _ := res.Outputs["sum"].Float()
		sums = append(sums, f)
	}
	if diff := cmp.Diff([]float64{11, 11, 21, 21, 12, 12, 22, 22}, sums); diff != "" {
		t.Errorf("sums mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int{1, 2, 3, 4, 5, 6, 7, 8}, progress); diff != "" {
		t.Errorf("progress mismatch (-want +got):\n%s", diff)
	}
}

func TestRun_PoolSizeIndependent(t *testing.T) {
	conds, tasks := setup(t, 5)

	var reference []domain.TaskResult
	for _, size := range []int{1, 2, 8} {
		t.Run(fmt.Sprintf("size=%d", size), func(t *testing.T) {
			sink := &collector{}
			d := New(newPool(t, size), Options{Seeds: domain.SeedPolicy{Base: 99}})
			if _, err := d.Run(context.Background(), tasks, conds, sum, sink); err != nil {
				t.Fatal(err)
			}
			if reference == nil {
				reference = sink.results
				return
			}
			if diff := cmp.Diff(reference, sink.results, resultOpts); diff != "" {
				t.Errorf("results differ from size 1 (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRun_FailuresAreIsolated(t *testing.T) {
	conds, tasks := setup(t, 3)

	comp := computation.Func(func(ctx context.Context, in computation.Input) (domain.Outputs, error) {
		switch in.Task.Replication {
		case 0:
			return nil, errors.New("did not converge")
		case 1:
			panic("boom")
		}
		return domain.Outputs{"ok": domain.Bool(true)}, nil
	})

	sink := &collector{}
	summary, err := New(newPool(t, 3), Options{}).Run(context.Background(), tasks, conds, comp, sink)
	if err != nil {
		t.Fatal(err)
	}
	if len(sink.results) != len(tasks) {
		t.Fatalf("got %d results, want %d", len(sink.results), len(tasks))
	}
	if summary.Failed != 8 || summary.Succeeded != 4 {
		t.Errorf("Failed = %d, Succeeded = %d, want 8 and 4", summary.Failed, summary.Succeeded)
	}
	for _, res := range sink.results {
		switch res.Task.Replication {
		case 0:
			if res.Error != "did not converge" {
				t.Errorf("%s error = %q", res.Task, res.Error)
			}
		case 1:
			if res.Status != domain.ResultFailed || res.Error != "panic: boom" {
				t.Errorf("%s = %s %q, want recovered panic", res.Task, res.Status, res.Error)
			}
		default:
			if !res.Succeeded() {
				t.Errorf("%s failed: %s", res.Task, res.Error)
			}
		}
	}
}

func TestRun_StopAfterK(t *testing.T) {
	conds, tasks := setup(t, 5)
	const k = 6

	t.Run("sequential", func(t *testing.T) {
		sink := &collector{}
		var d *Dispatcher
		d = New(newPool(t, 1), Options{
			OnProgress: func(completed, total int) {
				if completed == k {
					d.Stop()
				}
			},
		})
		summary, err := d.Run(context.Background(), tasks, conds, sum, sink)
		if err != nil {
			t.Fatal(err)
		}
		if summary.State != domain.RunCancelled {
			t.Errorf("State = %s, want cancelled", summary.State)
		}
		if len(sink.results) != k {
			t.Errorf("released %d results, want %d", len(sink.results), k)
		}
	})

	t.Run("parallel", func(t *testing.T) {
		sink := &collector{}
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		d := New(newPool(t, 4), Options{
			OnProgress: func(completed, total int) {
				if completed == k {
					cancel()
				}
			},
		})
		summary, err := d.Run(ctx, tasks, conds, sum, sink)
		if err != nil {
			t.Fatal(err)
		}
		if summary.State != domain.RunCancelled {
			t.Errorf("State = %s, want cancelled", summary.State)
		}
		// in-flight tasks are drained, so up to one pool's worth more
		if n := len(sink.results); n < k || n > k+4 {
			t.Errorf("released %d results, want between %d and %d", n, k, k+4)
		}
		for i, res := range sink.results {
			if res.Task.Index != i {
				t.Errorf("result %d has task index %d, want contiguous prefix", i, res.Task.Index)
			}
		}
	})
}

func TestRun_CancelledBeforeStart(t *testing.T) {
	conds, tasks := setup(t, 2)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sink := &collector{}
	summary, err := New(newPool(t, 2), Options{}).Run(ctx, tasks, conds, sum, sink)
	if err != nil {
		t.Fatal(err)
	}
	if summary.State != domain.RunCancelled || len(sink.results) != 0 {
		t.Errorf("State = %s with %d results, want cancelled with none", summary.State, len(sink.results))
	}
}

func TestRun_MaxErrors(t *testing.T) {
	conds, tasks := setup(t, 5)

	// condition 1 always fails
	comp := computation.Func(func(ctx context.Context, in computation.Input) (domain.Outputs, error) {
		if in.Task.ConditionIndex == 1 {
			return nil, errors.New("singular")
		}
		return domain.Outputs{"x": domain.Int(1)}, nil
	})

	for _, size := range []int{1, 4} {
		t.Run(fmt.Sprintf("size=%d", size), func(t *testing.T) {
			sink := &collector{}
			summary, err := New(newPool(t, size), Options{MaxErrors: 2}).Run(context.Background(), tasks, conds, comp, sink)
			if err != nil {
				t.Fatal(err)
			}
			if len(sink.results) != len(tasks) {
				t.Fatalf("got %d results, want %d", len(sink.results), len(tasks))
			}
			if summary.Failed != 2 || summary.Skipped != 3 || summary.Succeeded != 15 {
				t.Errorf("counts = %d/%d/%d, want 15 succeeded, 2 failed, 3 skipped", summary.Succeeded, summary.Failed, summary.Skipped)
			}
			for _, res := range sink.results[5:10] {
				want := domain.ResultSkipped
				if res.Task.Replication < 2 {
					want = domain.ResultFailed
				}
				if res.Status != want {
					t.Errorf("%s status = %s, want %s", res.Task, res.Status, want)
				}
			}
		})
	}
}

func TestRun_MaxErrorsSkipsLaterSuccesses(t *testing.T) {
	conds, tasks := setup(t, 5)

	// condition 1 fails on its first two replications only
	comp := computation.Func(func(ctx context.Context, in computation.Input) (domain.Outputs, error) {
		if in.Task.ConditionIndex == 1 && in.Task.Replication < 2 {
			return nil, errors.New("singular")
		}
		return domain.Outputs{"x": domain.Int(1)}, nil
	})

	for _, size := range []int{1, 8} {
		t.Run(fmt.Sprintf("size=%d", size), func(t *testing.T) {
			sink := &collector{}
			summary, err := New(newPool(t, size), Options{MaxErrors: 2}).Run(context.Background(), tasks, conds, comp, sink)
			if err != nil {
				t.Fatal(err)
			}
			if summary.Succeeded != 15 || summary.Failed != 2 || summary.Skipped != 3 {
				t.Errorf("counts = %d/%d/%d, want 15 succeeded, 2 failed, 3 skipped", summary.Succeeded, summary.Failed, summary.Skipped)
			}
			var got []domain.ResultStatus
			for _, res := range sink.results[5:10] {
				got = append(got, res.Status)
			}
			want := []domain.ResultStatus{
				domain.ResultFailed, domain.ResultFailed,
				domain.ResultSkipped, domain.ResultSkipped, domain.ResultSkipped,
			}
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("condition 1 statuses mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRun_PriorFailuresCountTowardsLimit(t *testing.T) {
	conds, tasks := setup(t, 3)

	comp := computation.Func(func(ctx context.Context, in computation.Input) (domain.Outputs, error) {
		if in.Task.ConditionIndex == 0 {
			return nil, errors.New("singular")
		}
		return domain.Outputs{"x": domain.Int(1)}, nil
	})

	sink := &collector{}
	summary, err := New(newPool(t, 2), Options{
		MaxErrors:     2,
		PriorFailures: map[int]int{0: 1},
	}).Run(context.Background(), tasks, conds, comp, sink)
	if err != nil {
		t.Fatal(err)
	}
	if summary.Failed != 1 || summary.Skipped != 2 {
		t.Errorf("failed/skipped = %d/%d, want 1/2", summary.Failed, summary.Skipped)
	}
	if sink.results[0].Status != domain.ResultFailed || sink.results[1].Status != domain.ResultSkipped {
		t.Errorf("condition 0 = %s, %s; want failed, skipped", sink.results[0].Status, sink.results[1].Status)
	}
}

func TestRun_FailureCauseIsTaskExecutionError(t *testing.T) {
	conds, tasks := setup(t, 1)
	errSingular := errors.New("singular")

	comp := computation.Func(func(ctx context.Context, in computation.Input) (domain.Outputs, error) {
		return nil, errSingular
	})

	sink := &collector{}
	if _, err := New(newPool(t, 1), Options{}).Run(context.Background(), tasks, conds, comp, sink); err != nil {
		t.Fatal(err)
	}
	for _, res := range sink.results {
		var te *domain.TaskExecutionError
		if !errors.As(res.Cause, &te) {
			t.Fatalf("%s cause = %v, want TaskExecutionError", res.Task, res.Cause)
		}
		if te.Task != res.Task {
			t.Errorf("cause task = %s, want %s", te.Task, res.Task)
		}
		if !errors.Is(res.Cause, errSingular) {
			t.Errorf("%s cause does not wrap the computation error", res.Task)
		}
		if res.Error != "singular" {
			t.Errorf("%s error column = %q, want singular", res.Task, res.Error)
		}
	}
}

// brokenPool accepts work but fails once more than limit jobs are awaited
type brokenPool struct {
	inner *workerpool.Inline
	limit int
	seen  int
}

func (p *brokenPool) Submit(ctx context.Context, job workerpool.Job) error {
	return p.inner.Submit(ctx, job)
}

func (p *brokenPool) AwaitAny(ctx context.Context) (workerpool.Completion, error) {
	if p.seen == p.limit {
		return workerpool.Completion{}, &domain.PoolError{Op: "await", Err: errors.New("worker crashed")}
	}
	p.seen++
	return p.inner.AwaitAny(ctx)
}

func (p *brokenPool) InFlight() int { return p.inner.InFlight() }
func (p *brokenPool) Size() int     { return 1 }

func TestRun_PoolFailureAborts(t *testing.T) {
	conds, tasks := setup(t, 2)
	pool := &brokenPool{inner: workerpool.NewInline(nil), limit: 3}
	defer pool.inner.Destroy()

	sink := &collector{}
	d := New(pool, Options{})
	summary, err := d.Run(context.Background(), tasks, conds, sum, sink)
	if !errors.Is(err, domain.ErrPool) {
		t.Fatalf("err = %v, want pool error", err)
	}
	if summary.State != domain.RunAborted || d.State() != domain.RunAborted {
		t.Errorf("State = %s, want aborted", summary.State)
	}
	if len(sink.results) != 3 {
		t.Errorf("kept %d results, want 3", len(sink.results))
	}
}

func TestRun_SinkErrorAborts(t *testing.T) {
	conds, tasks := setup(t, 1)
	sink := SinkFunc(func(task domain.Task, cond domain.Condition, res domain.TaskResult) error {
		return errors.New("disk full")
	})

	summary, err := New(newPool(t, 2), Options{}).Run(context.Background(), tasks, conds, sum, sink)
	if err == nil {
		t.Fatal("expected error")
	}
	if summary.State != domain.RunAborted {
		t.Errorf("State = %s, want aborted", summary.State)
	}
}

func TestRun_OnlyOnce(t *testing.T) {
	conds, tasks := setup(t, 1)
	d := New(newPool(t, 2), Options{})
	if _, err := d.Run(context.Background(), tasks, conds, sum, &collector{}); err != nil {
		t.Fatal(err)
	}
	if _, err := d.Run(context.Background(), tasks, conds, sum, &collector{}); !errors.Is(err, ErrAlreadyRun) {
		t.Errorf("second Run error = %v, want ErrAlreadyRun", err)
	}
}

func TestRun_ResumeOffset(t *testing.T) {
	conds, tasks := setup(t, 2)

	var last [2]int
	d := New(newPool(t, 2), Options{
		Offset:     3,
		Total:      8,
		OnProgress: func(completed, total int) { last = [2]int{completed, total} },
	})
	if _, err := d.Run(context.Background(), tasks[3:], conds, sum, &collector{}); err != nil {
		t.Fatal(err)
	}
	if last != [2]int{8, 8} {
		t.Errorf("last progress = %v, want [8 8]", last)
	}
}

func TestRun_SeedAndElapsedAttached(t *testing.T) {
	conds, tasks := setup(t, 1)
	sink := &collector{}
	policy := domain.SeedPolicy{Base: 100}
	if _, err := New(newPool(t, 2), Options{Seeds: policy}).Run(context.Background(), tasks, conds, sum, sink); err != nil {
		t.Fatal(err)
	}
	for _, res := range sink.results {
		if res.Seed != policy.For(res.Task) {
			t.Errorf("%s seed = %d, want %d", res.Task, res.Seed, policy.For(res.Task))
		}
		if got, _ := res.Outputs["seed"].Int(); got != res.Seed {
			t.Errorf("%s computation saw seed %d, result has %d", res.Task, got, res.Seed)
		}
	}
}

func TestRun_UnknownCondition(t *testing.T) {
	conds, _ := setup(t, 1)
	tasks := []domain.Task{{ConditionIndex: 9, Index: 0}}
	_, err := New(newPool(t, 2), Options{}).Run(context.Background(), tasks, conds, sum, &collector{})
	if !errors.Is(err, domain.ErrConfiguration) {
		t.Errorf("err = %v, want configuration error", err)
	}
}
