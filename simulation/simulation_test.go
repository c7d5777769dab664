package simulation

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/hochfrequenz/simgrid/internal/aggregate"
	"github.com/hochfrequenz/simgrid/internal/domain"
	"github.com/hochfrequenz/simgrid/internal/grid"
	"github.com/hochfrequenz/simgrid/internal/persist"
	"github.com/hochfrequenz/simgrid/internal/resultstore"
)

func factorsAB() []domain.Factor {
	return []domain.Factor{
		domain.MustFactor("a", 1, 2),
		domain.MustFactor("b", 10, 20),
	}
}

func sum(calls *atomic.Int64) Computation {
	return Func(func(ctx context.Context, in Input) (Outputs, error) {
		if calls != nil {
			calls.Add(1)
		}
		a, _ := in.Get("a").Int()
		b, _ := in.Get("b").Int()
		return Outputs{"sum": domain.Int(a + b)}, nil
	})
}

func sums(t *testing.T, table *Table) []int64 {
	t.Helper()
	var got []int64
	for _, v := range table.Column("sum") {
		i, ok := v.Int()
		if !ok {
			t.Fatalf("sum cell %v is not an integer", v)
		}
		got = append(got, i)
	}
	return got
}

func TestRun_SumGrid(t *testing.T) {
	table, err := Run(context.Background(), Options{
		Factors:      factorsAB(),
		Computation:  sum(nil),
		Replications: 2,
	})
	if err != nil {
		t.Fatal(err)
	}

	want := []int64{11, 11, 21, 21, 12, 12, 22, 22}
	if diff := cmp.Diff(want, sums(t, table)); diff != "" {
		t.Errorf("sums mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"a", "b", "replication", "sum"}, table.Header()); diff != "" {
		t.Errorf("header mismatch (-want +got):\n%s", diff)
	}
}

func TestRun_Exclusion(t *testing.T) {
	res, err := Execute(context.Background(), Options{
		Factors:      factorsAB(),
		Exclude:      grid.Equal(map[string]any{"a": 2, "b": 20}),
		Computation:  sum(nil),
		Replications: 2,
	})
	if err != nil {
		t.Fatal(err)
	}

	if res.Grid.Len() != 3 {
		t.Errorf("conditions = %d, want 3", res.Grid.Len())
	}
	if res.Table.Len() != 6 {
		t.Errorf("rows = %d, want 6", res.Table.Len())
	}
	for _, s := range sums(t, res.Table) {
		if s == 22 {
			t.Error("excluded condition a=2, b=20 produced a row")
		}
	}
}

func TestRun_PoolSizesAgree(t *testing.T) {
	seeded := Func(func(ctx context.Context, in Input) (Outputs, error) {
		a, _ := in.Get("a").Int()
		return Outputs{"draw": domain.Int(in.Seed*31 + a)}, nil
	})

	var tables []*Table
	for _, size := range []int{1, 2, 8} {
		table, err := Run(context.Background(), Options{
			Factors:      factorsAB(),
			Computation:  seeded,
			Replications: 5,
			PoolSize:     size,
			Seed:         2024,
		})
		if err != nil {
			t.Fatalf("pool size %d: %v", size, err)
		}
		tables = append(tables, table)
	}

	opts := []cmp.Option{
		cmp.Comparer(func(x, y domain.Value) bool { return x.Equal(y) }),
		cmpopts.IgnoreFields(aggregate.Row{}, "Elapsed"),
	}
	for i := 1; i < len(tables); i++ {
		if diff := cmp.Diff(tables[0], tables[i], opts...); diff != "" {
			t.Errorf("table %d differs from sequential (-want +got):\n%s", i, diff)
		}
	}
}

func TestRun_FailingReplications(t *testing.T) {
	comp := Func(func(ctx context.Context, in Input) (Outputs, error) {
		if in.Task.Replication == 0 {
			return nil, errors.New("bad draw")
		}
		return Outputs{"x": domain.Int(1)}, nil
	})

	res, err := Execute(context.Background(), Options{
		Factors:      factorsAB(),
		Computation:  comp,
		Replications: 3,
		PoolSize:     4,
	})
	if err != nil {
		t.Fatalf("failing replications must not abort: %v", err)
	}
	if res.Table.Len() != 12 {
		t.Fatalf("rows = %d, want 12", res.Table.Len())
	}
	for i, row := range res.Table.Rows {
		if failed := row.Replication == 0; row.Failed() != failed {
			t.Errorf("row %d (replication %d) failed = %v", i, row.Replication, row.Failed())
		}
	}
	if res.Failed != 4 || res.Succeeded != 8 {
		t.Errorf("succeeded/failed = %d/%d, want 8/4", res.Succeeded, res.Failed)
	}
}

func TestRun_CancelPersistsCompletedRows(t *testing.T) {
	savePath := filepath.Join(t.TempDir(), "out", "results.csv")
	const k = 3

	var stop func()
	res, err := Execute(context.Background(), Options{
		Factors:      factorsAB(),
		Computation:  sum(nil),
		Replications: 2,
		PoolSize:     1,
		SavePath:     savePath,
		OnStart:      func(s func()) { stop = s },
		Progress: func(completed, total int) {
			if completed == k {
				stop()
			}
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Summary.State != domain.RunCancelled {
		t.Errorf("State = %s, want cancelled", res.Summary.State)
	}

	header, rows, err := persist.ReadRecords(savePath)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != k {
		t.Fatalf("persisted rows = %d, want %d", len(rows), k)
	}
	for i, row := range rows {
		if len(row) != len(header) {
			t.Errorf("row %d has %d cells, want %d", i, len(row), len(header))
		}
	}
}

func TestRun_Resume(t *testing.T) {
	store, err := resultstore.New(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	var calls atomic.Int64
	var stop func()
	opts := Options{
		Factors:      factorsAB(),
		Computation:  sum(&calls),
		Replications: 2,
		PoolSize:     1,
		Store:        store,
		Resume:       true,
		OnStart:      func(s func()) { stop = s },
		Progress: func(completed, total int) {
			if completed == 3 && stop != nil {
				stop()
			}
		},
	}

	first, err := Execute(context.Background(), opts)
	if err != nil {
		t.Fatal(err)
	}
	if first.Table.Len() != 3 {
		t.Fatalf("first run rows = %d, want 3", first.Table.Len())
	}

	opts.OnStart = nil
	stop = nil
	second, err := Execute(context.Background(), opts)
	if err != nil {
		t.Fatal(err)
	}
	if second.Resumed != 3 {
		t.Errorf("Resumed = %d, want 3", second.Resumed)
	}
	if got := calls.Load(); got != 8 {
		t.Errorf("computation calls = %d, want 8", got)
	}
	want := []int64{11, 11, 21, 21, 12, 12, 22, 22}
	if diff := cmp.Diff(want, sums(t, second.Table)); diff != "" {
		t.Errorf("sums mismatch (-want +got):\n%s", diff)
	}

	runs, err := store.ListRuns(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 {
		t.Fatalf("runs = %d, want 2", len(runs))
	}
	statuses := map[domain.RunStatus]int{}
	for _, r := range runs {
		statuses[r.Status]++
	}
	if statuses[domain.RunCancelled] != 1 || statuses[domain.RunCompleted] != 1 {
		t.Errorf("run statuses = %v", statuses)
	}
}

func TestRun_WithoutResumeRecomputes(t *testing.T) {
	store, err := resultstore.New(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	var calls atomic.Int64
	opts := Options{Factors: factorsAB(), Computation: sum(&calls), Replications: 1, Store: store}
	for i := 0; i < 2; i++ {
		if _, err := Run(context.Background(), opts); err != nil {
			t.Fatal(err)
		}
	}
	if got := calls.Load(); got != 8 {
		t.Errorf("computation calls = %d, want 8", got)
	}
}

func TestRun_ExportsAreVisible(t *testing.T) {
	type params struct{ Offset int64 }
	comp := Func(func(ctx context.Context, in Input) (Outputs, error) {
		p, ok := in.Exports["params"].(*params)
		if !ok {
			return nil, fmt.Errorf("params missing: %T", in.Exports["params"])
		}
		a, _ := in.Get("a").Int()
		return Outputs{"y": domain.Int(a + p.Offset)}, nil
	})

	table, err := Run(context.Background(), Options{
		Factors:      []domain.Factor{domain.MustFactor("a", 1, 2)},
		Computation:  comp,
		Replications: 1,
		PoolSize:     2,
		Exports:      domain.Exports{"params": &params{Offset: 100}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(table.Failures()) != 0 {
		t.Fatalf("failures: %+v", table.Failures())
	}
	var got []int64
	for _, v := range table.Column("y") {
		i, _ := v.Int()
		got = append(got, i)
	}
	if diff := cmp.Diff([]int64{101, 102}, got); diff != "" {
		t.Errorf("y mismatch (-want +got):\n%s", diff)
	}
}

func TestRun_ConfigurationErrors(t *testing.T) {
	tests := []struct {
		name string
		opts Options
	}{
		{"no computation", Options{Factors: factorsAB(), Replications: 1}},
		{"no factors", Options{Computation: sum(nil), Replications: 1}},
		{"negative replications", Options{Factors: factorsAB(), Computation: sum(nil), Replications: -1}},
		{"negative max errors", Options{Factors: factorsAB(), Computation: sum(nil), MaxErrors: -1}},
		{"bad schedule", Options{Factors: factorsAB(), Computation: sum(nil), SavePath: "x.csv", FlushSchedule: "often"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			table, err := Run(context.Background(), tt.opts)
			if !errors.Is(err, domain.ErrConfiguration) {
				t.Errorf("Run() error = %v, want configuration error", err)
			}
			if table != nil {
				t.Errorf("Run() table = %v, want nil", table)
			}
		})
	}
}

func TestRun_ResumeIgnoresOtherExclusions(t *testing.T) {
	store, err := resultstore.New(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	opts := Options{
		Factors:      factorsAB(),
		Exclude:      grid.Equal(map[string]any{"a": 1, "b": 10}),
		Computation:  sum(nil),
		Replications: 1,
		Store:        store,
		Resume:       true,
	}
	if _, err := Run(context.Background(), opts); err != nil {
		t.Fatal(err)
	}

	// same factors, a different condition excluded: stored rows belong to
	// other conditions and must not be reused
	opts.Exclude = grid.Equal(map[string]any{"a": 2, "b": 20})
	res, err := Execute(context.Background(), opts)
	if err != nil {
		t.Fatal(err)
	}
	if res.Resumed != 0 {
		t.Errorf("Resumed = %d, want 0", res.Resumed)
	}
	if diff := cmp.Diff([]int64{11, 21, 12}, sums(t, res.Table)); diff != "" {
		t.Errorf("sums mismatch (-want +got):\n%s", diff)
	}
}

func TestRun_ResumeKeepsFailureCounts(t *testing.T) {
	store, err := resultstore.New(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	var calls atomic.Int64
	comp := Func(func(ctx context.Context, in Input) (Outputs, error) {
		calls.Add(1)
		if in.Task.ConditionIndex == 0 {
			return nil, errors.New("singular")
		}
		return Outputs{"x": domain.Int(1)}, nil
	})

	var stop func()
	opts := Options{
		Factors:      factorsAB(),
		Computation:  comp,
		Replications: 4,
		MaxErrors:    2,
		Store:        store,
		Resume:       true,
		OnStart:      func(s func()) { stop = s },
		Progress: func(completed, total int) {
			if completed == 1 && stop != nil {
				stop()
			}
		},
	}
	if _, err := Execute(context.Background(), opts); err != nil {
		t.Fatal(err)
	}

	opts.OnStart = nil
	stop = nil
	res, err := Execute(context.Background(), opts)
	if err != nil {
		t.Fatal(err)
	}
	if res.Resumed != 1 {
		t.Fatalf("Resumed = %d, want 1", res.Resumed)
	}

	var got []domain.ResultStatus
	for _, row := range res.Table.Rows[:4] {
		got = append(got, row.Status)
	}
	want := []domain.ResultStatus{
		domain.ResultFailed, domain.ResultFailed,
		domain.ResultSkipped, domain.ResultSkipped,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("condition 0 statuses mismatch (-want +got):\n%s", diff)
	}
	if n := calls.Load(); n != 14 {
		t.Errorf("computation calls = %d, want 14 as in an uninterrupted run", n)
	}
}
