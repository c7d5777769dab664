package progress

import (
	"bytes"
	"testing"

	"github.com/hochfrequenz/simgrid/internal/domain"
)

func TestBar_Update(t *testing.T) {
	var buf bytes.Buffer
	b := NewBar(&buf, 10, "simulating")

	b.Update(3, 10)
	if cur, max := b.State(); cur != 3 || max != 10 {
		t.Errorf("State() = %d/%d, want 3/10", cur, max)
	}

	// resumed runs can report a different total
	b.Update(5, 12)
	if cur, max := b.State(); cur != 5 || max != 12 {
		t.Errorf("State() = %d/%d, want 5/12", cur, max)
	}
}

func TestBar_ObserveFailures(t *testing.T) {
	b := NewBar(&bytes.Buffer{}, 4, "simulating")

	b.Observe(domain.TaskResult{Status: domain.ResultSucceeded})
	if got := b.describe(); got != "simulating" {
		t.Errorf("describe() = %q after success", got)
	}

	b.Observe(domain.TaskResult{Status: domain.ResultFailed})
	b.Observe(domain.TaskResult{Status: domain.ResultSkipped})
	if got := b.describe(); got != "simulating (1 failed, 1 skipped)" {
		t.Errorf("describe() = %q", got)
	}
	if got := b.bar.State().Description; got != "simulating (1 failed, 1 skipped)" {
		t.Errorf("bar description = %q", got)
	}
}
