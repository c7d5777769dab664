// Package progress renders run progress on a terminal.
package progress

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/hochfrequenz/simgrid/internal/domain"
)

// Bar is a terminal progress bar fed by dispatcher callbacks
type Bar struct {
	mu          sync.Mutex
	bar         *progressbar.ProgressBar
	description string
	failed      int
	skipped     int
}

// NewBar creates a bar for total tasks
func NewBar(w io.Writer, total int, description string) *Bar {
	return &Bar{
		description: description,
		bar: progressbar.NewOptions(total,
			progressbar.OptionSetWriter(w),
			progressbar.OptionShowCount(),
			progressbar.OptionSetDescription(description),
			progressbar.OptionSetPredictTime(true),
			progressbar.OptionThrottle(100*time.Millisecond),
			progressbar.OptionClearOnFinish(),
		),
	}
}

// Update moves the bar to completed of total
func (b *Bar) Update(completed, total int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.bar.GetMax() != total {
		b.bar.ChangeMax(total)
	}
	b.bar.Set(completed) //nolint:errcheck
}

// Observe counts failures and shows them in the description
func (b *Bar) Observe(res domain.TaskResult) {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch res.Status {
	case domain.ResultFailed:
		b.failed++
	case domain.ResultSkipped:
		b.skipped++
	default:
		return
	}
	b.bar.Describe(b.describe())
}

func (b *Bar) describe() string {
	desc := b.description
	if b.failed > 0 {
		desc += fmt.Sprintf(" (%d failed", b.failed)
		if b.skipped > 0 {
			desc += fmt.Sprintf(", %d skipped", b.skipped)
		}
		desc += ")"
	}
	return desc
}

// Finish completes the bar
func (b *Bar) Finish() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bar.Finish() //nolint:errcheck
}

// State returns the current position and maximum
func (b *Bar) State() (current, max int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.bar.State()
	return int(s.CurrentNum), int(s.Max)
}
