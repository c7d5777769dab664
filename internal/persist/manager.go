package persist

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/google/renameio/v2"

	"github.com/hochfrequenz/simgrid/internal/aggregate"
	"github.com/hochfrequenz/simgrid/internal/domain"
)

// Options configures a Manager
type Options struct {
	Logger log.Logger
	// Schedule is the periodic flush cadence, see ParseSchedule. Empty
	// disables periodic flushes; Flush can still be called directly.
	Schedule string
	// Now is used instead of time.Now when set
	Now func() time.Time
}

// Manager flushes table snapshots to a CSV destination
type Manager struct {
	path   string
	logger log.Logger
	now    func() time.Time

	mu      sync.Mutex
	clock   *flushClock
	lastErr error
	flushes int
	rows    int
}

// NewManager creates a manager for path. An empty path yields a manager
// whose flushes are no-ops.
func NewManager(path string, opts Options) (*Manager, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.NewNopLogger()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	m := &Manager{
		path:   path,
		logger: log.With(logger, "component", "persist"),
		now:    now,
	}
	if path != "" && opts.Schedule != "" {
		sched, err := ParseSchedule(opts.Schedule)
		if err != nil {
			return nil, err
		}
		m.clock = newFlushClock(sched, now())
	}
	return m, nil
}

// Enabled reports whether a destination is configured
func (m *Manager) Enabled() bool { return m.path != "" }

// Path returns the destination
func (m *Manager) Path() string { return m.path }

// StopPath returns the path of the file whose creation requests a
// graceful stop of the run writing to this destination
func (m *Manager) StopPath() string {
	if m.path == "" {
		return ""
	}
	return m.path + ".stop"
}

// Flush writes the table. A failed flush is logged and remembered; the
// next flush writes the full table again.
func (m *Manager) Flush(table *aggregate.Table) error {
	if !m.Enabled() {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	err := m.write(table)
	m.clock.advance(m.now())
	if err != nil {
		m.lastErr = &domain.PersistenceError{Path: m.path, Err: err}
		level.Warn(m.logger).Log("msg", "flush failed, retrying on next flush", "path", m.path, "err", err)
		return m.lastErr
	}

	m.lastErr = nil
	m.flushes++
	m.rows = table.Len()
	level.Debug(m.logger).Log("msg", "flushed results", "path", m.path, "rows", m.rows)
	return nil
}

func (m *Manager) write(table *aggregate.Table) error {
	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return err
	}
	pending, err := renameio.NewPendingFile(m.path,
		renameio.WithTempDir(filepath.Dir(m.path)),
		renameio.WithPermissions(0o644),
	)
	if err != nil {
		return err
	}
	defer pending.Cleanup()

	if err := WriteCSV(pending, table); err != nil {
		return err
	}
	return pending.CloseAtomicallyReplace()
}

// Due reports whether the periodic schedule has elapsed
func (m *Manager) Due(now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Enabled() && m.clock.due(now)
}

// MaybeFlush flushes a fresh snapshot when the schedule is due. The
// snapshot is only taken when needed.
func (m *Manager) MaybeFlush(snapshot func() *aggregate.Table) error {
	if !m.Due(m.now()) {
		return nil
	}
	return m.Flush(snapshot())
}

// LastError returns the error of the most recent flush, nil after a
// successful one
func (m *Manager) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// Stats returns the number of successful flushes and the row count of
// the last one
func (m *Manager) Stats() (flushes, rows int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flushes, m.rows
}
