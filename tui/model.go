package tui

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/hochfrequenz/simgrid/internal/domain"
	"github.com/hochfrequenz/simgrid/internal/observer"
)

// Tabs
const (
	TabOverview = iota
	TabFailures
	TabConditions
	tabCount
)

// Model is the run dashboard
type Model struct {
	// Data
	title      string
	conditions []string
	failures   []FailureView
	obs        *observer.Observer

	// Stats
	completed int
	total     int
	workers   int
	available int

	// Run state
	started  time.Time
	now      time.Time
	stop     func()
	stopping bool
	quitting bool
	done     bool
	state    domain.RunStatus
	err      error

	// UI state
	width     int
	height    int
	activeTab int
	scroll    int
}

// FailureView is a failed or skipped task shown on the failures tab
type FailureView struct {
	Task      domain.Task
	Condition string
	Error     string
	Skipped   bool
}

// ModelConfig holds initial data for the dashboard
type ModelConfig struct {
	Title string
	// Conditions are the labels of the surviving conditions by index
	Conditions []string
	Total      int
	Workers    int
	Started    time.Time
}

// NewModel creates a dashboard model
func NewModel(cfg ModelConfig) Model {
	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}
	started := cfg.Started
	if started.IsZero() {
		started = time.Now()
	}
	return Model{
		title:      cfg.Title,
		conditions: cfg.Conditions,
		total:      cfg.Total,
		workers:    workers,
		available:  workers,
		obs:        observer.New(0),
		started:    started,
		now:        started,
		state:      domain.RunRunning,
	}
}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return tickCmd()
}

// TickMsg triggers a refresh of the clock
type TickMsg time.Time

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

// StartedMsg hands the run's stop function to the dashboard
type StartedMsg struct {
	Stop func()
}

// ProgressMsg reports released results
type ProgressMsg struct {
	Completed int
	Total     int
}

// ResultMsg carries one released result
type ResultMsg struct {
	Result domain.TaskResult
}

// SlotsMsg reports free execution contexts
type SlotsMsg struct {
	Available int
}

// DoneMsg ends the run
type DoneMsg struct {
	State domain.RunStatus
	Err   error
}

// Completed returns the number of released results
func (m Model) Completed() int { return m.completed }

// Done reports whether the run has finished
func (m Model) Done() bool { return m.done }

// Failures returns the failed and skipped tasks seen so far
func (m Model) Failures() []FailureView { return m.failures }

// ETA estimates the remaining run time
func (m Model) ETA() time.Duration {
	return m.obs.EstimateRemaining(m.total-m.completed, m.workers)
}

func (m Model) conditionLabel(index int) string {
	if index >= 0 && index < len(m.conditions) {
		return m.conditions[index]
	}
	return ""
}
