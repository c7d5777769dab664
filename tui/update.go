package tui

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/hochfrequenz/simgrid/internal/domain"
)

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			if m.done {
				return m, tea.Quit
			}
			// leave once the in-flight tasks have drained
			m.quitting = true
			m.requestStop()
		case "s":
			m.requestStop()
		case "j", "down":
			if m.activeTab == TabFailures && m.scroll < len(m.failures)-1 {
				m.scroll++
			}
		case "k", "up":
			if m.scroll > 0 {
				m.scroll--
			}
		case "tab":
			m.activeTab = (m.activeTab + 1) % tabCount
			m.scroll = 0
		case "f":
			m.activeTab = TabFailures
			m.scroll = 0
		case "c":
			m.activeTab = TabConditions
			m.scroll = 0
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case TickMsg:
		if m.done {
			return m, nil
		}
		m.now = time.Time(msg)
		return m, tickCmd()

	case StartedMsg:
		m.stop = msg.Stop
		if m.stopping && m.stop != nil {
			m.stop()
		}

	case ProgressMsg:
		m.completed = msg.Completed
		if msg.Total > 0 {
			m.total = msg.Total
		}

	case ResultMsg:
		m.obs.RecordResult(msg.Result)
		if !msg.Result.Succeeded() {
			m.failures = append(m.failures, FailureView{
				Task:      msg.Result.Task,
				Condition: m.conditionLabel(msg.Result.Task.ConditionIndex),
				Error:     msg.Result.Error,
				Skipped:   msg.Result.Status == domain.ResultSkipped,
			})
		}

	case SlotsMsg:
		m.available = msg.Available

	case DoneMsg:
		m.done = true
		m.state = msg.State
		m.err = msg.Err
		m.available = m.workers
		if m.quitting {
			return m, tea.Quit
		}
	}

	return m, nil
}

func (m *Model) requestStop() {
	if m.done || m.stopping {
		return
	}
	m.stopping = true
	if m.stop != nil {
		m.stop()
	}
}
