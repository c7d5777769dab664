package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
)

var (
	titleStyle = lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("205")).
		Padding(0, 1)

	headerStyle = lipgloss.NewStyle().
		Background(lipgloss.Color("236")).
		Foreground(lipgloss.Color("255")).
		Padding(0, 1)

	sectionStyle = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	runningStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("42"))

	queuedStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("244"))

	warningStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("214"))

	errorStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("196"))

	statusBarStyle = lipgloss.NewStyle().
		Background(lipgloss.Color("236")).
		Foreground(lipgloss.Color("255"))

	tabActiveStyle = lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("205")).
		Underline(true)

	tabInactiveStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("244"))
)

const maxVisibleRows = 12

// View renders the dashboard
func (m Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	var b strings.Builder

	header := fmt.Sprintf(" simgrid │ %s │ %s/%s tasks │ %s failed │ %s ",
		m.title, humanize.Comma(int64(m.completed)), humanize.Comma(int64(m.total)),
		humanize.Comma(int64(len(m.failures))), m.stateLabel())
	b.WriteString(headerStyle.Width(m.width).Render(header))
	b.WriteString("\n")

	b.WriteString(m.renderTabs())
	b.WriteString("\n")

	var section string
	switch m.activeTab {
	case TabOverview:
		section = m.renderOverview()
	case TabFailures:
		section = m.renderFailures()
	case TabConditions:
		section = m.renderConditions()
	}
	b.WriteString(sectionStyle.Width(m.width - 2).Render(section))
	b.WriteString("\n")

	b.WriteString(statusBarStyle.Width(m.width).Render(m.statusLine()))
	return b.String()
}

func (m Model) renderTabs() string {
	tabs := []string{"Overview", "Failures", "Conditions"}
	var parts []string

	for i, tab := range tabs {
		if i == m.activeTab {
			parts = append(parts, tabActiveStyle.Render(fmt.Sprintf(" %s ", tab)))
		} else {
			parts = append(parts, tabInactiveStyle.Render(fmt.Sprintf(" %s ", tab)))
		}
	}

	return strings.Join(parts, "│")
}

func (m Model) renderOverview() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("PROGRESS"))
	b.WriteString("\n")

	b.WriteString("  ")
	b.WriteString(progressBar(m.completed, m.total, m.barWidth()))
	b.WriteString(fmt.Sprintf(" %3.0f%%\n", percent(m.completed, m.total)))

	metrics := m.obs.GetMetrics()
	succeeded := metrics.Completed - metrics.Failed - metrics.Skipped
	b.WriteString(runningStyle.Render(fmt.Sprintf("  ✓ %s succeeded", humanize.Comma(int64(succeeded)))))
	b.WriteString("\n")
	if metrics.Failed > 0 {
		b.WriteString(warningStyle.Render(fmt.Sprintf("  ✗ %s failed", humanize.Comma(int64(metrics.Failed)))))
		b.WriteString("\n")
	}
	if metrics.Skipped > 0 {
		b.WriteString(queuedStyle.Render(fmt.Sprintf("  ○ %s skipped", humanize.Comma(int64(metrics.Skipped)))))
		b.WriteString("\n")
	}

	busy := m.workers - m.available
	b.WriteString(fmt.Sprintf("\n  Workers:  %d/%d busy\n", busy, m.workers))
	b.WriteString(fmt.Sprintf("  Elapsed:  %s\n", m.now.Sub(m.started).Round(time.Second)))
	if metrics.AvgElapsed > 0 {
		b.WriteString(fmt.Sprintf("  Avg task: %s\n", metrics.AvgElapsed.Round(time.Millisecond)))
	}
	if !m.done && m.completed > 0 {
		b.WriteString(fmt.Sprintf("  ETA:      %s\n", formatETA(m.now, m.ETA())))
	}
	if m.err != nil {
		b.WriteString("\n")
		b.WriteString(errorStyle.Render("  " + m.err.Error()))
	}

	return strings.TrimRight(b.String(), "\n")
}

func (m Model) renderFailures() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("FAILURES"))
	b.WriteString("\n")

	if len(m.failures) == 0 {
		b.WriteString(queuedStyle.Render("  No failed tasks"))
		return b.String()
	}

	end := m.scroll + maxVisibleRows
	if end > len(m.failures) {
		end = len(m.failures)
	}
	for _, f := range m.failures[m.scroll:end] {
		line := fmt.Sprintf("  %-6d %-30s rep %-4d %s",
			f.Task.Index, truncate(f.Condition, 30), f.Task.Replication, truncate(f.Error, 50))
		if f.Skipped {
			b.WriteString(queuedStyle.Render(line))
		} else {
			b.WriteString(warningStyle.Render(line))
		}
		b.WriteString("\n")
	}
	if len(m.failures) > maxVisibleRows {
		b.WriteString(queuedStyle.Render(fmt.Sprintf("  %d-%d of %d", m.scroll+1, end, len(m.failures))))
	}

	return strings.TrimRight(b.String(), "\n")
}

func (m Model) renderConditions() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("SLOWEST CONDITIONS"))
	b.WriteString("\n")

	slowest := m.obs.SlowestConditions(maxVisibleRows)
	if len(slowest) == 0 {
		b.WriteString(queuedStyle.Render("  No timings yet"))
		return b.String()
	}
	for _, ci := range slowest {
		b.WriteString(fmt.Sprintf("  %-6d %s\n", ci, truncate(m.conditionLabel(ci), 60)))
	}

	return strings.TrimRight(b.String(), "\n")
}

func (m Model) statusLine() string {
	switch {
	case m.done:
		return " q: quit  tab: switch view"
	case m.stopping:
		return " stopping, waiting for running tasks..."
	default:
		return " s: stop  q: stop and quit  tab: switch view  j/k: scroll"
	}
}

func (m Model) stateLabel() string {
	if m.stopping && !m.done {
		return "stopping"
	}
	return string(m.state)
}

func (m Model) barWidth() int {
	w := m.width - 16
	if w > 60 {
		w = 60
	}
	if w < 10 {
		w = 10
	}
	return w
}

func progressBar(completed, total, width int) string {
	filled := 0
	if total > 0 {
		filled = completed * width / total
	}
	if filled > width {
		filled = width
	}
	return runningStyle.Render(strings.Repeat("█", filled)) + queuedStyle.Render(strings.Repeat("░", width-filled))
}

func percent(completed, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(completed) * 100 / float64(total)
}

// formatETA renders the remaining time as "3 minutes"
func formatETA(now time.Time, eta time.Duration) string {
	if eta <= 0 {
		return "unknown"
	}
	return strings.TrimSpace(humanize.RelTime(now, now.Add(eta), "", ""))
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}

