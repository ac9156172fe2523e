package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/hochfrequenz/swe-orchestrator/internal/domain"
	"github.com/hochfrequenz/swe-orchestrator/internal/patch"
)

var (
	headerStyle = lipgloss.NewStyle().
		Background(lipgloss.Color("236")).
		Foreground(lipgloss.Color("255")).
		Padding(0, 1)

	sectionStyle = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	titleStyle = lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("205"))

	runningStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("42"))

	warningStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("214"))

	errorStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("196"))

	dimmedStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("240"))

	selectedStyle = lipgloss.NewStyle().
		Background(lipgloss.Color("238"))

	tabActiveStyle = lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("205")).
		Underline(true)

	tabInactiveStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("244"))

	statusBarStyle = lipgloss.NewStyle().
		Background(lipgloss.Color("236")).
		Foreground(lipgloss.Color("255"))

	addedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	removedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	hunkStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
)

// View renders the TUI
func (m Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	var b strings.Builder

	header := fmt.Sprintf(" swe-orch │ %s │ Done: %d/%d │ Patches: %d │ Valid: %d │ Failed: %d │ Running: %d ",
		m.strategy, len(m.results), m.total, m.summary.Generated, m.summary.Valid, m.summary.Failed, len(m.running))
	b.WriteString(headerStyle.Width(m.width).Render(header))
	b.WriteString("\n")

	b.WriteString(" " + m.progress.ViewAs(m.Percent()))
	b.WriteString(fmt.Sprintf(" %3.0f%%", m.Percent()*100))
	b.WriteString("\n")

	b.WriteString(m.renderTabs())
	b.WriteString("\n")

	switch m.activeTab {
	case TabDashboard:
		b.WriteString(sectionStyle.Width(m.width - 2).Render(m.renderRunning()))
		b.WriteString("\n")
		b.WriteString(sectionStyle.Width(m.width - 2).Render(m.renderRecent()))
		b.WriteString("\n")
	case TabResults:
		b.WriteString(sectionStyle.Width(m.width - 2).Render(m.renderResults()))
		b.WriteString("\n")
	case TabPatch:
		b.WriteString(m.viewport.View())
		b.WriteString("\n")
	}

	b.WriteString(m.renderStatusBar())
	return b.String()
}

func (m Model) renderTabs() string {
	names := []string{"Dashboard", "Results", "Patch"}
	tabs := make([]string, len(names))
	for i, name := range names {
		if i == m.activeTab {
			tabs[i] = tabActiveStyle.Render(name)
		} else {
			tabs[i] = tabInactiveStyle.Render(name)
		}
	}
	return " " + strings.Join(tabs, "  ")
}

func (m Model) renderRunning() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("RUNNING (%d)", len(m.running))))
	b.WriteString("\n")

	if len(m.running) == 0 {
		if m.done {
			b.WriteString(dimmedStyle.Render("batch finished"))
		} else {
			b.WriteString(dimmedStyle.Render("waiting for attempts..."))
		}
		return b.String()
	}

	for _, a := range m.running {
		elapsed := time.Since(a.StartedAt).Round(time.Second)
		line := fmt.Sprintf("%s %-40s %-12s %s", m.spinner.View(), a.InstanceID, a.Strategy, elapsed)
		if m.stuck[a.InstanceID] {
			line = warningStyle.Render(line + "  ⚠ stuck")
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func (m Model) renderRecent() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("RECENT"))
	if m.metrics.TotalCompleted > 0 {
		b.WriteString(dimmedStyle.Render(fmt.Sprintf("  avg %.1fs  %d tokens", m.metrics.AvgDurationSecs, m.metrics.TotalTokens)))
	}
	b.WriteString("\n")

	if len(m.results) == 0 {
		b.WriteString(dimmedStyle.Render("no results yet"))
		return b.String()
	}

	start := max(0, len(m.results)-recentLimit)
	for i := len(m.results) - 1; i >= start; i-- {
		b.WriteString(resultLine(m.results[i]))
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func (m Model) renderResults() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("RESULTS (%d)", len(m.results))))
	b.WriteString("\n")

	if len(m.results) == 0 {
		b.WriteString(dimmedStyle.Render("no results yet"))
		return b.String()
	}

	end := min(len(m.results), m.scroll+m.visibleRows())
	for i := m.scroll; i < end; i++ {
		line := resultLine(m.results[i])
		if i == m.selectedRow {
			line = selectedStyle.Render(line)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	if end < len(m.results) {
		b.WriteString(dimmedStyle.Render(fmt.Sprintf("... %d more", len(m.results)-end)))
	}
	return strings.TrimRight(b.String(), "\n")
}

// resultLine renders ✓ for a valid patch, ~ for a malformed one, · for none and ✗ for errors
func resultLine(r domain.SolveResult) string {
	switch {
	case r.Error != "":
		return errorStyle.Render(fmt.Sprintf("✗ %-40s %s", r.InstanceID, domain.Truncate(r.Error, 60)))
	case patch.ValidateSyntax(r.Patch).Valid:
		return runningStyle.Render(fmt.Sprintf("✓ %-40s %5d chars %6d tok %6.1fs", r.InstanceID, len(r.Patch), r.TokensUsed, r.ElapsedSeconds))
	case strings.TrimSpace(r.Patch) != "":
		return warningStyle.Render(fmt.Sprintf("~ %-40s malformed patch", r.InstanceID))
	default:
		return dimmedStyle.Render(fmt.Sprintf("· %-40s no patch", r.InstanceID))
	}
}

func renderPatch(r domain.SolveResult) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(r.InstanceID))
	b.WriteString(dimmedStyle.Render(fmt.Sprintf("  %s  %d tokens", r.Strategy, r.TokensUsed)))
	b.WriteString("\n\n")

	if strings.TrimSpace(r.Patch) == "" {
		if r.Error != "" {
			b.WriteString(errorStyle.Render(r.Error))
		} else {
			b.WriteString(dimmedStyle.Render("(no patch)"))
		}
		return b.String()
	}

	for _, line := range strings.Split(r.Patch, "\n") {
		switch {
		case strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "---"):
			b.WriteString(titleStyle.Render(line))
		case strings.HasPrefix(line, "@@"):
			b.WriteString(hunkStyle.Render(line))
		case strings.HasPrefix(line, "+"):
			b.WriteString(addedStyle.Render(line))
		case strings.HasPrefix(line, "-"):
			b.WriteString(removedStyle.Render(line))
		default:
			b.WriteString(line)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func (m Model) renderStatusBar() string {
	var keys string
	switch m.activeTab {
	case TabResults:
		keys = " [tab]switch [j/k]select [enter]patch [q]uit "
	case TabPatch:
		keys = " [tab]switch [j/k]scroll [g/G]top/bottom [esc]back [q]uit "
	default:
		keys = " [tab]switch [r]efresh [q]uit "
	}

	state := "running"
	if m.done {
		state = "done"
		if m.batchErr != nil {
			state = "error: " + m.batchErr.Error()
		}
	}
	return statusBarStyle.Width(m.width).Render(keys + "│ " + state)
}
