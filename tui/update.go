package tui

import (
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/hochfrequenz/swe-orchestrator/internal/domain"
)

const (
	headerHeight = 4
	footerHeight = 2
)

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.progress.Width = max(10, m.width-30)

		vpHeight := max(3, m.height-headerHeight-footerHeight)
		if !m.ready {
			m.viewport = viewport.New(m.width, vpHeight)
			m.ready = true
		} else {
			m.viewport.Width = m.width
			m.viewport.Height = vpHeight
		}
		m.updatePatchView()

	case TickMsg:
		m.refresh()
		return m, tickCmd()

	case ResultMsg:
		m.addResult(domain.SolveResult(msg))
		m.refresh()
		return m, waitForResult(m.updates)

	case BatchDoneMsg:
		m.done = true
		m.batchErr = msg.Err
		m.refresh()
		return m, nil

	case spinner.TickMsg:
		if m.done {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		if m.cancel != nil {
			m.cancel()
		}
		return m, tea.Quit
	case "r":
		m.refresh()
	case "tab":
		m.activeTab = (m.activeTab + 1) % tabCount
		m.updatePatchView()
	case "d":
		m.activeTab = TabDashboard
	case "l":
		m.activeTab = TabResults
	case "enter":
		if m.activeTab == TabResults && len(m.results) > 0 {
			m.activeTab = TabPatch
			m.updatePatchView()
		}
	case "esc":
		if m.activeTab == TabPatch {
			m.activeTab = TabResults
		}
	case "j", "down":
		if m.activeTab == TabPatch {
			m.viewport.LineDown(1)
			break
		}
		if m.selectedRow < len(m.results)-1 {
			m.selectedRow++
		}
		if visible := m.visibleRows(); m.selectedRow >= m.scroll+visible {
			m.scroll = m.selectedRow - visible + 1
		}
	case "k", "up":
		if m.activeTab == TabPatch {
			m.viewport.LineUp(1)
			break
		}
		if m.selectedRow > 0 {
			m.selectedRow--
		}
		if m.selectedRow < m.scroll {
			m.scroll = m.selectedRow
		}
	case "g", "home":
		m.viewport.GotoTop()
	case "G", "end":
		m.viewport.GotoBottom()
	}
	return m, nil
}

func (m Model) visibleRows() int {
	if m.height == 0 {
		return 12
	}
	return max(1, m.height-headerHeight-footerHeight-4)
}

func (m *Model) updatePatchView() {
	if !m.ready || m.selectedRow >= len(m.results) {
		return
	}
	m.viewport.SetContent(renderPatch(m.results[m.selectedRow]))
	m.viewport.GotoTop()
}
