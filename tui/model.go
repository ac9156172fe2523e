// Package tui renders a live dashboard for a running evaluation batch.
package tui

import (
	"context"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/hochfrequenz/swe-orchestrator/internal/domain"
	"github.com/hochfrequenz/swe-orchestrator/internal/observer"
	"github.com/hochfrequenz/swe-orchestrator/internal/runner"
)

// Tabs
const (
	TabDashboard = iota
	TabResults
	TabPatch
	tabCount
)

// recentLimit caps the completions shown on the dashboard
const recentLimit = 8

// Model is the TUI application model
type Model struct {
	// Data
	strategy domain.Strategy
	total    int
	results  []domain.SolveResult
	summary  runner.Summary
	running  []observer.Attempt
	stuck    map[string]bool
	metrics  observer.Metrics

	// Sources
	observer *observer.Observer
	updates  <-chan domain.SolveResult
	cancel   context.CancelFunc

	// Batch state
	done     bool
	batchErr error

	// UI state
	width       int
	height      int
	activeTab   int
	selectedRow int
	scroll      int
	ready       bool
	spinner     spinner.Model
	progress    progress.Model
	viewport    viewport.Model
}

// ModelConfig holds the sources the dashboard reads from
type ModelConfig struct {
	Strategy domain.Strategy
	Total    int
	// Done holds results already checkpointed before this run
	Done     []domain.SolveResult
	Observer *observer.Observer
	Updates  <-chan domain.SolveResult
	// Cancel is called when the user quits mid-batch
	Cancel context.CancelFunc
}

// NewModel creates a new TUI model
func NewModel(cfg ModelConfig) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = runningStyle

	m := Model{
		strategy: cfg.Strategy,
		total:    cfg.Total,
		observer: cfg.Observer,
		updates:  cfg.Updates,
		cancel:   cfg.Cancel,
		stuck:    make(map[string]bool),
		spinner:  sp,
		progress: progress.New(progress.WithDefaultGradient(), progress.WithoutPercentage()),
	}
	for _, r := range cfg.Done {
		m.addResult(r)
	}
	return m
}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		tickCmd(),
		m.spinner.Tick,
		waitForResult(m.updates),
	)
}

// TickMsg triggers a refresh
type TickMsg time.Time

// ResultMsg carries one finished attempt
type ResultMsg domain.SolveResult

// BatchDoneMsg is sent when the batch has finished
type BatchDoneMsg struct {
	Err error
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

// waitForResult blocks on the next result; a closed channel means the batch is over
func waitForResult(ch <-chan domain.SolveResult) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		res, ok := <-ch
		if !ok {
			return BatchDoneMsg{}
		}
		return ResultMsg(res)
	}
}

func (m *Model) addResult(r domain.SolveResult) {
	m.results = append(m.results, r)
	m.summary = runner.Summarize(m.results)
}

func (m *Model) refresh() {
	if m.observer == nil {
		return
	}
	m.running = m.observer.Running()
	m.metrics = m.observer.GetMetrics()
	m.stuck = make(map[string]bool)
	for _, a := range m.observer.Stuck() {
		m.stuck[a.InstanceID] = true
	}
}

// Percent is the finished share of the batch
func (m Model) Percent() float64 {
	if m.total == 0 {
		return 0
	}
	p := float64(len(m.results)) / float64(m.total)
	if p > 1 {
		return 1
	}
	return p
}

// Run shows the dashboard until the user quits
func Run(cfg ModelConfig) error {
	_, err := tea.NewProgram(NewModel(cfg), tea.WithAltScreen()).Run()
	return err
}
