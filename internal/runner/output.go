package runner

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/hochfrequenz/swe-orchestrator/internal/domain"
	"github.com/hochfrequenz/swe-orchestrator/internal/llm"
)

// File names inside the output directory
const (
	FullResultsFile = "full_results.json"
	ExperimentFile  = "experiment_results.json"
	ReportFile      = "report.md"
)

// LLMStats is the chat usage recorded alongside results
type LLMStats struct {
	domain.UsageStats
	EstimatedCostUSD float64 `json:"estimated_cost_usd"`
}

// NewLLMStats derives the cost estimate from usage counters
func NewLLMStats(stats domain.UsageStats, pricePerMillion float64) LLMStats {
	return LLMStats{UsageStats: stats, EstimatedCostUSD: llm.EstimateCost(stats, pricePerMillion)}
}

// FullResults is the evaluate output file
type FullResults struct {
	RunID       string               `json:"run_id"`
	Strategy    domain.Strategy      `json:"strategy"`
	GeneratedAt time.Time            `json:"generated_at"`
	EvalMetrics EvalMetrics          `json:"eval_metrics"`
	LLMStats    LLMStats             `json:"llm_stats"`
	Results     []domain.SolveResult `json:"results"`
}

// WriteJSON writes v indented, replacing path atomically
func WriteJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// ReadFullResults loads an evaluate output file
func ReadFullResults(path string) (*FullResults, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var fr FullResults
	if err := json.Unmarshal(data, &fr); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return &fr, nil
}

// WriteReport renders a markdown summary of an evaluation and, when given,
// the experiment that selected its strategy
func WriteReport(path, model string, fr *FullResults, exp *Experiment) error {
	m := fr.EvalMetrics
	var b strings.Builder

	fmt.Fprintf(&b, "# Evaluation Report\n\n")
	fmt.Fprintf(&b, "- Model: %s\n- Strategy: %s\n- Run: %s\n- Generated: %s\n\n",
		model, fr.Strategy, fr.RunID, fr.GeneratedAt.Format(time.RFC3339))

	b.WriteString("## Summary\n\n| Metric | Value |\n|--------|-------|\n")
	fmt.Fprintf(&b, "| Total instances | %d |\n", m.TotalInstances)
	fmt.Fprintf(&b, "| Patches generated | %d |\n", m.PatchesGenerated)
	fmt.Fprintf(&b, "| Valid patches (syntax) | %d |\n", m.PatchesValidSyntax)
	fmt.Fprintf(&b, "| Non-trivial patches | %d |\n", m.PatchesNonTrivial)
	if m.PatchesApplied != nil {
		fmt.Fprintf(&b, "| Patches applying cleanly | %d |\n", *m.PatchesApplied)
	}
	fmt.Fprintf(&b, "| **Pass@1 (proxy)** | **%.2f%%** |\n\n", m.PassAt1Pct)

	if exp != nil && len(exp.Metrics) > 0 {
		b.WriteString("## Strategy Comparison\n\n")
		names := make([]string, 0, len(exp.Metrics))
		for s := range exp.Metrics {
			names = append(names, string(s))
		}
		sort.Strings(names)
		for _, s := range names {
			sm := exp.Metrics[domain.Strategy(s)]
			fmt.Fprintf(&b, "### %s\n", strings.ToUpper(s))
			fmt.Fprintf(&b, "- Instances tested: %d\n- Patches generated: %d\n- Valid patches: %d\n", sm.Total, sm.PatchesGenerated, sm.ValidPatches)
			fmt.Fprintf(&b, "- Valid patch rate: %.2f%%\n- Avg tokens/instance: %.0f\n- Avg time/instance: %.1fs\n\n", sm.ValidPatchRate*100, sm.AvgTokens, sm.AvgTimeSec)
		}
		fmt.Fprintf(&b, "Selected strategy: **%s**\n\n", exp.BestStrategy)
	}

	b.WriteString("## Token Usage\n\n| Metric | Value |\n|--------|-------|\n")
	fmt.Fprintf(&b, "| Chat calls | %d |\n", fr.LLMStats.TotalCalls)
	fmt.Fprintf(&b, "| Total tokens | %d |\n", fr.LLMStats.TotalTokens)
	fmt.Fprintf(&b, "| Estimated cost | $%.4f |\n", fr.LLMStats.EstimatedCostUSD)
	if m.TotalInstances > 0 {
		fmt.Fprintf(&b, "| Avg tokens/instance | %.0f |\n", float64(fr.LLMStats.TotalTokens)/float64(m.TotalInstances))
	}

	b.WriteString("\n## Failure Analysis\n\n")
	fmt.Fprintf(&b, "- No patch: %d\n- Invalid syntax: %d\n", m.Failures.NoPatch, m.Failures.InvalidSyntax)

	if len(m.PerRepo) > 0 {
		b.WriteString("\n## Per Repository\n\n| Repository | Total | Patches | Valid |\n|---|---|---|---|\n")
		repos := make([]string, 0, len(m.PerRepo))
		for repo := range m.PerRepo {
			repos = append(repos, repo)
		}
		sort.Strings(repos)
		for _, repo := range repos {
			s := m.PerRepo[repo]
			fmt.Fprintf(&b, "| %s | %d | %d | %d |\n", repo, s.Total, s.Patches, s.Valid)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(b.String()), 0644)
}
