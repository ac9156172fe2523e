package runner

import (
	"math"
	"strings"

	"github.com/hochfrequenz/swe-orchestrator/internal/domain"
	"github.com/hochfrequenz/swe-orchestrator/internal/patch"
)

// RepoStats is the per-repository breakdown of an evaluation
type RepoStats struct {
	Total   int `json:"total"`
	Patches int `json:"patches"`
	Valid   int `json:"valid"`
}

// FailureBuckets counts results without a valid patch by cause
type FailureBuckets struct {
	NoPatch       int `json:"no_patch"`
	InvalidSyntax int `json:"invalid_syntax"`
}

// DetailedResult is the per-instance row of an evaluation
type DetailedResult struct {
	InstanceID     string          `json:"instance_id"`
	Repo           string          `json:"repo"`
	PatchGenerated bool            `json:"patch_generated"`
	PatchValid     bool            `json:"patch_valid"`
	PatchLength    int             `json:"patch_length"`
	Strategy       domain.Strategy `json:"strategy"`
	ElapsedSeconds float64         `json:"elapsed_sec"`
	TokensUsed     int             `json:"tokens_used"`
	Error          string          `json:"error,omitempty"`
}

// EvalMetrics is the Pass@1 proxy evaluation of a result set
type EvalMetrics struct {
	TotalInstances      int                  `json:"total_instances"`
	PatchesGenerated    int                  `json:"patches_generated"`
	PatchesValidSyntax  int                  `json:"patches_valid_syntax"`
	PatchesNonTrivial   int                  `json:"patches_non_trivial"`
	PassAt1Proxy        float64              `json:"pass_at_1_proxy"`
	PassAt1Pct          float64              `json:"pass_at_1_pct"`
	PatchGenerationRate float64              `json:"patch_generation_rate"`
	PerRepo             map[string]RepoStats `json:"per_repo_stats"`
	Failures            FailureBuckets       `json:"failure_analysis"`
	// PatchesApplied is only reported when applicability was checked
	PatchesApplied *int             `json:"patches_applied,omitempty"`
	Detailed       []DetailedResult `json:"detailed_results"`
}

// ComputePassAt1 scores results against the full instance set. Instances
// without a result count against the rate.
func ComputePassAt1(results []domain.SolveResult, instances []domain.TaskInstance) EvalMetrics {
	total := len(instances)
	byID := domain.IndexByID(instances)

	m := EvalMetrics{
		TotalInstances: total,
		PerRepo:        map[string]RepoStats{},
		Detailed:       make([]DetailedResult, 0, len(results)),
	}
	applied, checked := 0, false

	for _, r := range results {
		repo := r.Repo
		if inst, ok := byID[r.InstanceID]; ok {
			repo = inst.Repo
		}
		if repo == "" {
			repo = "unknown"
		}

		stats := m.PerRepo[repo]
		stats.Total++

		generated := r.Patch != ""
		valid := patch.ValidateSyntax(r.Patch).Valid
		if generated {
			m.PatchesGenerated++
			stats.Patches++
		}
		if valid {
			m.PatchesValidSyntax++
			stats.Valid++
		}
		if patch.IsNonTrivial(r.Patch) {
			m.PatchesNonTrivial++
		}
		m.PerRepo[repo] = stats

		switch {
		case !generated:
			m.Failures.NoPatch++
		case !valid:
			m.Failures.InvalidSyntax++
		}
		if r.Applied != nil {
			checked = true
			applied += boolInt(*r.Applied)
		}

		m.Detailed = append(m.Detailed, DetailedResult{
			InstanceID:     r.InstanceID,
			Repo:           repo,
			PatchGenerated: generated,
			PatchValid:     valid,
			PatchLength:    len(r.Patch),
			Strategy:       r.Strategy,
			ElapsedSeconds: r.ElapsedSeconds,
			TokensUsed:     r.TokensUsed,
			Error:          r.Error,
		})
	}

	if total > 0 {
		rate := float64(m.PatchesValidSyntax) / float64(total)
		m.PassAt1Proxy = roundTo(rate, 4)
		m.PassAt1Pct = roundTo(rate*100, 2)
		m.PatchGenerationRate = roundTo(float64(m.PatchesGenerated)/float64(total), 4)
	}
	if checked {
		m.PatchesApplied = &applied
	}
	return m
}

// StrategyMetrics summarizes one strategy's results
type StrategyMetrics struct {
	Total            int      `json:"total"`
	PatchesGenerated int      `json:"patches_generated"`
	ValidPatches     int      `json:"valid_patches"`
	PatchRate        float64  `json:"patch_rate"`
	ValidPatchRate   float64  `json:"valid_patch_rate"`
	AvgTokens        float64  `json:"avg_tokens"`
	AvgTimeSec       float64  `json:"avg_time_sec"`
	Errors           []string `json:"errors"`
}

// ComputeStrategyMetrics aggregates the results of one strategy
func ComputeStrategyMetrics(results []domain.SolveResult) StrategyMetrics {
	m := StrategyMetrics{Total: len(results), Errors: []string{}}
	if m.Total == 0 {
		return m
	}

	var tokens, elapsed float64
	for _, r := range results {
		if r.Success && r.Patch != "" {
			m.PatchesGenerated++
		}
		if patch.ValidateSyntax(r.Patch).Valid {
			m.ValidPatches++
		}
		if r.Error != "" {
			m.Errors = append(m.Errors, r.Error)
		}
		tokens += float64(r.TokensUsed)
		elapsed += r.ElapsedSeconds
	}

	n := float64(m.Total)
	m.PatchRate = roundTo(float64(m.PatchesGenerated)/n, 3)
	m.ValidPatchRate = roundTo(float64(m.ValidPatches)/n, 3)
	m.AvgTokens = roundTo(tokens/n, 1)
	m.AvgTimeSec = roundTo(elapsed/n, 2)
	return m
}

// tokenBudget is the average token count at which efficiency reaches zero
const tokenBudget = 10000

// Score combines validity and token efficiency: 0.7*valid_rate + 0.3*efficiency.
// A strategy that reported no token usage gets a neutral efficiency of 0.5.
func (m StrategyMetrics) Score() float64 {
	efficiency := 0.5
	if m.AvgTokens > 0 {
		efficiency = math.Max(0, 1-m.AvgTokens/tokenBudget)
	}
	return m.ValidPatchRate*0.7 + efficiency*0.3
}

// StrategyRun pairs a strategy with its results
type StrategyRun struct {
	Strategy domain.Strategy
	Results  []domain.SolveResult
}

// SelectBestStrategy returns the highest scoring strategy. Ties go to the
// earlier run; plan_solve is returned when there is nothing to compare.
func SelectBestStrategy(runs []StrategyRun) domain.Strategy {
	best := domain.Strategy("")
	bestScore := -1.0
	for _, run := range runs {
		if score := ComputeStrategyMetrics(run.Results).Score(); score > bestScore {
			best, bestScore = run.Strategy, score
		}
	}
	if best == "" {
		return domain.StrategyPlanSolve
	}
	return best
}

// Summary is the {generated, valid, failed} triple every batch reports
type Summary struct {
	Total     int
	Generated int
	Valid     int
	Failed    int
}

// Summarize counts a result set
func Summarize(results []domain.SolveResult) Summary {
	s := Summary{Total: len(results)}
	for _, r := range results {
		s.Generated += boolInt(strings.TrimSpace(r.Patch) != "")
		s.Valid += boolInt(patch.ValidateSyntax(r.Patch).Valid)
		s.Failed += boolInt(r.Error != "")
	}
	return s
}

func roundTo(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
