package runner

import (
	"context"
	"sort"

	"github.com/hochfrequenz/swe-orchestrator/internal/domain"
)

// Experiment holds the outcome of running several strategies on the same instances
type Experiment struct {
	Results      map[domain.Strategy][]domain.SolveResult `json:"results"`
	Metrics      map[domain.Strategy]StrategyMetrics      `json:"metrics"`
	BestStrategy domain.Strategy                          `json:"best_strategy"`
}

// RunExperiment runs each strategy in turn over instances. Experiments are
// exploratory and bypass the checkpoint store.
func (r *Runner) RunExperiment(ctx context.Context, instances []domain.TaskInstance, strategies []domain.Strategy, workers int) (*Experiment, error) {
	if workers <= 0 {
		workers = 2
	}
	exp := &Experiment{
		Results: make(map[domain.Strategy][]domain.SolveResult, len(strategies)),
		Metrics: make(map[domain.Strategy]StrategyMetrics, len(strategies)),
	}
	runs := make([]StrategyRun, 0, len(strategies))

	for _, name := range strategies {
		if _, err := r.solver(name); err != nil {
			return nil, err
		}
		r.log.Info("testing strategy", "strategy", name, "instances", len(instances))

		var results []domain.SolveResult
		for res := range r.pool(ctx, instances, name, workers) {
			if r.onResult != nil {
				r.onResult(res)
			}
			results = append(results, res)
		}
		sort.SliceStable(results, func(i, j int) bool { return results[i].InstanceID < results[j].InstanceID })

		if err := ctx.Err(); err != nil {
			return nil, err
		}

		metrics := ComputeStrategyMetrics(results)
		exp.Results[name] = results
		exp.Metrics[name] = metrics
		runs = append(runs, StrategyRun{Strategy: name, Results: results})
		r.log.Info("strategy done", "strategy", name,
			"valid_rate", metrics.ValidPatchRate, "avg_tokens", metrics.AvgTokens, "score", roundTo(metrics.Score(), 3))
	}

	exp.BestStrategy = SelectBestStrategy(runs)
	return exp, nil
}
