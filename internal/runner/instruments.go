package runner

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/hochfrequenz/swe-orchestrator/internal/domain"
	"github.com/hochfrequenz/swe-orchestrator/internal/patch"
)

var (
	solveResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "swe_orch_solve_results_total",
		Help: "Finished solve attempts by strategy and outcome",
	}, []string{"strategy", "outcome"})

	solveDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "swe_orch_solve_duration_seconds",
		Help:    "Wall time of one solve attempt",
		Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1200},
	}, []string{"strategy"})

	checkpointWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "swe_orch_checkpoint_writes_total",
		Help: "Checkpoint flushes by outcome",
	}, []string{"outcome"})
)

func outcome(res domain.SolveResult) string {
	switch {
	case res.Error != "":
		return "error"
	case res.Patch == "":
		return "no_patch"
	case !patch.ValidateSyntax(res.Patch).Valid:
		return "invalid_syntax"
	default:
		return "valid"
	}
}

func recordSolve(res domain.SolveResult) {
	solveResults.WithLabelValues(string(res.Strategy), outcome(res)).Inc()
	solveDuration.WithLabelValues(string(res.Strategy)).Observe(res.ElapsedSeconds)
}
