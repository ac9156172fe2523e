// Package strategy implements the interchangeable issue-solving algorithms.
// Every strategy maps (instance, checkout) to a patch, which may be empty.
package strategy

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hochfrequenz/swe-orchestrator/internal/domain"
	"github.com/hochfrequenz/swe-orchestrator/internal/llm"
	"github.com/hochfrequenz/swe-orchestrator/internal/prompts"
	"github.com/hochfrequenz/swe-orchestrator/internal/tools"
)

// Solver produces a patch for one instance checked out at repoRoot.
// Chat failures are returned; repository inspection problems only degrade context.
type Solver interface {
	Name() domain.Strategy
	Solve(ctx context.Context, chat llm.Sender, inst domain.TaskInstance, repoRoot string) (string, error)
}

// Options holds the knobs shared by all strategies
type Options struct {
	Prompts          *prompts.Loader
	MaxIterations    int
	ObservationLimit int
	ContextChars     int
	Temperature      float32
	Parser           tools.Parser
	Logger           *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.Prompts == nil {
		o.Prompts = prompts.NewLoader()
	}
	if o.MaxIterations <= 0 {
		o.MaxIterations = 12
	}
	if o.ObservationLimit <= 0 {
		o.ObservationLimit = tools.DefaultObservationLimit
	}
	if o.ContextChars <= 0 {
		o.ContextChars = 8000
	}
	if o.Parser == nil {
		o.Parser = tools.ActionParser{}
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// New returns the solver for a strategy name
func New(name domain.Strategy, opts Options) (Solver, error) {
	opts = opts.withDefaults()
	switch name {
	case domain.StrategySingleShot:
		return &SingleShot{opts: opts}, nil
	case domain.StrategyPlanSolve:
		return &PlanSolve{opts: opts}, nil
	case domain.StrategyReAct:
		return &ReAct{opts: opts}, nil
	}
	return nil, fmt.Errorf("unknown strategy: %q", name)
}
