package strategy

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/hochfrequenz/swe-orchestrator/internal/domain"
	"github.com/hochfrequenz/swe-orchestrator/internal/llm"
	"github.com/hochfrequenz/swe-orchestrator/internal/patch"
	"github.com/hochfrequenz/swe-orchestrator/internal/prompts"
	"github.com/hochfrequenz/swe-orchestrator/internal/retrieval"
)

const (
	planSolveFiles        = 8
	planSolveProblem      = 2500
	planGrepKeywords      = 4
	planGrepExcerpt       = 500
	planGrepParts         = 3
	planGrepBudget        = 2000
	solveGrepBudget       = 1500
	solveContextFiles     = 4
	solveContextChars     = 6000
	planMaxTokens         = 2048
	solveMaxTokens        = 4096
	planGrepResultsPerKey = 30
)

// PlanSolve asks for an analysis first, then for the diff with more code in view.
// The analysis is never parsed; it only stays in the conversation.
type PlanSolve struct {
	opts Options
}

func (p *PlanSolve) Name() domain.Strategy { return domain.StrategyPlanSolve }

func (p *PlanSolve) Solve(ctx context.Context, chat llm.Sender, inst domain.TaskInstance, repoRoot string) (string, error) {
	keywords := retrieval.ExtractKeywords(inst.ProblemStatement)
	files := retrieval.FindRelevantFiles(ctx, repoRoot, keywords, planSolveFiles)
	grepContext := grepExcerpts(ctx, repoRoot, keywords)

	rel := make([]string, len(files))
	for i, f := range files {
		if r, err := filepath.Rel(repoRoot, f); err == nil {
			rel[i] = filepath.ToSlash(r)
		} else {
			rel[i] = f
		}
	}
	problem := domain.Truncate(inst.ProblemStatement, planSolveProblem)

	system, err := p.opts.Prompts.System(prompts.SystemPlanSolve)
	if err != nil {
		return "", err
	}
	planPrompt, err := p.opts.Prompts.BuildPlan(prompts.PlanSolveData{
		Repo:          inst.Repo,
		Problem:       problem,
		RelevantFiles: strings.Join(rel, "\n"),
		GrepContext:   domain.Truncate(grepContext, planGrepBudget),
	})
	if err != nil {
		return "", err
	}

	plan, _, err := chat.Send(ctx, []domain.Message{
		domain.SystemMessage(system),
		domain.UserMessage(planPrompt),
	}, planMaxTokens, p.opts.Temperature)
	if err != nil {
		return "", fmt.Errorf("plan phase: %w", err)
	}

	if len(files) > solveContextFiles {
		files = files[:solveContextFiles]
	}
	codeContext := retrieval.BuildCodeContext(repoRoot, files, solveContextChars)

	solveContext, err := p.opts.Prompts.BuildPlan(prompts.PlanSolveData{
		Repo:          inst.Repo,
		Problem:       problem,
		RelevantFiles: strings.Join(rel, "\n"),
		GrepContext:   domain.Truncate(grepContext, solveGrepBudget),
	})
	if err != nil {
		return "", err
	}
	solvePrompt, err := p.opts.Prompts.BuildSolve(codeContext)
	if err != nil {
		return "", err
	}

	resp, _, err := chat.Send(ctx, []domain.Message{
		domain.SystemMessage(system),
		domain.UserMessage(solveContext),
		domain.AssistantMessage(plan),
		domain.UserMessage(solvePrompt),
	}, solveMaxTokens, p.opts.Temperature)
	if err != nil {
		return "", fmt.Errorf("solve phase: %w", err)
	}
	return patch.Extract(resp), nil
}

// grepExcerpts samples search hits for the leading keywords
func grepExcerpts(ctx context.Context, root string, keywords []string) string {
	if len(keywords) > planGrepKeywords {
		keywords = keywords[:planGrepKeywords]
	}
	var parts []string
	for _, kw := range keywords {
		matches, err := retrieval.GrepSearch(ctx, root, regexp.QuoteMeta(kw), nil, planGrepResultsPerKey)
		if err != nil || len(matches) == 0 {
			continue
		}
		excerpt := domain.Truncate(retrieval.FormatMatches(matches), planGrepExcerpt)
		parts = append(parts, fmt.Sprintf("# grep '%s':\n%s", kw, excerpt))
		if len(parts) == planGrepParts {
			break
		}
	}
	return strings.Join(parts, "\n\n")
}
