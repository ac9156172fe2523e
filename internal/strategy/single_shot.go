package strategy

import (
	"context"

	"github.com/hochfrequenz/swe-orchestrator/internal/domain"
	"github.com/hochfrequenz/swe-orchestrator/internal/llm"
	"github.com/hochfrequenz/swe-orchestrator/internal/patch"
	"github.com/hochfrequenz/swe-orchestrator/internal/prompts"
	"github.com/hochfrequenz/swe-orchestrator/internal/retrieval"
)

const (
	singleShotFiles     = 5
	singleShotProblem   = 3000
	singleShotMaxTokens = 4096
)

// SingleShot sends one prompt with the most relevant files and extracts the answer
type SingleShot struct {
	opts Options
}

func (s *SingleShot) Name() domain.Strategy { return domain.StrategySingleShot }

func (s *SingleShot) Solve(ctx context.Context, chat llm.Sender, inst domain.TaskInstance, repoRoot string) (string, error) {
	keywords := retrieval.ExtractKeywords(inst.ProblemStatement)
	files := retrieval.FindRelevantFiles(ctx, repoRoot, keywords, singleShotFiles)
	codeContext := retrieval.BuildCodeContext(repoRoot, files, s.opts.ContextChars)

	system, err := s.opts.Prompts.System(prompts.SystemDefault)
	if err != nil {
		return "", err
	}
	user, err := s.opts.Prompts.BuildSingleShot(prompts.SingleShotData{
		Repo:        inst.Repo,
		Title:       inst.Title(),
		Problem:     domain.Truncate(inst.ProblemStatement, singleShotProblem),
		CodeContext: codeContext,
	})
	if err != nil {
		return "", err
	}

	resp, _, err := chat.Send(ctx, []domain.Message{
		domain.SystemMessage(system),
		domain.UserMessage(user),
	}, singleShotMaxTokens, s.opts.Temperature)
	if err != nil {
		return "", err
	}
	return patch.Extract(resp), nil
}
