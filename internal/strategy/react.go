package strategy

import (
	"context"
	"strings"

	"github.com/hochfrequenz/swe-orchestrator/internal/domain"
	"github.com/hochfrequenz/swe-orchestrator/internal/llm"
	"github.com/hochfrequenz/swe-orchestrator/internal/patch"
	"github.com/hochfrequenz/swe-orchestrator/internal/prompts"
	"github.com/hochfrequenz/swe-orchestrator/internal/retrieval"
	"github.com/hochfrequenz/swe-orchestrator/internal/tools"
)

const (
	reactProblem   = 2000
	reactListing   = 2000
	reactListFiles = 50
	reactMaxTokens = 4096
	diffFence      = "```diff"
)

type reactState int

const (
	stateThinking reactState = iota
	stateToolExec
	stateExtract
)

// ReAct runs a bounded Thought/Action/Observation loop over the repository tools
type ReAct struct {
	opts Options
}

func (r *ReAct) Name() domain.Strategy { return domain.StrategyReAct }

func (r *ReAct) Solve(ctx context.Context, chat llm.Sender, inst domain.TaskInstance, repoRoot string) (string, error) {
	files, truncated, err := retrieval.ListFiles(ctx, repoRoot, retrieval.DefaultExtensions, reactListFiles)
	listing := tools.FormatListing(files, truncated, reactListFiles)
	if err != nil {
		listing = "ERROR listing repository: " + err.Error()
	}

	system, err := r.opts.Prompts.System(prompts.SystemReAct)
	if err != nil {
		return "", err
	}
	user, err := r.opts.Prompts.BuildReAct(prompts.ReActData{
		Repo:        inst.Repo,
		Problem:     domain.Truncate(inst.ProblemStatement, reactProblem),
		FileListing: domain.Truncate(listing, reactListing),
	})
	if err != nil {
		return "", err
	}

	msgs := []domain.Message{domain.SystemMessage(system), domain.UserMessage(user)}
	executor := tools.NewExecutor(repoRoot, r.opts.ObservationLimit)
	log := r.opts.Logger.With("instance", inst.InstanceID, "strategy", domain.StrategyReAct)

	var (
		state    = stateThinking
		response string
		lastDiff string
		call     tools.Call
	)

	for round := 0; round < r.opts.MaxIterations; round++ {
		// THINKING
		response, _, err = chat.Send(ctx, msgs, reactMaxTokens, r.opts.Temperature)
		if err != nil {
			return "", err
		}
		msgs = append(msgs, domain.AssistantMessage(response))
		log.Debug("react round", "round", round+1, "chars", len(response))

		if strings.Contains(response, diffFence) {
			lastDiff = response
			if p := patch.Extract(response); p != "" {
				return p, nil
			}
		}

		var ok bool
		call, ok = r.opts.Parser.Parse(response)
		switch {
		case !ok:
			state = stateExtract
		case call.Name == tools.Finish:
			state = stateExtract
		default:
			state = stateToolExec
		}

		if state == stateExtract {
			return r.extract(response, lastDiff), nil
		}

		// TOOL_EXEC
		observation := executor.Execute(ctx, call)
		msgs = append(msgs, domain.UserMessage("Observation: "+observation))
		state = stateThinking
	}

	log.Debug("react round budget exhausted", "rounds", r.opts.MaxIterations)
	return "", nil
}

// extract reads the patch from the final message, falling back to the most
// recent message that carried a diff fence
func (r *ReAct) extract(final, lastDiff string) string {
	if p := patch.Extract(final); p != "" {
		return p
	}
	if lastDiff != "" {
		return patch.Extract(lastDiff)
	}
	return ""
}
