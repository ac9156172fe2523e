// Package retry re-attempts instances whose first pass produced no usable
// patch, using a stricter diff-only prompt with one file of context at a time.
package retry

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/hochfrequenz/swe-orchestrator/internal/checkpoint"
	"github.com/hochfrequenz/swe-orchestrator/internal/domain"
	"github.com/hochfrequenz/swe-orchestrator/internal/llm"
	"github.com/hochfrequenz/swe-orchestrator/internal/patch"
	"github.com/hochfrequenz/swe-orchestrator/internal/prompts"
	"github.com/hochfrequenz/swe-orchestrator/internal/retrieval"
	"github.com/hochfrequenz/swe-orchestrator/internal/runner"
)

const (
	// MinPatchLength is the shortest patch that is not retried
	MinPatchLength = 20

	candidateFiles   = 3
	attemptFiles     = 2
	fileContent      = 4000
	problemChars     = 2000
	minimalProblem   = 1500
	fileMaxTokens    = 3000
	minimalMaxTokens = 2000
)

// NeedsRetry reports whether a result has no patch or only a stub
func NeedsRetry(res domain.SolveResult) bool {
	return len(res.Patch) < MinPatchLength
}

// Attempt runs the retry prompts for one instance checked out at repoRoot.
// Per-file chat failures move on to the next candidate; only the final
// minimal attempt reports its error.
func Attempt(ctx context.Context, chat llm.Sender, loader *prompts.Loader, inst domain.TaskInstance, repoRoot string, log *slog.Logger) (string, error) {
	system, err := loader.System(prompts.SystemRetry)
	if err != nil {
		return "", err
	}

	for _, path := range candidates(ctx, repoRoot, inst.ProblemStatement) {
		rel, err := filepath.Rel(repoRoot, path)
		if err != nil {
			rel = path
		}
		content, err := os.ReadFile(path)
		if err != nil {
			log.Debug("retry candidate unreadable", "path", rel, "error", err)
			continue
		}
		user, err := loader.BuildRetry(prompts.RetryData{
			Repo:        inst.Repo,
			Problem:     domain.Truncate(inst.ProblemStatement, problemChars),
			FilePath:    filepath.ToSlash(rel),
			FileContent: domain.Truncate(string(content), fileContent),
		})
		if err != nil {
			return "", err
		}

		resp, _, err := chat.Send(ctx, []domain.Message{domain.SystemMessage(system), domain.UserMessage(user)}, fileMaxTokens, 0)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			log.Debug("retry attempt failed", "instance", inst.InstanceID, "path", rel, "error", err)
			continue
		}
		if p := hunked(resp); p != "" {
			return p, nil
		}
	}

	user, err := loader.BuildRetryMinimal(inst.Repo, domain.Truncate(inst.ProblemStatement, minimalProblem))
	if err != nil {
		return "", err
	}
	resp, _, err := chat.Send(ctx, []domain.Message{domain.SystemMessage(system), domain.UserMessage(user)}, minimalMaxTokens, 0)
	if err != nil {
		return "", fmt.Errorf("minimal retry: %w", err)
	}
	return hunked(resp), nil
}

// hunked extracts a patch and keeps it only if it carries a hunk header
func hunked(resp string) string {
	p := patch.Extract(resp)
	if !strings.Contains(p, "@@") {
		return ""
	}
	return p
}

// candidates picks the files to show one at a time: the best keyword hits,
// or the first non-test sources when no file matches
func candidates(ctx context.Context, root, problem string) []string {
	files := retrieval.FindRelevantFiles(ctx, root, retrieval.ExtractKeywords(problem), candidateFiles)
	if len(files) == 0 {
		files = retrieval.SourceFiles(ctx, root, candidateFiles)
	}
	if len(files) > attemptFiles {
		files = files[:attemptFiles]
	}
	return files
}

// Pass re-attempts failed results and merges successes back
type Pass struct {
	Chat       llm.Sender
	Workspaces runner.Workspaces
	Prompts    *prompts.Loader
	Store      checkpoint.Store
	PatchesDir string
	Workers    int
	Logger     *slog.Logger
}

// Run retries every result that needs it. Results are updated in place;
// a successful retry replaces the patch, sets success and clears the error.
// Results whose instance is unknown are left alone.
func (p *Pass) Run(ctx context.Context, results []domain.SolveResult, instances []domain.TaskInstance) (improved int, err error) {
	log := p.Logger
	if log == nil {
		log = slog.Default()
	}
	loader := p.Prompts
	if loader == nil {
		loader = prompts.NewLoader()
	}
	workers := p.Workers
	if workers <= 0 {
		workers = runner.DefaultWorkers
	}
	byID := domain.IndexByID(instances)

	var failed []int
	for i, res := range results {
		if NeedsRetry(res) {
			failed = append(failed, i)
		}
	}
	log.Info("retrying failed instances", "count", len(failed))

	var (
		mu      sync.Mutex
		patches = make(map[int]string, len(failed))
		done    int
	)
	var g errgroup.Group
	g.SetLimit(workers)
	for _, idx := range failed {
		inst, ok := byID[results[idx].InstanceID]
		if !ok {
			continue
		}
		g.Go(func() error {
			patchText := p.retryOne(ctx, inst, loader, log)

			mu.Lock()
			defer mu.Unlock()
			done++
			status := "✗"
			if patchText != "" {
				status = "✓"
				patches[idx] = patchText
			}
			log.Info(fmt.Sprintf("[%d/%d] %s %s", done, len(failed), status, inst.InstanceID))
			return nil
		})
	}
	_ = g.Wait()

	var updated []domain.SolveResult
	for _, idx := range failed {
		patchText, ok := patches[idx]
		if !ok {
			continue
		}
		res := &results[idx]
		res.Patch = patchText
		res.Success = true
		res.Error = ""
		updated = append(updated, *res)
		improved++

		if p.PatchesDir != "" {
			if err := os.WriteFile(runner.PatchPath(p.PatchesDir, res.InstanceID), []byte(patchText), 0644); err != nil {
				log.Warn("writing patch file failed", "instance", res.InstanceID, "error", err)
			}
		}
	}

	if p.Store != nil && len(updated) > 0 {
		if err := p.Store.Put(updated...); err != nil {
			return improved, fmt.Errorf("saving retried results: %w", err)
		}
	}
	log.Info("retry complete", "improved", improved, "retried", len(failed))
	return improved, ctx.Err()
}

func (p *Pass) retryOne(ctx context.Context, inst domain.TaskInstance, loader *prompts.Loader, log *slog.Logger) string {
	if ctx.Err() != nil {
		return ""
	}
	ws, err := p.Workspaces.Prepare(ctx, inst)
	if err != nil {
		log.Warn("retry workspace setup failed", "instance", inst.InstanceID, "error", err)
		return ""
	}
	defer func() {
		if err := p.Workspaces.Remove(context.WithoutCancel(ctx), ws); err != nil {
			log.Debug("workspace cleanup failed", "path", ws.Path, "error", err)
		}
	}()

	patchText, err := Attempt(ctx, p.Chat, loader, inst, ws.Path, log)
	if err != nil {
		log.Debug("retry failed", "instance", inst.InstanceID, "error", err)
		return ""
	}
	return patchText
}
