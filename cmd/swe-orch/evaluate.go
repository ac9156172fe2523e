package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/hochfrequenz/swe-orchestrator/internal/domain"
	"github.com/hochfrequenz/swe-orchestrator/internal/notify"
	"github.com/hochfrequenz/swe-orchestrator/internal/observer"
	"github.com/hochfrequenz/swe-orchestrator/internal/retry"
	"github.com/hochfrequenz/swe-orchestrator/internal/runner"
	"github.com/hochfrequenz/swe-orchestrator/tui"
)

// evalParams describes one evaluation batch
type evalParams struct {
	strategy   string
	workers    int
	limit      int
	instances  string
	ids        []string
	checkApply bool
	retry      bool
	fresh      bool
	notify     bool
	// outDir overrides the configured output directory
	outDir string
}

var evalFlags evalParams

func addEvalFlags(cmd *cobra.Command, p *evalParams) {
	cmd.Flags().StringVarP(&p.strategy, "strategy", "s", string(domain.StrategyPlanSolve), "single_shot, plan_solve or react")
	cmd.Flags().IntVarP(&p.workers, "workers", "w", 0, "parallel attempts (default from config)")
	cmd.Flags().IntVarP(&p.limit, "limit", "n", 0, "evaluate only the first N instances")
	cmd.Flags().StringVar(&p.instances, "instances", "", "local instances file (.json or .jsonl) instead of the dataset")
	cmd.Flags().StringSliceVar(&p.ids, "ids", nil, "only these instance ids")
	cmd.Flags().BoolVar(&p.checkApply, "check-apply", false, "dry-run valid patches against the base revision")
	cmd.Flags().BoolVar(&p.retry, "retry", false, "run the retry pass over empty results afterwards")
	cmd.Flags().BoolVar(&p.fresh, "fresh", false, "discard checkpointed results for the strategy first")
	cmd.Flags().BoolVar(&p.notify, "notify", true, "send a completion notification")
}

func init() {
	evaluateCmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Evaluate a strategy over the benchmark split",
		Long: `Runs the chosen strategy over every instance, checkpointing results so an
interrupted run resumes where it stopped. Writes full_results.json and
report.md to the output directory.`,
		RunE: runEvaluate,
	}
	addEvalFlags(evaluateCmd, &evalFlags)
	rootCmd.AddCommand(evaluateCmd)

	tuiCmd := &cobra.Command{
		Use:   "tui",
		Short: "Evaluate with a live dashboard",
		RunE:  runTUI,
	}
	addEvalFlags(tuiCmd, &tuiFlags)
	rootCmd.AddCommand(tuiCmd)

	retryCmd := &cobra.Command{
		Use:   "retry",
		Short: "Re-attempt results without a usable patch",
		RunE:  runRetry,
	}
	retryCmd.Flags().StringVar(&retryInput, "input", "", "full results file (default <output_dir>/full_results.json)")
	retryCmd.Flags().StringVar(&retryInstances, "instances", "", "local instances file instead of the dataset")
	retryCmd.Flags().IntVarP(&retryWorkers, "workers", "w", 0, "parallel retries (default from config)")
	rootCmd.AddCommand(retryCmd)
}

var (
	tuiFlags       evalParams
	retryInput     string
	retryInstances string
	retryWorkers   int
)

func runEvaluate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, appOptions{chat: true, store: true})
	if err != nil {
		return err
	}
	defer a.close()

	fr, err := a.evaluate(ctx, evalFlags, nil, nil)
	if err != nil {
		return err
	}
	printEvalSummary(fr, a.outputPath(runner.FullResultsFile))
	return nil
}

// evaluate runs one batch and writes its output files. obs and onResult may be nil.
func (a *app) evaluate(ctx context.Context, p evalParams, obs *observer.Observer, onResult runner.ResultCallback) (*runner.FullResults, error) {
	name, err := domain.ParseStrategy(p.strategy)
	if err != nil {
		return nil, err
	}
	if p.workers <= 0 {
		p.workers = a.cfg.General.MaxWorkers
	}

	instances, err := a.loadInstances(ctx, p.instances, p.ids, p.limit)
	if err != nil {
		return nil, err
	}
	if len(instances) == 0 {
		return nil, errors.New("no instances to evaluate")
	}

	if p.fresh {
		if err := a.store.Clear(name); err != nil {
			return nil, fmt.Errorf("clearing checkpoint: %w", err)
		}
	}

	r, err := a.newRunner(runner.Config{Observer: obs, CheckApply: p.checkApply, OnResult: onResult})
	if err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	a.log.Info("starting evaluation", "run", runID, "strategy", name, "instances", len(instances), "workers", p.workers)

	results, err := r.RunBatch(ctx, instances, name, runner.BatchOptions{
		Workers:            p.workers,
		CheckpointInterval: a.cfg.Checkpoint.Interval,
		RunID:              runID,
	})
	if err != nil {
		if ctx.Err() != nil {
			a.log.Warn("evaluation interrupted; rerun the same command to resume", "completed", len(results))
		}
		return nil, err
	}

	if p.retry {
		pass := &retry.Pass{
			Chat:       a.client,
			Workspaces: a.ws,
			Prompts:    a.prompts,
			Store:      a.store,
			PatchesDir: a.cfg.General.PatchesDir,
			Workers:    p.workers,
			Logger:     a.log,
		}
		improved, err := pass.Run(ctx, results, instances)
		if err != nil {
			return nil, fmt.Errorf("retry pass: %w", err)
		}
		a.log.Info("retry pass finished", "improved", improved)
	}

	fr := &runner.FullResults{
		RunID:       runID,
		Strategy:    name,
		GeneratedAt: time.Now().UTC(),
		EvalMetrics: runner.ComputePassAt1(results, instances),
		LLMStats:    runner.NewLLMStats(a.client.Stats(), a.cfg.LLM.PricePerMillion),
		Results:     results,
	}
	outDir := p.outDir
	if outDir == "" {
		outDir = a.cfg.General.OutputDir
	}
	if err := a.writeOutputs(fr, outDir); err != nil {
		return nil, err
	}

	if p.notify {
		sum := runner.Summarize(results)
		n := notify.BatchFinished(runID, notify.BatchCounts{
			Strategy:  string(name),
			Total:     sum.Total,
			Generated: sum.Generated,
			Valid:     sum.Valid,
			Failed:    sum.Failed,
			PassPct:   fr.EvalMetrics.PassAt1Pct,
		})
		if err := a.notifier.Send(n); err != nil {
			a.log.Warn("notification failed", "error", err)
		}
	}
	return fr, nil
}

func (a *app) writeOutputs(fr *runner.FullResults, dir string) error {
	if err := runner.WriteJSON(filepath.Join(dir, runner.FullResultsFile), fr); err != nil {
		return fmt.Errorf("writing results: %w", err)
	}
	if err := runner.WriteReport(filepath.Join(dir, runner.ReportFile), a.cfg.LLM.Model, fr, nil); err != nil {
		return fmt.Errorf("writing report: %w", err)
	}
	return nil
}

func printEvalSummary(fr *runner.FullResults, path string) {
	m := fr.EvalMetrics
	fmt.Println()
	fmt.Printf("Strategy:           %s\n", fr.Strategy)
	fmt.Printf("Instances:          %d\n", m.TotalInstances)
	fmt.Printf("Patches generated:  %d (%.1f%%)\n", m.PatchesGenerated, m.PatchGenerationRate*100)
	fmt.Printf("Valid syntax:       %d\n", m.PatchesValidSyntax)
	fmt.Printf("Non-trivial:        %d\n", m.PatchesNonTrivial)
	if m.PatchesApplied != nil {
		fmt.Printf("Apply cleanly:      %d\n", *m.PatchesApplied)
	}
	fmt.Printf("Pass@1 (proxy):     %.2f%%\n", m.PassAt1Pct)
	fmt.Printf("Failures:           %d no patch, %d invalid syntax\n", m.Failures.NoPatch, m.Failures.InvalidSyntax)
	fmt.Printf("Tokens:             %d (~$%.4f)\n", fr.LLMStats.TotalTokens, fr.LLMStats.EstimatedCostUSD)
	fmt.Printf("Results:            %s\n", path)
}

func runTUI(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	// logs would tear the alt screen
	slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))

	a, err := newApp(ctx, appOptions{chat: true, store: true})
	if err != nil {
		return err
	}
	defer a.close()

	name, err := domain.ParseStrategy(tuiFlags.strategy)
	if err != nil {
		return err
	}
	instances, err := a.loadInstances(ctx, tuiFlags.instances, tuiFlags.ids, tuiFlags.limit)
	if err != nil {
		return err
	}
	done, err := a.store.All(name)
	if err != nil {
		return err
	}
	wanted := domain.IndexByID(instances)
	var prior []domain.SolveResult
	for _, res := range done {
		if _, ok := wanted[res.InstanceID]; ok {
			prior = append(prior, res)
		}
	}

	obs := observer.New(30 * time.Minute)
	updates := make(chan domain.SolveResult, len(instances))
	batchErr := make(chan error, 1)
	go func() {
		defer close(updates)
		_, err := a.evaluate(ctx, tuiFlags, obs, func(res domain.SolveResult) { updates <- res })
		batchErr <- err
	}()

	if err := tui.Run(tui.ModelConfig{
		Strategy: name,
		Total:    len(wanted),
		Done:     prior,
		Observer: obs,
		Updates:  updates,
		Cancel:   cancel,
	}); err != nil {
		return err
	}

	cancel()
	if err := <-batchErr; err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	fmt.Fprintf(os.Stdout, "Results: %s\n", a.outputPath(runner.FullResultsFile))
	return nil
}

func runRetry(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, appOptions{chat: true, store: true})
	if err != nil {
		return err
	}
	defer a.close()

	path := retryInput
	if path == "" {
		path = a.outputPath(runner.FullResultsFile)
	}
	fr, err := runner.ReadFullResults(path)
	if err != nil {
		return err
	}

	ids := make([]string, 0, len(fr.Results))
	for _, res := range fr.Results {
		ids = append(ids, res.InstanceID)
	}
	instances, err := a.loadInstances(ctx, retryInstances, ids, 0)
	if err != nil {
		return err
	}

	workers := retryWorkers
	if workers <= 0 {
		workers = a.cfg.General.MaxWorkers
	}
	pass := &retry.Pass{
		Chat:       a.client,
		Workspaces: a.ws,
		Prompts:    a.prompts,
		Store:      a.store,
		PatchesDir: a.cfg.General.PatchesDir,
		Workers:    workers,
		Logger:     a.log,
	}

	before := fr.EvalMetrics.PassAt1Pct
	improved, err := pass.Run(ctx, fr.Results, instances)
	if err != nil {
		return err
	}

	fr.EvalMetrics = runner.ComputePassAt1(fr.Results, instances)
	fr.GeneratedAt = time.Now().UTC()
	stats := a.client.Stats()
	stats.TotalCalls += fr.LLMStats.TotalCalls
	stats.TotalPromptTokens += fr.LLMStats.TotalPromptTokens
	stats.TotalCompletionTokens += fr.LLMStats.TotalCompletionTokens
	stats.TotalTokens += fr.LLMStats.TotalTokens
	fr.LLMStats = runner.NewLLMStats(stats, a.cfg.LLM.PricePerMillion)

	if err := runner.WriteJSON(path, fr); err != nil {
		return err
	}
	if err := runner.WriteReport(a.outputPath(runner.ReportFile), a.cfg.LLM.Model, fr, nil); err != nil {
		return err
	}

	fmt.Printf("Retry improved %d instance(s)\n", improved)
	fmt.Printf("Pass@1 (proxy): %.2f%% -> %.2f%%\n", before, fr.EvalMetrics.PassAt1Pct)
	printEvalSummary(fr, path)
	return nil
}
