package main

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/hochfrequenz/swe-orchestrator/internal/domain"
	"github.com/hochfrequenz/swe-orchestrator/internal/issues"
	"github.com/hochfrequenz/swe-orchestrator/internal/patch"
	"github.com/hochfrequenz/swe-orchestrator/internal/runner"
)

var (
	solveRepo        string
	solveProblem     string
	solveProblemFile string
	solveCommit      string
	solveID          string
	solveStrategy    string
	solveIssue       string
	solveComment     bool
	solveOutput      string

	expLimit      int
	expWorkers    int
	expStrategies []string
	expInstances  string
)

func init() {
	solveCmd := &cobra.Command{
		Use:   "solve",
		Short: "Solve a single issue",
		Example: `  swe-orch solve --repo astropy/astropy --commit 3832210 --problem "Off by one in range()"
  swe-orch solve --issue owner/repo#123 --strategy react --comment`,
		RunE: runSolve,
	}
	solveCmd.Flags().StringVar(&solveRepo, "repo", "", "repository as owner/name")
	solveCmd.Flags().StringVar(&solveProblem, "problem", "", "problem statement")
	solveCmd.Flags().StringVar(&solveProblemFile, "problem-file", "", "read the problem statement from a file")
	solveCmd.Flags().StringVar(&solveCommit, "commit", "", "base revision (default: remote HEAD)")
	solveCmd.Flags().StringVar(&solveID, "id", "", "instance id (default derived from repo)")
	solveCmd.Flags().StringVarP(&solveStrategy, "strategy", "s", string(domain.StrategyPlanSolve), "single_shot, plan_solve or react")
	solveCmd.Flags().StringVar(&solveIssue, "issue", "", "solve a live GitHub issue, e.g. owner/repo#123")
	solveCmd.Flags().BoolVar(&solveComment, "comment", false, "post a valid patch back to the issue")
	solveCmd.Flags().StringVarP(&solveOutput, "output", "o", "", "write the patch to this file instead of stdout")
	rootCmd.AddCommand(solveCmd)

	experimentCmd := &cobra.Command{
		Use:   "experiment",
		Short: "Compare strategies on a few instances",
		RunE:  runExperiment,
	}
	experimentCmd.Flags().IntVarP(&expLimit, "limit", "n", 5, "number of instances")
	experimentCmd.Flags().IntVarP(&expWorkers, "workers", "w", 2, "parallel attempts")
	experimentCmd.Flags().StringSliceVar(&expStrategies, "strategies", nil, "strategies to compare (default all)")
	experimentCmd.Flags().StringVar(&expInstances, "instances", "", "local instances file instead of the dataset")
	rootCmd.AddCommand(experimentCmd)
}

// solveInstance builds the instance from flags; issue refs are fetched separately
func solveInstance() (domain.TaskInstance, error) {
	problem := solveProblem
	if solveProblemFile != "" {
		data, err := os.ReadFile(solveProblemFile)
		if err != nil {
			return domain.TaskInstance{}, err
		}
		problem = string(data)
	}
	if solveRepo == "" || strings.TrimSpace(problem) == "" {
		return domain.TaskInstance{}, errors.New("--repo and --problem (or --problem-file) are required unless --issue is given")
	}
	id := solveID
	if id == "" {
		id = strings.ReplaceAll(solveRepo, "/", "__") + "-adhoc"
	}
	return domain.TaskInstance{
		InstanceID:       id,
		Repo:             solveRepo,
		BaseCommit:       solveCommit,
		ProblemStatement: problem,
	}, nil
}

func runSolve(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	name, err := domain.ParseStrategy(solveStrategy)
	if err != nil {
		return err
	}

	var (
		inst    domain.TaskInstance
		fetcher *issues.Fetcher
		number  int
	)
	if solveIssue != "" {
		repo, n, err := issues.ParseRef(solveIssue)
		if err != nil {
			return err
		}
		fetcher, number = issues.NewFetcher(repo), n
		issue, err := fetcher.Fetch(ctx, n)
		if err != nil {
			return err
		}
		inst = issue.ToInstance(solveCommit)
	} else if inst, err = solveInstance(); err != nil {
		return err
	}

	a, err := newApp(ctx, appOptions{chat: true})
	if err != nil {
		return err
	}
	defer a.close()

	r, err := a.newRunner(runner.Config{})
	if err != nil {
		return err
	}

	a.log.Info("solving", "instance", inst.InstanceID, "strategy", name)
	res := r.Solve(ctx, inst, name)

	v := patch.ValidateSyntax(res.Patch)
	a.log.Info("done", "valid", v.Valid, "tokens", res.TokensUsed, "elapsed_sec", res.ElapsedSeconds)
	if res.Error != "" {
		fmt.Fprintf(os.Stderr, "✗ %s: %s\n", inst.InstanceID, res.Error)
		return nil
	}
	if res.Patch == "" {
		fmt.Fprintf(os.Stderr, "✗ %s: no patch generated\n", inst.InstanceID)
		return nil
	}

	if solveOutput != "" {
		if err := os.WriteFile(solveOutput, []byte(res.Patch), 0644); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "patch written to %s\n", solveOutput)
	} else {
		fmt.Print(res.Patch)
		if !strings.HasSuffix(res.Patch, "\n") {
			fmt.Println()
		}
	}

	if solveComment && fetcher != nil {
		if !v.Valid {
			fmt.Fprintln(os.Stderr, "patch is not a valid diff; not commenting")
			return nil
		}
		if err := fetcher.PostComment(ctx, number, issues.FormatPatchComment(res)); err != nil {
			return fmt.Errorf("posting comment: %w", err)
		}
		fmt.Fprintf(os.Stderr, "commented on %s\n", solveIssue)
	}
	return nil
}

func runExperiment(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	strategies := domain.AllStrategies
	if len(expStrategies) > 0 {
		strategies = nil
		for _, s := range expStrategies {
			name, err := domain.ParseStrategy(strings.TrimSpace(s))
			if err != nil {
				return err
			}
			strategies = append(strategies, name)
		}
	}

	a, err := newApp(ctx, appOptions{chat: true})
	if err != nil {
		return err
	}
	defer a.close()

	instances, err := a.loadInstances(ctx, expInstances, nil, expLimit)
	if err != nil {
		return err
	}

	r, err := a.newRunner(runner.Config{})
	if err != nil {
		return err
	}
	exp, err := r.RunExperiment(ctx, instances, strategies, expWorkers)
	if err != nil {
		return err
	}

	path := a.outputPath(runner.ExperimentFile)
	if err := runner.WriteJSON(path, exp); err != nil {
		return err
	}
	printExperiment(exp)
	fmt.Printf("\nResults: %s\n", path)
	return nil
}

func printExperiment(exp *runner.Experiment) {
	names := make([]string, 0, len(exp.Metrics))
	for name := range exp.Metrics {
		names = append(names, string(name))
	}
	sort.Strings(names)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STRATEGY\tPATCH RATE\tVALID RATE\tAVG TOKENS\tAVG TIME\tERRORS")
	for _, name := range names {
		m := exp.Metrics[domain.Strategy(name)]
		fmt.Fprintf(w, "%s\t%.1f%%\t%.1f%%\t%.0f\t%.1fs\t%d\n",
			name, m.PatchRate*100, m.ValidPatchRate*100, m.AvgTokens, m.AvgTimeSec, len(m.Errors))
	}
	w.Flush()
	fmt.Printf("\nBest strategy: %s\n", exp.BestStrategy)
}
