package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/hochfrequenz/swe-orchestrator/internal/batch"
	"github.com/hochfrequenz/swe-orchestrator/internal/domain"
	"github.com/hochfrequenz/swe-orchestrator/internal/observer"
	"github.com/hochfrequenz/swe-orchestrator/internal/runner"
	"github.com/hochfrequenz/swe-orchestrator/web/api"
)

var (
	servePort     int
	scheduleServe bool
)

func init() {
	rootCmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show checkpointed results per strategy",
		RunE:  runStatus,
	})

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the results API",
		RunE:  runServe,
	}
	serveCmd.Flags().IntVar(&servePort, "port", 0, "port to listen on (default from config)")
	rootCmd.AddCommand(serveCmd)

	scheduleCmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run the [[batch]] evaluations from the config on their cron schedules",
		RunE:  runSchedule,
	}
	scheduleCmd.Flags().BoolVar(&scheduleServe, "serve", false, "also serve the results API")
	rootCmd.AddCommand(scheduleCmd)

	rootCmd.AddCommand(&cobra.Command{
		Use:   "ping",
		Short: "Check that the chat backend is reachable",
		RunE:  runPing,
	})
}

func runStatus(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context(), appOptions{store: true})
	if err != nil {
		return err
	}
	defer a.close()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STRATEGY\tRESULTS\tPATCHES\tVALID\tFAILED")
	for _, name := range domain.AllStrategies {
		results, err := a.store.All(name)
		if err != nil {
			return err
		}
		s := runner.Summarize(results)
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\n", name, s.Total, s.Generated, s.Valid, s.Failed)
	}
	w.Flush()

	lister, ok := a.store.(api.RunLister)
	if !ok {
		return nil
	}
	runs, err := lister.ListRuns(5)
	if err != nil || len(runs) == 0 {
		return err
	}

	fmt.Println("\nRecent runs:")
	w = tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tSTRATEGY\tSTARTED\tDURATION\tTOTAL\tVALID\tFAILED")
	for _, r := range runs {
		duration := "running"
		if !r.FinishedAt.IsZero() {
			duration = r.FinishedAt.Sub(r.StartedAt).Round(time.Second).String()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%d\n",
			r.ID[:min(8, len(r.ID))], r.Strategy, r.StartedAt.Format("2006-01-02 15:04"), duration, r.Total, r.Valid, r.Failed)
	}
	return w.Flush()
}

func (a *app) apiServer(port int, obs *observer.Observer) *api.Server {
	if port == 0 {
		port = a.cfg.Web.Port
	}
	addr := fmt.Sprintf("%s:%d", a.cfg.Web.Host, port)
	return api.NewServer(a.store, obs, addr)
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context(), appOptions{store: true})
	if err != nil {
		return err
	}
	defer a.close()

	server := a.apiServer(servePort, nil)
	return server.Start(cmd.Context())
}

func runSchedule(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	sc, err := batch.LoadScheduleConfig(resolveConfigPath())
	if err != nil {
		return err
	}
	if len(sc.Batches) == 0 {
		return fmt.Errorf("no [[batch]] entries in %s", resolveConfigPath())
	}
	sched, err := batch.NewScheduler(sc.Batches)
	if err != nil {
		return err
	}

	a, err := newApp(ctx, appOptions{chat: true, store: true})
	if err != nil {
		return err
	}
	defer a.close()

	obs := observer.New(30 * time.Minute)
	var onResult runner.ResultCallback
	if scheduleServe {
		server := a.apiServer(0, obs)
		onResult = server.OnResult
		go func() {
			if err := server.Start(ctx); err != nil {
				a.log.Error("results API stopped", "error", err)
			}
		}()
	}

	for _, name := range sched.ListBatches() {
		bc, _ := sched.GetConfig(name)
		a.log.Info("batch scheduled", "batch", name, "cron", bc.Cron, "strategy", bc.Strategy, "next", sched.NextRun(name))
	}

	sched.Start(ctx, func(ctx context.Context, bc batch.BatchConfig) error {
		fr, err := a.evaluate(ctx, evalParams{
			strategy: bc.Strategy,
			workers:  bc.Workers,
			limit:    bc.Limit,
			retry:    bc.Retry,
			notify:   bc.NotifyOnComplete,
			outDir:   filepath.Join(a.cfg.General.OutputDir, bc.Name),
		}, obs, onResult)
		if err != nil {
			return err
		}
		a.log.Info("batch results", "batch", bc.Name, "pass_at_1_pct", fr.EvalMetrics.PassAt1Pct)
		return nil
	})
	return nil
}

func runPing(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context(), appOptions{chat: true})
	if err != nil {
		return err
	}
	defer a.close()

	start := time.Now()
	reply, err := a.client.Ping(cmd.Context())
	if err != nil {
		return fmt.Errorf("backend unreachable: %w", err)
	}
	fmt.Printf("%s at %s replied %q in %s\n", a.cfg.LLM.Model, a.cfg.LLM.BaseURL, reply, time.Since(start).Round(time.Millisecond))
	return nil
}
