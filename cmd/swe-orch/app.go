package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hochfrequenz/swe-orchestrator/internal/checkpoint"
	"github.com/hochfrequenz/swe-orchestrator/internal/config"
	"github.com/hochfrequenz/swe-orchestrator/internal/dataset"
	"github.com/hochfrequenz/swe-orchestrator/internal/domain"
	"github.com/hochfrequenz/swe-orchestrator/internal/llm"
	"github.com/hochfrequenz/swe-orchestrator/internal/notify"
	"github.com/hochfrequenz/swe-orchestrator/internal/prompts"
	"github.com/hochfrequenz/swe-orchestrator/internal/runner"
	"github.com/hochfrequenz/swe-orchestrator/internal/strategy"
	"github.com/hochfrequenz/swe-orchestrator/internal/telemetry"
	"github.com/hochfrequenz/swe-orchestrator/internal/workspace"
)

// app holds the collaborators shared by the subcommands
type app struct {
	cfg      *config.Config
	log      *slog.Logger
	client   *llm.Client
	store    checkpoint.Store
	prompts  *prompts.Loader
	ws       *workspace.Manager
	notifier notify.Notifier
	closers  []func() error
}

type appOptions struct {
	chat  bool
	store bool
}

// resolveConfigPath mirrors config.LoadWithLocalFallback
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	if local := config.FindLocalConfig(); local != "" {
		return local
	}
	return config.DefaultConfigPath()
}

// newApp loads config and opens what the command needs. Missing credentials
// or an unusable checkpoint location fail here, before any instance runs.
func newApp(ctx context.Context, o appOptions) (*app, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &app{
		cfg:      cfg,
		log:      slog.Default(),
		notifier: notify.New(cfg.Notifications),
	}

	var wsOpts []workspace.Option
	if base := strings.TrimRight(cfg.General.GitBaseURL, "/"); base != "" {
		wsOpts = append(wsOpts, workspace.WithURLResolver(func(repo string) string {
			return fmt.Sprintf("%s/%s.git", base, repo)
		}))
	}
	a.ws = workspace.NewManager(cfg.General.WorkDir, wsOpts...)

	shutdown, err := telemetry.Init(ctx, cfg.Telemetry, version)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	a.onClose(func() error {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return shutdown(sctx)
	})

	cwd, _ := os.Getwd()
	a.prompts = prompts.DefaultLoader(cwd, cfg.Prompts.OverrideDir)
	if cfg.Prompts.Watch {
		w, err := prompts.NewWatcher(a.prompts, func(files []string) {
			a.log.Info("prompt templates reloaded", "files", files)
		})
		if err != nil {
			a.log.Warn("prompt watcher disabled", "error", err)
		} else {
			w.Start(ctx)
			a.onClose(func() error { w.Stop(); return nil })
		}
	}

	if o.chat {
		key, err := cfg.APIKey()
		if err != nil {
			a.close()
			return nil, err
		}
		backend := llm.NewOpenAIBackend(cfg.LLM.BaseURL, key, cfg.LLM.RequestTimeout())
		a.client = llm.NewClient(backend, llm.Options{
			Model:             cfg.LLM.Model,
			MaxRetries:        cfg.LLM.MaxRetries,
			RetryDelay:        cfg.LLM.RetryDelay(),
			RequestTimeout:    cfg.LLM.RequestTimeout(),
			RequestsPerSecond: cfg.LLM.RequestsPerSecond,
			Logger:            a.log,
		})
	}

	if o.store {
		store, err := checkpoint.Open(cfg.Checkpoint)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("opening checkpoint store: %w", err)
		}
		a.store = store
		a.onClose(store.Close)
	}

	return a, nil
}

func (a *app) onClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

// close runs the closers in reverse order
func (a *app) close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *app) strategyOptions() strategy.Options {
	return strategy.Options{
		Prompts:          a.prompts,
		MaxIterations:    a.cfg.Agent.MaxIterations,
		ObservationLimit: a.cfg.Agent.ObservationLimit,
		ContextChars:     a.cfg.Agent.ContextChars,
		Temperature:      a.cfg.LLM.Temperature,
		Logger:           a.log,
	}
}

// newRunner fills in the shared collaborators; cfg carries per-command extras
func (a *app) newRunner(cfg runner.Config) (*runner.Runner, error) {
	cfg.Chat = a.client
	cfg.Workspaces = a.ws
	cfg.Store = a.store
	cfg.Strategy = a.strategyOptions()
	cfg.PatchesDir = a.cfg.General.PatchesDir
	cfg.Logger = a.log
	return runner.New(cfg)
}

// loadInstances reads a local instances file when given, else the configured dataset
func (a *app) loadInstances(ctx context.Context, file string, ids []string, limit int) ([]domain.TaskInstance, error) {
	var (
		instances []domain.TaskInstance
		err       error
	)
	if file != "" {
		instances, err = dataset.ReadFile(file)
	} else {
		ds := dataset.NewLoader(a.cfg.Dataset.Name, a.cfg.Dataset.Split, a.cfg.Dataset.CacheDir)
		instances, err = ds.Load(ctx, 0)
	}
	if err != nil {
		return nil, fmt.Errorf("loading instances: %w", err)
	}

	if len(ids) > 0 {
		if instances, err = dataset.Select(instances, ids); err != nil {
			return nil, err
		}
	}
	if limit > 0 && limit < len(instances) {
		instances = instances[:limit]
	}
	return instances, nil
}

func (a *app) outputPath(name string) string {
	return filepath.Join(a.cfg.General.OutputDir, name)
}
