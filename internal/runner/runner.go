// Package runner executes strategies over task instances, checkpoints their
// results and aggregates evaluation metrics.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/hochfrequenz/swe-orchestrator/internal/checkpoint"
	"github.com/hochfrequenz/swe-orchestrator/internal/domain"
	"github.com/hochfrequenz/swe-orchestrator/internal/llm"
	"github.com/hochfrequenz/swe-orchestrator/internal/observer"
	"github.com/hochfrequenz/swe-orchestrator/internal/patch"
	"github.com/hochfrequenz/swe-orchestrator/internal/strategy"
	"github.com/hochfrequenz/swe-orchestrator/internal/workspace"
)

var tracer = otel.Tracer("github.com/hochfrequenz/swe-orchestrator/internal/runner")

// Workspaces provides isolated checkouts for attempts
type Workspaces interface {
	Prepare(ctx context.Context, inst domain.TaskInstance) (*workspace.Workspace, error)
	Remove(ctx context.Context, ws *workspace.Workspace) error
}

// ResultCallback is invoked once per finished attempt, from the coordinating goroutine
type ResultCallback func(res domain.SolveResult)

// Config wires a Runner
type Config struct {
	Chat       llm.Sender
	Workspaces Workspaces
	Store      checkpoint.Store
	Strategy   strategy.Options
	PatchesDir string
	Observer   *observer.Observer
	// CheckApply dry-runs every valid patch against the base revision
	CheckApply bool
	Logger     *slog.Logger
	OnResult   ResultCallback
}

// Runner solves instances with a chosen strategy
type Runner struct {
	chat       llm.Sender
	workspaces Workspaces
	store      checkpoint.Store
	opts       strategy.Options
	patchesDir string
	observer   *observer.Observer
	checkApply bool
	log        *slog.Logger
	onResult   ResultCallback

	mu      sync.Mutex
	solvers map[domain.Strategy]strategy.Solver
}

// New creates a Runner
func New(cfg Config) (*Runner, error) {
	if cfg.Chat == nil {
		return nil, errors.New("runner: chat client is required")
	}
	if cfg.Workspaces == nil {
		return nil, errors.New("runner: workspace manager is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Observer == nil {
		cfg.Observer = observer.New(30 * time.Minute)
	}
	if cfg.Strategy.Logger == nil {
		cfg.Strategy.Logger = cfg.Logger
	}
	if cfg.PatchesDir != "" {
		if err := os.MkdirAll(cfg.PatchesDir, 0755); err != nil {
			return nil, fmt.Errorf("creating patches dir: %w", err)
		}
	}
	return &Runner{
		chat:       cfg.Chat,
		workspaces: cfg.Workspaces,
		store:      cfg.Store,
		opts:       cfg.Strategy,
		patchesDir: cfg.PatchesDir,
		observer:   cfg.Observer,
		checkApply: cfg.CheckApply,
		log:        cfg.Logger,
		onResult:   cfg.OnResult,
		solvers:    make(map[domain.Strategy]strategy.Solver),
	}, nil
}

// Observer returns the attempt tracker
func (r *Runner) Observer() *observer.Observer { return r.observer }

func (r *Runner) solver(name domain.Strategy) (strategy.Solver, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.solvers[name]; ok {
		return s, nil
	}
	s, err := strategy.New(name, r.opts)
	if err != nil {
		return nil, err
	}
	r.solvers[name] = s
	return s, nil
}

// Solve runs one attempt. It never returns an error: every failure is
// recorded on the result so that sibling attempts are unaffected.
func (r *Runner) Solve(ctx context.Context, inst domain.TaskInstance, name domain.Strategy) (res domain.SolveResult) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "runner.Solve")
	span.SetAttributes(
		attribute.String("instance", inst.InstanceID),
		attribute.String("repo", inst.Repo),
		attribute.String("strategy", string(name)),
	)
	r.observer.Start(inst, name)

	meter := llm.NewMeter(r.chat)
	defer func() {
		if p := recover(); p != nil {
			res = domain.Failed(inst, name, fmt.Sprintf("panic: %v", p))
		}
		res.ElapsedSeconds = roundTo(time.Since(start).Seconds(), 2)
		res.TokensUsed = meter.Usage().TotalTokens
		if res.Error != "" {
			span.SetStatus(codes.Error, res.Error)
		}
		span.SetAttributes(attribute.Bool("success", res.Success), attribute.Int("tokens", res.TokensUsed))
		span.End()
		r.observer.Finish(res)
		recordSolve(res)
	}()

	solver, err := r.solver(name)
	if err != nil {
		return domain.Failed(inst, name, err.Error())
	}

	ws, err := r.workspaces.Prepare(ctx, inst)
	if err != nil {
		r.log.Warn("workspace setup failed", "instance", inst.InstanceID, "error", err)
		return domain.Failed(inst, name, err.Error())
	}
	defer func() {
		// the attempt context may already be done; cleanup must still run
		if err := r.workspaces.Remove(context.WithoutCancel(ctx), ws); err != nil {
			r.log.Debug("workspace cleanup failed", "path", ws.Path, "error", err)
		}
	}()

	p, err := solver.Solve(ctx, meter, inst, ws.Path)
	if err != nil {
		r.log.Warn("solve failed", "instance", inst.InstanceID, "strategy", name, "error", err)
		return domain.Failed(inst, name, err.Error())
	}

	res = domain.SolveResult{
		InstanceID: inst.InstanceID,
		Repo:       inst.Repo,
		Patch:      p,
		Strategy:   name,
		Success:    p != "",
	}
	if p == "" {
		return res
	}

	if err := r.writePatch(inst.InstanceID, p); err != nil {
		r.log.Warn("writing patch file failed", "instance", inst.InstanceID, "error", err)
	}
	if r.checkApply && patch.ValidateSyntax(p).Valid {
		ok, msg := workspace.ApplyPatch(ctx, ws.Path, p)
		res.Applied = &ok
		if !ok {
			r.log.Debug("patch does not apply", "instance", inst.InstanceID, "message", msg)
		}
	}
	return res
}

// PatchPath returns where the patch file of an instance is written
func (r *Runner) PatchPath(instanceID string) string {
	return PatchPath(r.patchesDir, instanceID)
}

// PatchPath returns <dir>/<instance_id>.patch
func PatchPath(dir, instanceID string) string {
	return filepath.Join(dir, instanceID+".patch")
}

func (r *Runner) writePatch(instanceID, p string) error {
	if r.patchesDir == "" {
		return nil
	}
	return os.WriteFile(r.PatchPath(instanceID), []byte(p), 0644)
}
