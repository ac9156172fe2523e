package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/hochfrequenz/swe-orchestrator/internal/checkpoint"
	"github.com/hochfrequenz/swe-orchestrator/internal/domain"
	"github.com/hochfrequenz/swe-orchestrator/internal/patch"
)

const (
	DefaultWorkers            = 3
	DefaultCheckpointInterval = 10
)

// BatchOptions controls one batch run
type BatchOptions struct {
	Workers            int
	CheckpointInterval int
	// RunID labels the run; a random one is generated when empty
	RunID string
}

func (o BatchOptions) withDefaults() BatchOptions {
	if o.Workers <= 0 {
		o.Workers = DefaultWorkers
	}
	if o.CheckpointInterval <= 0 {
		o.CheckpointInterval = DefaultCheckpointInterval
	}
	if o.RunID == "" {
		o.RunID = uuid.New().String()
	}
	return o
}

// runRecorder is implemented by stores that keep a run history
type runRecorder interface {
	RecordRun(r checkpoint.RunRecord) error
}

// RunBatch solves every instance not yet checkpointed for the strategy and
// returns the results for all instances, resumed ones included, in input order.
//
// Workers only produce results; this goroutine alone appends to the
// accumulator and writes checkpoints. A failed checkpoint write is fatal.
func (r *Runner) RunBatch(ctx context.Context, instances []domain.TaskInstance, name domain.Strategy, opts BatchOptions) ([]domain.SolveResult, error) {
	opts = opts.withDefaults()
	if _, err := r.solver(name); err != nil {
		return nil, err
	}
	log := r.log.With("strategy", name, "run", opts.RunID)

	done := map[string]domain.SolveResult{}
	if r.store != nil {
		prior, err := r.store.All(name)
		if err != nil {
			return nil, fmt.Errorf("loading checkpoint: %w", err)
		}
		for _, res := range prior {
			done[res.InstanceID] = res
		}
	}

	var pending []domain.TaskInstance
	seen := make(map[string]bool, len(instances))
	for _, inst := range instances {
		if seen[inst.InstanceID] {
			continue
		}
		seen[inst.InstanceID] = true
		if _, ok := done[inst.InstanceID]; !ok {
			pending = append(pending, inst)
		}
	}
	if skipped := len(seen) - len(pending); skipped > 0 {
		log.Info("resuming from checkpoint", "done", skipped, "remaining", len(pending))
	}

	record := checkpoint.RunRecord{ID: opts.RunID, Strategy: name, StartedAt: time.Now(), Total: len(pending)}
	r.recordRun(record)

	results := r.pool(ctx, pending, name, opts.Workers)

	var (
		unsaved  []domain.SolveResult
		finished int
		flushErr error
	)
	flush := func() {
		if r.store == nil || len(unsaved) == 0 || flushErr != nil {
			return
		}
		if err := r.store.Put(unsaved...); err != nil {
			checkpointWrites.WithLabelValues("error").Inc()
			flushErr = fmt.Errorf("saving checkpoint: %w", err)
			return
		}
		checkpointWrites.WithLabelValues("ok").Inc()
		log.Debug("checkpoint saved", "entries", len(unsaved))
		unsaved = unsaved[:0]
	}

	for res := range results {
		done[res.InstanceID] = res
		unsaved = append(unsaved, res)
		finished++

		status := "✓"
		if !res.Success {
			status = "✗"
		}
		log.Info(fmt.Sprintf("[%d/%d] %s %s", finished, len(pending), status, res.InstanceID),
			"elapsed_sec", res.ElapsedSeconds, "tokens", res.TokensUsed)
		if res.Patch != "" {
			if v := patch.ValidateSyntax(res.Patch); !v.Valid {
				log.Warn("invalid patch", "instance", res.InstanceID, "has_hunk", v.HasHunkMarker, "has_changes", v.HasChanges)
			}
		}

		record.Generated += boolInt(res.Patch != "")
		record.Valid += boolInt(patch.ValidateSyntax(res.Patch).Valid)
		record.Failed += boolInt(res.Error != "")

		if r.onResult != nil {
			r.onResult(res)
		}
		if finished%opts.CheckpointInterval == 0 {
			flush()
		}
	}
	flush()

	record.FinishedAt = time.Now()
	r.recordRun(record)

	if flushErr != nil {
		return nil, flushErr
	}

	out := make([]domain.SolveResult, 0, len(seen))
	added := make(map[string]bool, len(seen))
	for _, inst := range instances {
		if added[inst.InstanceID] {
			continue
		}
		if res, ok := done[inst.InstanceID]; ok {
			out = append(out, res)
			added[inst.InstanceID] = true
		}
	}

	if err := ctx.Err(); err != nil {
		return out, err
	}
	log.Info("batch complete", "results", len(out), "generated", record.Generated, "valid", record.Valid, "failed", record.Failed)
	return out, nil
}

// pool solves instances with at most workers attempts in flight and streams
// results in completion order. The channel closes when all attempts are done.
func (r *Runner) pool(ctx context.Context, instances []domain.TaskInstance, name domain.Strategy, workers int) <-chan domain.SolveResult {
	results := make(chan domain.SolveResult)
	go func() {
		defer close(results)
		var g errgroup.Group
		g.SetLimit(workers)
		for _, inst := range instances {
			if ctx.Err() != nil {
				break
			}
			g.Go(func() error {
				if ctx.Err() != nil {
					return nil
				}
				res := r.Solve(ctx, inst, name)
				// attempts cut short by cancellation are retried on resume
				if ctx.Err() != nil {
					return nil
				}
				results <- res
				return nil
			})
		}
		_ = g.Wait()
	}()
	return results
}

func (r *Runner) recordRun(rec checkpoint.RunRecord) {
	rr, ok := r.store.(runRecorder)
	if !ok {
		return
	}
	if err := rr.RecordRun(rec); err != nil {
		r.log.Debug("recording run failed", "run", rec.ID, "error", err)
	}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
