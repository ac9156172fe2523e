package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hochfrequenz/swe-orchestrator/internal/checkpoint"
	"github.com/hochfrequenz/swe-orchestrator/internal/domain"
	"github.com/hochfrequenz/swe-orchestrator/internal/workspace"
)

const validPatch = `--- a/mod.py
+++ b/mod.py
@@ -1,1 +1,1 @@
-x = 1
+x = 2`

type fakeChat struct {
	mu    sync.Mutex
	reply string
	err   error
	calls int
}

func (f *fakeChat) Send(_ context.Context, _ []domain.Message, _ int, _ float32, _ ...string) (string, domain.Usage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return "", domain.Usage{}, f.err
	}
	return f.reply, domain.Usage{PromptTokens: 80, CompletionTokens: 20, TotalTokens: 100}, nil
}

func (f *fakeChat) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeWorkspaces hands out empty temp directories, or an initialised git
// checkout when git is set
type fakeWorkspaces struct {
	root string
	git  bool
	fail map[string]bool

	mu       sync.Mutex
	prepared []string
	removed  int
}

func (f *fakeWorkspaces) Prepare(_ context.Context, inst domain.TaskInstance) (*workspace.Workspace, error) {
	f.mu.Lock()
	f.prepared = append(f.prepared, inst.InstanceID)
	f.mu.Unlock()
	if f.fail[inst.InstanceID] {
		return nil, fmt.Errorf("%w: %s", workspace.ErrCloneFailed, inst.Repo)
	}
	dir, err := os.MkdirTemp(f.root, "ws-")
	if err != nil {
		return nil, err
	}
	if f.git {
		if err := os.WriteFile(filepath.Join(dir, "mod.py"), []byte("x = 1\n"), 0644); err != nil {
			return nil, err
		}
		if out, err := exec.Command("git", "-C", dir, "init", "-q").CombinedOutput(); err != nil {
			return nil, fmt.Errorf("git init: %s", out)
		}
	}
	return &workspace.Workspace{Path: dir}, nil
}

func (f *fakeWorkspaces) Remove(_ context.Context, ws *workspace.Workspace) error {
	f.mu.Lock()
	f.removed++
	f.mu.Unlock()
	return os.RemoveAll(ws.Path)
}

func (f *fakeWorkspaces) Prepared() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.prepared...)
}

func instances(n int) []domain.TaskInstance {
	out := make([]domain.TaskInstance, n)
	for i := range out {
		out[i] = domain.TaskInstance{
			InstanceID:       fmt.Sprintf("acme__lib-%02d", i),
			Repo:             "acme/lib",
			BaseCommit:       "abc",
			ProblemStatement: "Setting x has the wrong default value",
		}
	}
	return out
}

func newRunner(t *testing.T, chat *fakeChat, ws *fakeWorkspaces, store checkpoint.Store) *Runner {
	t.Helper()
	if ws.root == "" {
		ws.root = t.TempDir()
	}
	r, err := New(Config{
		Chat:       chat,
		Workspaces: ws,
		Store:      store,
		PatchesDir: filepath.Join(t.TempDir(), "patches"),
	})
	require.NoError(t, err)
	return r
}

func fenced(p string) string { return "Fix:\n```diff\n" + p + "\n```\n" }

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(Config{Workspaces: &fakeWorkspaces{}})
	assert.Error(t, err)
	_, err = New(Config{Chat: &fakeChat{}})
	assert.Error(t, err)
}

func TestSolve_Success(t *testing.T) {
	chat := &fakeChat{reply: fenced(validPatch)}
	ws := &fakeWorkspaces{}
	r := newRunner(t, chat, ws, nil)
	inst := instances(1)[0]

	res := r.Solve(context.Background(), inst, domain.StrategySingleShot)
	assert.True(t, res.Success)
	assert.Empty(t, res.Error)
	assert.Equal(t, validPatch, res.Patch)
	assert.Equal(t, "acme/lib", res.Repo)
	assert.Equal(t, 100, res.TokensUsed)
	assert.Nil(t, res.Applied)
	assert.Equal(t, 1, ws.removed)

	data, err := os.ReadFile(r.PatchPath(inst.InstanceID))
	require.NoError(t, err)
	assert.Equal(t, validPatch, string(data))

	metrics := r.Observer().GetMetrics()
	assert.Equal(t, 1, metrics.TotalCompleted)
	assert.Equal(t, 0, metrics.Running)
}

func TestSolve_WorkspaceFailureIsRecorded(t *testing.T) {
	chat := &fakeChat{reply: fenced(validPatch)}
	inst := instances(1)[0]
	r := newRunner(t, chat, &fakeWorkspaces{fail: map[string]bool{inst.InstanceID: true}}, nil)

	res := r.Solve(context.Background(), inst, domain.StrategySingleShot)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "clone failed")
	assert.Zero(t, chat.Calls())
	assert.NoFileExists(t, r.PatchPath(inst.InstanceID))
}

func TestSolve_ChatErrorIsRecorded(t *testing.T) {
	chat := &fakeChat{err: errors.New("exhausted retries")}
	r := newRunner(t, chat, &fakeWorkspaces{}, nil)

	res := r.Solve(context.Background(), instances(1)[0], domain.StrategyPlanSolve)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "exhausted retries")
	assert.Empty(t, res.Patch)
}

func TestSolve_EmptyPatchIsNotAnError(t *testing.T) {
	r := newRunner(t, &fakeChat{reply: "I could not find the bug."}, &fakeWorkspaces{}, nil)

	res := r.Solve(context.Background(), instances(1)[0], domain.StrategySingleShot)
	assert.False(t, res.Success)
	assert.Empty(t, res.Error)
	assert.Empty(t, res.Patch)
}

func TestSolve_UnknownStrategy(t *testing.T) {
	r := newRunner(t, &fakeChat{}, &fakeWorkspaces{}, nil)
	res := r.Solve(context.Background(), instances(1)[0], "zero_shot")
	assert.Contains(t, res.Error, "unknown strategy")
}

func TestSolve_CheckApply(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	ws := &fakeWorkspaces{git: true}
	ws.root = t.TempDir()
	r, err := New(Config{Chat: &fakeChat{reply: fenced(validPatch)}, Workspaces: ws, CheckApply: true})
	require.NoError(t, err)

	res := r.Solve(context.Background(), instances(1)[0], domain.StrategySingleShot)
	require.NotNil(t, res.Applied)
	assert.True(t, *res.Applied)
}

func TestRunBatch_ResumesFromCheckpoint(t *testing.T) {
	store, err := checkpoint.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	defer store.Close()

	all := instances(10)
	for _, inst := range all[:6] {
		require.NoError(t, store.Put(domain.SolveResult{
			InstanceID: inst.InstanceID, Repo: inst.Repo, Strategy: domain.StrategySingleShot,
		}))
	}

	chat := &fakeChat{reply: fenced(validPatch)}
	ws := &fakeWorkspaces{}
	r := newRunner(t, chat, ws, store)

	results, err := r.RunBatch(context.Background(), all, domain.StrategySingleShot, BatchOptions{Workers: 3, CheckpointInterval: 3})
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{all[6].InstanceID, all[7].InstanceID, all[8].InstanceID, all[9].InstanceID}, ws.Prepared())
	require.Len(t, results, 10)
	for i, res := range results {
		assert.Equal(t, all[i].InstanceID, res.InstanceID, "results follow input order")
	}
	assert.Empty(t, results[0].Patch)
	assert.Equal(t, validPatch, results[9].Patch)

	stored, err := store.All(domain.StrategySingleShot)
	require.NoError(t, err)
	assert.Len(t, stored, 10)

	runs, err := store.ListRuns(5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, 4, runs[0].Total)
	assert.Equal(t, 4, runs[0].Valid)
	assert.False(t, runs[0].FinishedAt.IsZero())

	// a second run has nothing left to do
	again, err := r.RunBatch(context.Background(), all, domain.StrategySingleShot, BatchOptions{})
	require.NoError(t, err)
	assert.Len(t, again, 10)
	assert.Len(t, ws.Prepared(), 4)
}

// countingStore records how often results are flushed
type countingStore struct {
	checkpoint.Store
	mu      sync.Mutex
	flushes []int
	failPut bool
}

func (c *countingStore) Put(results ...domain.SolveResult) error {
	c.mu.Lock()
	c.flushes = append(c.flushes, len(results))
	c.mu.Unlock()
	if c.failPut {
		return errors.New("disk full")
	}
	return c.Store.Put(results...)
}

func TestRunBatch_CheckpointsEveryInterval(t *testing.T) {
	inner, err := checkpoint.NewJSONStore(t.TempDir())
	require.NoError(t, err)
	store := &countingStore{Store: inner}

	r := newRunner(t, &fakeChat{reply: fenced(validPatch)}, &fakeWorkspaces{}, store)
	_, err = r.RunBatch(context.Background(), instances(5), domain.StrategyPlanSolve, BatchOptions{Workers: 2, CheckpointInterval: 2})
	require.NoError(t, err)

	assert.Equal(t, []int{2, 2, 1}, store.flushes)
}

func TestRunBatch_CheckpointFailureIsFatal(t *testing.T) {
	inner, err := checkpoint.NewJSONStore(t.TempDir())
	require.NoError(t, err)
	store := &countingStore{Store: inner, failPut: true}

	r := newRunner(t, &fakeChat{reply: fenced(validPatch)}, &fakeWorkspaces{}, store)
	_, err = r.RunBatch(context.Background(), instances(3), domain.StrategyPlanSolve, BatchOptions{Workers: 1, CheckpointInterval: 1})
	assert.ErrorContains(t, err, "disk full")
}

func TestRunBatch_FailuresDoNotStopSiblings(t *testing.T) {
	all := instances(4)
	ws := &fakeWorkspaces{fail: map[string]bool{all[1].InstanceID: true}}
	var seen []string
	r := newRunner(t, &fakeChat{reply: fenced(validPatch)}, ws, nil)
	r.onResult = func(res domain.SolveResult) { seen = append(seen, res.InstanceID) }

	results, err := r.RunBatch(context.Background(), all, domain.StrategySingleShot, BatchOptions{Workers: 2})
	require.NoError(t, err)
	require.Len(t, results, 4)
	assert.NotEmpty(t, results[1].Error)
	for _, i := range []int{0, 2, 3} {
		assert.True(t, results[i].Success, results[i].InstanceID)
	}
	assert.Len(t, seen, 4)
}

func TestRunBatch_DuplicateInstancesRunOnce(t *testing.T) {
	all := instances(2)
	all = append(all, all[0])
	ws := &fakeWorkspaces{}
	r := newRunner(t, &fakeChat{reply: fenced(validPatch)}, ws, nil)

	results, err := r.RunBatch(context.Background(), all, domain.StrategySingleShot, BatchOptions{})
	require.NoError(t, err)
	assert.Len(t, results, 2)
	assert.Len(t, ws.Prepared(), 2)
}

func TestRunBatch_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	store, err := checkpoint.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	defer store.Close()

	r := newRunner(t, &fakeChat{reply: fenced(validPatch)}, &fakeWorkspaces{}, store)
	_, err = r.RunBatch(ctx, instances(3), domain.StrategySingleShot, BatchOptions{})
	assert.ErrorIs(t, err, context.Canceled)

	stored, err := store.All(domain.StrategySingleShot)
	require.NoError(t, err)
	assert.Empty(t, stored, "interrupted attempts are not checkpointed")
}

func TestRunExperiment(t *testing.T) {
	chat := &fakeChat{reply: fenced(validPatch)}
	r := newRunner(t, chat, &fakeWorkspaces{}, nil)

	exp, err := r.RunExperiment(context.Background(), instances(3),
		[]domain.Strategy{domain.StrategySingleShot, domain.StrategyPlanSolve}, 2)
	require.NoError(t, err)

	require.Len(t, exp.Results[domain.StrategySingleShot], 3)
	require.Len(t, exp.Results[domain.StrategyPlanSolve], 3)
	assert.Equal(t, "acme__lib-00", exp.Results[domain.StrategyPlanSolve][0].InstanceID)
	// single_shot spends half the tokens of plan_solve
	assert.Equal(t, 100.0, exp.Metrics[domain.StrategySingleShot].AvgTokens)
	assert.Equal(t, 200.0, exp.Metrics[domain.StrategyPlanSolve].AvgTokens)
	assert.Equal(t, domain.StrategySingleShot, exp.BestStrategy)
	assert.Equal(t, 3+6, chat.Calls())
}

func TestWriteAndReadFullResults(t *testing.T) {
	dir := t.TempDir()
	results := []domain.SolveResult{{InstanceID: "a", Repo: "acme/lib", Patch: validPatch, Strategy: domain.StrategyReAct, Success: true}}
	fr := &FullResults{
		RunID:       "run-1",
		Strategy:    domain.StrategyReAct,
		EvalMetrics: ComputePassAt1(results, instances(2)),
		LLMStats:    NewLLMStats(domain.UsageStats{TotalCalls: 2, TotalTokens: 2_000_000}, 0.14),
		Results:     results,
	}
	path := filepath.Join(dir, "out", FullResultsFile)
	require.NoError(t, WriteJSON(path, fr))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	for _, key := range []string{`"run_id"`, `"eval_metrics"`, `"llm_stats"`, `"results"`, `"total_tokens"`, `"pass_at_1_proxy": 0.5`} {
		assert.Contains(t, string(raw), key)
	}

	got, err := ReadFullResults(path)
	require.NoError(t, err)
	assert.Equal(t, "run-1", got.RunID)
	assert.Equal(t, results, got.Results)
	assert.InDelta(t, 0.28, got.LLMStats.EstimatedCostUSD, 1e-9)

	report := filepath.Join(dir, ReportFile)
	require.NoError(t, WriteReport(report, "test-model", got, &Experiment{
		Metrics:      map[domain.Strategy]StrategyMetrics{domain.StrategyReAct: ComputeStrategyMetrics(results)},
		BestStrategy: domain.StrategyReAct,
	}))
	md, err := os.ReadFile(report)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(md), "# Evaluation Report"))
	assert.Contains(t, string(md), "**50.00%**")
	assert.Contains(t, string(md), "### REACT")
	assert.Contains(t, string(md), "| acme/lib | 1 | 1 | 1 |")
}
