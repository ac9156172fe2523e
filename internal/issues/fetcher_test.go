package issues

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hochfrequenz/swe-orchestrator/internal/domain"
)

func fakeGH(out string, err error, calls *[][]string) commandRunner {
	return func(_ context.Context, args ...string) ([]byte, error) {
		*calls = append(*calls, args)
		return []byte(out), err
	}
}

func TestParseIssueFromGH(t *testing.T) {
	// Simulated gh issue view --json output
	jsonOutput := `{
		"number": 42,
		"title": "Add retry logic",
		"body": "We need retry logic for API calls",
		"labels": [{"name": "area:billing"}, {"name": "priority:high"}]
	}`

	issue, err := parseIssueFromJSON([]byte(jsonOutput), "acme/api")
	if err != nil {
		t.Fatalf("parseIssueFromJSON() error = %v", err)
	}

	if issue.Number != 42 {
		t.Errorf("Number = %v, want 42", issue.Number)
	}
	if issue.Title != "Add retry logic" {
		t.Errorf("Title = %v, want 'Add retry logic'", issue.Title)
	}
	assert.Equal(t, "acme__api-42", issue.InstanceID())
}

func TestFetcher_Fetch(t *testing.T) {
	var calls [][]string
	f := &Fetcher{repo: "acme/api", gh: fakeGH(`{"number": 7, "title": "Crash on empty input", "body": "Traceback ..."}`, nil, &calls)}

	issue, err := f.Fetch(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, "Crash on empty input", issue.Title)
	assert.Equal(t, "acme/api", issue.Repo)
	require.Len(t, calls, 1)
	assert.Equal(t, []string{"issue", "view", "7", "--repo", "acme/api", "--json", "number,title,body,labels"}, calls[0])

	inst := issue.ToInstance("")
	assert.Equal(t, "Crash on empty input\n\nTraceback ...", inst.ProblemStatement)
}

func TestFetcher_FetchLabeled(t *testing.T) {
	var calls [][]string
	f := &Fetcher{repo: "acme/api", gh: fakeGH(`[{"number": 1, "title": "a"}, {"number": 2, "title": "b"}]`, nil, &calls)}

	issues, err := f.FetchLabeled(context.Background(), "swe-orch", 0)
	require.NoError(t, err)
	require.Len(t, issues, 2)
	assert.Equal(t, 2, issues[1].Number)
	assert.Contains(t, strings.Join(calls[0], " "), "--label swe-orch")
	assert.Contains(t, strings.Join(calls[0], " "), "--limit 100")
}

func TestFetcher_Errors(t *testing.T) {
	var calls [][]string
	f := &Fetcher{repo: "acme/api", gh: fakeGH("", errors.New("not found"), &calls)}
	_, err := f.Fetch(context.Background(), 1)
	assert.Error(t, err)

	f = &Fetcher{repo: "acme/api", gh: fakeGH("not json", nil, &calls)}
	_, err = f.Fetch(context.Background(), 1)
	assert.ErrorContains(t, err, "parse gh output")
}

func TestParseRef(t *testing.T) {
	tests := []struct {
		ref     string
		repo    string
		number  int
		wantErr bool
	}{
		{"django/django#11099", "django/django", 11099, false},
		{"django/django", "", 0, true},
		{"django#1", "", 0, true},
		{"a/b#x", "", 0, true},
		{"a/b#0", "", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			repo, n, err := ParseRef(tt.ref)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.repo, repo)
			assert.Equal(t, tt.number, n)
		})
	}
}

func TestFormatPatchComment_SingleFile(t *testing.T) {
	res := domain.SolveResult{
		Strategy: domain.StrategyReAct,
		Patch:    "diff --git a/x.py b/x.py\n--- a/x.py\n+++ b/x.py\n@@ -1,1 +1,1 @@\n-a = 1\n+a = 2\n",
	}
	got := FormatPatchComment(res)
	assert.Contains(t, got, "strategy `react`")
	assert.Contains(t, got, "1 file(s), +1/-1")
	assert.Contains(t, got, "```diff\ndiff --git")
	assert.NotContains(t, got, "manual cleanup")

	empty := FormatPatchComment(domain.SolveResult{Strategy: domain.StrategySingleShot, Error: "timeout"})
	assert.Contains(t, empty, "No patch")
	assert.Contains(t, empty, "timeout")
}
