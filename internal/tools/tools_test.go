package tools

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActionParser(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		want   Call
		wantOK bool
	}{
		{"simple", "Thought: look\nAction: read_file(src/app.py)", Call{Name: "read_file", Args: "src/app.py"}, true},
		{"quoted", `Action: read_file("src/app.py")`, Call{Name: "read_file", Args: "src/app.py"}, true},
		{"two args", `Action:  grep_search ( "def foo", "pkg" )`, Call{Name: "grep_search", Args: `def foo", "pkg`}, true},
		{"finish", "Action: finish()", Call{Name: "finish"}, true},
		{"first wins", "Action: list_files(.)\nAction: read_file(x)", Call{Name: "list_files", Args: "."}, true},
		{"none", "I think the bug is in the parser.", Call{}, false},
	}

	var p ActionParser
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := p.Parse(tt.text)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSplitArgs(t *testing.T) {
	assert.Equal(t, []string{"def foo", "pkg"}, splitArgs(`def foo", "pkg`, 2))
	assert.Equal(t, []string{"a", "b, c"}, splitArgs("a, b, c", 2))
}

func newRepo(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	files := map[string]string{
		"pkg/models.py": `import os


@dataclass
class Model:
    def save(self):
        pass

    @property
    def name(self):
        return "m"


def helper():
    return 1
`,
		"pkg/util.py": "def slugify(value):\n    return value.lower()\n",
		"README.md":   "# readme\n",
	}
	for rel, content := range files {
		path := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	}
	return root
}

func TestExecutor_Tools(t *testing.T) {
	root := newRepo(t)
	e := NewExecutor(root, 0)
	ctx := context.Background()

	obs := e.Execute(ctx, Call{Name: ReadFile, Args: "pkg/util.py"})
	assert.Contains(t, obs, "def slugify")

	obs = e.Execute(ctx, Call{Name: ListFiles, Args: "."})
	assert.Equal(t, "pkg/models.py\npkg/util.py", obs)

	obs = e.Execute(ctx, Call{Name: GrepSearch, Args: `slugify", "pkg`})
	assert.Equal(t, "util.py:1:def slugify(value):", obs)

	obs = e.Execute(ctx, Call{Name: GetASTSummary, Args: "pkg/models.py"})
	assert.Equal(t, "class Model (line 5): save, name\ndef helper (line 14)", obs)
}

func TestExecutor_ErrorsBecomeObservations(t *testing.T) {
	root := newRepo(t)
	e := NewExecutor(root, 0)
	ctx := context.Background()

	obs := e.Execute(ctx, Call{Name: ReadFile, Args: "missing.py"})
	assert.True(t, strings.HasPrefix(obs, "Tool error:"), obs)

	obs = e.Execute(ctx, Call{Name: ReadFile, Args: "../../etc/passwd"})
	assert.Contains(t, obs, ErrOutsideRepo.Error())

	obs = e.Execute(ctx, Call{Name: "rm_rf", Args: "/"})
	assert.Equal(t, "unknown tool: rm_rf", obs)

	e.Register("boom", func(context.Context, string, string) (string, error) { panic("kaboom") })
	obs = e.Execute(ctx, Call{Name: "boom"})
	assert.Contains(t, obs, "kaboom")
}

func TestExecutor_TruncatesObservations(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "big.py"), []byte(strings.Repeat("a", 5000)), 0644))

	e := NewExecutor(root, 100)
	obs := e.Execute(context.Background(), Call{Name: ReadFile, Args: "big.py"})
	assert.Len(t, obs, 100)
}

func TestExecutor_TruncatesOnRuneBoundary(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "u.py"), []byte(strings.Repeat("a", 99)+"ééé"), 0644))

	e := NewExecutor(root, 100)
	obs := e.Execute(context.Background(), Call{Name: ReadFile, Args: "u.py"})
	assert.True(t, utf8.ValidString(obs))
	assert.Equal(t, strings.Repeat("a", 99), obs)
}

func TestExecutor_Names(t *testing.T) {
	e := NewExecutor(t.TempDir(), 0)
	assert.Equal(t, []string{Finish, GetASTSummary, GrepSearch, ListFiles, ReadFile}, e.Names())
}

func TestResolve(t *testing.T) {
	root := "/repo"
	p, err := Resolve(root, "a/b.py")
	require.NoError(t, err)
	assert.Equal(t, "/repo/a/b.py", p)

	p, err = Resolve(root, "/repo/c.py")
	require.NoError(t, err)
	assert.Equal(t, "/repo/c.py", p)

	_, err = Resolve(root, "/etc/passwd")
	assert.ErrorIs(t, err, ErrOutsideRepo)
	_, err = Resolve(root, "../x")
	assert.ErrorIs(t, err, ErrOutsideRepo)
}

func TestASTSummary_Empty(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "empty.py")
	require.NoError(t, os.WriteFile(path, []byte("X = 1\n"), 0644))

	got, err := ASTSummary(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "(empty or no classes/functions)", got)
}

func TestFormatListing(t *testing.T) {
	assert.Equal(t, "(no files found)", FormatListing(nil, false, 10))
	assert.Equal(t, "a.py\n... (truncated at 1 files)", FormatListing([]string{"a.py"}, true, 1))
}
