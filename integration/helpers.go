//go:build integration

package integration

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
)

// TempConfigPath creates a temporary config file path for testing
func TempConfigPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "config.toml")
}

// createTestConfig writes a config rooted in base and returns its path
func createTestConfig(t *testing.T, base, chatURL, gitBase string) string {
	t.Helper()
	configPath := TempConfigPath(t)

	config := fmt.Sprintf(`[general]
work_dir = %[1]q
output_dir = %[2]q
patches_dir = %[3]q
git_base_url = %[4]q
max_workers = 2

[llm]
base_url = %[5]q
model = "test-model"
api_key_env = "SWE_ORCH_IT_KEY"
max_retries = 1
retry_delay_sec = 0

[checkpoint]
backend = "sqlite"
path = %[6]q
interval = 1

[notifications]
desktop = false
`,
		filepath.Join(base, "work"),
		filepath.Join(base, "analysis"),
		filepath.Join(base, "patches"),
		gitBase,
		chatURL,
		filepath.Join(base, "checkpoints.db"),
	)

	if err := os.WriteFile(configPath, []byte(config), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return configPath
}

// fakeChatServer answers every chat completion with reply and counts calls
func fakeChatServer(t *testing.T, reply string) (*httptest.Server, *int64) {
	t.Helper()
	var calls int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		atomic.AddInt64(&calls, 1)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id":      "cmpl-1",
			"object":  "chat.completion",
			"created": 1,
			"model":   "test-model",
			"choices": []map[string]any{{
				"index":         0,
				"message":       map[string]string{"role": "assistant", "content": reply},
				"finish_reason": "stop",
			}},
			"usage": map[string]int{"prompt_tokens": 40, "completion_tokens": 10, "total_tokens": 50},
		})
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

// createUpstreamRepo creates <root>/<repo>.git with one Python file and
// returns its HEAD commit
func createUpstreamRepo(t *testing.T, root, repo string) string {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}

	src := filepath.Join(t.TempDir(), "src")
	if err := os.MkdirAll(src, 0755); err != nil {
		t.Fatal(err)
	}
	code := "def add(a, b):\n    return a - b\n"
	if err := os.WriteFile(filepath.Join(src, "calc.py"), []byte(code), 0644); err != nil {
		t.Fatal(err)
	}
	gitRun(t, src, "init", "-q")
	gitRun(t, src, "add", ".")
	gitRun(t, src, "-c", "user.email=t@example.com", "-c", "user.name=t", "commit", "-q", "-m", "init")
	head := strings.TrimSpace(gitRun(t, src, "rev-parse", "HEAD"))

	bare := filepath.Join(root, repo+".git")
	if err := os.MkdirAll(filepath.Dir(bare), 0755); err != nil {
		t.Fatal(err)
	}
	gitRun(t, root, "clone", "-q", "--bare", src, bare)
	return head
}

func gitRun(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("git %v: %v\n%s", args, err, out)
	}
	return string(out)
}
