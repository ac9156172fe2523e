package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Default()

	if cfg.General.MaxWorkers != 3 {
		t.Errorf("MaxWorkers = %d, want 3", cfg.General.MaxWorkers)
	}
	if cfg.Agent.MaxIterations != 12 {
		t.Errorf("MaxIterations = %d, want 12", cfg.Agent.MaxIterations)
	}
	if cfg.LLM.MaxRetries != 3 {
		t.Errorf("MaxRetries = %d, want 3", cfg.LLM.MaxRetries)
	}
	if cfg.Checkpoint.Backend != BackendSQLite {
		t.Errorf("Checkpoint.Backend = %q, want sqlite", cfg.Checkpoint.Backend)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default config should validate: %v", err)
	}
}

func TestLoad_FromFile(t *testing.T) {
	content := `
[general]
work_dir = "/test/repos"
max_workers = 5

[llm]
model = "test-model"
retry_delay_sec = 0.5
request_timeout_sec = 30

[checkpoint]
backend = "json"
interval = 4
`
	path := writeTempConfig(t, content)

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.General.WorkDir != "/test/repos" {
		t.Errorf("WorkDir = %q, want /test/repos", cfg.General.WorkDir)
	}
	if cfg.General.MaxWorkers != 5 {
		t.Errorf("MaxWorkers = %d, want 5", cfg.General.MaxWorkers)
	}
	if cfg.LLM.Model != "test-model" {
		t.Errorf("Model = %q, want test-model", cfg.LLM.Model)
	}
	if cfg.LLM.RetryDelay() != 500*time.Millisecond {
		t.Errorf("RetryDelay = %v, want 500ms", cfg.LLM.RetryDelay())
	}
	if cfg.LLM.RequestTimeout() != 30*time.Second {
		t.Errorf("RequestTimeout = %v, want 30s", cfg.LLM.RequestTimeout())
	}
	if cfg.Checkpoint.Backend != BackendJSON || cfg.Checkpoint.Interval != 4 {
		t.Errorf("Checkpoint = %+v", cfg.Checkpoint)
	}
	// Untouched sections keep defaults
	if cfg.Agent.ObservationLimit != 3000 {
		t.Errorf("ObservationLimit = %d, want 3000", cfg.Agent.ObservationLimit)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.General.MaxWorkers != 3 {
		t.Errorf("expected defaults for missing file")
	}
}

func TestLoad_InvalidTOML(t *testing.T) {
	path := writeTempConfig(t, "[general\nmax_workers = ")
	if _, err := Load(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"defaults", func(c *Config) {}, false},
		{"empty model", func(c *Config) { c.LLM.Model = "" }, true},
		{"zero workers", func(c *Config) { c.General.MaxWorkers = 0 }, true},
		{"zero retries", func(c *Config) { c.LLM.MaxRetries = 0 }, true},
		{"zero iterations", func(c *Config) { c.Agent.MaxIterations = 0 }, true},
		{"unknown backend", func(c *Config) { c.Checkpoint.Backend = "redis" }, true},
		{"badger backend", func(c *Config) { c.Checkpoint.Backend = BackendBadger }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestAPIKey(t *testing.T) {
	cfg := Default()
	cfg.LLM.APIKeyEnv = "SWE_ORCH_TEST_KEY"

	t.Setenv("SWE_ORCH_TEST_KEY", "")
	if _, err := cfg.APIKey(); err == nil {
		t.Error("expected error for empty key")
	}

	t.Setenv("SWE_ORCH_TEST_KEY", " sk-test ")
	key, err := cfg.APIKey()
	if err != nil {
		t.Fatal(err)
	}
	if key != "sk-test" {
		t.Errorf("APIKey() = %q, want sk-test", key)
	}
}

func TestExpandPath(t *testing.T) {
	home, _ := os.UserHomeDir()

	tests := []struct {
		input string
		want  string
	}{
		{"~/test", filepath.Join(home, "test")},
		{"/absolute/path", "/absolute/path"},
		{"relative", "relative"},
	}

	for _, tt := range tests {
		got := ExpandPath(tt.input)
		if got != tt.want {
			t.Errorf("ExpandPath(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestFindLocalConfig(t *testing.T) {
	root := t.TempDir()
	subdir := filepath.Join(root, "sub", "dir")
	if err := os.MkdirAll(subdir, 0755); err != nil {
		t.Fatal(err)
	}

	localConfig := filepath.Join(root, LocalConfigName)
	if err := os.WriteFile(localConfig, []byte("[general]\nwork_dir = \"/local\""), 0644); err != nil {
		t.Fatal(err)
	}

	origDir, _ := os.Getwd()
	defer os.Chdir(origDir)

	if err := os.Chdir(subdir); err != nil {
		t.Fatal(err)
	}

	// macOS tempdirs resolve through /private; compare resolved paths
	found, _ := filepath.EvalSymlinks(FindLocalConfig())
	want, _ := filepath.EvalSymlinks(localConfig)
	if found != want {
		t.Errorf("FindLocalConfig() = %q, want %q", found, want)
	}
}

func TestLoadWithLocalFallback_ExplicitPath(t *testing.T) {
	path := writeTempConfig(t, "[general]\nwork_dir = \"/explicit\"\n")

	cfg, err := LoadWithLocalFallback(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.General.WorkDir != "/explicit" {
		t.Errorf("WorkDir = %q, want /explicit", cfg.General.WorkDir)
	}
}

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}
