package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

// LocalConfigName is the project-local config file searched upwards from the cwd
const LocalConfigName = ".swe-orch.toml"

// Config holds all application configuration
type Config struct {
	General       GeneralConfig       `toml:"general"`
	LLM           LLMConfig           `toml:"llm"`
	Agent         AgentConfig         `toml:"agent"`
	Checkpoint    CheckpointConfig    `toml:"checkpoint"`
	Dataset       DatasetConfig       `toml:"dataset"`
	Prompts       PromptsConfig       `toml:"prompts"`
	Notifications NotificationsConfig `toml:"notifications"`
	Web           WebConfig           `toml:"web"`
	Telemetry     TelemetryConfig     `toml:"telemetry"`
}

// GeneralConfig holds directory layout and parallelism
type GeneralConfig struct {
	WorkDir    string `toml:"work_dir"`
	DataDir    string `toml:"data_dir"`
	OutputDir  string `toml:"output_dir"`
	PatchesDir string `toml:"patches_dir"`
	MaxWorkers int    `toml:"max_workers" validate:"min=1"`
	// GitBaseURL replaces https://github.com when cloning, e.g. a mirror
	GitBaseURL string `toml:"git_base_url"`
}

// LLMConfig holds chat backend settings
type LLMConfig struct {
	BaseURL           string  `toml:"base_url"`
	Model             string  `toml:"model" validate:"required"`
	APIKeyEnv         string  `toml:"api_key_env" validate:"required"`
	MaxTokens         int     `toml:"max_tokens" validate:"min=1"`
	Temperature       float32 `toml:"temperature" validate:"min=0,max=2"`
	RequestTimeoutSec int     `toml:"request_timeout_sec"`
	MaxRetries        int     `toml:"max_retries" validate:"min=1"`
	RetryDelaySec     float64 `toml:"retry_delay_sec" validate:"min=0"`
	RequestsPerSecond float64 `toml:"requests_per_second" validate:"min=0"`
	PricePerMillion   float64 `toml:"price_per_million"`
}

// AgentConfig holds strategy tuning knobs
type AgentConfig struct {
	MaxIterations    int `toml:"max_iterations" validate:"min=1"`
	ObservationLimit int `toml:"observation_limit" validate:"min=1"`
	ContextChars     int `toml:"context_chars"`
}

// CheckpointConfig selects the result store
type CheckpointConfig struct {
	Backend  string `toml:"backend" validate:"oneof=sqlite json badger"`
	Path     string `toml:"path"`
	Interval int    `toml:"interval"`
}

// DatasetConfig locates the benchmark instances
type DatasetConfig struct {
	Name     string `toml:"name"`
	Split    string `toml:"split"`
	CacheDir string `toml:"cache_dir"`
}

// PromptsConfig points at an optional template override directory
type PromptsConfig struct {
	OverrideDir string `toml:"override_dir"`
	Watch       bool   `toml:"watch"`
}

// NotificationsConfig holds notification settings
type NotificationsConfig struct {
	Desktop      bool   `toml:"desktop"`
	SlackWebhook string `toml:"slack_webhook"`
}

// WebConfig holds results API settings
type WebConfig struct {
	Port int    `toml:"port" validate:"min=0,max=65535"`
	Host string `toml:"host"`
}

// TelemetryConfig holds tracing settings
type TelemetryConfig struct {
	Enabled      bool   `toml:"enabled"`
	OTLPEndpoint string `toml:"otlp_endpoint"`
}

// Checkpoint backends
const (
	BackendSQLite = "sqlite"
	BackendJSON   = "json"
	BackendBadger = "badger"
)

// Default returns a Config with sensible defaults
func Default() *Config {
	home, _ := os.UserHomeDir()
	base := filepath.Join(home, ".swe-orch")
	return &Config{
		General: GeneralConfig{
			WorkDir:    filepath.Join(base, "repos"),
			DataDir:    filepath.Join(base, "data"),
			OutputDir:  filepath.Join(base, "analysis"),
			PatchesDir: filepath.Join(base, "patches"),
			MaxWorkers: 3,
		},
		LLM: LLMConfig{
			BaseURL:           "https://openrouter.ai/api/v1",
			Model:             "moonshotai/kimi-k2.5",
			APIKeyEnv:         "OPENROUTER_API_KEY",
			MaxTokens:         8192,
			Temperature:       0,
			RequestTimeoutSec: 120,
			MaxRetries:        3,
			RetryDelaySec:     5,
			PricePerMillion:   0.14,
		},
		Agent: AgentConfig{
			MaxIterations:    12,
			ObservationLimit: 3000,
			ContextChars:     8000,
		},
		Checkpoint: CheckpointConfig{
			Backend:  BackendSQLite,
			Path:     filepath.Join(base, "data", "checkpoints.db"),
			Interval: 10,
		},
		Dataset: DatasetConfig{
			Name:     "princeton-nlp/SWE-bench_Lite",
			Split:    "test",
			CacheDir: filepath.Join(base, "data"),
		},
		Notifications: NotificationsConfig{
			Desktop: false,
		},
		Web: WebConfig{
			Port: 8080,
			Host: "127.0.0.1",
		},
		Telemetry: TelemetryConfig{
			OTLPEndpoint: "http://127.0.0.1:4318",
		},
	}
}

// Load reads configuration from a TOML file, falling back to defaults
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	cfg.expandPaths()
	return cfg, nil
}

// LoadWithLocalFallback loads the explicit path if given, else a project-local
// config found upwards from the cwd, else the user config
func LoadWithLocalFallback(explicit string) (*Config, error) {
	if explicit != "" {
		return Load(explicit)
	}
	if local := FindLocalConfig(); local != "" {
		return Load(local)
	}
	return Load(DefaultConfigPath())
}

// FindLocalConfig walks up from the cwd looking for LocalConfigName
func FindLocalConfig() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		candidate := filepath.Join(dir, LocalConfigName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

func (c *Config) expandPaths() {
	c.General.WorkDir = ExpandPath(c.General.WorkDir)
	c.General.DataDir = ExpandPath(c.General.DataDir)
	c.General.OutputDir = ExpandPath(c.General.OutputDir)
	c.General.PatchesDir = ExpandPath(c.General.PatchesDir)
	c.Checkpoint.Path = ExpandPath(c.Checkpoint.Path)
	c.Dataset.CacheDir = ExpandPath(c.Dataset.CacheDir)
	c.Prompts.OverrideDir = ExpandPath(c.Prompts.OverrideDir)
}

var validate = validator.New()

// Validate checks the config for values that would make a run impossible
func (c *Config) Validate() error {
	if c.Checkpoint.Interval < 1 {
		c.Checkpoint.Interval = 10
	}
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("invalid config: %s fails %q (got %v)", fe.Namespace(), fe.Tag(), fe.Value())
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// APIKey loads .env (if present) and returns the key from the configured variable
func (c *Config) APIKey() (string, error) {
	_ = godotenv.Load() // missing .env is fine
	key := strings.TrimSpace(os.Getenv(c.LLM.APIKeyEnv))
	if key == "" {
		return "", fmt.Errorf("%s is not set (environment or .env)", c.LLM.APIKeyEnv)
	}
	return key, nil
}

// RequestTimeout returns the per-call timeout
func (c *LLMConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSec) * time.Second
}

// RetryDelay returns the base retry delay
func (c *LLMConfig) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelaySec * float64(time.Second))
}

// ExpandPath expands ~ to the user's home directory
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// DefaultConfigPath returns the default config file location
func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "swe-orch", "config.toml")
}
