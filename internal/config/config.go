// Package config loads and validates the docops TOML configuration,
// following the teacher's config package: a typed struct with toml tags,
// a Duration wrapper for human-friendly durations, and env-var overrides
// applied after parse.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Duration unmarshals from TOML strings like "20s" or "2m".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config is the full recognized configuration surface (spec.md §6).
type Config struct {
	General  General  `toml:"general"`
	API      API      `toml:"api"`
	OpenAI   OpenAI   `toml:"openai"`
	Executor Executor `toml:"executor"`
}

// General carries process-wide settings.
type General struct {
	DatabaseURL string `toml:"database_url"`
	AppEnv      string `toml:"app_env"`
	LogLevel    string `toml:"log_level"`
}

// API carries the HTTP server bind address.
type API struct {
	Bind string `toml:"bind"`
}

// OpenAI is passthrough config for an eventual extraction-tool backend;
// the core never calls out to OpenAI itself.
type OpenAI struct {
	APIKey string `toml:"api_key"`
	Model  string `toml:"model"`
}

// Executor carries the bounded executor's rate-limit and timeout knobs.
type Executor struct {
	RateLimitPerSec float64  `toml:"rate_limit_per_sec"`
	RateLimitBurst  int      `toml:"rate_limit_burst"`
	ToolTimeout     Duration `toml:"tool_timeout_s"`
}

// Load reads, parses, defaults, overrides from env, and validates a TOML
// config file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	var cfg Config
	if _, err := toml.Decode(string(data), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.General.DatabaseURL) == "" {
		cfg.General.DatabaseURL = "./docops.db"
	}
	if strings.TrimSpace(cfg.General.AppEnv) == "" {
		cfg.General.AppEnv = "dev"
	}
	if strings.TrimSpace(cfg.General.LogLevel) == "" {
		cfg.General.LogLevel = "info"
	}
	if strings.TrimSpace(cfg.API.Bind) == "" {
		cfg.API.Bind = ":8080"
	}
	if strings.TrimSpace(cfg.OpenAI.Model) == "" {
		cfg.OpenAI.Model = "gpt-4.1-mini"
	}
	if cfg.Executor.RateLimitPerSec == 0 {
		cfg.Executor.RateLimitPerSec = 5
	}
	if cfg.Executor.RateLimitBurst == 0 {
		cfg.Executor.RateLimitBurst = 10
	}
	if cfg.Executor.ToolTimeout.Duration == 0 {
		cfg.Executor.ToolTimeout.Duration = 20 * time.Second
	}
}

// applyEnvOverrides lets OPENAI_API_KEY / OPENAI_MODEL override [openai]
// fields after TOML load, per spec.md §6.
func applyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("OPENAI_API_KEY")); v != "" {
		cfg.OpenAI.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("OPENAI_MODEL")); v != "" {
		cfg.OpenAI.Model = v
	}
}

// Clone returns a deep copy, so a RWMutexManager reader never shares
// mutable state with the writer that reloaded it.
func (cfg *Config) Clone() *Config {
	if cfg == nil {
		return nil
	}
	c := *cfg
	return &c
}

func validate(cfg *Config) error {
	if strings.TrimSpace(cfg.General.DatabaseURL) == "" {
		return fmt.Errorf("general.database_url is required")
	}
	if strings.TrimSpace(cfg.API.Bind) == "" {
		return fmt.Errorf("api.bind is required")
	}
	if cfg.Executor.RateLimitPerSec <= 0 {
		return fmt.Errorf("executor.rate_limit_per_sec must be positive")
	}
	if cfg.Executor.RateLimitBurst <= 0 {
		return fmt.Errorf("executor.rate_limit_burst must be positive")
	}
	if cfg.Executor.ToolTimeout.Duration <= 0 {
		return fmt.Errorf("executor.tool_timeout_s must be positive")
	}
	return nil
}
