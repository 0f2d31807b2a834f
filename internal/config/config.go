// Package config loads run configuration from YAML files and environment
// variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Oracle providers.
const (
	ProviderAnthropic  = "anthropic"
	ProviderOpenAI     = "openai"
	ProviderAlwaysHome = "always-home"
	ProviderAlwaysOut  = "always-out"
)

// RunConfig contains all settings for a batch of simulation runs.
type RunConfig struct {
	// Name prefixes checkpoint and output files.
	Name string `json:"name" yaml:"name"`

	// Runs is the number of consecutive runs.
	Runs int `json:"runs" yaml:"runs"`

	InitialHealthy   int     `json:"initial_healthy" yaml:"initial_healthy"`
	InitialInfected  int     `json:"initial_infected" yaml:"initial_infected"`
	ContactRate      int     `json:"contact_rate" yaml:"contact_rate"`
	InfectionRate    float64 `json:"infection_rate" yaml:"infection_rate"`
	Days             int     `json:"days" yaml:"days"`
	HealingThreshold int     `json:"healing_threshold" yaml:"healing_threshold"`

	// Seed drives every random draw. Zero picks a fresh random seed.
	Seed uint64 `json:"seed" yaml:"seed"`
	// RandomOrgKey, when set, draws fresh seeds from random.org.
	// Supports ${VAR} syntax.
	RandomOrgKey string `json:"-" yaml:"random_org_key,omitempty"`

	CheckpointDir string `json:"checkpoint_dir" yaml:"checkpoint_dir"`
	OutputDir     string `json:"output_dir" yaml:"output_dir"`
	// IndexPath is the SQLite run index. Empty disables it.
	IndexPath string `json:"index_path" yaml:"index_path"`

	Resume ResumeConfig `json:"resume" yaml:"resume"`
	Oracle OracleConfig `json:"oracle" yaml:"oracle"`
	API    APIConfig    `json:"api" yaml:"api"`
	Log    LogConfig    `json:"log" yaml:"log"`
}

// ResumeConfig selects a checkpoint to continue from.
type ResumeConfig struct {
	// Run is the 1-based run number to resume. Zero starts fresh.
	Run int `json:"run" yaml:"run"`
	// Offset is the day whose checkpoint is loaded.
	Offset int `json:"offset" yaml:"offset"`
}

// OracleConfig configures the decision service.
type OracleConfig struct {
	// Provider is "anthropic", "openai", "always-home" or "always-out".
	Provider string `json:"provider" yaml:"provider"`
	Model    string `json:"model,omitempty" yaml:"model,omitempty"`
	// APIKey supports ${VAR} syntax for env vars.
	APIKey  string `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	BaseURL string `json:"base_url,omitempty" yaml:"base_url,omitempty"`

	RetryDelay    time.Duration `json:"retry_delay" yaml:"retry_delay"`
	Timeout       time.Duration `json:"timeout" yaml:"timeout"`
	RatePerMinute int           `json:"rate_per_minute" yaml:"rate_per_minute"`
	Concurrency   int           `json:"concurrency" yaml:"concurrency"`
}

// RedactedAPIKey returns the API key with most characters masked.
func (c OracleConfig) RedactedAPIKey() string {
	if c.APIKey == "" {
		return ""
	}
	if len(c.APIKey) < 12 {
		return "(set)"
	}
	return c.APIKey[:4] + "..." + c.APIKey[len(c.APIKey)-4:]
}

// String keeps the API key out of logs.
func (c OracleConfig) String() string {
	return fmt.Sprintf("OracleConfig{Provider:%s, Model:%s, APIKey:%s}", c.Provider, c.Model, c.RedactedAPIKey())
}

// APIConfig configures the read-only HTTP API.
type APIConfig struct {
	// Port 0 disables the server.
	Port int `json:"port" yaml:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level is "trace", "debug", "info", "warn" or "error".
	Level string `json:"level" yaml:"level"`
	// DecisionsDir receives compressed per-agent decision logs. Empty
	// disables them.
	DecisionsDir string `json:"decisions_dir" yaml:"decisions_dir"`
}

// Default returns a RunConfig with the stock scenario.
func Default() *RunConfig {
	return &RunConfig{
		Name:             "GABM",
		Runs:             1,
		InitialHealthy:   98,
		InitialInfected:  2,
		ContactRate:      5,
		InfectionRate:    0.1,
		Days:             50,
		HealingThreshold: 6,
		CheckpointDir:    "checkpoint",
		OutputDir:        "output",
		Oracle: OracleConfig{
			Provider:      ProviderAnthropic,
			RetryDelay:    60 * time.Second,
			Timeout:       30 * time.Second,
			RatePerMinute: 50,
			Concurrency:   8,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads path (if non-empty) over the defaults, then applies
// environment overrides. The provider API key is left to ResolveAPIKey so
// that later overrides of the provider pick the matching key.
func Load(path string) (*RunConfig, error) {
	cfg := Default()
	if path != "" {
		fileCfg, err := LoadFromFile(path)
		if err != nil {
			return nil, err
		}
		cfg = fileCfg
	}
	applyEnvOverrides(cfg)
	return cfg, nil
}

// LoadFromFile loads configuration from a YAML file over the defaults.
func LoadFromFile(path string) (*RunConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	cfg.Oracle.APIKey = expandEnvVars(cfg.Oracle.APIKey)
	cfg.RandomOrgKey = expandEnvVars(cfg.RandomOrgKey)
	return cfg, nil
}

// ResolveAPIKey fills an empty oracle API key from the environment variable
// of the selected provider. Call it once every override has been applied.
func (c *RunConfig) ResolveAPIKey() {
	if c.Oracle.APIKey != "" {
		return
	}
	switch c.Oracle.Provider {
	case ProviderAnthropic:
		c.Oracle.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	case ProviderOpenAI:
		c.Oracle.APIKey = os.Getenv("OPENAI_API_KEY")
	}
}

// Population is the total number of agents.
func (c *RunConfig) Population() int {
	return c.InitialHealthy + c.InitialInfected
}

// Validate checks that the configuration is usable.
func (c *RunConfig) Validate() error {
	if c.InitialHealthy < 0 || c.InitialInfected < 0 {
		return fmt.Errorf("%w: agent counts must be non-negative", ErrInvalid)
	}
	if c.Population() < 1 {
		return fmt.Errorf("%w: population must be at least 1", ErrInvalid)
	}
	if c.InfectionRate < 0 || c.InfectionRate > 1 {
		return fmt.Errorf("%w: infection_rate must be between 0 and 1, got %v", ErrInvalid, c.InfectionRate)
	}
	if c.ContactRate < 0 {
		return fmt.Errorf("%w: contact_rate must be non-negative, got %d", ErrInvalid, c.ContactRate)
	}
	if c.Days < 0 {
		return fmt.Errorf("%w: days must be non-negative, got %d", ErrInvalid, c.Days)
	}
	if c.HealingThreshold < 1 {
		return fmt.Errorf("%w: healing_threshold must be at least 1, got %d", ErrInvalid, c.HealingThreshold)
	}
	if c.Runs < 1 {
		return fmt.Errorf("%w: runs must be at least 1, got %d", ErrInvalid, c.Runs)
	}
	if c.Resume.Run < 0 || c.Resume.Run > c.Runs || c.Resume.Offset < 0 {
		return fmt.Errorf("%w: resume run %d offset %d out of range", ErrInvalid, c.Resume.Run, c.Resume.Offset)
	}
	if c.Name == "" || strings.ContainsAny(c.Name, `/\`) {
		return fmt.Errorf("%w: name %q must be a plain file name", ErrInvalid, c.Name)
	}

	switch c.Oracle.Provider {
	case ProviderAnthropic, ProviderOpenAI, ProviderAlwaysHome, ProviderAlwaysOut:
	default:
		return fmt.Errorf("%w: unknown oracle provider %q", ErrInvalid, c.Oracle.Provider)
	}
	if c.Oracle.RetryDelay < 0 || c.Oracle.Timeout < 0 || c.Oracle.RatePerMinute < 0 || c.Oracle.Concurrency < 0 {
		return fmt.Errorf("%w: oracle limits must be non-negative", ErrInvalid)
	}
	if c.API.Port < 0 || c.API.Port > 65535 {
		return fmt.Errorf("%w: api port %d", ErrInvalid, c.API.Port)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides to the config.
func applyEnvOverrides(cfg *RunConfig) {
	if v := os.Getenv("DEWBERRY_ORACLE_PROVIDER"); v != "" {
		cfg.Oracle.Provider = v
	}
	if v := os.Getenv("DEWBERRY_ORACLE_MODEL"); v != "" {
		cfg.Oracle.Model = v
	}
	if v := os.Getenv("DEWBERRY_SEED"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.Seed = n
		}
	}
	if v := os.Getenv("RANDOM_ORG_API_KEY"); v != "" && cfg.RandomOrgKey == "" {
		cfg.RandomOrgKey = v
	}
	if v := os.Getenv("DEWBERRY_API_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = n
		}
	}
	if v := os.Getenv("DEWBERRY_CHECKPOINT_DIR"); v != "" {
		cfg.CheckpointDir = v
	}
	if v := os.Getenv("DEWBERRY_INDEX_PATH"); v != "" {
		cfg.IndexPath = v
	}
	if v := os.Getenv("DEWBERRY_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
}

// expandEnvVars expands ${VAR} patterns with environment variable values.
func expandEnvVars(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return os.Expand(s, os.Getenv)
}
