package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "run.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Population() != 100 || cfg.ContactRate != 5 || cfg.InfectionRate != 0.1 || cfg.Days != 50 {
		t.Errorf("defaults = %+v", cfg)
	}
	if cfg.Oracle.RetryDelay != time.Minute {
		t.Errorf("retry delay = %v, want 1m", cfg.Oracle.RetryDelay)
	}
}

func TestLoadFromFileOverlaysDefaults(t *testing.T) {
	t.Setenv("TEST_DEWBERRY_KEY", "sk-test-1234567890")
	path := writeConfig(t, `
name: trial
runs: 3
contact_rate: 8
infection_rate: 0.25
resume:
  run: 2
  offset: 8
oracle:
  provider: openai
  api_key: ${TEST_DEWBERRY_KEY}
  retry_delay: 5s
api:
  port: 8080
`)

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Name != "trial" || cfg.Runs != 3 || cfg.ContactRate != 8 || cfg.InfectionRate != 0.25 {
		t.Errorf("file values not applied: %+v", cfg)
	}
	if cfg.InitialHealthy != 98 || cfg.Days != 50 {
		t.Errorf("defaults lost: healthy=%d days=%d", cfg.InitialHealthy, cfg.Days)
	}
	if cfg.Resume.Run != 2 || cfg.Resume.Offset != 8 {
		t.Errorf("resume = %+v", cfg.Resume)
	}
	if cfg.Oracle.APIKey != "sk-test-1234567890" {
		t.Errorf("api key = %q, want expanded value", cfg.Oracle.APIKey)
	}
	if cfg.Oracle.RetryDelay != 5*time.Second {
		t.Errorf("retry delay = %v", cfg.Oracle.RetryDelay)
	}
	if cfg.API.Port != 8080 {
		t.Errorf("port = %d", cfg.API.Port)
	}
	if err := cfg.Validate(); err != nil {
		t.Error(err)
	}
}

func TestLoadFromFileErrors(t *testing.T) {
	if _, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("missing file accepted")
	}
	if _, err := LoadFromFile(writeConfig(t, "runs: [1, 2")); err == nil {
		t.Error("malformed yaml accepted")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("DEWBERRY_ORACLE_PROVIDER", "always-out")
	t.Setenv("DEWBERRY_SEED", "77")
	t.Setenv("DEWBERRY_API_PORT", "9090")
	t.Setenv("DEWBERRY_LOG_LEVEL", "debug")

	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Oracle.Provider != ProviderAlwaysOut || cfg.Seed != 77 || cfg.API.Port != 9090 || cfg.Log.Level != "debug" {
		t.Errorf("overrides not applied: %+v", cfg)
	}
}

func TestProviderKeyFromEnv(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-abcdefghijkl")
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	cfg.ResolveAPIKey()
	if cfg.Oracle.APIKey != "sk-ant-abcdefghijkl" {
		t.Errorf("api key = %q", cfg.Oracle.APIKey)
	}
	if s := cfg.Oracle.String(); strings.Contains(s, "abcdefghijkl") {
		t.Errorf("String leaks key: %s", s)
	}
}

func TestResolveAPIKeyFollowsProvider(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-AAAA")
	t.Setenv("OPENAI_API_KEY", "sk-openai-BBBB")

	tests := []struct {
		provider string
		preset   string
		want     string
	}{
		{ProviderAnthropic, "", "sk-ant-AAAA"},
		{ProviderOpenAI, "", "sk-openai-BBBB"},
		{ProviderOpenAI, "sk-from-file", "sk-from-file"},
		{ProviderAlwaysOut, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.provider, func(t *testing.T) {
			cfg, err := Load("")
			if err != nil {
				t.Fatal(err)
			}
			if cfg.Oracle.APIKey != "" {
				t.Fatalf("Load picked key %q before the provider was final", cfg.Oracle.APIKey)
			}
			cfg.Oracle.Provider = tt.provider
			cfg.Oracle.APIKey = tt.preset
			cfg.ResolveAPIKey()
			if cfg.Oracle.APIKey != tt.want {
				t.Errorf("api key = %q, want %q", cfg.Oracle.APIKey, tt.want)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*RunConfig)
	}{
		{"negative healthy", func(c *RunConfig) { c.InitialHealthy = -1 }},
		{"empty population", func(c *RunConfig) { c.InitialHealthy, c.InitialInfected = 0, 0 }},
		{"rate above one", func(c *RunConfig) { c.InfectionRate = 1.5 }},
		{"negative rate", func(c *RunConfig) { c.InfectionRate = -0.1 }},
		{"negative contacts", func(c *RunConfig) { c.ContactRate = -3 }},
		{"negative days", func(c *RunConfig) { c.Days = -1 }},
		{"zero healing", func(c *RunConfig) { c.HealingThreshold = 0 }},
		{"no runs", func(c *RunConfig) { c.Runs = 0 }},
		{"resume past runs", func(c *RunConfig) { c.Resume.Run = 2 }},
		{"path in name", func(c *RunConfig) { c.Name = "../x" }},
		{"unknown provider", func(c *RunConfig) { c.Oracle.Provider = "oracle-of-delphi" }},
		{"bad port", func(c *RunConfig) { c.API.Port = 70000 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); !errors.Is(err, ErrInvalid) {
				t.Errorf("Validate() = %v, want ErrInvalid", err)
			}
		})
	}

	cfg := Default()
	cfg.ContactRate = 500
	if err := cfg.Validate(); err != nil {
		t.Errorf("oversized contact rate should be clamped later, got %v", err)
	}
}
