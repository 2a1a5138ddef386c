package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const sampleConfig = `
[server]
port = 8080
host = "127.0.0.1"

[logging]
level = "debug"
format = "json"

[storage]
enabled = true

[gemini]
api_key = "file-key"
model = "gemini-2.0-flash-live-001"
voice = "Aoede"

[interview]
default_duration_minutes = 45
warning_before_minutes = 5
speech_start_threshold = 4.5
min_speaking_ms = 1500
silence_cooldown_ms = 2500
auto_advance_grace_seconds = 8

[session]
token_ttl_minutes = 10
max_concurrent = 5

[feedback]
enabled = true

[metrics]
enabled = true
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return path
}

func TestLoadParsesAllSections(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != 8080 || cfg.Server.Host != "127.0.0.1" {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("logging = %+v", cfg.Logging)
	}
	if !cfg.Storage.Enabled {
		t.Error("storage not enabled")
	}
	if cfg.Gemini.Voice != "Aoede" {
		t.Errorf("gemini voice = %q", cfg.Gemini.Voice)
	}
	if cfg.Interview.SpeechStartThreshold != 4.5 || cfg.Interview.MinSpeakingMs != 1500 {
		t.Errorf("interview tuning = %+v", cfg.Interview)
	}
	if cfg.Session.TokenTTLMin != 10 || cfg.Session.MaxConcurrent != 5 {
		t.Errorf("session = %+v", cfg.Session)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Fatal("Load accepted a missing file")
	}
}

func TestLoadEnvKeyWins(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "env-key")
	cfg, err := Load(writeConfig(t, sampleConfig))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Gemini.APIKey != "env-key" {
		t.Fatalf("api key = %q, want env-key", cfg.Gemini.APIKey)
	}
}

func TestValidateFillsDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.Server.Port = 8080
	cfg.Gemini.APIKey = "k"
	cfg.Storage.Enabled = true
	cfg.Feedback.Enabled = true
	cfg.Metrics.Enabled = true

	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate returned error: %v", err)
	}

	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("host default = %q", cfg.Server.Host)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "console" {
		t.Errorf("logging defaults = %+v", cfg.Logging)
	}
	if cfg.Storage.DBPath != "data/interviews.db" {
		t.Errorf("db path default = %q", cfg.Storage.DBPath)
	}
	if cfg.Gemini.Model != "gemini-2.0-flash-live-001" || cfg.Gemini.Voice != "Puck" {
		t.Errorf("gemini defaults = %+v", cfg.Gemini)
	}
	if cfg.Gemini.InputSampleRate != 16000 {
		t.Errorf("input sample rate default = %d", cfg.Gemini.InputSampleRate)
	}
	if cfg.Interview.DefaultDurationMin != 30 || cfg.Interview.WarningBeforeMin != 2 {
		t.Errorf("interview defaults = %+v", cfg.Interview)
	}
	if cfg.Feedback.Model != "gemini-2.0-flash" {
		t.Errorf("feedback model default = %q", cfg.Feedback.Model)
	}
	if cfg.Metrics.Namespace != "interview_engine" {
		t.Errorf("metrics namespace default = %q", cfg.Metrics.Namespace)
	}
}

func TestValidateRejectsBadInput(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero port", func(c *Config) { c.Server.Port = 0 }},
		{"port too large", func(c *Config) { c.Server.Port = 70000 }},
		{"missing api key", func(c *Config) { c.Gemini.APIKey = "" }},
		{"missing static dir", func(c *Config) { c.Server.StaticFilesDir = "/does/not/exist" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{}
			cfg.Server.Port = 8080
			cfg.Gemini.APIKey = "k"
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("Validate accepted invalid config")
			}
		})
	}
}

func TestValidateClampsWarningWindow(t *testing.T) {
	cfg := &Config{}
	cfg.Server.Port = 8080
	cfg.Gemini.APIKey = "k"
	cfg.Interview.DefaultDurationMin = 10
	cfg.Interview.WarningBeforeMin = 15 // longer than the interview itself

	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate returned error: %v", err)
	}
	if cfg.Interview.WarningBeforeMin != 2 {
		t.Fatalf("warning window = %d, want 2", cfg.Interview.WarningBeforeMin)
	}
}

func TestTuningOverridesAndFallbacks(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	tuning := cfg.Tuning()
	if tuning.SpeechStartThreshold != 4.5 {
		t.Errorf("SpeechStartThreshold = %v, want 4.5", tuning.SpeechStartThreshold)
	}
	if tuning.MinSpeaking != 1500*time.Millisecond {
		t.Errorf("MinSpeaking = %v, want 1.5s", tuning.MinSpeaking)
	}
	if tuning.SilenceCooldown != 2500*time.Millisecond {
		t.Errorf("SilenceCooldown = %v, want 2.5s", tuning.SilenceCooldown)
	}
	if tuning.AutoAdvanceGrace != 8*time.Second {
		t.Errorf("AutoAdvanceGrace = %v, want 8s", tuning.AutoAdvanceGrace)
	}

	// Unset values keep the production defaults.
	if tuning.ManualEndDelay != 2*time.Second {
		t.Errorf("ManualEndDelay = %v, want default 2s", tuning.ManualEndDelay)
	}
	if tuning.ForceFlushCount != 5 {
		t.Errorf("ForceFlushCount = %v, want default 5", tuning.ForceFlushCount)
	}
	if tuning.ChunkQuiescence != time.Second {
		t.Errorf("ChunkQuiescence = %v, want default 1s", tuning.ChunkQuiescence)
	}
}

func TestSessionDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate returned error: %v", err)
	}

	defaults := cfg.SessionDefaults()
	if defaults.Model != "gemini-2.0-flash-live-001" || defaults.Voice != "Aoede" {
		t.Errorf("defaults = %+v", defaults)
	}
	if defaults.MaxDuration != 45*time.Minute {
		t.Errorf("MaxDuration = %v, want 45m", defaults.MaxDuration)
	}
	if defaults.WarningAfter != 40*time.Minute {
		t.Errorf("WarningAfter = %v, want 40m", defaults.WarningAfter)
	}
}

func TestLoadWithFallbackPrefersExplicitPath(t *testing.T) {
	path := writeConfig(t, sampleConfig)
	cfg, err := LoadWithFallback(path)
	if err != nil {
		t.Fatalf("LoadWithFallback returned error: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Fatalf("port = %d, want 8080", cfg.Server.Port)
	}
}
