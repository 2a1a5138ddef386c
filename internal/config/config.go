package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/hireloop/interview-engine/internal/interview"
)

// Config represents the main application configuration structure
// containing all configuration sections
type Config struct {
	Server    ServerConfig    `toml:"server"`    // HTTP server settings
	Logging   LoggingConfig   `toml:"logging"`   // Application logging settings
	Storage   StorageConfig   `toml:"storage"`   // Data persistence settings
	Gemini    GeminiConfig    `toml:"gemini"`    // Generative speech model settings
	Interview InterviewConfig `toml:"interview"` // Interview session defaults and tuning
	Session   SessionConfig   `toml:"session"`   // Session lifecycle settings
	Feedback  FeedbackConfig  `toml:"feedback"`  // Post-interview feedback settings
	Metrics   MetricsConfig   `toml:"metrics"`   // Prometheus metrics settings
}

// ServerConfig contains HTTP server configuration settings
type ServerConfig struct {
	Port             int    `toml:"port"`                  // HTTP port for the server
	Host             string `toml:"host"`                  // Host address to bind to
	ReadTimeoutSecs  int    `toml:"read_timeout_seconds"`  // Maximum duration for reading the entire request (0 = no timeout)
	WriteTimeoutSecs int    `toml:"write_timeout_seconds"` // Maximum duration for writing the response (0 = no timeout, required for long-lived sockets)
	IdleTimeoutSecs  int    `toml:"idle_timeout_seconds"`  // Keep-alive idle timeout
	StaticFilesDir   string `toml:"static_files_dir"`      // Directory to serve the browser client from ("" disables)
}

// LoggingConfig contains application logging settings
type LoggingConfig struct {
	Level  string `toml:"level"`  // debug, info, warn, error
	Format string `toml:"format"` // console or json
}

// StorageConfig contains data persistence settings
type StorageConfig struct {
	Enabled bool   `toml:"enabled"` // Persist sessions and transcripts to SQLite
	DBPath  string `toml:"db_path"` // SQLite database file path
}

// GeminiConfig contains the generative speech model settings
type GeminiConfig struct {
	APIKey          string `toml:"api_key"`           // API key; the GEMINI_API_KEY env var takes precedence
	Model           string `toml:"model"`             // Live model name (e.g. gemini-2.0-flash-live-001)
	Voice           string `toml:"voice"`             // Default prebuilt voice name
	Host            string `toml:"host"`              // Override the live API host (for proxies)
	InputSampleRate int    `toml:"input_sample_rate"` // Microphone PCM sample rate sent upstream
	SetupTimeoutSec int    `toml:"setup_timeout_seconds"`
}

// InterviewConfig contains session defaults and the conversation tuning
// constants. Every threshold the engine uses is settable here.
type InterviewConfig struct {
	DefaultDurationMin int `toml:"default_duration_minutes"` // Interview length when the request does not set one
	WarningBeforeMin   int `toml:"warning_before_minutes"`   // How long before the end the time warning shows

	SpeechStartThreshold float64 `toml:"speech_start_threshold"` // Amplitude (0-255 scale) that counts as speech
	MinSpeakingMs        int     `toml:"min_speaking_ms"`        // Sustained speech required before silence tracking starts
	SilenceCooldownMs    int     `toml:"silence_cooldown_ms"`    // Continuous silence that ends a speaking turn
	ManualEndDelayMs     int     `toml:"manual_end_delay_ms"`    // Minimum speaking time before the manual override works
	ChunkQuiescenceMs    int     `toml:"chunk_quiescence_ms"`    // Audio chunk gap that triggers assembly
	ForceFlushCount      int     `toml:"force_flush_count"`      // Pending chunk count that forces assembly
	FlushIntervalMs      int     `toml:"flush_interval_ms"`      // How often flush conditions are checked
	AutoAdvanceGraceSec  int     `toml:"auto_advance_grace_seconds"` // Silence grace before the interviewer moves on
	WarningDisplaySec    int     `toml:"warning_display_seconds"`    // How long the time warning stays up
}

// SessionConfig contains session lifecycle settings
type SessionConfig struct {
	TokenTTLMin        int `toml:"token_ttl_minutes"`        // Connect token validity window
	RetentionMin       int `toml:"retention_minutes"`        // How long finished sessions stay in memory
	CleanupIntervalSec int `toml:"cleanup_interval_seconds"` // Sweep frequency
	MaxConcurrent      int `toml:"max_concurrent"`           // Concurrent session cap (0 = unlimited)
}

// FeedbackConfig contains post-interview feedback settings
type FeedbackConfig struct {
	Enabled    bool   `toml:"enabled"`
	Model      string `toml:"model"`           // Text model used for feedback generation
	TimeoutSec int    `toml:"timeout_seconds"` // Generation request timeout
}

// MetricsConfig contains Prometheus metrics settings
type MetricsConfig struct {
	Enabled   bool   `toml:"enabled"`
	Namespace string `toml:"namespace"` // Metric namespace prefix
}

// Load reads and parses the config file at the given path
func Load(path string) (*Config, error) {
	var config Config

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", path)
	}

	if _, err := toml.DecodeFile(path, &config); err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}

	// Environment always wins for credentials.
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		config.Gemini.APIKey = key
	}

	return &config, nil
}

// LoadWithFallback tries the preferred path first, then the usual locations
func LoadWithFallback(preferredPath string) (*Config, error) {
	searchPaths := []string{
		preferredPath,
		"configs/config.toml",
		"config.toml",
	}

	uniquePaths := make([]string, 0, len(searchPaths))
	seen := make(map[string]bool)
	for _, path := range searchPaths {
		if path != "" && !seen[path] {
			uniquePaths = append(uniquePaths, path)
			seen[path] = true
		}
	}

	var lastErr error
	for _, path := range uniquePaths {
		if _, err := os.Stat(path); err == nil {
			config, err := Load(path)
			if err != nil {
				lastErr = fmt.Errorf("failed to load config from %s: %w", path, err)
				continue
			}
			return config, nil
		}
		lastErr = fmt.Errorf("config file not found: %s", path)
	}

	return nil, fmt.Errorf("config file not found in any of the expected locations: %v. Last error: %w", uniquePaths, lastErr)
}

// Validate checks the configuration and fills in defaults
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.StaticFilesDir != "" {
		if _, err := os.Stat(c.Server.StaticFilesDir); os.IsNotExist(err) {
			return fmt.Errorf("static files directory does not exist: %s", c.Server.StaticFilesDir)
		}
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "console"
	}

	if c.Storage.Enabled && c.Storage.DBPath == "" {
		c.Storage.DBPath = "data/interviews.db"
	}

	if c.Gemini.APIKey == "" {
		return fmt.Errorf("gemini api_key is required (set it in the config or via GEMINI_API_KEY)")
	}
	if c.Gemini.Model == "" {
		c.Gemini.Model = "gemini-2.0-flash-live-001"
	}
	if c.Gemini.Voice == "" {
		c.Gemini.Voice = "Puck"
	}
	if c.Gemini.InputSampleRate <= 0 {
		c.Gemini.InputSampleRate = 16000
	}

	if c.Interview.DefaultDurationMin <= 0 {
		c.Interview.DefaultDurationMin = 30
	}
	if c.Interview.WarningBeforeMin <= 0 || c.Interview.WarningBeforeMin >= c.Interview.DefaultDurationMin {
		c.Interview.WarningBeforeMin = 2
	}
	if c.Feedback.Enabled && c.Feedback.Model == "" {
		c.Feedback.Model = "gemini-2.0-flash"
	}
	if c.Metrics.Enabled && c.Metrics.Namespace == "" {
		c.Metrics.Namespace = "interview_engine"
	}

	return nil
}

// Tuning converts the configured conversation constants to engine tuning,
// falling back to the defaults for anything unset.
func (c *Config) Tuning() interview.Tuning {
	t := interview.DefaultTuning()
	iv := c.Interview

	if iv.SpeechStartThreshold > 0 {
		t.SpeechStartThreshold = iv.SpeechStartThreshold
	}
	if iv.MinSpeakingMs > 0 {
		t.MinSpeaking = time.Duration(iv.MinSpeakingMs) * time.Millisecond
	}
	if iv.SilenceCooldownMs > 0 {
		t.SilenceCooldown = time.Duration(iv.SilenceCooldownMs) * time.Millisecond
	}
	if iv.ManualEndDelayMs > 0 {
		t.ManualEndDelay = time.Duration(iv.ManualEndDelayMs) * time.Millisecond
	}
	if iv.ChunkQuiescenceMs > 0 {
		t.ChunkQuiescence = time.Duration(iv.ChunkQuiescenceMs) * time.Millisecond
	}
	if iv.ForceFlushCount > 0 {
		t.ForceFlushCount = iv.ForceFlushCount
	}
	if iv.FlushIntervalMs > 0 {
		t.FlushInterval = time.Duration(iv.FlushIntervalMs) * time.Millisecond
	}
	if iv.AutoAdvanceGraceSec > 0 {
		t.AutoAdvanceGrace = time.Duration(iv.AutoAdvanceGraceSec) * time.Second
	}
	if iv.WarningDisplaySec > 0 {
		t.WarningDisplayTime = time.Duration(iv.WarningDisplaySec) * time.Second
	}

	return t
}

// SessionDefaults returns the per-session defaults new sessions start from.
func (c *Config) SessionDefaults() interview.SessionConfig {
	duration := time.Duration(c.Interview.DefaultDurationMin) * time.Minute
	return interview.SessionConfig{
		Model:        c.Gemini.Model,
		Voice:        c.Gemini.Voice,
		MaxDuration:  duration,
		WarningAfter: duration - time.Duration(c.Interview.WarningBeforeMin)*time.Minute,
	}
}
