package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config is the process-wide configuration. It is loaded once at startup,
// validated, and read-only for the life of the service manager.
type Config struct {
	Server   ServerConfig   `json:"server"`
	Services ServicesConfig `json:"services"`
	Vector   VectorConfig   `json:"vector"`
	Graph    GraphConfig    `json:"graph"`
	Ollama   OllamaConfig   `json:"ollama"`
	Log      LogConfig      `json:"log"`
	Storage  StorageConfig  `json:"storage"`
}

type ServerConfig struct {
	Port int `json:"port"`
}

// ServicesConfig controls the background service manager: worker pool sizes,
// queue capacity, timeouts, and the retry policy shared by all services.
type ServicesConfig struct {
	WorkerCount      int    `json:"worker_count"`
	QueueSize        int    `json:"queue_size"`
	OperationTimeout string `json:"operation_timeout"`
	RetryDelay       string `json:"retry_delay"`
	MaxRetries       int    `json:"max_retries"`
	// OptimizeSchedule is a cron expression (with seconds) for periodic
	// index optimization. Empty disables the schedule.
	OptimizeSchedule string `json:"optimize_schedule"`
}

type VectorConfig struct {
	Enabled bool `json:"enabled"`
}

type GraphConfig struct {
	Enabled bool `json:"enabled"`
}

type OllamaConfig struct {
	BaseURL    string `json:"base_url"`
	EmbedModel string `json:"embed_model"`
}

type LogConfig struct {
	Level string `json:"level"`
}

type StorageConfig struct {
	DataDir string `json:"data_dir"`
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4600,
		},
		Services: ServicesConfig{
			WorkerCount:      2,
			QueueSize:        256,
			OperationTimeout: "30s",
			RetryDelay:       "1s",
			MaxRetries:       3,
			OptimizeSchedule: "0 0 3 * * *",
		},
		Vector: VectorConfig{Enabled: true},
		Graph:  GraphConfig{Enabled: true},
		Ollama: OllamaConfig{
			BaseURL:    "http://localhost:11434",
			EmbedModel: "nomic-embed-text",
		},
		Log:     LogConfig{Level: "info"},
		Storage: StorageConfig{DataDir: defaultDataDir()},
	}
}

func defaultDataDir() string {
	if dir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(dir, ".tasksync")
	}
	return ".tasksync"
}

// DefaultPath returns the config file location: $XDG_CONFIG_HOME/tasksync/config.json,
// falling back to ~/.config/tasksync/config.json.
func DefaultPath() string {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(".config", "tasksync", "config.json")
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "tasksync", "config.json")
}

// Load reads the config file at path (DefaultPath() if empty), applies
// defaults for missing fields and TASKSYNC_* environment overrides, and
// validates the result. A missing file is not an error: defaults apply.
func Load(path string) (Config, error) {
	if path == "" {
		path = DefaultPath()
	}

	cfg := defaults()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// First run: defaults only.
	default:
		return Config{}, fmt.Errorf("reading config %s: %w", path, err)
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Save writes the config as indented JSON, creating parent directories.
// Never called concurrently with manager operation.
func Save(path string, cfg Config) error {
	if path == "" {
		path = DefaultPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("TASKSYNC_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("TASKSYNC_DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("TASKSYNC_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("TASKSYNC_OLLAMA_URL"); v != "" {
		cfg.Ollama.BaseURL = v
	}
	if v := os.Getenv("TASKSYNC_WORKER_COUNT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Services.WorkerCount = n
		}
	}
}

// Validate checks structural invariants. A config failing Validate must not
// reach the service manager.
func (c Config) Validate() error {
	if c.Services.WorkerCount <= 0 {
		return fmt.Errorf("invalid config: worker_count must be positive, got %d", c.Services.WorkerCount)
	}
	if c.Services.QueueSize <= 0 {
		return fmt.Errorf("invalid config: queue_size must be positive, got %d", c.Services.QueueSize)
	}
	if c.Services.MaxRetries < 0 {
		return fmt.Errorf("invalid config: max_retries must not be negative, got %d", c.Services.MaxRetries)
	}
	if _, err := c.OperationTimeout(); err != nil {
		return fmt.Errorf("invalid config: operation_timeout: %w", err)
	}
	if _, err := c.RetryDelay(); err != nil {
		return fmt.Errorf("invalid config: retry_delay: %w", err)
	}
	return nil
}

// OperationTimeout parses the per-operation execution deadline.
func (c Config) OperationTimeout() (time.Duration, error) {
	d, err := time.ParseDuration(c.Services.OperationTimeout)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("must be positive, got %s", d)
	}
	return d, nil
}

// RetryDelay parses the base delay before a retried operation becomes eligible.
func (c Config) RetryDelay() (time.Duration, error) {
	d, err := time.ParseDuration(c.Services.RetryDelay)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("must not be negative, got %s", d)
	}
	return d, nil
}
