package common

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Environment string          `toml:"environment"` // "development" or "production"
	Queue       QueueConfig     `toml:"queue"`
	Storage     StorageConfig   `toml:"storage"`
	Scanner     ScannerConfig   `toml:"scanner"`
	Scheduler   SchedulerConfig `toml:"scheduler"`
	Output      OutputConfig    `toml:"output"`
	Logging     LoggingConfig   `toml:"logging"`
}

// QueueConfig controls the job queue and worker pool
type QueueConfig struct {
	MaxWorkers   int    `toml:"max_workers" validate:"min=1,max=64"` // Number of concurrent workers
	MaxRetries   int    `toml:"max_retries" validate:"min=0,max=10"` // Retry bound for retriable failures
	PollInterval string `toml:"poll_interval"`                       // e.g., "500ms" - worker idle wake interval
}

// PollIntervalDuration parses the poll interval, falling back to the default
// when unset or unparsable.
func (q QueueConfig) PollIntervalDuration() time.Duration {
	if d, err := time.ParseDuration(q.PollInterval); err == nil && d > 0 {
		return d
	}
	return 500 * time.Millisecond
}

type StorageConfig struct {
	StateFile    string       `toml:"state_file" validate:"required"` // Canonical queue snapshot path
	MaxBackups   int          `toml:"max_backups" validate:"min=0,max=50"`
	SaveInterval string       `toml:"save_interval"` // Minimum interval between coalesced snapshot writes
	Badger       BadgerConfig `toml:"badger"`
}

// SaveIntervalDuration parses the snapshot save interval with a default.
func (s StorageConfig) SaveIntervalDuration() time.Duration {
	if d, err := time.ParseDuration(s.SaveInterval); err == nil && d > 0 {
		return d
	}
	return 2 * time.Second
}

// BadgerConfig represents BadgerDB-specific configuration for job log storage
type BadgerConfig struct {
	Path           string `toml:"path"`             // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
}

// ScannerConfig controls STL file discovery
type ScannerConfig struct {
	Extensions []string `toml:"extensions"` // Accepted file extensions (default: [".stl"])
	Recursive  bool     `toml:"recursive"`  // Walk subdirectories by default
}

// SchedulerConfig controls the optional watch-directory rescan
type SchedulerConfig struct {
	Enabled   bool     `toml:"enabled"`
	Schedule  string   `toml:"schedule"`   // Cron schedule format, e.g. "*/5 * * * *"
	WatchDirs []string `toml:"watch_dirs"` // Directories rescanned on each tick
	TaskKind  string   `toml:"task_kind"`  // Kind enqueued for newly discovered files
}

// OutputConfig controls where job artifacts are written
type OutputConfig struct {
	Directory string `toml:"directory" validate:"required"` // Root output directory; each job writes under <stem>/
}

type LoggingConfig struct {
	Level      string   `toml:"level"`       // "debug", "info", "warn", "error"
	Output     []string `toml:"output"`      // "stdout", "file"
	TimeFormat string   `toml:"time_format"` // Time format for logs (default: "15:04:05")
}

// NewDefaultConfig creates a configuration with default values
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Queue: QueueConfig{
			MaxWorkers:   2,
			MaxRetries:   2,
			PollInterval: "500ms",
		},
		Storage: StorageConfig{
			StateFile:    "./data/queue_state.json",
			MaxBackups:   5,
			SaveInterval: "2s",
			Badger: BadgerConfig{
				Path: "./data/joblogs",
			},
		},
		Scanner: ScannerConfig{
			Extensions: []string{".stl"},
			Recursive:  true,
		},
		Scheduler: SchedulerConfig{
			Enabled:  false,
			Schedule: "*/5 * * * *",
			TaskKind: "composite",
		},
		Output: OutputConfig{
			Directory: "./output",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Output:     []string{"stdout"},
			TimeFormat: "15:04:05",
		},
	}
}

// LoadFromFiles loads configuration from multiple TOML files in order.
// Later files override earlier files.
// Priority system: CLI flags > Environment variables > Last config file > ... > Defaults
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks the configuration against struct constraints
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// applyEnvOverrides applies MESHBATCH_* environment variable overrides
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("MESHBATCH_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	if workers := os.Getenv("MESHBATCH_QUEUE_MAX_WORKERS"); workers != "" {
		if n, err := strconv.Atoi(workers); err == nil && n > 0 {
			config.Queue.MaxWorkers = n
		}
	}

	if retries := os.Getenv("MESHBATCH_QUEUE_MAX_RETRIES"); retries != "" {
		if n, err := strconv.Atoi(retries); err == nil && n >= 0 {
			config.Queue.MaxRetries = n
		}
	}

	if stateFile := os.Getenv("MESHBATCH_STATE_FILE"); stateFile != "" {
		config.Storage.StateFile = stateFile
	}

	if outputDir := os.Getenv("MESHBATCH_OUTPUT_DIR"); outputDir != "" {
		config.Output.Directory = outputDir
	}

	if level := os.Getenv("MESHBATCH_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
}

// ApplyFlagOverrides applies command-line flag overrides (highest priority)
func ApplyFlagOverrides(config *Config, workers int, outputDir string) {
	if workers > 0 {
		config.Queue.MaxWorkers = workers
	}
	if outputDir != "" {
		config.Output.Directory = outputDir
	}
}
