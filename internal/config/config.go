package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"termwatch/internal/logger"
)

// DirEnvVar overrides the configuration directory.
const DirEnvVar = "TERMWATCH_DIR"

type Config struct {
	Worker     WorkerConfig     `yaml:"worker"`
	Output     OutputConfig     `yaml:"output"`
	Observer   ObserverConfig   `yaml:"observer"`
	Supervisor SupervisorConfig `yaml:"supervisor"`
	Hooks      HooksConfig      `yaml:"hooks"`
	Logging    logger.Config    `yaml:"logging"`
}

type WorkerConfig struct {
	// Path is the worker binary. Empty means this executable.
	Path         string        `yaml:"path"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	StopGrace    time.Duration `yaml:"stop_grace"`
}

type OutputConfig struct {
	CoalesceDelay time.Duration `yaml:"coalesce_delay"`
	CoalesceBytes int           `yaml:"coalesce_bytes"`
}

type ObserverConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	TailChars    int           `yaml:"tail_chars"`
}

type SupervisorConfig struct {
	StartAttempts   int           `yaml:"start_attempts"`
	StartRetryDelay time.Duration `yaml:"start_retry_delay"`
}

type HooksConfig struct {
	// Dir holds <tool>.jsonl hook logs. Empty means <config dir>/hooks.
	Dir string `yaml:"dir"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Worker: WorkerConfig{
			WriteTimeout: 3 * time.Second,
			StopGrace:    2 * time.Second,
		},
		Output: OutputConfig{
			CoalesceDelay: 8 * time.Millisecond,
			CoalesceBytes: 32 * 1024,
		},
		Observer: ObserverConfig{
			PollInterval: time.Second,
			TailChars:    400,
		},
		Supervisor: SupervisorConfig{
			StartAttempts:   5,
			StartRetryDelay: 300 * time.Millisecond,
		},
		Logging: logger.Config{Level: "info"},
	}
}

// ConfigDir returns the termwatch configuration directory: $TERMWATCH_DIR
// if set, otherwise ~/.termwatch/.
func ConfigDir() string {
	if dir := os.Getenv(DirEnvVar); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".termwatch")
	}
	return filepath.Join(home, ".termwatch")
}

// Load reads the config from <ConfigDir>/config.yaml.
// If the file does not exist, it returns the defaults with no error.
func Load() (*Config, error) {
	return LoadFrom(filepath.Join(ConfigDir(), "config.yaml"))
}

// LoadFrom reads the config from the given path. Keys missing from the file
// keep their default values. If the file does not exist, it returns the
// defaults with no error.
func LoadFrom(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// HooksDir resolves the hook log directory.
func (c *Config) HooksDir() string {
	if c.Hooks.Dir != "" {
		return c.Hooks.Dir
	}
	return filepath.Join(ConfigDir(), "hooks")
}

func (c *Config) validate() error {
	positive := []struct {
		name string
		d    time.Duration
	}{
		{"worker.write_timeout", c.Worker.WriteTimeout},
		{"worker.stop_grace", c.Worker.StopGrace},
		{"output.coalesce_delay", c.Output.CoalesceDelay},
		{"observer.poll_interval", c.Observer.PollInterval},
		{"supervisor.start_retry_delay", c.Supervisor.StartRetryDelay},
	}
	for _, p := range positive {
		if p.d <= 0 {
			return fmt.Errorf("%s: must be positive, got %s", p.name, p.d)
		}
	}
	if c.Output.CoalesceBytes <= 0 {
		return fmt.Errorf("output.coalesce_bytes: must be positive, got %d", c.Output.CoalesceBytes)
	}
	if c.Observer.TailChars <= 0 {
		return fmt.Errorf("observer.tail_chars: must be positive, got %d", c.Observer.TailChars)
	}
	if c.Supervisor.StartAttempts < 1 {
		return fmt.Errorf("supervisor.start_attempts: must be at least 1, got %d", c.Supervisor.StartAttempts)
	}
	switch c.Logging.Format {
	case "", "json", "console", "text":
	default:
		return fmt.Errorf("logging.format: unknown format %q", c.Logging.Format)
	}
	return nil
}
