package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Profile identifies one source/destination share pair.
type Profile struct {
	Name           string   `yaml:"name"`
	Source         string   `yaml:"source"`
	Destination    string   `yaml:"destination"`
	Username       string   `yaml:"username,omitempty"`
	UseSnapshot    bool     `yaml:"use_snapshot"`
	RemoteSnapshot bool     `yaml:"remote_snapshot"`
	Excludes       []string `yaml:"excludes,omitempty"`
}

// Config is the immutable configuration for one replication run. It is
// validated once at load time; the orchestration core never mutates it.
type Config struct {
	Profile Profile `yaml:"profile"`

	Concurrency   int   `yaml:"concurrency"`
	MaxChunkBytes int64 `yaml:"max_chunk_bytes"`
	MaxChunkFiles int64 `yaml:"max_chunk_files"`

	RetryMax         int           `yaml:"retry_max"`
	CircuitThreshold int           `yaml:"circuit_threshold"`
	CircuitWindow    time.Duration `yaml:"circuit_window"`

	StallTimeout    time.Duration `yaml:"stall_timeout"`
	KillGracePeriod time.Duration `yaml:"kill_grace_period"`

	TrackingDir   string `yaml:"tracking_dir"`
	CheckpointDir string `yaml:"checkpoint_dir"`

	// Extra flags appended to every copy-tool invocation.
	CopyFlags []string `yaml:"copy_flags,omitempty"`
}

// Default returns a Config with sane defaults for everything except the
// profile, which has no meaningful default.
func Default() Config {
	stateDir := filepath.Join(os.TempDir(), "sharesync")
	return Config{
		Concurrency:      4,
		MaxChunkBytes:    1 << 30, // 1 GiB
		MaxChunkFiles:    5000,
		RetryMax:         2,
		CircuitThreshold: 5,
		CircuitWindow:    5 * time.Minute,
		StallTimeout:     10 * time.Minute,
		KillGracePeriod:  15 * time.Second,
		TrackingDir:      stateDir,
		CheckpointDir:    stateDir,
	}
}

// Load reads and validates a YAML profile file.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("Load: error reading config %q -> %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("Load: error parsing config %q -> %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("Load: invalid config %q -> %w", path, err)
	}

	return &cfg, nil
}

// Validate checks every field the orchestration core depends on. The core
// treats a validated Config as trusted and does not re-check at use time.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Profile.Name) == "" {
		return fmt.Errorf("Validate: profile name is required")
	}
	if strings.TrimSpace(c.Profile.Source) == "" {
		return fmt.Errorf("Validate: profile source is required")
	}
	if strings.TrimSpace(c.Profile.Destination) == "" {
		return fmt.Errorf("Validate: profile destination is required")
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("Validate: concurrency must be >= 1, got %d", c.Concurrency)
	}
	if c.MaxChunkBytes < 1 {
		return fmt.Errorf("Validate: max_chunk_bytes must be >= 1, got %d", c.MaxChunkBytes)
	}
	if c.MaxChunkFiles < 1 {
		return fmt.Errorf("Validate: max_chunk_files must be >= 1, got %d", c.MaxChunkFiles)
	}
	if c.RetryMax < 0 {
		return fmt.Errorf("Validate: retry_max must be >= 0, got %d", c.RetryMax)
	}
	if c.CircuitThreshold < 1 {
		return fmt.Errorf("Validate: circuit_threshold must be >= 1, got %d", c.CircuitThreshold)
	}
	if c.CircuitWindow <= 0 {
		return fmt.Errorf("Validate: circuit_window must be positive, got %s", c.CircuitWindow)
	}
	if c.StallTimeout <= 0 {
		return fmt.Errorf("Validate: stall_timeout must be positive, got %s", c.StallTimeout)
	}
	if c.KillGracePeriod <= 0 {
		return fmt.Errorf("Validate: kill_grace_period must be positive, got %s", c.KillGracePeriod)
	}
	if strings.TrimSpace(c.TrackingDir) == "" {
		return fmt.Errorf("Validate: tracking_dir is required")
	}
	if strings.TrimSpace(c.CheckpointDir) == "" {
		return fmt.Errorf("Validate: checkpoint_dir is required")
	}
	return nil
}
