package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	cfg := Default()
	cfg.Profile = Profile{
		Name:        "nightly-projects",
		Source:      `\\fileserver\projects`,
		Destination: `D:\replica\projects`,
	}
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"missing name", func(c *Config) { c.Profile.Name = " " }, "profile name"},
		{"missing source", func(c *Config) { c.Profile.Source = "" }, "profile source"},
		{"missing destination", func(c *Config) { c.Profile.Destination = "" }, "profile destination"},
		{"zero concurrency", func(c *Config) { c.Concurrency = 0 }, "concurrency"},
		{"zero chunk bytes", func(c *Config) { c.MaxChunkBytes = 0 }, "max_chunk_bytes"},
		{"zero chunk files", func(c *Config) { c.MaxChunkFiles = 0 }, "max_chunk_files"},
		{"negative retries", func(c *Config) { c.RetryMax = -1 }, "retry_max"},
		{"zero circuit threshold", func(c *Config) { c.CircuitThreshold = 0 }, "circuit_threshold"},
		{"zero circuit window", func(c *Config) { c.CircuitWindow = 0 }, "circuit_window"},
		{"zero stall timeout", func(c *Config) { c.StallTimeout = 0 }, "stall_timeout"},
		{"zero grace period", func(c *Config) { c.KillGracePeriod = 0 }, "kill_grace_period"},
		{"empty tracking dir", func(c *Config) { c.TrackingDir = "" }, "tracking_dir"},
		{"empty checkpoint dir", func(c *Config) { c.CheckpointDir = "" }, "checkpoint_dir"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "profile.yaml")

	raw := `
profile:
  name: docs
  source: '\\fs01\docs'
  destination: 'E:\replica\docs'
  use_snapshot: true
concurrency: 8
`
	require.NoError(t, os.WriteFile(path, []byte(raw), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "docs", cfg.Profile.Name)
	assert.True(t, cfg.Profile.UseSnapshot)
	assert.Equal(t, 8, cfg.Concurrency)

	// Unset fields fall back to defaults.
	def := Default()
	assert.Equal(t, def.MaxChunkBytes, cfg.MaxChunkBytes)
	assert.Equal(t, def.RetryMax, cfg.RetryMax)
	assert.Equal(t, def.StallTimeout, cfg.StallTimeout)
}

func TestLoadRejectsInvalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "profile.yaml")

	raw := `
profile:
  name: docs
concurrency: 8
`
	require.NoError(t, os.WriteFile(path, []byte(raw), 0644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "profile source")
}

func TestWatcherInvokesCallback(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "profile.yaml")

	raw := `
profile:
  name: docs
  source: '\\fs01\docs'
  destination: 'E:\replica\docs'
`
	require.NoError(t, os.WriteFile(path, []byte(raw), 0644))

	changed := make(chan *Config, 1)
	w, err := NewWatcher(func(cfg *Config) {
		select {
		case changed <- cfg:
		default:
		}
	})
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.Watch(path))

	updated := `
profile:
  name: docs-v2
  source: '\\fs01\docs'
  destination: 'E:\replica\docs'
`
	require.NoError(t, os.WriteFile(path, []byte(updated), 0644))

	select {
	case cfg := <-changed:
		assert.Equal(t, "docs-v2", cfg.Profile.Name)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for config change callback")
	}
}
