package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tempConfigPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "pixlift.json")
}

func TestNewManagerAtCreatesDefaultFile(t *testing.T) {
	path := tempConfigPath(t)

	m, err := NewManagerAt(path)
	require.NoError(t, err)

	_, err = os.Stat(path)
	require.NoError(t, err, "a default config file should be written")

	cfg := m.Config()
	assert.Equal(t, "single", cfg.Mode)
	assert.True(t, cfg.Preview)
	assert.InDelta(t, 5.0, cfg.Rules.MaxSizeMB, 0.001)
	assert.Equal(t, 2048, cfg.Compression.MaxDimension)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, path, m.Path())
}

func TestSetPersistsAcrossReload(t *testing.T) {
	path := tempConfigPath(t)
	m, err := NewManagerAt(path)
	require.NoError(t, err)

	require.NoError(t, m.Set("endpoint", "https://img.example.com/upload"))
	require.NoError(t, m.Set("compression.quality", "70"))
	require.NoError(t, m.Set("rules.allowed_types", "image/png, image/jpeg"))
	require.NoError(t, m.Set("preview", "false"))
	require.NoError(t, m.Set("aspect_ratio", "1.5"))

	reloaded, err := NewManagerAt(path)
	require.NoError(t, err)
	cfg := reloaded.Config()
	assert.Equal(t, "https://img.example.com/upload", cfg.Endpoint)
	assert.Equal(t, 70, cfg.Compression.Quality)
	assert.Equal(t, []string{"image/png", "image/jpeg"}, cfg.Rules.AllowedTypes)
	assert.False(t, cfg.Preview)
	assert.InDelta(t, 1.5, cfg.AspectRatio, 0.001)
}

func TestSetRejectsBadInput(t *testing.T) {
	path := tempConfigPath(t)
	m, err := NewManagerAt(path)
	require.NoError(t, err)

	assert.Error(t, m.Set("no_such_key", "x"))
	assert.Error(t, m.Set("compression.quality", "not-a-number"))
	assert.Error(t, m.Set("compression.quality", "150"), "validation runs after parsing")
	assert.Error(t, m.Set("mode", "both"))
	assert.Error(t, m.Set("preview", "maybe"))

	// Failed sets must not leak into the persisted or in-memory config.
	assert.Equal(t, "single", m.Config().Mode)
	reloaded, err := NewManagerAt(path)
	require.NoError(t, err)
	assert.Equal(t, 82, reloaded.Config().Compression.Quality)
}

func TestGetCoversEveryManagedKey(t *testing.T) {
	m, err := NewManagerAt(tempConfigPath(t))
	require.NoError(t, err)

	for _, key := range Keys() {
		_, err := m.Get(key)
		assert.NoError(t, err, "key %q", key)
	}
	_, err = m.Get("bogus")
	assert.Error(t, err)
}

func TestMalformedFileIsNotReplaced(t *testing.T) {
	path := tempConfigPath(t)
	require.NoError(t, os.WriteFile(path, []byte("{broken"), 0o644))

	_, err := NewManagerAt(path)
	require.Error(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "{broken", string(data), "a malformed config is surfaced, never overwritten")
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := Default()
	t.Setenv("PIXLIFT_ENDPOINT", "https://staging.example.com/upload")
	t.Setenv("PIXLIFT_PARALLELISM", "8")
	t.Setenv("PIXLIFT_MODE", "multiple")

	require.NoError(t, cfg.ApplyEnv())
	assert.Equal(t, "https://staging.example.com/upload", cfg.Endpoint)
	assert.Equal(t, 8, cfg.Parallelism)
	assert.Equal(t, "multiple", cfg.Mode)

	t.Setenv("PIXLIFT_PARALLELISM", "eight")
	assert.Error(t, cfg.ApplyEnv())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults pass", func(c *Config) {}, false},
		{"multiple mode passes", func(c *Config) { c.Mode = "multiple" }, false},
		{"unknown mode", func(c *Config) { c.Mode = "both" }, true},
		{"negative aspect ratio", func(c *Config) { c.AspectRatio = -1 }, true},
		{"quality out of range", func(c *Config) { c.Compression.Quality = 101 }, true},
		{"negative parallelism", func(c *Config) { c.Parallelism = -2 }, true},
		{"bad min priority", func(c *Config) { c.Notify.MinPriority = "urgent" }, true},
		{"known min priority", func(c *Config) { c.Notify.MinPriority = "high" }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCompressionConfigOptions(t *testing.T) {
	cc := CompressionConfig{MaxDimension: 1024, TargetSizeMB: 0.5, Quality: 75, Format: "jpeg"}
	opts := cc.Options()
	assert.Equal(t, 1024, opts.MaxDimension)
	assert.InDelta(t, 0.5, opts.TargetSizeMB, 0.001)
	assert.Equal(t, 75, opts.Quality)
	assert.Equal(t, "jpeg", opts.Format)
	assert.Nil(t, opts.OnProgress)
}
