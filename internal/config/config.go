// Package config holds the persisted pixlift configuration: where uploads
// go, what files are acceptable, how hard to compress, and how to notify.
// The file lives at ~/.pixlift.json; PIXLIFT_* environment variables
// override individual fields without touching the file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"pixlift/internal/compress"
	"pixlift/internal/validate"
)

// Config is the full application configuration.
type Config struct {
	// Endpoint is the upload server URL. Empty selects the local
	// filesystem store rooted at TargetDir.
	Endpoint      string `json:"endpoint" yaml:"endpoint"`
	AuthToken     string `json:"auth_token,omitempty" yaml:"auth_token,omitempty"`
	Scope         string `json:"scope,omitempty" yaml:"scope,omitempty"`
	TargetDir     string `json:"target_dir,omitempty" yaml:"target_dir,omitempty"`
	PublicBaseURL string `json:"public_base_url,omitempty" yaml:"public_base_url,omitempty"`

	// Mode is "single" (crop dialog, one value) or "multiple" (batch,
	// append-only list).
	Mode        string  `json:"mode" yaml:"mode"`
	AspectRatio float64 `json:"aspect_ratio,omitempty" yaml:"aspect_ratio,omitempty"`
	Parallelism int     `json:"parallelism,omitempty" yaml:"parallelism,omitempty"`
	Preview     bool    `json:"preview" yaml:"preview"`

	Rules       validate.Rules    `json:"rules" yaml:"rules"`
	Compression CompressionConfig `json:"compression" yaml:"compression"`
	Notify      NotifyConfig      `json:"notify,omitempty" yaml:"notify,omitempty"`
	Log         LogConfig         `json:"log" yaml:"log"`

	// ObservabilityFile overrides the metrics/tracing envelope location;
	// empty uses ~/.pixlift/observability.yaml.
	ObservabilityFile string `json:"observability_file,omitempty" yaml:"observability_file,omitempty"`

	// UploadTimeoutSeconds bounds one upload attempt; 0 uses the HTTP
	// client default.
	UploadTimeoutSeconds int `json:"upload_timeout_seconds,omitempty" yaml:"upload_timeout_seconds,omitempty"`
}

// CompressionConfig is the serializable mirror of the compressor options.
type CompressionConfig struct {
	MaxDimension int     `json:"max_dimension" yaml:"max_dimension"`
	TargetSizeMB float64 `json:"target_size_mb" yaml:"target_size_mb"`
	Quality      int     `json:"quality" yaml:"quality"`
	Format       string  `json:"format,omitempty" yaml:"format,omitempty"`
}

// Options converts to the compressor's option struct.
func (c CompressionConfig) Options() compress.Options {
	return compress.Options{
		MaxDimension: c.MaxDimension,
		TargetSizeMB: c.TargetSizeMB,
		Quality:      c.Quality,
		Format:       c.Format,
	}
}

// NotifyConfig configures the optional webhook channel. Terminal outcomes
// always reach the log channel; the webhook is additional.
type NotifyConfig struct {
	WebhookURL     string            `json:"webhook_url,omitempty" yaml:"webhook_url,omitempty"`
	WebhookHeaders map[string]string `json:"webhook_headers,omitempty" yaml:"webhook_headers,omitempty"`
	MinPriority    string            `json:"min_priority,omitempty" yaml:"min_priority,omitempty"`
}

// LogConfig controls the debug log sink.
type LogConfig struct {
	Level string `json:"level" yaml:"level"`
	File  string `json:"file,omitempty" yaml:"file,omitempty"`
}

// Default returns the configuration used when no file exists yet.
func Default() *Config {
	return &Config{
		Mode:    "single",
		Preview: true,
		Rules: validate.Rules{
			MaxSizeMB:    5,
			AllowedTypes: []string{"image/jpeg", "image/png", "image/gif", "image/webp"},
		},
		Compression: CompressionConfig{
			MaxDimension: 2048,
			TargetSizeMB: 1,
			Quality:      82,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	switch c.Mode {
	case "single", "multiple":
	default:
		return fmt.Errorf("mode must be \"single\" or \"multiple\", got %q", c.Mode)
	}
	if c.AspectRatio < 0 {
		return fmt.Errorf("aspect_ratio must not be negative")
	}
	if c.Parallelism < 0 {
		return fmt.Errorf("parallelism must not be negative")
	}
	if c.Compression.Quality < 0 || c.Compression.Quality > 100 {
		return fmt.Errorf("compression.quality must be between 0 and 100, got %d", c.Compression.Quality)
	}
	switch strings.ToLower(c.Notify.MinPriority) {
	case "", "low", "normal", "high", "critical":
	default:
		return fmt.Errorf("notify.min_priority must be low, normal, high, or critical, got %q", c.Notify.MinPriority)
	}
	return nil
}

// envOverrides maps PIXLIFT_* variables onto config fields. Only fields a
// deployment plausibly varies per environment are exposed.
var envOverrides = []struct {
	name  string
	apply func(*Config, string) error
}{
	{"PIXLIFT_ENDPOINT", func(c *Config, v string) error { c.Endpoint = v; return nil }},
	{"PIXLIFT_AUTH_TOKEN", func(c *Config, v string) error { c.AuthToken = v; return nil }},
	{"PIXLIFT_SCOPE", func(c *Config, v string) error { c.Scope = v; return nil }},
	{"PIXLIFT_TARGET_DIR", func(c *Config, v string) error { c.TargetDir = v; return nil }},
	{"PIXLIFT_MODE", func(c *Config, v string) error { c.Mode = v; return nil }},
	{"PIXLIFT_LOG_LEVEL", func(c *Config, v string) error { c.Log.Level = v; return nil }},
	{"PIXLIFT_WEBHOOK_URL", func(c *Config, v string) error { c.Notify.WebhookURL = v; return nil }},
	{"PIXLIFT_PARALLELISM", func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PIXLIFT_PARALLELISM: %w", err)
		}
		c.Parallelism = n
		return nil
	}},
}

// ApplyEnv overlays PIXLIFT_* environment variables onto c.
func (c *Config) ApplyEnv() error {
	for _, o := range envOverrides {
		v, ok := os.LookupEnv(o.name)
		if !ok || v == "" {
			continue
		}
		if err := o.apply(c, v); err != nil {
			return err
		}
	}
	return nil
}
