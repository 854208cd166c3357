package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Manager handles configuration persistence and retrieval.
type Manager struct {
	path   string
	config *Config
}

// NewManager opens the config at ~/.pixlift.json, creating it with defaults
// when absent.
func NewManager() (*Manager, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve home directory: %w", err)
	}
	return NewManagerAt(filepath.Join(homeDir, ".pixlift.json"))
}

// NewManagerAt opens the config at an explicit path. A missing file is
// created with defaults; a malformed file is an error, never silently
// replaced.
func NewManagerAt(path string) (*Manager, error) {
	m := &Manager{path: path, config: Default()}
	if err := m.load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("load config %s: %w", path, err)
		}
		if err := m.save(); err != nil {
			return nil, fmt.Errorf("create default config: %w", err)
		}
	}
	return m, nil
}

// Config returns the live configuration.
func (m *Manager) Config() *Config {
	return m.config
}

// Path returns the backing file location.
func (m *Manager) Path() string {
	return m.path
}

// managedKeys lists every key Get and Set understand, in display order.
var managedKeys = []string{
	"endpoint",
	"auth_token",
	"scope",
	"target_dir",
	"public_base_url",
	"mode",
	"aspect_ratio",
	"parallelism",
	"preview",
	"upload_timeout_seconds",
	"rules.max_size_mb",
	"rules.allowed_types",
	"rules.min_width",
	"rules.min_height",
	"rules.max_width",
	"rules.max_height",
	"compression.max_dimension",
	"compression.target_size_mb",
	"compression.quality",
	"compression.format",
	"notify.webhook_url",
	"notify.min_priority",
	"log.level",
	"log.file",
	"observability_file",
}

// Keys returns the managed key names in display order.
func Keys() []string {
	return append([]string(nil), managedKeys...)
}

// Get retrieves a configuration value by dotted key.
func (m *Manager) Get(key string) (any, error) {
	c := m.config
	switch key {
	case "endpoint":
		return c.Endpoint, nil
	case "auth_token":
		return c.AuthToken, nil
	case "scope":
		return c.Scope, nil
	case "target_dir":
		return c.TargetDir, nil
	case "public_base_url":
		return c.PublicBaseURL, nil
	case "mode":
		return c.Mode, nil
	case "aspect_ratio":
		return c.AspectRatio, nil
	case "parallelism":
		return c.Parallelism, nil
	case "preview":
		return c.Preview, nil
	case "upload_timeout_seconds":
		return c.UploadTimeoutSeconds, nil
	case "rules.max_size_mb":
		return c.Rules.MaxSizeMB, nil
	case "rules.allowed_types":
		return strings.Join(c.Rules.AllowedTypes, ","), nil
	case "rules.min_width":
		return c.Rules.MinWidth, nil
	case "rules.min_height":
		return c.Rules.MinHeight, nil
	case "rules.max_width":
		return c.Rules.MaxWidth, nil
	case "rules.max_height":
		return c.Rules.MaxHeight, nil
	case "compression.max_dimension":
		return c.Compression.MaxDimension, nil
	case "compression.target_size_mb":
		return c.Compression.TargetSizeMB, nil
	case "compression.quality":
		return c.Compression.Quality, nil
	case "compression.format":
		return c.Compression.Format, nil
	case "notify.webhook_url":
		return c.Notify.WebhookURL, nil
	case "notify.min_priority":
		return c.Notify.MinPriority, nil
	case "log.level":
		return c.Log.Level, nil
	case "log.file":
		return c.Log.File, nil
	case "observability_file":
		return c.ObservabilityFile, nil
	default:
		return nil, fmt.Errorf("unknown config key: %s", key)
	}
}

// Set parses value for the key's type, validates the resulting config, and
// persists it. An invalid value leaves both the file and the in-memory
// config untouched.
func (m *Manager) Set(key, value string) error {
	next := *m.config
	if err := applyKey(&next, key, value); err != nil {
		return err
	}
	if err := next.Validate(); err != nil {
		return err
	}
	*m.config = next
	return m.save()
}

func applyKey(c *Config, key, value string) error {
	switch key {
	case "endpoint":
		c.Endpoint = value
	case "auth_token":
		c.AuthToken = value
	case "scope":
		c.Scope = value
	case "target_dir":
		c.TargetDir = value
	case "public_base_url":
		c.PublicBaseURL = value
	case "mode":
		c.Mode = value
	case "aspect_ratio":
		return parseFloat(key, value, &c.AspectRatio)
	case "parallelism":
		return parseInt(key, value, &c.Parallelism)
	case "preview":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("%s must be a boolean: %w", key, err)
		}
		c.Preview = b
	case "upload_timeout_seconds":
		return parseInt(key, value, &c.UploadTimeoutSeconds)
	case "rules.max_size_mb":
		return parseFloat(key, value, &c.Rules.MaxSizeMB)
	case "rules.allowed_types":
		c.Rules.AllowedTypes = splitList(value)
	case "rules.min_width":
		return parseInt(key, value, &c.Rules.MinWidth)
	case "rules.min_height":
		return parseInt(key, value, &c.Rules.MinHeight)
	case "rules.max_width":
		return parseInt(key, value, &c.Rules.MaxWidth)
	case "rules.max_height":
		return parseInt(key, value, &c.Rules.MaxHeight)
	case "compression.max_dimension":
		return parseInt(key, value, &c.Compression.MaxDimension)
	case "compression.target_size_mb":
		return parseFloat(key, value, &c.Compression.TargetSizeMB)
	case "compression.quality":
		return parseInt(key, value, &c.Compression.Quality)
	case "compression.format":
		c.Compression.Format = value
	case "notify.webhook_url":
		c.Notify.WebhookURL = value
	case "notify.min_priority":
		c.Notify.MinPriority = value
	case "log.level":
		c.Log.Level = value
	case "log.file":
		c.Log.File = value
	case "observability_file":
		c.ObservabilityFile = value
	default:
		return fmt.Errorf("unknown config key: %s", key)
	}
	return nil
}

func parseInt(key, value string, dst *int) error {
	n, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("%s must be an integer: %w", key, err)
	}
	*dst = n
	return nil
}

func parseFloat(key, value string, dst *float64) error {
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fmt.Errorf("%s must be a number: %w", key, err)
	}
	*dst = f
	return nil
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Save persists the in-memory configuration.
func (m *Manager) Save() error {
	return m.save()
}

func (m *Manager) load() error {
	data, err := os.ReadFile(m.path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, m.config)
}

func (m *Manager) save() error {
	data, err := json.MarshalIndent(m.config, "", "    ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(m.path, data, 0o644)
}
