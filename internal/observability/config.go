package observability

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config represents the complete observability configuration
type Config struct {
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

// DefaultConfig returns the default observability configuration.
//
// Both surfaces are off by default: pixlift is a short-lived CLI, so scraping
// and tracing only make sense when someone deliberately turns them on.
func DefaultConfig() Config {
	return Config{
		Metrics: MetricsConfig{
			Enabled:        false,
			PrometheusPort: 9464,
		},
		Tracing: TracingConfig{
			Enabled:        false,
			Exporter:       "otlp",
			OTLPEndpoint:   "localhost:4318",
			SampleRate:     1.0,
			ServiceName:    "pixlift",
			ServiceVersion: "1.0.0",
		},
	}
}

// DefaultConfigPath returns the observability config location.
func DefaultConfigPath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(homeDir, ".pixlift", "observability.yaml")
}

// LoadConfig loads observability configuration from file
func LoadConfig(configPath string) (Config, error) {
	config := DefaultConfig()

	if configPath == "" {
		configPath = DefaultConfigPath()
	}

	// If file doesn't exist, return defaults
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return config, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return config, fmt.Errorf("failed to read config file: %w", err)
	}

	var fileConfig struct {
		Observability Config `yaml:"observability"`
	}
	if err := yaml.Unmarshal(data, &fileConfig); err != nil {
		return config, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Merge with defaults (only override non-zero values)
	config.Metrics.Enabled = fileConfig.Observability.Metrics.Enabled
	if fileConfig.Observability.Metrics.PrometheusPort > 0 {
		config.Metrics.PrometheusPort = fileConfig.Observability.Metrics.PrometheusPort
	}

	config.Tracing.Enabled = fileConfig.Observability.Tracing.Enabled
	if fileConfig.Observability.Tracing.Exporter != "" {
		config.Tracing.Exporter = fileConfig.Observability.Tracing.Exporter
	}
	if fileConfig.Observability.Tracing.OTLPEndpoint != "" {
		config.Tracing.OTLPEndpoint = fileConfig.Observability.Tracing.OTLPEndpoint
	}
	if fileConfig.Observability.Tracing.ZipkinEndpoint != "" {
		config.Tracing.ZipkinEndpoint = fileConfig.Observability.Tracing.ZipkinEndpoint
	}
	// Sample rate zero means "not set"; disable tracing instead of sampling 0%.
	if fileConfig.Observability.Tracing.SampleRate > 0 && fileConfig.Observability.Tracing.SampleRate <= 1.0 {
		config.Tracing.SampleRate = fileConfig.Observability.Tracing.SampleRate
	}
	if fileConfig.Observability.Tracing.ServiceName != "" {
		config.Tracing.ServiceName = fileConfig.Observability.Tracing.ServiceName
	}
	if fileConfig.Observability.Tracing.ServiceVersion != "" {
		config.Tracing.ServiceVersion = fileConfig.Observability.Tracing.ServiceVersion
	}

	return config, nil
}

// SaveConfig saves observability configuration to file
func SaveConfig(config Config, configPath string) error {
	if configPath == "" {
		configPath = DefaultConfigPath()
		if configPath == "" {
			return fmt.Errorf("failed to resolve config path")
		}
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data := struct {
		Observability Config `yaml:"observability"`
	}{
		Observability: config,
	}

	yamlData, err := yaml.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, yamlData, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
