package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Load reads and parses a configuration from the given YAML file path. After
// parsing, it applies defaults to options left unset.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// LoadDefault searches for a config file in standard locations and loads the
// first one found. Search order: ./sologit.yaml, ~/.sologit/config.yaml
func LoadDefault() (*Config, error) {
	candidates := []string{"sologit.yaml"}

	home, err := os.UserHomeDir()
	if err == nil {
		candidates = append(candidates, filepath.Join(home, ".sologit", "config.yaml"))
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}

	return nil, fmt.Errorf("no sologit config found (searched: %v)", candidates)
}

// applyDefaults fills unset options with sologit's stock defaults.
func applyDefaults(cfg *Config) {
	if cfg.Tests.ExecutionMode == "" {
		cfg.Tests.ExecutionMode = ExecAuto
	}
	if cfg.Tests.TimeoutSeconds == 0 {
		cfg.Tests.TimeoutSeconds = 300
	}
	if cfg.Tests.ParallelMax == 0 {
		cfg.Tests.ParallelMax = 4
	}
	if cfg.Tests.LogDir == "" {
		cfg.Tests.LogDir = ".sologit/logs"
	}
	if cfg.CI.WebhookTimeout == 0 {
		cfg.CI.WebhookTimeout = 10
	}
	if cfg.StateDir == "" {
		cfg.StateDir = ".sologit/state"
	}
}
