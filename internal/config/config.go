package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"phaseline/internal/domain"
)

// Config models phaseline.yml.
type Config struct {
	Portfolio struct {
		DefaultName string `yaml:"default_name"`
	} `yaml:"portfolio"`
	Similarity struct {
		// Threshold above which a submitted title is reported as a
		// duplicate candidate. The scoring formula itself is fixed.
		Threshold float64 `yaml:"threshold"`
	} `yaml:"similarity"`
	Deliverables struct {
		// Required document categories per target phase.
		Required map[string][]string `yaml:"required"`
	} `yaml:"deliverables"`
	Projects struct {
		CodePrefix string `yaml:"code_prefix"`
	} `yaml:"projects"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

type WebhookConfig struct {
	URL     string   `yaml:"url"`
	Events  []string `yaml:"events"`
	Secret  string   `yaml:"secret"`
	Enabled *bool    `yaml:"enabled"`
}

// Load reads config from the workspace, falling back to defaults when the
// file does not exist.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Portfolio.DefaultName == "" {
		return fmt.Errorf("config.portfolio.default_name is required")
	}
	if c.Similarity.Threshold <= 0 || c.Similarity.Threshold > 1 {
		return fmt.Errorf("config.similarity.threshold must be in (0,1]")
	}
	if c.Projects.CodePrefix == "" {
		return fmt.Errorf("config.projects.code_prefix is required")
	}
	for phase, cats := range c.Deliverables.Required {
		if _, ok := domain.PhaseOrder[phase]; !ok {
			return fmt.Errorf("config.deliverables.required has unknown phase %s", phase)
		}
		for _, cat := range cats {
			if cat == "" {
				return fmt.Errorf("phase %s has empty deliverable category", phase)
			}
		}
	}
	for i, hook := range c.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("webhook %d has empty url", i)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "phaseline.yml")
}

// Default returns the built-in configuration.
func Default() *Config {
	var cfg Config
	_ = yaml.Unmarshal([]byte(defaultTemplate), &cfg)
	return &cfg
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `portfolio:
  default_name: "General"

similarity:
  threshold: 0.7

projects:
  code_prefix: "P"

deliverables:
  required:
    planning: [charter]
    execution: [plan]
    closure: [closure_report]

webhooks: []
`
