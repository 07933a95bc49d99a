// Package config handles workspace configuration for browserflow.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config represents the workspace configuration (config.yaml).
type Config struct {
	// Flow selection
	Flows       []string `yaml:"flows"`       // Files or directories, relative to the config
	IncludeTags []string `yaml:"includeTags"` // Tags to include
	ExcludeTags []string `yaml:"excludeTags"` // Tags to exclude

	Env map[string]string `yaml:"env"`

	// Browser settings
	BaseURL       string `yaml:"baseUrl"`
	Browser       string `yaml:"browser"`       // chrome, firefox, brave, edge
	BrowserBinary string `yaml:"browserBinary"` // Overrides the browser executable
	Headless      *bool  `yaml:"headless"`
	Parallel      int    `yaml:"parallel"`

	Stages []Stage `yaml:"stages"`

	Report ReportConfig `yaml:"report"`
}

// Stage is one step of a gated pipeline (smoke, then regression).
type Stage struct {
	Name        string   `yaml:"name"`
	IncludeTags []string `yaml:"includeTags"`
	ExcludeTags []string `yaml:"excludeTags"`
	Flows       []string `yaml:"flows"`
	Parallel    int      `yaml:"parallel"`
	// ContinueOnFailure lets later stages run even when this one fails.
	ContinueOnFailure bool `yaml:"continueOnFailure"`
}

// ReportConfig carries metadata printed in the HTML report header.
type ReportConfig struct {
	Title       string            `yaml:"title"`
	Project     string            `yaml:"project"`
	Environment string            `yaml:"environment"`
	Tester      string            `yaml:"tester"`
	Metadata    map[string]string `yaml:"metadata"`
}

// Load loads configuration from a file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) //#nosec G304 -- user-provided config file
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &cfg, nil
}

// LoadFromDir looks for config.yaml or config.yml in the directory.
func LoadFromDir(dir string) (*Config, error) {
	for _, name := range []string{"config.yaml", "config.yml"} {
		configPath := filepath.Join(dir, name)
		if _, err := os.Stat(configPath); err == nil {
			return Load(configPath)
		}
	}

	// No config file found, return empty config
	return &Config{}, nil
}

// HeadlessOr returns the configured headless flag, or def when unset.
func (c *Config) HeadlessOr(def bool) bool {
	if c.Headless == nil {
		return def
	}
	return *c.Headless
}

func (c *Config) validate() error {
	if c.Parallel < 0 {
		return fmt.Errorf("parallel must be >= 0, got %d", c.Parallel)
	}
	switch c.Browser {
	case "", "chrome", "firefox", "brave", "edge":
	default:
		return fmt.Errorf("unsupported browser %q", c.Browser)
	}
	seen := make(map[string]bool)
	for i, s := range c.Stages {
		if s.Name == "" {
			return fmt.Errorf("stage %d has no name", i+1)
		}
		if seen[s.Name] {
			return fmt.Errorf("duplicate stage %q", s.Name)
		}
		seen[s.Name] = true
		if s.Parallel < 0 {
			return fmt.Errorf("stage %q: parallel must be >= 0", s.Name)
		}
	}
	return nil
}
