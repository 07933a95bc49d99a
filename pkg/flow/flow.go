// Package flow handles parsing and representation of browserflow YAML flow files.
package flow

import (
	"path/filepath"
	"strings"
)

// Flow represents a parsed flow file.
type Flow struct {
	SourcePath string // Path to the source file
	Config     Config // Flow configuration (url, tags, etc.)
	Steps      []Step // Steps to execute
}

// Config represents flow-level configuration.
type Config struct {
	URL            string            `yaml:"url"` // Base URL; relative openLink targets resolve against it
	Name           string            `yaml:"name"`
	Tags           []string          `yaml:"tags"`
	Env            map[string]string `yaml:"env"`
	Browser        string            `yaml:"browser"` // Overrides the run's browser for this flow
	Timeout        int               `yaml:"timeout"` // Flow timeout in ms
	OnFlowStart    []Step            `yaml:"-"`       // Lifecycle hook: runs before commands
	OnFlowComplete []Step            `yaml:"-"`       // Lifecycle hook: runs after commands
}

// DisplayName returns the configured name, or the file name without extension.
func (f *Flow) DisplayName() string {
	if f.Config.Name != "" {
		return f.Config.Name
	}
	base := filepath.Base(f.SourcePath)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// HasTag reports whether the flow carries tag.
func (f *Flow) HasTag(tag string) bool {
	for _, t := range f.Config.Tags {
		if t == tag {
			return true
		}
	}
	return false
}
