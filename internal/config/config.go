// Package config loads the optional project configuration file.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// ProjectConfig holds project-level settings loaded from .bashscope.yml,
// .bashscope.yaml or .bashscope.toml.
type ProjectConfig struct {
	// SearchPaths are include fallback directories, relative to the
	// project root or absolute.
	SearchPaths []string `yaml:"search_paths,omitempty" toml:"search_paths"`
	// Extensions are extra file extensions treated as bash scripts.
	Extensions []string `yaml:"extensions,omitempty" toml:"extensions"`
	// Exclude holds gitignore-style patterns skipped during discovery.
	Exclude []string `yaml:"exclude,omitempty" toml:"exclude"`
	// ResolverScript is a Risor script consulted for dynamic includes.
	ResolverScript string `yaml:"resolver_script,omitempty" toml:"resolver_script"`
	// Jobs bounds parse parallelism; 0 means GOMAXPROCS.
	Jobs int `yaml:"jobs,omitempty" toml:"jobs"`
	// WidenUnresolved controls whether unresolved includes mark results
	// as widened. Defaults to true.
	WidenUnresolved *bool `yaml:"widen_unresolved,omitempty" toml:"widen_unresolved"`

	// Path is the file the config was read from, "" for the zero config.
	Path string `yaml:"-" toml:"-"`
}

// Widen reports the effective widening setting.
func (c *ProjectConfig) Widen() bool {
	return c.WidenUnresolved == nil || *c.WidenUnresolved
}

// Names lists the config file names Load looks for, in order.
var Names = []string{".bashscope.yml", ".bashscope.yaml", ".bashscope.toml"}

// Load reads the first config file found in dir. Returns a zero-value
// config (not an error) if no config file exists.
func Load(dir string) (*ProjectConfig, error) {
	for _, name := range Names {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		return LoadFile(path)
	}
	return &ProjectConfig{}, nil
}

// LoadFile reads a config file, choosing the format by extension.
func LoadFile(path string) (*ProjectConfig, error) {
	var cfg ProjectConfig
	switch filepath.Ext(path) {
	case ".toml":
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: %s: failed to parse TOML: %w", path, err)
		}
	default:
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: %s: failed to parse YAML: %w", path, err)
		}
	}
	if cfg.Jobs < 0 {
		return nil, fmt.Errorf("config: %s: jobs must not be negative", path)
	}
	cfg.Path = path
	return &cfg, nil
}
