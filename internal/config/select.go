package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/flakenv/flakenv/internal/pathguard"
)

// SelectFlake records a new descriptor after gating it through the path
// guard. Relative paths are resolved against the workspace before
// validation.
func (c *Config) SelectFlake(path string) error {
	candidate := path
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(c.Workspace, candidate)
	}
	if !pathguard.Validate(candidate, c.Workspace) {
		return fmt.Errorf("flake path %s is outside the workspace or not a regular file", path)
	}
	c.Flake.Path = candidate
	return nil
}

// Save writes the configuration back to path so a selection survives the
// process.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir config dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
