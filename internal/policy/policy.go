// Package policy implements the read-only exec allow-list. It decides which
// commands and file paths the in-pod inspection tools may touch. Permission
// is granted by allow-list only; anything not explicitly listed is denied.
package policy

import (
	"fmt"
	"os"
	"path"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level exec policy configuration.
type Config struct {
	Version string `yaml:"version"`

	// AllowedCommands are the command names the exec tools may run. Matching
	// is on the bare command name, never a shell line.
	AllowedCommands []string `yaml:"allowed_commands"`

	// AllowedPathPrefixes restrict which files/directories may be read or
	// listed. A path matches when it is within one of the prefixes.
	AllowedPathPrefixes []string `yaml:"allowed_path_prefixes"`

	// MaxOutputBytes caps exec output captured per invocation.
	MaxOutputBytes int `yaml:"max_output_bytes"`

	// TimeoutSeconds caps how long a single exec may run.
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

// Timeout returns the per-exec timeout as a duration.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// DefaultConfig returns the built-in policy used when no file is configured:
// enough to read application config files and environment, nothing more.
func DefaultConfig() *Config {
	return &Config{
		Version:         "1",
		AllowedCommands: []string{"cat", "ls", "env", "printenv", "head"},
		AllowedPathPrefixes: []string{
			"/app", "/etc", "/config", "/usr/src/app", "/tmp",
		},
		MaxOutputBytes: 64 * 1024,
		TimeoutSeconds: 15,
	}
}

// LoadFile loads an exec policy from a YAML file.
func LoadFile(p string) (*Config, error) {
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}
	return Load(data)
}

// Load parses an exec policy from YAML data.
func Load(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse policy YAML: %w", err)
	}
	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate policy: %w", err)
	}
	return &cfg, nil
}

// validate fills defaults and rejects configurations that would widen the
// policy beyond read-only inspection.
func validate(cfg *Config) error {
	if cfg.Version == "" {
		cfg.Version = "1"
	}
	if len(cfg.AllowedCommands) == 0 {
		return fmt.Errorf("allowed_commands must name at least one command")
	}
	for _, c := range cfg.AllowedCommands {
		if strings.ContainsAny(c, " ;|&$></") {
			return fmt.Errorf("allowed command %q must be a bare command name", c)
		}
	}
	if cfg.MaxOutputBytes <= 0 {
		cfg.MaxOutputBytes = DefaultConfig().MaxOutputBytes
	}
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = DefaultConfig().TimeoutSeconds
	}
	return nil
}

// CommandAllowed reports whether the bare command name may be executed.
func (c *Config) CommandAllowed(name string) bool {
	for _, allowed := range c.AllowedCommands {
		if name == allowed {
			return true
		}
	}
	return false
}

// PathAllowed reports whether the (cleaned, absolute) path is inside one of
// the allowed prefixes. Relative paths and traversal escapes are denied.
func (c *Config) PathAllowed(p string) bool {
	if !strings.HasPrefix(p, "/") {
		return false
	}
	cleaned := path.Clean(p)
	for _, prefix := range c.AllowedPathPrefixes {
		prefix = path.Clean(prefix)
		if cleaned == prefix || strings.HasPrefix(cleaned, prefix+"/") {
			return true
		}
	}
	return false
}
