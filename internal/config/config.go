// Package config loads the global bun-runner configuration and names the
// fixed paths under the state directory.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// stateDirName is the fixed directory under the user's home that holds the
// dotenv file, snippets, the package cache, and the audit log.
const stateDirName = ".bun-runner-mcp"

// Backend selects the execution strategy.
const (
	BackendLocal     = "local"
	BackendContainer = "container"
)

// Config holds global settings from ~/.bun-runner-mcp/config.yaml.
type Config struct {
	Proxy     ProxyConfig     `yaml:"proxy"`
	Backend   string          `yaml:"backend"`
	Container ContainerConfig `yaml:"container"`
	Execution ExecutionConfig `yaml:"execution"`
	Debug     DebugConfig     `yaml:"debug"`
}

// ProxyConfig holds permission proxy settings.
type ProxyConfig struct {
	Port int `yaml:"port"`
}

// ContainerConfig holds settings for the container execution backend.
type ContainerConfig struct {
	// Binary is the container CLI to shell out to. Empty means auto-detect.
	Binary string `yaml:"binary"`
	Image  string `yaml:"image"`
	CPUs   int    `yaml:"cpus"`
	Memory string `yaml:"memory"`
}

// ExecutionConfig holds per-run execution settings.
type ExecutionConfig struct {
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

// DebugConfig holds debug log settings.
type DebugConfig struct {
	RetentionDays int `yaml:"retention_days"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Proxy:   ProxyConfig{Port: 8765},
		Backend: BackendLocal,
		Container: ContainerConfig{
			Image:  "oven/bun:latest",
			CPUs:   2,
			Memory: "2g",
		},
		Execution: ExecutionConfig{TimeoutSeconds: 30},
		Debug:     DebugConfig{RetentionDays: 7},
	}
}

// Load reads ~/.bun-runner-mcp/config.yaml over the defaults and applies
// environment overrides. A missing file is not an error.
func Load() (*Config, error) {
	cfg := Default()

	path := filepath.Join(Dir(), "config.yaml")
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	}

	if portStr := os.Getenv("BUN_RUNNER_PROXY_PORT"); portStr != "" {
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return nil, fmt.Errorf("invalid BUN_RUNNER_PROXY_PORT %q: must be a number", portStr)
		}
		cfg.Proxy.Port = port
	}
	if backend := os.Getenv("BUN_RUNNER_BACKEND"); backend != "" {
		cfg.Backend = backend
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration and returns actionable errors.
func (c *Config) Validate() error {
	if c.Proxy.Port < 1 || c.Proxy.Port > 65535 {
		return fmt.Errorf("proxy.port %d is out of range (1-65535)", c.Proxy.Port)
	}
	switch c.Backend {
	case BackendLocal, BackendContainer:
	default:
		return fmt.Errorf("unknown backend %q\n\nValid backends:\n  local     - run bun on the host with the sandbox preamble\n  container - run bun inside an isolated container", c.Backend)
	}
	if c.Container.CPUs < 1 {
		return fmt.Errorf("container.cpus must be at least 1, got %d", c.Container.CPUs)
	}
	if c.Container.Memory != "" && !validMemory(c.Container.Memory) {
		return fmt.Errorf("container.memory %q is invalid (expected forms like 512m or 2g)", c.Container.Memory)
	}
	if !strings.Contains(c.Container.Image, "/") && !strings.Contains(c.Container.Image, ":") {
		return fmt.Errorf("container.image %q does not look like an image reference", c.Container.Image)
	}
	if c.Execution.TimeoutSeconds < 1 {
		return fmt.Errorf("execution.timeout_seconds must be at least 1, got %d", c.Execution.TimeoutSeconds)
	}
	return nil
}

func validMemory(s string) bool {
	if len(s) < 2 {
		return false
	}
	switch s[len(s)-1] {
	case 'b', 'k', 'm', 'g', 'B', 'K', 'M', 'G':
	default:
		return false
	}
	_, err := strconv.Atoi(s[:len(s)-1])
	return err == nil
}

// Dir returns the bun-runner state directory, ~/.bun-runner-mcp.
func Dir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", stateDirName)
	}
	return filepath.Join(homeDir, stateDirName)
}

// EnvFilePath returns the dotenv allowlist file path.
func EnvFilePath() string {
	return filepath.Join(Dir(), ".bun-runner-env")
}

// SnippetDir returns the snippet storage directory.
func SnippetDir() string {
	return filepath.Join(Dir(), "snippets")
}

// CacheDir returns the persistent package cache mounted into containers.
func CacheDir() string {
	return filepath.Join(Dir(), "cache")
}

// AuditDBPath returns the sqlite decision log path.
func AuditDBPath() string {
	return filepath.Join(Dir(), "audit.db")
}

// DebugDir returns the debug log directory.
func DebugDir() string {
	return filepath.Join(Dir(), "debug")
}
