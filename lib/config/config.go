// Copyright 2026 The NanoClaw Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for the NanoClaw
// orchestrator.
//
// Configuration is loaded from a single YAML file specified by:
//   - the NANOCLAW_CONFIG environment variable, or
//   - the --config flag passed to the command
//
// There are no fallbacks or automatic discovery. This ensures
// deterministic, auditable configuration with no hidden overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the master configuration for the orchestrator.
type Config struct {
	// Paths configures directory locations.
	Paths PathsConfig `yaml:"paths"`

	// Sandbox configures the per-group agent container.
	Sandbox SandboxConfig `yaml:"sandbox"`

	// Queue configures per-group execution behavior.
	Queue QueueConfig `yaml:"queue"`

	// Scheduler configures the task scheduler.
	Scheduler SchedulerConfig `yaml:"scheduler"`

	// IPC configures the file-drop IPC channel.
	IPC IPCConfig `yaml:"ipc"`

	// Admin configures the operator control socket.
	Admin AdminConfig `yaml:"admin"`
}

// PathsConfig configures directory locations. All paths must be
// absolute.
type PathsConfig struct {
	// Workspaces is the directory holding one workspace folder per
	// group. Each group's folder is mounted read-write into its
	// sandbox.
	Workspaces string `yaml:"workspaces"`

	// IPC is the root of the file-drop IPC tree (one subtree per
	// group).
	IPC string `yaml:"ipc"`

	// Archives receives compressed workspace archives when a group
	// is unregistered.
	Archives string `yaml:"archives"`

	// State is the directory holding the orchestrator database.
	State string `yaml:"state"`

	// SecretsBundle is the age-encrypted secrets file. Optional; a
	// missing file means no secrets are available to sandboxes.
	SecretsBundle string `yaml:"secrets_bundle"`

	// HostKey is the file holding the age identity used to unseal
	// the secrets bundle. Required when SecretsBundle is set.
	HostKey string `yaml:"host_key"`
}

// DatabasePath returns the orchestrator SQLite database location.
func (p PathsConfig) DatabasePath() string {
	return filepath.Join(p.State, "nanoclaw.db")
}

// MountRoot is one entry of the global mount allowlist.
type MountRoot struct {
	// Path is the host directory under which mounts may be granted.
	Path string `yaml:"path"`

	// Writable marks the root eligible for read-write grants. Even
	// then, non-main groups get read-only unless their own mount
	// entry asks for write access.
	Writable bool `yaml:"writable"`
}

// SandboxConfig configures the per-group agent container.
type SandboxConfig struct {
	// Backend selects the container runtime: "docker" or "container"
	// (Apple container CLI).
	Backend string `yaml:"backend"`

	// Image is the default container image. Groups may override it.
	Image string `yaml:"image"`

	// Command is the argv run inside the container.
	Command []string `yaml:"command"`

	// Timeout is the wall-clock limit for one invocation.
	Timeout time.Duration `yaml:"timeout"`

	// GracePeriod is how long to wait between the termination signal
	// and the kill after a timeout.
	GracePeriod time.Duration `yaml:"grace_period"`

	// AllowedRoots is the global mount allowlist.
	AllowedRoots []MountRoot `yaml:"allowed_roots"`

	// BlockedPatterns extends the built-in sensitive-path blocklist
	// with additional glob patterns. The built-ins always apply.
	BlockedPatterns []string `yaml:"blocked_patterns"`

	// EnvAllowlist names the environment variables (resolved from the
	// secrets bundle first, then the host environment) passed into
	// sandboxes. Nothing outside this list ever crosses the boundary.
	EnvAllowlist []string `yaml:"env_allowlist"`

	// MaxConcurrent caps simultaneously active containers across all
	// groups. Zero means unlimited.
	MaxConcurrent int `yaml:"max_concurrent"`

	// DryRun skips container execution and echoes the input back as
	// the result. Used by smoke checks.
	DryRun bool `yaml:"dry_run"`
}

// QueueConfig configures per-group execution behavior.
type QueueConfig struct {
	// IdleWait is the grace window after a reply during which the
	// process is kept alive to absorb multi-part messages.
	IdleWait time.Duration `yaml:"idle_wait"`

	// MaxPending bounds the per-group buffer of messages waiting for
	// an active process. Overflow drops the oldest entry.
	MaxPending int `yaml:"max_pending"`
}

// SchedulerConfig configures the task scheduler.
type SchedulerConfig struct {
	// TickInterval is how often due tasks are checked.
	TickInterval time.Duration `yaml:"tick_interval"`

	// MaxConsecutiveFailures pauses a task automatically after this
	// many consecutive failed runs.
	MaxConsecutiveFailures int `yaml:"max_consecutive_failures"`

	// SeedFile is an optional JSONC file of host-side task
	// registrations loaded at startup.
	SeedFile string `yaml:"seed_file"`
}

// IPCConfig configures the file-drop IPC channel.
type IPCConfig struct {
	// PollInterval is the fallback polling cadence. Filesystem events
	// wake the poller sooner when available.
	PollInterval time.Duration `yaml:"poll_interval"`

	// MaxRequestBytes rejects request files larger than this.
	MaxRequestBytes int64 `yaml:"max_request_bytes"`
}

// AdminConfig configures the operator control socket.
type AdminConfig struct {
	// Socket is the Unix socket path for nanoclawctl.
	Socket string `yaml:"socket"`
}

// Load reads and validates the config file at path. If path is empty,
// the NANOCLAW_CONFIG environment variable is consulted.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("NANOCLAW_CONFIG")
	}
	if path == "" {
		return nil, fmt.Errorf("config: no config file (pass --config or set NANOCLAW_CONFIG)")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Sandbox.Backend == "" {
		c.Sandbox.Backend = "docker"
	}
	if c.Sandbox.Image == "" {
		c.Sandbox.Image = "nanoclaw-agent:latest"
	}
	if len(c.Sandbox.Command) == 0 {
		c.Sandbox.Command = []string{"node", "/app/agent-runner.js"}
	}
	if c.Sandbox.Timeout <= 0 {
		c.Sandbox.Timeout = 30 * time.Minute
	}
	if c.Sandbox.GracePeriod <= 0 {
		c.Sandbox.GracePeriod = 10 * time.Second
	}
	if c.Queue.IdleWait <= 0 {
		c.Queue.IdleWait = 20 * time.Second
	}
	if c.Queue.MaxPending <= 0 {
		c.Queue.MaxPending = 128
	}
	if c.Scheduler.TickInterval <= 0 {
		c.Scheduler.TickInterval = 30 * time.Second
	}
	if c.Scheduler.MaxConsecutiveFailures <= 0 {
		c.Scheduler.MaxConsecutiveFailures = 3
	}
	if c.IPC.PollInterval <= 0 {
		c.IPC.PollInterval = 500 * time.Millisecond
	}
	if c.IPC.MaxRequestBytes <= 0 {
		c.IPC.MaxRequestBytes = 1 << 20
	}
	if c.Admin.Socket == "" {
		c.Admin.Socket = "/run/nanoclaw/admin.sock"
	}
}

// Validate checks the configuration for structural errors.
func (c *Config) Validate() error {
	required := map[string]string{
		"paths.workspaces": c.Paths.Workspaces,
		"paths.ipc":        c.Paths.IPC,
		"paths.state":      c.Paths.State,
	}
	for name, value := range required {
		if value == "" {
			return fmt.Errorf("%s is required", name)
		}
		if !filepath.IsAbs(value) {
			return fmt.Errorf("%s must be absolute, got %q", name, value)
		}
	}

	switch c.Sandbox.Backend {
	case "docker", "container":
	default:
		return fmt.Errorf("sandbox.backend must be \"docker\" or \"container\", got %q", c.Sandbox.Backend)
	}

	if c.Paths.SecretsBundle != "" && c.Paths.HostKey == "" {
		return fmt.Errorf("paths.host_key is required when paths.secrets_bundle is set")
	}

	for i, root := range c.Sandbox.AllowedRoots {
		if !filepath.IsAbs(root.Path) {
			return fmt.Errorf("sandbox.allowed_roots[%d].path must be absolute, got %q", i, root.Path)
		}
	}
	return nil
}
