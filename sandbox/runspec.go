// Copyright 2026 The NanoClaw Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"fmt"
	"sort"
)

// Mount is one bind mount of a container run.
type Mount struct {
	Source   string
	Target   string
	ReadOnly bool
}

// RunSpec describes one container run: what image, what command, what
// the container sees of the host.
type RunSpec struct {
	// Image is the container image reference.
	Image string

	// Command is the argv run inside the container.
	Command []string

	// Mounts are the bind mounts, already policy-approved.
	Mounts []Mount

	// Env is the container environment. Keys come from the
	// configured allowlist only.
	Env map[string]string
}

// Backend turns a RunSpec into a host argv for a container runtime.
type Backend interface {
	// Name identifies the backend in logs and errors.
	Name() string

	// BuildArgv returns the full host command line, argv[0] included.
	BuildArgv(spec RunSpec) ([]string, error)
}

// NewBackend returns the backend for a configured name.
func NewBackend(name string) (Backend, error) {
	switch name {
	case "docker":
		return dockerBackend{}, nil
	case "container":
		return appleBackend{}, nil
	default:
		return nil, fmt.Errorf("sandbox: unknown backend %q", name)
	}
}

// sortedEnv returns KEY=VALUE pairs in key order so built argvs are
// deterministic.
func sortedEnv(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for key := range env {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, key := range keys {
		pairs = append(pairs, key+"="+env[key])
	}
	return pairs
}

// dockerBackend builds `docker run` command lines.
type dockerBackend struct{}

func (dockerBackend) Name() string { return "docker" }

func (dockerBackend) BuildArgv(spec RunSpec) ([]string, error) {
	if err := validateSpec(spec); err != nil {
		return nil, err
	}

	args := []string{"docker", "run", "--rm", "-i"}
	for _, mount := range spec.Mounts {
		volume := mount.Source + ":" + mount.Target
		if mount.ReadOnly {
			volume += ":ro"
		}
		args = append(args, "-v", volume)
	}
	for _, pair := range sortedEnv(spec.Env) {
		args = append(args, "-e", pair)
	}
	args = append(args, spec.Image)
	args = append(args, spec.Command...)
	return args, nil
}

// appleBackend builds command lines for the Apple `container` CLI,
// which takes long-form mount options.
type appleBackend struct{}

func (appleBackend) Name() string { return "container" }

func (appleBackend) BuildArgv(spec RunSpec) ([]string, error) {
	if err := validateSpec(spec); err != nil {
		return nil, err
	}

	args := []string{"container", "run", "--rm", "-i"}
	for _, mount := range spec.Mounts {
		option := fmt.Sprintf("type=bind,src=%s,dst=%s", mount.Source, mount.Target)
		if mount.ReadOnly {
			option += ",readonly"
		}
		args = append(args, "--mount", option)
	}
	for _, pair := range sortedEnv(spec.Env) {
		args = append(args, "--env", pair)
	}
	args = append(args, spec.Image)
	args = append(args, spec.Command...)
	return args, nil
}

func validateSpec(spec RunSpec) error {
	if spec.Image == "" {
		return fmt.Errorf("sandbox: image is required")
	}
	if len(spec.Command) == 0 {
		return fmt.Errorf("sandbox: command is required")
	}
	return nil
}
