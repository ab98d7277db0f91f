// Copyright 2026 The NanoClaw Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/gobwas/glob"
)

// defaultBlockedPatterns are always denied, regardless of allowlist
// coverage. They target credential material and cloud/tool secrets
// that must never cross the sandbox boundary.
var defaultBlockedPatterns = []string{
	"**/.ssh",
	"**/.gnupg",
	"**/.aws",
	"**/.azure",
	"**/.kube",
	"**/.config/gcloud",
	"**/.docker/config.json",
	"**/.netrc",
	"**/credentials*",
	"**/*.pem",
	"**/*.key",
	"**/id_rsa*",
	"**/id_ed25519*",
	"**/secrets*",
}

// MountRequest is one host-directory exposure a group asks for.
type MountRequest struct {
	// HostPath is the absolute host directory.
	HostPath string

	// WantWrite requests read-write access.
	WantWrite bool

	// MainGroup marks the request as coming from the privileged
	// operator group. Main-group grants on a writable root are
	// read-write without asking; everyone else defaults to read-only.
	MainGroup bool
}

// Decision is the policy's verdict on one mount request.
type Decision struct {
	// Allowed reports whether the mount may be granted at all.
	Allowed bool

	// Writable reports whether the grant is read-write. Never true
	// when Allowed is false.
	Writable bool

	// ResolvedPath is the symlink-resolved host path that was
	// actually evaluated and must be the mount source.
	ResolvedPath string

	// Reason explains a denial or a write downgrade.
	Reason string
}

// AllowedRoot is one entry of the global mount allowlist.
type AllowedRoot struct {
	// Path is the host directory under which mounts may be granted.
	Path string

	// Writable marks the root eligible for read-write grants.
	Writable bool
}

// Policy evaluates mount requests. Construction compiles the
// blocklist; evaluation does no I/O beyond symlink resolution.
type blockedPattern struct {
	raw      string
	compiled glob.Glob
}

type Policy struct {
	roots   []AllowedRoot
	blocked []blockedPattern

	// resolve is filepath.EvalSymlinks in production. Tests override
	// it to evaluate paths that do not exist on the test host.
	resolve func(string) (string, error)
}

// NewPolicy compiles a policy from the allowlist roots and any extra
// blocklist patterns. The built-in sensitive-path patterns always
// apply; extras extend them.
func NewPolicy(roots []AllowedRoot, extraBlocked []string) (*Policy, error) {
	patterns := make([]string, 0, len(defaultBlockedPatterns)+len(extraBlocked))
	patterns = append(patterns, defaultBlockedPatterns...)
	patterns = append(patterns, extraBlocked...)

	blocked := make([]blockedPattern, 0, len(patterns))
	for _, pattern := range patterns {
		compiled, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("sandbox: blocklist pattern %q: %w", pattern, err)
		}
		blocked = append(blocked, blockedPattern{raw: pattern, compiled: compiled})
	}

	return &Policy{
		roots:   roots,
		blocked: blocked,
		resolve: filepath.EvalSymlinks,
	}, nil
}

// Resolve evaluates one mount request. The decision order is fixed:
// symlink resolution, blocklist, allowlist, write downgrade. Any
// ambiguity denies.
func (p *Policy) Resolve(request MountRequest) Decision {
	if !filepath.IsAbs(request.HostPath) {
		return Decision{Reason: fmt.Sprintf("path %q is not absolute", request.HostPath)}
	}

	resolved, err := p.resolve(filepath.Clean(request.HostPath))
	if err != nil {
		// The path does not exist or resolution failed. Either way
		// the policy cannot know what would be mounted.
		return Decision{Reason: fmt.Sprintf("cannot resolve %q: %v", request.HostPath, err)}
	}

	// The blocklist applies to the resolved path and every ancestor,
	// so a request for a directory inside a blocked one is also
	// denied.
	if blocked, pattern := p.isBlocked(resolved); blocked {
		return Decision{
			ResolvedPath: resolved,
			Reason:       fmt.Sprintf("%q matches blocked pattern %q", resolved, pattern),
		}
	}

	root, covered := p.coveringRoot(resolved)
	if !covered {
		return Decision{
			ResolvedPath: resolved,
			Reason:       fmt.Sprintf("%q is outside all allowed roots", resolved),
		}
	}

	decision := Decision{
		Allowed:      true,
		ResolvedPath: resolved,
	}
	if request.WantWrite || request.MainGroup {
		if root.Writable {
			decision.Writable = true
		} else if request.WantWrite {
			decision.Reason = fmt.Sprintf("root %q is read-only; write access downgraded", root.Path)
		}
	}
	return decision
}

// isBlocked checks the path and each of its ancestors against the
// blocklist. Returns the first matching pattern's source for the
// denial reason.
func (p *Policy) isBlocked(path string) (bool, string) {
	for current := path; ; current = filepath.Dir(current) {
		for _, pattern := range p.blocked {
			if pattern.compiled.Match(current) {
				return true, pattern.raw
			}
		}
		if current == filepath.Dir(current) {
			return false, ""
		}
	}
}

// coveringRoot returns the allowlist root that contains the path, if
// any. A path equal to a root is covered.
func (p *Policy) coveringRoot(path string) (AllowedRoot, bool) {
	for _, root := range p.roots {
		cleanRoot := filepath.Clean(root.Path)
		if path == cleanRoot || strings.HasPrefix(path, cleanRoot+string(filepath.Separator)) {
			return root, true
		}
	}
	return AllowedRoot{}, false
}
