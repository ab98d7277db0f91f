// Copyright 2026 The NanoClaw Authors
// SPDX-License-Identifier: Apache-2.0

package ipc

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/qwibitai/nanoclaw-sub016/lib/clock"
)

// DefaultPollInterval is the fallback polling cadence when the config
// does not set one.
const DefaultPollInterval = 500 * time.Millisecond

// DefaultMaxRequestBytes caps one request file.
const DefaultMaxRequestBytes = 1 << 20

// Handler processes one validated request. A returned error
// quarantines the file with the error text as the reason.
type Handler func(ctx context.Context, request Request) error

// PollerConfig holds the parameters for creating a Poller.
type PollerConfig struct {
	// Root is the IPC root directory.
	Root string

	// Clock drives the fallback ticker.
	Clock clock.Clock

	// Logger receives operational messages. Nil discards.
	Logger *slog.Logger

	// PollInterval is the fallback cadence. Defaults to
	// DefaultPollInterval.
	PollInterval time.Duration

	// MaxRequestBytes rejects larger request files. Defaults to
	// DefaultMaxRequestBytes.
	MaxRequestBytes int64

	// MainFolder reports the current main group's folder, or "" when
	// none is registered. Consulted per privileged request.
	MainFolder func(ctx context.Context) string

	// Handle processes validated requests.
	Handle Handler
}

// Poller consumes agent request files across all group subtrees. One
// goroutine runs the whole consume path, which is what makes
// delete-after-handle an exactly-once contract within a run.
type Poller struct {
	root       string
	clock      clock.Clock
	logger     *slog.Logger
	interval   time.Duration
	maxBytes   int64
	mainFolder func(ctx context.Context) string
	handle     Handler

	watched map[string]bool
}

// NewPoller creates a poller.
func NewPoller(cfg PollerConfig) (*Poller, error) {
	if cfg.Root == "" {
		return nil, fmt.Errorf("ipc: Root is required")
	}
	if cfg.Clock == nil {
		return nil, fmt.Errorf("ipc: Clock is required")
	}
	if cfg.Handle == nil {
		return nil, fmt.Errorf("ipc: Handle is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	maxBytes := cfg.MaxRequestBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxRequestBytes
	}
	mainFolder := cfg.MainFolder
	if mainFolder == nil {
		mainFolder = func(context.Context) string { return "" }
	}
	return &Poller{
		root:       cfg.Root,
		clock:      cfg.Clock,
		logger:     logger,
		interval:   interval,
		maxBytes:   maxBytes,
		mainFolder: mainFolder,
		handle:     cfg.Handle,
		watched:    make(map[string]bool),
	}, nil
}

// Run polls until the context is cancelled. Filesystem events wake
// the scan early; the interval ticker guarantees progress when events
// are dropped or unavailable.
func (p *Poller) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		// Degrade to pure polling.
		p.logger.Warn("ipc watcher unavailable, polling only", "error", err)
		watcher = nil
	} else {
		defer watcher.Close()
	}

	ticker := p.clock.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		p.ScanOnce(ctx)
		if watcher != nil {
			p.refreshWatches(watcher)
		}

		var events chan fsnotify.Event
		var watchErrors chan error
		if watcher != nil {
			events = watcher.Events
			watchErrors = watcher.Errors
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case event := <-events:
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
		case err := <-watchErrors:
			p.logger.Warn("ipc watch error", "error", err)
		}
	}
}

// refreshWatches adds request directories of newly appeared groups to
// the watcher.
func (p *Poller) refreshWatches(watcher *fsnotify.Watcher) {
	for _, dir := range p.requestDirs() {
		if p.watched[dir] {
			continue
		}
		if err := watcher.Add(dir); err != nil {
			p.logger.Warn("ipc watch add failed", "dir", dir, "error", err)
			continue
		}
		p.watched[dir] = true
	}
}

// requestDirs lists the existing per-group request directories.
func (p *Poller) requestDirs() []string {
	entries, err := os.ReadDir(p.root)
	if err != nil {
		return nil
	}
	var dirs []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(p.root, entry.Name(), requestsDirName)
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			dirs = append(dirs, dir)
		}
	}
	sort.Strings(dirs)
	return dirs
}

// ScanOnce consumes every settled request file once. Exported so
// tests drive the poller synchronously.
func (p *Poller) ScanOnce(ctx context.Context) {
	for _, dir := range p.requestDirs() {
		folder := filepath.Base(filepath.Dir(dir))
		p.scanDir(ctx, dir, folder)
	}
}

func (p *Poller) scanDir(ctx context.Context, dir, folder string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		p.logger.Warn("ipc scan failed", "dir", dir, "error", err)
		return
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".json") {
			continue
		}
		names = append(names, name)
	}
	// The counter prefix makes lexical order the write order.
	sort.Strings(names)

	for _, name := range names {
		if ctx.Err() != nil {
			return
		}
		p.consumeFile(ctx, dir, folder, name)
	}
}

// consumeFile handles one request file to completion: it is either
// deleted (handled) or quarantined (anything else). A file never
// survives a scan in place.
func (p *Poller) consumeFile(ctx context.Context, dir, folder, name string) {
	path := filepath.Join(dir, name)

	info, err := os.Lstat(path)
	if err != nil {
		// Raced with an external removal; nothing to do.
		return
	}
	if !info.Mode().IsRegular() {
		p.quarantine(dir, name, fmt.Sprintf("not a regular file (mode %s)", info.Mode()))
		return
	}
	if info.Size() > p.maxBytes {
		p.quarantine(dir, name, fmt.Sprintf("file size %d exceeds limit %d", info.Size(), p.maxBytes))
		return
	}

	data, err := os.ReadFile(path)
	if err != nil {
		p.quarantine(dir, name, fmt.Sprintf("unreadable: %v", err))
		return
	}

	request, err := ParseRequest(data)
	if err != nil {
		p.quarantine(dir, name, err.Error())
		return
	}

	// The claimed folder must match the directory the file physically
	// sits in. A sandbox can only write inside its own subtree, so
	// this pins the request to its true origin.
	if request.GroupFolder != folder {
		p.quarantine(dir, name, fmt.Sprintf(
			"request claims group %q but was found under %q", request.GroupFolder, folder))
		return
	}

	if request.Type.privileged() {
		main := p.mainFolder(ctx)
		if main == "" || folder != main {
			p.quarantine(dir, name, fmt.Sprintf(
				"%s requires the main group, got %q", request.Type, folder))
			return
		}
	}

	if err := p.handle(ctx, request); err != nil {
		p.quarantine(dir, name, fmt.Sprintf("handler: %v", err))
		return
	}

	if err := os.Remove(path); err != nil {
		p.logger.Error("ipc consumed file not removed", "path", path, "error", err)
		return
	}
	p.logger.Debug("ipc request handled", "group", folder, "type", string(request.Type), "file", name)
}

// quarantine moves a failed file into errors/ and writes a .reason
// sidecar next to it.
func (p *Poller) quarantine(dir, name, reason string) {
	errorsDir := filepath.Join(dir, errorsDirName)
	if err := os.MkdirAll(errorsDir, 0o755); err != nil {
		p.logger.Error("ipc quarantine dir", "dir", errorsDir, "error", err)
		return
	}

	destination := filepath.Join(errorsDir, name)
	if err := os.Rename(filepath.Join(dir, name), destination); err != nil {
		p.logger.Error("ipc quarantine move", "file", name, "error", err)
		return
	}

	sidecar := destination + ".reason"
	if err := os.WriteFile(sidecar, []byte(reason+"\n"), 0o644); err != nil {
		p.logger.Error("ipc quarantine reason", "file", sidecar, "error", err)
	}
	p.logger.Warn("ipc request quarantined", "file", name, "reason", reason)
}
