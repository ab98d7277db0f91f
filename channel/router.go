// Copyright 2026 The NanoClaw Authors
// SPDX-License-Identifier: Apache-2.0

package channel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/qwibitai/nanoclaw-sub016/lib/clock"
	"github.com/qwibitai/nanoclaw-sub016/queue"
	"github.com/qwibitai/nanoclaw-sub016/store"
)

// ErrNoAdapter reports an outbound chat id that no registered adapter
// owns.
var ErrNoAdapter = errors.New("channel: no adapter owns chat id")

// ErrNotConnected reports a send attempted while the owning adapter
// is offline.
var ErrNotConnected = errors.New("channel: adapter not connected")

// Config holds the parameters for creating a Router.
type Config struct {
	// Store is the group registry and message log.
	Store *store.Store

	// Clock stamps auto-registered groups.
	Clock clock.Clock

	// Logger receives operational messages. Nil discards.
	Logger *slog.Logger

	// Submit enqueues a triggered message for a group's agent.
	Submit func(group store.Group, message queue.Message)

	// OnRegister provisions a newly registered group (workspace
	// directory, IPC subtree). Optional.
	OnRegister func(ctx context.Context, group store.Group) error
}

type registeredAdapter struct {
	adapter      Adapter
	autoRegister bool
}

// Router maps inbound platform events to groups and outbound replies
// to adapters.
type Router struct {
	store      *store.Store
	clock      clock.Clock
	logger     *slog.Logger
	submit     func(store.Group, queue.Message)
	onRegister func(context.Context, store.Group) error

	mu       sync.Mutex
	adapters []registeredAdapter
}

// NewRouter creates a router.
func NewRouter(cfg Config) (*Router, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("channel: Store is required")
	}
	if cfg.Clock == nil {
		return nil, fmt.Errorf("channel: Clock is required")
	}
	if cfg.Submit == nil {
		return nil, fmt.Errorf("channel: Submit is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Router{
		store:      cfg.Store,
		clock:      cfg.Clock,
		logger:     logger,
		submit:     cfg.Submit,
		onRegister: cfg.OnRegister,
	}, nil
}

// AddAdapter registers a platform adapter. autoRegister allows chats
// unknown to the registry to become groups on first contact; without
// it, messages from unregistered chats are dropped.
func (r *Router) AddAdapter(adapter Adapter, autoRegister bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters = append(r.adapters, registeredAdapter{adapter: adapter, autoRegister: autoRegister})
}

// Inbound handles one message from a platform adapter. Every message
// for a known group lands in the message log; only triggered messages
// (or any message in the main group) wake the agent.
func (r *Router) Inbound(ctx context.Context, channelName, chatID string, message Message) error {
	group, err := r.store.GroupByChatID(ctx, channelName, chatID)
	if err != nil {
		return fmt.Errorf("channel: inbound: %w", err)
	}
	if group == nil {
		if !r.allowsAutoRegister(channelName) {
			r.logger.Debug("dropping message from unregistered chat",
				"channel", channelName,
				"chat_id", chatID,
			)
			return nil
		}
		group, err = r.autoRegister(ctx, channelName, chatID)
		if err != nil {
			return fmt.Errorf("channel: inbound: %w", err)
		}
	}

	sentAt := message.SentAt
	if sentAt.IsZero() {
		sentAt = r.clock.Now()
	}
	err = r.store.AppendMessage(ctx, store.Message{
		GroupFolder: group.Folder,
		Sender:      message.Sender,
		Content:     message.Text,
		SentAt:      sentAt,
	})
	if err != nil {
		return fmt.Errorf("channel: inbound: %w", err)
	}

	if !ShouldProcess(group.IsMain, group.Name, message.Text) {
		return nil
	}
	r.submit(*group, queue.Message{
		Sender: message.Sender,
		Text:   message.Text,
		SentAt: sentAt,
	})
	return nil
}

// Outbound sends text to a chat via whichever adapter owns its id.
func (r *Router) Outbound(ctx context.Context, chatID, text string) error {
	r.mu.Lock()
	adapters := make([]registeredAdapter, len(r.adapters))
	copy(adapters, r.adapters)
	r.mu.Unlock()

	for _, entry := range adapters {
		if !entry.adapter.OwnsID(chatID) {
			continue
		}
		if !entry.adapter.IsConnected() {
			return fmt.Errorf("channel: send to %s via %s: %w", chatID, entry.adapter.Name(), ErrNotConnected)
		}
		if err := entry.adapter.SendMessage(ctx, chatID, text); err != nil {
			return fmt.Errorf("channel: send to %s via %s: %w", chatID, entry.adapter.Name(), err)
		}
		return nil
	}
	return fmt.Errorf("channel: send to %s: %w", chatID, ErrNoAdapter)
}

// Register records a group and provisions its directories. Used for
// explicit registration (operator command or a main-group IPC
// request); auto-registration funnels through it too.
func (r *Router) Register(ctx context.Context, group store.Group) error {
	if err := r.store.UpsertGroup(ctx, group); err != nil {
		return fmt.Errorf("channel: register: %w", err)
	}
	if r.onRegister != nil {
		if err := r.onRegister(ctx, group); err != nil {
			return fmt.Errorf("channel: register %s: %w", group.Folder, err)
		}
	}
	r.logger.Info("registered group",
		"group", group.Folder,
		"channel", group.Channel,
		"chat_id", group.ChatID,
	)
	return nil
}

func (r *Router) allowsAutoRegister(channelName string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, entry := range r.adapters {
		if entry.adapter.Name() == channelName {
			return entry.autoRegister
		}
	}
	return false
}

func (r *Router) autoRegister(ctx context.Context, channelName, chatID string) (*store.Group, error) {
	folder, err := r.freeFolder(ctx, DeriveFolder(chatID))
	if err != nil {
		return nil, err
	}
	group := store.Group{
		Folder:  folder,
		Channel: channelName,
		ChatID:  chatID,
		Name:    folder,
	}
	if err := r.Register(ctx, group); err != nil {
		return nil, err
	}
	return &group, nil
}

// freeFolder disambiguates a derived folder name that another chat
// already claimed.
func (r *Router) freeFolder(ctx context.Context, folder string) (string, error) {
	existing, err := r.store.GroupByFolder(ctx, folder)
	if err != nil {
		return "", err
	}
	if existing == nil {
		return folder, nil
	}
	return folder + "-" + uuid.NewString()[:8], nil
}

// DeriveFolder turns a channel-native chat id into a filesystem-safe
// workspace folder name: lowercase, restricted to [a-z0-9._-], dash
// runs collapsed, at most 64 characters.
func DeriveFolder(chatID string) string {
	lowered := strings.ToLower(chatID)
	var b strings.Builder
	lastDash := true
	for _, r := range lowered {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.', r == '_':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	folder := strings.Trim(b.String(), "-.")
	if len(folder) > 64 {
		folder = strings.Trim(folder[:64], "-.")
	}
	if folder == "" {
		folder = "group-" + uuid.NewString()[:8]
	}
	return folder
}
