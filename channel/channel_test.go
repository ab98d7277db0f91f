// Copyright 2026 The NanoClaw Authors
// SPDX-License-Identifier: Apache-2.0

package channel

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/qwibitai/nanoclaw-sub016/lib/clock"
	"github.com/qwibitai/nanoclaw-sub016/queue"
	"github.com/qwibitai/nanoclaw-sub016/store"
)

var testEpoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeAdapter struct {
	name      string
	prefix    string
	connected bool

	mu   sync.Mutex
	sent []string

	sendErr error
}

func (a *fakeAdapter) Name() string                      { return a.name }
func (a *fakeAdapter) Connect(ctx context.Context) error { a.connected = true; return nil }
func (a *fakeAdapter) OwnsID(chatID string) bool         { return strings.HasPrefix(chatID, a.prefix) }
func (a *fakeAdapter) IsConnected() bool                 { return a.connected }
func (a *fakeAdapter) Disconnect() error                 { a.connected = false; return nil }

func (a *fakeAdapter) SendMessage(ctx context.Context, chatID, text string) error {
	if a.sendErr != nil {
		return a.sendErr
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sent = append(a.sent, chatID+": "+text)
	return nil
}

type submitRecorder struct {
	mu      sync.Mutex
	entries []queue.Message
	groups  []store.Group
}

func (s *submitRecorder) submit(group store.Group, message queue.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.groups = append(s.groups, group)
	s.entries = append(s.entries, message)
}

func (s *submitRecorder) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func newTestRouter(t *testing.T) (*Router, *store.Store, *submitRecorder) {
	t.Helper()
	fake := clock.Fake(testEpoch)
	st, err := store.Open(store.Config{
		Path:  filepath.Join(t.TempDir(), "nanoclaw.db"),
		Clock: fake,
	})
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() {
		if err := st.Close(); err != nil {
			t.Errorf("store.Close: %v", err)
		}
	})
	rec := &submitRecorder{}
	router, err := NewRouter(Config{
		Store:  st,
		Clock:  fake,
		Submit: rec.submit,
	})
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}
	return router, st, rec
}

func TestTriggerPattern(t *testing.T) {
	tests := []struct {
		trigger string
		text    string
		want    bool
	}{
		{"nano", "@nano what's the weather", true},
		{"nano", "@NANO hello", true},
		{"nano", "  @nano with leading space", true},
		{"nano", "@nano, comma after", true},
		{"nano", "@nanobot is someone else", false},
		{"nano", "hey @nano mid-message", false},
		{"nano", "no mention at all", false},
		{"@nano", "@nano explicit prefix", true},
		{"na[no", "@na[no literal fallback", true},
	}
	for _, tt := range tests {
		if got := ShouldProcess(false, tt.trigger, tt.text); got != tt.want {
			t.Errorf("ShouldProcess(false, %q, %q) = %v, want %v", tt.trigger, tt.text, got, tt.want)
		}
	}
}

func TestMainGroupBypassesTrigger(t *testing.T) {
	if !ShouldProcess(true, "nano", "anything at all") {
		t.Fatal("main group must process untriggered messages")
	}
}

func TestInboundTriggeredMessageSubmitted(t *testing.T) {
	router, st, rec := newTestRouter(t)
	ctx := context.Background()

	group := store.Group{Folder: "family", Channel: "whatsapp", ChatID: "123@g.us", Name: "nano"}
	if err := st.UpsertGroup(ctx, group); err != nil {
		t.Fatalf("UpsertGroup: %v", err)
	}

	err := router.Inbound(ctx, "whatsapp", "123@g.us", Message{
		Sender: "alice",
		Text:   "@nano remind me tomorrow",
		SentAt: testEpoch,
	})
	if err != nil {
		t.Fatalf("Inbound: %v", err)
	}
	if rec.count() != 1 {
		t.Fatalf("submitted = %d, want 1", rec.count())
	}
	if rec.groups[0].Folder != "family" || rec.entries[0].Sender != "alice" {
		t.Fatalf("submitted %+v for %+v", rec.entries[0], rec.groups[0])
	}
}

func TestInboundUntriggeredMessageLoggedNotSubmitted(t *testing.T) {
	router, st, rec := newTestRouter(t)
	ctx := context.Background()

	group := store.Group{Folder: "family", Channel: "whatsapp", ChatID: "123@g.us", Name: "nano"}
	if err := st.UpsertGroup(ctx, group); err != nil {
		t.Fatalf("UpsertGroup: %v", err)
	}

	err := router.Inbound(ctx, "whatsapp", "123@g.us", Message{
		Sender: "alice",
		Text:   "just chatting with bob",
		SentAt: testEpoch,
	})
	if err != nil {
		t.Fatalf("Inbound: %v", err)
	}
	if rec.count() != 0 {
		t.Fatalf("submitted = %d, want 0", rec.count())
	}

	// The message still lands in history as context for later runs.
	history, err := st.MessagesSince(ctx, "family", time.Time{})
	if err != nil {
		t.Fatalf("MessagesSince: %v", err)
	}
	if len(history) != 1 || history[0].Content != "just chatting with bob" {
		t.Fatalf("history = %+v, want the untriggered message", history)
	}
}

func TestInboundUnregisteredChatDropped(t *testing.T) {
	router, st, rec := newTestRouter(t)
	ctx := context.Background()

	adapter := &fakeAdapter{name: "whatsapp", prefix: ""}
	router.AddAdapter(adapter, false)

	err := router.Inbound(ctx, "whatsapp", "999@g.us", Message{Sender: "mallory", Text: "@nano hi"})
	if err != nil {
		t.Fatalf("Inbound: %v", err)
	}
	if rec.count() != 0 {
		t.Fatalf("submitted = %d, want 0", rec.count())
	}
	groups, err := st.ListGroups(ctx)
	if err != nil {
		t.Fatalf("ListGroups: %v", err)
	}
	if len(groups) != 0 {
		t.Fatalf("groups = %+v, want none", groups)
	}
}

func TestInboundAutoRegisters(t *testing.T) {
	router, st, rec := newTestRouter(t)
	ctx := context.Background()

	var provisioned []string
	router.onRegister = func(ctx context.Context, group store.Group) error {
		provisioned = append(provisioned, group.Folder)
		return nil
	}
	router.AddAdapter(&fakeAdapter{name: "telegram", prefix: ""}, true)

	err := router.Inbound(ctx, "telegram", "-100987654321", Message{Sender: "carol", Text: "hello"})
	if err != nil {
		t.Fatalf("Inbound: %v", err)
	}

	group, err := st.GroupByChatID(ctx, "telegram", "-100987654321")
	if err != nil {
		t.Fatalf("GroupByChatID: %v", err)
	}
	if group == nil {
		t.Fatal("group was not auto-registered")
	}
	if group.IsMain {
		t.Fatal("auto-registered group must not be main")
	}
	if len(provisioned) != 1 || provisioned[0] != group.Folder {
		t.Fatalf("provisioned = %v, want [%s]", provisioned, group.Folder)
	}
	// A fresh group's trigger is its folder name, so a bare hello is
	// not forwarded.
	if rec.count() != 0 {
		t.Fatalf("submitted = %d, want 0", rec.count())
	}
}

func TestOutboundRoutesByOwnership(t *testing.T) {
	router, _, _ := newTestRouter(t)
	ctx := context.Background()

	whatsapp := &fakeAdapter{name: "whatsapp", prefix: "wa:", connected: true}
	telegram := &fakeAdapter{name: "telegram", prefix: "tg:", connected: true}
	router.AddAdapter(whatsapp, false)
	router.AddAdapter(telegram, false)

	if err := router.Outbound(ctx, "tg:42", "hello"); err != nil {
		t.Fatalf("Outbound: %v", err)
	}
	if len(telegram.sent) != 1 || len(whatsapp.sent) != 0 {
		t.Fatalf("telegram sent %v, whatsapp sent %v", telegram.sent, whatsapp.sent)
	}

	if err := router.Outbound(ctx, "sms:1", "hello"); !errors.Is(err, ErrNoAdapter) {
		t.Fatalf("Outbound to unowned id = %v, want ErrNoAdapter", err)
	}

	telegram.connected = false
	if err := router.Outbound(ctx, "tg:42", "hello"); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("Outbound while offline = %v, want ErrNotConnected", err)
	}
}

func TestDeriveFolder(t *testing.T) {
	tests := []struct {
		chatID string
		want   string
	}{
		{"123456789@g.us", "123456789-g.us"},
		{"-100987654321", "100987654321"},
		{"Family Chat!!", "family-chat"},
		{"a_b.c-d", "a_b.c-d"},
	}
	for _, tt := range tests {
		if got := DeriveFolder(tt.chatID); got != tt.want {
			t.Errorf("DeriveFolder(%q) = %q, want %q", tt.chatID, got, tt.want)
		}
	}

	if got := DeriveFolder("!!!"); !strings.HasPrefix(got, "group-") {
		t.Errorf("DeriveFolder(%q) = %q, want generated fallback", "!!!", got)
	}
	if got := DeriveFolder(strings.Repeat("x", 100)); len(got) > 64 {
		t.Errorf("DeriveFolder long id = %d chars, want <= 64", len(got))
	}
}
