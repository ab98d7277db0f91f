// Copyright 2026 The NanoClaw Authors
// SPDX-License-Identifier: Apache-2.0

package ipc

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/qwibitai/nanoclaw-sub016/lib/clock"
)

var epoch = time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)

// testPoller wires a poller over a temp root, recording handled
// requests.
func testPoller(t *testing.T, mainFolder string) (*Poller, string, *[]Request) {
	t.Helper()
	root := t.TempDir()
	var handled []Request
	poller, err := NewPoller(PollerConfig{
		Root:  root,
		Clock: clock.Fake(epoch),
		MainFolder: func(context.Context) string {
			return mainFolder
		},
		Handle: func(_ context.Context, request Request) error {
			handled = append(handled, request)
			return nil
		},
	})
	if err != nil {
		t.Fatalf("NewPoller: %v", err)
	}
	return poller, root, &handled
}

func dropRequest(t *testing.T, root, folder string, request Request) string {
	t.Helper()
	dirs, err := EnsureGroupDirs(root, folder)
	if err != nil {
		t.Fatalf("EnsureGroupDirs: %v", err)
	}
	name, err := NewWriter(dirs.Requests).Write(request)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	return name
}

func quarantined(t *testing.T, root, folder string) []string {
	t.Helper()
	entries, err := os.ReadDir(DirsFor(root, folder).Errors)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		t.Fatalf("ReadDir errors: %v", err)
	}
	var names []string
	for _, entry := range entries {
		if !strings.HasSuffix(entry.Name(), ".reason") {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	return names
}

func TestConsumeMessageRequest(t *testing.T) {
	poller, root, handled := testPoller(t, "")
	dropRequest(t, root, "family", Request{
		Type:        TypeMessage,
		GroupFolder: "family",
		ChatID:      "123@g.us",
		Text:        "hello",
	})

	poller.ScanOnce(context.Background())

	if len(*handled) != 1 {
		t.Fatalf("handled = %d, want 1", len(*handled))
	}
	if (*handled)[0].Text != "hello" {
		t.Errorf("request = %+v", (*handled)[0])
	}

	// The file was deleted; re-scanning delivers nothing.
	poller.ScanOnce(context.Background())
	if len(*handled) != 1 {
		t.Errorf("re-scan double-delivered: handled = %d", len(*handled))
	}
}

func TestConsumeOrder(t *testing.T) {
	poller, root, handled := testPoller(t, "")
	for _, text := range []string{"first", "second", "third"} {
		dropRequest(t, root, "g", Request{Type: TypeMessage, GroupFolder: "g", Text: text})
	}

	poller.ScanOnce(context.Background())

	if len(*handled) != 3 {
		t.Fatalf("handled = %d, want 3", len(*handled))
	}
	for i, want := range []string{"first", "second", "third"} {
		if (*handled)[i].Text != want {
			t.Errorf("handled[%d].Text = %q, want %q", i, (*handled)[i].Text, want)
		}
	}
}

func TestCrossGroupClaimQuarantined(t *testing.T) {
	poller, root, handled := testPoller(t, "")
	// Physically under group-b, claiming group-a.
	dropRequest(t, root, "group-b", Request{Type: TypeMessage, GroupFolder: "group-a", Text: "forged"})

	poller.ScanOnce(context.Background())

	if len(*handled) != 0 {
		t.Fatalf("forged request was handled")
	}
	files := quarantined(t, root, "group-b")
	if len(files) != 1 {
		t.Fatalf("quarantined = %v, want one file", files)
	}
	reason, err := os.ReadFile(filepath.Join(DirsFor(root, "group-b").Errors, files[0]+".reason"))
	if err != nil {
		t.Fatalf("reading reason sidecar: %v", err)
	}
	if !strings.Contains(string(reason), `claims group "group-a"`) {
		t.Errorf("reason = %q", reason)
	}
}

func TestPrivilegedRequiresMainGroup(t *testing.T) {
	poller, root, handled := testPoller(t, "main")
	register := Request{
		Type:         TypeRegisterGroup,
		TargetFolder: "newgroup",
		TargetChatID: "999@g.us",
		Channel:      "whatsapp",
	}

	register.GroupFolder = "other"
	dropRequest(t, root, "other", register)
	register.GroupFolder = "main"
	dropRequest(t, root, "main", register)

	poller.ScanOnce(context.Background())

	if len(*handled) != 1 || (*handled)[0].GroupFolder != "main" {
		t.Fatalf("handled = %+v, want only the main group's request", *handled)
	}
	if files := quarantined(t, root, "other"); len(files) != 1 {
		t.Errorf("non-main register not quarantined: %v", files)
	}
}

func TestMalformedQuarantined(t *testing.T) {
	poller, root, handled := testPoller(t, "")
	dirs, err := EnsureGroupDirs(root, "g")
	if err != nil {
		t.Fatalf("EnsureGroupDirs: %v", err)
	}

	cases := map[string]string{
		"not-json.json":     "{{{",
		"unknown-type.json": `{"type":"explode","group_folder":"g"}`,
		"missing-text.json": `{"type":"message","group_folder":"g"}`,
	}
	for name, content := range cases {
		if err := os.WriteFile(filepath.Join(dirs.Requests, name), []byte(content), 0o644); err != nil {
			t.Fatalf("WriteFile %s: %v", name, err)
		}
	}

	poller.ScanOnce(context.Background())

	if len(*handled) != 0 {
		t.Fatalf("malformed requests handled: %+v", *handled)
	}
	if files := quarantined(t, root, "g"); len(files) != len(cases) {
		t.Errorf("quarantined = %v, want %d files", files, len(cases))
	}
}

func TestOversizeQuarantined(t *testing.T) {
	root := t.TempDir()
	poller, err := NewPoller(PollerConfig{
		Root:            root,
		Clock:           clock.Fake(epoch),
		MaxRequestBytes: 64,
		Handle: func(context.Context, Request) error {
			t.Error("oversize request reached handler")
			return nil
		},
	})
	if err != nil {
		t.Fatalf("NewPoller: %v", err)
	}

	dirs, err := EnsureGroupDirs(root, "g")
	if err != nil {
		t.Fatalf("EnsureGroupDirs: %v", err)
	}
	big := `{"type":"message","group_folder":"g","text":"` + strings.Repeat("x", 200) + `"}`
	if err := os.WriteFile(filepath.Join(dirs.Requests, "big.json"), []byte(big), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	poller.ScanOnce(context.Background())

	if files := quarantined(t, root, "g"); len(files) != 1 {
		t.Errorf("quarantined = %v, want one file", files)
	}
}

func TestHandlerErrorQuarantines(t *testing.T) {
	root := t.TempDir()
	calls := 0
	poller, err := NewPoller(PollerConfig{
		Root:  root,
		Clock: clock.Fake(epoch),
		Handle: func(context.Context, Request) error {
			calls++
			return os.ErrDeadlineExceeded
		},
	})
	if err != nil {
		t.Fatalf("NewPoller: %v", err)
	}
	dropRequest(t, root, "g", Request{Type: TypeMessage, GroupFolder: "g", Text: "hi"})

	poller.ScanOnce(context.Background())
	poller.ScanOnce(context.Background())

	if calls != 1 {
		t.Errorf("handler calls = %d, want 1 (failed file must not be retried)", calls)
	}
	if files := quarantined(t, root, "g"); len(files) != 1 {
		t.Errorf("quarantined = %v, want one file", files)
	}
}

func TestParseRequestValidation(t *testing.T) {
	valid := []string{
		`{"type":"message","group_folder":"g","text":"hi"}`,
		`{"type":"schedule_task","group_folder":"g","prompt":"p","schedule":"cron","schedule_expr":"0 9 * * *"}`,
		`{"type":"schedule_task","group_folder":"g","prompt":"p","schedule":"interval","schedule_expr":"45m"}`,
		`{"type":"pause_task","group_folder":"g","task_id":"t"}`,
		`{"type":"resume_task","group_folder":"g","task_id":"t"}`,
		`{"type":"cancel_task","group_folder":"g","task_id":"t"}`,
		`{"type":"register_group","group_folder":"main","target_folder":"n","target_chat_id":"1","channel":"whatsapp"}`,
		`{"type":"unregister_group","group_folder":"main","target_folder":"n"}`,
	}
	for _, document := range valid {
		if _, err := ParseRequest([]byte(document)); err != nil {
			t.Errorf("ParseRequest(%s): %v", document, err)
		}
	}

	invalid := []string{
		`{}`,
		`{"type":"message","group_folder":"g"}`,
		`{"type":"schedule_task","group_folder":"g","prompt":"p","schedule":"hourly","schedule_expr":"x"}`,
		`{"type":"pause_task","group_folder":"g"}`,
		`{"type":"register_group","group_folder":"main","target_folder":"n"}`,
		`{"type":"nonsense","group_folder":"g"}`,
		`{"group_folder":"g"}`,
	}
	for _, document := range invalid {
		if _, err := ParseRequest([]byte(document)); err == nil {
			t.Errorf("ParseRequest(%s) accepted", document)
		}
	}
}

func TestInputWriter(t *testing.T) {
	root := t.TempDir()
	if _, err := EnsureGroupDirs(root, "g"); err != nil {
		t.Fatalf("EnsureGroupDirs: %v", err)
	}
	writer := NewInputWriter(root, "g")

	for _, text := range []string{"follow-up one", "follow-up two"} {
		if err := writer.WriteTurn(InputTurn{Sender: "alice", Text: text, SentAt: epoch}); err != nil {
			t.Fatalf("WriteTurn: %v", err)
		}
	}
	if err := writer.WriteClose(); err != nil {
		t.Fatalf("WriteClose: %v", err)
	}

	inputDir := DirsFor(root, "g").Input
	entries, err := os.ReadDir(inputDir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	var names []string
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	if len(names) != 3 {
		t.Fatalf("input files = %v, want two turns plus sentinel", names)
	}
	if names[len(names)-1] != CloseSentinel && names[0] != CloseSentinel {
		// Counter-prefixed names sort after or before "close"
		// depending on content; just require its presence.
		t.Fatalf("sentinel missing from %v", names)
	}

	// Turn files decode in write order thanks to the counter prefix.
	var turnNames []string
	for _, name := range names {
		if strings.HasSuffix(name, ".json") {
			turnNames = append(turnNames, name)
		}
	}
	var first InputTurn
	data, err := os.ReadFile(filepath.Join(inputDir, turnNames[0]))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if err := json.Unmarshal(data, &first); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if first.Text != "follow-up one" {
		t.Errorf("first turn = %+v", first)
	}

	if err := writer.ClearInput(); err != nil {
		t.Fatalf("ClearInput: %v", err)
	}
	entries, err = os.ReadDir(inputDir)
	if err != nil {
		t.Fatalf("ReadDir after clear: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("input dir not empty after clear: %v", entries)
	}
}

func TestWriteCloseIdempotent(t *testing.T) {
	root := t.TempDir()
	if _, err := EnsureGroupDirs(root, "g"); err != nil {
		t.Fatalf("EnsureGroupDirs: %v", err)
	}
	writer := NewInputWriter(root, "g")
	if err := writer.WriteClose(); err != nil {
		t.Fatalf("WriteClose: %v", err)
	}
	if err := writer.WriteClose(); err != nil {
		t.Fatalf("second WriteClose: %v", err)
	}
}
