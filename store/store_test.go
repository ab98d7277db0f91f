// Copyright 2026 The NanoClaw Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/qwibitai/nanoclaw-sub016/lib/clock"
)

var epoch = time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)

func openTestStore(t *testing.T) (*Store, *clock.FakeClock) {
	t.Helper()
	fake := clock.Fake(epoch)
	store, err := Open(Config{
		Path:  filepath.Join(t.TempDir(), "nanoclaw.db"),
		Clock: fake,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return store, fake
}

func TestGroupRoundTrip(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()

	group := Group{
		Folder:  "family",
		Channel: "whatsapp",
		ChatID:  "12345@g.us",
		Name:    "nanoclaw",
		IsMain:  true,
		Image:   "nanoclaw-agent:v2",
		Mounts:  []GroupMount{{HostPath: "/srv/shared/photos", Writable: true}},
	}
	if err := store.UpsertGroup(ctx, group); err != nil {
		t.Fatalf("UpsertGroup: %v", err)
	}

	got, err := store.GroupByFolder(ctx, "family")
	if err != nil {
		t.Fatalf("GroupByFolder: %v", err)
	}
	if got == nil {
		t.Fatal("GroupByFolder returned nil for existing group")
	}
	if got.ChatID != group.ChatID || got.Name != group.Name || !got.IsMain {
		t.Errorf("got %+v, want fields from %+v", got, group)
	}
	if len(got.Mounts) != 1 || got.Mounts[0].HostPath != "/srv/shared/photos" || !got.Mounts[0].Writable {
		t.Errorf("mounts = %+v", got.Mounts)
	}
	if got.AddedAt.IsZero() {
		t.Error("AddedAt not defaulted to clock time")
	}

	byChat, err := store.GroupByChatID(ctx, "whatsapp", "12345@g.us")
	if err != nil {
		t.Fatalf("GroupByChatID: %v", err)
	}
	if byChat == nil || byChat.Folder != "family" {
		t.Errorf("GroupByChatID = %+v, want folder family", byChat)
	}

	main, err := store.MainGroup(ctx)
	if err != nil {
		t.Fatalf("MainGroup: %v", err)
	}
	if main == nil || main.Folder != "family" {
		t.Errorf("MainGroup = %+v, want folder family", main)
	}
}

func TestGroupMissing(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()

	got, err := store.GroupByFolder(ctx, "nope")
	if err != nil {
		t.Fatalf("GroupByFolder: %v", err)
	}
	if got != nil {
		t.Errorf("GroupByFolder = %+v, want nil", got)
	}
}

func TestUpsertGroupPreservesAddedAt(t *testing.T) {
	store, fake := openTestStore(t)
	ctx := context.Background()

	if err := store.UpsertGroup(ctx, Group{Folder: "g", Channel: "telegram", ChatID: "1", Name: "n"}); err != nil {
		t.Fatalf("UpsertGroup: %v", err)
	}
	first, err := store.GroupByFolder(ctx, "g")
	if err != nil {
		t.Fatalf("GroupByFolder: %v", err)
	}

	fake.Advance(time.Hour)
	if err := store.UpsertGroup(ctx, Group{Folder: "g", Channel: "telegram", ChatID: "1", Name: "renamed"}); err != nil {
		t.Fatalf("second UpsertGroup: %v", err)
	}
	second, err := store.GroupByFolder(ctx, "g")
	if err != nil {
		t.Fatalf("GroupByFolder: %v", err)
	}
	if second.Name != "renamed" {
		t.Errorf("Name = %q, want renamed", second.Name)
	}
	if !second.AddedAt.Equal(first.AddedAt) {
		t.Errorf("AddedAt changed on upsert: %v → %v", first.AddedAt, second.AddedAt)
	}
}

func TestDeleteGroupCascades(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()

	if err := store.UpsertGroup(ctx, Group{Folder: "g", Channel: "whatsapp", ChatID: "1", Name: "n"}); err != nil {
		t.Fatalf("UpsertGroup: %v", err)
	}
	if err := store.SetSession(ctx, "g", "sess-1"); err != nil {
		t.Fatalf("SetSession: %v", err)
	}
	if err := store.CreateTask(ctx, Task{ID: "t1", GroupFolder: "g", Prompt: "p", Schedule: ScheduleOnce, Context: ContextIsolated, NextRun: epoch}); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if err := store.AppendMessage(ctx, Message{GroupFolder: "g", Sender: "alice", Content: "hi"}); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}

	if err := store.DeleteGroup(ctx, "g"); err != nil {
		t.Fatalf("DeleteGroup: %v", err)
	}

	if got, _ := store.GroupByFolder(ctx, "g"); got != nil {
		t.Error("group survived delete")
	}
	if sess, _ := store.Session(ctx, "g"); sess != "" {
		t.Error("session survived delete")
	}
	if tasks, _ := store.ListTasks(ctx, "g"); len(tasks) != 0 {
		t.Error("tasks survived delete")
	}
	if msgs, _ := store.MessagesSince(ctx, "g", time.Time{}); len(msgs) != 0 {
		t.Error("messages survived delete")
	}
}

func TestSessionUpsert(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()

	sess, err := store.Session(ctx, "g")
	if err != nil {
		t.Fatalf("Session: %v", err)
	}
	if sess != "" {
		t.Errorf("fresh session = %q, want empty", sess)
	}

	if err := store.SetSession(ctx, "g", "sess-1"); err != nil {
		t.Fatalf("SetSession: %v", err)
	}
	if err := store.SetSession(ctx, "g", "sess-2"); err != nil {
		t.Fatalf("SetSession overwrite: %v", err)
	}
	sess, err = store.Session(ctx, "g")
	if err != nil {
		t.Fatalf("Session: %v", err)
	}
	if sess != "sess-2" {
		t.Errorf("session = %q, want sess-2", sess)
	}

	if err := store.ClearSession(ctx, "g"); err != nil {
		t.Fatalf("ClearSession: %v", err)
	}
	if sess, _ = store.Session(ctx, "g"); sess != "" {
		t.Errorf("session after clear = %q, want empty", sess)
	}
}

func TestDueTasks(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()

	mk := func(id string, next time.Time, status TaskStatus) {
		t.Helper()
		err := store.CreateTask(ctx, Task{
			ID: id, GroupFolder: "g", Prompt: "p",
			Schedule: ScheduleInterval, ScheduleExpr: "1h",
			Context: ContextShared, Status: status, NextRun: next,
		})
		if err != nil {
			t.Fatalf("CreateTask %s: %v", id, err)
		}
	}
	mk("due-early", epoch.Add(-2*time.Hour), TaskActive)
	mk("due-late", epoch.Add(-time.Minute), TaskActive)
	mk("future", epoch.Add(time.Hour), TaskActive)
	mk("paused", epoch.Add(-time.Hour), TaskPaused)
	mk("cancelled", epoch.Add(-time.Hour), TaskCancelled)

	due, err := store.DueTasks(ctx, epoch)
	if err != nil {
		t.Fatalf("DueTasks: %v", err)
	}
	if len(due) != 2 {
		t.Fatalf("DueTasks count = %d, want 2", len(due))
	}
	if due[0].ID != "due-early" || due[1].ID != "due-late" {
		t.Errorf("due order = %s, %s; want due-early, due-late", due[0].ID, due[1].ID)
	}
}

func TestSetTaskStatus(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()

	if err := store.CreateTask(ctx, Task{ID: "t", GroupFolder: "g", Prompt: "p", Schedule: ScheduleOnce, Context: ContextShared, NextRun: epoch}); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	changed, err := store.SetTaskStatus(ctx, "t", TaskPaused)
	if err != nil {
		t.Fatalf("SetTaskStatus: %v", err)
	}
	if !changed {
		t.Error("SetTaskStatus on existing task reported no change")
	}

	changed, err = store.SetTaskStatus(ctx, "missing", TaskPaused)
	if err != nil {
		t.Fatalf("SetTaskStatus missing: %v", err)
	}
	if changed {
		t.Error("SetTaskStatus on missing task reported change")
	}

	task, err := store.TaskByID(ctx, "t")
	if err != nil {
		t.Fatalf("TaskByID: %v", err)
	}
	if task.Status != TaskPaused {
		t.Errorf("status = %s, want paused", task.Status)
	}
}

func TestRecordTaskRun(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()

	if err := store.CreateTask(ctx, Task{ID: "t", GroupFolder: "g", Prompt: "p", Schedule: ScheduleInterval, ScheduleExpr: "30m", Context: ContextShared, NextRun: epoch}); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	next := epoch.Add(30 * time.Minute)
	if err := store.RecordTaskRun(ctx, "t", epoch, "ok", next, TaskActive, 0); err != nil {
		t.Fatalf("RecordTaskRun: %v", err)
	}

	task, err := store.TaskByID(ctx, "t")
	if err != nil {
		t.Fatalf("TaskByID: %v", err)
	}
	if !task.NextRun.Equal(next) {
		t.Errorf("NextRun = %v, want %v", task.NextRun, next)
	}
	if task.RunCount != 1 {
		t.Errorf("RunCount = %d, want 1", task.RunCount)
	}
	if !task.LastRun.Equal(epoch) || task.LastResult != "ok" {
		t.Errorf("LastRun/LastResult = %v/%q", task.LastRun, task.LastResult)
	}

	// A one-shot records zero next run and a cancelled status.
	if err := store.RecordTaskRun(ctx, "t", epoch.Add(time.Hour), "done", time.Time{}, TaskCancelled, 0); err != nil {
		t.Fatalf("RecordTaskRun final: %v", err)
	}
	task, err = store.TaskByID(ctx, "t")
	if err != nil {
		t.Fatalf("TaskByID: %v", err)
	}
	if !task.NextRun.IsZero() {
		t.Errorf("NextRun = %v, want zero", task.NextRun)
	}
	if task.Status != TaskCancelled {
		t.Errorf("status = %s, want cancelled", task.Status)
	}
}

func TestMessagesSince(t *testing.T) {
	store, fake := openTestStore(t)
	ctx := context.Background()

	for _, content := range []string{"one", "two", "three"} {
		if err := store.AppendMessage(ctx, Message{GroupFolder: "g", Sender: "alice", Content: content}); err != nil {
			t.Fatalf("AppendMessage: %v", err)
		}
		fake.Advance(time.Minute)
	}

	// Strictly after the first message's timestamp.
	got, err := store.MessagesSince(ctx, "g", epoch)
	if err != nil {
		t.Fatalf("MessagesSince: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("count = %d, want 2", len(got))
	}
	if got[0].Content != "two" || got[1].Content != "three" {
		t.Errorf("contents = %q, %q; want two, three", got[0].Content, got[1].Content)
	}

	pruned, err := store.PruneMessages(ctx, "g", epoch.Add(90*time.Second))
	if err != nil {
		t.Fatalf("PruneMessages: %v", err)
	}
	if pruned != 2 {
		t.Errorf("pruned = %d, want 2", pruned)
	}
}

func TestSetLastAgentAt(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()

	if err := store.UpsertGroup(ctx, Group{Folder: "g", Channel: "whatsapp", ChatID: "1", Name: "n"}); err != nil {
		t.Fatalf("UpsertGroup: %v", err)
	}
	at := epoch.Add(5 * time.Minute)
	if err := store.SetLastAgentAt(ctx, "g", at); err != nil {
		t.Fatalf("SetLastAgentAt: %v", err)
	}
	group, err := store.GroupByFolder(ctx, "g")
	if err != nil {
		t.Fatalf("GroupByFolder: %v", err)
	}
	if !group.LastAgentAt.Equal(at) {
		t.Errorf("LastAgentAt = %v, want %v", group.LastAgentAt, at)
	}
}
