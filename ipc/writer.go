// Copyright 2026 The NanoClaw Authors
// SPDX-License-Identifier: Apache-2.0

package ipc

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Writer drops JSON files into one directory atomically. File names
// are "<counter>-<uuid>.json": the zero-padded counter preserves
// write order under lexical sorting, and the UUID keeps names unique
// across writer restarts.
type Writer struct {
	dir     string
	counter atomic.Uint64
}

// NewWriter creates a writer for a directory. The directory must
// exist.
func NewWriter(dir string) *Writer {
	return &Writer{dir: dir}
}

// Write marshals the document and drops it atomically. Returns the
// final file name.
func (w *Writer) Write(document any) (string, error) {
	data, err := json.Marshal(document)
	if err != nil {
		return "", fmt.Errorf("ipc: marshal document: %w", err)
	}

	name := fmt.Sprintf("%016d-%s.json", w.counter.Add(1), uuid.NewString())
	if err := writeAtomic(w.dir, name, data); err != nil {
		return "", err
	}
	return name, nil
}

// writeAtomic writes data to dir/name via a hidden temp file and a
// rename in the same directory, so a concurrent reader never sees a
// partial file.
func writeAtomic(dir, name string, data []byte) error {
	temp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("ipc: creating temp file in %s: %w", dir, err)
	}
	tempName := temp.Name()

	if _, err := temp.Write(data); err != nil {
		temp.Close()
		os.Remove(tempName)
		return fmt.Errorf("ipc: writing %s: %w", tempName, err)
	}
	if err := temp.Close(); err != nil {
		os.Remove(tempName)
		return fmt.Errorf("ipc: closing %s: %w", tempName, err)
	}
	if err := os.Rename(tempName, filepath.Join(dir, name)); err != nil {
		os.Remove(tempName)
		return fmt.Errorf("ipc: publishing %s: %w", name, err)
	}
	return nil
}

// InputTurn is one host-to-agent follow-up message delivered while a
// process is running.
type InputTurn struct {
	Sender string    `json:"sender"`
	Text   string    `json:"text"`
	SentAt time.Time `json:"sent_at"`
}

// InputWriter delivers follow-up turns and the close sentinel into
// one group's input directory.
type InputWriter struct {
	writer *Writer
	dir    string
}

// NewInputWriter creates an input writer for a group. The group's IPC
// subtree must already exist.
func NewInputWriter(root, folder string) *InputWriter {
	dir := DirsFor(root, folder).Input
	return &InputWriter{writer: NewWriter(dir), dir: dir}
}

// WriteTurn drops one follow-up turn.
func (w *InputWriter) WriteTurn(turn InputTurn) error {
	_, err := w.writer.Write(turn)
	return err
}

// WriteClose places the close sentinel. The agent treats it as
// end-of-input and finishes its run. Idempotent.
func (w *InputWriter) WriteClose() error {
	return writeAtomic(w.dir, CloseSentinel, nil)
}

// ClearInput removes all pending input files and the sentinel,
// preparing the directory for the next invocation.
func (w *InputWriter) ClearInput() error {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return fmt.Errorf("ipc: reading %s: %w", w.dir, err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if err := os.Remove(filepath.Join(w.dir, entry.Name())); err != nil {
			return fmt.Errorf("ipc: clearing %s: %w", w.dir, err)
		}
	}
	return nil
}
