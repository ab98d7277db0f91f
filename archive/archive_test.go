// Copyright 2026 The NanoClaw Authors
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"archive/tar"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"
)

var testStamp = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func writeWorkspace(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"notes.md":          "# groceries\n- milk\n- eggs\n",
		"memos/2026-03.txt": strings.Repeat("the quick brown fox\n", 200),
		"data/config.json":  `{"model":"default"}`,
	}
	for name, content := range files {
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("MkdirAll: %v", err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
	}
	return dir
}

func TestCreateVerifyExtract(t *testing.T) {
	for _, codec := range []Codec{CodecZstd, CodecLZ4} {
		t.Run(string(codec), func(t *testing.T) {
			workspace := writeWorkspace(t)
			dest := t.TempDir()

			result, err := Create(workspace, dest, "family", codec, testStamp)
			if err != nil {
				t.Fatalf("Create: %v", err)
			}
			wantName := "family-20260301T120000Z" + codec.extension()
			if filepath.Base(result.Path) != wantName {
				t.Fatalf("archive name = %s, want %s", filepath.Base(result.Path), wantName)
			}
			if result.Files < 3 {
				t.Fatalf("files = %d, want at least the 3 regular files", result.Files)
			}
			if result.Bytes <= 0 {
				t.Fatalf("bytes = %d, want > 0", result.Bytes)
			}
			if len(result.Digest) != 64 {
				t.Fatalf("digest = %q, want 64 hex chars", result.Digest)
			}

			if err := Verify(result.Path); err != nil {
				t.Fatalf("Verify: %v", err)
			}

			restored := t.TempDir()
			if err := Extract(result.Path, restored); err != nil {
				t.Fatalf("Extract: %v", err)
			}
			got, err := os.ReadFile(filepath.Join(restored, "memos", "2026-03.txt"))
			if err != nil {
				t.Fatalf("ReadFile: %v", err)
			}
			want, err := os.ReadFile(filepath.Join(workspace, "memos", "2026-03.txt"))
			if err != nil {
				t.Fatalf("ReadFile: %v", err)
			}
			if string(got) != string(want) {
				t.Fatal("restored content differs from original")
			}
		})
	}
}

func TestVerifyDetectsCorruption(t *testing.T) {
	workspace := writeWorkspace(t)
	dest := t.TempDir()

	result, err := Create(workspace, dest, "family", CodecZstd, testStamp)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	data, err := os.ReadFile(result.Path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	data[len(data)/2] ^= 0xff
	if err := os.WriteFile(result.Path, data, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if err := Verify(result.Path); err == nil {
		t.Fatal("Verify accepted a corrupted archive")
	}
}

func TestCreateMissingWorkspace(t *testing.T) {
	_, err := Create(filepath.Join(t.TempDir(), "absent"), t.TempDir(), "family", CodecZstd, testStamp)
	if err == nil {
		t.Fatal("Create succeeded on a missing workspace")
	}
}

func TestParseCodec(t *testing.T) {
	if codec, err := ParseCodec(""); err != nil || codec != CodecZstd {
		t.Fatalf("ParseCodec(\"\") = %v, %v, want zstd default", codec, err)
	}
	if codec, err := ParseCodec("lz4"); err != nil || codec != CodecLZ4 {
		t.Fatalf("ParseCodec(lz4) = %v, %v", codec, err)
	}
	if _, err := ParseCodec("gzip"); err == nil {
		t.Fatal("ParseCodec accepted unknown codec")
	}
}

func TestExtractRejectsTraversal(t *testing.T) {
	// Hand-build an archive whose entry climbs out of the
	// destination.
	path := filepath.Join(t.TempDir(), "evil.tar.zst")
	file, err := os.Create(path)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	encoder, err := zstd.NewWriter(file)
	if err != nil {
		t.Fatalf("zstd.NewWriter: %v", err)
	}
	tw := tar.NewWriter(encoder)
	content := []byte("owned")
	if err := tw.WriteHeader(&tar.Header{
		Name:     "../outside.txt",
		Typeflag: tar.TypeReg,
		Mode:     0o644,
		Size:     int64(len(content)),
	}); err != nil {
		t.Fatalf("WriteHeader: %v", err)
	}
	if _, err := tw.Write(content); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("tar close: %v", err)
	}
	if err := encoder.Close(); err != nil {
		t.Fatalf("zstd close: %v", err)
	}
	if err := file.Close(); err != nil {
		t.Fatalf("file close: %v", err)
	}

	parent := t.TempDir()
	dest := filepath.Join(parent, "restore")
	if err := os.MkdirAll(dest, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := Extract(path, dest); err == nil {
		t.Fatal("Extract accepted a traversal entry")
	}
	if _, err := os.Stat(filepath.Join(parent, "outside.txt")); !os.IsNotExist(err) {
		t.Fatal("traversal entry escaped the destination")
	}
}
