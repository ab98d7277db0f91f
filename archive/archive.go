// Copyright 2026 The NanoClaw Authors
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"archive/tar"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/zeebo/blake3"
)

// Codec selects the archive compression algorithm.
type Codec string

const (
	// CodecZstd compresses with zstd at the default level. Better
	// ratio for the text-heavy content of agent workspaces.
	CodecZstd Codec = "zstd"

	// CodecLZ4 compresses with lz4 frames. Faster, lower ratio.
	CodecLZ4 Codec = "lz4"
)

// ParseCodec parses a codec from its configuration string.
func ParseCodec(name string) (Codec, error) {
	switch name {
	case "", string(CodecZstd):
		return CodecZstd, nil
	case string(CodecLZ4):
		return CodecLZ4, nil
	default:
		return "", fmt.Errorf("archive: unknown codec %q", name)
	}
}

// extension returns the archive filename suffix for the codec.
func (c Codec) extension() string {
	switch c {
	case CodecLZ4:
		return ".tar.lz4"
	default:
		return ".tar.zst"
	}
}

// Result describes one written archive.
type Result struct {
	// Path is the archive file.
	Path string

	// DigestPath is the sidecar file holding the hex BLAKE3 digest.
	DigestPath string

	// Digest is the hex BLAKE3 digest of the compressed archive.
	Digest string

	// Files is the number of entries archived.
	Files int

	// Bytes is the compressed archive size.
	Bytes int64
}

// Create archives workspaceDir into destDir as
// <folder>-<timestamp>.tar.<ext> plus a ".b3" digest sidecar. The
// archive appears atomically: it is written to a temp file in destDir
// and renamed into place only when complete.
func Create(workspaceDir, destDir, folder string, codec Codec, now time.Time) (*Result, error) {
	if _, err := os.Stat(workspaceDir); err != nil {
		return nil, fmt.Errorf("archive: workspace: %w", err)
	}
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return nil, fmt.Errorf("archive: %w", err)
	}

	name := fmt.Sprintf("%s-%s%s", folder, now.UTC().Format("20060102T150405Z"), codec.extension())
	finalPath := filepath.Join(destDir, name)

	tmp, err := os.CreateTemp(destDir, ".tmp-archive-*")
	if err != nil {
		return nil, fmt.Errorf("archive: %w", err)
	}
	defer func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}()

	hasher := blake3.New()
	files, err := writeTar(io.MultiWriter(tmp, hasher), workspaceDir, codec)
	if err != nil {
		return nil, fmt.Errorf("archive: %s: %w", folder, err)
	}
	if err := tmp.Sync(); err != nil {
		return nil, fmt.Errorf("archive: %w", err)
	}
	size, err := tmp.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, fmt.Errorf("archive: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("archive: %w", err)
	}
	if err := os.Rename(tmp.Name(), finalPath); err != nil {
		return nil, fmt.Errorf("archive: %w", err)
	}

	digest := hex.EncodeToString(hasher.Sum(nil))
	digestPath := finalPath + ".b3"
	sidecar := fmt.Sprintf("%s  %s\n", digest, name)
	if err := os.WriteFile(digestPath, []byte(sidecar), 0o644); err != nil {
		return nil, fmt.Errorf("archive: %w", err)
	}

	return &Result{
		Path:       finalPath,
		DigestPath: digestPath,
		Digest:     digest,
		Files:      files,
		Bytes:      size,
	}, nil
}

// Verify recomputes an archive's digest and compares it to the
// sidecar.
func Verify(archivePath string) error {
	sidecar, err := os.ReadFile(archivePath + ".b3")
	if err != nil {
		return fmt.Errorf("archive: verify: %w", err)
	}
	want, _, ok := strings.Cut(strings.TrimSpace(string(sidecar)), "  ")
	if !ok || len(want) != 64 {
		return fmt.Errorf("archive: verify %s: malformed digest sidecar", archivePath)
	}

	file, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("archive: verify: %w", err)
	}
	defer file.Close()

	hasher := blake3.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return fmt.Errorf("archive: verify: %w", err)
	}
	got := hex.EncodeToString(hasher.Sum(nil))
	if got != want {
		return fmt.Errorf("archive: verify %s: digest mismatch: got %s, want %s", archivePath, got, want)
	}
	return nil
}

// Extract restores an archive into destDir. Entry names are confined
// to destDir: absolute paths and ".." traversal are rejected.
func Extract(archivePath, destDir string) error {
	file, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("archive: extract: %w", err)
	}
	defer file.Close()

	var raw io.Reader
	switch {
	case strings.HasSuffix(archivePath, ".tar.zst"):
		decoder, err := zstd.NewReader(file)
		if err != nil {
			return fmt.Errorf("archive: extract: %w", err)
		}
		defer decoder.Close()
		raw = decoder
	case strings.HasSuffix(archivePath, ".tar.lz4"):
		raw = lz4.NewReader(file)
	default:
		return fmt.Errorf("archive: extract %s: unknown extension", archivePath)
	}

	reader := tar.NewReader(raw)
	for {
		header, err := reader.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("archive: extract: %w", err)
		}
		target, err := confinedPath(destDir, header.Name)
		if err != nil {
			return err
		}
		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, fs.FileMode(header.Mode)&0o777); err != nil {
				return fmt.Errorf("archive: extract: %w", err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return fmt.Errorf("archive: extract: %w", err)
			}
			out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, fs.FileMode(header.Mode)&0o777)
			if err != nil {
				return fmt.Errorf("archive: extract: %w", err)
			}
			if _, err := io.Copy(out, reader); err != nil {
				out.Close()
				return fmt.Errorf("archive: extract %s: %w", header.Name, err)
			}
			if err := out.Close(); err != nil {
				return fmt.Errorf("archive: extract: %w", err)
			}
		case tar.TypeSymlink:
			// Symlink targets are not confined; skip them rather
			// than plant links pointing outside the restore tree.
			continue
		default:
			continue
		}
	}
}

// confinedPath joins an archive entry name onto destDir, rejecting
// names that would escape it.
func confinedPath(destDir, name string) (string, error) {
	if filepath.IsAbs(name) {
		return "", fmt.Errorf("archive: entry %q: absolute path", name)
	}
	cleaned := filepath.Clean(name)
	if cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("archive: entry %q: escapes destination", name)
	}
	return filepath.Join(destDir, cleaned), nil
}

// writeTar streams workspaceDir as a compressed tar into w and
// returns the entry count.
func writeTar(w io.Writer, workspaceDir string, codec Codec) (files int, err error) {
	var compressor io.WriteCloser
	switch codec {
	case CodecLZ4:
		compressor = lz4.NewWriter(w)
	default:
		compressor, err = zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return 0, fmt.Errorf("zstd encoder: %w", err)
		}
	}

	tw := tar.NewWriter(compressor)
	err = filepath.WalkDir(workspaceDir, func(path string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		rel, err := filepath.Rel(workspaceDir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		info, err := entry.Info()
		if err != nil {
			return err
		}

		var link string
		if info.Mode()&fs.ModeSymlink != 0 {
			if link, err = os.Readlink(path); err != nil {
				return err
			}
		}
		header, err := tar.FileInfoHeader(info, link)
		if err != nil {
			return err
		}
		header.Name = filepath.ToSlash(rel)

		switch {
		case info.IsDir(), info.Mode().IsRegular(), info.Mode()&fs.ModeSymlink != 0:
		default:
			// Sockets, fifos, devices have no business in a
			// workspace archive.
			return nil
		}

		if err := tw.WriteHeader(header); err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			files++
			return nil
		}

		file, err := os.Open(path)
		if err != nil {
			return err
		}
		defer file.Close()
		if _, err := io.Copy(tw, file); err != nil {
			return fmt.Errorf("%s: %w", rel, err)
		}
		files++
		return nil
	})
	if err != nil {
		return 0, err
	}

	if err := tw.Close(); err != nil {
		return 0, fmt.Errorf("tar: %w", err)
	}
	if err := compressor.Close(); err != nil {
		return 0, fmt.Errorf("compressor: %w", err)
	}
	return files, nil
}
