// SPDX-FileCopyrightText: 2024 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package pkgbuild

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"

	"github.com/google/renameio/v2"

	"gitlab.com/kupfer/kupferbootstrap/internal/shell"
)

// checksumFiles are the files whose checksums validate a cached SRCINFO.
var checksumFiles = []string{FileName, SrcinfoFile}

// SrcinfoMeta is the content of the SRCINFO cache metadata file.
type SrcinfoMeta struct {
	Checksums      map[string]string `json:"checksums"`
	BuildMode      *string           `json:"build_mode"`
	BuildNoDeps    *bool             `json:"build_nodeps"`
	SrcInitialised *string           `json:"src_initialised"`

	dir     string
	changed bool
}

// Fields returns the cached build fields.
func (m *SrcinfoMeta) Fields() BuildFields {
	var fields BuildFields
	if m.BuildMode != nil {
		fields.Mode = *m.BuildMode
	}

	if m.BuildNoDeps != nil {
		fields.NoDeps = *m.BuildNoDeps
	}

	return fields
}

// Changed reports whether the metadata differs from the file on disk.
func (m *SrcinfoMeta) Changed() bool {
	return m.changed
}

// SetSrcInitialised records the commit the sources were initialised for.
func (m *SrcinfoMeta) SetSrcInitialised(commit string) {
	m.SrcInitialised = &commit
	m.changed = true
}

// Write writes the metadata file atomically.
func (m *SrcinfoMeta) Write() error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}

	slog.Debug("Write srcinfo metadata", slog.String("dir", m.dir))

	err = renameio.WriteFile(filepath.Join(m.dir, MetaFile), data, 0o644)
	if err != nil {
		return fmt.Errorf("write %s: %w", MetaFile, err)
	}

	m.changed = false

	return nil
}

func (m *SrcinfoMeta) refreshChecksums() error {
	sums := make(map[string]string, len(checksumFiles))
	for _, name := range checksumFiles {
		sum, err := sha256File(filepath.Join(m.dir, name))
		if err != nil {
			return err
		}

		sums[name] = sum
	}

	if !maps.Equal(sums, m.Checksums) {
		m.Checksums = sums
		m.changed = true
	}

	return nil
}

func (m *SrcinfoMeta) refreshBuildFields() error {
	content, err := os.ReadFile(filepath.Join(m.dir, FileName))
	if err != nil {
		return fmt.Errorf("read %s: %w", FileName, err)
	}

	fields := ParseBuildFields(string(content))
	m.BuildMode = &fields.Mode
	m.BuildNoDeps = &fields.NoDeps
	m.changed = true

	return nil
}

// validChecksums reports whether all checksummed files exist and match.
func (m *SrcinfoMeta) validChecksums() bool {
	for _, name := range checksumFiles {
		want, exists := m.Checksums[name]
		if !exists {
			slog.Debug("No checksum available", slog.String("dir", m.dir), slog.String("file", name))
			return false
		}

		got, err := sha256File(filepath.Join(m.dir, name))
		if err != nil {
			slog.Debug("Can't checksum file", slog.String("dir", m.dir), slog.Any("error", err))
			return false
		}

		if got != want {
			slog.Debug("Checksum mismatch", slog.String("dir", m.dir), slog.String("file", name))
			return false
		}
	}

	return true
}

func readMeta(dir string) (*SrcinfoMeta, error) {
	data, err := os.ReadFile(filepath.Join(dir, MetaFile))
	if err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}

	meta := &SrcinfoMeta{dir: dir}

	err = json.Unmarshal(data, meta)
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}

	return meta, nil
}

// Srcinfo generates SRCINFO files.
type Srcinfo struct {
	Runner shell.Runner
}

// Refresh runs makepkg in dir, writes the SRCINFO file and returns its
// lines.
func (s Srcinfo) Refresh(ctx context.Context, dir string) ([]string, error) {
	slog.Info("Generating SRCINFO with makepkg", slog.String("dir", dir))

	args := append(slices.Clone(MakepkgCmd), "--printsrcinfo")

	out, err := s.Runner.Output(ctx, shell.Cmd{Args: args, Dir: dir})
	if err != nil {
		return nil, fmt.Errorf("makepkg failed to parse the PKGBUILD in %s: %w", dir, err)
	}

	err = renameio.WriteFile(filepath.Join(dir, SrcinfoFile), out, 0o644)
	if err != nil {
		return nil, fmt.Errorf("write %s: %w", SrcinfoFile, err)
	}

	return ReadSRCINFOLines(out), nil
}

// HandleDirectory returns the SRCINFO metadata and lines for the PKGBUILD
// in dir. The SRCINFO is regenerated if the cache is missing, invalid or
// force is set. Changed metadata is written back if write is set.
func (s Srcinfo) HandleDirectory(
	ctx context.Context,
	dir string,
	force bool,
	write bool,
) (*SrcinfoMeta, []string, error) {
	meta, err := readMeta(dir)
	if err != nil {
		slog.Debug("Can't use srcinfo metadata, regenerating",
			slog.String("dir", dir),
			slog.Any("error", err),
		)

		return s.generate(ctx, &SrcinfoMeta{dir: dir, changed: true}, write)
	}

	var lines []string

	_, err = os.Stat(filepath.Join(dir, SrcinfoFile))
	if errors.Is(err, fs.ErrNotExist) {
		lines, err = s.Refresh(ctx, dir)
		if err != nil {
			return nil, nil, err
		}
	}

	if !meta.validChecksums() {
		return s.generate(ctx, &SrcinfoMeta{dir: dir, changed: true}, write)
	}

	if force {
		return s.generate(ctx, meta, write)
	}

	slog.Debug("Srcinfo checksums match", slog.String("dir", dir))

	if lines == nil {
		content, err := os.ReadFile(filepath.Join(dir, SrcinfoFile))
		if err != nil {
			return nil, nil, fmt.Errorf("read %s: %w", SrcinfoFile, err)
		}

		lines = ReadSRCINFOLines(content)
	}

	if meta.BuildMode == nil || meta.BuildNoDeps == nil {
		err := meta.refreshBuildFields()
		if err != nil {
			return nil, nil, err
		}
	}

	if write && meta.changed {
		err := meta.Write()
		if err != nil {
			return nil, nil, err
		}
	}

	return meta, lines, nil
}

func (s Srcinfo) generate(
	ctx context.Context,
	meta *SrcinfoMeta,
	write bool,
) (*SrcinfoMeta, []string, error) {
	lines, err := s.Refresh(ctx, meta.dir)
	if err != nil {
		return nil, nil, err
	}

	err = meta.refreshChecksums()
	if err != nil {
		return nil, nil, err
	}

	err = meta.refreshBuildFields()
	if err != nil {
		return nil, nil, err
	}

	if write {
		err := meta.Write()
		if err != nil {
			return nil, nil, err
		}
	}

	return meta, lines, nil
}

func sha256File(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("checksum: %w", err)
	}
	defer file.Close()

	hash := sha256.New()

	_, err = io.Copy(hash, file)
	if err != nil {
		return "", fmt.Errorf("checksum %s: %w", path, err)
	}

	return hex.EncodeToString(hash.Sum(nil)), nil
}
