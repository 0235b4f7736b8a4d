// SPDX-FileCopyrightText: 2024 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package shell_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gitlab.com/kupfer/kupferbootstrap/internal/shell"
)

func TestFilesWriteFile(t *testing.T) {
	dir := t.TempDir()
	runner := &shell.FakeRunner{}
	files := shell.Files{Runner: runner}

	t.Run("native", func(t *testing.T) {
		path := filepath.Join(dir, "hostname")

		err := files.WriteFile(t.Context(), path, []byte("kupfer\n"), shell.FileOptions{Mode: 0o600})
		require.NoError(t, err)

		content, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, "kupfer\n", string(content))

		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
		assert.Empty(t, runner.Commands())
	})

	t.Run("parent missing", func(t *testing.T) {
		path := filepath.Join(dir, "missing", "file")

		err := files.WriteFile(t.Context(), path, nil, shell.FileOptions{})
		require.ErrorIs(t, err, shell.ErrParentMissing)
	})

	t.Run("parent not a directory", func(t *testing.T) {
		parent := filepath.Join(dir, "regular")
		require.NoError(t, os.WriteFile(parent, nil, 0o600))

		err := files.WriteFile(t.Context(), filepath.Join(parent, "file"), nil, shell.FileOptions{})
		require.ErrorIs(t, err, shell.ErrNotADirectory)
	})
}

func TestFilesMakeDirAndRemove(t *testing.T) {
	dir := t.TempDir()
	files := shell.Files{Runner: &shell.FakeRunner{}}
	path := filepath.Join(dir, "a", "b", "c")

	require.NoError(t, files.MakeDir(t.Context(), path, shell.FileOptions{}))

	exists, err := files.Exists(t.Context(), path)
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, files.Remove(t.Context(), filepath.Join(dir, "a"), true))

	exists, err = files.Exists(t.Context(), path)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestFilesChown(t *testing.T) {
	runner := &shell.FakeRunner{}
	files := shell.Files{Runner: runner}

	err := files.Chown(t.Context(), "/chroot/home/kupfer", "kupfer:kupfer", true)
	require.NoError(t, err)
	assert.True(t, runner.Contains("chown -R kupfer:kupfer /chroot/home/kupfer"))
}

func TestProgramsAvailable(t *testing.T) {
	assert.True(t, shell.ProgramsAvailable("sh"))
	assert.False(t, shell.ProgramsAvailable("sh", "definitely-not-a-program-kupfer"))
}
