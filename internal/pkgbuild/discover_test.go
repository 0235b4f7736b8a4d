// SPDX-FileCopyrightText: 2024 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package pkgbuild_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"gitlab.com/kupfer/kupferbootstrap/internal/pkgbuild"
	"gitlab.com/kupfer/kupferbootstrap/internal/shell"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var testSrcinfos = map[string]string{
	"main/base-kupfer": "pkgbase = base-kupfer\n\tpkgver = 1\n\tpkgrel = 1\n\tarch = any\n" +
		"\tdepends = kupfer-config>=0.2\n\tdepends = bash\n\npkgname = base-kupfer\n",
	"main/kupfer-config": "pkgbase = kupfer-config\n\tpkgver = 0.3\n\tpkgrel = 1\n\tarch = any\n" +
		"\tprovides = kupfer-conf\n\treplaces = old-config\n\npkgname = kupfer-config\n",
	"cross/crossdirect": "pkgbase = crossdirect\n\tpkgver = 2\n\tpkgrel = 1\n\tarch = x86_64\n" +
		"\tdepends = kupfer-conf\n\npkgname = crossdirect\n",
}

func writePkgbuilds(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	for path := range testSrcinfos {
		pkgDir := filepath.Join(dir, path)
		require.NoError(t, os.MkdirAll(pkgDir, 0o755))
		content := "_mode=host\npkgname=" + filepath.Base(path) + "\n"
		require.NoError(t, os.WriteFile(filepath.Join(pkgDir, "PKGBUILD"), []byte(content), 0o644))
	}

	return dir
}

func srcinfoRunner(dir string, calls *atomic.Int32) *shell.FakeRunner {
	return &shell.FakeRunner{
		Handler: func(cmd shell.Cmd) ([]byte, error) {
			calls.Add(1)

			rel, err := filepath.Rel(dir, cmd.Dir)
			if err != nil {
				return nil, err
			}

			return []byte(testSrcinfos[rel]), nil
		},
	}
}

func TestTreeDiscover(t *testing.T) {
	dir := writePkgbuilds(t)

	var calls atomic.Int32

	tree := pkgbuild.NewTree(dir, []string{"main", "cross"}, srcinfoRunner(dir, &calls))

	pkgs, err := tree.Discover(t.Context(), false)
	require.NoError(t, err)
	assert.EqualValues(t, 3, calls.Load())

	require.Contains(t, pkgs, "base-kupfer")
	require.Contains(t, pkgs, "old-config")
	assert.Same(t, pkgs["kupfer-config"], pkgs["old-config"])
	assert.Len(t, pkgbuild.Unique(pkgs), 3)

	assert.Equal(t, []string{"kupfer-config"}, pkgs["base-kupfer"].LocalDepends)
	assert.Equal(t, []string{"kupfer-conf"}, pkgs["crossdirect"].LocalDepends)
	assert.Equal(t, "cross", pkgs["crossdirect"].Repo)

	t.Run("metadata written", func(t *testing.T) {
		data, err := os.ReadFile(filepath.Join(dir, "main", "base-kupfer", pkgbuild.MetaFile))
		require.NoError(t, err)

		var meta map[string]any
		require.NoError(t, json.Unmarshal(data, &meta))
		assert.Equal(t, "host", meta["build_mode"])
		assert.Equal(t, false, meta["build_nodeps"])
		assert.Contains(t, meta["checksums"], "PKGBUILD")
		assert.Contains(t, meta["checksums"], "SRCINFO")
	})

	t.Run("cached", func(t *testing.T) {
		_, err := tree.Discover(t.Context(), false)
		require.NoError(t, err)
		assert.EqualValues(t, 3, calls.Load())
	})

	t.Run("srcinfo cache valid", func(t *testing.T) {
		fresh := pkgbuild.NewTree(dir, []string{"main", "cross"}, srcinfoRunner(dir, &calls))
		_, err := fresh.Discover(t.Context(), false)
		require.NoError(t, err)
		assert.EqualValues(t, 3, calls.Load())
	})

	t.Run("pkgbuild changed", func(t *testing.T) {
		path := filepath.Join(dir, "main", "base-kupfer", "PKGBUILD")
		require.NoError(t, os.WriteFile(path, []byte("_mode=cross\n"), 0o644))

		pkgs, err := tree.Discover(t.Context(), true)
		require.NoError(t, err)
		assert.EqualValues(t, 6, calls.Load())
		assert.Equal(t, pkgbuild.ModeCross, pkgs["base-kupfer"].Mode)
	})
}

func TestTreeNotInitialized(t *testing.T) {
	tree := pkgbuild.NewTree(t.TempDir(), []string{"main"}, &shell.FakeRunner{})
	_, err := tree.Discover(t.Context(), false)
	require.ErrorIs(t, err, pkgbuild.ErrNotInitialized)
}

func TestFilter(t *testing.T) {
	foo := &pkgbuild.Pkgbuild{Name: "foo", Path: "main/foo"}
	bar := &pkgbuild.Pkgbuild{Name: "bar", Path: "device/bar"}
	pkgs := map[string]*pkgbuild.Pkgbuild{"foo": foo, "bar": bar, "baz": bar}

	tests := []struct {
		name     string
		paths    []string
		expected []*pkgbuild.Pkgbuild
	}{
		{"all", []string{"all"}, []*pkgbuild.Pkgbuild{bar, foo}},
		{"path", []string{"main/foo"}, []*pkgbuild.Pkgbuild{foo}},
		{"name", []string{"bar"}, []*pkgbuild.Pkgbuild{bar}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := pkgbuild.Filter(pkgs, tt.paths, false)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, result)
		})
	}

	t.Run("no match", func(t *testing.T) {
		_, err := pkgbuild.Filter(pkgs, []string{"main/nope"}, false)
		require.ErrorIs(t, err, pkgbuild.ErrNoMatch)
		assert.EqualError(t, err, `no packages matched by paths: "main/nope"`)

		result, err := pkgbuild.Filter(pkgs, []string{"main/nope"}, true)
		require.NoError(t, err)
		assert.Empty(t, result)
	})
}

func TestInitRepo(t *testing.T) {
	t.Run("clone", func(t *testing.T) {
		runner := &shell.FakeRunner{}
		dir := filepath.Join(t.TempDir(), "pkgbuilds")
		tree := pkgbuild.NewTree(dir, []string{"main"}, runner)

		err := tree.InitRepo(t.Context(), pkgbuild.GitOptions{URL: "https://example.com/p.git", Branch: "dev"})
		require.NoError(t, err)
		assert.Equal(t, []string{"git clone -b dev https://example.com/p.git " + dir}, runner.Commands())
	})

	t.Run("switch and pull", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.Mkdir(filepath.Join(dir, ".git"), 0o755))

		runner := &shell.FakeRunner{
			Handler: func(cmd shell.Cmd) ([]byte, error) {
				if cmd.Args[len(cmd.Args)-1] == "--show-current" {
					return []byte("main\n"), nil
				}

				return nil, nil
			},
		}
		tree := pkgbuild.NewTree(dir, []string{"main"}, runner)

		var questions []string

		err := tree.InitRepo(t.Context(), pkgbuild.GitOptions{
			Branch: "dev",
			Update: true,
			Confirm: func(q string, _ bool) bool {
				questions = append(questions, q)
				return true
			},
		})
		require.NoError(t, err)
		assert.Len(t, questions, 2)
		assert.True(t, runner.Contains("git switch dev"))
		assert.True(t, runner.Contains("git pull"))
	})
}
