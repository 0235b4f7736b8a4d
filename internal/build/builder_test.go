// SPDX-FileCopyrightText: 2024 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package build_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.com/kupfer/kupferbootstrap/internal/build"
	"gitlab.com/kupfer/kupferbootstrap/internal/chroot"
	"gitlab.com/kupfer/kupferbootstrap/internal/distro"
	"gitlab.com/kupfer/kupferbootstrap/internal/mount"
	"gitlab.com/kupfer/kupferbootstrap/internal/pkgbuild"
	"gitlab.com/kupfer/kupferbootstrap/internal/shell"
	"gitlab.com/kupfer/kupferbootstrap/internal/sys"
)

type fakeMounter struct {
	mu      sync.Mutex
	mounted map[string]mount.Options
}

func (m *fakeMounter) Mount(_ context.Context, target string, opts mount.Options) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.mounted[target] = opts

	return nil
}

func (m *fakeMounter) Unmount(_ context.Context, target string, _ bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.mounted, target)

	return nil
}

func (m *fakeMounter) isMounted(target string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, found := m.mounted[target]

	return found, nil
}

type fakeBinfmt struct {
	mu    sync.Mutex
	calls []sys.Arch
}

func (b *fakeBinfmt) Register(_ context.Context, arch sys.Arch) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.calls = append(b.calls, arch)

	return nil
}

// testPkgbuild is a PKGBUILD directory of the test tree. Product is the
// package file the fake makepkg leaves behind.
type testPkgbuild struct {
	path    string
	mode    string
	srcinfo string
	product string
}

type buildEnv struct {
	builder *build.Builder
	runner  *shell.FakeRunner
	binfmt  *fakeBinfmt
	paths   chroot.Paths
	builds  atomic.Int32
}

const buildCmd = "--skippgpcheck --needed --noconfirm --ignorearch"

func srcinfo(name, version string, arches []string, depends ...string) string {
	pkgver, pkgrel, _ := strings.Cut(version, "-")

	var builder strings.Builder

	builder.WriteString("pkgbase = " + name + "\n\tpkgver = " + pkgver + "\n\tpkgrel = " + pkgrel + "\n")

	for _, arch := range arches {
		builder.WriteString("\tarch = " + arch + "\n")
	}

	for _, dep := range depends {
		builder.WriteString("\tdepends = " + dep + "\n")
	}

	builder.WriteString("\npkgname = " + name + "\n")

	return builder.String()
}

func newBuildEnv(t *testing.T, opts build.Options, pkgbuilds ...testPkgbuild) *buildEnv {
	t.Helper()

	dir := t.TempDir()
	env := &buildEnv{
		binfmt: &fakeBinfmt{},
		paths: chroot.Paths{
			Chroots:   filepath.Join(dir, "chroots"),
			Pacman:    filepath.Join(dir, "pacman"),
			Packages:  filepath.Join(dir, "packages"),
			Pkgbuilds: filepath.Join(dir, "pkgbuilds"),
			CCache:    filepath.Join(dir, "ccache"),
			Rust:      filepath.Join(dir, "rust"),
		},
	}

	repos := []string{"main", "cross"}
	for _, repo := range repos {
		require.NoError(t, os.MkdirAll(filepath.Join(env.paths.Pkgbuilds, repo), 0o755))
	}

	srcinfos := make(map[string]string)
	products := make(map[string]string)

	for _, p := range pkgbuilds {
		writeFile(t, filepath.Join(env.paths.Pkgbuilds, p.path, "PKGBUILD"), "_mode="+p.mode+"\n")
		srcinfos[p.path] = p.srcinfo
		products[p.path] = p.product
	}

	env.runner = &shell.FakeRunner{
		Handler: func(cmd shell.Cmd) ([]byte, error) {
			last := cmd.Args[len(cmd.Args)-1]

			switch {
			case last == "--printsrcinfo":
				rel, err := filepath.Rel(env.paths.Pkgbuilds, cmd.Dir)
				if err != nil {
					return nil, err
				}

				return []byte(srcinfos[rel]), nil
			case strings.Contains(last, buildCmd):
				env.builds.Add(1)

				rel, _, _ := strings.Cut(strings.TrimPrefix(last, "cd "+chroot.ChrootPkgbuildsDir+"/"), " && ")
				product := filepath.Join(env.paths.Pkgbuilds, rel, products[rel])

				return nil, os.WriteFile(product, []byte("built "+rel), 0o644)
			}

			return nil, nil
		},
	}

	mounter := &fakeMounter{mounted: make(map[string]mount.Options)}
	reg := chroot.NewRegistry(chroot.Settings{
		Paths:  env.paths,
		Native: sys.X8664,
	}, env.runner)
	reg.Mounter = mounter
	reg.IsMounted = mounter.isMounted

	env.builder = &build.Builder{
		Chroots: reg,
		Tree:    pkgbuild.NewTree(env.paths.Pkgbuilds, repos, env.runner),
		Repo: &build.LocalRepo{
			Dir:         env.paths.Packages,
			PacmanCache: env.paths.Pacman,
			Repos:       repos,
			Arches:      []sys.Arch{sys.X8664, sys.AArch64},
			Runner:      env.runner,
		},
		Binfmt:  env.binfmt,
		Runner:  env.runner,
		Options: opts,
	}

	return env
}

var crossPkgbuilds = []testPkgbuild{
	{
		path:    "cross/crossdirect",
		mode:    "host",
		srcinfo: srcinfo("crossdirect", "1-1", []string{"x86_64"}),
		product: "crossdirect-1-1-x86_64.pkg.tar.zst",
	},
	{
		path:    "cross/qemu-user-static-bin",
		mode:    "host",
		srcinfo: srcinfo("qemu-user-static-bin", "1-1", []string{"x86_64"}),
		product: "qemu-user-static-bin-1-1-x86_64.pkg.tar.zst",
	},
	{
		path:    "cross/binfmt-qemu-static",
		mode:    "host",
		srcinfo: srcinfo("binfmt-qemu-static", "1-1", []string{"x86_64"}),
		product: "binfmt-qemu-static-1-1-x86_64.pkg.tar.zst",
	},
}

// prebuildCross puts the qemu and crossdirect packages into the local cross
// repo of the native arch.
func (e *buildEnv) prebuildCross(t *testing.T) string {
	t.Helper()

	dir := filepath.Join(e.paths.Packages, "x86_64", "cross")
	descs := make(map[string]string)

	for _, p := range crossPkgbuilds {
		name := filepath.Base(p.path)
		writeFile(t, filepath.Join(dir, p.product), "prebuilt")
		descs[name+"-1-1"] = desc(name, "1-1", "x86_64")
	}

	db := string(remoteDB(t, descs))
	writeFile(t, filepath.Join(dir, "cross.db"), db)
	writeFile(t, filepath.Join(dir, "cross.db"+build.DBExtension), db)

	return dir
}

func TestBuildPathsNative(t *testing.T) {
	env := newBuildEnv(t, build.Options{CCache: true, Threads: 2, UID: 1000}, testPkgbuild{
		path:    "main/foo",
		mode:    "host",
		srcinfo: srcinfo("foo", "1.0-1", []string{"x86_64", "aarch64"}, "bar"),
		product: "foo-1.0-1-x86_64.pkg.tar.zst",
	})

	files, err := env.builder.BuildPaths(t.Context(), []string{"main/foo"}, sys.X8664, build.Flags{})
	require.NoError(t, err)

	target := filepath.Join(env.paths.Packages, "x86_64", "main", "foo-1.0-1-x86_64.pkg.tar.zst")
	assert.Equal(t, []string{target}, files)
	assert.Equal(t, "built main/foo", readFile(t, target))
	assert.NoFileExists(t, filepath.Join(env.paths.Pkgbuilds, "main", "foo", "foo-1.0-1-x86_64.pkg.tar.zst"))
	assert.EqualValues(t, 1, env.builds.Load())
	assert.Empty(t, env.binfmt.calls)

	for _, expected := range []string{
		"pacstrap -C",
		"rsync -a --delete",
		"-y bar ccache",
		"git config --global --add safe.directory",
		"--nobuild --holdver --nodeps --skippgpcheck",
		"makepkg --config /etc/makepkg.conf " + buildCmd + " --holdver --syncdeps",
		"repo-add --remove " + filepath.Join(env.paths.Packages, "x86_64", "main", "main.db.tar.zst"),
	} {
		assert.True(t, env.runner.Contains(expected), expected)
	}

	t.Run("built already", func(t *testing.T) {
		files, err := env.builder.BuildPaths(t.Context(), []string{"foo"}, sys.X8664, build.Flags{})
		require.NoError(t, err)
		assert.Empty(t, files)
		assert.EqualValues(t, 1, env.builds.Load())
	})

	t.Run("force", func(t *testing.T) {
		files, err := env.builder.BuildPaths(t.Context(), []string{"foo"}, sys.X8664, build.Flags{Force: true})
		require.NoError(t, err)
		assert.Equal(t, []string{target}, files)
		assert.EqualValues(t, 2, env.builds.Load())
	})

	t.Run("unknown path", func(t *testing.T) {
		_, err := env.builder.BuildPaths(t.Context(), []string{"main/nope"}, sys.X8664, build.Flags{})
		require.ErrorIs(t, err, pkgbuild.ErrNoMatch)
	})
}

func TestBuildPathsAnyArch(t *testing.T) {
	env := newBuildEnv(t, build.Options{UID: 1000}, testPkgbuild{
		path:    "main/foo-config",
		mode:    "host",
		srcinfo: srcinfo("foo-config", "2-1", []string{"any"}),
		product: "foo-config-2-1-any.pkg.tar.zst",
	})

	_, err := env.builder.BuildPaths(t.Context(), []string{"main/foo-config"}, sys.X8664, build.Flags{})
	require.NoError(t, err)

	for _, arch := range []string{"x86_64", "aarch64"} {
		assert.FileExists(t, filepath.Join(env.paths.Packages, arch, "main", "foo-config-2-1-any.pkg.tar.zst"), arch)
	}

	assert.False(t, env.runner.Contains("ccache"))
}

func TestEnableQemuBinfmt(t *testing.T) {
	env := newBuildEnv(t, build.Options{UID: 1000}, crossPkgbuilds...)
	dir := env.prebuildCross(t)

	require.NoError(t, env.builder.EnableQemuBinfmt(t.Context(), sys.AArch64))
	require.NoError(t, env.builder.EnableQemuBinfmt(t.Context(), sys.AArch64))
	require.NoError(t, env.builder.EnableQemuBinfmt(t.Context(), sys.X8664))

	assert.Equal(t, []sys.Arch{sys.AArch64}, env.binfmt.calls)
	assert.Zero(t, env.builds.Load())
	assert.True(t, env.runner.Contains("pacman -U --noconfirm --needed "+
		filepath.Join(dir, "qemu-user-static-bin-1-1-x86_64.pkg.tar.zst")+" "+
		filepath.Join(dir, "binfmt-qemu-static-1-1-x86_64.pkg.tar.zst")))

	err := env.builder.EnableQemuBinfmt(t.Context(), "mips")
	require.ErrorIs(t, err, sys.ErrArchNotSupported)
}

func TestEnableQemuBinfmtMissingPackage(t *testing.T) {
	env := newBuildEnv(t, build.Options{UID: 1000}, crossPkgbuilds...)
	dir := env.prebuildCross(t)

	empty := string(remoteDB(t, map[string]string{}))
	writeFile(t, filepath.Join(dir, "cross.db"), empty)
	writeFile(t, filepath.Join(dir, "cross.db"+build.DBExtension), empty)

	err := env.builder.EnableQemuBinfmt(t.Context(), sys.AArch64)
	require.ErrorIs(t, err, distro.ErrNotFound)
	assert.Empty(t, env.binfmt.calls)
}

func TestBuildPathsCrossCompile(t *testing.T) {
	pkgbuilds := append([]testPkgbuild{{
		path:    "main/foo",
		mode:    "cross",
		srcinfo: srcinfo("foo", "1.0-1", []string{"x86_64", "aarch64"}),
		product: "foo-1.0-1-aarch64.pkg.tar.zst",
	}}, crossPkgbuilds...)

	env := newBuildEnv(t, build.Options{Crosscompile: true, UID: 1000}, pkgbuilds...)
	env.prebuildCross(t)

	files, err := env.builder.BuildPaths(t.Context(), []string{"main/foo"}, sys.AArch64, build.Flags{})
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(env.paths.Packages, "aarch64", "main", "foo-1.0-1-aarch64.pkg.tar.zst"),
	}, files)
	assert.Equal(t, []sys.Arch{sys.AArch64}, env.binfmt.calls)
	assert.True(t, env.runner.Contains("makepkg --config /etc/makepkg_cross_aarch64.conf "+buildCmd+" --holdver --nodeps"))
	assert.True(t, env.runner.Contains("aarch64-linux-gnu-gcc"))
	assert.FileExists(t, filepath.Join(env.paths.Chroots, "build_x86_64", "etc", "makepkg_cross_aarch64.conf"))
}

func TestBuildPathsSkipsUnsupportedArch(t *testing.T) {
	env := newBuildEnv(t, build.Options{}, testPkgbuild{
		path:    "main/foo",
		mode:    "host",
		srcinfo: srcinfo("foo", "1.0-1", []string{"x86_64"}),
		product: "foo-1.0-1-x86_64.pkg.tar.zst",
	})

	_, err := env.builder.BuildPaths(t.Context(), []string{"main/foo"}, sys.AArch64, build.Flags{})
	require.ErrorIs(t, err, pkgbuild.ErrNoMatch)
	assert.Zero(t, env.builds.Load())
}
