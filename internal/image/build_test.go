// SPDX-FileCopyrightText: 2024 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package image_test

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.com/kupfer/kupferbootstrap/internal/chroot"
	"gitlab.com/kupfer/kupferbootstrap/internal/image"
	"gitlab.com/kupfer/kupferbootstrap/internal/mount"
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

type imageEnv struct {
	dir      string
	builder  *image.Builder
	runner   *shell.FakeRunner
	mounter  *fakeMounter
	keysUser string
	loops    []string
}

// newImageEnv returns a builder whose losetup hands out directories as
// stand-ins for loop devices and their partitions.
func newImageEnv(t *testing.T, fail string) *imageEnv {
	t.Helper()

	env := &imageEnv{
		dir:     t.TempDir(),
		mounter: &fakeMounter{mounted: make(map[string]mount.Options)},
	}

	var mu sync.Mutex

	env.runner = &shell.FakeRunner{
		Handler: func(cmd shell.Cmd) ([]byte, error) {
			args := program(cmd)

			if fail != "" && strings.Contains(shell.Join(args), fail) {
				return nil, exitError(args, 1)
			}

			if args[0] != "losetup" || !strings.Contains(shell.Join(args), "--show") {
				return nil, nil
			}

			mu.Lock()
			defer mu.Unlock()

			loop := filepath.Join(env.dir, "dev", "loop"+strconv.Itoa(len(env.loops)))
			env.loops = append(env.loops, loop)

			for _, path := range []string{loop, loop + "p1", loop + "p2"} {
				err := os.MkdirAll(path, 0o755)
				if err != nil {
					return nil, err
				}
			}

			return []byte(loop + "\n"), nil
		},
	}

	reg := chroot.NewRegistry(chroot.Settings{
		Paths: chroot.Paths{
			Chroots:  filepath.Join(env.dir, "chroots"),
			Pacman:   filepath.Join(env.dir, "pacman"),
			Packages: filepath.Join(env.dir, "packages"),
		},
		Native: sys.X8664,
	}, env.runner)
	reg.Mounter = env.mounter
	reg.IsMounted = env.mounter.isMounted

	env.builder = &image.Builder{
		Disk:    newDisk(env.runner),
		Chroots: reg,
		CopyKeys: func(_ context.Context, root, user string) error {
			assert.Equal(t, filepath.Join(env.dir, "chroots", "rootfs_bq-paella-phosh"), root)
			env.keysUser = user

			return nil
		},
	}

	return env
}

var paellaTarget = image.Target{
	Device:     "bq-paella",
	Flavour:    "phosh",
	Arch:       sys.X8664,
	SectorSize: 4096,
}

func buildOptions(dir string) image.BuildOptions {
	return image.BuildOptions{
		InstallOptions: image.InstallOptions{
			Packages:   []string{"base-kupfer", "device-bq-paella", "flavour-phosh"},
			LocalRepos: true,
			Branch:     "dev",
			Username:   "user",
			Password:   "secret",
			Hostname:   "paella",
		},
		Dir:    filepath.Join(dir, "images"),
		SizeMB: 300,
	}
}

func fileSize(t *testing.T, path string) int64 {
	t.Helper()

	info, err := os.Stat(path)
	require.NoError(t, err)

	return info.Size()
}

func TestBuild(t *testing.T) {
	env := newImageEnv(t, "")
	opts := buildOptions(env.dir)

	path, err := env.builder.Build(context.Background(), paellaTarget, opts)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(opts.Dir, "bq-paella-phosh-full.img"), path)
	assert.EqualValues(t, 300<<20, fileSize(t, path))

	bootImg := filepath.Join(opts.Dir, "bq-paella-phosh-boot.img")
	rootImg := filepath.Join(opts.Dir, "bq-paella-phosh-root.img")

	assert.EqualValues(t, 90<<20, fileSize(t, bootImg))
	assert.EqualValues(t, 100<<20, fileSize(t, rootImg))

	// Full image and both partition images.
	require.Len(t, env.loops, 3)
	full := env.loops[0]

	for _, expected := range []string{
		"losetup -f -P --show -b 4096 " + path,
		"parted --script " + full + " mklabel msdos",
		"mkfs.ext2 -F -b 4096 -L kupfer_boot " + bootImg,
		"mkfs.ext4 -F -b 4096 -L kupfer_root " + rootImg,
		"losetup -f -P --show " + rootImg,
		"losetup -f -P --show " + bootImg,
		"pacstrap -C",
		"base-kupfer device-bq-paella flavour-phosh",
		"chpasswd",
		"kupfer-config apply",
		"dd if=" + bootImg + " of=" + full + "p1",
		"dd if=" + rootImg + " of=" + full + "p2",
		"losetup -d " + full,
	} {
		assert.True(t, env.runner.Contains(expected), "expected command: %s", expected)
	}

	assert.Equal(t, "user", env.keysUser)
	assert.Empty(t, env.mounter.mounted, "all unmounted")

	root := filepath.Join(env.dir, "chroots", "rootfs_bq-paella-phosh")

	hostname, err := os.ReadFile(filepath.Join(root, "etc", "hostname"))
	require.NoError(t, err)
	assert.Equal(t, "paella\n", string(hostname))

	pacmanConf, err := os.ReadFile(filepath.Join(root, "etc", "pacman.conf"))
	require.NoError(t, err)
	assert.Contains(t, string(pacmanConf), "\nCheckSpace\n")
	assert.Contains(t, string(pacmanConf), "[main]")
	assert.NotContains(t, string(pacmanConf), "file://")
}

func TestBuildSkipPartImages(t *testing.T) {
	env := newImageEnv(t, "")
	opts := buildOptions(env.dir)
	opts.SkipPartImages = true
	opts.BlockTarget = filepath.Join(env.dir, "target.img")

	path, err := env.builder.Build(context.Background(), paellaTarget, opts)
	require.NoError(t, err)
	assert.Equal(t, opts.BlockTarget, path)

	require.Len(t, env.loops, 1)
	full := env.loops[0]

	assert.True(t, env.runner.Contains("mkfs.ext2 -F -b 4096 -L kupfer_boot "+full+"p1"))
	assert.True(t, env.runner.Contains("mkfs.ext4 -F -b 4096 -L kupfer_root "+full+"p2"))
	assert.False(t, env.runner.Contains("dd if="))
	assert.NoFileExists(t, filepath.Join(opts.Dir, "bq-paella-phosh-boot.img"))
	assert.Empty(t, env.mounter.mounted)
}

func TestBuildFailures(t *testing.T) {
	tests := []struct {
		name   string
		fail   string
		target image.Target
		err    error
	}{
		{
			name:   "post install commands",
			fail:   "kupfer-config apply",
			target: paellaTarget,
			err:    &shell.CommandError{},
		},
		{
			name:   "pacstrap",
			fail:   "pacstrap -C",
			target: paellaTarget,
			err:    &shell.CommandError{},
		},
		{
			name: "no sector size",
			target: image.Target{
				Device:  "bq-paella",
				Flavour: "phosh",
				Arch:    sys.X8664,
			},
			err: image.ErrNoSectorSize,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newImageEnv(t, tt.fail)

			_, err := env.builder.Build(context.Background(), tt.target, buildOptions(env.dir))
			require.ErrorIs(t, err, tt.err)

			assert.Empty(t, env.mounter.mounted, "all unmounted")

			for _, loop := range env.loops {
				assert.True(t, env.runner.Contains("losetup -d "+loop), "detached %s", loop)
			}
		})
	}
}
