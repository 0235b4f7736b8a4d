// SPDX-FileCopyrightText: 2024 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package image_test

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.com/kupfer/kupferbootstrap/internal/image"
	"gitlab.com/kupfer/kupferbootstrap/internal/mount"
	"gitlab.com/kupfer/kupferbootstrap/internal/shell"
)

// program strips the sudo prefix from the command.
func program(cmd shell.Cmd) []string {
	args := cmd.Args
	if len(args) > 1 && args[0] == "sudo" && args[1] == "--" {
		return args[2:]
	}

	return args
}

func exitError(args []string, code int) error {
	return &shell.CommandError{Args: args, ExitCode: code}
}

func newDisk(runner shell.Runner) image.Disk {
	return image.Disk{Runner: runner, Loop: mount.Loop{Runner: runner}}
}

func TestBlockSize(t *testing.T) {
	tests := []struct {
		sectorSize int
		fstype     mount.FSType
		expected   int
	}{
		{sectorSize: 512, fstype: mount.FSTypeExt4, expected: 1024},
		{sectorSize: 4096, fstype: mount.FSTypeExt4, expected: 4096},
		{sectorSize: 8192, fstype: mount.FSTypeExt2, expected: 4096},
		{sectorSize: 512, fstype: "vfat", expected: 512},
	}

	for _, tt := range tests {
		t.Run(string(tt.fstype), func(t *testing.T) {
			assert.Equal(t, tt.expected, image.BlockSize(tt.sectorSize, tt.fstype))
		})
	}
}

func TestCreateFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "images", "test.img")

	require.NoError(t, image.CreateFile(path, "2M"))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.EqualValues(t, 2<<20, info.Size())

	require.NoError(t, image.CreateFile(path, "1M"))

	info, err = os.Stat(path)
	require.NoError(t, err)
	assert.EqualValues(t, 1<<20, info.Size())

	require.ErrorIs(t, image.CreateFile(path, "big"), image.ErrInvalidSize)
}

func TestDiskCommands(t *testing.T) {
	tests := []struct {
		name     string
		run      func(d image.Disk) error
		expected string
	}{
		{
			name: "partition",
			run: func(d image.Disk) error {
				return d.Partition(context.Background(), "/dev/loop3")
			},
			expected: "parted --script /dev/loop3 mklabel msdos " +
				"mkpart primary ext2 0% 100MiB mkpart primary 100MiB 100% set 1 boot on",
		},
		{
			name: "root fs",
			run: func(d image.Disk) error {
				return d.CreateRootFS(context.Background(), "/dev/loop3p2", 512)
			},
			expected: "mkfs.ext4 -F -b 1024 -L kupfer_root /dev/loop3p2",
		},
		{
			name: "boot fs",
			run: func(d image.Disk) error {
				return d.CreateBootFS(context.Background(), "/dev/loop3p1", 4096)
			},
			expected: "mkfs.ext2 -F -b 4096 -L kupfer_boot /dev/loop3p1",
		},
		{
			name: "copy",
			run: func(d image.Disk) error {
				return d.Copy(context.Background(), "boot.img", "/dev/loop3p1", image.CopyOptions{})
			},
			expected: "dd if=boot.img of=/dev/loop3p1 bs=1M oflag=direct status=progress conv=sync,noerror",
		},
		{
			name: "copy direct",
			run: func(d image.Disk) error {
				return d.Copy(context.Background(), "full.img", "/dev/sdb", image.CopyOptions{
					BlockSize:   "20M",
					DirectInput: true,
				})
			},
			expected: "dd if=full.img of=/dev/sdb bs=20M iflag=direct oflag=direct status=progress conv=sync,noerror",
		},
		{
			name: "dump file",
			run: func(d image.Disk) error {
				target, err := d.DumpFile(context.Background(), "/dev/loop3p1", "/boot.img", "/tmp/x.img")
				assert.Equal(t, "/tmp/x.img", target)

				return err
			},
			expected: "debugfs /dev/loop3p1 -R 'dump /boot.img /tmp/x.img'",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &shell.FakeRunner{}

			require.NoError(t, tt.run(newDisk(runner)))
			assert.True(t, runner.Contains(tt.expected), runner.Commands())
		})
	}

	t.Run("failure", func(t *testing.T) {
		runner := &shell.FakeRunner{
			Handler: func(cmd shell.Cmd) ([]byte, error) {
				return nil, exitError(cmd.Args, 1)
			},
		}

		err := newDisk(runner).Partition(context.Background(), "/dev/loop3")
		require.ErrorIs(t, err, &shell.CommandError{})
	})
}

func TestDumpFileDefaultTarget(t *testing.T) {
	target, err := newDisk(&shell.FakeRunner{}).DumpFile(context.Background(), "img", "aboot.img", "")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(os.TempDir(), "aboot.img"), target)
}

const fdiskList = `Disk /dev/loop7: 11 MiB, 11534336 bytes, 2816 sectors
Units: sectors of 1 * 4096 = 4096 bytes
Disklabel type: dos

Device       Boot Start  End Sectors  Size Id Type
/dev/loop7p1 *      256  511     256    1M 83 Linux
/dev/loop7p2        512 2815    2304    9M 83 Linux
`

func TestParseEndSector(t *testing.T) {
	end, err := image.ParseEndSector(fdiskList, "/dev/loop7p2")
	require.NoError(t, err)
	assert.Equal(t, 2815, end)

	end, err = image.ParseEndSector(fdiskList, "/dev/loop7p1")
	require.NoError(t, err)
	assert.Equal(t, 511, end)

	_, err = image.ParseEndSector(fdiskList, "/dev/loop8p2")
	require.ErrorIs(t, err, image.ErrNoEndSector)
}

type shrinkRunner struct {
	e2fsckCode int
	fdiskCode  int
	resized    string
	list       string
	script     string
}

func (s *shrinkRunner) handle(cmd shell.Cmd) ([]byte, error) {
	args := program(cmd)

	switch {
	case args[0] == "e2fsck" && s.e2fsckCode > 0:
		return nil, exitError(args, s.e2fsckCode)
	case args[0] == "resize2fs":
		return []byte(s.resized), nil
	case args[0] == "fdisk" && args[len(args)-2] == "-l":
		return []byte(s.list), nil
	case args[0] == "fdisk":
		script, _ := io.ReadAll(cmd.Stdin)
		s.script = string(script)

		if s.fdiskCode > 0 {
			return nil, exitError(args, s.fdiskCode)
		}
	}

	return nil, nil
}

func TestShrink(t *testing.T) {
	resized := "Resizing the filesystem on /dev/loop7p2 to 2304 (4k) blocks.\n" +
		"The filesystem on /dev/loop7p2 is now 2304 (4k) blocks long.\n"

	tests := []struct {
		name        string
		runner      shrinkRunner
		sectorSize  int
		expectedErr error
	}{
		{
			name:       "success",
			runner:     shrinkRunner{e2fsckCode: 1, fdiskCode: 1, resized: resized, list: fdiskList},
			sectorSize: 4096,
		},
		{
			name:        "uncorrected fs errors",
			runner:      shrinkRunner{e2fsckCode: 4},
			sectorSize:  4096,
			expectedErr: image.ErrFilesystemCheck,
		},
		{
			name:        "no block count",
			runner:      shrinkRunner{resized: "nothing to do"},
			sectorSize:  4096,
			expectedErr: image.ErrShrink,
		},
		{
			name:        "fdisk fails",
			runner:      shrinkRunner{fdiskCode: 2, resized: resized},
			sectorSize:  4096,
			expectedErr: image.ErrShrink,
		},
		{
			name:        "no end sector",
			runner:      shrinkRunner{resized: resized, list: "nothing"},
			sectorSize:  4096,
			expectedErr: image.ErrNoEndSector,
		},
		{
			name:        "no sector size",
			expectedErr: image.ErrNoSectorSize,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			file := filepath.Join(t.TempDir(), "full.img")
			require.NoError(t, image.CreateFile(file, "20M"))

			runner := &shell.FakeRunner{Handler: tt.runner.handle}

			err := newDisk(runner).Shrink(context.Background(), "/dev/loop7", file, tt.sectorSize)
			require.ErrorIs(t, err, tt.expectedErr)

			if tt.expectedErr != nil {
				return
			}

			info, err := os.Stat(file)
			require.NoError(t, err)
			assert.EqualValues(t, 2816*4096, info.Size())

			assert.Equal(t, "d\n2\nn\np\n2\n\n+2304\nw\nq\n", tt.runner.script)
			assert.True(t, runner.Contains("e2fsck -fy /dev/loop7p2"))
			assert.True(t, runner.Contains("fdisk -b 4096 -l /dev/loop7"))
			assert.True(t, strings.HasSuffix(runner.Commands()[len(runner.Commands())-1], "partprobe /dev/loop7"))
		})
	}
}
