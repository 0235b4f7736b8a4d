// SPDX-FileCopyrightText: 2024 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package flash_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.com/kupfer/kupferbootstrap/internal/flash"
	"gitlab.com/kupfer/kupferbootstrap/internal/image"
	"gitlab.com/kupfer/kupferbootstrap/internal/mount"
	"gitlab.com/kupfer/kupferbootstrap/internal/shell"
)

const fdiskList = `Disk /dev/loop7: 11 MiB, 11534336 bytes, 2816 sectors
Units: sectors of 1 * 4096 = 4096 bytes

Device       Boot Start  End Sectors  Size Id Type
/dev/loop7p1 *      256  511     256    1M 83 Linux
/dev/loop7p2        512 2815    2304    9M 83 Linux
`

const resized = "The filesystem on /dev/loop7p2 is now 2304 (4k) blocks long.\n"

func program(cmd shell.Cmd) []string {
	if len(cmd.Args) > 1 && cmd.Args[0] == "sudo" && cmd.Args[1] == "--" {
		return cmd.Args[2:]
	}

	return cmd.Args
}

type device struct {
	runner   *shell.FakeRunner
	flasher  *flash.Flasher
	byID     string
	image    string
	sizes    map[string]string
	failures map[string]bool
	copied   string
}

// newDevice returns a flasher whose commands act on a fake loop device
// /dev/loop7 and whose disks are the files in a by-id directory.
func newDevice(t *testing.T) *device {
	t.Helper()

	dir := t.TempDir()
	d := &device{
		byID:     filepath.Join(dir, "by-id"),
		image:    filepath.Join(dir, "bq-paella-phosh-full.img"),
		sizes:    make(map[string]string),
		failures: make(map[string]bool),
	}

	require.NoError(t, os.MkdirAll(d.byID, 0o755))
	require.NoError(t, image.CreateFile(d.image, "20M"))

	d.runner = &shell.FakeRunner{Handler: d.handle}
	d.flasher = &flash.Flasher{
		Disk:     image.Disk{Runner: d.runner, Loop: mount.Loop{Runner: d.runner}},
		Fastboot: flash.Fastboot{Runner: d.runner},
		DiskByID: d.byID,
		TempDir:  dir,
	}

	return d
}

// addDisk creates a disk node and its by-id link.
func (d *device) addDisk(t *testing.T, id, size string) string {
	t.Helper()

	node := filepath.Join(filepath.Dir(d.byID), "sd"+string(rune('a'+len(d.sizes))))
	require.NoError(t, os.WriteFile(node, nil, 0o600))
	require.NoError(t, os.Symlink(node, filepath.Join(d.byID, id)))

	d.sizes[node] = size

	return node
}

func (d *device) handle(cmd shell.Cmd) ([]byte, error) {
	args := program(cmd)

	if d.failures[args[0]] {
		return nil, &shell.CommandError{Args: args, ExitCode: 1}
	}

	switch args[0] {
	case "cp":
		data, err := os.ReadFile(args[2])
		if err != nil {
			return nil, err
		}

		d.copied = args[3]

		return nil, os.WriteFile(args[3], data, 0o600)
	case "losetup":
		return []byte("/dev/loop7\n"), nil
	case "lsblk":
		return []byte(fmt.Sprintf("SIZE\n %s\n", d.sizes[args[1]])), nil
	case "resize2fs":
		return []byte(resized), nil
	case "fdisk":
		if args[len(args)-2] == "-l" {
			return []byte(fdiskList), nil
		}
	}

	return nil, nil
}

func TestParsePart(t *testing.T) {
	part, err := flash.ParsePart("lk2nd")
	require.NoError(t, err)
	assert.Equal(t, flash.PartLK2nd, part)

	_, err = flash.ParsePart("boot")
	require.ErrorIs(t, err, flash.ErrUnknownPart)
}

func TestResolveLocation(t *testing.T) {
	d := newDevice(t)
	emmc := d.addDisk(t, "usb-Jumpdrive_eMMC_0123-0:0", "29.1G")
	d.addDisk(t, "usb-Jumpdrive_microSD_0123-0:1", "0B")
	d.addDisk(t, "ata-Samsung_SSD", "1T")

	ctx := context.Background()

	path, err := d.flasher.ResolveLocation(ctx, "emmc")
	require.NoError(t, err)
	assert.Equal(t, emmc, path)

	path, err = d.flasher.ResolveLocation(ctx, "/dev/sdz")
	require.NoError(t, err)
	assert.Equal(t, "/dev/sdz", path)

	_, err = d.flasher.ResolveLocation(ctx, "microsd")
	require.ErrorIs(t, err, flash.ErrEmptyDisk)

	_, err = d.flasher.ResolveLocation(ctx, "nvme")
	require.ErrorIs(t, err, flash.ErrInvalidLocation)

	d.failures["lsblk"] = true
	_, err = d.flasher.ResolveLocation(ctx, "emmc")
	require.ErrorIs(t, err, &shell.CommandError{})
}

func TestResolveLocationNoJumpdrive(t *testing.T) {
	d := newDevice(t)
	d.addDisk(t, "ata-Samsung_SSD", "1T")

	_, err := d.flasher.ResolveLocation(context.Background(), "emmc")
	require.ErrorIs(t, err, flash.ErrNoJumpdrive)
}

func TestFlashRootfs(t *testing.T) {
	d := newDevice(t)
	emmc := d.addDisk(t, "usb-Jumpdrive_eMMC_0123-0:0", "29.1G")

	err := d.flasher.Flash(context.Background(), d.image, flash.PartRootfs, "emmc", 4096)
	require.NoError(t, err)

	require.NotEmpty(t, d.copied)
	assert.Equal(t, "minimal-bq-paella-phosh-full.img", filepath.Base(d.copied))
	assert.NoFileExists(t, d.copied, "working copy removed")

	for _, expected := range []string{
		"losetup -f -P --show -b 4096 " + d.copied,
		"e2fsck -fy /dev/loop7p2",
		"losetup -d /dev/loop7",
		"dd if=" + d.copied + " of=" + emmc + " bs=20M iflag=direct oflag=direct status=progress conv=sync,noerror",
	} {
		assert.True(t, d.runner.Contains(expected), "expected command: %s", expected)
	}

	info, err := os.Stat(d.image)
	require.NoError(t, err)
	assert.EqualValues(t, 20<<20, info.Size(), "original image untouched")
}

func TestFlashRootfsErrors(t *testing.T) {
	t.Run("no location", func(t *testing.T) {
		d := newDevice(t)

		err := d.flasher.Flash(context.Background(), d.image, flash.PartRootfs, "", 4096)
		require.ErrorIs(t, err, flash.ErrNoLocation)
	})

	t.Run("shrink fails", func(t *testing.T) {
		d := newDevice(t)
		d.failures["resize2fs"] = true

		err := d.flasher.Flash(context.Background(), d.image, flash.PartRootfs, "/dev/sdz", 4096)
		require.ErrorIs(t, err, &shell.CommandError{})

		assert.True(t, d.runner.Contains("losetup -d /dev/loop7"))
		assert.False(t, d.runner.Contains("dd "))
	})
}

func TestFlashBootloader(t *testing.T) {
	tests := []struct {
		part      flash.Part
		file      string
		partition string
	}{
		{part: flash.PartAboot, file: "aboot.img", partition: "aboot"},
		{part: flash.PartLK2nd, file: "lk2nd.img", partition: "lk2nd"},
		{part: flash.PartQhypstub, file: "qhypstub.img", partition: "qhypstub"},
	}

	for _, tt := range tests {
		t.Run(string(tt.part), func(t *testing.T) {
			d := newDevice(t)

			err := d.flasher.Flash(context.Background(), d.image, tt.part, "", 4096)
			require.NoError(t, err)

			cmds := d.runner.Cmds()
			require.GreaterOrEqual(t, len(cmds), 3)

			dump := program(cmds[len(cmds)-3])
			require.Equal(t, []string{"debugfs", "/dev/loop7p1", "-R"}, dump[:3])
			assert.Regexp(t, "^dump /"+tt.file+" .*/"+tt.file+"$", dump[3])

			target := dump[3][len("dump /"+tt.file+" "):]
			assert.Equal(t, []string{"losetup", "-d", "/dev/loop7"}, program(cmds[len(cmds)-2]))
			assert.Equal(t, []string{"fastboot", "flash", tt.partition, target}, cmds[len(cmds)-1].Args)
		})
	}
}

func TestBoot(t *testing.T) {
	var requested []string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requested = append(requested, r.URL.Path)
		_, _ = w.Write([]byte("jumpdrive"))
	}))
	t.Cleanup(server.Close)

	t.Run("jumpdrive", func(t *testing.T) {
		d := newDevice(t)
		booter := flash.Booter{
			Flasher:      d.flasher,
			JumpdriveDir: t.TempDir(),
			JumpdriveURL: server.URL,
		}

		ctx := context.Background()
		require.NoError(t, booter.Boot(ctx, "bq-paella", d.image, flash.BootJumpdrive, 4096))
		require.NoError(t, booter.Boot(ctx, "bq-paella", d.image, flash.BootJumpdrive, 4096))

		path := filepath.Join(booter.JumpdriveDir, "boot-bq-paella.img")
		assert.FileExists(t, path)
		assert.Equal(t, []string{"/0.8/boot-bq-paella.img"}, requested, "cached")
		assert.Equal(t, []string{
			"fastboot boot " + path,
			"fastboot boot " + path,
		}, d.runner.Commands())
	})

	t.Run("boot image", func(t *testing.T) {
		d := newDevice(t)
		booter := flash.Booter{Flasher: d.flasher}

		require.NoError(t, booter.Boot(context.Background(), "oneplus-enchilada", d.image, flash.BootImage, 4096))

		cmds := d.runner.Cmds()
		assert.Contains(t, program(cmds[len(cmds)-3])[3], "dump /boot.img ")
		assert.Equal(t, "fastboot", cmds[len(cmds)-1].Args[0])
		assert.Equal(t, "boot", cmds[len(cmds)-1].Args[1])
	})

	t.Run("errors", func(t *testing.T) {
		d := newDevice(t)
		booter := flash.Booter{Flasher: d.flasher}
		ctx := context.Background()

		err := booter.Boot(ctx, "pine64-pinephone", d.image, flash.BootImage, 4096)
		require.ErrorIs(t, err, flash.ErrNoBootStrategy)

		err = booter.Boot(ctx, "bq-paella", d.image, "recovery", 4096)
		require.ErrorIs(t, err, flash.ErrUnknownBootType)

		d.failures["fastboot"] = true
		err = booter.Boot(ctx, "bq-paella", d.image, flash.BootImage, 4096)
		require.ErrorIs(t, err, &shell.CommandError{})
	})
}
