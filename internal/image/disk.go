// SPDX-FileCopyrightText: 2024 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package image

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"gitlab.com/kupfer/kupferbootstrap/internal/mount"
	"gitlab.com/kupfer/kupferbootstrap/internal/shell"
)

// Partition numbers on full images.
const (
	BootPartition = 1
	RootPartition = 2
)

// File system labels.
const (
	RootLabel = "kupfer_root"
	BootLabel = "kupfer_boot"
)

const (
	maxBlockSize    = 4096
	minExtBlockSize = 1024

	// e2fsck exit codes above this mean uncorrected errors.
	e2fsckMaxExitCode = 2
	// fdisk exits with 1 if the kernel did not re-read the partition table.
	fdiskMaxExitCode = 1
)

// CreateFile creates or resizes a sparse image file. Block devices are left
// untouched.
func CreateFile(path, size string) error {
	bytes, err := ParseSize(size)
	if err != nil {
		return err
	}

	info, err := os.Stat(path)
	if err == nil && info.Mode()&os.ModeDevice != 0 {
		slog.Debug("Not resizing block device", slog.String("path", path))
		return nil
	}

	err = os.MkdirAll(filepath.Dir(path), 0o755)
	if err != nil {
		return fmt.Errorf("create image dir: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("create image: %w", err)
	}
	defer file.Close()

	err = file.Truncate(bytes)
	if err != nil {
		return fmt.Errorf("allocate %s: %w", path, err)
	}

	return nil
}

// BlockSize returns the file system block size for the device sector size.
// It is at most the page size and at least 1024 for ext file systems.
func BlockSize(sectorSize int, fstype mount.FSType) int {
	size := min(sectorSize, maxBlockSize)
	if strings.HasPrefix(string(fstype), "ext") {
		size = max(size, minExtBlockSize)
	}

	return size
}

// Disk runs the partitioning and file system tools.
type Disk struct {
	Runner shell.Runner
	Loop   mount.Loop
}

// NewDisk returns a [Disk] using runner.
func NewDisk(runner shell.Runner) Disk {
	return Disk{Runner: runner, Loop: mount.NewLoop(runner)}
}

func (d Disk) run(ctx context.Context, args ...string) error {
	return d.Runner.Run(ctx, shell.Command(shell.Sudo(args...)...)) //nolint:wrapcheck
}

// Attach attaches the image to a loop device and rescans its partitions.
func (d Disk) Attach(ctx context.Context, path string, sectorSize int) (string, error) {
	slog.Debug("Attaching image",
		slog.String("path", path),
		slog.Int("sector_size", sectorSize),
	)

	device, err := d.Loop.Attach(ctx, path, sectorSize)
	if err != nil {
		return "", err //nolint:wrapcheck
	}

	return device, d.Partprobe(ctx, device)
}

// Partprobe makes the kernel re-read the partition table of device.
func (d Disk) Partprobe(ctx context.Context, device string) error {
	err := d.run(ctx, "partprobe", device)
	if err != nil {
		return fmt.Errorf("partprobe %s: %w", device, err)
	}

	return nil
}

// Partition writes an msdos partition table with a bootable boot partition
// and a root partition filling the rest of device.
func (d Disk) Partition(ctx context.Context, device string) error {
	err := d.run(ctx,
		"parted", "--script", device,
		"mklabel", "msdos",
		"mkpart", "primary", "ext2", "0%", BootPartitionSize,
		"mkpart", "primary", BootPartitionSize, "100%",
		"set", strconv.Itoa(BootPartition), "boot", "on",
	)
	if err != nil {
		return fmt.Errorf("create partitions on %s: %w", device, err)
	}

	return nil
}

// MakeFS creates a file system of type fstype on device.
func (d Disk) MakeFS(ctx context.Context, device string, fstype mount.FSType, label string, sectorSize int) error {
	args := []string{
		"mkfs." + string(fstype),
		"-F",
		"-b", strconv.Itoa(BlockSize(sectorSize, fstype)),
	}
	if label != "" {
		args = append(args, "-L", label)
	}

	err := d.run(ctx, append(args, device)...)
	if err != nil {
		return fmt.Errorf("create %s file system on %s: %w", fstype, device, err)
	}

	return nil
}

// CreateRootFS creates the ext4 root file system.
func (d Disk) CreateRootFS(ctx context.Context, device string, sectorSize int) error {
	return d.MakeFS(ctx, device, mount.FSTypeExt4, RootLabel, sectorSize)
}

// CreateBootFS creates the ext2 boot file system.
func (d Disk) CreateBootFS(ctx context.Context, device string, sectorSize int) error {
	return d.MakeFS(ctx, device, mount.FSTypeExt2, BootLabel, sectorSize)
}

// CopyOptions configure [Disk.Copy].
type CopyOptions struct {
	// BlockSize defaults to 1M.
	BlockSize   string
	DirectInput bool
}

// Copy block copies input to output with dd.
func (d Disk) Copy(ctx context.Context, input, output string, opts CopyOptions) error {
	blockSize := opts.BlockSize
	if blockSize == "" {
		blockSize = "1M"
	}

	args := []string{"dd", "if=" + input, "of=" + output, "bs=" + blockSize}
	if opts.DirectInput {
		args = append(args, "iflag=direct")
	}

	args = append(args, "oflag=direct", "status=progress", "conv=sync,noerror")

	err := d.run(ctx, args...)
	if err != nil {
		return fmt.Errorf("copy %s to %s: %w", input, output, err)
	}

	return nil
}

// DumpFile extracts path from the ext file system in image to target using
// debugfs. If target is empty, the file is written to the temp dir.
func (d Disk) DumpFile(ctx context.Context, image, path, target string) (string, error) {
	if target == "" {
		target = filepath.Join(os.TempDir(), filepath.Base(path))
	}

	request := fmt.Sprintf("dump /%s %s", strings.TrimLeft(path, "/"), target)

	err := d.run(ctx, "debugfs", image, "-R", request)
	if err != nil {
		return "", fmt.Errorf("dump %s from %s: %w", path, image, err)
	}

	return target, nil
}

var resizedBlocks = regexp.MustCompile(`is now ([0-9]+)`)

// Shrink shrinks the root file system of the image attached to loopDevice
// to its minimum, shrinks the root partition accordingly and truncates file
// after its end.
func (d Disk) Shrink(ctx context.Context, loopDevice, file string, sectorSize int) error {
	if sectorSize <= 0 {
		return fmt.Errorf("%w: %d", ErrNoSectorSize, sectorSize)
	}

	root := mount.Partition(loopDevice, RootPartition)

	err := d.Partprobe(ctx, loopDevice)
	if err != nil {
		return err
	}

	slog.Debug("Checking file system", slog.String("device", root))

	err = d.run(ctx, "e2fsck", "-fy", root)
	if err != nil && (shell.ExitCode(err) < 0 || shell.ExitCode(err) > e2fsckMaxExitCode) {
		return fmt.Errorf("%w: %s: %w", ErrFilesystemCheck, root, err)
	}

	slog.Debug("Shrinking file system", slog.String("device", root))

	out, err := d.Runner.Output(ctx, shell.Command(shell.Sudo("resize2fs", "-M", root)...))
	if err != nil {
		return fmt.Errorf("%w: resize2fs %s: %w", ErrShrink, root, err)
	}

	match := resizedBlocks.FindSubmatch(out)
	if match == nil {
		return fmt.Errorf("%w: no block count in resize2fs output", ErrShrink)
	}

	blocks, err := strconv.Atoi(string(match[1]))
	if err != nil {
		return fmt.Errorf("%w: block count: %w", ErrShrink, err)
	}

	sectors := blocks * (maxBlockSize / sectorSize)

	slog.Debug("Shrinking partition",
		slog.String("device", root),
		slog.Int("sectors", sectors),
	)

	err = d.resizePartition(ctx, loopDevice, sectorSize, sectors)
	if err != nil {
		return err
	}

	end, err := d.endSector(ctx, loopDevice, sectorSize)
	if err != nil {
		return err
	}

	size := int64(end+1) * int64(sectorSize)

	slog.Info("Truncating image",
		slog.String("path", file),
		slog.Int64("bytes", size),
	)

	err = os.Truncate(file, size)
	if err != nil {
		return fmt.Errorf("%w: truncate %s: %w", ErrShrink, file, err)
	}

	return d.Partprobe(ctx, loopDevice)
}

func (d Disk) resizePartition(ctx context.Context, loopDevice string, sectorSize, sectors int) error {
	script := strings.Join([]string{
		"d", strconv.Itoa(RootPartition),
		"n", "p", strconv.Itoa(RootPartition), "",
		"+" + strconv.Itoa(sectors),
		"w", "q",
	}, "\n") + "\n"

	cmd := shell.Command(shell.Sudo("fdisk", "-b", strconv.Itoa(sectorSize), loopDevice)...)
	cmd.Stdin = strings.NewReader(script)

	err := d.Runner.Run(ctx, cmd)
	if err != nil && (shell.ExitCode(err) < 0 || shell.ExitCode(err) > fdiskMaxExitCode) {
		return fmt.Errorf("%w: resize partition on %s: %w", ErrShrink, loopDevice, err)
	}

	return d.Partprobe(ctx, loopDevice)
}

func (d Disk) endSector(ctx context.Context, loopDevice string, sectorSize int) (int, error) {
	out, err := d.Runner.Output(ctx, shell.Command(
		shell.Sudo("fdisk", "-b", strconv.Itoa(sectorSize), "-l", loopDevice)...,
	))
	if err != nil {
		return 0, fmt.Errorf("list partitions of %s: %w", loopDevice, err)
	}

	return ParseEndSector(string(out), mount.Partition(loopDevice, RootPartition))
}

// ParseEndSector returns the end sector of partition from fdisk -l output.
func ParseEndSector(fdiskOutput, partition string) (int, error) {
	var end int

	for line := range strings.Lines(fdiskOutput) {
		fields := strings.Fields(line)
		if len(fields) < 3 || fields[0] != partition {
			continue
		}

		endField := fields[2]
		// Bootable partitions have an asterisk in the second column.
		if fields[1] == "*" && len(fields) > 3 {
			endField = fields[3]
		}

		value, err := strconv.Atoi(endField)
		if err != nil {
			return 0, fmt.Errorf("%w: %s: %w", ErrNoEndSector, partition, err)
		}

		end = value
	}

	if end == 0 {
		return 0, fmt.Errorf("%w: %s", ErrNoEndSector, partition)
	}

	return end, nil
}

// detachAll detaches the loop devices and logs failures.
func (d Disk) detachAll(ctx context.Context, devices []string) error {
	var errs []error

	for _, device := range devices {
		err := d.Loop.Detach(ctx, device)
		if err != nil {
			slog.Warn("Failed to detach loop device",
				slog.String("device", device),
				slog.Any("error", err),
			)

			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
