// SPDX-FileCopyrightText: 2024 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package flash

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gitlab.com/kupfer/kupferbootstrap/internal/image"
	"gitlab.com/kupfer/kupferbootstrap/internal/mount"
	"gitlab.com/kupfer/kupferbootstrap/internal/shell"
)

// Part is a flashable part of an image.
type Part string

// Flashable parts.
const (
	PartRootfs   Part = "rootfs"
	PartAboot    Part = "aboot"
	PartLK2nd    Part = "lk2nd"
	PartQhypstub Part = "qhypstub"
)

// Parts lists all flashable parts.
var Parts = []Part{PartRootfs, PartAboot, PartLK2nd, PartQhypstub}

// bootloaderFile is a file in the boot partition and the fastboot partition
// it is flashed to.
type bootloaderFile struct {
	path      string
	partition string
}

var bootloaderFiles = map[Part]bootloaderFile{
	PartAboot:    {path: "/aboot.img", partition: "aboot"},
	PartLK2nd:    {path: "/lk2nd.img", partition: "lk2nd"},
	PartQhypstub: {path: "/qhypstub.img", partition: "qhypstub"},
}

// ParsePart parses the name of a flashable part.
func ParsePart(s string) (Part, error) {
	part := Part(s)
	if !slices.Contains(Parts, part) {
		return "", fmt.Errorf("%w %q, must be one of %s", ErrUnknownPart, s, joinParts())
	}

	return part, nil
}

func joinParts() string {
	names := make([]string, len(Parts))
	for idx, part := range Parts {
		names[idx] = string(part)
	}

	return strings.Join(names, ", ")
}

// Storage locations exposed by Jumpdrive.
const (
	LocationEMMC    = "emmc"
	LocationMicroSD = "microsd"
)

// Locations lists the Jumpdrive storage locations.
var Locations = []string{LocationEMMC, LocationMicroSD}

// DiskByIDDir holds the stable block device names.
const DiskByIDDir = "/dev/disk/by-id"

// Flasher writes images to devices.
type Flasher struct {
	Disk     image.Disk
	Fastboot Fastboot

	// DiskByID defaults to [DiskByIDDir].
	DiskByID string

	// TempDir holds working copies and extracted files. Defaults to
	// [os.TempDir].
	TempDir string
}

// New returns a [Flasher] using runner.
func New(runner shell.Runner) *Flasher {
	return &Flasher{
		Disk:     image.NewDisk(runner),
		Fastboot: Fastboot{Runner: runner},
	}
}

func (f *Flasher) runner() shell.Runner {
	return f.Disk.Runner
}

func (f *Flasher) diskByID() string {
	if f.DiskByID == "" {
		return DiskByIDDir
	}

	return f.DiskByID
}

func sanitizeDiskName(name string) string {
	return strings.ToLower(strings.NewReplacer("-", "", "_", "").Replace(name))
}

// ResolveLocation returns the block device for location. Paths in /dev are
// returned as they are. For the Jumpdrive locations the matching USB disk
// is looked up.
func (f *Flasher) ResolveLocation(ctx context.Context, location string) (string, error) {
	if strings.HasPrefix(location, "/dev/") {
		return location, nil
	}

	if !slices.Contains(Locations, location) {
		return "", fmt.Errorf("%w %q, choose one of %s",
			ErrInvalidLocation, location, strings.Join(Locations, ", "))
	}

	entries, err := os.ReadDir(f.diskByID())
	if err != nil {
		return "", fmt.Errorf("list disks: %w", err)
	}

	needle := "jumpdrive" + location

	for _, entry := range entries {
		if !strings.Contains(sanitizeDiskName(entry.Name()), needle) {
			continue
		}

		path, err := filepath.EvalSymlinks(filepath.Join(f.diskByID(), entry.Name()))
		if err != nil {
			return "", fmt.Errorf("resolve disk: %w", err)
		}

		err = f.checkSize(ctx, path)
		if err != nil {
			return "", err
		}

		slog.Info("Found Jumpdrive disk",
			slog.String("location", location),
			slog.String("path", path),
		)

		return path, nil
	}

	return "", fmt.Errorf("%w for %s", ErrNoJumpdrive, location)
}

func (f *Flasher) checkSize(ctx context.Context, path string) error {
	out, err := f.runner().Output(ctx, shell.Command("lsblk", path, "-o", "SIZE"))
	if err != nil {
		return fmt.Errorf("lsblk %s: %w", path, err)
	}

	if slices.Equal(strings.Fields(string(out)), []string{"SIZE", "0B"}) {
		return fmt.Errorf("%s: %w", path, ErrEmptyDisk)
	}

	return nil
}

// Flash writes part of the full image at imagePath. The root file system
// is shrunk to its minimum and written to location. Bootloader parts are
// extracted from the boot partition and flashed with fastboot.
func (f *Flasher) Flash(ctx context.Context, imagePath string, part Part, location string, sectorSize int) error {
	tempDir, err := os.MkdirTemp(f.TempDir, "kupfer-flash-")
	if err != nil {
		return fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(tempDir)

	if part == PartRootfs {
		return f.flashRootfs(ctx, imagePath, location, sectorSize, tempDir)
	}

	file, exists := bootloaderFiles[part]
	if !exists {
		return fmt.Errorf("%w %q, must be one of %s", ErrUnknownPart, part, joinParts())
	}

	path, err := f.dumpBootFile(ctx, imagePath, file.path, sectorSize, tempDir)
	if err != nil {
		return err
	}

	return f.Fastboot.Flash(ctx, file.partition, path)
}

func (f *Flasher) flashRootfs(ctx context.Context, imagePath, location string, sectorSize int, tempDir string) error {
	if location == "" {
		return fmt.Errorf("%w to flash %s", ErrNoLocation, PartRootfs)
	}

	target, err := f.ResolveLocation(ctx, location)
	if err != nil {
		return err
	}

	minimal := filepath.Join(tempDir, "minimal-"+filepath.Base(imagePath))

	err = shell.Files{Runner: f.runner()}.Copy(ctx, imagePath, minimal)
	if err != nil {
		return err //nolint:wrapcheck
	}

	loop, err := f.Disk.Attach(ctx, minimal, sectorSize)
	if err != nil {
		return err //nolint:wrapcheck
	}

	err = errors.Join(
		f.Disk.Shrink(ctx, loop, minimal, sectorSize),
		f.Disk.Loop.Detach(ctx, loop),
	)
	if err != nil {
		return err
	}

	slog.Info("Flashing root file system",
		slog.String("image", imagePath),
		slog.String("target", target),
	)

	return f.Disk.Copy(ctx, minimal, target, image.CopyOptions{ //nolint:wrapcheck
		BlockSize:   "20M",
		DirectInput: true,
	})
}

// dumpBootFile extracts path from the boot partition of the full image.
func (f *Flasher) dumpBootFile(ctx context.Context, imagePath, path string, sectorSize int, tempDir string) (string, error) {
	loop, err := f.Disk.Attach(ctx, imagePath, sectorSize)
	if err != nil {
		return "", err //nolint:wrapcheck
	}

	boot := mount.Partition(loop, image.BootPartition)

	dumped, err := f.Disk.DumpFile(ctx, boot, path, filepath.Join(tempDir, filepath.Base(path)))

	return dumped, errors.Join(err, f.Disk.Loop.Detach(ctx, loop))
}
