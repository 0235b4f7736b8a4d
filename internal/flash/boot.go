// SPDX-FileCopyrightText: 2024 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package flash

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"gitlab.com/kupfer/kupferbootstrap/internal/distro"
	"gitlab.com/kupfer/kupferbootstrap/internal/shell"
)

// Fastboot sends images to a device in fastboot mode.
type Fastboot struct {
	Runner shell.Runner
}

// Flash writes the file at path to partition.
func (f Fastboot) Flash(ctx context.Context, partition, path string) error {
	slog.Info("Flashing with fastboot",
		slog.String("partition", partition),
		slog.String("file", path),
	)

	err := f.Runner.Run(ctx, shell.Command("fastboot", "flash", partition, path))
	if err != nil {
		return fmt.Errorf("flash %s to %s: %w", path, partition, err)
	}

	return nil
}

// Boot boots the boot image at path without flashing it.
func (f Fastboot) Boot(ctx context.Context, path string) error {
	slog.Info("Booting with fastboot", slog.String("file", path))

	err := f.Runner.Run(ctx, shell.Command("fastboot", "boot", path))
	if err != nil {
		return fmt.Errorf("boot %s: %w", path, err)
	}

	return nil
}

// Boot strategies.
const (
	StrategyFastboot = "fastboot"
)

// BootStrategies maps devices to the way they are booted.
var BootStrategies = map[string]string{
	"oneplus-enchilada":       StrategyFastboot,
	"oneplus-fajita":          StrategyFastboot,
	"xiaomi-beryllium-ebbg":   StrategyFastboot,
	"xiaomi-beryllium-tianma": StrategyFastboot,
	"bq-paella":               StrategyFastboot,
}

// Boot types.
const (
	// BootImage boots the boot.img of the device's full image.
	BootImage = ""
	// BootJumpdrive boots Jumpdrive to expose the device storage.
	BootJumpdrive = "jumpdrive"
)

// Jumpdrive release downloads.
const (
	JumpdriveVersion = "0.8"
	JumpdriveURL     = "https://github.com/dreemurrs-embedded/Jumpdrive/releases/download"
)

// Booter boots images on devices.
type Booter struct {
	Flasher *Flasher

	// JumpdriveDir caches downloaded Jumpdrive images.
	JumpdriveDir string

	// JumpdriveURL defaults to [JumpdriveURL].
	JumpdriveURL string
}

// Jumpdrive returns the path of the Jumpdrive boot image for device,
// downloading it if not cached.
func (b *Booter) Jumpdrive(ctx context.Context, device string) (string, error) {
	baseURL := b.JumpdriveURL
	if baseURL == "" {
		baseURL = JumpdriveURL
	}

	file := "boot-" + device + ".img"
	path := filepath.Join(b.JumpdriveDir, file)
	url := fmt.Sprintf("%s/%s/%s", baseURL, JumpdriveVersion, file)

	downloaded, err := distro.Download(ctx, url, path, false)
	if err != nil {
		return "", fmt.Errorf("jumpdrive: %w", err)
	}

	if downloaded {
		slog.Info("Downloaded Jumpdrive", slog.String("path", path))
	}

	return path, nil
}

// Boot boots device with bootType. For [BootImage] the boot.img is
// extracted from the full image at imagePath.
func (b *Booter) Boot(ctx context.Context, device, imagePath, bootType string, sectorSize int) error {
	strategy, exists := BootStrategies[device]
	if !exists {
		return fmt.Errorf("%w for device %s", ErrNoBootStrategy, device)
	}

	var path string

	switch bootType {
	case BootJumpdrive:
		jumpdrive, err := b.Jumpdrive(ctx, device)
		if err != nil {
			return err
		}

		path = jumpdrive
	case BootImage:
		tempDir, err := os.MkdirTemp(b.Flasher.TempDir, "kupfer-boot-")
		if err != nil {
			return fmt.Errorf("create temp dir: %w", err)
		}
		defer os.RemoveAll(tempDir)

		path, err = b.Flasher.dumpBootFile(ctx, imagePath, "/boot.img", sectorSize, tempDir)
		if err != nil {
			return err
		}
	default:
		return fmt.Errorf("%w %q, leave empty or choose %s", ErrUnknownBootType, bootType, BootJumpdrive)
	}

	switch strategy {
	case StrategyFastboot:
		return b.Flasher.Fastboot.Boot(ctx, path)
	default:
		return fmt.Errorf("%w %q", ErrNoBootStrategy, strategy)
	}
}
