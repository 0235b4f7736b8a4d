// SPDX-FileCopyrightText: 2024 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package mount

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gitlab.com/kupfer/kupferbootstrap/internal/shell"
	"golang.org/x/sys/unix"
)

const loopControlPath = "/dev/loop-control"

// Loop manages loop devices.
type Loop struct {
	Runner shell.Runner

	// Syscall uses the loop ioctl interface directly instead of losetup.
	Syscall bool
}

// NewLoop returns a [Loop] that uses ioctls when running as root.
func NewLoop(runner shell.Runner) Loop {
	return Loop{Runner: runner, Syscall: shell.IsRoot()}
}

// Attach attaches file to a free loop device with partition scanning
// enabled and returns the device path.
func (l Loop) Attach(ctx context.Context, file string, sectorSize int) (string, error) {
	if l.Syscall {
		return attachIoctl(file, sectorSize)
	}

	args := []string{"losetup", "-f", "-P", "--show"}
	if sectorSize > 0 {
		args = append(args, "-b", strconv.Itoa(sectorSize))
	}

	out, err := l.Runner.Output(ctx, shell.Command(shell.Sudo(append(args, file)...)...))
	if err != nil {
		return "", fmt.Errorf("losetup %s: %w", file, err)
	}

	device := strings.TrimSpace(string(out))
	if device == "" {
		return l.Find(ctx, file)
	}

	return device, nil
}

func attachIoctl(file string, sectorSize int) (string, error) {
	control, err := os.OpenFile(loopControlPath, os.O_RDWR, 0)
	if err != nil {
		return "", fmt.Errorf("open loop control: %w", err)
	}
	defer control.Close()

	num, err := unix.IoctlRetInt(int(control.Fd()), unix.LOOP_CTL_GET_FREE)
	if err != nil {
		return "", fmt.Errorf("get free loop device: %w", err)
	}

	device := "/dev/loop" + strconv.Itoa(num)

	loopFile, err := os.OpenFile(device, os.O_RDWR, 0)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", device, err)
	}
	defer loopFile.Close()

	backing, err := os.OpenFile(file, os.O_RDWR, 0)
	if err != nil {
		return "", fmt.Errorf("open backing file: %w", err)
	}
	defer backing.Close()

	loopFd := int(loopFile.Fd())

	err = unix.IoctlSetInt(loopFd, unix.LOOP_SET_FD, int(backing.Fd()))
	if err != nil {
		return "", fmt.Errorf("set loop fd: %w", err)
	}

	if sectorSize > 0 {
		err = unix.IoctlSetInt(loopFd, unix.LOOP_SET_BLOCK_SIZE, sectorSize)
		if err != nil {
			_ = unix.IoctlSetInt(loopFd, unix.LOOP_CLR_FD, 0)
			return "", fmt.Errorf("set loop block size: %w", err)
		}
	}

	info := unix.LoopInfo64{Flags: unix.LO_FLAGS_PARTSCAN}

	abs, _ := filepath.Abs(file)
	copy(info.File_name[:], abs)

	err = unix.IoctlLoopSetStatus64(loopFd, &info)
	if err != nil {
		_ = unix.IoctlSetInt(loopFd, unix.LOOP_CLR_FD, 0)
		return "", fmt.Errorf("set loop status: %w", err)
	}

	slog.Debug("Attached loop device",
		slog.String("device", device),
		slog.String("file", file),
	)

	return device, nil
}

// Detach detaches the loop device.
func (l Loop) Detach(ctx context.Context, device string) error {
	if l.Syscall {
		loopFile, err := os.OpenFile(device, os.O_RDWR, 0)
		if err != nil {
			return fmt.Errorf("open %s: %w", device, err)
		}
		defer loopFile.Close()

		err = unix.IoctlSetInt(int(loopFile.Fd()), unix.LOOP_CLR_FD, 0)
		if err != nil {
			return fmt.Errorf("detach %s: %w", device, err)
		}

		return nil
	}

	err := l.Runner.Run(ctx, shell.Command(shell.Sudo("losetup", "-d", device)...))
	if err != nil {
		return fmt.Errorf("losetup detach %s: %w", device, err)
	}

	return nil
}

type losetupList struct {
	Loopdevices []struct {
		Name     string `json:"name"`
		BackFile string `json:"back-file"`
	} `json:"loopdevices"`
}

// Find returns the loop device file is attached to.
func (l Loop) Find(ctx context.Context, file string) (string, error) {
	out, err := l.Runner.Output(ctx, shell.Command(shell.Sudo("losetup", "-J")...))
	if err != nil {
		return "", fmt.Errorf("losetup list: %w", err)
	}

	return findLoopDevice(out, file)
}

func findLoopDevice(losetupJSON []byte, file string) (string, error) {
	abs, err := filepath.Abs(file)
	if err != nil {
		return "", fmt.Errorf("abs path: %w", err)
	}

	if len(strings.TrimSpace(string(losetupJSON))) == 0 {
		return "", fmt.Errorf("%s: %w", file, ErrNoLoopDevice)
	}

	var list losetupList

	err = json.Unmarshal(losetupJSON, &list)
	if err != nil {
		return "", fmt.Errorf("parse losetup output: %w", err)
	}

	for _, dev := range list.Loopdevices {
		if dev.BackFile == abs || strings.TrimSuffix(dev.BackFile, " (deleted)") == abs {
			return dev.Name, nil
		}
	}

	return "", fmt.Errorf("%s: %w", file, ErrNoLoopDevice)
}

// Partition returns the device path of partition num of a loop device.
func Partition(device string, num int) string {
	return device + "p" + strconv.Itoa(num)
}
