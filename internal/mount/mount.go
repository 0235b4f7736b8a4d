// SPDX-FileCopyrightText: 2024 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package mount

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"gitlab.com/kupfer/kupferbootstrap/internal/shell"
	"golang.org/x/sys/unix"
)

// FSType is a file system type.
type FSType string

// Special file system types.
const (
	FSTypeProc    FSType = "proc"
	FSTypeSys     FSType = "sysfs"
	FSTypeDevPts  FSType = "devpts"
	FSTypeTmp     FSType = "tmpfs"
	FSTypeBinfmt  FSType = "binfmt_misc"
	FSTypeExt4    FSType = "ext4"
	FSTypeExt2    FSType = "ext2"
	FSTypeUnknown FSType = ""
)

// Options contains parameters for a mount operation.
type Options struct {
	// FSType is the file system type. Leave empty for bind mounts.
	FSType FSType

	// Source is the source device, directory or pseudo file system name.
	Source string

	// Bind creates a bind mount. With Recursive, submounts are bound as well.
	Bind      bool
	Recursive bool

	ReadOnly bool

	// Data are additional file system specific options.
	Data string
}

func (o Options) flags() uintptr {
	var flags uintptr

	if o.Bind {
		flags |= unix.MS_BIND
		if o.Recursive {
			flags |= unix.MS_REC
		}
	}

	if o.ReadOnly {
		flags |= unix.MS_RDONLY
	}

	return flags
}

func (o Options) commandArgs(target string) []string {
	args := []string{"mount"}

	if o.FSType != FSTypeUnknown {
		args = append(args, "-t", string(o.FSType))
	}

	var opts []string

	switch {
	case o.Bind && o.Recursive:
		opts = append(opts, "rbind")
	case o.Bind:
		opts = append(opts, "bind")
	}

	if o.ReadOnly {
		opts = append(opts, "ro")
	}

	if o.Data != "" {
		opts = append(opts, o.Data)
	}

	if len(opts) > 0 {
		args = append(args, "-o", strings.Join(opts, ","))
	}

	source := o.Source
	if source == "" {
		source = string(o.FSType)
	}

	return append(args, source, target)
}

// Mounter mounts and unmounts file systems.
type Mounter interface {
	Mount(ctx context.Context, target string, opts Options) error
	Unmount(ctx context.Context, target string, lazy bool) error
}

// New returns a [SyscallMounter] if running as root and a [CommandMounter]
// using the given runner otherwise.
func New(runner shell.Runner) Mounter {
	if shell.IsRoot() {
		return SyscallMounter{}
	}

	return CommandMounter{Runner: runner}
}

// SyscallMounter uses mount(2) and umount2(2) directly. It requires
// CAP_SYS_ADMIN.
type SyscallMounter struct{}

// Mount implements [Mounter].
func (SyscallMounter) Mount(_ context.Context, target string, opts Options) error {
	source := opts.Source
	if source == "" {
		source = string(opts.FSType)
	}

	slog.Debug("Mount",
		slog.String("source", source),
		slog.String("target", target),
		slog.String("type", string(opts.FSType)),
	)

	err := unix.Mount(source, target, string(opts.FSType), opts.flags(), opts.Data)
	if err != nil {
		return fmt.Errorf("mount %s: %w", target, err)
	}

	if opts.Bind && opts.ReadOnly {
		// Read-only bind mounts require a remount to take effect.
		flags := opts.flags() | unix.MS_REMOUNT

		err := unix.Mount("", target, "", flags, "")
		if err != nil {
			return fmt.Errorf("remount read-only %s: %w", target, err)
		}
	}

	return nil
}

// Unmount implements [Mounter].
func (SyscallMounter) Unmount(_ context.Context, target string, lazy bool) error {
	var flags int
	if lazy {
		flags |= unix.MNT_DETACH
	}

	err := unix.Unmount(target, flags)
	if err != nil {
		return fmt.Errorf("umount %s: %w", target, err)
	}

	return nil
}

// CommandMounter runs mount(8) and umount(8) elevated.
type CommandMounter struct {
	Runner shell.Runner
}

// Mount implements [Mounter].
func (m CommandMounter) Mount(ctx context.Context, target string, opts Options) error {
	err := m.Runner.Run(ctx, shell.Command(shell.Sudo(opts.commandArgs(target)...)...))
	if err != nil {
		return fmt.Errorf("mount %s: %w", target, err)
	}

	return nil
}

// Unmount implements [Mounter].
func (m CommandMounter) Unmount(ctx context.Context, target string, lazy bool) error {
	opts := "-c"
	if lazy {
		opts = "-cl"
	}

	err := m.Runner.Run(ctx, shell.Command(shell.Sudo("umount", opts, target)...))
	if err != nil {
		return fmt.Errorf("umount %s: %w", target, err)
	}

	return nil
}
