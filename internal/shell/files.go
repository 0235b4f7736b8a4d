// SPDX-FileCopyrightText: 2024 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/google/renameio/v2"
)

// FileOptions are optional attributes applied to created files and
// directories.
type FileOptions struct {
	// Mode is applied if non-zero.
	Mode fs.FileMode

	// User and Group are applied with chown if User is not empty.
	User  string
	Group string
}

func (o FileOptions) owner() string {
	if o.Group == "" {
		return o.User
	}

	return o.User + ":" + o.Group
}

// Files manipulates files that may be owned by other users. Each operation
// is first tried natively and falls back to running the equivalent command
// elevated with sudo.
type Files struct {
	Runner Runner
}

// Exists reports whether path exists. Paths in directories not readable by
// the current user are checked with an elevated test(1).
func (f Files) Exists(ctx context.Context, path string) (bool, error) {
	_, err := os.Stat(path)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	case !errors.Is(err, fs.ErrPermission):
		return false, fmt.Errorf("stat: %w", err)
	}

	err = f.Runner.Run(ctx, Command(Sudo("test", "-e", path)...))
	if err != nil {
		if ExitCode(err) == 1 {
			return false, nil
		}

		return false, fmt.Errorf("root check: %w", err)
	}

	return true, nil
}

func (f Files) checkParent(path string) error {
	parent := filepath.Dir(path)

	info, err := os.Stat(parent)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%s: %w", parent, ErrParentMissing)
		}

		// Let the elevated fallback handle it.
		return nil
	}

	if !info.IsDir() {
		return fmt.Errorf("%s: %w", parent, ErrNotADirectory)
	}

	return nil
}

// WriteFile writes data to path.
func (f Files) WriteFile(
	ctx context.Context,
	path string,
	data []byte,
	opts FileOptions,
) error {
	err := f.checkParent(path)
	if err != nil {
		return err
	}

	mode := opts.Mode
	if mode == 0 {
		mode = 0o644
	}

	err = renameio.WriteFile(path, data, mode)
	if err != nil {
		slog.Debug("Native write failed, retrying as root",
			slog.String("path", path),
			slog.Any("error", err),
		)

		cmd := Command(Sudo("tee", path)...)
		cmd.Stdin = bytes.NewReader(data)
		cmd.Stdout = io.Discard

		err = f.Runner.Run(ctx, cmd)
		if err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}

		if opts.Mode != 0 {
			err := f.Chmod(ctx, path, opts.Mode)
			if err != nil {
				return err
			}
		}
	}

	if opts.User != "" {
		return f.Chown(ctx, path, opts.owner(), false)
	}

	return nil
}

// MakeDir creates the directory and all missing parents.
func (f Files) MakeDir(ctx context.Context, path string, opts FileOptions) error {
	mode := opts.Mode
	if mode == 0 {
		mode = 0o755
	}

	err := os.MkdirAll(path, mode)
	if err != nil {
		args := []string{"mkdir", "-p"}
		if opts.Mode != 0 {
			args = append(args, "-m", strconv.FormatUint(uint64(opts.Mode.Perm()), 8))
		}

		err = f.Runner.Run(ctx, Command(Sudo(append(args, path)...)...))
		if err != nil {
			return fmt.Errorf("mkdir %s: %w", path, err)
		}
	}

	if opts.User != "" {
		return f.Chown(ctx, path, opts.owner(), false)
	}

	return nil
}

// Remove removes path. Directories are only removed if recursive is true.
func (f Files) Remove(ctx context.Context, path string, recursive bool) error {
	rm := os.Remove
	args := []string{"rm", "-f"}

	if recursive {
		rm = os.RemoveAll
		args = []string{"rm", "-rf"}
	}

	err := rm(path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}

	err = f.Runner.Run(ctx, Command(Sudo(append(args, path)...)...))
	if err != nil {
		return fmt.Errorf("remove %s: %w", path, err)
	}

	return nil
}

// Chmod changes the mode of path.
func (f Files) Chmod(ctx context.Context, path string, mode fs.FileMode) error {
	err := os.Chmod(path, mode)
	if err == nil {
		return nil
	}

	octal := strconv.FormatUint(uint64(mode.Perm()), 8)

	err = f.Runner.Run(ctx, Command(Sudo("chmod", octal, path)...))
	if err != nil {
		return fmt.Errorf("chmod %s: %w", path, err)
	}

	return nil
}

// Chown changes the owner of path. owner is given as "user[:group]".
func (f Files) Chown(
	ctx context.Context,
	path string,
	owner string,
	recursive bool,
) error {
	args := []string{"chown"}
	if recursive {
		args = append(args, "-R")
	}

	err := f.Runner.Run(ctx, Command(Sudo(append(args, owner, path)...)...))
	if err != nil {
		return fmt.Errorf("chown %s: %w", path, err)
	}

	return nil
}

// Symlink creates link pointing to target.
func (f Files) Symlink(ctx context.Context, target, link string) error {
	err := os.Symlink(target, link)
	if err == nil {
		return nil
	}

	err = f.Runner.Run(ctx, Command(Sudo("ln", "-s", target, link)...))
	if err != nil {
		return fmt.Errorf("symlink %s: %w", link, err)
	}

	return nil
}

// Copy copies src to dst preserving attributes, elevated if necessary.
func (f Files) Copy(ctx context.Context, src, dst string) error {
	args := []string{"cp", "-a", src, dst}

	err := f.Runner.Run(ctx, Command(args...))
	if err == nil {
		return nil
	}

	err = f.Runner.Run(ctx, Command(Sudo(args...)...))
	if err != nil {
		return fmt.Errorf("copy %s: %w", src, err)
	}

	return nil
}
