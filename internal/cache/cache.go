// SPDX-FileCopyrightText: 2024 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package cache clears the working directories kupferbootstrap keeps below
// its cache dir.
package cache

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gitlab.com/kupfer/kupferbootstrap/internal/config"
	"gitlab.com/kupfer/kupferbootstrap/internal/shell"
)

// All selects every cache path.
const All = "all"

// Names are the cache paths that can be cleared.
var Names = config.PathNames

// Select validates the requested names. No names with force selects all
// paths, no names without force means each path should be asked for.
func Select(names []string, force bool) ([]string, bool, error) {
	var unknown []string

	for _, name := range names {
		if name != All && !slices.Contains(Names, name) {
			unknown = append(unknown, name)
		}
	}

	if len(unknown) > 0 {
		return nil, false, fmt.Errorf("%w: %s", ErrUnknownPath, strings.Join(unknown, ", "))
	}

	if slices.Contains(names, All) || (len(names) == 0 && force) {
		return slices.Clone(Names), false, nil
	}

	return names, len(names) == 0, nil
}

// Cleaner clears cache directories.
type Cleaner struct {
	Files shell.Files

	// Dirs maps cache names to their directories.
	Dirs map[string]string

	// Pkgbuilds resets the pkgbuilds directory instead of removing it,
	// since it is a git checkout.
	Pkgbuilds func(ctx context.Context, force, noop bool) error

	Confirm func(question string, def bool) (bool, error)
}

// DirsFromState returns the cache directories configured in state.
func DirsFromState(state *config.State) map[string]string {
	dirs := make(map[string]string, len(Names))
	for _, name := range Names {
		dirs[name] = state.Path(name)
	}

	return dirs
}

// Clean removes the contents of the named cache directories. Without names,
// each directory is asked for unless force is set. With noop, only the
// files that would be removed are logged.
func (c *Cleaner) Clean(ctx context.Context, names []string, force, noop bool) error {
	selected, query, err := Select(names, force)
	if err != nil {
		return err
	}

	if !query && !force {
		ok, err := c.Confirm("Really clear "+strings.Join(selected, ", ")+"?", false)
		if err != nil {
			return err
		}

		if !ok {
			return ErrAborted
		}
	}

	for _, name := range Names {
		clear := slices.Contains(selected, name)

		if query {
			prefix := ""
			if noop {
				prefix = "(Noop) "
			}

			clear, err = c.Confirm(prefix+"Clear "+name+"?", false)
			if err != nil {
				return err
			}
		}

		if !clear {
			continue
		}

		slog.Info("Clearing", slog.String("path", name))

		if name == config.PathPkgbuilds && c.Pkgbuilds != nil {
			err = c.Pkgbuilds(ctx, force, noop)
		} else {
			err = c.clearDir(ctx, name, noop)
		}

		if err != nil {
			return err
		}
	}

	return nil
}

func (c *Cleaner) clearDir(ctx context.Context, name string, noop bool) error {
	dir := c.Dirs[name]

	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	} else if err != nil {
		return fmt.Errorf("list %s: %w", name, err)
	}

	for _, entry := range entries {
		path := filepath.Join(dir, entry.Name())

		if noop {
			slog.Info("Would remove", slog.String("path", name+"/"+entry.Name()))
			continue
		}

		slog.Debug("Removing", slog.String("path", name+"/"+entry.Name()))

		err := c.Files.Remove(ctx, path, true)
		if err != nil {
			return err //nolint:wrapcheck
		}
	}

	return nil
}
