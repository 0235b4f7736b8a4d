// SPDX-FileCopyrightText: 2024 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package pkgbuild

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gitlab.com/kupfer/kupferbootstrap/internal/shell"
)

// Confirmer asks the user a yes/no question.
type Confirmer func(question string, def bool) bool

// GitOptions control [Tree.InitRepo].
type GitOptions struct {
	URL    string
	Branch string
	// Update pulls the latest changes.
	Update bool
	// Confirm, if set, is asked before switching branches and updating.
	// Without it, branches are not switched.
	Confirm Confirmer
}

func (t *Tree) git(ctx context.Context, args ...string) error {
	return t.Runner.Run(ctx, shell.Cmd{ //nolint:wrapcheck
		Args: append([]string{"git"}, args...),
		Dir:  t.Dir,
	})
}

// Branch returns the currently checked out branch.
func (t *Tree) Branch(ctx context.Context) (string, error) {
	out, err := t.Runner.Output(ctx, shell.Command(
		"git", "--git-dir", filepath.Join(t.Dir, ".git"), "branch", "--show-current",
	))
	if err != nil {
		return "", fmt.Errorf("get git branch for %s: %w", t.Dir, err)
	}

	return strings.TrimSpace(string(out)), nil
}

// InitRepo clones the pkgbuilds repository if it does not exist yet.
// Otherwise it checks the branch and optionally pulls.
func (t *Tree) InitRepo(ctx context.Context, opts GitOptions) error {
	_, err := os.Stat(filepath.Join(t.Dir, ".git"))
	if errors.Is(err, fs.ErrNotExist) {
		slog.Info("Cloning pkgbuilds",
			slog.String("branch", opts.Branch),
			slog.String("repo", opts.URL),
		)

		err := t.Runner.Run(ctx, shell.Command("git", "clone", "-b", opts.Branch, opts.URL, t.Dir))
		if err != nil {
			return fmt.Errorf("error cloning pkgbuilds: %w", err)
		}

		return nil
	} else if err != nil {
		return fmt.Errorf("stat git dir: %w", err)
	}

	current, err := t.Branch(ctx)
	if err != nil {
		return err
	}

	if current != opts.Branch {
		slog.Warn("pkgbuilds repository is on the wrong branch",
			slog.String("current", current),
			slog.String("requested", opts.Branch),
		)

		if opts.Confirm != nil && opts.Confirm("Would you like to switch branches?", false) {
			err := t.git(ctx, "switch", opts.Branch)
			if err != nil {
				return fmt.Errorf("failed switching branches: %w", err)
			}
		}
	}

	if !opts.Update {
		return nil
	}

	if opts.Confirm != nil && !opts.Confirm("Would you like to try updating the PKGBUILDs repo?", true) {
		return nil
	}

	err = t.git(ctx, "pull")
	if err != nil {
		return fmt.Errorf("failed to update pkgbuilds: %w", err)
	}

	return nil
}

// CleanUntracked resets the repos to their git state by removing ignored
// files. With noop, git only prints what it would remove.
func (t *Tree) CleanUntracked(ctx context.Context, noop bool) error {
	flags := "-dffX"
	if noop {
		flags += "n"
	}

	err := t.git(ctx, append([]string{"clean", flags}, t.Repos...)...)
	if err != nil {
		return fmt.Errorf("git clean: %w", err)
	}

	return nil
}

// BuildDirs returns the makepkg working directories of all PKGBUILDs. what
// selects "src" and "pkg".
func (t *Tree) BuildDirs(what ...string) ([]string, error) {
	var dirs []string

	for _, loc := range what {
		slog.Info("Gathering directories", slog.String("kind", loc))

		matches, err := filepath.Glob(filepath.Join(t.Dir, "*", "*", loc))
		if err != nil {
			return nil, fmt.Errorf("glob: %w", err)
		}

		dirs = append(dirs, matches...)
	}

	return dirs, nil
}
