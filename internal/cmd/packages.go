// SPDX-FileCopyrightText: 2024 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/spf13/pflag"

	"gitlab.com/kupfer/kupferbootstrap/internal/build"
	"gitlab.com/kupfer/kupferbootstrap/internal/config"
	"gitlab.com/kupfer/kupferbootstrap/internal/distro"
	"gitlab.com/kupfer/kupferbootstrap/internal/pkgbuild"
	"gitlab.com/kupfer/kupferbootstrap/internal/remote"
	"gitlab.com/kupfer/kupferbootstrap/internal/sys"
)

func packagesCommand() *Command {
	return &Command{
		Name:  "packages",
		Short: "Build and manage packages and PKGBUILDs",
		Commands: []*Command{
			packagesUpdateCommand("init", false),
			packagesUpdateCommand("update", true),
			packagesBuildCommand(),
			packagesSideloadCommand(),
			packagesCleanCommand(),
			packagesListCommand(),
			packagesCheckCommand(),
		},
	}
}

func packagesUpdateCommand(name string, update bool) *Command {
	var nonInteractive bool

	return &Command{
		Name:  name,
		Short: "Clone or update the PKGBUILDs git repo",
		Wrap:  true,
		Flags: func(fs *pflag.FlagSet) {
			fs.BoolVarP(&nonInteractive, "non-interactive", "N", false, "do not prompt")
		},
		Args: noArgs,
		Run: func(ctx context.Context, app *App, _ []string) error {
			opts := pkgbuild.GitOptions{
				URL:    app.State.File.Pkgbuilds.GitRepo,
				Branch: app.State.File.Pkgbuilds.GitBranch,
				Update: update,
			}

			if !nonInteractive {
				opts.Confirm = func(question string, def bool) bool {
					ok, err := app.confirm(question, def)
					return err == nil && ok
				}
			}

			err := app.Tree().InitRepo(ctx, opts)
			if err != nil {
				return err //nolint:wrapcheck
			}

			slog.Info("Refreshing SRCINFO caches")

			_, err = app.Tree().Discover(ctx, false)

			return err //nolint:wrapcheck
		},
	}
}

func packagesBuildCommand() *Command {
	var (
		arch              sys.Arch
		flags             build.Flags
		noDownload        bool
		rebuildDependants bool
	)

	return &Command{
		Name:  "build",
		Usage: "PATHS...",
		Short: "Build packages and their dependencies by path relative to the PKGBUILDs dir, like cross/crossdirect",
		Wrap:  true,
		Flags: func(fs *pflag.FlagSet) {
			fs.BoolVar(&flags.Force, "force", false, "rebuild even if the package is built already")
			fs.Var(&arch, "arch", "CPU architecture to build for")
			fs.BoolVar(&rebuildDependants, "rebuild-dependants", false,
				"rebuild packages that depend on the packages that are built")
			fs.BoolVar(&noDownload, "no-download", false,
				"do not try downloading packages from the HTTPS repos instead of building")
		},
		Args: rangeArgs(1, -1),
		Run: func(ctx context.Context, app *App, args []string) error {
			target, err := app.defaultArch(ctx, arch)
			if err != nil {
				return err
			}

			flags.RebuildDependants = rebuildDependants
			flags.TryDownload = !noDownload

			built, err := app.Builder().BuildPaths(ctx, args, target, flags)
			if err != nil {
				return err //nolint:wrapcheck
			}

			slog.Info("Build done", slog.Int("files", len(built)))

			return nil
		},
	}
}

func packagesSideloadCommand() *Command {
	var (
		arch    sys.Arch
		noBuild bool
	)

	return &Command{
		Name:  "sideload",
		Usage: "PACKAGES...",
		Short: "Build packages, copy them to the device via SSH and install them",
		Wrap:  true,
		Flags: func(fs *pflag.FlagSet) {
			fs.Var(&arch, "arch", "CPU architecture to build for")
			fs.BoolVarP(&noBuild, "no-build", "B", false, "do not build packages, just copy and install")
		},
		Args: rangeArgs(1, -1),
		Run: func(ctx context.Context, app *App, args []string) error {
			target, err := app.defaultArch(ctx, arch)
			if err != nil {
				return err
			}

			if !noBuild {
				_, err := app.Builder().BuildPaths(ctx, args, target, build.Flags{TryDownload: true})
				if err != nil {
					return err //nolint:wrapcheck
				}
			}

			files, err := app.localPackageFiles(ctx, target, args)
			if err != nil {
				return err
			}

			return app.sideload(ctx, files)
		},
	}
}

// localPackageFiles returns the files of the named packages in the local
// repos.
func (a *App) localPackageFiles(ctx context.Context, arch sys.Arch, names []string) ([]string, error) {
	local := distro.KupferLocal(arch, a.State.Path(config.PathPackages))

	err := local.Scan(ctx, false)
	if err != nil {
		return nil, err //nolint:wrapcheck
	}

	packages, err := local.Packages()
	if err != nil {
		return nil, err //nolint:wrapcheck
	}

	var files []string

	for _, pkg := range packages {
		if slices.Contains(names, pkg.Name) {
			files = append(files, strings.TrimPrefix(pkg.FileURL(), "file://"))
		}
	}

	if len(files) == 0 {
		return nil, fmt.Errorf("%w: no packages matched %s", ErrNotFound, strings.Join(names, ", "))
	}

	slices.Sort(files)

	slog.Debug("Found package files", slog.String("files", strings.Join(files, " ")))

	return files, nil
}

func (a *App) sideload(ctx context.Context, files []string) error {
	client := remote.Client{}

	err := client.Upload(ctx, "/tmp", files...)
	if err != nil {
		return err //nolint:wrapcheck
	}

	command := []string{"sudo", "pacman", "-U"}
	for _, file := range files {
		command = append(command, path.Join("/tmp", filepath.Base(file)))
	}

	command = append(command, "--noconfirm", "--overwrite=*")

	return client.RunInteractive(ctx, command, a.stdinFile(), a.IO.Stdout, a.IO.Stderr) //nolint:wrapcheck
}

var cleanChoices = []string{"all", "src", "pkg"}

func packagesCleanCommand() *Command {
	var force, noop bool

	return &Command{
		Name:  "clean",
		Usage: "[all|src|pkg]...",
		Short: "Remove files and directories not tracked in the PKGBUILDs git repo",
		Wrap:  true,
		Flags: func(fs *pflag.FlagSet) {
			fs.BoolVarP(&force, "force", "f", false, "do not prompt for confirmation")
			fs.BoolVarP(&noop, "noop", "n", false, "print what would be removed but do not remove")
		},
		Args: func(args []string) error {
			for idx := range args {
				err := choiceArgs(idx, cleanChoices...)(args)
				if err != nil {
					return err
				}
			}

			return nil
		},
		Run: func(ctx context.Context, app *App, args []string) error {
			return app.cleanPkgbuilds(ctx, args, force, noop)
		},
	}
}

// cleanPkgbuilds resets the pkgbuilds checkout to its git state for "all",
// or removes the makepkg src and pkg directories.
func (a *App) cleanPkgbuilds(ctx context.Context, what []string, force, noop bool) error {
	if len(what) == 0 {
		what = []string{"all"}
	}

	slog.Debug("Clearing PKGBUILDs",
		slog.String("what", strings.Join(what, ",")),
		slog.Bool("force", force),
		slog.Bool("noop", noop),
	)

	tree := a.Tree()

	if slices.Contains(what, "all") {
		if !noop && !force {
			ok, err := a.confirm("Really reset PKGBUILDs to git state completely? "+
				"This will erase any untracked changes to your PKGBUILDs directory.", false)
			if err != nil {
				return err
			}

			if !ok {
				return ErrAborted
			}
		}

		return tree.CleanUntracked(ctx, noop) //nolint:wrapcheck
	}

	dirs, err := tree.BuildDirs(what...)
	if err != nil {
		return err //nolint:wrapcheck
	}

	verb := "Removing"
	if noop {
		verb = "Would remove"
	}

	slog.Info(verb+" directories", slog.String("dirs", strings.Join(dirs, " ")))

	if noop {
		return nil
	}

	if !force {
		ok, err := a.confirm("Really remove all of these?", true)
		if err != nil {
			return err
		}

		if !ok {
			return ErrAborted
		}
	}

	for _, dir := range dirs {
		err := a.files().Remove(ctx, dir, true)
		if err != nil {
			return err //nolint:wrapcheck
		}
	}

	return nil
}

func packagesListCommand() *Command {
	return &Command{
		Name:  "list",
		Short: "List the available PKGBUILDs",
		Wrap:  true,
		Args:  noArgs,
		Run: func(ctx context.Context, app *App, _ []string) error {
			all, err := app.Pkgbuilds(ctx)
			if err != nil {
				return err
			}

			packages := pkgbuild.Unique(all)

			slog.Info("Done", slog.Int("pkgbuilds", len(packages)))

			for _, pkg := range packages {
				fmt.Fprintf(app.IO.Stdout,
					"name: %s; ver: %s; provides: %v; replaces: %v; depends: %v\n",
					pkg.Name, pkg.Version(), pkg.Provides, pkg.Replaces, pkg.AllDepends(),
				)
			}

			return nil
		},
	}
}

func packagesCheckCommand() *Command {
	return &Command{
		Name:  "check",
		Usage: "[PATHS...]",
		Short: "Check that PKGBUILDs are formatted correctly",
		Wrap:  true,
		Run: func(ctx context.Context, app *App, args []string) error {
			if len(args) == 0 {
				args = []string{"all"}
			}

			all, err := app.Pkgbuilds(ctx)
			if err != nil {
				return err
			}

			packages, err := pkgbuild.Filter(all, args, false)
			if err != nil {
				return err //nolint:wrapcheck
			}

			var errs []error

			for _, pkg := range packages {
				errs = append(errs, checkPkgbuild(app.Tree().Dir, pkg))
			}

			return errors.Join(errs...)
		},
	}
}

func checkPkgbuild(dir string, pkg *pkgbuild.Pkgbuild) error {
	file := filepath.Join(dir, pkg.Path, "PKGBUILD")

	slog.Info("Checking", slog.String("path", pkg.Path))

	content, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("read PKGBUILD: %w", err)
	}

	hints, err := pkgbuild.Check(file, string(content), pkg.Name)
	for _, hint := range hints {
		slog.Warn(hint, slog.String("path", pkg.Path))
	}

	return err //nolint:wrapcheck
}
