// SPDX-FileCopyrightText: 2024 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"

	"github.com/charmbracelet/lipgloss"

	"gitlab.com/kupfer/kupferbootstrap/internal/binfmt"
	"gitlab.com/kupfer/kupferbootstrap/internal/build"
	"gitlab.com/kupfer/kupferbootstrap/internal/chroot"
	"gitlab.com/kupfer/kupferbootstrap/internal/config"
	"gitlab.com/kupfer/kupferbootstrap/internal/device"
	"gitlab.com/kupfer/kupferbootstrap/internal/distro"
	"gitlab.com/kupfer/kupferbootstrap/internal/flavour"
	"gitlab.com/kupfer/kupferbootstrap/internal/pkgbuild"
	"gitlab.com/kupfer/kupferbootstrap/internal/shell"
	"gitlab.com/kupfer/kupferbootstrap/internal/sys"
	"gitlab.com/kupfer/kupferbootstrap/internal/wrapper"
)

// IO provides input and output details for the command.
type IO struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// App carries the state of a program run through the command tree.
type App struct {
	IO       IO
	State    *config.State
	Runner   shell.Runner
	Renderer *lipgloss.Renderer

	// Args are the arguments the program was called with, passed on when
	// wrapping.
	Args []string

	runtime   config.Runtime
	colors    bool
	noColors  bool
	forceWrap bool
	version   bool

	prompter *config.Prompter
	tree     *pkgbuild.Tree
	chroots  *chroot.Registry
	repo     *build.LocalRepo
}

func newApp(cfg IO, args []string) *App {
	return &App{
		IO:       cfg,
		Args:     args,
		Runner:   &shell.ExecRunner{Stdin: cfg.Stdin},
		Renderer: newRenderer(cfg.Stdout, nil),
	}
}

// init sets up logging and loads the config file after the global flags
// are parsed.
func (a *App) init(ctx context.Context) error {
	if a.colors || a.noColors {
		colors := a.colors && !a.noColors
		a.runtime.Colors = &colors
	}

	setupLogging(a.IO.Stderr, a.runtime.Verbose, a.runtime.Colors)
	a.Renderer = newRenderer(a.IO.Stdout, a.runtime.Colors)

	a.State = config.NewState(a.runtime)

	err := a.State.TryLoad()
	if err != nil {
		return err //nolint:wrapcheck
	}

	err = wrapper.CheckType(a.State.WrapperType())
	if err != nil {
		return err //nolint:wrapcheck
	}

	if !a.forceWrap {
		return nil
	}

	if a.State.WrapperType() == config.WrapperNone {
		a.State.Runtime.WrapperType = config.WrapperDocker
	}

	wrapped, code, err := a.wrap(ctx)
	if err != nil {
		return err
	}

	if wrapped {
		return &exitCodeError{code: code}
	}

	return nil
}

// wrap runs the whole invocation in the configured wrapper if required.
func (a *App) wrap(ctx context.Context) (bool, int, error) {
	if !wrapper.NeedsWrap(a.State) {
		return false, 0, nil
	}

	docker := wrapper.NewDocker(a.Runner, a.State, Version)
	docker.Stdout = a.IO.Stdout
	docker.Stderr = a.IO.Stderr
	docker.Stdin = a.stdinFile()

	wrapped, code, err := wrapper.Enforce(ctx, docker, a.State, a.Args)

	if ctx.Err() != nil {
		slog.Info("Stopping wrapper", slog.String("name", docker.Name()))

		stopErr := docker.Stop(context.WithoutCancel(ctx))
		if stopErr != nil {
			slog.Warn("Failed to stop wrapper", slog.Any("error", stopErr))
		}
	}

	if err != nil {
		return wrapped, code, fmt.Errorf("wrap: %w", err)
	}

	return wrapped, code, nil
}

// stdinFile returns stdin as file for interactive programs.
func (a *App) stdinFile() *os.File {
	if file, ok := a.IO.Stdin.(*os.File); ok {
		return file
	}

	return nil
}

func (a *App) prompt() *config.Prompter {
	if a.prompter == nil {
		a.prompter = config.NewPrompter(a.IO.Stdin, a.IO.Stdout)
	}

	return a.prompter
}

func (a *App) confirm(question string, def bool) (bool, error) {
	return a.prompt().Confirm(question, def) //nolint:wrapcheck
}

func (a *App) files() shell.Files {
	return shell.Files{Runner: a.Runner}
}

// Tree returns the pkgbuilds checkout.
func (a *App) Tree() *pkgbuild.Tree {
	if a.tree == nil {
		a.tree = pkgbuild.NewTree(a.State.Path(config.PathPkgbuilds), distro.KupferRepos, a.Runner)
	}

	return a.tree
}

// Pkgbuilds discovers all PKGBUILDs of the initialized pkgbuilds checkout.
func (a *App) Pkgbuilds(ctx context.Context) (map[string]*pkgbuild.Pkgbuild, error) {
	dir := a.Tree().Dir

	_, err := os.Stat(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf(
			"%w: pkgbuilds dir %s, run `kupferbootstrap packages init` first",
			ErrNotFound, dir,
		)
	}

	return a.Tree().Discover(ctx, false) //nolint:wrapcheck
}

// Chroots returns the chroot registry.
func (a *App) Chroots() *chroot.Registry {
	if a.chroots == nil {
		a.chroots = chroot.NewRegistry(chroot.Settings{
			Paths: chroot.Paths{
				Chroots:   a.State.Path(config.PathChroots),
				Pacman:    a.State.Path(config.PathPacman),
				Packages:  a.State.Path(config.PathPackages),
				Pkgbuilds: a.State.Path(config.PathPkgbuilds),
				CCache:    a.State.Path(config.PathCCache),
				Rust:      a.State.Path(config.PathRust),
			},
			Native: sys.Native(),
			Pacman: distro.PacmanOptions{
				ParallelDownloads: a.State.File.Pacman.ParallelDownloads,
				CheckSpace:        a.State.File.Pacman.CheckSpace,
			},
		}, a.Runner)
	}

	return a.chroots
}

// LocalRepo returns the local package repos.
func (a *App) LocalRepo() *build.LocalRepo {
	if a.repo == nil {
		branch := a.State.File.Pacman.RepoBranch

		a.repo = &build.LocalRepo{
			Dir:         a.State.Path(config.PathPackages),
			PacmanCache: a.State.Path(config.PathPacman),
			Repos:       distro.KupferRepos,
			Arches:      sys.Arches,
			Runner:      a.Runner,
			Remote: func(arch sys.Arch) *distro.Distro {
				return distro.KupferHTTPS(arch, branch)
			},
		}
	}

	return a.repo
}

// Builder returns a package builder configured from the build section.
func (a *App) Builder() *build.Builder {
	opts := a.State.File.Build

	return &build.Builder{
		Chroots: a.Chroots(),
		Tree:    a.Tree(),
		Repo:    a.LocalRepo(),
		Binfmt:  binfmt.New(a.Runner),
		Runner:  a.Runner,
		Options: build.Options{
			Crosscompile: opts.Crosscompile,
			Crossdirect:  opts.Crossdirect,
			CCache:       opts.CCache,
			CleanChroot:  opts.CleanMode,
			Threads:      opts.Threads,
			UID:          a.State.Runtime.UID,
			Environ:      os.Environ(),
		},
	}
}

// target bundles what commands working on a profile's image need.
type target struct {
	profile config.ResolvedProfile
	device  *device.Device
	flavour *flavour.Flavour
	all     map[string]*pkgbuild.Pkgbuild
}

// profileDevice resolves the device of the named profile.
func (a *App) profileDevice(ctx context.Context, name string) (target, error) {
	profile, err := a.State.EnforceProfileDeviceSet(name)
	if err != nil {
		return target{}, err //nolint:wrapcheck
	}

	all, err := a.Pkgbuilds(ctx)
	if err != nil {
		return target{}, err
	}

	dev, err := device.Find(profile.Device, all)
	if err != nil {
		return target{}, err //nolint:wrapcheck
	}

	return target{profile: profile, device: dev, all: all}, nil
}

// profileTarget resolves device and flavour of the named profile.
func (a *App) profileTarget(ctx context.Context, name string) (target, error) {
	_, err := a.State.EnforceProfileFlavourSet(name)
	if err != nil {
		return target{}, err //nolint:wrapcheck
	}

	t, err := a.profileDevice(ctx, name)
	if err != nil {
		return target{}, err
	}

	t.flavour, err = flavour.Find(t.profile.Flavour, t.all)
	if err != nil {
		return target{}, err //nolint:wrapcheck
	}

	return t, nil
}

// sectorSize loads the deviceinfo of the device and returns its sector
// size.
func (a *App) sectorSize(ctx context.Context, dev *device.Device, tryDownload bool) (int, error) {
	info, err := dev.LoadInfo(ctx, a.LocalRepo(), tryDownload)
	if err != nil {
		return 0, err //nolint:wrapcheck
	}

	size := info.SectorSize()
	if size <= 0 {
		return 0, fmt.Errorf("%w: sector size for device %s", ErrNotFound, dev.Name)
	}

	return size, nil
}

// defaultArch returns arch if set, else the arch of the profile's device.
func (a *App) defaultArch(ctx context.Context, arch sys.Arch) (sys.Arch, error) {
	if arch != "" {
		return arch, nil
	}

	t, err := a.profileDevice(ctx, "")
	if err != nil {
		return "", err
	}

	return t.device.Arch, nil
}
