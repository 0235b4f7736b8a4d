// SPDX-FileCopyrightText: 2024 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"

	"github.com/spf13/pflag"

	"gitlab.com/kupfer/kupferbootstrap/internal/build"
	"gitlab.com/kupfer/kupferbootstrap/internal/chroot"
	"gitlab.com/kupfer/kupferbootstrap/internal/config"
	"gitlab.com/kupfer/kupferbootstrap/internal/flash"
	"gitlab.com/kupfer/kupferbootstrap/internal/image"
	"gitlab.com/kupfer/kupferbootstrap/internal/mount"
	"gitlab.com/kupfer/kupferbootstrap/internal/remote"
	"gitlab.com/kupfer/kupferbootstrap/internal/sys"
)

func imageCommand() *Command {
	return &Command{
		Name:  "image",
		Short: "Build, inspect, flash and boot device images",
		Commands: []*Command{
			imageBuildCommand(),
			imageInspectCommand(),
			imageInitramfsCommand(),
			imageFlashCommand(),
			imageBootCommand(),
		},
	}
}

func (a *App) imageBuilder() *image.Builder {
	keys := remote.KeyInstaller{
		Files: a.files(),
		Confirm: func(question string) (bool, error) {
			return a.confirm(question, true)
		},
	}

	return &image.Builder{
		Disk:     image.NewDisk(a.Runner),
		Chroots:  a.Chroots(),
		CopyKeys: keys.CopyKeys,
	}
}

func (a *App) imageTarget(ctx context.Context, t target, tryDownload bool) (image.Target, error) {
	sectorSize, err := a.sectorSize(ctx, t.device, tryDownload)
	if err != nil {
		return image.Target{}, err
	}

	return image.Target{
		Device:     t.device.Name,
		Flavour:    t.flavour.Name,
		Arch:       t.device.Arch,
		SectorSize: sectorSize,
	}, nil
}

// fullImage returns the path of the full image of the profile's device and
// flavour.
func (a *App) fullImage(t target) string {
	return image.Path(a.State.Path(config.PathImages), t.device.Name, t.flavour.Name, image.TypeFull)
}

type imageBuildFlags struct {
	localRepos     bool
	noLocalRepos   bool
	buildPkgs      bool
	noBuildPkgs    bool
	noDownloadPkgs bool
	blockTarget    string
	skipPartImages bool
}

func (f *imageBuildFlags) register(fs *pflag.FlagSet) {
	fs.BoolVarP(&f.localRepos, "local-repos", "l", true, "install from the local package repos")
	fs.BoolVarP(&f.noLocalRepos, "no-local-repos", "L", false, "install from the HTTPS repos only")
	fs.BoolVarP(&f.buildPkgs, "build-pkgs", "p", true, "build missing packages before installing")
	fs.BoolVarP(&f.noBuildPkgs, "no-build-pkgs", "P", false, "do not build missing packages")
	fs.BoolVar(&f.noDownloadPkgs, "no-download-pkgs", false,
		"do not try downloading packages from the HTTPS repos instead of building")
	fs.StringVar(&f.blockTarget, "block-target", "", "block device to write the image to instead of a file")
	fs.BoolVar(&f.skipPartImages, "skip-part-images", false,
		"work on the partitions of the full image instead of separate partition images")
}

func imageBuildCommand() *Command {
	var flags imageBuildFlags

	return &Command{
		Name:  "build",
		Usage: "[PROFILE]",
		Short: "Build a device image for a profile",
		Wrap:  true,
		Flags: flags.register,
		Args:  rangeArgs(0, 1),
		Run: func(ctx context.Context, app *App, args []string) error {
			var profileName string
			if len(args) > 0 {
				profileName = args[0]
			}

			return app.buildImage(ctx, profileName, flags)
		},
	}
}

func (a *App) buildImage(ctx context.Context, profileName string, flags imageBuildFlags) error {
	t, err := a.profileTarget(ctx, profileName)
	if err != nil {
		return err
	}

	local := flags.localRepos && !flags.noLocalRepos
	buildPkgs := local && flags.buildPkgs && !flags.noBuildPkgs
	tryDownload := !flags.noDownloadPkgs

	info, err := t.flavour.LoadInfo(a.Tree().Dir)
	if err != nil {
		return err //nolint:wrapcheck
	}

	packages := slices.Concat(
		chroot.DevicePackages,
		[]string{t.device.Package.Name, t.flavour.Package.Name},
		t.profile.PkgsInclude,
	)

	arch := t.device.Arch
	builder := a.Builder()

	if arch != sys.Native() {
		err := builder.EnableQemuBinfmt(ctx, arch)
		if err != nil {
			return err //nolint:wrapcheck
		}
	}

	if buildPkgs {
		var names []string

		for _, name := range packages {
			if _, exists := t.all[name]; exists {
				names = append(names, name)
			}
		}

		_, err := builder.BuildPaths(ctx, names, arch, build.Flags{TryDownload: tryDownload})
		if err != nil {
			return err //nolint:wrapcheck
		}
	}

	imgTarget, err := a.imageTarget(ctx, t, tryDownload)
	if err != nil {
		return err
	}

	password, err := a.profilePassword(t.profile)
	if err != nil {
		return err
	}

	path, err := a.imageBuilder().Build(ctx, imgTarget, image.BuildOptions{
		InstallOptions: image.InstallOptions{
			Packages:   packages,
			LocalRepos: local,
			Branch:     a.State.File.Pacman.RepoBranch,
			Username:   t.profile.Username,
			Password:   password,
			Hostname:   t.profile.Hostname,
		},
		Dir:            a.State.Path(config.PathImages),
		SizeMB:         image.RootfsSizeMB(info.RootfsSize, t.profile.SizeExtraMB),
		BlockTarget:    flags.blockTarget,
		SkipPartImages: flags.skipPartImages,
	})
	if err != nil {
		return err //nolint:wrapcheck
	}

	fmt.Fprintln(a.IO.Stdout, path)

	return nil
}

// profilePassword returns the password of the profile. If it has none, it
// is prompted for.
func (a *App) profilePassword(profile config.ResolvedProfile) (string, error) {
	if profile.Password != nil {
		return *profile.Password, nil
	}

	return a.prompt().Password("Password for user " + profile.Username) //nolint:wrapcheck
}

func imageInspectCommand() *Command {
	var shell bool

	return &Command{
		Name:  "inspect",
		Usage: "[PROFILE]",
		Short: "Mount the image of a profile and optionally open a shell in it",
		Wrap:  true,
		Flags: func(fs *pflag.FlagSet) {
			fs.BoolVarP(&shell, "shell", "s", false, "open a shell in the image")
		},
		Args: rangeArgs(0, 1),
		Run: func(ctx context.Context, app *App, args []string) error {
			var profileName string
			if len(args) > 0 {
				profileName = args[0]
			}

			return app.inspectImage(ctx, profileName, shell)
		},
	}
}

// inspectImage mounts the full image of the profile. With shell, a shell is
// opened in it, else it stays mounted until enter is pressed.
func (a *App) inspectImage(ctx context.Context, profileName string, shell bool) (err error) {
	t, err := a.profileTarget(ctx, profileName)
	if err != nil {
		return err
	}

	imgTarget, err := a.imageTarget(ctx, t, true)
	if err != nil {
		return err
	}

	path := a.fullImage(t)

	builder := a.imageBuilder()

	loop, err := builder.Disk.Attach(ctx, path, imgTarget.SectorSize)
	if err != nil {
		return err //nolint:wrapcheck
	}

	defer func() {
		err = errors.Join(err, builder.Disk.Loop.Detach(ctx, loop))
	}()

	c := builder.DeviceChroot(imgTarget, image.InstallOptions{})

	attached, err := builder.MountChroot(ctx, c, mount.Partition(loop, 2), mount.Partition(loop, 1))

	defer func() {
		err = errors.Join(err, builder.UmountChroot(ctx, c))

		for _, device := range attached {
			err = errors.Join(err, builder.Disk.Loop.Detach(ctx, device))
		}
	}()

	if err != nil {
		return err //nolint:wrapcheck
	}

	if !shell {
		slog.Info("Image mounted", slog.String("image", path), slog.String("path", c.Root))
		fmt.Fprint(a.IO.Stdout, "Press enter to unmount")

		_, err := bufio.NewReader(a.IO.Stdin).ReadString('\n')
		if err != nil {
			slog.Debug("Reading stdin failed", slog.Any("error", err))
		}

		return nil
	}

	c.MarkInitialized()

	err = c.Activate(ctx, false)
	if err != nil {
		return err //nolint:wrapcheck
	}

	if imgTarget.Arch != sys.Native() {
		err := a.Builder().EnableQemuBinfmt(ctx, imgTarget.Arch)
		if err != nil {
			return err //nolint:wrapcheck
		}
	}

	slog.Info("Opening shell", slog.String("image", path))

	return c.Run(ctx, "/bin/bash", chroot.RunOptions{ //nolint:wrapcheck
		Stdin:  a.IO.Stdin,
		Stdout: a.IO.Stdout,
		Stderr: a.IO.Stderr,
	})
}

func imageInitramfsCommand() *Command {
	return &Command{
		Name:  "initramfs",
		Usage: "FILE",
		Short: "List the files in an initramfs",
		Args:  rangeArgs(1, 1),
		Run: func(_ context.Context, app *App, args []string) error {
			file, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("open initramfs: %w", err)
			}
			defer file.Close()

			entries, err := image.InspectInitramfs(file)
			if err != nil {
				return err //nolint:wrapcheck
			}

			for _, entry := range entries {
				fmt.Fprintln(app.IO.Stdout, entry.String())
			}

			return nil
		},
	}
}

func imageFlashCommand() *Command {
	var profileName string

	return &Command{
		Name:  "flash",
		Usage: "WHAT [LOCATION]",
		Short: "Flash a part of the profile's image. LOCATION is a block device or emmc/microsd for rootfs",
		Wrap:  true,
		Flags: func(fs *pflag.FlagSet) {
			fs.StringVar(&profileName, "profile", "", "profile to use instead of the current one")
		},
		Args: rangeArgs(1, 2),
		Run: func(ctx context.Context, app *App, args []string) error {
			part, err := flash.ParsePart(args[0])
			if err != nil {
				return fmt.Errorf("%w: %w", ErrInvalidArgument, err)
			}

			var location string
			if len(args) > 1 {
				location = args[1]
			}

			t, err := app.profileTarget(ctx, profileName)
			if err != nil {
				return err
			}

			imgTarget, err := app.imageTarget(ctx, t, true)
			if err != nil {
				return err
			}

			return flash.New(app.Runner).Flash( //nolint:wrapcheck
				ctx, app.fullImage(t), part, location, imgTarget.SectorSize,
			)
		},
	}
}

func imageBootCommand() *Command {
	var profileName string

	return &Command{
		Name:  "boot",
		Usage: "[" + flash.BootJumpdrive + "]",
		Short: "Boot the profile's image or Jumpdrive on the device with fastboot",
		Wrap:  true,
		Flags: func(fs *pflag.FlagSet) {
			fs.StringVar(&profileName, "profile", "", "profile to use instead of the current one")
		},
		Args: allArgs(rangeArgs(0, 1), choiceArgs(0, flash.BootJumpdrive)),
		Run: func(ctx context.Context, app *App, args []string) error {
			bootType := flash.BootImage
			if len(args) > 0 {
				bootType = args[0]
			}

			t, err := app.profileTarget(ctx, profileName)
			if err != nil {
				return err
			}

			imgTarget, err := app.imageTarget(ctx, t, true)
			if err != nil {
				return err
			}

			booter := flash.Booter{
				Flasher:      flash.New(app.Runner),
				JumpdriveDir: app.State.Path(config.PathJumpdrive),
			}

			return booter.Boot(ctx, t.device.Name, app.fullImage(t), bootType, imgTarget.SectorSize) //nolint:wrapcheck
		},
	}
}
