// SPDX-FileCopyrightText: 2024 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package cmd

import (
	"context"
	"log/slog"

	"gitlab.com/kupfer/kupferbootstrap/internal/chroot"
	"gitlab.com/kupfer/kupferbootstrap/internal/sys"
)

var chrootTypes = []string{"base", "build", "rootfs"}

func chrootCommand() *Command {
	return &Command{
		Name:  "chroot",
		Usage: "[base|build|rootfs] [ARCH|PROFILE]",
		Short: "Open a shell in a chroot. The argument is an arch for base and build chroots, a profile for rootfs",
		Wrap:  true,
		Args:  allArgs(rangeArgs(0, 2), choiceArgs(0, chrootTypes...)),
		Run: func(ctx context.Context, app *App, args []string) error {
			kind := "build"
			if len(args) > 0 {
				kind = args[0]
			}

			var param string
			if len(args) > 1 {
				param = args[1]
			}

			if kind == "rootfs" {
				return app.inspectImage(ctx, param, true)
			}

			var arch sys.Arch

			if param != "" {
				err := arch.Set(param)
				if err != nil {
					return err //nolint:wrapcheck
				}
			}

			arch, err := app.defaultArch(ctx, arch)
			if err != nil {
				return err
			}

			var c *chroot.Chroot

			switch kind {
			case "base":
				c, err = app.baseChroot(ctx, arch)
			default:
				c, err = app.buildChroot(ctx, arch)
			}

			if err != nil {
				return err
			}

			slog.Info("Opening shell", slog.String("chroot", c.Name))

			return c.Run(ctx, "bash", chroot.RunOptions{ //nolint:wrapcheck
				Stdin:  app.IO.Stdin,
				Stdout: app.IO.Stdout,
				Stderr: app.IO.Stderr,
			})
		},
	}
}

func (a *App) baseChroot(ctx context.Context, arch sys.Arch) (*chroot.Chroot, error) {
	c := a.Chroots().Base(arch)

	if c.Exists() {
		c.MarkInitialized()
	} else {
		err := c.Initialize(ctx, false, false)
		if err != nil {
			return nil, err //nolint:wrapcheck
		}
	}

	err := c.Activate(ctx, false)
	if err != nil {
		return nil, err //nolint:wrapcheck
	}

	return c, nil
}

func (a *App) buildChroot(ctx context.Context, arch sys.Arch) (*chroot.Chroot, error) {
	c, err := a.Builder().SetupBuildChroot(ctx, arch, nil, true)
	if err != nil {
		return nil, err //nolint:wrapcheck
	}

	_, err = c.MountChroots(ctx, false)
	if err != nil {
		return nil, err //nolint:wrapcheck
	}

	native := sys.Native()
	if a.State.File.Build.Crossdirect && arch != native {
		nativeChroot, err := a.Builder().SetupBuildChroot(ctx, native, chroot.CrossdirectPackages, true)
		if err != nil {
			return nil, err //nolint:wrapcheck
		}

		_, err = c.MountCrossdirect(ctx, nativeChroot, false)
		if err != nil {
			return nil, err //nolint:wrapcheck
		}
	}

	return c, nil
}
