// SPDX-FileCopyrightText: 2024 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package cmd

import (
	"context"

	"gitlab.com/kupfer/kupferbootstrap/internal/binfmt"
	"gitlab.com/kupfer/kupferbootstrap/internal/sys"
)

func binfmtCommand() *Command {
	return &Command{
		Name:  "binfmt",
		Short: "Manage qemu-user binfmt handlers for foreign arches",
		Commands: []*Command{
			{
				Name:  "register",
				Usage: "ARCH",
				Short: "Install qemu-user and register the binfmt handler for ARCH",
				Wrap:  true,
				Args:  rangeArgs(1, 1),
				Run: func(ctx context.Context, app *App, args []string) error {
					arch, err := sys.ParseArch(args[0])
					if err != nil {
						return err //nolint:wrapcheck
					}

					return app.Builder().EnableQemuBinfmt(ctx, arch) //nolint:wrapcheck
				},
			},
			{
				Name:  "unregister",
				Usage: "ARCH",
				Short: "Remove the binfmt handler for ARCH",
				Args:  rangeArgs(1, 1),
				Run: func(ctx context.Context, app *App, args []string) error {
					arch, err := sys.ParseArch(args[0])
					if err != nil {
						return err //nolint:wrapcheck
					}

					return binfmt.New(app.Runner).Unregister(ctx, arch) //nolint:wrapcheck
				},
			},
		},
	}
}
