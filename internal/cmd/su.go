// SPDX-FileCopyrightText: 2024 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package cmd

import (
	"context"

	"github.com/spf13/pflag"

	"gitlab.com/kupfer/kupferbootstrap/internal/wrapper"
)

func suHelperCommand() *Command {
	var (
		uid      int
		username string
	)

	return &Command{
		Name:   wrapper.SuHelperCommand,
		Usage:  "-- COMMAND...",
		Short:  "Run a command as the container user with the host uid",
		Hidden: true,
		Flags: func(fs *pflag.FlagSet) {
			fs.IntVar(&uid, "uid", 0, "uid of the host user")
			fs.StringVar(&username, "username", wrapper.ContainerUser, "name of the container user")
		},
		Args: rangeArgs(1, -1),
		Run: func(ctx context.Context, app *App, args []string) error {
			helper := wrapper.SuHelper{Runner: app.Runner}

			return helper.Run(ctx, uid, username, args) //nolint:wrapcheck
		},
	}
}
