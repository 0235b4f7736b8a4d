// SPDX-FileCopyrightText: 2024 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package cmd

import (
	"context"

	"github.com/spf13/pflag"

	"gitlab.com/kupfer/kupferbootstrap/internal/netfwd"
	"gitlab.com/kupfer/kupferbootstrap/internal/remote"
)

func netCommand() *Command {
	return &Command{
		Name:  "net",
		Short: "Network utilities for devices attached via USB",
		Commands: []*Command{
			netForwardingCommand(),
			netSSHCommand(),
		},
	}
}

func netForwardingCommand() *Command {
	return &Command{
		Name:  "forwarding",
		Short: "Share the host's internet connection with the device",
		Args:  noArgs,
		Run: func(ctx context.Context, app *App, _ []string) error {
			forwarder := netfwd.Forwarder{
				Runner: app.Runner,
				Links:  netfwd.NetlinkLinks{Runner: app.Runner},
				Remote: remote.Client{},
				Stdin:  app.stdinFile(),
				Stdout: app.IO.Stdout,
				Stderr: app.IO.Stderr,
			}

			return forwarder.Forward(ctx) //nolint:wrapcheck
		},
	}
}

func netSSHCommand() *Command {
	client := remote.Client{}

	return &Command{
		Name:  "ssh",
		Usage: "[COMMAND...]",
		Short: "Open a shell or run a command on the device",
		Flags: func(fs *pflag.FlagSet) {
			fs.StringVar(&client.User, "user", "kupfer", "user to log in as")
			fs.StringVar(&client.Host, "host", remote.DefaultHost, "address of the device")
			fs.IntVar(&client.Port, "port", remote.DefaultPort, "ssh port of the device")
			fs.SetInterspersed(false)
		},
		Run: func(ctx context.Context, app *App, args []string) error {
			return client.RunInteractive(ctx, args, app.stdinFile(), app.IO.Stdout, app.IO.Stderr) //nolint:wrapcheck
		},
	}
}
