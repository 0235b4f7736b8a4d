// SPDX-FileCopyrightText: 2024 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package netfwd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"

	"gitlab.com/kupfer/kupferbootstrap/internal/remote"
	"gitlab.com/kupfer/kupferbootstrap/internal/shell"
)

// USB network addresses.
const (
	Subnet = "172.16.42.0/24"
	HostIP = "172.16.42.2"
)

// Remote runs commands on the device.
type Remote interface {
	RunInteractive(ctx context.Context, command []string, stdin *os.File, stdout, stderr io.Writer) error
}

var _ Remote = remote.Client{}

// Forwarder sets up NAT on the host and makes the device route through it.
type Forwarder struct {
	Runner shell.Runner
	Links  Links
	Remote Remote

	// Attached to the remote route command, which may ask for the sudo
	// password.
	Stdin  *os.File
	Stdout io.Writer
	Stderr io.Writer
}

func (f *Forwarder) root(ctx context.Context, what string, args ...string) error {
	slog.Info(what)

	err := f.Runner.Run(ctx, shell.Command(shell.Sudo(args...)...))
	if err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}

	return nil
}

// Forward enables forwarding for the device at [remote.DefaultHost].
func (f *Forwarder) Forward(ctx context.Context) error {
	link, err := f.Links.Route(net.ParseIP(remote.DefaultHost))
	if err != nil {
		return err //nolint:wrapcheck
	}

	if !link.Up {
		slog.Info("Setting device link up", slog.String("link", link.Name))

		err = f.Links.SetUp(ctx, link.Name)
		if err != nil {
			return err //nolint:wrapcheck
		}
	}

	err = f.root(ctx, "Enabling ipv4 forwarding with sysctl",
		"sysctl", "net.ipv4.ip_forward=1")
	if err != nil {
		return err
	}

	err = f.root(ctx, "Enabling ipv4 forwarding with iptables",
		"iptables", "-P", "FORWARD", "ACCEPT")
	if err != nil {
		return err
	}

	err = f.root(ctx, "Enabling ipv4 NATting with iptables",
		"iptables", "-A", "POSTROUTING", "-t", "nat", "-j", "MASQUERADE", "-s", Subnet)
	if err != nil {
		return err
	}

	slog.Info("Setting default route on device via ssh")

	err = f.Remote.RunInteractive(ctx,
		[]string{"sudo", "-S", "route", "add", "default", "gw", HostIP},
		f.Stdin, f.Stdout, f.Stderr,
	)
	if err != nil {
		return fmt.Errorf("add gateway over ssh: %w", err)
	}

	return nil
}
