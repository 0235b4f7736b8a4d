// SPDX-FileCopyrightText: 2024 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package netfwd

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"

	"gitlab.com/kupfer/kupferbootstrap/internal/shell"
)

// Link is a host network interface.
type Link struct {
	Name string
	Up   bool
}

// Links finds and configures host network interfaces.
type Links interface {
	// Route returns the link packets to ip are sent through.
	Route(ip net.IP) (Link, error)
	SetUp(ctx context.Context, name string) error
}

// NetlinkLinks uses rtnetlink. Changes fall back to ip(8) run with sudo if
// not permitted.
type NetlinkLinks struct {
	Runner shell.Runner
}

var _ Links = NetlinkLinks{}

// Route implements [Links].
func (n NetlinkLinks) Route(ip net.IP) (Link, error) {
	routes, err := netlink.RouteGet(ip)
	if err != nil {
		return Link{}, fmt.Errorf("%w %s: %w", ErrNoLink, ip, err)
	}

	if len(routes) == 0 || routes[0].LinkIndex == 0 {
		return Link{}, fmt.Errorf("%w %s", ErrNoLink, ip)
	}

	link, err := netlink.LinkByIndex(routes[0].LinkIndex)
	if err != nil {
		return Link{}, fmt.Errorf("get link %d: %w", routes[0].LinkIndex, err)
	}

	attrs := link.Attrs()

	return Link{Name: attrs.Name, Up: attrs.Flags&net.FlagUp != 0}, nil
}

// SetUp implements [Links].
func (n NetlinkLinks) SetUp(ctx context.Context, name string) error {
	link, err := netlink.LinkByName(name)
	if err != nil {
		return fmt.Errorf("get link %s: %w", name, err)
	}

	err = netlink.LinkSetUp(link)
	if err == nil {
		return nil
	}

	if !errors.Is(err, unix.EPERM) {
		return fmt.Errorf("set link %s up: %w", name, err)
	}

	err = n.Runner.Run(ctx, shell.Command(shell.Sudo("ip", "link", "set", "dev", name, "up")...))
	if err != nil {
		return fmt.Errorf("set link %s up: %w", name, err)
	}

	return nil
}
