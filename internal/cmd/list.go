// SPDX-FileCopyrightText: 2024 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"

	"github.com/charmbracelet/lipgloss"

	"gitlab.com/kupfer/kupferbootstrap/internal/config"
	"gitlab.com/kupfer/kupferbootstrap/internal/device"
	"gitlab.com/kupfer/kupferbootstrap/internal/flavour"
)

func devicesCommand() *Command {
	return &Command{
		Name:  "devices",
		Short: "List the available devices",
		Args:  noArgs,
		Run: func(ctx context.Context, app *App, _ []string) error {
			all, err := app.Pkgbuilds(ctx)
			if err != nil {
				return err
			}

			devices, err := device.Devices(all)
			if err != nil {
				return err //nolint:wrapcheck
			}

			if len(devices) == 0 {
				return fmt.Errorf("%w: no devices", ErrNotFound)
			}

			current := app.currentProfile()

			for _, name := range slices.Sorted(maps.Keys(devices)) {
				dev := devices[name]
				line := app.listName(name, name == current.Device) +
					fmt.Sprintf(" (%s): %s", dev.Arch, dev.Package.Path)

				fmt.Fprintln(app.IO.Stdout, line)
			}

			return nil
		},
	}
}

func flavoursCommand() *Command {
	return &Command{
		Name:  "flavours",
		Short: "List the available flavours",
		Args:  noArgs,
		Run: func(ctx context.Context, app *App, _ []string) error {
			all, err := app.Pkgbuilds(ctx)
			if err != nil {
				return err
			}

			flavours, err := flavour.Flavours(all)
			if err != nil {
				return err //nolint:wrapcheck
			}

			if len(flavours) == 0 {
				return fmt.Errorf("%w: no flavours", ErrNotFound)
			}

			current := app.currentProfile()

			for _, name := range slices.Sorted(maps.Keys(flavours)) {
				flav := flavours[name]

				_, err := flav.LoadInfo(app.Tree().Dir)
				if err != nil {
					slog.Debug("No flavour info", slog.String("flavour", name), slog.Any("error", err))
				}

				line := app.listName(name, name == current.Flavour)
				if flav.Description != "" {
					line += ": " + flav.Description
				}

				if flav.Info != nil && flav.Info.RootfsSize > 0 {
					line += fmt.Sprintf(" (rootfs %d GB)", flav.Info.RootfsSize)
				}

				fmt.Fprintln(app.IO.Stdout, line)
			}

			return nil
		},
	}
}

// listName renders a name for listings. The one selected by the current
// profile is marked.
func (a *App) listName(name string, selected bool) string {
	style := a.Renderer.NewStyle().Bold(true)
	marker := "  "

	if selected {
		style = style.Foreground(lipgloss.Color("10"))
		marker = "* "
	}

	return marker + style.Render(name)
}

// currentProfile resolves the current profile. It is empty if that fails.
func (a *App) currentProfile() config.ResolvedProfile {
	profile, err := a.State.Profile("")
	if err != nil {
		slog.Debug("No current profile", slog.Any("error", err))
	}

	return profile
}
