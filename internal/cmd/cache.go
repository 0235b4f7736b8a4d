// SPDX-FileCopyrightText: 2024 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package cmd

import (
	"context"
	"strings"

	"github.com/spf13/pflag"

	"gitlab.com/kupfer/kupferbootstrap/internal/cache"
)

func cacheCommand() *Command {
	var force, noop bool

	return &Command{
		Name:  "cache",
		Short: "Manage the cache directories",
		Commands: []*Command{
			{
				Name:  "clean",
				Usage: "[" + cache.All + "|" + strings.Join(cache.Names, "|") + "]...",
				Short: "Clear the contents of cache directories, asking for each if none is given",
				Wrap:  true,
				Flags: func(fs *pflag.FlagSet) {
					fs.BoolVarP(&force, "force", "f", false, "do not prompt, clear all directories if none is given")
					fs.BoolVarP(&noop, "noop", "n", false, "print what would be removed but do not remove")
				},
				Run: func(ctx context.Context, app *App, args []string) error {
					cleaner := cache.Cleaner{
						Files:   app.files(),
						Dirs:    cache.DirsFromState(app.State),
						Confirm: app.confirm,
						Pkgbuilds: func(ctx context.Context, force, noop bool) error {
							return app.cleanPkgbuilds(ctx, []string{"all"}, force, noop)
						},
					}

					return cleaner.Clean(ctx, args, force, noop) //nolint:wrapcheck
				},
			},
		},
	}
}
