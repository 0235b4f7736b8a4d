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
	"strings"

	"github.com/spf13/pflag"

	"gitlab.com/kupfer/kupferbootstrap/internal/config"
	"gitlab.com/kupfer/kupferbootstrap/internal/device"
	"gitlab.com/kupfer/kupferbootstrap/internal/flavour"
)

type configFlags struct {
	nonInteractive bool
	noop           bool
}

func (f *configFlags) register(fs *pflag.FlagSet) {
	fs.BoolVarP(&f.nonInteractive, "non-interactive", "N", false, "do not prompt")
	fs.BoolVarP(&f.noop, "noop", "n", false, "do not write changes to the file")
}

func configCommand() *Command {
	return &Command{
		Name:  "config",
		Short: "Manage the configuration and profiles",
		Commands: []*Command{
			configInitCommand(),
			configSetCommand(),
			configGetCommand(),
			{
				Name:     "profile",
				Short:    "Manage config profiles",
				Commands: []*Command{profileInitCommand()},
			},
		},
	}
}

// save writes the config file unless noop is set. Interactive runs ask
// first.
func (a *App) save(flags configFlags) error {
	path := a.State.Runtime.ConfigFile

	if flags.noop {
		slog.Info("--noop passed, not writing config", slog.String("path", path))
		return nil
	}

	if !flags.nonInteractive {
		ok, err := a.confirm("Save changes to "+path+"?", true)
		if err != nil {
			return err
		}

		if !ok {
			return ErrAborted
		}
	}

	err := a.State.Save()
	if err != nil {
		return err //nolint:wrapcheck
	}

	slog.Info("Config written", slog.String("path", path))

	return nil
}

// choices returns the device and flavour names as prompt hints. They are
// empty if the pkgbuilds are not available.
func (a *App) choices(ctx context.Context) ([]string, []string) {
	all, err := a.Pkgbuilds(ctx)
	if err != nil {
		slog.Debug("No device and flavour hints", slog.Any("error", err))
		return nil, nil
	}

	var devices, flavours []string

	if devs, err := device.Devices(all); err == nil {
		devices = slices.Sorted(maps.Keys(devs))
	}

	if flavs, err := flavour.Flavours(all); err == nil {
		flavours = slices.Sorted(maps.Keys(flavs))
	}

	return devices, flavours
}

func configInitCommand() *Command {
	var (
		flags    configFlags
		sections []string
	)

	return &Command{
		Name:  "init",
		Short: "Initialize the config file",
		Flags: func(fs *pflag.FlagSet) {
			flags.register(fs)
			fs.StringSliceVarP(&sections, "sections", "s", config.Sections,
				"sections to prompt for: "+strings.Join(config.Sections, ", "))
		},
		Args: noArgs,
		Run: func(ctx context.Context, app *App, _ []string) error {
			for _, section := range sections {
				if !slices.Contains(config.Sections, section) {
					return fmt.Errorf("%w: unknown section %q", ErrInvalidArgument, section)
				}
			}

			if !flags.nonInteractive {
				err := app.promptConfig(ctx, sections)
				if err != nil {
					return err
				}
			}

			return app.save(flags)
		},
	}
}

func (a *App) promptConfig(ctx context.Context, sections []string) error {
	prompter := a.prompt()

	err := config.PromptSections(prompter, &a.State.File, sections)
	if err != nil {
		return err //nolint:wrapcheck
	}

	if !slices.Contains(sections, "profiles") {
		return nil
	}

	current := a.State.File.Profiles.Current
	if current == "" {
		current = config.DefaultProfileName
	}

	current, err = prompter.Ask("profiles.current", current)
	if err != nil {
		return err //nolint:wrapcheck
	}

	a.State.File.Profiles.Current = current

	devices, flavours := a.choices(ctx)

	return config.PromptProfile(prompter, &a.State.File, current, devices, flavours) //nolint:wrapcheck
}

func configSetCommand() *Command {
	var flags configFlags

	return &Command{
		Name:  "set",
		Usage: "KEY=VALUE...",
		Short: "Set config entries given as dot-separated keys, like build.clean_mode=false",
		Flags: flags.register,
		Args:  rangeArgs(1, -1),
		Run: func(_ context.Context, app *App, args []string) error {
			err := app.State.EnforceLoaded()
			if err != nil {
				return err //nolint:wrapcheck
			}

			data, err := config.Encode(app.State.File)
			if err != nil {
				return err //nolint:wrapcheck
			}

			cfg, err := config.Decode(data)
			if err != nil {
				return err //nolint:wrapcheck
			}

			for _, pair := range args {
				key, value, err := app.keyValue(cfg, pair, flags.nonInteractive)
				if err != nil {
					return err
				}

				err = config.Set(&cfg, key, value)
				if err != nil {
					return err //nolint:wrapcheck
				}

				fmt.Fprintf(app.IO.Stdout, "%s = %s\n", key, value)
			}

			if flags.noop {
				return nil
			}

			app.State.File = cfg

			return app.save(flags)
		},
	}
}

// keyValue splits a key=value pair. A key without value is prompted for
// in interactive mode.
func (a *App) keyValue(cfg config.Config, pair string, nonInteractive bool) (string, string, error) {
	key, value, found := strings.Cut(pair, "=")
	if found {
		return key, value, nil
	}

	if nonInteractive {
		return "", "", fmt.Errorf("%w: invalid key=value pair %q", ErrInvalidArgument, pair)
	}

	current, err := config.Get(cfg, key)
	if err != nil {
		return "", "", err //nolint:wrapcheck
	}

	value, err = a.prompt().Ask(key, config.FormatValue(current))
	if err != nil {
		return "", "", err //nolint:wrapcheck
	}

	return key, value, nil
}

func configGetCommand() *Command {
	return &Command{
		Name:  "get",
		Usage: "KEY...",
		Short: "Get config entries by dot-separated keys, like build.clean_mode",
		Args:  rangeArgs(1, -1),
		Run: func(_ context.Context, app *App, args []string) error {
			for _, key := range args {
				value, err := config.Get(app.State.File, key)
				if err != nil {
					return err //nolint:wrapcheck
				}

				if len(args) == 1 {
					fmt.Fprintln(app.IO.Stdout, config.FormatValue(value))
					break
				}

				fmt.Fprintf(app.IO.Stdout, "%s = %s\n", key, config.FormatValue(value))
			}

			return nil
		},
	}
}

func profileInitCommand() *Command {
	var flags configFlags

	return &Command{
		Name:  "init",
		Usage: "NAME",
		Short: "Create or edit a profile",
		Flags: flags.register,
		Args:  rangeArgs(1, 1),
		Run: func(ctx context.Context, app *App, args []string) error {
			name := args[0]

			if _, exists := app.State.File.Profiles.Entries[name]; !exists {
				app.State.UpdateProfile(name, &config.Profile{}, true, false)
			}

			if !flags.nonInteractive {
				devices, flavours := app.choices(ctx)

				err := config.PromptProfile(app.prompt(), &app.State.File, name, devices, flavours)
				if err != nil {
					return err //nolint:wrapcheck
				}
			}

			return app.save(flags)
		},
	}
}
