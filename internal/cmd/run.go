// SPDX-FileCopyrightText: 2024 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"

	"github.com/spf13/pflag"

	"gitlab.com/kupfer/kupferbootstrap/internal/shell"
)

// ProgramName is the name of the CLI command.
const ProgramName = "kupferbootstrap"

// Version is set on build. Released versions select the wrapper image tag.
var Version = "dev"

func rootCommand(app *App) *Command {
	return &Command{
		Name:  ProgramName,
		Short: "Build Kupfer packages and device images",
		Flags: app.globalFlags,
		Before: func(ctx context.Context, app *App) error {
			if app.version {
				printVersion(app)
				return ErrHelp
			}

			return app.init(ctx)
		},
		Commands: []*Command{
			binfmtCommand(),
			cacheCommand(),
			chrootCommand(),
			configCommand(),
			devicesCommand(),
			flavoursCommand(),
			imageCommand(),
			netCommand(),
			packagesCommand(),
			suHelperCommand(),
		},
	}
}

func (a *App) globalFlags(fs *pflag.FlagSet) {
	fs.BoolVarP(&a.runtime.Verbose, "verbose", "v", false, "enable debug output")
	fs.StringVarP(&a.runtime.ConfigFile, "config", "C", "", "path to the config file")
	fs.BoolVarP(&a.forceWrap, "force-wrapper", "w", false, "force running in the wrapper")
	fs.BoolVarP(&a.runtime.NoWrap, "no-wrapper", "W", false, "disable the wrapper")
	fs.BoolVarP(&a.runtime.ErrorShell, "error-shell", "E", false, "spawn a shell after an error occurs")
	fs.BoolVar(&a.colors, "force-colors", false, "force colored output")
	fs.BoolVar(&a.noColors, "no-colors", false, "disable colored output")
	fs.BoolVar(&a.version, "version", false, "show version and exit")
}

func printVersion(app *App) {
	fmt.Fprintf(app.IO.Stdout, "%s: %s\n", ProgramName, Version)

	buildInfo, ok := debug.ReadBuildInfo()
	if ok && app.runtime.Verbose {
		fmt.Fprintln(app.IO.Stdout, buildInfo.String())
	}
}

func handleParseArgsError(err error) int {
	// [ErrHelp] is returned when help is requested. So exit without error
	// in this case.
	if errors.Is(err, ErrHelp) {
		return 0
	}

	return 2
}

func (a *App) handleRunError(ctx context.Context, err error) int {
	var exitErr *exitCodeError
	if errors.As(err, &exitErr) {
		return exitErr.code
	}

	slog.Error(err.Error())

	if a.runtime.ErrorShell {
		slog.Info("Starting error shell. Type exit to quit.")

		shellErr := a.Runner.Run(context.WithoutCancel(ctx), shell.Cmd{
			Args:   []string{"/bin/bash"},
			Stdin:  a.IO.Stdin,
			Stdout: a.IO.Stdout,
			Stderr: a.IO.Stderr,
		})
		if shellErr != nil {
			slog.Debug("Error shell failed", slog.Any("error", shellErr))
		}
	}

	if code := shell.ExitCode(err); code > 0 {
		return code
	}

	return 1
}

// Run is the main entry point for the CLI command.
func Run(ctx context.Context, args []string, cfg IO) int {
	setupLogging(cfg.Stderr, false, nil)

	app := newApp(cfg, args)

	err := rootCommand(app).execute(ctx, app, nil, args)
	if err == nil {
		return 0
	}

	if errors.Is(err, ErrHelp) || errors.Is(err, &ParseArgsError{}) {
		return handleParseArgsError(err)
	}

	return app.handleRunError(ctx, err)
}

// Main runs the command with the process arguments and standard streams.
func Main(ctx context.Context) int {
	return Run(ctx, os.Args[1:], IO{
		Stdin:  os.Stdin,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	})
}
