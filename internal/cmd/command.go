// SPDX-FileCopyrightText: 2024 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/spf13/pflag"
)

// Command is a node of the command tree. A command either has subcommands
// or a Run function.
type Command struct {
	Name string
	// Usage describes the positional arguments.
	Usage string
	Short string
	// Hidden commands are not listed in usage output.
	Hidden bool
	// Wrap runs the command in the configured wrapper.
	Wrap bool

	// Flags registers the flags of the command.
	Flags func(fs *pflag.FlagSet)
	// Args validates the positional arguments.
	Args func(args []string) error
	// Before runs after the flags are parsed and before a subcommand is
	// dispatched.
	Before func(ctx context.Context, app *App) error
	Run    func(ctx context.Context, app *App, args []string) error

	Commands []*Command
}

// exitCodeError ends the program with the exit code of a wrapped run.
type exitCodeError struct {
	code int
}

func (e *exitCodeError) Error() string {
	return fmt.Sprintf("wrapped command exited with %d", e.code)
}

func noArgs(args []string) error {
	if len(args) > 0 {
		return fmt.Errorf("%w: %s", ErrTooManyArguments, strings.Join(args, " "))
	}

	return nil
}

func rangeArgs(minimum, maximum int) func([]string) error {
	return func(args []string) error {
		if len(args) < minimum {
			return ErrMissingArgument
		}

		if maximum >= 0 && len(args) > maximum {
			return fmt.Errorf("%w: %s", ErrTooManyArguments, strings.Join(args[maximum:], " "))
		}

		return nil
	}
}

func choiceArgs(position int, choices ...string) func([]string) error {
	return func(args []string) error {
		if len(args) <= position || slices.Contains(choices, args[position]) {
			return nil
		}

		return fmt.Errorf("%w %q, choose from: %s",
			ErrInvalidArgument, args[position], strings.Join(choices, ", "))
	}
}

func allArgs(checks ...func([]string) error) func([]string) error {
	return func(args []string) error {
		for _, check := range checks {
			err := check(args)
			if err != nil {
				return err
			}
		}

		return nil
	}
}

func (c *Command) find(name string) *Command {
	for _, sub := range c.Commands {
		if sub.Name == name {
			return sub
		}
	}

	return nil
}

func (c *Command) flagSet(path []string, output io.Writer) *pflag.FlagSet {
	fs := pflag.NewFlagSet(strings.Join(path, " "), pflag.ContinueOnError)
	fs.SetOutput(output)
	fs.Usage = func() { c.printUsage(fs, path) }

	if c.Flags != nil {
		c.Flags(fs)
	}

	// Flags after the subcommand name belong to the subcommand.
	if len(c.Commands) > 0 {
		fs.SetInterspersed(false)
	}

	return fs
}

func (c *Command) printUsage(fs *pflag.FlagSet, path []string) {
	out := fs.Output()

	usage := strings.Join(path, " ") + " [flags]"

	switch {
	case len(c.Commands) > 0:
		usage += " COMMAND [args...]"
	case c.Usage != "":
		usage += " " + c.Usage
	}

	fmt.Fprintf(out, "Usage: %s\n", usage)

	if c.Short != "" {
		fmt.Fprintf(out, "\n%s\n", c.Short)
	}

	if len(c.Commands) > 0 {
		fmt.Fprintln(out, "\nCommands:")

		for _, sub := range c.Commands {
			if !sub.Hidden {
				fmt.Fprintf(out, "  %-12s %s\n", sub.Name, sub.Short)
			}
		}
	}

	if fs.HasAvailableFlags() {
		fmt.Fprintf(out, "\nFlags:\n%s", fs.FlagUsages())
	}
}

// fail prints the error followed by usage, like flag parsing errors are
// reported.
func fail(fs *pflag.FlagSet, msg string, err error) error {
	err = &ParseArgsError{msg: msg, err: err}
	fmt.Fprintln(fs.Output(), err.Error())

	fs.Usage()

	return err
}

func (c *Command) execute(ctx context.Context, app *App, parents, args []string) error {
	path := append(slices.Clone(parents), c.Name)
	fs := c.flagSet(path, app.IO.Stderr)

	err := fs.Parse(args)
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return ErrHelp
		}

		return fail(fs, "flag parse", err)
	}

	if c.Before != nil {
		err := c.Before(ctx, app)
		if err != nil {
			return err
		}
	}

	rest := fs.Args()

	if len(c.Commands) > 0 {
		if len(rest) == 0 {
			return fail(fs, strings.Join(path, " "), ErrMissingCommand)
		}

		sub := c.find(rest[0])
		if sub == nil {
			return fail(fs, strings.Join(path, " "), fmt.Errorf("%w %q", ErrUnknownCommand, rest[0]))
		}

		return sub.execute(ctx, app, path, rest[1:])
	}

	if c.Args != nil {
		err := c.Args(rest)
		if err != nil {
			return fail(fs, strings.Join(path, " "), err)
		}
	}

	if c.Wrap {
		wrapped, code, err := app.wrap(ctx)
		if err != nil {
			return err
		}

		if wrapped {
			if code != 0 {
				return &exitCodeError{code: code}
			}

			return nil
		}
	}

	return c.Run(ctx, app, rest)
}
