// SPDX-FileCopyrightText: 2024 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package wrapper

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/user"
	"strconv"

	"gitlab.com/kupfer/kupferbootstrap/internal/shell"
)

// SuHelperCommand is the hidden subcommand the container entry uses to drop
// privileges.
const SuHelperCommand = "wrapper-su-helper"

// SuHelper runs commands inside the container as the container user with
// the uid of the invoking host user, so files created in mounted volumes
// belong to them.
type SuHelper struct {
	Runner shell.Runner

	// LookupUser defaults to [user.Lookup].
	LookupUser func(name string) (*user.User, error)
}

// Run changes the uid of username to uid if it differs and runs command as
// that user with the standard streams attached.
func (s SuHelper) Run(ctx context.Context, uid int, username string, command []string) error {
	lookup := s.LookupUser
	if lookup == nil {
		lookup = user.Lookup
	}

	account, err := lookup(username)
	if err != nil {
		return fmt.Errorf("lookup user: %w", err)
	}

	if account.Uid != strconv.Itoa(uid) {
		slog.Debug("Changing uid",
			slog.String("user", username),
			slog.Int("uid", uid),
		)

		err = s.Runner.Run(ctx, shell.Command("usermod", "-u", strconv.Itoa(uid), username))
		if err != nil {
			return fmt.Errorf("change uid: %w", err)
		}

		err = shell.Files{Runner: s.Runner}.Chown(ctx, account.HomeDir, username, false)
		if err != nil {
			return err //nolint:wrapcheck
		}
	}

	slog.Debug("Running wrapped command",
		slog.String("user", username),
		slog.String("cmd", shell.Join(command)),
	)

	env := shell.EnvPrefix(map[string]string{"HOME": account.HomeDir, "USER": username})

	cmd := shell.Command(shell.SwitchUser(append(env, command...), username, true)...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	return s.Runner.Run(ctx, cmd) //nolint:wrapcheck
}
