// SPDX-FileCopyrightText: 2024 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package wrapper

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"

	"gitlab.com/kupfer/kupferbootstrap/internal/config"
)

// EnvWrapped is set inside the container to the wrapper type.
const EnvWrapped = "KUPFERBOOTSTRAP_WRAPPED"

// Wrapper runs kupferbootstrap in an isolated environment.
type Wrapper interface {
	Type() string
	// Wrap runs kupferbootstrap with args wrapped and returns its exit
	// code.
	Wrap(ctx context.Context, args []string) (int, error)
	// Stop terminates a running wrapped process.
	Stop(ctx context.Context) error
}

// IsWrapped reports whether this process runs wrapped.
func IsWrapped() bool {
	return os.Getenv(EnvWrapped) != ""
}

// CheckType returns an error for unknown wrapper types.
func CheckType(wrapperType string) error {
	switch wrapperType {
	case config.WrapperNone, config.WrapperDocker:
		return nil
	default:
		return fmt.Errorf("%w %q", ErrUnknownType, wrapperType)
	}
}

// NeedsWrap reports whether a command must be run wrapped for state.
func NeedsWrap(state *config.State) bool {
	return state.WrapperType() != config.WrapperNone &&
		!state.Runtime.NoWrap &&
		!IsWrapped()
}

// Enforce wraps the current invocation with args if necessary. It reports
// whether it wrapped and the exit code of the wrapped process.
func Enforce(ctx context.Context, w Wrapper, state *config.State, args []string) (bool, int, error) {
	if !NeedsWrap(state) {
		return false, 0, nil
	}

	slog.Info("Wrapping", slog.String("type", w.Type()))

	code, err := w.Wrap(ctx, args)

	return true, code, err
}

// wrapperFlags are handled by the wrapping process only.
var wrapperFlags = []string{"-w", "-W", "--force-wrapper", "--no-wrapper"}

// configFlags are replaced by the wrapped config.
var configFlags = []string{"-C", "--config"}

// FilterArgs removes the flags from args that must not be passed to the
// wrapped process.
func FilterArgs(args []string) []string {
	var filtered []string

	for idx := 0; idx < len(args); idx++ {
		arg := args[idx]

		if arg == "--" {
			filtered = append(filtered, args[idx:]...)
			break
		}

		switch {
		case slices.Contains(wrapperFlags, arg):
			continue
		case slices.Contains(configFlags, arg):
			idx++
			continue
		case strings.HasPrefix(arg, "--config="):
			continue
		case strings.HasPrefix(arg, "-C") && !strings.HasPrefix(arg, "--"):
			continue
		}

		filtered = append(filtered, arg)
	}

	return filtered
}
