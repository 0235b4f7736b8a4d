// SPDX-FileCopyrightText: 2024 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package cmd

import (
	"bytes"
	"context"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArgValidators(t *testing.T) {
	tests := []struct {
		name        string
		check       func([]string) error
		args        []string
		expectedErr error
	}{
		{
			name:  "no args",
			check: noArgs,
		},
		{
			name:        "no args given one",
			check:       noArgs,
			args:        []string{"a"},
			expectedErr: ErrTooManyArguments,
		},
		{
			name:        "range too few",
			check:       rangeArgs(1, 2),
			expectedErr: ErrMissingArgument,
		},
		{
			name:        "range too many",
			check:       rangeArgs(1, 2),
			args:        []string{"a", "b", "c"},
			expectedErr: ErrTooManyArguments,
		},
		{
			name:  "range unlimited",
			check: rangeArgs(1, -1),
			args:  []string{"a", "b", "c"},
		},
		{
			name:  "choice valid",
			check: choiceArgs(0, "base", "build"),
			args:  []string{"build"},
		},
		{
			name:  "choice missing",
			check: choiceArgs(1, "base", "build"),
			args:  []string{"x"},
		},
		{
			name:        "choice invalid",
			check:       choiceArgs(0, "base", "build"),
			args:        []string{"rootfs"},
			expectedErr: ErrInvalidArgument,
		},
		{
			name:        "all args stops at first error",
			check:       allArgs(rangeArgs(0, 1), choiceArgs(0, "base")),
			args:        []string{"base", "aarch64"},
			expectedErr: ErrTooManyArguments,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.check(tt.args)
			assert.ErrorIs(t, err, tt.expectedErr)
		})
	}
}

func TestCommandExecute(t *testing.T) {
	var (
		ran    []string
		target string
	)

	root := &Command{
		Name: "prog",
		Commands: []*Command{
			{
				Name:  "build",
				Short: "build things",
				Flags: func(fs *pflag.FlagSet) {
					fs.StringVar(&target, "target", "", "target")
				},
				Args: rangeArgs(1, 1),
				Run: func(_ context.Context, _ *App, args []string) error {
					ran = append(ran, args...)
					return nil
				},
			},
			{
				Name:   "secret",
				Short:  "not listed",
				Hidden: true,
			},
		},
	}

	var stderr bytes.Buffer

	app := &App{IO: IO{Stderr: &stderr}}

	err := root.execute(t.Context(), app, nil, []string{"build", "--target", "x", "pkg"})
	require.NoError(t, err)
	assert.Equal(t, []string{"pkg"}, ran)
	assert.Equal(t, "x", target)

	err = root.execute(t.Context(), app, nil, []string{"build"})
	require.ErrorIs(t, err, &ParseArgsError{})
	require.ErrorIs(t, err, ErrMissingArgument)
	assert.Contains(t, stderr.String(), "Usage: prog build [flags]")

	stderr.Reset()

	err = root.execute(t.Context(), app, nil, []string{"build", "--bogus", "pkg"})
	require.ErrorIs(t, err, &ParseArgsError{})
	assert.Contains(t, stderr.String(), "flag parse: unknown flag: --bogus")
	assert.Contains(t, stderr.String(), "Usage: prog build [flags]")

	stderr.Reset()

	err = root.execute(t.Context(), app, nil, []string{"--help"})
	require.ErrorIs(t, err, ErrHelp)
	assert.Contains(t, stderr.String(), "Usage: prog [flags] COMMAND [args...]")
	assert.Contains(t, stderr.String(), "build")
	assert.NotContains(t, stderr.String(), "secret")
}
