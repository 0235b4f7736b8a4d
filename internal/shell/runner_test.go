// SPDX-FileCopyrightText: 2024 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package shell_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gitlab.com/kupfer/kupferbootstrap/internal/shell"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestExecRunnerRun(t *testing.T) {
	t.Run("success with env", func(t *testing.T) {
		var stdout bytes.Buffer

		runner := &shell.ExecRunner{Stdout: &stdout}
		cmd := shell.Command("/bin/sh", "-c", "echo $GREETING")
		cmd.Env = map[string]string{"GREETING": "hello"}

		err := runner.Run(t.Context(), cmd)
		require.NoError(t, err)
		assert.Equal(t, "hello\n", stdout.String())
	})

	t.Run("exit code", func(t *testing.T) {
		runner := &shell.ExecRunner{}

		err := runner.Run(t.Context(), shell.Command("/bin/sh", "-c", "exit 3"))
		require.ErrorIs(t, err, &shell.CommandError{})
		assert.Equal(t, 3, shell.ExitCode(err))
	})

	t.Run("stdin", func(t *testing.T) {
		var stdout bytes.Buffer

		runner := &shell.ExecRunner{}
		cmd := shell.Command("cat")
		cmd.Stdin = strings.NewReader("data")
		cmd.Stdout = &stdout

		err := runner.Run(t.Context(), cmd)
		require.NoError(t, err)
		assert.Equal(t, "data", stdout.String())
	})

	t.Run("empty", func(t *testing.T) {
		runner := &shell.ExecRunner{}

		err := runner.Run(t.Context(), shell.Cmd{})
		require.ErrorIs(t, err, shell.ErrEmptyCommand)
	})
}

func TestExecRunnerOutput(t *testing.T) {
	runner := &shell.ExecRunner{}

	out, err := runner.Output(t.Context(), shell.Command("/bin/sh", "-c", "printf out; printf err >&2"))
	require.NoError(t, err)
	assert.Equal(t, "out", string(out))
}

func TestExitCodeWithoutCommandError(t *testing.T) {
	assert.Equal(t, -1, shell.ExitCode(assert.AnError))
}
