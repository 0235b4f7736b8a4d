// SPDX-FileCopyrightText: 2024 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
)

// Runner runs commands.
type Runner interface {
	// Run runs the command and waits for it to finish.
	Run(ctx context.Context, cmd Cmd) error

	// Output runs the command and returns its standard output.
	Output(ctx context.Context, cmd Cmd) ([]byte, error)
}

// ExecRunner runs commands on the host with [exec.CommandContext].
//
// Output of commands that have no writers set goes to Stdout and Stderr. If
// those are nil as well, output is logged line by line at debug level.
type ExecRunner struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

var _ Runner = (*ExecRunner)(nil)

func (r *ExecRunner) command(ctx context.Context, cmd Cmd) (*exec.Cmd, error) {
	args := cmd.fullArgs()
	if len(args) == 0 {
		return nil, ErrEmptyCommand
	}

	slog.Debug("Run command", slog.String("cmd", Join(args)))

	//nolint:gosec
	execCmd := exec.CommandContext(ctx, args[0], args[1:]...)
	execCmd.Dir = cmd.Dir
	execCmd.Stdin = firstReader(cmd.Stdin, r.Stdin)

	return execCmd, nil
}

// Run implements [Runner].
func (r *ExecRunner) Run(ctx context.Context, cmd Cmd) error {
	execCmd, err := r.command(ctx, cmd)
	if err != nil {
		return err
	}

	stdout := firstWriter(cmd.Stdout, r.Stdout)
	stderr := firstWriter(cmd.Stderr, r.Stderr)

	var loggers []*LineLogger

	if stdout == nil {
		logger := NewLineLogger(execCmd.Path, "stdout")
		loggers = append(loggers, logger)
		stdout = logger
	}

	if stderr == nil {
		logger := NewLineLogger(execCmd.Path, "stderr")
		loggers = append(loggers, logger)
		stderr = logger
	}

	execCmd.Stdout = stdout
	execCmd.Stderr = stderr

	err = execCmd.Run()

	for _, logger := range loggers {
		logger.Flush()
	}

	return wrapExecError(cmd, err)
}

// Output implements [Runner].
func (r *ExecRunner) Output(ctx context.Context, cmd Cmd) ([]byte, error) {
	execCmd, err := r.command(ctx, cmd)
	if err != nil {
		return nil, err
	}

	var stdout bytes.Buffer

	execCmd.Stdout = &stdout
	execCmd.Stderr = firstWriter(cmd.Stderr, NewLineLogger(execCmd.Path, "stderr"))

	err = execCmd.Run()

	return stdout.Bytes(), wrapExecError(cmd, err)
}

func wrapExecError(cmd Cmd, err error) error {
	if err == nil {
		return nil
	}

	cmdErr := &CommandError{Args: cmd.fullArgs(), Err: err}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		cmdErr.ExitCode = exitErr.ExitCode()
	}

	return cmdErr
}

func firstWriter(writers ...io.Writer) io.Writer {
	for _, w := range writers {
		if w != nil {
			return w
		}
	}

	return nil
}

func firstReader(readers ...io.Reader) io.Reader {
	for _, r := range readers {
		if r != nil {
			return r
		}
	}

	return nil
}

// RunScript runs the script with bash.
func RunScript(ctx context.Context, runner Runner, script string) error {
	err := runner.Run(ctx, Command(Bash(script)...))
	if err != nil {
		return fmt.Errorf("script: %w", err)
	}

	return nil
}
