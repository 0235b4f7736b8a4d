// SPDX-FileCopyrightText: 2024 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package shell

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrEmptyCommand is returned if a command without arguments is run.
	ErrEmptyCommand = errors.New("empty command")

	// ErrParentMissing is returned if the parent directory of a file to
	// write does not exist.
	ErrParentMissing = errors.New("parent directory does not exist")

	// ErrNotADirectory is returned if a path is expected to be a directory
	// but is not.
	ErrNotADirectory = errors.New("not a directory")
)

// CommandError is returned if a command did not run successfully.
type CommandError struct {
	Args     []string
	ExitCode int
	Err      error
}

func (e *CommandError) Error() string {
	name := strings.Join(e.Args, " ")
	if len(name) > 80 {
		name = name[:77] + "..."
	}

	if e.ExitCode > 0 {
		return fmt.Sprintf("command %q failed with exit code %d", name, e.ExitCode)
	}

	return fmt.Sprintf("command %q: %v", name, e.Err)
}

func (*CommandError) Is(other error) bool {
	_, ok := other.(*CommandError)
	return ok
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// ExitCode returns the exit code of the first [CommandError] in the chain of
// err. It returns -1 if there is none.
func ExitCode(err error) int {
	var cmdErr *CommandError
	if errors.As(err, &cmdErr) && cmdErr.ExitCode > 0 {
		return cmdErr.ExitCode
	}

	return -1
}
