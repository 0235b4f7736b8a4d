// SPDX-FileCopyrightText: 2024 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package build

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrTooDeep is returned if the dependency chain grows unreasonably deep.
	ErrTooDeep = errors.New("dependency chain reached 100 levels depth, this is probably a bug")

	// ErrCycle is returned if the dependency chain does not converge.
	ErrCycle = errors.New("probable dependency cycle detected")

	// ErrRepoAdd is returned if a package could not be added to a repo.
	ErrRepoAdd = errors.New("failed to add package to repo")

	// ErrBuildFailed is returned if makepkg fails.
	ErrBuildFailed = errors.New("failed to compile package")

	// ErrSourcesFailed is returned if the sources of a package could not be
	// set up.
	ErrSourcesFailed = errors.New("failed to check sources")

	// ErrDependencies is returned if build dependencies could not be
	// installed.
	ErrDependencies = errors.New("dependencies failed to install")
)

// CycleError is returned if a dependency level is passed on unmodified too
// often.
type CycleError struct {
	Level    int
	Packages []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("%s: level has been passed on unmodified multiple times: #%d: %s",
		ErrCycle, e.Level, strings.Join(e.Packages, ", "))
}

func (*CycleError) Is(other error) bool {
	_, ok := other.(*CycleError)
	return ok
}

func (*CycleError) Unwrap() error {
	return ErrCycle
}
