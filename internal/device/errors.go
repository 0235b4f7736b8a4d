// SPDX-FileCopyrightText: 2024 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package device

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnknownDevice is returned if no device package exists for a name.
	ErrUnknownDevice = errors.New("unknown device")

	// ErrInvalidPackage is returned for device packages that can not
	// describe a device.
	ErrInvalidPackage = errors.New("invalid device package")

	// ErrSyntax is returned for deviceinfo lines without assignment.
	ErrSyntax = errors.New("deviceinfo syntax error")

	// ErrSanity is returned if a deviceinfo file fails the sanity checks.
	ErrSanity = errors.New("deviceinfo sanity check failed")

	// ErrNotAcquired is returned if the device package is neither built nor
	// downloadable.
	ErrNotAcquired = errors.New("device package couldn't be acquired")
)

// SanityError lists all problems found in a deviceinfo file.
type SanityError struct {
	Device string
	Path   string
	Errs   []error
}

func (e *SanityError) Error() string {
	msgs := make([]string, len(e.Errs))
	for idx, err := range e.Errs {
		msgs[idx] = "\t" + err.Error()
	}

	return fmt.Sprintf(
		"%s: %v in %s:\n%s\nMake sure your pkgbuilds are up to date "+
			"(run `kupferbootstrap packages update`).",
		e.Device, ErrSanity, e.Path, strings.Join(msgs, "\n"),
	)
}

func (*SanityError) Is(other error) bool {
	_, ok := other.(*SanityError)
	return ok
}

func (e *SanityError) Unwrap() []error {
	return append([]error{ErrSanity}, e.Errs...)
}
