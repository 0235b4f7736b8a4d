// SPDX-FileCopyrightText: 2024 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package pkgbuild

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidMode is returned if a PKGBUILD has no or an unknown _mode.
	ErrInvalidMode = errors.New("invalid mode")

	// ErrVersionMismatch is returned if sub packages of a split package
	// have different versions.
	ErrVersionMismatch = errors.New("subpackage versions differ")

	// ErrNoMatch is returned if no PKGBUILD matches the given paths.
	ErrNoMatch = errors.New("no packages matched by paths")

	// ErrNotInitialized is returned if the pkgbuilds directory has not been
	// cloned yet.
	ErrNotInitialized = errors.New("pkgbuilds not initialised")

	// ErrFormat is returned by [Check] for badly formatted PKGBUILDs.
	ErrFormat = errors.New("formatting error")
)

// ModeError is returned if the _mode of a PKGBUILD is missing or invalid.
type ModeError struct {
	Path string
	Mode string
}

func (e *ModeError) Error() string {
	if e.Mode == "" {
		return e.Path + "/PKGBUILD has no mode configured"
	}

	return fmt.Sprintf("%s/PKGBUILD has an invalid mode configured: %q", e.Path, e.Mode)
}

func (*ModeError) Is(other error) bool {
	_, ok := other.(*ModeError)
	return ok || other == ErrInvalidMode
}

// MatchError is returned if filtering by paths yields no packages.
type MatchError struct {
	Paths []string
}

func (e *MatchError) Error() string {
	quoted := make([]string, len(e.Paths))
	for idx, path := range e.Paths {
		quoted[idx] = fmt.Sprintf("%q", path)
	}

	return ErrNoMatch.Error() + ": " + strings.Join(quoted, ", ")
}

func (e *MatchError) Unwrap() error {
	return ErrNoMatch
}

// FormatError describes the first formatting problem found in a PKGBUILD.
type FormatError struct {
	Path   string
	Line   int
	Text   string
	Reason string
}

func (e *FormatError) Error() string {
	msg := fmt.Sprintf("%s in %s: line %d: %q", ErrFormat, e.Path, e.Line, e.Text)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}

	return msg
}

func (e *FormatError) Unwrap() error {
	return ErrFormat
}
