// SPDX-FileCopyrightText: 2024 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package binfmt

import "errors"

var (
	// ErrInvalidLine is returned for configuration lines that do not have
	// all binfmt_misc fields.
	ErrInvalidLine = errors.New("invalid binfmt line")

	// ErrNoHandler is returned if the configuration has no handler for an
	// architecture.
	ErrNoHandler = errors.New("no binfmt handler")

	// ErrNotRegistered is returned if a handler is missing after
	// registration.
	ErrNotRegistered = errors.New("binfmt handler not registered")
)
