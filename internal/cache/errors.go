// SPDX-FileCopyrightText: 2024 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package cache

import "errors"

var (
	// ErrUnknownPath is returned for cache names that are not config paths.
	ErrUnknownPath = errors.New("unknown cache path")

	ErrAborted = errors.New("aborted")
)
