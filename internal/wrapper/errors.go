// SPDX-FileCopyrightText: 2024 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package wrapper

import "errors"

var (
	// ErrUnknownType is returned for wrapper types other than none and
	// docker.
	ErrUnknownType = errors.New("unknown wrapper type")

	ErrImage = errors.New("docker image not available")
)
