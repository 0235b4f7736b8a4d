// SPDX-FileCopyrightText: 2024 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package mount

import "errors"

var (
	// ErrNoLoopDevice is returned if no loop device is attached to a file.
	ErrNoLoopDevice = errors.New("no loop device found")

	// ErrInvalidMountInfo is returned if a mountinfo line can not be parsed.
	ErrInvalidMountInfo = errors.New("invalid mountinfo line")
)
