// SPDX-FileCopyrightText: 2024 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package flash

import "errors"

var (
	ErrUnknownPart     = errors.New("unknown part")
	ErrInvalidLocation = errors.New("invalid location")
	ErrNoLocation      = errors.New("location required")
	ErrNoJumpdrive     = errors.New("unable to discover Jumpdrive")
	ErrUnknownBootType = errors.New("unknown boot type")
	ErrNoBootStrategy  = errors.New("no boot strategy")

	// ErrEmptyDisk is returned for block devices with a size of zero. This
	// usually means no microSD card is inserted or the device has no slot.
	ErrEmptyDisk = errors.New("disk has a size of 0B")
)
