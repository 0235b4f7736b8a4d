// SPDX-FileCopyrightText: 2024 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package image

import "errors"

var (
	// ErrNoSectorSize is returned for devices whose deviceinfo lacks a
	// sector size.
	ErrNoSectorSize = errors.New("no sector size")

	// ErrInvalidSize is returned for unparsable size strings.
	ErrInvalidSize = errors.New("invalid size")

	ErrFilesystemCheck = errors.New("file system check failed")
	ErrShrink          = errors.New("shrinking failed")
	ErrNoEndSector     = errors.New("end sector not found")

	// ErrNotInitramfs is returned if data is neither a cpio archive nor a
	// compressed one.
	ErrNotInitramfs = errors.New("not an initramfs")
)
