// SPDX-FileCopyrightText: 2024 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package archive

import "errors"

var (
	// ErrUnsupportedCompression is returned for compression formats that can
	// not be decoded.
	ErrUnsupportedCompression = errors.New("unsupported compression")

	// ErrFileNotFound is returned if a requested file is not in the archive.
	ErrFileNotFound = errors.New("file not found in archive")
)
