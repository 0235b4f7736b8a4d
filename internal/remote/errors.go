// SPDX-FileCopyrightText: 2024 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package remote

import "errors"

var (
	// ErrNoKeys is returned if no usable private key is found.
	ErrNoKeys = errors.New("no ssh keys")

	ErrNoUser = errors.New("no ssh user")
)
