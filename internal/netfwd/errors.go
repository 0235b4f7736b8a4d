// SPDX-FileCopyrightText: 2024 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package netfwd

import "errors"

// ErrNoLink is returned if no host link routes to the device.
var ErrNoLink = errors.New("no link to device")
