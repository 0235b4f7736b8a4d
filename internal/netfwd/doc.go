// SPDX-FileCopyrightText: 2024 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package netfwd shares the host's network connection with a device attached
// via USB networking.
package netfwd
