// SPDX-FileCopyrightText: 2024 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package device discovers the supported devices from the device-* packages
// of the pkgbuilds tree and parses their deviceinfo files.
package device
