// SPDX-FileCopyrightText: 2024 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package wrapper re-executes kupferbootstrap inside a container that has
// all required tools installed.
//
// The host's cache directories are mounted into the container and a copy of
// the config with the container paths is passed to the wrapped process.
package wrapper
