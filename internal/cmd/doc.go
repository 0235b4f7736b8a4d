// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package cmd provides the CLI entry point for kupferbootstrap. It handles
// the command tree, flag parsing, logging setup and maps errors to exit
// codes.
package cmd
