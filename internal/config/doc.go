// SPDX-FileCopyrightText: 2024 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package config loads, modifies and writes the TOML configuration file and
// resolves the inheritance chain of device profiles.
package config
