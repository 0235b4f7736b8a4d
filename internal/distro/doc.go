// SPDX-FileCopyrightText: 2024 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package distro models pacman repositories and distributions made of them.
//
// A [Distro] is an ordered set of [Repo]s for one architecture. Repos are
// scanned by downloading and parsing their package database. The same types
// render the repository sections of pacman.conf.
package distro
