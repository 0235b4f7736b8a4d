// SPDX-FileCopyrightText: 2024 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package pkgbuild discovers and parses the PKGBUILDs of the kupfer pkgbuilds
// git repository.
//
// PKGBUILDs live in "<repo>/<package>/PKGBUILD" below the pkgbuilds
// directory. Their metadata is taken from the SRCINFO file generated by
// makepkg, which is cached next to the PKGBUILD together with checksums in
// "srcinfo_meta.json".
package pkgbuild
