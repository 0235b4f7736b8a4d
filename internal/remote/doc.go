// SPDX-FileCopyrightText: 2024 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package remote talks to devices running a Kupfer image over ssh and
// manages the ssh keys installed into images.
package remote
