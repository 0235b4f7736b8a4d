// SPDX-FileCopyrightText: 2024 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package distro

import (
	"fmt"
	"strings"
	"text/template"
)

// PacmanOptions are the variable parts of the [options] section of
// pacman.conf.
type PacmanOptions struct {
	Arch              string
	ParallelDownloads int
	CheckSpace        bool
	// CacheDir overrides the package cache location.
	CacheDir string
}

var pacmanConfTemplate = template.Must(template.New("pacman.conf").Parse(`#
# /etc/pacman.conf
#
# Generated by kupferbootstrap.
#

[options]
RootDir     = /
DBPath      = /var/lib/pacman/
CacheDir    = {{ .CacheDir }}
LogFile     = /var/log/pacman.log
GPGDir      = /etc/pacman.d/gnupg/
HookDir     = /etc/pacman.d/hooks/
HoldPkg     = pacman glibc
Architecture = {{ .Arch }}

Color
{{ if not .CheckSpace }}#{{ end }}CheckSpace
VerbosePkgLists
ParallelDownloads = {{ .ParallelDownloads }}

SigLevel    = Required DatabaseOptional
LocalFileSigLevel = Optional
`))

// PacmanConfBody renders the options section of pacman.conf.
func PacmanConfBody(opts PacmanOptions) (string, error) {
	if opts.CacheDir == "" {
		opts.CacheDir = "/var/cache/pacman/pkg/"
	}

	if opts.ParallelDownloads < 1 {
		opts.ParallelDownloads = 1
	}

	var builder strings.Builder

	err := pacmanConfTemplate.Execute(&builder, opts)
	if err != nil {
		return "", fmt.Errorf("render pacman.conf: %w", err)
	}

	return builder.String(), nil
}
