// SPDX-FileCopyrightText: 2024 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package distro

import (
	"strings"

	"gitlab.com/kupfer/kupferbootstrap/internal/sys"
)

// KupferRepos are the repos of the Kupfer distribution.
var KupferRepos = []string{
	"boot",
	"cross",
	"device",
	"firmware",
	"linux",
	"main",
	"phosh",
}

// KupferHTTPSTemplate is the URL template of the prebuilt Kupfer packages.
// %branch% is replaced with the configured package branch.
const KupferHTTPSTemplate = "https://gitlab.com/kupfer/packages/prebuilts/-/raw/%branch%/$arch/$repo"

// ChrootPackagesDir is where the local package repos are mounted inside
// chroots.
const ChrootPackagesDir = "/packages"

type baseDistro struct {
	repos       []string
	urlTemplate string
}

var (
	archMirror = "http://ftp.halifax.rwth-aachen.de/archlinux/$repo/os/$arch"
	alarmRepos = []string{"core", "extra", "community", "alarm", "aur"}
	alarmURL   = "http://mirror.archlinuxarm.org/$arch/$repo"

	baseDistros = map[sys.Arch]baseDistro{
		sys.X8664:   {repos: []string{"core", "extra", "community"}, urlTemplate: archMirror},
		sys.AArch64: {repos: alarmRepos, urlTemplate: alarmURL},
		sys.ARMv7h:  {repos: alarmRepos, urlTemplate: alarmURL},
	}
)

// BaseDistro returns the upstream Arch Linux (ARM) distro for arch.
func BaseDistro(arch sys.Arch) *Distro {
	base := baseDistros[arch]

	infos := make(map[string]RepoInfo, len(base.repos))
	for _, name := range base.repos {
		infos[name] = RepoInfo{URLTemplate: base.urlTemplate}
	}

	return New(string(arch), base.repos, infos)
}

func kupferDistro(arch sys.Arch, urlTemplate string) *Distro {
	infos := make(map[string]RepoInfo, len(KupferRepos))
	for _, name := range KupferRepos {
		infos[name] = RepoInfo{
			URLTemplate: urlTemplate,
			Options:     map[string]string{"SigLevel": "Never"},
		}
	}

	return New(string(arch), KupferRepos, infos)
}

// KupferHTTPS returns the Kupfer distro served from the prebuilts repository
// on the given branch.
func KupferHTTPS(arch sys.Arch, branch string) *Distro {
	return kupferDistro(arch, strings.ReplaceAll(KupferHTTPSTemplate, "%branch%", branch))
}

// KupferLocal returns the Kupfer distro served from the local package
// directory dir.
func KupferLocal(arch sys.Arch, dir string) *Distro {
	return kupferDistro(arch, "file://"+strings.TrimSuffix(dir, "/")+"/$arch/$repo")
}
