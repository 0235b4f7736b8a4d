// SPDX-FileCopyrightText: 2024 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package pkgbuild

import (
	"fmt"
	"slices"
	"strings"
)

// Mode is the build mode of a PKGBUILD.
type Mode string

const (
	// ModeHost packages are built natively or in an emulated chroot.
	ModeHost Mode = "host"
	// ModeCross packages are built with a cross compiler in the native
	// chroot.
	ModeCross Mode = "cross"
)

// ParseMode parses the value of a _mode variable.
func ParseMode(s string) (Mode, bool) {
	switch Mode(s) {
	case ModeHost, ModeCross:
		return Mode(s), true
	default:
		return "", false
	}
}

const (
	// FileName is the name of the build recipe.
	FileName = "PKGBUILD"
	// SrcinfoFile is the name of the cached makepkg --printsrcinfo output.
	SrcinfoFile = "SRCINFO"
	// MetaFile is the name of the SRCINFO cache metadata file.
	MetaFile = "srcinfo_meta.json"
)

// MakepkgCmd is the base makepkg invocation.
var MakepkgCmd = []string{"makepkg", "--noconfirm", "--ignorearch", "--needed"}

// Pkgbuild is a package described by a PKGBUILD. A split PKGBUILD yields
// one Pkgbuild per sub package, each referencing the shared base.
type Pkgbuild struct {
	Name        string
	Description string
	PkgVer      string
	PkgRel      string
	Epoch       string
	Arches      []string
	Depends     []string
	MakeDepends []string
	Provides    []string
	Replaces    []string

	// LocalDepends are the dependencies provided by other PKGBUILDs.
	LocalDepends []string

	// Repo is the kupfer repository, the first path element.
	Repo string
	// Path is the directory relative to the pkgbuilds directory.
	Path string

	Mode           Mode
	NoDeps         bool
	SrcInitialised string

	// Base is set for sub packages of a split PKGBUILD.
	Base *Pkgbuild
	// Subpackages is set on the base of a split PKGBUILD.
	Subpackages []*Pkgbuild
}

func (p *Pkgbuild) String() string {
	return fmt.Sprintf("Pkgbuild(%s,%q,%s,%s)", p.Name, p.Path, p.Version(), p.Mode)
}

// Version returns the full version "[epoch:]pkgver-pkgrel".
func (p *Pkgbuild) Version() string {
	version := p.PkgVer + "-" + p.PkgRel
	if p.Epoch != "" && p.Epoch != "0" {
		version = p.Epoch + ":" + version
	}

	return version
}

// Names returns the name and everything the package provides or replaces,
// without version constraints.
func (p *Pkgbuild) Names() []string {
	names := []string{p.Name}
	for _, name := range slices.Concat(p.Provides, p.Replaces) {
		names = append(names, stripConstraint(name))
	}

	slices.Sort(names)

	return slices.Compact(names)
}

// AllDepends returns the runtime and build time dependencies.
func (p *Pkgbuild) AllDepends() []string {
	deps := slices.Concat(p.Depends, p.MakeDepends)
	slices.Sort(deps)

	return slices.Compact(deps)
}

// SupportsArch reports whether the package can be built for arch.
func (p *Pkgbuild) SupportsArch(arch string) bool {
	return slices.Contains(p.Arches, arch) || slices.Contains(p.Arches, "any")
}

// IsAnyArch reports whether the package is architecture independent.
func (p *Pkgbuild) IsAnyArch() bool {
	return slices.Equal(p.Arches, []string{"any"})
}

// PkgbaseName returns the name of the base package.
func (p *Pkgbuild) PkgbaseName() string {
	if p.Base != nil {
		return p.Base.Name
	}

	return p.Name
}

// PackageFile returns the name of the package archive makepkg produces.
func (p *Pkgbuild) PackageFile(arch string) string {
	if p.IsAnyArch() {
		arch = "any"
	}

	return fmt.Sprintf("%s-%s-%s.pkg.tar.zst", p.Name, p.Version(), arch)
}

func stripConstraint(dep string) string {
	if idx := strings.IndexAny(dep, "<>="); idx >= 0 {
		dep = dep[:idx]
	}

	if idx := strings.Index(dep, ": "); idx >= 0 {
		dep = dep[:idx]
	}

	return strings.TrimSpace(dep)
}
