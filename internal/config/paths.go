// SPDX-FileCopyrightText: 2024 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Path names.
const (
	PathCacheDir  = "cache_dir"
	PathChroots   = "chroots"
	PathPacman    = "pacman"
	PathPackages  = "packages"
	PathPkgbuilds = "pkgbuilds"
	PathJumpdrive = "jumpdrive"
	PathImages    = "images"
	PathCCache    = "ccache"
	PathRust      = "rust"
)

// PathNames lists all configurable paths except cache_dir.
var PathNames = []string{
	PathChroots,
	PathPacman,
	PathPackages,
	PathPkgbuilds,
	PathJumpdrive,
	PathImages,
	PathCCache,
	PathRust,
}

// ChrootPaths are the locations the paths are mounted to inside chroots and
// the wrapper container.
var ChrootPaths = map[string]string{
	PathChroots:   "/chroots",
	PathJumpdrive: "/var/cache/jumpdrive",
	PathPacman:    "/pacman",
	PathPackages:  "/packages",
	PathPkgbuilds: "/pkgbuilds",
	PathImages:    "/images",
}

// Paths are the directories used for caching and build results.
//
// Values may contain %name% placeholders referring to other paths, like
// "%cache_dir%/chroots".
type Paths struct {
	CacheDir  string `toml:"cache_dir"`
	Chroots   string `toml:"chroots"`
	Pacman    string `toml:"pacman"`
	Packages  string `toml:"packages"`
	Pkgbuilds string `toml:"pkgbuilds"`
	Jumpdrive string `toml:"jumpdrive"`
	Images    string `toml:"images"`
	CCache    string `toml:"ccache"`
	Rust      string `toml:"rust"`
}

// DefaultPaths returns the default path templates.
func DefaultPaths() Paths {
	return Paths{
		CacheDir:  defaultCacheDir(),
		Chroots:   "%cache_dir%/chroots",
		Pacman:    "%cache_dir%/pacman",
		Packages:  "%cache_dir%/packages",
		Pkgbuilds: "%cache_dir%/pkgbuilds",
		Jumpdrive: "%cache_dir%/jumpdrive",
		Images:    "%cache_dir%/images",
		CCache:    "%cache_dir%/ccache",
		Rust:      "%cache_dir%/rust",
	}
}

func (p *Paths) asMap() map[string]*string {
	return map[string]*string{
		PathCacheDir:  &p.CacheDir,
		PathChroots:   &p.Chroots,
		PathPacman:    &p.Pacman,
		PathPackages:  &p.Packages,
		PathPkgbuilds: &p.Pkgbuilds,
		PathJumpdrive: &p.Jumpdrive,
		PathImages:    &p.Images,
		PathCCache:    &p.CCache,
		PathRust:      &p.Rust,
	}
}

// Raw returns the unresolved template of the named path.
func (p Paths) Raw(name string) (string, error) {
	value, exists := p.asMap()[name]
	if !exists {
		return "", &KeyError{Name: "paths." + name, Key: name}
	}

	return *value, nil
}

// Get returns the named path with all placeholders and "~" resolved.
func (p Paths) Get(name string) (string, error) {
	template, err := p.Raw(name)
	if err != nil {
		return "", err
	}

	return p.resolve(template), nil
}

// MustGet is like [Paths.Get] but panics on unknown names. Use it only with
// the Path* constants.
func (p Paths) MustGet(name string) string {
	path, err := p.Get(name)
	if err != nil {
		panic(fmt.Sprintf("unknown path %q", name))
	}

	return path
}

func (p Paths) resolve(template string) string {
	values := p.asMap()

	result := template
	for key, value := range values {
		if key == PathCacheDir {
			continue
		}

		result = strings.ReplaceAll(result, "%"+key+"%", *value)
	}

	result = strings.ReplaceAll(result, "%"+PathCacheDir+"%", p.CacheDir)

	return expandHome(result)
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}

	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

// Resolved returns a copy with all paths resolved.
func (p Paths) Resolved() Paths {
	resolved := p
	for name, value := range resolved.asMap() {
		*value = p.MustGet(name)
	}

	return resolved
}
