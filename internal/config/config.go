// SPDX-FileCopyrightText: 2024 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package config

import (
	"os"
	"path/filepath"
)

// Default values used by several packages.
const (
	DefaultPackageBranch = "dev"
	DefaultPkgbuildsRepo = "https://gitlab.com/kupfer/packages/pkgbuilds.git"
	DefaultProfileName   = "default"
	DefaultHostname      = "kupfer"
	DefaultUsername      = "kupfer"

	fileName = "kupferbootstrap.toml"
)

// Wrapper types.
const (
	WrapperNone   = "none"
	WrapperDocker = "docker"
)

// WrapperTypes lists all valid wrapper types.
var WrapperTypes = []string{WrapperNone, WrapperDocker}

// Config is the content of the config file.
type Config struct {
	Wrapper   WrapperSection   `toml:"wrapper"`
	Build     BuildSection     `toml:"build"`
	Pkgbuilds PkgbuildsSection `toml:"pkgbuilds"`
	Pacman    PacmanSection    `toml:"pacman"`
	Paths     Paths            `toml:"paths"`
	Profiles  Profiles         `toml:"-"`
}

type WrapperSection struct {
	Type string `toml:"type"`
}

type BuildSection struct {
	CCache       bool `toml:"ccache"`
	CleanMode    bool `toml:"clean_mode"`
	Crosscompile bool `toml:"crosscompile"`
	Crossdirect  bool `toml:"crossdirect"`
	Threads      int  `toml:"threads"`
}

type PkgbuildsSection struct {
	GitRepo   string `toml:"git_repo"`
	GitBranch string `toml:"git_branch"`
}

type PacmanSection struct {
	ParallelDownloads int    `toml:"parallel_downloads"`
	CheckSpace        bool   `toml:"check_space"`
	RepoBranch        string `toml:"repo_branch"`
}

// Profiles holds the sparse, unresolved profiles and the name of the
// profile currently in use.
type Profiles struct {
	Current string
	Entries map[string]*Profile
}

// Sections lists the names of all top level config sections.
var Sections = []string{"wrapper", "build", "pkgbuilds", "pacman", "paths", "profiles"}

// DefaultPath returns the default location of the config file.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = filepath.Join(os.Getenv("HOME"), ".config")
	}

	return filepath.Join(dir, "kupfer", fileName)
}

func defaultCacheDir() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = filepath.Join(os.Getenv("HOME"), ".cache")
	}

	return filepath.Join(dir, "kupfer")
}

// Defaults returns the configuration used for keys missing in the file.
func Defaults() Config {
	return Config{
		Wrapper: WrapperSection{Type: WrapperDocker},
		Build: BuildSection{
			CCache:       true,
			CleanMode:    true,
			Crosscompile: true,
			Crossdirect:  true,
		},
		Pkgbuilds: PkgbuildsSection{
			GitRepo:   DefaultPkgbuildsRepo,
			GitBranch: DefaultPackageBranch,
		},
		Pacman: PacmanSection{
			ParallelDownloads: 4,
			RepoBranch:        DefaultPackageBranch,
		},
		Paths: DefaultPaths(),
		Profiles: Profiles{
			Current: DefaultProfileName,
			Entries: map[string]*Profile{
				DefaultProfileName: DefaultProfile(),
			},
		},
	}
}
