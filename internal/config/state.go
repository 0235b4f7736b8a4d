// SPDX-FileCopyrightText: 2024 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"gitlab.com/kupfer/kupferbootstrap/internal/sys"
)

// Runtime holds settings given on the command line that are not persisted.
type Runtime struct {
	ConfigFile  string
	Verbose     bool
	NoWrap      bool
	ErrorShell  bool
	WrapperType string
	Arch        sys.Arch
	UID         int
	Colors      *bool
}

// State is the effective configuration of a program run.
type State struct {
	File    Config
	Runtime Runtime

	loaded  bool
	loadErr error
}

// NewState returns a state with default file config.
func NewState(runtime Runtime) *State {
	if runtime.ConfigFile == "" {
		runtime.ConfigFile = DefaultPath()
	}

	if runtime.Arch == "" {
		runtime.Arch = sys.Native()
	}

	if runtime.UID == 0 {
		runtime.UID = os.Getuid()
	}

	return &State{
		File:    Defaults(),
		Runtime: runtime,
	}
}

// TryLoad loads the config file. A missing file is not an error, but is
// remembered for [State.EnforceLoaded].
func (s *State) TryLoad() error {
	cfg, err := Load(s.Runtime.ConfigFile)
	if err != nil {
		s.loadErr = err

		if errors.Is(err, fs.ErrNotExist) {
			slog.Debug("Config file not found, using defaults",
				slog.String("path", s.Runtime.ConfigFile))

			return nil
		}

		return err
	}

	s.File = cfg
	s.loaded = true

	return nil
}

// Loaded reports whether the config file was loaded successfully.
func (s *State) Loaded() bool {
	return s.loaded
}

// EnforceLoaded returns [ErrNotLoaded] if no config file has been loaded.
func (s *State) EnforceLoaded() error {
	if s.loaded {
		return nil
	}

	if s.loadErr != nil && !errors.Is(s.loadErr, fs.ErrNotExist) {
		return s.loadErr
	}

	return ErrNotLoaded
}

// Save writes the file config to the config file path.
func (s *State) Save() error {
	err := Write(s.Runtime.ConfigFile, s.File)
	if err != nil {
		return err
	}

	s.loaded = true
	s.loadErr = nil

	return nil
}

// Path returns the resolved named path.
func (s *State) Path(name string) string {
	return s.File.Paths.MustGet(name)
}

// WrapperType returns the wrapper type override or the configured one.
func (s *State) WrapperType() string {
	if s.Runtime.WrapperType != "" {
		return s.Runtime.WrapperType
	}

	return s.File.Wrapper.Type
}

// Profile resolves the named profile. An empty name selects the current
// profile.
func (s *State) Profile(name string) (ResolvedProfile, error) {
	if name == "" {
		name = s.File.Profiles.Current
	}

	return ResolveProfile(name, s.File.Profiles.Entries)
}

// EnforceProfileDeviceSet resolves the named profile and returns an error if
// it has no device configured.
func (s *State) EnforceProfileDeviceSet(name string) (ResolvedProfile, error) {
	profile, err := s.Profile(name)
	if err != nil {
		return ResolvedProfile{}, err
	}

	if profile.Device == "" {
		return ResolvedProfile{}, fmt.Errorf(
			"profile %q: %w. Run `kupferbootstrap config profile init` first",
			profile.Name, ErrNoDevice,
		)
	}

	return profile, nil
}

// EnforceProfileFlavourSet resolves the named profile and returns an error
// if it has no flavour configured.
func (s *State) EnforceProfileFlavourSet(name string) (ResolvedProfile, error) {
	profile, err := s.EnforceProfileDeviceSet(name)
	if err != nil {
		return ResolvedProfile{}, err
	}

	if profile.Flavour == "" {
		return ResolvedProfile{}, fmt.Errorf(
			"profile %q: %w. Run `kupferbootstrap config profile init` first",
			profile.Name, ErrNoFlavour,
		)
	}

	return profile, nil
}

// UpdateProfile stores profile under name. With merge, the set fields are
// merged into an existing profile. With prune, empty values are removed so
// they are inherited.
func (s *State) UpdateProfile(name string, profile *Profile, merge, prune bool) {
	if s.File.Profiles.Entries == nil {
		s.File.Profiles.Entries = map[string]*Profile{}
	}

	existing, exists := s.File.Profiles.Entries[name]
	if merge && exists {
		existing.Merge(profile)
		profile = existing
	}

	if prune {
		profile.Prune()
	}

	s.File.Profiles.Entries[name] = profile
}
