// SPDX-FileCopyrightText: 2024 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package config

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotLoaded is returned if an operation requires a config file that
	// has not been loaded.
	ErrNotLoaded = errors.New(
		"config file doesn't exist. Try running `kupferbootstrap config init` first?",
	)

	// ErrKeyNotFound is returned for unknown dot-separated config names.
	ErrKeyNotFound = errors.New("key not found")

	// ErrProfileNotFound is returned if a profile does not exist.
	ErrProfileNotFound = errors.New("profile not found")

	// ErrNoDevice is returned if a profile has no device configured.
	ErrNoDevice = errors.New("no device configured")

	// ErrNoFlavour is returned if a profile has no flavour configured.
	ErrNoFlavour = errors.New("no flavour configured")

	// ErrInvalidValue is returned if a value can not be converted to the type
	// of the config key.
	ErrInvalidValue = errors.New("invalid value")
)

// KeyError is returned if a dot-separated config name can not be resolved.
type KeyError struct {
	Name string
	Key  string
}

func (e *KeyError) Error() string {
	return fmt.Sprintf("couldn't resolve config name %s: key %s not found", e.Name, e.Key)
}

func (*KeyError) Is(other error) bool {
	_, ok := other.(*KeyError)
	return ok
}

func (*KeyError) Unwrap() error {
	return ErrKeyNotFound
}

// ProfileLoopError is returned if profiles inherit from each other in a
// cycle.
type ProfileLoopError struct {
	Chain []string
}

func (e *ProfileLoopError) Error() string {
	return "dependency loop detected in profiles: " + strings.Join(e.Chain, " -> ")
}

func (*ProfileLoopError) Is(other error) bool {
	_, ok := other.(*ProfileLoopError)
	return ok
}
