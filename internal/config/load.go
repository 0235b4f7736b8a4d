// SPDX-FileCopyrightText: 2024 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package config

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"

	"github.com/BurntSushi/toml"
	"github.com/google/renameio/v2"
)

const fileMode = 0o600

// Load reads the config file at path and merges it over [Defaults].
//
// Unknown sections, keys and profile keys are skipped with a warning.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	cfg, err := Decode(data)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}

	return cfg, nil
}

// Decode parses TOML config data and merges it over [Defaults].
func Decode(data []byte) (Config, error) {
	var raw map[string]toml.Primitive

	meta, err := toml.Decode(string(data), &raw)
	if err != nil {
		return Config{}, fmt.Errorf("decode: %w", err)
	}

	cfg := Defaults()

	sections := map[string]any{
		"wrapper":   &cfg.Wrapper,
		"build":     &cfg.Build,
		"pkgbuilds": &cfg.Pkgbuilds,
		"pacman":    &cfg.Pacman,
		"paths":     &cfg.Paths,
	}

	unknownSections := map[string]bool{}

	for name, primitive := range raw {
		if name == "profiles" {
			err := decodeProfiles(meta, primitive, &cfg.Profiles)
			if err != nil {
				return Config{}, err
			}

			continue
		}

		target, known := sections[name]
		if !known {
			slog.Warn("Skipping unknown config section", slog.String("section", name))

			unknownSections[name] = true

			continue
		}

		err := meta.PrimitiveDecode(primitive, target)
		if err != nil {
			return Config{}, fmt.Errorf("section %s: %w", name, err)
		}
	}

	for _, key := range meta.Undecoded() {
		if len(key) < 2 || unknownSections[key[0]] {
			continue
		}

		if key[0] == "profiles" {
			// Non-table entries have been reported already.
			if len(key) == 3 {
				slog.Warn("Skipping unknown profile key",
					slog.String("profile", key[1]),
					slog.String("key", key[2]),
				)
			}

			continue
		}

		slog.Warn("Skipping unknown config key", slog.String("key", key.String()))
	}

	return cfg, nil
}

func decodeProfiles(meta toml.MetaData, primitive toml.Primitive, profiles *Profiles) error {
	var entries map[string]toml.Primitive

	err := meta.PrimitiveDecode(primitive, &entries)
	if err != nil {
		return fmt.Errorf("section profiles: %w", err)
	}

	if _, exists := entries[DefaultProfileName]; !exists {
		slog.Warn("Default profile is not defined in config file")
	}

	for name, entry := range entries {
		if name == "current" {
			err := meta.PrimitiveDecode(entry, &profiles.Current)
			if err != nil {
				return fmt.Errorf("profiles.current: %w", err)
			}

			continue
		}

		if meta.Type("profiles", name) != "Hash" {
			slog.Warn("Skipping config profile entry that is not a table",
				slog.String("profile", name))

			continue
		}

		var profile Profile

		err := meta.PrimitiveDecode(entry, &profile)
		if err != nil {
			return fmt.Errorf("profile %s: %w", name, err)
		}

		profiles.Entries[name] = &profile
	}

	return nil
}

// Encode renders the config as TOML.
func Encode(cfg Config) ([]byte, error) {
	profiles := map[string]any{"current": cfg.Profiles.Current}
	for name, profile := range cfg.Profiles.Entries {
		profiles[name] = profile
	}

	doc := map[string]any{
		"wrapper":   cfg.Wrapper,
		"build":     cfg.Build,
		"pkgbuilds": cfg.Pkgbuilds,
		"pacman":    cfg.Pacman,
		"paths":     cfg.Paths,
		"profiles":  profiles,
	}

	var buf bytes.Buffer

	err := toml.NewEncoder(&buf).Encode(doc)
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}

	return buf.Bytes(), nil
}

// Write writes the config to path atomically, creating missing parent
// directories.
func Write(path string, cfg Config) error {
	data, err := Encode(cfg)
	if err != nil {
		return err
	}

	err = os.MkdirAll(filepath.Dir(path), 0o755)
	if err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	err = renameio.WriteFile(path, data, fileMode)
	if err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	slog.Debug("Wrote config file", slog.String("path", path))

	return nil
}

// ProfileNames returns the sorted names of all profiles.
func (c Config) ProfileNames() []string {
	names := make([]string, 0, len(c.Profiles.Entries))
	for name := range c.Profiles.Entries {
		names = append(names, name)
	}

	slices.Sort(names)

	return names
}
