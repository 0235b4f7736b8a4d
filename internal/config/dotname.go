// SPDX-FileCopyrightText: 2024 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package config

import (
	"bytes"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

type valueKind int

const (
	kindString valueKind = iota
	kindBool
	kindInt
	kindList
	kindSize
)

var profileKeyKinds = map[string]valueKind{
	"parent":        kindString,
	"device":        kindString,
	"flavour":       kindString,
	"pkgs_include":  kindList,
	"pkgs_exclude":  kindList,
	"hostname":      kindString,
	"username":      kindString,
	"password":      kindString,
	"size_extra_mb": kindSize,
}

func toTree(cfg Config) (map[string]any, error) {
	data, err := Encode(cfg)
	if err != nil {
		return nil, err
	}

	var tree map[string]any

	_, err = toml.Decode(string(data), &tree)
	if err != nil {
		return nil, fmt.Errorf("decode tree: %w", err)
	}

	return tree, nil
}

func fromTree(tree map[string]any) (Config, error) {
	var buf bytes.Buffer

	err := toml.NewEncoder(&buf).Encode(tree)
	if err != nil {
		return Config{}, fmt.Errorf("encode tree: %w", err)
	}

	return Decode(buf.Bytes())
}

// Get returns the value of the dot-separated config name, like
// "build.threads" or "profiles.default.device". Whole sections are returned
// as map.
//
// Known profile keys that are not set return nil.
func Get(cfg Config, name string) (any, error) {
	tree, err := toTree(cfg)
	if err != nil {
		return nil, err
	}

	var current any = tree

	parts := strings.Split(name, ".")
	for idx, part := range parts {
		table, ok := current.(map[string]any)
		if !ok {
			return nil, &KeyError{Name: name, Key: part}
		}

		value, exists := table[part]
		if !exists {
			if isProfileKey(parts) && idx == 2 {
				return nil, nil
			}

			return nil, &KeyError{Name: name, Key: part}
		}

		current = value
	}

	return current, nil
}

func isProfileKey(parts []string) bool {
	if len(parts) != 3 || parts[0] != "profiles" {
		return false
	}

	_, known := profileKeyKinds[parts[2]]

	return known
}

func profilesTree(tree map[string]any) map[string]any {
	profiles, ok := tree["profiles"].(map[string]any)
	if !ok {
		profiles = map[string]any{}
		tree["profiles"] = profiles
	}

	return profiles
}

// Set sets the dot-separated config name to value, converted to the type of
// the key. Lists are given comma-separated. Profiles are created as needed.
func Set(cfg *Config, name, value string) error {
	tree, err := toTree(*cfg)
	if err != nil {
		return err
	}

	parts := strings.Split(name, ".")

	var (
		kind   valueKind
		parent = tree
	)

	switch {
	case len(parts) == 2 && parts[0] == "profiles" && parts[1] == "current":
		kind = kindString
		parent = profilesTree(tree)
	case len(parts) == 3 && parts[0] == "profiles":
		var known bool

		kind, known = profileKeyKinds[parts[2]]
		if !known {
			return &KeyError{Name: name, Key: parts[2]}
		}

		profiles := profilesTree(tree)

		profile, ok := profiles[parts[1]].(map[string]any)
		if !ok {
			profile = map[string]any{}
			profiles[parts[1]] = profile
		}

		parent = profile
	case len(parts) == 2 && slices.Contains(Sections, parts[0]):
		section, _ := tree[parts[0]].(map[string]any)

		existing, exists := section[parts[1]]
		if !exists {
			return &KeyError{Name: name, Key: parts[1]}
		}

		kind = kindOf(existing)
		parent = section
	default:
		return &KeyError{Name: name, Key: parts[0]}
	}

	converted, err := convert(kind, value)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}

	parent[parts[len(parts)-1]] = converted

	if name == "wrapper.type" && !slices.Contains(WrapperTypes, value) {
		return fmt.Errorf("%w: wrapper type %q", ErrInvalidValue, value)
	}

	updated, err := fromTree(tree)
	if err != nil {
		return err
	}

	*cfg = updated

	return nil
}

func kindOf(value any) valueKind {
	switch value.(type) {
	case bool:
		return kindBool
	case int64:
		return kindInt
	case []any:
		return kindList
	default:
		return kindString
	}
}

func convert(kind valueKind, value string) (any, error) {
	switch kind {
	case kindBool:
		return ParseBool(value)
	case kindInt:
		i, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not an integer", ErrInvalidValue, value)
		}

		return i, nil
	case kindList:
		return SplitList(value), nil
	case kindSize:
		size, err := ParseSizeExtra(value)
		if err != nil {
			return nil, err
		}

		if size.Relative {
			return size.String(), nil
		}

		return int64(size.Value), nil
	default:
		return value, nil
	}
}

// ParseBool accepts the usual spellings of yes and no.
func ParseBool(value string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "true", "1", "yes", "y", "on":
		return true, nil
	case "false", "0", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%w: %q is not a boolean", ErrInvalidValue, value)
	}
}

// SplitList splits a comma-separated list and drops empty elements.
func SplitList(value string) []string {
	list := []string{}

	for _, elem := range strings.Split(value, ",") {
		elem = strings.TrimSpace(elem)
		if elem != "" {
			list = append(list, elem)
		}
	}

	return list
}
