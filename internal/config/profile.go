// SPDX-FileCopyrightText: 2024 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package config

import (
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
)

// Profile is a sparse device profile as stored in the config file. Nil
// fields are inherited from the parent profile.
type Profile struct {
	Parent      *string    `toml:"parent,omitempty"`
	Device      *string    `toml:"device,omitempty"`
	Flavour     *string    `toml:"flavour,omitempty"`
	PkgsInclude []string   `toml:"pkgs_include,omitempty"`
	PkgsExclude []string   `toml:"pkgs_exclude,omitempty"`
	Hostname    *string    `toml:"hostname,omitempty"`
	Username    *string    `toml:"username,omitempty"`
	Password    *string    `toml:"password,omitempty"`
	SizeExtraMB *SizeExtra `toml:"size_extra_mb,omitempty"`
}

// ProfileKeys lists all keys a profile may have.
var ProfileKeys = []string{
	"parent",
	"device",
	"flavour",
	"pkgs_include",
	"pkgs_exclude",
	"hostname",
	"username",
	"password",
	"size_extra_mb",
}

// DefaultProfile returns the profile that is used if none is configured.
func DefaultProfile() *Profile {
	return &Profile{
		Parent:      ptr(""),
		Device:      ptr(""),
		Flavour:     ptr(""),
		PkgsInclude: []string{},
		PkgsExclude: []string{},
		Hostname:    ptr(DefaultHostname),
		Username:    ptr(DefaultUsername),
		SizeExtraMB: &SizeExtra{},
	}
}

func ptr[T any](v T) *T {
	return &v
}

// SizeExtra is the additional root file system size in MB. If Relative is
// true, Value is added to the value of the parent profile.
type SizeExtra struct {
	Value    int
	Relative bool
}

// ParseSizeExtra parses "N" and "+N" values.
func ParseSizeExtra(s string) (SizeExtra, error) {
	s = strings.TrimSpace(s)
	relative := strings.HasPrefix(s, "+")

	value, err := strconv.Atoi(strings.TrimPrefix(s, "+"))
	if err != nil {
		return SizeExtra{}, fmt.Errorf("%w: size_extra_mb %q", ErrInvalidValue, s)
	}

	return SizeExtra{Value: value, Relative: relative}, nil
}

func (s SizeExtra) String() string {
	if s.Relative {
		return "+" + strconv.Itoa(s.Value)
	}

	return strconv.Itoa(s.Value)
}

// UnmarshalTOML implements [toml.Unmarshaler]. Integers and strings are
// accepted.
func (s *SizeExtra) UnmarshalTOML(value any) error {
	switch v := value.(type) {
	case int64:
		*s = SizeExtra{Value: int(v)}
	case string:
		parsed, err := ParseSizeExtra(v)
		if err != nil {
			return err
		}

		*s = parsed
	default:
		return fmt.Errorf("%w: size_extra_mb of type %T", ErrInvalidValue, value)
	}

	return nil
}

// MarshalTOML implements [toml.Marshaler].
func (s SizeExtra) MarshalTOML() ([]byte, error) {
	if s.Relative {
		return []byte(strconv.Quote(s.String())), nil
	}

	return []byte(s.String()), nil
}

// ResolvedProfile is a profile with the inheritance chain applied.
type ResolvedProfile struct {
	Name        string
	Parent      string
	Device      string
	Flavour     string
	PkgsInclude []string
	PkgsExclude []string
	Hostname    string
	Username    string
	Password    *string
	SizeExtraMB int
}

// ResolveProfile resolves the named profile against its parents.
//
// Scalar values are inherited from the parent unless set. A relative
// size_extra_mb is added to the parent's value. Package includes and
// excludes are merged with the parent's, with the profile's own excludes
// removing inherited includes and vice versa.
func ResolveProfile(name string, profiles map[string]*Profile) (ResolvedProfile, error) {
	return resolveProfile(name, profiles, nil)
}

func resolveProfile(
	name string,
	profiles map[string]*Profile,
	visited []string,
) (ResolvedProfile, error) {
	if slices.Contains(visited, name) {
		return ResolvedProfile{}, &ProfileLoopError{Chain: append(visited, name)}
	}

	visited = append(visited, name)

	sparse, exists := profiles[name]
	if !exists || sparse == nil {
		return ResolvedProfile{}, fmt.Errorf("%w: %s", ErrProfileNotFound, name)
	}

	var full ResolvedProfile

	parentName := deref(sparse.Parent)
	if parentName != "" {
		parent, err := resolveProfile(parentName, profiles, visited)
		if err != nil {
			return ResolvedProfile{}, err
		}

		full = parent
		full.PkgsInclude = mergeSets(parent.PkgsInclude, sparse.PkgsInclude, sparse.PkgsExclude)
		full.PkgsExclude = mergeSets(parent.PkgsExclude, sparse.PkgsExclude, sparse.PkgsInclude)
	} else {
		full.PkgsInclude = mergeSets(nil, sparse.PkgsInclude, nil)
		full.PkgsExclude = mergeSets(nil, sparse.PkgsExclude, nil)
	}

	full.Name = name
	full.Parent = parentName
	assign(&full.Device, sparse.Device)
	assign(&full.Flavour, sparse.Flavour)
	assign(&full.Hostname, sparse.Hostname)
	assign(&full.Username, sparse.Username)

	if sparse.Password != nil {
		full.Password = ptr(*sparse.Password)
	}

	if sparse.SizeExtraMB != nil {
		if sparse.SizeExtraMB.Relative {
			full.SizeExtraMB += sparse.SizeExtraMB.Value
		} else {
			full.SizeExtraMB = sparse.SizeExtraMB.Value
		}
	}

	return full, nil
}

func assign(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}

	return *s
}

// mergeSets returns the sorted union of a and b without the elements of
// remove.
func mergeSets(a, b, remove []string) []string {
	set := make(map[string]struct{}, len(a)+len(b))

	for _, elem := range slices.Concat(a, b) {
		set[elem] = struct{}{}
	}

	for _, elem := range remove {
		delete(set, elem)
	}

	return slices.Sorted(maps.Keys(set))
}

// Merge copies all set fields of other into p.
func (p *Profile) Merge(other *Profile) {
	if other.Parent != nil {
		p.Parent = other.Parent
	}

	if other.Device != nil {
		p.Device = other.Device
	}

	if other.Flavour != nil {
		p.Flavour = other.Flavour
	}

	if other.PkgsInclude != nil {
		p.PkgsInclude = other.PkgsInclude
	}

	if other.PkgsExclude != nil {
		p.PkgsExclude = other.PkgsExclude
	}

	if other.Hostname != nil {
		p.Hostname = other.Hostname
	}

	if other.Username != nil {
		p.Username = other.Username
	}

	if other.Password != nil {
		p.Password = other.Password
	}

	if other.SizeExtraMB != nil {
		p.SizeExtraMB = other.SizeExtraMB
	}
}

// Prune unsets empty string fields so they are inherited from the parent.
func (p *Profile) Prune() {
	for _, field := range []**string{&p.Device, &p.Flavour, &p.Hostname, &p.Username, &p.Password} {
		if *field != nil && **field == "" {
			*field = nil
		}
	}
}
