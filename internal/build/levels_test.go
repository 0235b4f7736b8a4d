// SPDX-FileCopyrightText: 2024 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package build_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"gitlab.com/kupfer/kupferbootstrap/internal/build"
	"gitlab.com/kupfer/kupferbootstrap/internal/pkgbuild"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func pkg(name string, depends ...string) *pkgbuild.Pkgbuild {
	return &pkgbuild.Pkgbuild{
		Name:    name,
		PkgVer:  "1.0",
		PkgRel:  "1",
		Arches:  []string{"x86_64", "aarch64"},
		Depends: depends,
		Repo:    "main",
		Path:    "main/" + name,
		Mode:    pkgbuild.ModeHost,
	}
}

func index(pkgs ...*pkgbuild.Pkgbuild) map[string]*pkgbuild.Pkgbuild {
	all := make(map[string]*pkgbuild.Pkgbuild)
	for _, p := range pkgs {
		all[p.Name] = p
	}

	return all
}

func levelNames(levels [][]*pkgbuild.Pkgbuild) [][]string {
	result := make([][]string, len(levels))
	for idx, level := range levels {
		result[idx] = build.Names(level)
	}

	return result
}

func TestDependencyLevels(t *testing.T) {
	a := pkg("a", "b", "c", "glibc")
	b := pkg("b", "d")
	c := pkg("c", "d")
	d := pkg("d")
	e := pkg("e", "libfoo")
	f := pkg("f")
	f.Provides = []string{"libfoo=2.1"}
	unrelated := pkg("unrelated", "a")

	all := index(a, b, c, d, e, f, unrelated)

	tests := []struct {
		name     string
		toBuild  []*pkgbuild.Pkgbuild
		expected [][]string
	}{
		{
			name:     "single",
			toBuild:  []*pkgbuild.Pkgbuild{d},
			expected: [][]string{{"d"}},
		},
		{
			name:     "diamond",
			toBuild:  []*pkgbuild.Pkgbuild{a},
			expected: [][]string{{"d"}, {"b", "c"}, {"a"}},
		},
		{
			name:     "chain from middle",
			toBuild:  []*pkgbuild.Pkgbuild{b},
			expected: [][]string{{"d"}, {"b"}},
		},
		{
			name:     "independent",
			toBuild:  []*pkgbuild.Pkgbuild{d, f},
			expected: [][]string{{"d", "f"}},
		},
		{
			name:     "provided dependency",
			toBuild:  []*pkgbuild.Pkgbuild{e},
			expected: [][]string{{"f"}, {"e"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			levels, err := build.DependencyLevels(all, tt.toBuild)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, levelNames(levels))
		})
	}
}

func TestDependencyLevelsTooDeep(t *testing.T) {
	var chain []*pkgbuild.Pkgbuild

	for idx := range 105 {
		chain = append(chain, pkg(fmt.Sprintf("p%03d", idx), fmt.Sprintf("p%03d", idx+1)))
	}

	_, err := build.DependencyLevels(index(chain...), chain[:1])
	require.ErrorIs(t, err, build.ErrTooDeep)
}

func TestDependants(t *testing.T) {
	a := pkg("a", "b")
	b := pkg("b")
	c := pkg("c", "a")
	d := pkg("d", "c")
	d.Arches = []string{"x86_64"}
	e := pkg("e", "d")
	f := pkg("f", "libb")
	b.Provides = []string{"libb"}

	all := index(a, b, c, d, e, f)

	dependants := build.Dependants(all, []*pkgbuild.Pkgbuild{b}, "aarch64")
	assert.Equal(t, []string{"a", "c", "f"}, build.Names(dependants))

	dependants = build.Dependants(all, []*pkgbuild.Pkgbuild{b}, "x86_64")
	assert.Equal(t, []string{"a", "c", "d", "e", "f"}, build.Names(dependants))

	assert.Empty(t, build.Dependants(all, []*pkgbuild.Pkgbuild{e}, "x86_64"))
}
