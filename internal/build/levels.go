// SPDX-FileCopyrightText: 2024 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package build

import (
	"cmp"
	"log/slog"
	"maps"
	"slices"

	"gitlab.com/kupfer/kupferbootstrap/internal/pkgbuild"
)

const (
	maxLevels  = 100
	maxRepeats = 10
)

type pkgSet map[*pkgbuild.Pkgbuild]struct{}

func (s pkgSet) add(pkg *pkgbuild.Pkgbuild) {
	s[pkg] = struct{}{}
}

func (s pkgSet) has(pkg *pkgbuild.Pkgbuild) bool {
	_, exists := s[pkg]
	return exists
}

func (s pkgSet) sorted() []*pkgbuild.Pkgbuild {
	return slices.SortedFunc(maps.Keys(s), comparePkgbuilds)
}

func (s pkgSet) names() []string {
	return Names(s.sorted())
}

// providers returns a lookup for the package providing a name, preferring
// the keys of all over provisions.
func providers(all map[string]*pkgbuild.Pkgbuild) func(name string) (*pkgbuild.Pkgbuild, bool) {
	provided := make(map[string]*pkgbuild.Pkgbuild)

	for _, pkg := range pkgbuild.Unique(all) {
		for _, name := range pkg.Names() {
			if _, exists := provided[name]; !exists {
				provided[name] = pkg
			}
		}
	}

	return func(name string) (*pkgbuild.Pkgbuild, bool) {
		if pkg, exists := all[name]; exists {
			return pkg, true
		}

		pkg, exists := provided[name]

		return pkg, exists
	}
}

func comparePkgbuilds(a, b *pkgbuild.Pkgbuild) int {
	return cmp.Or(cmp.Compare(a.Name, b.Name), cmp.Compare(a.Path, b.Path))
}

// DependencyLevels orders toBuild and all their local dependencies found in
// all, by name or provision, into levels. Each level only depends on
// earlier levels. The result starts with the packages that have to be built
// first. Packages within a level are sorted by name.
func DependencyLevels(all map[string]*pkgbuild.Pkgbuild, toBuild []*pkgbuild.Pkgbuild) ([][]*pkgbuild.Pkgbuild, error) {
	lookup := providers(all)
	visitedNames := make(map[string]bool)

	visit := func(pkg *pkgbuild.Pkgbuild) {
		for _, name := range pkg.Names() {
			visitedNames[name] = true
		}
	}

	var addRecursive func(level pkgSet, pkg *pkgbuild.Pkgbuild)

	addRecursive = func(level pkgSet, pkg *pkgbuild.Pkgbuild) {
		for _, dep := range pkg.AllDepends() {
			depPkg, exists := lookup(dep)
			if visitedNames[dep] || !exists {
				continue
			}

			slog.Debug("Adding dependency to level 0",
				slog.String("package", pkg.Name),
				slog.String("dependency", depPkg.Name),
			)

			visit(depPkg)
			level.add(depPkg)
			addRecursive(level, depPkg)
		}
	}

	levels := []pkgSet{make(pkgSet), make(pkgSet)}

	for _, pkg := range toBuild {
		visit(pkg)
		levels[0].add(pkg)
		slog.Debug("Adding requested package", slog.String("package", pkg.Name))
		addRecursive(levels[0], pkg)
	}

	var (
		level       int
		repeatCount int
		lastLevel   pkgSet
	)

	for len(levels[level]) > 0 {
		if level > maxLevels {
			return nil, ErrTooDeep
		}

		slog.Debug("Scanning dependency level", slog.Int("level", level))

		current := levels[level]
		snapshot := current.sorted()
		modified := false

		for _, pkg := range snapshot {
			if !current.has(pkg) {
				continue
			}

			names := pkg.Names()

		others:
			for _, other := range snapshot {
				if other == pkg {
					continue
				}

				for _, dep := range other.AllDepends() {
					if !slices.Contains(names, dep) {
						continue
					}

					delete(current, pkg)
					levels[level+1].add(pkg)
					slog.Debug("Moving package up a level",
						slog.String("package", pkg.Name),
						slog.Int("level", level+1),
						slog.String("dependant", other.Name),
						slog.String("as", dep),
					)

					modified = true

					break others
				}
			}

			for _, dep := range pkg.AllDepends() {
				depPkg, exists := lookup(dep)
				if visitedNames[dep] || !exists {
					continue
				}

				slog.Debug("Adding dependency",
					slog.String("package", pkg.Name),
					slog.String("dependency", dep),
					slog.Int("level", level),
				)

				current.add(depPkg)
				visit(depPkg)

				modified = true
			}
		}

		if lastLevel != nil && maps.Equal(lastLevel, current) {
			repeatCount++
		} else {
			repeatCount = 0
		}

		if repeatCount > maxRepeats {
			return nil, &CycleError{Level: level, Packages: lastLevel.names()}
		}

		lastLevel = maps.Clone(current)

		if !modified {
			level++
			levels = append(levels, make(pkgSet))
		}
	}

	var result [][]*pkgbuild.Pkgbuild

	for _, lvl := range slices.Backward(levels) {
		if len(lvl) > 0 {
			result = append(result, lvl.sorted())
		}
	}

	return result, nil
}

// Dependants returns all packages in all that directly or transitively
// depend on any of packages and can be built for arch.
func Dependants(all map[string]*pkgbuild.Pkgbuild, packages []*pkgbuild.Pkgbuild, arch string) []*pkgbuild.Pkgbuild {
	result := make(pkgSet)
	pending := packages
	universe := pkgbuild.Unique(all)

	for len(pending) > 0 {
		names := make(map[string]bool)
		for _, pkg := range pending {
			for _, name := range pkg.Names() {
				names[name] = true
			}
		}

		var found []*pkgbuild.Pkgbuild

		for _, pkg := range universe {
			if result.has(pkg) || !slices.ContainsFunc(pkg.AllDepends(), func(dep string) bool { return names[dep] }) {
				continue
			}

			if !pkg.SupportsArch(arch) {
				slog.Warn("Skipping dependant due to wrong arch",
					slog.String("package", pkg.Name),
					slog.Any("arches", pkg.Arches),
				)

				continue
			}

			result.add(pkg)
			found = append(found, pkg)
		}

		pending = found
	}

	return result.sorted()
}

// Names returns the names of packages.
func Names(packages []*pkgbuild.Pkgbuild) []string {
	names := make([]string, len(packages))
	for idx, pkg := range packages {
		names[idx] = pkg.Name
	}

	return names
}
