// SPDX-FileCopyrightText: 2024 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package pkgbuild

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"

	"gitlab.com/kupfer/kupferbootstrap/internal/shell"
)

// Tree is a checkout of the pkgbuilds repository.
type Tree struct {
	// Dir is the pkgbuilds directory on the host.
	Dir string
	// Repos are the subdirectories that are scanned for PKGBUILDs.
	Repos []string
	// Runner runs git and makepkg.
	Runner shell.Runner
	// Jobs limits the number of PKGBUILDs parsed in parallel. Zero means
	// four per CPU.
	Jobs int

	mu        sync.Mutex
	pkgbuilds map[string]*Pkgbuild
}

// NewTree creates a [Tree] for the given repos.
func NewTree(dir string, repos []string, runner shell.Runner) *Tree {
	return &Tree{
		Dir:    dir,
		Repos:  repos,
		Runner: runner,
	}
}

func (t *Tree) srcinfo() Srcinfo {
	return Srcinfo{Runner: t.Runner}
}

// Parse parses the PKGBUILD in relPath.
func (t *Tree) Parse(ctx context.Context, relPath string, refresh bool) ([]*Pkgbuild, error) {
	slog.Debug("Parse PKGBUILD", slog.String("path", relPath))

	meta, lines, err := t.srcinfo().HandleDirectory(ctx, filepath.Join(t.Dir, relPath), refresh, true)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", relPath, err)
	}

	pkgs, err := ParseSRCINFO(lines, relPath, meta.Fields())
	if err != nil {
		return nil, err
	}

	if meta.SrcInitialised != nil {
		for _, pkg := range pkgs {
			pkg.SrcInitialised = *meta.SrcInitialised
			if pkg.Base != nil {
				pkg.Base.SrcInitialised = *meta.SrcInitialised
			}
		}
	}

	return pkgs, nil
}

// Paths lists the relative package directories of all repos.
func (t *Tree) Paths() ([]string, error) {
	var paths []string

	for _, repo := range t.Repos {
		entries, err := os.ReadDir(filepath.Join(t.Dir, repo))
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("%w: %s doesn't exist", ErrNotInitialized, filepath.Join(t.Dir, repo))
			}

			return nil, fmt.Errorf("read repo: %w", err)
		}

		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}

			paths = append(paths, filepath.Join(repo, entry.Name()))
		}
	}

	return paths, nil
}

// Discover parses all PKGBUILDs in parallel and returns them keyed by name
// and by the names they replace. Results are cached unless refresh is set.
func (t *Tree) Discover(ctx context.Context, refresh bool) (map[string]*Pkgbuild, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.pkgbuilds != nil && !refresh {
		return maps.Clone(t.pkgbuilds), nil
	}

	paths, err := t.Paths()
	if err != nil {
		return nil, err
	}

	jobs := t.Jobs
	if jobs <= 0 {
		jobs = runtime.NumCPU() * 4
	}

	results := make([][]*Pkgbuild, len(paths))

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(jobs)

	for idx, path := range paths {
		group.Go(func() error {
			pkgs, err := t.Parse(groupCtx, path, refresh)
			if err != nil {
				return err
			}

			results[idx] = pkgs

			return nil
		})
	}

	err = group.Wait()
	if err != nil {
		return nil, err //nolint:wrapcheck
	}

	slog.Debug("Building package dictionary")

	packages := make(map[string]*Pkgbuild)

	for _, pkgs := range results {
		for _, pkg := range pkgs {
			for _, name := range slices.Concat([]string{pkg.Name}, pkg.Replaces) {
				if existing, exists := packages[name]; exists {
					slog.Warn("Overriding package",
						slog.String("old", existing.String()),
						slog.String("new", pkg.String()),
					)
				}

				packages[name] = pkg
			}
		}
	}

	resolveLocalDepends(packages)

	t.pkgbuilds = packages

	return maps.Clone(packages), nil
}

// resolveLocalDepends filters the dependencies of each package to the ones
// provided by the given packages.
func resolveLocalDepends(packages map[string]*Pkgbuild) {
	provided := make(map[string]string)
	for _, pkg := range packages {
		for _, name := range pkg.Names() {
			provided[name] = pkg.Name
		}
	}

	for _, pkg := range packages {
		pkg.LocalDepends = nil

		for _, dep := range pkg.AllDepends() {
			if _, exists := packages[dep]; exists {
				pkg.LocalDepends = append(pkg.LocalDepends, dep)
				continue
			}

			if provider, exists := provided[dep]; exists {
				slog.Debug("Found provider", slog.String("provider", provider), slog.String("dep", dep))
				pkg.LocalDepends = append(pkg.LocalDepends, dep)
			}
		}
	}
}

// Unique returns each package of the map once, sorted by name.
func Unique(packages map[string]*Pkgbuild) []*Pkgbuild {
	var list []*Pkgbuild

	seen := make(map[*Pkgbuild]bool)
	for _, pkg := range packages {
		if !seen[pkg] {
			seen[pkg] = true
			list = append(list, pkg)
		}
	}

	slices.SortFunc(list, func(a, b *Pkgbuild) int {
		return cmp.Or(cmp.Compare(a.Name, b.Name), cmp.Compare(a.Path, b.Path))
	})

	return list
}

// Filter returns the packages matching any of paths, which may be relative
// PKGBUILD directories or package names. "all" matches every package.
func Filter(packages map[string]*Pkgbuild, paths []string, allowEmpty bool) ([]*Pkgbuild, error) {
	all := Unique(packages)
	if slices.Contains(paths, "all") {
		return all, nil
	}

	var result []*Pkgbuild

	for _, pkg := range all {
		if slices.Contains(paths, pkg.Path) || slices.Contains(paths, pkg.Name) {
			result = append(result, pkg)
		}
	}

	if len(result) == 0 && !allowEmpty {
		return nil, &MatchError{Paths: paths}
	}

	return result, nil
}
