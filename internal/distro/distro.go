// SPDX-FileCopyrightText: 2024 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package distro

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"
)

// Distro is an ordered collection of repos for one architecture. Earlier
// repos take precedence.
type Distro struct {
	Arch  string
	Repos []*Repo
}

// New creates a distro with repos built from infos in the given order.
func New(arch string, names []string, infos map[string]RepoInfo) *Distro {
	distro := &Distro{Arch: arch}

	for _, name := range names {
		distro.Repos = append(distro.Repos, NewRepo(name, arch, infos[name]))
	}

	return distro
}

// Repo returns the named repo.
func (d *Distro) Repo(name string) (*Repo, error) {
	for _, repo := range d.Repos {
		if repo.Name == name {
			return repo, nil
		}
	}

	return nil, fmt.Errorf("%s: %w", name, ErrUnknownRepo)
}

// SetCacheDir sets the database cache dir of all repos.
func (d *Distro) SetCacheDir(dir string) {
	for _, repo := range d.Repos {
		repo.CacheDir = dir
	}
}

// Scan scans all repos concurrently. Already scanned repos are skipped
// unless refresh is true.
func (d *Distro) Scan(ctx context.Context, refresh bool) error {
	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(4)

	for _, repo := range d.Repos {
		if repo.Scanned() && !refresh {
			continue
		}

		group.Go(func() error {
			return repo.Scan(ctx)
		})
	}

	//nolint:wrapcheck
	return group.Wait()
}

// Packages returns all packages of all repos by name. For names present in
// multiple repos, the package of the earliest repo wins.
func (d *Distro) Packages() (map[string]*Package, error) {
	result := map[string]*Package{}

	for idx := len(d.Repos) - 1; idx >= 0; idx-- {
		packages, err := d.Repos[idx].Packages()
		if err != nil {
			return nil, err
		}

		for name, pkg := range packages {
			result[name] = pkg
		}
	}

	return result, nil
}

// Providers lists the packages that satisfy name.
type Providers struct {
	Exact    *Package
	Provides []*Package
	Replaces []*Package
}

// Empty reports whether no package satisfies the name.
func (p Providers) Empty() bool {
	return p.Exact == nil && len(p.Provides) == 0 && len(p.Replaces) == 0
}

// Providers returns all packages that are named name, provide it or replace
// it.
func (d *Distro) Providers(name string) (Providers, error) {
	packages, err := d.Packages()
	if err != nil {
		return Providers{}, err
	}

	var result Providers

	name = StripVersionConstraint(name)
	result.Exact = packages[name]

	for _, pkg := range packages {
		for _, provided := range pkg.Provides {
			if StripVersionConstraint(provided) == name {
				result.Provides = append(result.Provides, pkg)
				break
			}
		}

		for _, replaced := range pkg.Replaces {
			if StripVersionConstraint(replaced) == name {
				result.Replaces = append(result.Replaces, pkg)
				break
			}
		}
	}

	return result, nil
}

// ReposConfigSnippet renders the repo sections of pacman.conf. Extra repos
// are listed first.
func (d *Distro) ReposConfigSnippet(extra []*Repo) string {
	repos := make([]*Repo, 0, len(extra)+len(d.Repos))
	repos = append(repos, extra...)
	repos = append(repos, d.Repos...)

	snippets := make([]string, len(repos))
	for idx, repo := range repos {
		snippets[idx] = repo.ConfigSnippet()
	}

	return strings.Join(snippets, "\n")
}

// PacmanConf renders a full pacman.conf with the options section and all
// repos of the distro and extra.
func (d *Distro) PacmanConf(opts PacmanOptions, extra []*Repo) (string, error) {
	if opts.Arch == "" {
		opts.Arch = d.Arch
	}

	body, err := PacmanConfBody(opts)
	if err != nil {
		return "", err
	}

	return body + "\n" + d.ReposConfigSnippet(extra), nil
}
