// SPDX-FileCopyrightText: 2024 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package flavour_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.com/kupfer/kupferbootstrap/internal/flavour"
	"gitlab.com/kupfer/kupferbootstrap/internal/pkgbuild"
)

func flavourPkg(name, description string) *pkgbuild.Pkgbuild {
	return &pkgbuild.Pkgbuild{
		Name:        name,
		Description: description,
		Arches:      []string{"any"},
		Repo:        "main",
		Path:        "main/" + name,
	}
}

func TestFromPkgbuild(t *testing.T) {
	tests := []struct {
		name        string
		pkg         *pkgbuild.Pkgbuild
		expected    string
		description string
		err         error
	}{
		{
			name:        "prefix stripped",
			pkg:         flavourPkg("flavour-phosh", "Kupfer flavour: Phosh with squeekboard"),
			expected:    "phosh",
			description: "Phosh with squeekboard",
		},
		{
			name:        "plain description",
			pkg:         flavourPkg("flavour-barebone", "Barebone"),
			expected:    "barebone",
			description: "Barebone",
		},
		{
			name: "wrong prefix",
			pkg:  flavourPkg("phosh", ""),
			err:  flavour.ErrInvalidPackage,
		},
		{
			name: "common",
			pkg:  flavourPkg("flavour-phosh-common", ""),
			err:  flavour.ErrInvalidPackage,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := flavour.FromPkgbuild(tt.pkg)
			require.ErrorIs(t, err, tt.err)

			if tt.err != nil {
				return
			}

			assert.Equal(t, tt.expected, f.Name)
			assert.Equal(t, tt.description, f.Description)
		})
	}
}

func TestFlavoursAndInfo(t *testing.T) {
	phosh := flavourPkg("flavour-phosh", "kupfer flavour: Phosh")
	all := map[string]*pkgbuild.Pkgbuild{
		"flavour-phosh":        phosh,
		"flavour-phosh-common": flavourPkg("flavour-phosh-common", ""),
		"phosh":                flavourPkg("phosh", ""),
	}

	flavours, err := flavour.Flavours(all)
	require.NoError(t, err)
	require.Len(t, flavours, 1)

	f, err := flavour.Find("phosh", all)
	require.NoError(t, err)
	assert.Same(t, phosh, f.Package)

	_, err = flavour.Find("plasma", all)
	require.ErrorIs(t, err, flavour.ErrUnknownFlavour)

	dir := t.TempDir()

	_, err = f.LoadInfo(dir)
	require.ErrorIs(t, err, flavour.ErrInvalidInfo)

	infoDir := filepath.Join(dir, phosh.Path)
	require.NoError(t, os.MkdirAll(infoDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(infoDir, flavour.InfoFile), []byte("{"), 0o644))

	_, err = f.LoadInfo(dir)
	require.ErrorIs(t, err, flavour.ErrInvalidInfo)

	require.NoError(t, os.WriteFile(
		filepath.Join(infoDir, flavour.InfoFile),
		[]byte(`{"rootfs_size": 5, "description": "Phosh, the phone shell"}`),
		0o644,
	))

	info, err := f.LoadInfo(dir)
	require.NoError(t, err)
	assert.Equal(t, 5, info.RootfsSize)
	assert.Equal(t, "Phosh, the phone shell", f.Description)
	assert.Equal(t, `Flavour "phosh": "Phosh, the phone shell", package: flavour-phosh, rootfs_size: 5`, f.String())
}
