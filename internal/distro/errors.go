// SPDX-FileCopyrightText: 2024 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package distro

import (
	"errors"
	"fmt"
)

var (
	// ErrNotScanned is returned if packages of a repo that has not been
	// scanned are requested.
	ErrNotScanned = errors.New("repo not scanned")

	// ErrInvalidDesc is returned if a package description can not be
	// parsed.
	ErrInvalidDesc = errors.New("invalid package description")

	// ErrNotFound is returned if a downloaded resource does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUnknownRepo is returned for repo names not part of a distro.
	ErrUnknownRepo = errors.New("unknown repo")
)

// HTTPError is returned if a download fails with an unexpected status code.
type HTTPError struct {
	URL        string
	StatusCode int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("GET %s: status %d", e.URL, e.StatusCode)
}

func (*HTTPError) Is(other error) bool {
	_, ok := other.(*HTTPError)
	return ok
}
