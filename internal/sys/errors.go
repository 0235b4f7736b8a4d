// SPDX-FileCopyrightText: 2024 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package sys

import (
	"errors"
	"fmt"
)

// ErrArchNotSupported is returned if the requested architecture is not
// supported for the requested operation.
var ErrArchNotSupported = errors.New("architecture not supported")

// ArchError is returned for unknown architectures or unsupported host and
// target combinations.
type ArchError struct {
	Arch string
	Host string
}

func (e *ArchError) Error() string {
	if e.Host != "" {
		return fmt.Sprintf("%s on host %s: %v", e.Arch, e.Host, ErrArchNotSupported)
	}

	return fmt.Sprintf("%q: %v", e.Arch, ErrArchNotSupported)
}

func (*ArchError) Is(other error) bool {
	_, ok := other.(*ArchError)
	return ok
}

func (*ArchError) Unwrap() error {
	return ErrArchNotSupported
}
