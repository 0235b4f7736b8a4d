// SPDX-FileCopyrightText: 2024 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package chroot

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInactive is returned if a command is run in a chroot that is not
	// activated.
	ErrInactive = errors.New("chroot is inactive")

	// ErrActive is returned if a chroot is activated twice or a rootfs is
	// mounted over an active chroot.
	ErrActive = errors.New("chroot is active")

	// ErrAlreadyInitialized is returned if a chroot must not have been
	// initialized yet.
	ErrAlreadyInitialized = errors.New("chroot already initialized")

	// ErrAlreadyExists is returned by [Registry.Get] if the chroot must not
	// exist yet.
	ErrAlreadyExists = errors.New("chroot already exists")

	// ErrLeakedMount is returned if something is mounted in a chroot that
	// was not mounted by this process.
	ErrLeakedMount = errors.New("leaked mount")

	// ErrAlreadyMounted is returned if a mount target is in use.
	ErrAlreadyMounted = errors.New("already mounted")

	// ErrRootfsBusy is returned if a rootfs can not be mounted safely.
	ErrRootfsBusy = errors.New("not mounting rootfs")

	// ErrLocalRepos is returned if a base chroot is configured with local
	// repos.
	ErrLocalRepos = errors.New("base chroot must not use local repos")

	// ErrInvalidSudoersName is returned for sudoers.d file names sudo would
	// ignore.
	ErrInvalidSudoersName = errors.New("invalid sudoers.d file name")

	// ErrInstallFailed is returned if packages could not be installed.
	ErrInstallFailed = errors.New("failed to install packages")
)

// InstallError lists the packages that failed to install.
type InstallError struct {
	Chroot   string
	Packages []string
}

func (e *InstallError) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Chroot, ErrInstallFailed, strings.Join(e.Packages, ", "))
}

func (e *InstallError) Unwrap() error {
	return ErrInstallFailed
}
