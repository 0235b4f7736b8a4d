// SPDX-FileCopyrightText: 2024 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package shell

import (
	"io"
	"maps"
	"os"
	"os/user"
	"regexp"
	"slices"
	"strings"
)

const (
	envBin  = "/usr/bin/env"
	bashBin = "/bin/bash"
	suBin   = "/bin/su"
	sudoBin = "sudo"
)

// Cmd describes a program invocation.
type Cmd struct {
	Args []string

	// Env is injected by prefixing the command with env(1), so it survives
	// sudo and chroot.
	Env map[string]string

	Dir    string
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// Command returns a [Cmd] for the given arguments.
func Command(args ...string) Cmd {
	return Cmd{Args: args}
}

// String returns the shell quoted command line.
func (c Cmd) String() string {
	return Join(c.fullArgs())
}

func (c Cmd) fullArgs() []string {
	if len(c.Env) == 0 {
		return c.Args
	}

	return append(EnvPrefix(c.Env), c.Args...)
}

// EnvPrefix returns the env(1) invocation that sets the given variables in
// sorted key order.
func EnvPrefix(env map[string]string) []string {
	args := []string{envBin}
	for _, key := range slices.Sorted(maps.Keys(env)) {
		args = append(args, key+"="+env[key])
	}

	return args
}

// Bash wraps the script in a bash invocation.
func Bash(script string) []string {
	return []string{bashBin, "-c", script}
}

var isRoot = func() bool {
	return os.Geteuid() == 0
}

// IsRoot reports whether the process runs with effective uid 0.
func IsRoot() bool {
	return isRoot()
}

// Sudo prefixes args with sudo unless already running as root.
func Sudo(args ...string) []string {
	if isRoot() {
		return args
	}

	return append([]string{sudoBin, "--"}, args...)
}

var currentUser = func() string {
	u, err := user.Current()
	if err != nil {
		return ""
	}

	return u.Username
}

// SwitchUser returns the command line that runs args as the given user.
//
// If the current user already is the target user and force is false, args
// are returned unchanged. For non-root targets su is used. The su call is
// elevated with sudo if not running as root.
func SwitchUser(args []string, username string, force bool) []string {
	if username == "" {
		return args
	}

	current := currentUser()
	if current == username && !force {
		return args
	}

	if username != "root" {
		args = Su(username, Join(args))
	}

	if current != "root" {
		args = Sudo(args...)
	}

	return args
}

// Su returns the su(1) invocation that runs script with bash as username.
func Su(username, script string) []string {
	return []string{suBin, username, "-s", bashBin, "-c", script}
}

var safeWord = regexp.MustCompile(`^[A-Za-z0-9@%+=:,./_-]+$`)

// Quote quotes s so that a POSIX shell interprets it as a single word.
func Quote(s string) string {
	if s == "" {
		return "''"
	}

	if safeWord.MatchString(s) {
		return s
	}

	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}

// Join quotes and joins the arguments to a single shell command line.
func Join(args []string) string {
	quoted := make([]string, len(args))
	for idx, arg := range args {
		quoted[idx] = Quote(arg)
	}

	return strings.Join(quoted, " ")
}
