// SPDX-FileCopyrightText: 2024 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package chroot

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"slices"
	"strconv"
	"strings"

	"gitlab.com/kupfer/kupferbootstrap/internal/shell"
	"gitlab.com/kupfer/kupferbootstrap/internal/sys"
)

// RunOptions control commands run inside a chroot.
type RunOptions struct {
	// InnerEnv is set for the command inside the chroot.
	InnerEnv map[string]string
	// OuterEnv is set for the chroot call on the host.
	OuterEnv map[string]string
	// Cwd is the working directory inside the chroot.
	Cwd string
	// User runs the script as that user with su.
	User string
	// AllowInactive permits running in a chroot that is not activated.
	AllowInactive bool

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// Command builds the host command that runs script with bash inside the
// chroot.
func (c *Chroot) Command(script string, opts RunOptions) (shell.Cmd, error) {
	if !c.active && !opts.AllowInactive {
		return shell.Cmd{}, fmt.Errorf("%s: %w, not running command", c.Name, ErrInactive)
	}

	outer := maps.Clone(opts.OuterEnv)
	if outer == nil {
		outer = make(map[string]string)
	}

	native := c.reg.Settings.Native
	if c.Arch != native && outer["QEMU_LD_PREFIX"] == "" {
		spec, err := sys.GCCHostSpec(native, c.Arch)
		if err != nil {
			return shell.Cmd{}, err //nolint:wrapcheck
		}

		outer["QEMU_LD_PREFIX"] = "/usr/" + spec
	}

	if opts.Cwd != "" {
		script = "cd " + shell.Quote(opts.Cwd) + " && ( " + script + " )"
	}

	inner := shell.Bash(script)
	if opts.User != "" {
		inner = shell.Su(opts.User, script)
	}

	args := []string{"chroot", c.Root}
	if len(opts.InnerEnv) > 0 {
		args = append(args, shell.EnvPrefix(opts.InnerEnv)...)
	}

	args = append(args, inner...)

	if len(outer) > 0 {
		args = append(shell.EnvPrefix(outer), args...)
	}

	return shell.Cmd{
		Args:   shell.Sudo(args...),
		Stdin:  opts.Stdin,
		Stdout: opts.Stdout,
		Stderr: opts.Stderr,
	}, nil
}

// Run runs script inside the chroot.
func (c *Chroot) Run(ctx context.Context, script string, opts RunOptions) error {
	cmd, err := c.Command(script, opts)
	if err != nil {
		return err
	}

	return c.reg.Runner.Run(ctx, cmd) //nolint:wrapcheck
}

// Output runs script inside the chroot and returns its standard output.
func (c *Chroot) Output(ctx context.Context, script string, opts RunOptions) ([]byte, error) {
	cmd, err := c.Command(script, opts)
	if err != nil {
		return nil, err
	}

	return c.reg.Runner.Output(ctx, cmd) //nolint:wrapcheck
}

// DefaultUserGroups are the supplementary groups of created users.
var DefaultUserGroups = []string{
	"network", "video", "audio", "optical", "storage", "input",
	"scanner", "games", "lp", "rfkill", "wheel",
}

// User describes a user account to create.
type User struct {
	Name string
	// Password is set with chpasswd. If empty, passwd asks interactively.
	Password     string
	Groups       []string
	PrimaryGroup string
	UID          *int
	NonUnique    bool
}

// CreateUser creates the user if missing and updates its groups.
func (c *Chroot) CreateUser(ctx context.Context, user User) error {
	if user.Name == "" {
		user.Name = "kupfer"
	}

	if user.Groups == nil {
		user.Groups = DefaultUserGroups
	}

	var params []string

	if user.NonUnique {
		params = append(params, "--non-unique")
	}

	if user.UID != nil {
		params = append(params, "-u", strconv.Itoa(*user.UID))
	}

	if user.PrimaryGroup != "" {
		params = append(params, "-g", user.PrimaryGroup)
	}

	owner := user.Name
	if user.PrimaryGroup != "" {
		owner += ":" + user.PrimaryGroup
	}

	name := shell.Quote(user.Name)
	paramStr := strings.Join(params, " ")

	script := strings.Join([]string{
		"set -e",
		fmt.Sprintf(`if ! id -u %s >/dev/null 2>&1; then`, name),
		fmt.Sprintf(`  useradd -m %s %s`, paramStr, name),
		"fi",
		fmt.Sprintf(`usermod -a -G %s %s %s`, strings.Join(user.Groups, ","), paramStr, name),
		fmt.Sprintf(`chown %s /home/%s -R`, shell.Quote(owner), name),
	}, "\n") + "\n"

	if user.Password != "" {
		script += fmt.Sprintf(`echo %s | chpasswd`, shell.Quote(user.Name+":"+user.Password))
	} else {
		script += fmt.Sprintf(`echo "Set user password:" && passwd %s`, name)
	}

	err := c.Run(ctx, script, RunOptions{})
	if err != nil {
		return fmt.Errorf("failed to setup user %s in %s: %w", user.Name, c.Name, err)
	}

	return nil
}

// UID returns the user id of the user inside the chroot.
func (c *Chroot) UID(ctx context.Context, user string) (int, error) {
	if user == "root" {
		return 0, nil
	}

	out, err := c.Output(ctx, shell.Join([]string{"id", "-u", user}), RunOptions{})
	if err != nil {
		return 0, fmt.Errorf("%s: couldn't detect uid for user %s: %w", c.Name, user, err)
	}

	uid, err := strconv.Atoi(strings.TrimSpace(string(out)))
	if err != nil {
		return 0, fmt.Errorf("%s: couldn't detect uid for user %s: %w", c.Name, user, err)
	}

	return uid, nil
}

// AddSudoConfig writes /etc/sudoers.d/name granting privilegee (a user or a
// %group) root privileges.
func (c *Chroot) AddSudoConfig(ctx context.Context, name, privilegee string, passwordRequired bool) error {
	if strings.Contains(name, ".") {
		return fmt.Errorf("%w: %q contains a dot and would be ignored by sudo", ErrInvalidSudoersName, name)
	}

	subject := "user " + privilegee
	if group, found := strings.CutPrefix(privilegee, "%"); found {
		subject = "members of group " + group
	}

	comment := "# allow " + subject + " to run any program as root"
	line := privilegee + " ALL=(ALL:ALL) ALL"

	if !passwordRequired {
		comment += " without a password"
		line = privilegee + " ALL=(ALL) NOPASSWD: ALL"
	}

	err := c.files().MakeDir(ctx, c.Path("etc", "sudoers.d"), shell.FileOptions{})
	if err != nil {
		return err //nolint:wrapcheck
	}

	return c.files().WriteFile( //nolint:wrapcheck
		ctx,
		c.Path("etc", "sudoers.d", name),
		[]byte(comment+"\n"+line+"\n"),
		shell.FileOptions{Mode: 0o440, User: "root", Group: "root"},
	)
}

// InstallResults maps package names to their installation error.
type InstallResults map[string]error

// Failed returns the sorted names of packages that failed to install.
func (r InstallResults) Failed() []string {
	var failed []string

	for name, err := range r {
		if err != nil {
			failed = append(failed, name)
		}
	}

	slices.Sort(failed)

	return failed
}

const pacmanInstall = "pacman -S --noconfirm --needed --overwrite='/*'"

// TryInstallPackages installs the packages in one transaction. If that fails
// and allowFail is set, each package is installed on its own.
func (c *Chroot) TryInstallPackages(
	ctx context.Context,
	packages []string,
	refresh bool,
	allowFail bool,
) (InstallResults, error) {
	results := make(InstallResults)

	if refresh {
		err := c.Run(ctx, "pacman -Syy --noconfirm", RunOptions{})
		if err != nil {
			return nil, fmt.Errorf("refresh: %w", err)
		}
	}

	if len(packages) == 0 {
		return results, nil
	}

	bulkErr := c.Run(ctx, pacmanInstall+" -y "+shell.Join(packages), RunOptions{})
	for _, pkg := range packages {
		results[pkg] = bulkErr
	}

	if bulkErr == nil || !allowFail {
		return results, nil
	}

	slog.Debug("Falling back to serial installation", slog.String("chroot", c.Name))

	for _, pkg := range slices.Compact(slices.Sorted(slices.Values(packages))) {
		results[pkg] = c.Run(ctx, pacmanInstall+" "+shell.Quote(pkg), RunOptions{})
	}

	return results, nil
}

// InstallPackages installs the packages and fails if any could not be
// installed.
func (c *Chroot) InstallPackages(ctx context.Context, packages []string, refresh bool) error {
	results, err := c.TryInstallPackages(ctx, packages, refresh, false)
	if err != nil {
		return err
	}

	if failed := results.Failed(); len(failed) > 0 {
		return &InstallError{Chroot: c.Name, Packages: failed}
	}

	return nil
}
