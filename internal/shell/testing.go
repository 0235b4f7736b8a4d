// SPDX-FileCopyrightText: 2024 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package shell

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
)

// FakeRunner is a [Runner] that records commands instead of running them.
//
// Handler, if set, is called for every command and determines its output
// and error. Stdin of recorded commands holds the consumed input.
type FakeRunner struct {
	Handler func(cmd Cmd) ([]byte, error)

	mu   sync.Mutex
	cmds []Cmd
}

var _ Runner = (*FakeRunner)(nil)

func (r *FakeRunner) handle(cmd Cmd) ([]byte, error) {
	// Input is consumed like a real program would and kept for inspection.
	if cmd.Stdin != nil {
		data, _ := io.ReadAll(cmd.Stdin)
		cmd.Stdin = bytes.NewReader(data)
	}

	r.mu.Lock()
	r.cmds = append(r.cmds, cmd)
	r.mu.Unlock()

	if r.Handler == nil {
		return nil, nil
	}

	return r.Handler(cmd)
}

// Run implements [Runner].
func (r *FakeRunner) Run(_ context.Context, cmd Cmd) error {
	out, err := r.handle(cmd)
	if cmd.Stdout != nil && len(out) > 0 {
		_, _ = cmd.Stdout.Write(out)
	}

	return err
}

// Output implements [Runner].
func (r *FakeRunner) Output(_ context.Context, cmd Cmd) ([]byte, error) {
	return r.handle(cmd)
}

// Commands returns the command lines of all recorded commands.
func (r *FakeRunner) Commands() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	lines := make([]string, len(r.cmds))
	for idx, cmd := range r.cmds {
		lines[idx] = cmd.String()
	}

	return lines
}

// Cmds returns all recorded commands.
func (r *FakeRunner) Cmds() []Cmd {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]Cmd(nil), r.cmds...)
}

// Contains reports whether any recorded command line contains substr.
func (r *FakeRunner) Contains(substr string) bool {
	for _, line := range r.Commands() {
		if strings.Contains(line, substr) {
			return true
		}
	}

	return false
}
