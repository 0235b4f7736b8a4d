// SPDX-FileCopyrightText: 2024 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package shell_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"gitlab.com/kupfer/kupferbootstrap/internal/shell"
)

func TestQuote(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{input: "", expected: "''"},
		{input: "plain", expected: "plain"},
		{input: "/usr/bin/env", expected: "/usr/bin/env"},
		{input: "a b", expected: "'a b'"},
		{input: "it's", expected: `'it'"'"'s'`},
		{input: "--overwrite=*", expected: "'--overwrite=*'"},
		{input: "$HOME", expected: "'$HOME'"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, shell.Quote(tt.input))
		})
	}
}

func TestCmdString(t *testing.T) {
	cmd := shell.Cmd{
		Args: []string{"makepkg", "--noconfirm"},
		Env:  map[string]string{"LANG": "C", "CARCH": "aarch64"},
	}

	assert.Equal(t,
		"/usr/bin/env CARCH=aarch64 LANG=C makepkg --noconfirm",
		cmd.String(),
	)
}

func TestBash(t *testing.T) {
	assert.Equal(t,
		[]string{"/bin/bash", "-c", "cd / && ls"},
		shell.Bash("cd / && ls"),
	)
}
