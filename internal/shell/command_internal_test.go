// SPDX-FileCopyrightText: 2024 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package shell

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func withIdentity(t *testing.T, name string, root bool) {
	t.Helper()

	oldUser, oldRoot := currentUser, isRoot

	currentUser = func() string { return name }
	isRoot = func() bool { return root }

	t.Cleanup(func() {
		currentUser, isRoot = oldUser, oldRoot
	})
}

func TestSudo(t *testing.T) {
	t.Run("user", func(t *testing.T) {
		withIdentity(t, "alice", false)
		assert.Equal(t, []string{"sudo", "--", "mount", "x"}, Sudo("mount", "x"))
	})

	t.Run("root", func(t *testing.T) {
		withIdentity(t, "root", true)
		assert.Equal(t, []string{"mount", "x"}, Sudo("mount", "x"))
	})
}

func TestSwitchUser(t *testing.T) {
	tests := []struct {
		name     string
		current  string
		target   string
		force    bool
		expected []string
	}{
		{
			name:     "same user",
			current:  "kupfer",
			target:   "kupfer",
			expected: []string{"id"},
		},
		{
			name:     "same user forced",
			current:  "root",
			target:   "root",
			force:    true,
			expected: []string{"id"},
		},
		{
			name:     "root to user",
			current:  "root",
			target:   "kupfer",
			expected: []string{"/bin/su", "kupfer", "-s", "/bin/bash", "-c", "id"},
		},
		{
			name:    "user to other user",
			current: "alice",
			target:  "kupfer",
			expected: []string{
				"sudo", "--", "/bin/su", "kupfer", "-s", "/bin/bash", "-c", "id",
			},
		},
		{
			name:     "user to root",
			current:  "alice",
			target:   "root",
			expected: []string{"sudo", "--", "id"},
		},
		{
			name:     "empty target",
			current:  "alice",
			expected: []string{"id"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			withIdentity(t, tt.current, tt.current == "root")
			assert.Equal(t, tt.expected, SwitchUser([]string{"id"}, tt.target, tt.force))
		})
	}
}
