// SPDX-FileCopyrightText: 2024 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package cmd

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConsoleHandler(t *testing.T) {
	colors := false

	tests := []struct {
		name     string
		log      func(logger *slog.Logger)
		expected string
	}{
		{
			name: "message only",
			log: func(logger *slog.Logger) {
				logger.Info("Building")
			},
			expected: "INFO  Building\n",
		},
		{
			name: "attributes",
			log: func(logger *slog.Logger) {
				logger.Warn("Skipping", slog.String("package", "qemu-user"), slog.Int("count", 2))
			},
			expected: "WARN  Skipping package=qemu-user count=2\n",
		},
		{
			name: "quoted values",
			log: func(logger *slog.Logger) {
				logger.Error("Failed", slog.String("cmd", "makepkg -s"), slog.String("empty", ""))
			},
			expected: "ERROR Failed cmd=\"makepkg -s\" empty=\"\"\n",
		},
		{
			name: "debug filtered",
			log: func(logger *slog.Logger) {
				logger.Debug("hidden")
			},
		},
		{
			name: "with attrs and group",
			log: func(logger *slog.Logger) {
				logger.With(slog.String("chroot", "build_aarch64")).
					WithGroup("mount").
					Info("Mounted", slog.String("target", "/pkgbuilds"))
			},
			expected: "INFO  Mounted chroot=build_aarch64 mount.target=/pkgbuilds\n",
		},
		{
			name: "group attribute",
			log: func(logger *slog.Logger) {
				logger.Info("Image", slog.Group("size", slog.Int("mb", 4000)))
			},
			expected: "INFO  Image size.mb=4000\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer

			handler := newConsoleHandler(&buf, newRenderer(&buf, &colors), slog.LevelInfo)
			tt.log(slog.New(handler))

			assert.Equal(t, tt.expected, buf.String())
		})
	}
}

func TestSetupLoggingJSON(t *testing.T) {
	defaultLogger := slog.Default()
	t.Cleanup(func() { slog.SetDefault(defaultLogger) })

	var buf bytes.Buffer

	setupLogging(&buf, false, nil)
	slog.Debug("hidden")
	slog.Info("shown", slog.String("key", "value"))

	assert.Contains(t, buf.String(), `"msg":"shown","key":"value"`)
	assert.NotContains(t, buf.String(), "hidden")
}
