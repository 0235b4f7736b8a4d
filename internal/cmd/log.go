// SPDX-FileCopyrightText: 2024 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package cmd

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

func isTerminal(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	return ok && term.IsTerminal(int(file.Fd()))
}

// newRenderer returns a renderer for writer. colors forces colors on or off,
// nil detects terminal support.
func newRenderer(writer io.Writer, colors *bool) *lipgloss.Renderer {
	renderer := lipgloss.NewRenderer(writer)

	switch {
	case colors == nil:
		if !isTerminal(writer) {
			renderer.SetColorProfile(termenv.Ascii)
		}
	case *colors:
		renderer.SetColorProfile(termenv.ANSI256)
	default:
		renderer.SetColorProfile(termenv.Ascii)
	}

	return renderer
}

func setupLogging(writer io.Writer, verbose bool, colors *bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}

	var handler slog.Handler

	if isTerminal(writer) || colors != nil {
		handler = newConsoleHandler(writer, newRenderer(writer, colors), level)
	} else {
		handler = slog.NewJSONHandler(writer, &slog.HandlerOptions{
			Level: level,
		})
	}

	slog.SetDefault(slog.New(handler))
}

// consoleHandler writes records as single human readable lines with styled
// levels.
type consoleHandler struct {
	out    io.Writer
	mu     *sync.Mutex
	level  slog.Leveler
	levels map[slog.Level]lipgloss.Style
	key    lipgloss.Style
	attrs  []byte
	prefix string
}

func newConsoleHandler(out io.Writer, renderer *lipgloss.Renderer, level slog.Leveler) *consoleHandler {
	style := renderer.NewStyle().Bold(true).Width(5)

	return &consoleHandler{
		out:   out,
		mu:    &sync.Mutex{},
		level: level,
		levels: map[slog.Level]lipgloss.Style{
			slog.LevelDebug: style.Foreground(lipgloss.Color("8")),
			slog.LevelInfo:  style.Foreground(lipgloss.Color("12")),
			slog.LevelWarn:  style.Foreground(lipgloss.Color("11")),
			slog.LevelError: style.Foreground(lipgloss.Color("9")),
		},
		key: renderer.NewStyle().Faint(true),
	}
}

func (h *consoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *consoleHandler) levelStyle(level slog.Level) lipgloss.Style {
	switch {
	case level >= slog.LevelError:
		return h.levels[slog.LevelError]
	case level >= slog.LevelWarn:
		return h.levels[slog.LevelWarn]
	case level >= slog.LevelInfo:
		return h.levels[slog.LevelInfo]
	default:
		return h.levels[slog.LevelDebug]
	}
}

func (h *consoleHandler) Handle(_ context.Context, record slog.Record) error {
	var buf bytes.Buffer

	buf.WriteString(h.levelStyle(record.Level).Render(record.Level.String()))
	buf.WriteByte(' ')
	buf.WriteString(record.Message)
	buf.Write(h.attrs)

	record.Attrs(func(attr slog.Attr) bool {
		h.appendAttr(&buf, h.prefix, attr)
		return true
	})

	buf.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()

	_, err := h.out.Write(buf.Bytes())
	if err != nil {
		return fmt.Errorf("write log: %w", err)
	}

	return nil
}

func (h *consoleHandler) appendAttr(buf *bytes.Buffer, prefix string, attr slog.Attr) {
	attr.Value = attr.Value.Resolve()
	if attr.Equal(slog.Attr{}) {
		return
	}

	if attr.Value.Kind() == slog.KindGroup {
		if attr.Key != "" {
			prefix += attr.Key + "."
		}

		for _, member := range attr.Value.Group() {
			h.appendAttr(buf, prefix, member)
		}

		return
	}

	value := attr.Value.String()
	if value == "" || strings.ContainsAny(value, " \t\n\"=") {
		value = strconv.Quote(value)
	}

	buf.WriteByte(' ')
	buf.WriteString(h.key.Render(prefix + attr.Key + "="))
	buf.WriteString(value)
}

func (h *consoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h

	buf := bytes.NewBuffer(bytes.Clone(h.attrs))
	for _, attr := range attrs {
		h.appendAttr(buf, h.prefix, attr)
	}

	clone.attrs = buf.Bytes()

	return &clone
}

func (h *consoleHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}

	clone := *h
	clone.prefix += name + "."

	return &clone
}
