// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package shell

import (
	"bytes"
	"log/slog"
	"path/filepath"
	"sync"
)

// LineLogger is an [io.Writer] that logs every complete line written to it
// at debug level.
type LineLogger struct {
	program string
	stream  string

	mu  sync.Mutex
	buf bytes.Buffer
}

// NewLineLogger creates a new [LineLogger] that attributes lines to the given
// program and stream name.
func NewLineLogger(program, stream string) *LineLogger {
	return &LineLogger{
		program: filepath.Base(program),
		stream:  stream,
	}
}

// Write implements [io.Writer].
func (l *LineLogger) Write(data []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.buf.Write(data)

	for {
		line, err := l.buf.ReadBytes('\n')
		if err != nil {
			// Incomplete line, keep it for the next write.
			l.buf.Write(line)
			break
		}

		l.log(line[:len(line)-1])
	}

	return len(data), nil
}

// Flush logs any remaining incomplete line.
func (l *LineLogger) Flush() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.buf.Len() > 0 {
		l.log(l.buf.Bytes())
		l.buf.Reset()
	}
}

func (l *LineLogger) log(line []byte) {
	line = bytes.TrimRight(line, "\r")
	if len(line) == 0 {
		return
	}

	slog.Debug(string(line),
		slog.String("program", l.program),
		slog.String("stream", l.stream),
	)
}
