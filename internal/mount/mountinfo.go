// SPDX-FileCopyrightText: 2024 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package mount

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// MountInfoPath is the mount table of the current process.
var MountInfoPath = "/proc/self/mountinfo"

// Info is a single entry of the mount table.
type Info struct {
	Root   string
	Target string
	FSType string
	Source string
}

// ParseMountInfo parses the mountinfo(5) format.
func ParseMountInfo(reader io.Reader) ([]Info, error) {
	var infos []Info

	scanner := bufio.NewScanner(reader)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}

		pre, post, found := strings.Cut(line, " - ")
		if !found {
			return nil, fmt.Errorf("%w: %q", ErrInvalidMountInfo, line)
		}

		preFields := strings.Fields(pre)
		postFields := strings.Fields(post)

		if len(preFields) < 5 || len(postFields) < 2 {
			return nil, fmt.Errorf("%w: %q", ErrInvalidMountInfo, line)
		}

		infos = append(infos, Info{
			Root:   unescape(preFields[3]),
			Target: unescape(preFields[4]),
			FSType: postFields[0],
			Source: unescape(postFields[1]),
		})
	}

	err := scanner.Err()
	if err != nil {
		return nil, fmt.Errorf("scan mountinfo: %w", err)
	}

	return infos, nil
}

// unescape decodes the octal escapes for space, tab, newline and backslash.
func unescape(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}

	var builder strings.Builder

	for idx := 0; idx < len(s); idx++ {
		if s[idx] == '\\' && idx+3 < len(s) {
			value, err := strconv.ParseUint(s[idx+1:idx+4], 8, 8)
			if err == nil {
				builder.WriteByte(byte(value))

				idx += 3

				continue
			}
		}

		builder.WriteByte(s[idx])
	}

	return builder.String()
}

// ReadMountInfo reads the mount table of the current process.
func ReadMountInfo() ([]Info, error) {
	file, err := os.Open(MountInfoPath)
	if err != nil {
		return nil, fmt.Errorf("open mountinfo: %w", err)
	}
	defer file.Close()

	return ParseMountInfo(file)
}

// Source returns the source of the topmost mount at target. An empty string
// is returned if nothing is mounted there.
func Source(target string) (string, error) {
	infos, err := ReadMountInfo()
	if err != nil {
		return "", err
	}

	return sourceOf(infos, target), nil
}

func sourceOf(infos []Info, target string) string {
	target = filepath.Clean(target)

	var source string

	for _, info := range infos {
		if info.Target != target {
			continue
		}

		source = info.Source
		if info.Root != "/" {
			source += "[" + info.Root + "]"
		}
	}

	return source
}

// IsMounted reports whether anything is mounted at target.
func IsMounted(target string) (bool, error) {
	source, err := Source(target)
	if err != nil {
		return false, err
	}

	return source != "", nil
}

// Below returns all mount targets at or below the given directory.
func Below(dir string) ([]string, error) {
	infos, err := ReadMountInfo()
	if err != nil {
		return nil, err
	}

	return targetsBelow(infos, dir), nil
}

func targetsBelow(infos []Info, dir string) []string {
	dir = filepath.Clean(dir)

	var targets []string

	for _, info := range infos {
		if info.Target == dir || strings.HasPrefix(info.Target, dir+"/") {
			targets = append(targets, info.Target)
		}
	}

	return targets
}
