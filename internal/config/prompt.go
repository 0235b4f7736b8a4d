// SPDX-FileCopyrightText: 2024 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package config

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"strings"

	"golang.org/x/term"
)

// Prompter asks questions on a line based terminal.
type Prompter struct {
	in  *bufio.Reader
	fd  int
	out io.Writer
}

// NewPrompter creates a [Prompter]. If in is a terminal, passwords are read
// without echo.
func NewPrompter(in io.Reader, out io.Writer) *Prompter {
	prompter := &Prompter{
		in:  bufio.NewReader(in),
		fd:  -1,
		out: out,
	}

	if file, ok := in.(*os.File); ok && term.IsTerminal(int(file.Fd())) {
		prompter.fd = int(file.Fd())
	}

	return prompter
}

// Ask prints the question and returns the answer, or def if the answer is
// empty.
func (p *Prompter) Ask(question, def string) (string, error) {
	if def != "" {
		fmt.Fprintf(p.out, "%s [%s]: ", question, def)
	} else {
		fmt.Fprintf(p.out, "%s: ", question)
	}

	line, err := p.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("read answer: %w", err)
	}

	answer := strings.TrimSpace(line)
	if answer == "" {
		return def, nil
	}

	return answer, nil
}

// Confirm asks a yes/no question.
func (p *Prompter) Confirm(question string, def bool) (bool, error) {
	hint := "y/N"
	if def {
		hint = "Y/n"
	}

	for {
		answer, err := p.Ask(question+" ("+hint+")", "")
		if err != nil {
			return false, err
		}

		if answer == "" {
			return def, nil
		}

		value, err := ParseBool(answer)
		if err == nil {
			return value, nil
		}

		fmt.Fprintln(p.out, "Please answer yes or no.")
	}
}

// Password reads a secret. On terminals the input is not echoed.
func (p *Prompter) Password(question string) (string, error) {
	if p.fd < 0 {
		return p.Ask(question, "")
	}

	fmt.Fprintf(p.out, "%s: ", question)

	secret, err := term.ReadPassword(p.fd)
	fmt.Fprintln(p.out)

	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}

	return string(secret), nil
}

// FormatValue renders a value returned by [Get] the way it is entered.
func FormatValue(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case []any:
		elems := make([]string, len(v))
		for idx, elem := range v {
			elems[idx] = fmt.Sprint(elem)
		}

		return strings.Join(elems, ",")
	default:
		return fmt.Sprint(v)
	}
}

// PromptSections asks for every key of the given sections and applies the
// answers to cfg. The profiles section is skipped, use [PromptProfile].
func PromptSections(p *Prompter, cfg *Config, sections []string) error {
	tree, err := toTree(*cfg)
	if err != nil {
		return err
	}

	for _, section := range sections {
		if section == "profiles" {
			continue
		}

		table, ok := tree[section].(map[string]any)
		if !ok {
			return &KeyError{Name: section, Key: section}
		}

		for _, key := range slices.Sorted(maps.Keys(table)) {
			name := section + "." + key

			err := promptKey(p, cfg, name, FormatValue(table[key]))
			if err != nil {
				return err
			}
		}
	}

	return nil
}

func promptKey(p *Prompter, cfg *Config, name, def string) error {
	for {
		answer, err := p.Ask(name, def)
		if err != nil {
			return err
		}

		if answer == "" {
			return nil
		}

		err = Set(cfg, name, answer)
		if err == nil {
			return nil
		}

		if !errors.Is(err, ErrInvalidValue) {
			return err
		}

		fmt.Fprintln(p.out, err.Error())
	}
}

// PromptProfile asks for all keys of the named profile. Offered choices for
// device and flavour are printed as hint if given.
func PromptProfile(
	p *Prompter,
	cfg *Config,
	name string,
	devices, flavours []string,
) error {
	for _, key := range ProfileKeys {
		dotName := "profiles." + name + "." + key

		current, err := Get(*cfg, dotName)
		if err != nil {
			return err
		}

		switch key {
		case "device":
			printChoices(p.out, "devices", devices)
		case "flavour":
			printChoices(p.out, "flavours", flavours)
		case "password":
			secret, err := p.Password(dotName + " (leave empty to set on first login)")
			if err != nil {
				return err
			}

			if secret != "" {
				err = Set(cfg, dotName, secret)
				if err != nil {
					return err
				}
			}

			continue
		}

		err = promptKey(p, cfg, dotName, FormatValue(current))
		if err != nil {
			return err
		}
	}

	return nil
}

func printChoices(out io.Writer, what string, choices []string) {
	if len(choices) == 0 {
		return
	}

	fmt.Fprintf(out, "Available %s: %s\n", what, strings.Join(choices, ", "))
}
