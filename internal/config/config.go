/*
 * selfie - Machine configuration, adapted from the S370 config file parser.
 *
 * Copyright 2024, Richard Cornwell
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in
 * all copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 */

// Package config resolves selfie's machine selection (spec.md §6): which
// emulation mode to run (mipster/dipster/ripster/monster/hypster/minster/
// mobster), how much physical memory to give it, and the output verbosity.
// cmd/selfie fills a Machine from getopt flags; LoadOverrides lets a batch
// harness supply defaults from a small key=value file instead of repeating
// a long flag line, in the same line-scanning style as S370's config file
// parser.
package config

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// Mode selects which machine runs the compiled binary.
type Mode int

const (
	ModeNone    Mode = iota
	ModeMipster      // -m: concrete interpreter.
	ModeDipster      // -d: concrete interpreter with disassembly trace.
	ModeRipster      // -r: concrete interpreter recording a reversible trace.
	ModeMonster      // -n: symbolic execution engine.
	ModeHypster      // -y: nested (guest-hosts-guest) execution.
	ModeMinster      // -min: pre-mapped (no page faults) concrete execution.
	ModeMobster      // -mob: host-paged concrete execution.
)

func (m Mode) String() string {
	switch m {
	case ModeMipster:
		return "mipster"
	case ModeDipster:
		return "dipster"
	case ModeRipster:
		return "ripster"
	case ModeMonster:
		return "monster"
	case ModeHypster:
		return "hypster"
	case ModeMinster:
		return "minster"
	case ModeMobster:
		return "mobster"
	default:
		return "none"
	}
}

// Machine is the resolved set of options controlling one emulation run.
type Machine struct {
	Mode       Mode
	MemoryMB   int
	Verbosity  int
	LogFile    string
	Interactive bool
}

// DefaultMachine returns 1 MB of memory with no machine mode selected
// (ModeNone); cmd/selfie runs a ModeNone machine concretely, as mipster.
func DefaultMachine() Machine {
	return Machine{Mode: ModeNone, MemoryMB: 1, Verbosity: 0}
}

// optionLine scans a single "key = value" or "key value" line, mirroring
// the byte-position scanner used by S370's configparser.optionLine.
type optionLine struct {
	line string
	pos  int
}

func (o *optionLine) isEOL() bool {
	return o.pos >= len(o.line)
}

func (o *optionLine) skipSpace() {
	for !o.isEOL() && (o.line[o.pos] == ' ' || o.line[o.pos] == '\t') {
		o.pos++
	}
}

func (o *optionLine) word() string {
	start := o.pos
	for !o.isEOL() && o.line[o.pos] != ' ' && o.line[o.pos] != '\t' &&
		o.line[o.pos] != '=' && o.line[o.pos] != '\n' && o.line[o.pos] != '\r' {
		o.pos++
	}
	return o.line[start:o.pos]
}

func (o *optionLine) parseKeyValue() (key, value string, ok bool) {
	o.skipSpace()
	if o.isEOL() || o.line[o.pos] == '#' {
		return "", "", false
	}
	key = o.word()
	o.skipSpace()
	if !o.isEOL() && o.line[o.pos] == '=' {
		o.pos++
	}
	o.skipSpace()
	start := o.pos
	for !o.isEOL() && o.line[o.pos] != '#' && o.line[o.pos] != '\n' && o.line[o.pos] != '\r' {
		o.pos++
	}
	value = strings.TrimSpace(o.line[start:o.pos])
	return key, value, key != ""
}

// LoadOverrides reads "mode = monster", "memory = 4", "verbosity = 2" and
// "log = path" lines (blank lines and '#' comments ignored) and applies
// them on top of m.
func LoadOverrides(m *Machine, name string) error {
	file, err := os.Open(name)
	if err != nil {
		return err
	}
	defer file.Close()

	reader := bufio.NewReader(file)
	lineNumber := 0
	for {
		line, readErr := reader.ReadString('\n')
		lineNumber++
		if len(line) == 0 && readErr != nil {
			if errors.Is(readErr, io.EOF) {
				break
			}
			return readErr
		}

		ol := optionLine{line: line}
		key, value, ok := ol.parseKeyValue()
		if !ok {
			continue
		}
		if err := applyOverride(m, strings.ToLower(key), value); err != nil {
			return fmt.Errorf("line %d: %w", lineNumber, err)
		}
	}
	return nil
}

func applyOverride(m *Machine, key, value string) error {
	switch key {
	case "mode":
		mode, err := ParseMode(value)
		if err != nil {
			return err
		}
		m.Mode = mode
	case "memory":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid memory value %q: %w", value, err)
		}
		m.MemoryMB = n
	case "verbosity":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid verbosity value %q: %w", value, err)
		}
		m.Verbosity = n
	case "log":
		m.LogFile = value
	case "interactive":
		m.Interactive = value == "1" || strings.EqualFold(value, "true")
	default:
		return fmt.Errorf("unknown configuration key %q", key)
	}
	return nil
}

// ParseMode maps a flag name (m, d, r, n, y, min, mob) or its long form to
// a Mode.
func ParseMode(name string) (Mode, error) {
	switch strings.ToLower(name) {
	case "m", "mipster":
		return ModeMipster, nil
	case "d", "dipster":
		return ModeDipster, nil
	case "r", "ripster":
		return ModeRipster, nil
	case "n", "monster":
		return ModeMonster, nil
	case "y", "hypster":
		return ModeHypster, nil
	case "min", "minster":
		return ModeMinster, nil
	case "mob", "mobster":
		return ModeMobster, nil
	default:
		return ModeNone, fmt.Errorf("unknown machine mode %q", name)
	}
}
