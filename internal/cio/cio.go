/*
 * selfie - Buffered character I/O, adapted from the S370 card reader's
 * byte-buffered file handling.
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

// Package cio provides the scanner's buffered byte source and the
// integer<->ASCII helpers the parser needs for literals and diagnostics
// (spec.md §4.1 component B).
package cio

import (
	"bufio"
	"io"
	"strconv"
)

const EOF = -1

// Source is a one-byte-lookahead buffered reader over a host file, the way
// the scanner consumes source text.
type Source struct {
	r    *bufio.Reader
	Line int
}

// NewSource wraps r for byte-at-a-time scanning, starting at line 1.
func NewSource(r io.Reader) *Source {
	return &Source{r: bufio.NewReader(r), Line: 1}
}

// NextChar returns the next byte as an int, or EOF at end of stream.
// Tracks line number on line feed, matching the scanner's "character read"
// contract.
func (s *Source) NextChar() int {
	b, err := s.r.ReadByte()
	if err != nil {
		return EOF
	}
	if b == '\n' {
		s.Line++
	}
	return int(b)
}

// Sink is the buffered byte writer used for guest stdout/stderr emulation
// and for textual tool output (disassembly, diagnostics).
type Sink struct {
	w *bufio.Writer
}

func NewSink(w io.Writer) *Sink {
	return &Sink{w: bufio.NewWriter(w)}
}

func (s *Sink) WriteByte(b byte) error {
	return s.w.WriteByte(b)
}

func (s *Sink) WriteString(str string) (int, error) {
	return s.w.WriteString(str)
}

func (s *Sink) Flush() error {
	return s.w.Flush()
}

// IntegerToString renders an unsigned 64-bit value in decimal, matching the
// scanner/parser's own itoa used for diagnostics and for printing the
// guest's numeric literals back out during disassembly.
func IntegerToString(v uint64) string {
	return strconv.FormatUint(v, 10)
}

// SignedIntegerToString renders v as a signed decimal, used by the
// compiler's integer-literal diagnostics ("value %d too large").
func SignedIntegerToString(v int64) string {
	return strconv.FormatInt(v, 10)
}

// StringToInteger parses an unsigned decimal literal, returning ok=false on
// malformed input (the scanner itself bounds digit count before calling
// this; this is the final numeric conversion step).
func StringToInteger(s string) (uint64, bool) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// IsLetter reports whether c is an ASCII letter, as used by the scanner's
// identifier-start test.
func IsLetter(c int) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

// IsDigit reports whether c is an ASCII decimal digit.
func IsDigit(c int) bool {
	return c >= '0' && c <= '9'
}

// IsLetterOrDigitOrUnderscore reports whether c may continue an identifier.
func IsLetterOrDigitOrUnderscore(c int) bool {
	return IsLetter(c) || IsDigit(c) || c == '_'
}
