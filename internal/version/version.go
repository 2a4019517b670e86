// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Commitver - Commitver assigns every commit of a repository a monotonically evolving decimal version and keeps an append-only ledger of those assignments.

Copyright (C) 2025  Bartek Kus

This program is free software licensed under the terms of the GNU AGPL v3 or later.

See https://www.gnu.org/licenses/ for license details.

*/

// Package version implements the decimal version algebra used by the ledger.
//
// A version is an unsigned major number followed by five fractional digits.
// Only the first Precision digits are rendered, but all five are retained so a
// finer-grained bump can pick up where a coarser one left off.
//
// Every function in this package is total: malformed input degrades to 0.0.
package version

import (
	"regexp"
	"strconv"
	"strings"
)

// Width is the number of fractional digits a version carries.
const Width = 5

// Version is a decimal version value. The zero value renders as "0.0".
type Version struct {
	major     uint64
	digits    [Width]uint8
	precision int
}

var pattern = regexp.MustCompile(`^(\d+)(?:\.(\d+))?$`)

// New builds a version, clamping every digit to [0,9] and precision to [1,Width].
func New(major uint64, precision int, digits ...int) Version {
	v := Version{major: major, precision: clampPrecision(precision)}
	for i := 0; i < Width && i < len(digits); i++ {
		v.digits[i] = clampDigit(digits[i])
	}
	return v
}

// Parse reads "<uint>" or "<uint>.<digits>". Anything else yields 0.0.
func Parse(text string) Version {
	m := pattern.FindStringSubmatch(strings.TrimSpace(text))
	if m == nil {
		return Version{precision: 1}
	}
	major, err := strconv.ParseUint(m[1], 10, 64)
	if err != nil {
		return Version{precision: 1}
	}

	v := Version{major: major, precision: 1}
	frac := m[2]
	for i := 0; i < Width && i < len(frac); i++ {
		v.digits[i] = frac[i] - '0'
	}
	if len(frac) > 1 {
		v.precision = clampPrecision(len(frac))
	}
	return v
}

// MajorFloor returns n.0 with every fractional digit cleared.
func MajorFloor(n uint64) Version {
	return Version{major: n, precision: 1}
}

// Major returns the integer part.
func (v Version) Major() uint64 { return v.major }

// Digit returns the fractional digit at index i, or 0 when i is out of range.
func (v Version) Digit(i int) int {
	if i < 0 || i >= Width {
		return 0
	}
	return int(v.digits[i])
}

// Digits returns a copy of all five fractional digits.
func (v Version) Digits() [Width]int {
	var out [Width]int
	for i, d := range v.digits {
		out[i] = int(d)
	}
	return out
}

// Precision returns how many fractional digits are rendered.
func (v Version) Precision() int { return clampPrecision(v.precision) }

// String renders "{major}.{first precision digits}".
func (v Version) String() string {
	var b strings.Builder
	b.WriteString(strconv.FormatUint(v.major, 10))
	b.WriteByte('.')
	for i := 0; i < v.Precision(); i++ {
		b.WriteByte('0' + v.digits[i])
	}
	return b.String()
}

// MarshalText implements encoding.TextMarshaler.
func (v Version) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. It never fails.
func (v *Version) UnmarshalText(text []byte) error {
	*v = Parse(string(text))
	return nil
}

// Compare orders versions by major and then by all five digits.
// Precision does not participate.
func Compare(a, b Version) int {
	switch {
	case a.major < b.major:
		return -1
	case a.major > b.major:
		return 1
	}
	for i := 0; i < Width; i++ {
		switch {
		case a.digits[i] < b.digits[i]:
			return -1
		case a.digits[i] > b.digits[i]:
			return 1
		}
	}
	return 0
}

// Equal reports whether a and b render identically and hold the same digits.
func Equal(a, b Version) bool {
	return Compare(a, b) == 0 && a.Precision() == b.Precision()
}

func clampDigit(d int) uint8 {
	switch {
	case d < 0:
		return 0
	case d > 9:
		return 9
	}
	return uint8(d)
}

func clampPrecision(p int) int {
	switch {
	case p < 1:
		return 1
	case p > Width:
		return Width
	}
	return p
}
