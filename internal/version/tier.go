// SPDX-License-Identifier: AGPL-3.0-or-later

package version

import (
	"fmt"
	"strings"
)

// Tier selects which digit a bump advances.
type Tier string

const (
	TierSkip     Tier = "skip"
	TierMajor    Tier = "major"
	TierRefactor Tier = "refactor"
	TierFeat     Tier = "feat"
	TierMinor    Tier = "minor"
	TierFix      Tier = "fix"
	TierTiny     Tier = "tiny"
)

// Tiers lists the six bump tiers from most to least significant.
// TierSkip is a sentinel and is not part of the list.
var Tiers = []Tier{TierMajor, TierRefactor, TierFeat, TierMinor, TierFix, TierTiny}

// digitIndex maps the carrying tiers to the digit they advance.
var digitIndex = map[Tier]int{
	TierRefactor: 0,
	TierFeat:     1,
	TierMinor:    2,
	TierFix:      3,
	TierTiny:     4,
}

// ParseTier accepts one of the six tier names or "skip", case-insensitively.
func ParseTier(s string) (Tier, error) {
	t := Tier(strings.ToLower(strings.TrimSpace(s)))
	if t == TierSkip {
		return t, nil
	}
	for _, known := range Tiers {
		if t == known {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown tier %q", s)
}

// Valid reports whether t is one of the six bump tiers (skip excluded).
func (t Tier) Valid() bool {
	_, ok := digitIndex[t]
	return ok || t == TierMajor
}

// Bump returns v advanced by tier t.
//
// feat never carries: once digit 1 is 9 the bump is a no-op. Every other
// fractional tier floors the version to its own precision first and then
// increments its digit, carrying leftwards into major when digit 0 overflows.
// Unknown tiers leave v unchanged.
func Bump(v Version, t Tier) Version {
	switch t {
	case TierMajor:
		return MajorFloor(v.major + 1)
	case TierFeat:
		if v.digits[1] >= 9 {
			return v
		}
		v.digits[1]++
		v.precision = max(v.Precision(), 2)
		return v
	}

	idx, ok := digitIndex[t]
	if !ok {
		return v
	}
	return v.floor(idx + 1).carry(idx)
}

// floor clears every digit at index >= p and sets the precision to p.
func (v Version) floor(p int) Version {
	for i := p; i < Width; i++ {
		v.digits[i] = 0
	}
	v.precision = clampPrecision(p)
	return v
}

// carry increments digit idx and propagates overflow to the left.
func (v Version) carry(idx int) Version {
	i := idx
	v.digits[i]++
	for v.digits[i] > 9 {
		v.digits[i] = 0
		i--
		if i < 0 {
			return MajorFloor(v.major + 1)
		}
		v.digits[i]++
	}
	return v
}
