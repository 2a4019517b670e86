// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Commitver - Commitver assigns every commit of a repository a monotonically evolving decimal version and keeps an append-only ledger of those assignments.

Copyright (C) 2025  Bartek Kus

This program is free software licensed under the terms of the GNU AGPL v3 or later.

See https://www.gnu.org/licenses/ for license details.

*/

// Package classifier decides which bump tier a commit deserves.
//
// Explicit message tags always win. When a message carries none, an external
// chat-completion model is consulted, and any failure there degrades to the
// tiny tier.
package classifier

import (
	"regexp"
	"strings"

	"github.com/bartekus/commitver/internal/version"
)

var skipMarker = regexp.MustCompile(`(?i)(?:!skip\b|\[skip version\])`)

// family is one priority level of message tags.
type family struct {
	tier     version.Tier
	tag      *regexp.Regexp
	prefixes []string
}

// families is ordered by priority; the first family that matches anywhere in
// the message decides, regardless of where in the text it occurs.
var families = []family{
	{
		tier: version.TierMajor,
		tag:  regexp.MustCompile(`(?i:!(?:major|breaking)\b)|(?m:^BREAKING[ -]CHANGE:)`),
	},
	{
		tier:     version.TierRefactor,
		tag:      regexp.MustCompile(`(?i)!(?:refactor|perf)\b`),
		prefixes: []string{"refactor", "perf"},
	},
	{
		tier:     version.TierFeat,
		tag:      regexp.MustCompile(`(?i)!(?:feat|feature|add)\b`),
		prefixes: []string{"feat", "feature"},
	},
	{
		tier:     version.TierMinor,
		tag:      regexp.MustCompile(`(?i)!(?:minor|tweak)\b`),
		prefixes: []string{"minor", "tweak", "style"},
	},
	{
		tier:     version.TierFix,
		tag:      regexp.MustCompile(`(?i)!(?:fix|bug)\b`),
		prefixes: []string{"fix", "bugfix", "hotfix"},
	},
	{
		tier:     version.TierTiny,
		tag:      regexp.MustCompile(`(?i)!(?:docs|chore|tiny)\b`),
		prefixes: []string{"docs", "chore", "test", "ci", "build"},
	},
}

// conventional matches a conventional-commit subject: type(scope)!: text.
var conventional = regexp.MustCompile(`^([A-Za-z]+)(?:\([^)]*\))?(!)?:\s`)

// IsSkip reports whether the message opts out of versioning.
func IsSkip(message string) bool {
	return skipMarker.MatchString(message)
}

// MatchKeyword returns the tier selected by message tags, or false when the
// message carries none. Skip markers are not considered here.
func MatchKeyword(message string) (version.Tier, bool) {
	subjectType, breaking := conventionalType(message)
	if breaking {
		return version.TierMajor, true
	}
	for _, f := range families {
		if f.tag.MatchString(message) {
			return f.tier, true
		}
		for _, p := range f.prefixes {
			if subjectType == p {
				return f.tier, true
			}
		}
	}
	return "", false
}

// conventionalType extracts the lower-cased type of a conventional-commit
// subject line and whether it carries the breaking "!" suffix.
func conventionalType(message string) (string, bool) {
	subject, _, _ := strings.Cut(strings.TrimSpace(message), "\n")
	m := conventional.FindStringSubmatch(strings.TrimSpace(subject))
	if m == nil {
		return "", false
	}
	return strings.ToLower(m[1]), m[2] == "!"
}
