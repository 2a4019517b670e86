// SPDX-License-Identifier: AGPL-3.0-or-later

package classifier

import (
	"regexp"
	"strings"

	"github.com/bartekus/commitver/internal/version"
)

// DirectiveKind distinguishes the version overrides a message can carry.
type DirectiveKind int

const (
	// DirectiveNone means the message does not override the version.
	DirectiveNone DirectiveKind = iota
	// DirectiveSet pins the version to an explicit value.
	DirectiveSet
	// DirectiveSync resets the version to the major read from the marker file.
	DirectiveSync
)

func (k DirectiveKind) String() string {
	switch k {
	case DirectiveSet:
		return "set"
	case DirectiveSync:
		return "sync"
	default:
		return "none"
	}
}

// Directive is a parsed "!version" override.
type Directive struct {
	Kind    DirectiveKind
	Version version.Version
}

var directivePattern = regexp.MustCompile(`(?i)!version\s+(sync|\d+(?:\.\d+)?)\b`)

// ParseDirective looks for "!version <x.y>" or "!version sync" in message.
// The first occurrence wins.
func ParseDirective(message string) Directive {
	m := directivePattern.FindStringSubmatch(message)
	if m == nil {
		return Directive{}
	}
	if strings.EqualFold(m[1], "sync") {
		return Directive{Kind: DirectiveSync}
	}
	return Directive{Kind: DirectiveSet, Version: version.Parse(m[1])}
}
