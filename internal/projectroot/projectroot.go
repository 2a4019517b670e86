// SPDX-License-Identifier: AGPL-3.0-or-later

// Package projectroot locates the directory a commitver invocation belongs to.
package projectroot

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ConfigFile is the name of the configuration file searched for.
const ConfigFile = "commitver.yaml"

// ErrNotFound is returned when no marker exists between start and the
// filesystem root.
var ErrNotFound = errors.New("project root not found")

// markers are checked in order in every directory while walking up.
var markers = []string{ConfigFile, ".commitver", ".git"}

// Find walks up from start and returns the first directory that contains
// a commitver.yaml, a .commitver directory or a .git entry.
func Find(start string) (string, error) {
	dir, err := filepath.Abs(start)
	if err != nil {
		return "", fmt.Errorf("resolving %s: %w", start, err)
	}
	for {
		for _, m := range markers {
			if _, err := os.Stat(filepath.Join(dir, m)); err == nil {
				return dir, nil
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("%w from %s", ErrNotFound, start)
		}
		dir = parent
	}
}

// FindConfig walks up from start and returns the path of the nearest
// commitver.yaml, or ErrNotFound.
func FindConfig(start string) (string, error) {
	dir, err := filepath.Abs(start)
	if err != nil {
		return "", fmt.Errorf("resolving %s: %w", start, err)
	}
	for {
		p := filepath.Join(dir, ConfigFile)
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", ErrNotFound
		}
		dir = parent
	}
}
