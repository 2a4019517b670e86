// SPDX-License-Identifier: AGPL-3.0-or-later

package classifier

import (
	"fmt"
	"path"
	"strings"

	"github.com/sourcegraph/go-diff/diff"
)

// PruneOptions selects which changed files are dropped from a diff before it
// is shown to the model.
type PruneOptions struct {
	// ExcludeDirs matches whole path segments: "vendor" drops "vendor/x" and
	// "pkg/vendor/y" but keeps "vendor_stuff/z".
	ExcludeDirs []string
	// ExcludeFiles matches base names exactly.
	ExcludeFiles []string
	// ExcludeSuffixes matches the end of the base name.
	ExcludeSuffixes []string
}

// DefaultPruneOptions drops generated and third-party content.
func DefaultPruneOptions() PruneOptions {
	return PruneOptions{
		ExcludeDirs: []string{"node_modules", "vendor", "dist", "build", "third_party", ".git"},
		ExcludeFiles: []string{
			"go.sum", "package-lock.json", "yarn.lock", "pnpm-lock.yaml",
			"Cargo.lock", "poetry.lock", "composer.lock", "Gemfile.lock",
		},
		ExcludeSuffixes: []string{".min.js", ".min.css", ".map", ".pb.go"},
	}
}

// DiffStat summarises a diff.
type DiffStat struct {
	Files   int
	Added   int
	Deleted int
	Pruned  int
}

func (s DiffStat) String() string {
	line := fmt.Sprintf("+%d/-%d across %d files", s.Added, s.Deleted, s.Files)
	if s.Pruned > 0 {
		line += fmt.Sprintf(" (%d generated or vendored files omitted)", s.Pruned)
	}
	return line
}

// PruneDiff removes excluded files from a unified diff and returns what is
// left together with statistics over the kept files. A diff that cannot be
// parsed is returned unchanged with ok=false.
func PruneDiff(raw string, opts PruneOptions) (pruned string, stat DiffStat, ok bool) {
	if !strings.HasPrefix(raw, "diff ") && !strings.HasPrefix(raw, "--- ") {
		return raw, DiffStat{}, false
	}
	fds, err := diff.NewMultiFileDiffReader(strings.NewReader(raw)).ReadAllFiles()
	if err != nil || len(fds) == 0 {
		return raw, DiffStat{}, false
	}

	kept := make([]*diff.FileDiff, 0, len(fds))
	for _, fd := range fds {
		if opts.excluded(fileName(fd)) {
			stat.Pruned++
			continue
		}
		s := fd.Stat()
		stat.Files++
		stat.Added += int(s.Added + s.Changed)
		stat.Deleted += int(s.Deleted + s.Changed)
		kept = append(kept, fd)
	}
	if len(kept) == 0 {
		return "", stat, true
	}

	out, err := diff.PrintMultiFileDiff(kept)
	if err != nil {
		return raw, stat, false
	}
	return string(out), stat, true
}

// fileName returns the repository-relative path a file diff touches,
// preferring the new name unless the file was deleted.
func fileName(fd *diff.FileDiff) string {
	name := fd.NewName
	if name == "" || name == "/dev/null" {
		name = fd.OrigName
	}
	for _, prefix := range []string{"a/", "b/"} {
		if strings.HasPrefix(name, prefix) {
			return strings.TrimPrefix(name, prefix)
		}
	}
	return name
}

func (o PruneOptions) excluded(p string) bool {
	for _, part := range strings.Split(p, "/") {
		for _, dir := range o.ExcludeDirs {
			if part == dir {
				return true
			}
		}
	}
	base := path.Base(p)
	for _, f := range o.ExcludeFiles {
		if base == f {
			return true
		}
	}
	for _, s := range o.ExcludeSuffixes {
		if strings.HasSuffix(base, s) {
			return true
		}
	}
	return false
}

// TruncateMiddle shortens s to at most limit bytes by keeping its head and
// tail and replacing the middle with a marker.
func TruncateMiddle(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	const marker = "\n[... diff truncated ...]\n"
	if limit <= len(marker) {
		return s[:limit]
	}
	room := limit - len(marker)
	head := room / 2
	tail := room - head
	return s[:head] + marker + s[len(s)-tail:]
}
