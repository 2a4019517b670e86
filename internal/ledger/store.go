// SPDX-License-Identifier: AGPL-3.0-or-later

package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/bartekus/commitver/internal/projection"
)

// StampLayout is the UTC timestamp prefix of every ledger filename. It sorts
// lexicographically in time order.
const StampLayout = "20060102T150405Z"

var (
	// ErrCorruptLedger is returned when the newest ledger file of a
	// repository cannot be decoded or carries no usable commits.
	ErrCorruptLedger = errors.New("ledger file is corrupt")
	// ErrAlreadySummarized is returned by MarkSummarized on a second call.
	ErrAlreadySummarized = errors.New("ledger file already marked as summarized")
	// ErrExists is returned when a ledger file with the same name exists.
	ErrExists = projection.ErrExists
)

var filePattern = regexp.MustCompile(`^(\d{8}T\d{6}Z)_([A-Za-z0-9_.-]+)\.json$`)

var slugUnsafe = regexp.MustCompile(`[^A-Za-z0-9_.-]`)

// Slug turns "owner/name" into the filename-safe "owner__name".
func Slug(repo string) string {
	return slugUnsafe.ReplaceAllString(strings.ReplaceAll(repo, "/", "__"), "-")
}

// FileName returns the ledger filename for repo at stamp.
func FileName(repo string, stamp time.Time) string {
	return stamp.UTC().Format(StampLayout) + "_" + Slug(repo) + ".json"
}

// ParseFileName splits a ledger filename into its stamp and repository slug.
func ParseFileName(name string) (time.Time, string, bool) {
	m := filePattern.FindStringSubmatch(filepath.Base(name))
	if m == nil {
		return time.Time{}, "", false
	}
	stamp, err := time.Parse(StampLayout, m[1])
	if err != nil {
		return time.Time{}, "", false
	}
	return stamp, m[2], true
}

// Entry is a decoded ledger file.
type Entry struct {
	Filename string
	Stamp    time.Time
	History  RepoHistory
}

// Store reads and writes ledger files in one directory.
type Store struct {
	dir string
}

// NewStore returns a store rooted at dir. The directory is created lazily.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Dir returns the ledger directory.
func (s *Store) Dir() string { return s.dir }

// List returns the ledger filenames of repo in ascending stamp order.
func (s *Store) List(repo string) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading ledger directory: %w", err)
	}

	slug := Slug(repo)
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if _, s, ok := ParseFileName(e.Name()); ok && s == slug {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Read decodes one ledger file by name.
func (s *Store) Read(filename string) (RepoHistory, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, filepath.Base(filename)))
	if err != nil {
		return RepoHistory{}, fmt.Errorf("reading ledger file: %w", err)
	}
	var h RepoHistory
	if err := json.Unmarshal(data, &h); err != nil {
		return RepoHistory{}, fmt.Errorf("%w: %s: %v", ErrCorruptLedger, filename, err)
	}
	return h, nil
}

// FindLatest returns the newest ledger file of repo, or nil when there is
// none. A newest file that does not decode into a history with at least one
// commit yields ErrCorruptLedger; older files are never consulted instead.
func (s *Store) FindLatest(repo string) (*Entry, error) {
	names, err := s.List(repo)
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, nil
	}

	name := names[len(names)-1]
	stamp, _, _ := ParseFileName(name)
	h, err := s.Read(name)
	if err != nil {
		return &Entry{Filename: name, Stamp: stamp}, err
	}
	if err := validate(h, repo); err != nil {
		return &Entry{Filename: name, Stamp: stamp}, fmt.Errorf("%w: %s: %v", ErrCorruptLedger, name, err)
	}
	return &Entry{Filename: name, Stamp: stamp, History: h}, nil
}

// LoadAll decodes every ledger file of repo, oldest first.
func (s *Store) LoadAll(repo string) ([]Entry, error) {
	names, err := s.List(repo)
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(names))
	for _, name := range names {
		h, err := s.Read(name)
		if err != nil {
			return nil, err
		}
		stamp, _, _ := ParseFileName(name)
		out = append(out, Entry{Filename: name, Stamp: stamp, History: h})
	}
	return out, nil
}

func validate(h RepoHistory, repo string) error {
	if h.Repo != repo {
		return fmt.Errorf("file belongs to %q", h.Repo)
	}
	if len(h.Commits) == 0 {
		return errors.New("no commits")
	}
	for i, c := range h.Commits {
		if c.SHA == "" {
			return fmt.Errorf("commit %d has no sha", i)
		}
	}
	return nil
}

// Write stores h as a new file stamped at stamp and returns its name. An
// existing file is never replaced.
func (s *Store) Write(h RepoHistory, stamp time.Time) (string, error) {
	if len(h.Commits) == 0 {
		return "", errors.New("refusing to write a ledger file without commits")
	}
	data, err := json.MarshalIndent(h, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding ledger: %w", err)
	}
	name := FileName(h.Repo, stamp)
	if err := projection.WriteNew(filepath.Join(s.dir, name), append(data, '\n')); err != nil {
		return "", err
	}
	return name, nil
}

// MarkSummarized sets the one-time summarized flag on a ledger file. This
// is the only mutation a ledger file ever receives.
func (s *Store) MarkSummarized(filename string) error {
	name := filepath.Base(filename)
	if _, _, ok := ParseFileName(name); !ok {
		return fmt.Errorf("%q is not a ledger filename", filename)
	}
	h, err := s.Read(name)
	if err != nil {
		return err
	}
	if h.Summarized {
		return fmt.Errorf("%w: %s", ErrAlreadySummarized, name)
	}
	h.Summarized = true

	data, err := json.MarshalIndent(h, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding ledger: %w", err)
	}
	return projection.AtomicWrite(filepath.Join(s.dir, name), append(data, '\n'))
}

// Archive moves every ledger file of repo into archive/<stamp>/ under the
// ledger directory and returns the archive path and the number of files.
func (s *Store) Archive(repo string, stamp time.Time) (string, int, error) {
	names, err := s.List(repo)
	if err != nil {
		return "", 0, err
	}
	if len(names) == 0 {
		return "", 0, nil
	}

	dest := filepath.Join(s.dir, "archive", stamp.UTC().Format(StampLayout)+"_"+Slug(repo))
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return "", 0, fmt.Errorf("creating archive directory: %w", err)
	}
	for i, name := range names {
		if err := os.Rename(filepath.Join(s.dir, name), filepath.Join(dest, name)); err != nil {
			return dest, i, fmt.Errorf("archiving %s: %w", name, err)
		}
	}
	return dest, len(names), nil
}
