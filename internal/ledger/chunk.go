// SPDX-License-Identifier: AGPL-3.0-or-later

package ledger

import (
	"time"
)

// ChunkWriter buffers replayed commits and writes them in files of at most
// size commits. Flush stamps come from the last commit of each chunk and
// are pushed forward one second at a time until they are strictly after the
// previous flush, so many commits sharing a date still yield ordered,
// distinct filenames.
type ChunkWriter struct {
	store  *Store
	tmpl   RepoHistory
	size   int
	now    func() time.Time
	buf    []CommitRecord
	prev   time.Time
	files  []string
	onDone func(name string)
}

// NewChunkWriter returns a writer for repo. tmpl supplies the repo, branch
// and run id of every file. Stamps are kept strictly after `after`.
func (s *Store) NewChunkWriter(tmpl RepoHistory, size int, after time.Time) *ChunkWriter {
	if size <= 0 {
		size = 200
	}
	return &ChunkWriter{
		store: s,
		tmpl:  tmpl,
		size:  size,
		now:   time.Now,
		prev:  after.UTC().Truncate(time.Second),
	}
}

// SetClock replaces the clock used for CreatedAt.
func (w *ChunkWriter) SetClock(now func() time.Time) { w.now = now }

// OnFlush registers a callback invoked with every written filename.
func (w *ChunkWriter) OnFlush(fn func(name string)) { w.onDone = fn }

// Add buffers rec and flushes when the chunk is full. It returns the name
// of the written file, or "" when nothing was flushed.
func (w *ChunkWriter) Add(rec CommitRecord) (string, error) {
	w.buf = append(w.buf, rec)
	if len(w.buf) < w.size {
		return "", nil
	}
	return w.Flush()
}

// Flush writes the buffered commits, if any.
func (w *ChunkWriter) Flush() (string, error) {
	if len(w.buf) == 0 {
		return "", nil
	}

	stamp := NextStamp(w.buf[len(w.buf)-1].AuthoredDate, w.prev)

	h := w.tmpl
	h.CreatedAt = w.now().UTC()
	h.Summarized = false
	h.Commits = w.buf

	name, err := w.store.Write(h, stamp)
	if err != nil {
		return "", err
	}
	w.prev = stamp
	w.buf = nil
	w.files = append(w.files, name)
	if w.onDone != nil {
		w.onDone(name)
	}
	return name, nil
}

// Pending returns the number of buffered, unwritten commits.
func (w *ChunkWriter) Pending() int { return len(w.buf) }

// Files returns the names written so far.
func (w *ChunkWriter) Files() []string { return w.files }

// NextStamp returns want truncated to whole seconds, advanced in one-second
// steps until it is strictly after prev. Both are whole seconds, so the
// stepping always lands on prev+1s.
func NextStamp(want, prev time.Time) time.Time {
	stamp := want.UTC().Truncate(time.Second)
	prev = prev.UTC().Truncate(time.Second)
	if !stamp.After(prev) {
		stamp = prev.Add(time.Second)
	}
	return stamp
}
