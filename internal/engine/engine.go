// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Commitver - Commitver assigns every commit of a repository a monotonically evolving decimal version and keeps an append-only ledger of those assignments.

Copyright (C) 2025  Bartek Kus

This program is free software licensed under the terms of the GNU AGPL v3 or later.

See https://www.gnu.org/licenses/ for license details.

*/

// Package engine drives version assignment for one repository at a time.
//
// A Tracker appends the commits that arrived since the last ledger file; a
// Replayer rebuilds the whole ledger from the first commit. Both apply the
// same per-commit step, strictly in chronological order.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/bartekus/commitver/internal/classifier"
	"github.com/bartekus/commitver/internal/ledger"
	"github.com/bartekus/commitver/internal/source"
	"github.com/bartekus/commitver/internal/telemetry"
	"github.com/bartekus/commitver/internal/version"
)

var (
	// ErrCheckpointNotFound means the last recorded commit is absent from a
	// non-empty fetch window, typically after a force-push upstream.
	ErrCheckpointNotFound = errors.New("checkpoint commit not found in fetched history")
	// ErrLedgerExists means a replay was asked to run over existing files.
	ErrLedgerExists = errors.New("ledger files already exist for repository")
)

// Decided-by values the engine adds on top of the classifier's.
const (
	DecidedByDirective = "directive"
	DecidedByMarker    = "marker"
)

// CommitSource is the host adapter the engine reads from.
type CommitSource interface {
	ListCommitsSince(ctx context.Context, repo source.Repo, branch string, since time.Time, stopSHA string) (source.Window, error)
	ListAllCommits(ctx context.Context, repo source.Repo, branch string) (source.Window, error)
	FetchDiff(ctx context.Context, repo source.Repo, sha string) string
	FetchVersionMarker(ctx context.Context, repo source.Repo, sha string, marker source.Marker, fallback uint64) uint64
}

// TierDecider chooses a bump tier for one commit.
type TierDecider interface {
	Decide(ctx context.Context, message, diff string) classifier.Decision
}

// Target is one repository to version.
type Target struct {
	Repo           source.Repo
	Branch         string
	Marker         source.Marker
	InitialVersion version.Version
}

// Result summarises one engine run.
type Result struct {
	Repo      string
	Mode      string
	RunID     string
	Files     []string
	Commits   int
	From      version.Version
	To        version.Version
	StopFound bool
	Truncated bool
	FetchErr  error
	Archived  string
}

// Option customises the shared engine plumbing.
type Option func(*base)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *base) { b.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(b *base) { b.metrics = m }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(b *base) { b.now = now }
}

// WithStoredDiffChars bounds the diff text kept on each ledger record.
// Zero or a negative value drops diffs from the ledger entirely.
func WithStoredDiffChars(n int) Option {
	return func(b *base) { b.storedDiff = n }
}

// base holds the collaborators shared by Tracker and Replayer.
type base struct {
	src        CommitSource
	decider    TierDecider
	store      *ledger.Store
	logger     *slog.Logger
	metrics    *telemetry.Metrics
	now        func() time.Time
	storedDiff int
}

func newBase(src CommitSource, decider TierDecider, store *ledger.Store, options []Option) base {
	b := base{
		src:        src,
		decider:    decider,
		store:      store,
		logger:     telemetry.Discard(),
		now:        time.Now,
		storedDiff: 8000,
	}
	for _, o := range options {
		o(&b)
	}
	return b
}

// cursor is the running state of one sequential pass over a branch.
type cursor struct {
	version   version.Version
	lastMajor uint64
}

func newCursor(v version.Version) cursor {
	return cursor{version: v, lastMajor: v.Major()}
}

// step versions one commit and advances cur. Precedence: an explicit
// "!version" directive, then a marker major ahead of the running major,
// then the decider's tier.
func (b *base) step(ctx context.Context, t Target, c source.Commit, cur *cursor) ledger.CommitRecord {
	marker := b.src.FetchVersionMarker(ctx, t.Repo, c.SHA, t.Marker, cur.lastMajor)
	cur.lastMajor = marker
	diff := b.src.FetchDiff(ctx, t.Repo, c.SHA)

	rec := ledger.CommitRecord{
		SHA:          c.SHA,
		Author:       c.Author,
		AuthoredDate: c.AuthoredAt,
		Message:      c.Message,
		URL:          c.URL,
	}
	if b.storedDiff > 0 {
		rec.Diff = classifier.TruncateMiddle(diff, b.storedDiff)
	}

	switch d := classifier.ParseDirective(c.Message); {
	case d.Kind == classifier.DirectiveSet:
		cur.version = d.Version
		rec.DecidedBy = DecidedByDirective
	case d.Kind == classifier.DirectiveSync:
		cur.version = version.MajorFloor(marker)
		rec.DecidedBy = DecidedByDirective
	case marker > cur.version.Major():
		cur.version = version.MajorFloor(marker)
		rec.DecidedBy = DecidedByMarker
	default:
		dec := b.decider.Decide(ctx, c.Message, diff)
		cur.version = version.Bump(cur.version, dec.Tier)
		rec.Tier = dec.Tier
		rec.DecidedBy = dec.DecidedBy
	}
	rec.Version = cur.version

	tier := string(rec.Tier)
	if tier == "" {
		tier = "none"
	}
	b.metrics.CommitVersioned(tier, rec.DecidedBy)
	b.logger.Debug("commit versioned",
		"sha", c.SHA, "version", rec.Version.String(), "tier", tier, "decided_by", rec.DecidedBy)
	return rec
}
