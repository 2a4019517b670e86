// SPDX-License-Identifier: AGPL-3.0-or-later

package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/bartekus/commitver/internal/ledger"
	"github.com/bartekus/commitver/internal/source"
	"github.com/bartekus/commitver/internal/telemetry"
)

// SkewBuffer is subtracted from the checkpoint date when computing the fetch
// window, to tolerate clock skew between committers and the host.
const SkewBuffer = 2 * time.Hour

// TrackOptions controls one tracking run.
type TrackOptions struct {
	// Lookback bounds the first fetch when no checkpoint exists.
	Lookback time.Duration
	// Resync reprocesses the whole fetched window when the checkpoint
	// commit is missing from it, instead of failing.
	Resync bool
	// AllowReset treats a corrupt newest ledger file as no checkpoint.
	AllowReset bool
}

// Tracker appends newly arrived commits to a repository's ledger.
type Tracker struct {
	base
}

// NewTracker wires a Tracker.
func NewTracker(src CommitSource, decider TierDecider, store *ledger.Store, options ...Option) *Tracker {
	return &Tracker{base: newBase(src, decider, store, options)}
}

// Track runs one incremental pass for t. It writes at most one ledger file
// and writes nothing when no commit is new. Cancellation discards all
// unwritten work.
func (tr *Tracker) Track(ctx context.Context, t Target, opts TrackOptions) (res Result, err error) {
	start := tr.now()
	res = Result{Repo: t.Repo.String(), Mode: "track", RunID: ledger.NewRunID()}
	logger := tr.logger.With("repo", res.Repo, "run_id", res.RunID, "mode", res.Mode)

	ctx, span := telemetry.Tracer().Start(ctx, "engine.Track")
	span.SetAttributes(attribute.String("repo", res.Repo), attribute.String("run_id", res.RunID))
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		tr.metrics.RunFinished(res.Mode, outcome, tr.now().Sub(start).Seconds())
		span.End()
	}()

	// LoadingCheckpoint
	latest, err := tr.store.FindLatest(res.Repo)
	var floor time.Time
	switch {
	case errors.Is(err, ledger.ErrCorruptLedger):
		if !opts.AllowReset {
			return res, err
		}
		logger.Warn("newest ledger file is corrupt, starting without a checkpoint", "file", latest.Filename, "error", err)
		floor = latest.Stamp
		latest = nil
	case err != nil:
		return res, fmt.Errorf("loading checkpoint: %w", err)
	case latest != nil:
		floor = latest.Stamp
	}

	cur := newCursor(t.InitialVersion)
	var cp ledger.Checkpoint
	hasCheckpoint := false
	if latest != nil {
		cp, hasCheckpoint = latest.History.Checkpoint()
	}
	since := start.Add(-opts.Lookback)
	if hasCheckpoint {
		cur = newCursor(cp.Version)
		since = cp.AuthoredDate.Add(-SkewBuffer)
		logger.Debug("checkpoint loaded", "sha", cp.SHA, "version", cp.Version.String(), "file", latest.Filename)
	}
	res.From = cur.version
	res.To = cur.version

	// Fetching
	w, err := tr.src.ListCommitsSince(ctx, t.Repo, t.Branch, since, cp.SHA)
	if err != nil {
		return res, err
	}
	res.StopFound, res.Truncated, res.FetchErr = w.StopFound, w.Truncated, w.Err
	if w.Err != nil {
		logger.Warn("fetch window incomplete, continuing with gathered commits", "error", w.Err)
	}

	commits := w.Chronological()
	fresh := commits
	if hasCheckpoint {
		fresh, err = afterCheckpoint(commits, cp.SHA)
		if errors.Is(err, ErrCheckpointNotFound) {
			if !opts.Resync {
				return res, fmt.Errorf("%w: %s (fetched %d commits since %s; rerun with --resync to reprocess them)",
					err, cp.SHA, len(commits), since.Format(time.RFC3339))
			}
			logger.Warn("checkpoint commit missing, reprocessing the whole fetched window",
				"sha", cp.SHA, "commits", len(commits))
			fresh = commits
		}
	}

	if len(fresh) == 0 {
		logger.Info("no new commits")
		return res, nil
	}

	// Classifying&Bumping
	records := make([]ledger.CommitRecord, 0, len(fresh))
	for _, c := range fresh {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		records = append(records, tr.step(ctx, t, c, &cur))
	}
	if err := ctx.Err(); err != nil {
		return res, err
	}

	// Persisted
	h := ledger.RepoHistory{
		Repo:      res.Repo,
		Branch:    t.Branch,
		RunID:     res.RunID,
		CreatedAt: start.UTC(),
		Commits:   records,
	}
	name, err := tr.store.Write(h, ledger.NextStamp(start, floor))
	if err != nil {
		return res, fmt.Errorf("writing ledger: %w", err)
	}
	tr.metrics.LedgerFileWritten(res.Mode)

	res.Files = []string{name}
	res.Commits = len(records)
	res.To = cur.version
	span.SetAttributes(attribute.Int("commits", res.Commits), attribute.String("version", res.To.String()))
	logger.Info("ledger updated", "file", name, "commits", res.Commits,
		"from", res.From.String(), "to", res.To.String())
	return res, nil
}

// afterCheckpoint returns the commits strictly after sha in a chronological
// list. An empty list has nothing new; a non-empty list without sha is a
// checkpoint miss.
func afterCheckpoint(commits []source.Commit, sha string) ([]source.Commit, error) {
	if len(commits) == 0 {
		return nil, nil
	}
	for i, c := range commits {
		if c.SHA == sha {
			return commits[i+1:], nil
		}
	}
	return nil, ErrCheckpointNotFound
}
