// SPDX-License-Identifier: AGPL-3.0-or-later

package engine

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/bartekus/commitver/internal/ledger"
	"github.com/bartekus/commitver/internal/telemetry"
)

// ReplayOptions controls a full rebuild.
type ReplayOptions struct {
	// ChunkSize is the number of commits per ledger file.
	ChunkSize int
	// Force archives existing ledger files instead of refusing to run.
	Force bool
}

// Replayer rebuilds a repository's ledger from its first commit.
type Replayer struct {
	base
}

// NewReplayer wires a Replayer.
func NewReplayer(src CommitSource, decider TierDecider, store *ledger.Store, options ...Option) *Replayer {
	return &Replayer{base: newBase(src, decider, store, options)}
}

// Replay walks every commit of t's branch from t.InitialVersion, reading the
// version marker at each commit's own snapshot, and flushes a ledger file
// every ChunkSize commits. On cancellation the chunks already flushed stay.
func (rp *Replayer) Replay(ctx context.Context, t Target, opts ReplayOptions) (res Result, err error) {
	start := rp.now()
	res = Result{Repo: t.Repo.String(), Mode: "replay", RunID: ledger.NewRunID()}
	logger := rp.logger.With("repo", res.Repo, "run_id", res.RunID, "mode", res.Mode)

	ctx, span := telemetry.Tracer().Start(ctx, "engine.Replay")
	span.SetAttributes(attribute.String("repo", res.Repo), attribute.String("run_id", res.RunID))
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		rp.metrics.RunFinished(res.Mode, outcome, rp.now().Sub(start).Seconds())
		span.End()
	}()

	existing, err := rp.store.List(res.Repo)
	if err != nil {
		return res, err
	}
	if len(existing) > 0 {
		if !opts.Force {
			return res, fmt.Errorf("%w: %s has %d files; rerun with --force to archive them",
				ErrLedgerExists, res.Repo, len(existing))
		}
		dest, n, err := rp.store.Archive(res.Repo, start)
		if err != nil {
			return res, fmt.Errorf("archiving existing ledger: %w", err)
		}
		res.Archived = dest
		logger.Warn("existing ledger archived", "files", n, "archive", dest)
	}

	w, err := rp.src.ListAllCommits(ctx, t.Repo, t.Branch)
	if err != nil {
		return res, err
	}
	res.Truncated, res.FetchErr = w.Truncated, w.Err
	if !w.Complete() {
		logger.Warn("history incomplete, replaying the commits gathered",
			"truncated", w.Truncated, "error", w.Err, "commits", len(w.Commits))
	}

	cur := newCursor(t.InitialVersion)
	res.From, res.To = cur.version, cur.version

	cw := rp.store.NewChunkWriter(ledger.RepoHistory{
		Repo:   res.Repo,
		Branch: t.Branch,
		RunID:  res.RunID,
	}, opts.ChunkSize, time.Time{})
	cw.OnFlush(func(name string) {
		rp.metrics.LedgerFileWritten(res.Mode)
		logger.Info("ledger chunk written", "file", name)
	})
	cw.SetClock(rp.now)

	for _, c := range w.Chronological() {
		if err := ctx.Err(); err != nil {
			res.Files = cw.Files()
			return res, err
		}
		rec := rp.step(ctx, t, c, &cur)
		if err := ctx.Err(); err != nil {
			// rec was built from cancellation fallbacks.
			res.Files = cw.Files()
			return res, err
		}
		if _, err := cw.Add(rec); err != nil {
			res.Files = cw.Files()
			return res, fmt.Errorf("writing ledger chunk: %w", err)
		}
		res.Commits++
		res.To = cur.version
	}
	if err := ctx.Err(); err != nil {
		res.Files = cw.Files()
		return res, err
	}
	if _, err := cw.Flush(); err != nil {
		res.Files = cw.Files()
		return res, fmt.Errorf("writing ledger chunk: %w", err)
	}
	res.Files = cw.Files()

	span.SetAttributes(attribute.Int("commits", res.Commits), attribute.Int("files", len(res.Files)))
	logger.Info("replay complete", "commits", res.Commits, "files", len(res.Files), "version", res.To.String())
	return res, nil
}
