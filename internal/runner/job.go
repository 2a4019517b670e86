// SPDX-License-Identifier: AGPL-3.0-or-later

package runner

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bartekus/commitver/internal/engine"
	"github.com/bartekus/commitver/internal/ledger"
)

// Exit codes carried on failed job results. They mirror the CLI's.
const (
	ExitGeneric            = 1
	ExitCheckpointNotFound = 3
	ExitCorruptLedger      = 4
)

// Job is one unit of work for the runner, keyed by repository.
type Job interface {
	ID() string
	Run(ctx context.Context) JobResult
}

// TrackJob runs an incremental tracking pass for one repository.
type TrackJob struct {
	Tracker *engine.Tracker
	Target  engine.Target
	Options engine.TrackOptions
}

func (j *TrackJob) ID() string { return j.Target.Repo.String() }

func (j *TrackJob) Run(ctx context.Context) JobResult {
	res, err := j.Tracker.Track(ctx, j.Target, j.Options)
	return resultOf(j.ID(), res, err)
}

// ReplayJob rebuilds one repository's ledger from its first commit.
type ReplayJob struct {
	Replayer *engine.Replayer
	Target   engine.Target
	Options  engine.ReplayOptions
}

func (j *ReplayJob) ID() string { return j.Target.Repo.String() }

func (j *ReplayJob) Run(ctx context.Context) JobResult {
	res, err := j.Replayer.Replay(ctx, j.Target, j.Options)
	return resultOf(j.ID(), res, err)
}

func resultOf(repo string, res engine.Result, err error) JobResult {
	out := JobResult{
		Repo:    repo,
		Status:  StatusPass,
		RunID:   res.RunID,
		Files:   res.Files,
		Commits: res.Commits,
	}
	if res.Commits > 0 {
		out.From = res.From.String()
		out.To = res.To.String()
	}

	var notes []string
	if err != nil {
		out.Status = StatusFail
		out.ExitCode = ExitCodeOf(err)
		out.Err = err
		notes = append(notes, err.Error())
	} else if res.Commits == 0 {
		out.Status = StatusSkip
		notes = append(notes, "no new commits")
	}
	if res.FetchErr != nil {
		notes = append(notes, fmt.Sprintf("fetch stopped early: %v", res.FetchErr))
	}
	if res.Truncated {
		notes = append(notes, "page cap reached, history truncated")
	}
	if res.Archived != "" {
		notes = append(notes, "previous ledger archived to "+res.Archived)
	}
	out.Note = strings.Join(notes, "; ")
	return out
}

// ExitCodeOf maps an engine error onto a process exit code.
func ExitCodeOf(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, engine.ErrCheckpointNotFound):
		return ExitCheckpointNotFound
	case errors.Is(err, ledger.ErrCorruptLedger):
		return ExitCorruptLedger
	default:
		return ExitGeneric
	}
}
