// SPDX-License-Identifier: AGPL-3.0-or-later

package runner

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bartekus/commitver/internal/telemetry"
)

// RunError reports the repositories that failed in a run. Code is the
// highest exit code among them.
type RunError struct {
	Failed []string
	Code   int
	Errs   []error
}

func (e *RunError) Error() string {
	if len(e.Failed) == 1 && len(e.Errs) == 1 {
		return fmt.Sprintf("%s: %v", e.Failed[0], e.Errs[0])
	}
	return fmt.Sprintf("run failed: %v", e.Failed)
}

func (e *RunError) ExitCode() int { return e.Code }

// Unwrap exposes the per-repository causes to errors.Is and errors.As.
func (e *RunError) Unwrap() []error { return e.Errs }

// Runner manages the execution of repository jobs.
type Runner struct {
	jobs        []Job
	store       *StateStore
	out         io.Writer
	logger      *slog.Logger
	concurrency int
	now         func() time.Time
}

// Option customises a Runner.
type Option func(*Runner)

// WithConcurrency bounds how many repositories run at once.
func WithConcurrency(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// NewRunner creates a runner over jobs. Progress lines go to out.
func NewRunner(jobs []Job, store *StateStore, out io.Writer, options ...Option) *Runner {
	r := &Runner{
		jobs:        jobs,
		store:       store,
		out:         out,
		logger:      telemetry.Discard(),
		concurrency: 1,
		now:         time.Now,
	}
	for _, o := range options {
		o(r)
	}
	return r
}

// RunAll executes every job. Failures do not stop the other repositories;
// the returned error lists every failed one.
func (r *Runner) RunAll(ctx context.Context) error {
	return r.execute(ctx, r.jobs)
}

// Resume re-runs only the repositories that failed in the last run.
func (r *Runner) Resume(ctx context.Context) error {
	failed, err := r.store.LoadFailed()
	if err != nil {
		return fmt.Errorf("loading failed repositories: %w", err)
	}
	if len(failed) == 0 {
		_, _ = fmt.Fprintln(r.out, "No failed repositories to resume.")
		return nil
	}

	var toRun []Job
	for _, id := range failed {
		if j := r.find(id); j != nil {
			toRun = append(toRun, j)
		} else {
			r.logger.Warn("failed repository is no longer configured", "repo", id)
		}
	}
	return r.execute(ctx, toRun)
}

// RunList executes the named repositories only.
func (r *Runner) RunList(ctx context.Context, ids []string) error {
	var toRun []Job
	for _, id := range ids {
		j := r.find(id)
		if j == nil {
			return fmt.Errorf("repository not configured: %s", id)
		}
		toRun = append(toRun, j)
	}
	return r.execute(ctx, toRun)
}

func (r *Runner) find(id string) Job {
	for _, j := range r.jobs {
		if j.ID() == id {
			return j
		}
	}
	return nil
}

// execute runs jobs with bounded concurrency, then records and prints the
// results in job order so output does not depend on scheduling.
func (r *Runner) execute(ctx context.Context, jobs []Job) error {
	started := r.now().UTC()
	results := make([]JobResult, len(jobs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for i, j := range jobs {
		g.Go(func() error {
			r.logger.Info("job started", "repo", j.ID())
			res := j.Run(gctx)
			if res.Repo == "" {
				res.Repo = j.ID()
			}
			res.FinishedAt = r.now().UTC()
			results[i] = res
			r.logger.Info("job finished", "repo", res.Repo, "status", res.Status, "commits", res.Commits)
			return nil
		})
	}
	_ = g.Wait()

	var errs []error
	last := LastRun{
		Status:    "pass",
		Repos:     make([]string, 0, len(jobs)),
		Failed:    []string{},
		StartedAt: started,
	}
	for _, res := range results {
		if err := r.store.WriteResult(res); err != nil {
			return fmt.Errorf("writing result for %s: %w", res.Repo, err)
		}
		last.Repos = append(last.Repos, res.Repo)
		r.print(res)
		if res.Status == StatusFail {
			last.Failed = append(last.Failed, res.Repo)
			last.ExitCode = max(last.ExitCode, res.ExitCode)
			if res.Err != nil {
				errs = append(errs, res.Err)
			}
		}
	}
	last.FinishedAt = r.now().UTC()
	if len(last.Failed) > 0 {
		last.Status = "fail"
	}

	if err := r.store.WriteLastRun(last); err != nil {
		return fmt.Errorf("writing last run: %w", err)
	}
	if len(last.Failed) > 0 {
		return &RunError{Failed: last.Failed, Code: max(last.ExitCode, ExitGeneric), Errs: errs}
	}
	return nil
}

func (r *Runner) print(res JobResult) {
	switch res.Status {
	case StatusPass:
		_, _ = fmt.Fprintf(r.out, "PASS: %s (%d commits, %s -> %s)\n", res.Repo, res.Commits, res.From, res.To)
	case StatusSkip:
		_, _ = fmt.Fprintf(r.out, "SKIP: %s\n", res.Repo)
	default:
		_, _ = fmt.Fprintf(r.out, "FAIL: %s (exit %d)\n", res.Repo, res.ExitCode)
	}
	if res.Note != "" {
		_, _ = fmt.Fprintf(r.out, "  %s\n", res.Note)
	}
}
