// SPDX-License-Identifier: AGPL-3.0-or-later

package runner

import "time"

// JobStatus represents the outcome of one repository job.
type JobStatus string

const (
	StatusPass JobStatus = "pass"
	StatusFail JobStatus = "fail"
	StatusSkip JobStatus = "skip"
)

// JobResult is the outcome of one repository job.
// Stored as <state_dir>/repos/<slug>.json.
type JobResult struct {
	Repo       string    `json:"repo"`
	Status     JobStatus `json:"status"`
	ExitCode   int       `json:"exit_code"`
	Note       string    `json:"note,omitempty"`
	RunID      string    `json:"run_id,omitempty"`
	Files      []string  `json:"files,omitempty"`
	Commits    int       `json:"commits"`
	From       string    `json:"from,omitempty"`
	To         string    `json:"to,omitempty"`
	FinishedAt time.Time `json:"finished_at"`

	// Err is the failure behind a StatusFail result. It is not persisted.
	Err error `json:"-"`
}

// LastRun summarises the most recent run.
// Stored as <state_dir>/last-run.json.
type LastRun struct {
	Status     string    `json:"status"` // "pass" or "fail"
	Repos      []string  `json:"repos"`  // repositories run, in job order
	Failed     []string  `json:"failed"` // repositories that failed
	ExitCode   int       `json:"exit_code"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}
