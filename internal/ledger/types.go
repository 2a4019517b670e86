// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Commitver - Commitver assigns every commit of a repository a monotonically evolving decimal version and keeps an append-only ledger of those assignments.

Copyright (C) 2025  Bartek Kus

This program is free software licensed under the terms of the GNU AGPL v3 or later.

See https://www.gnu.org/licenses/ for license details.

*/

// Package ledger persists version assignments as immutable, timestamped JSON
// files, one directory per installation and one file series per repository.
package ledger

import (
	"time"

	"github.com/google/uuid"

	"github.com/bartekus/commitver/internal/version"
)

// CommitRecord is one commit and the version assigned to it.
type CommitRecord struct {
	SHA          string          `json:"sha" yaml:"sha"`
	Author       string          `json:"author" yaml:"author"`
	AuthoredDate time.Time       `json:"authoredDate" yaml:"authoredDate"`
	Message      string          `json:"message" yaml:"message"`
	URL          string          `json:"url,omitempty" yaml:"url,omitempty"`
	Diff         string          `json:"diff,omitempty" yaml:"diff,omitempty"`
	Version      version.Version `json:"version" yaml:"version"`
	Tier         version.Tier    `json:"tier,omitempty" yaml:"tier,omitempty"`
	DecidedBy    string          `json:"decidedBy" yaml:"decidedBy"`
}

// RepoHistory is the content of one ledger file. Commits are oldest first.
type RepoHistory struct {
	Repo       string         `json:"repo" yaml:"repo"`
	Branch     string         `json:"branch" yaml:"branch"`
	RunID      string         `json:"runId" yaml:"runId"`
	CreatedAt  time.Time      `json:"createdAt" yaml:"createdAt"`
	Summarized bool           `json:"summarized" yaml:"summarized"`
	Commits    []CommitRecord `json:"commits" yaml:"commits"`
}

// Checkpoint is the resume point derived from the newest ledger file.
type Checkpoint struct {
	SHA          string
	AuthoredDate time.Time
	Version      version.Version
}

// Checkpoint returns the last commit of h, or false when h has none.
func (h RepoHistory) Checkpoint() (Checkpoint, bool) {
	if len(h.Commits) == 0 {
		return Checkpoint{}, false
	}
	last := h.Commits[len(h.Commits)-1]
	return Checkpoint{SHA: last.SHA, AuthoredDate: last.AuthoredDate, Version: last.Version}, true
}

// NewRunID returns a fresh identifier for one engine run.
func NewRunID() string {
	return uuid.NewString()
}
