// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Commitver - Commitver assigns every commit of a repository a monotonically evolving decimal version and keeps an append-only ledger of those assignments.

Copyright (C) 2025  Bartek Kus

This program is free software licensed under the terms of the GNU AGPL v3 or later.

See https://www.gnu.org/licenses/ for license details.

*/

// Package source fetches commit history, diffs and version markers from a
// GitHub-compatible REST host.
package source

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"
)

// DiffUnavailable replaces a diff the host could not deliver in full.
const DiffUnavailable = "[diff unavailable: the host returned an error or a diff larger than the configured limit]"

// ErrInvalidRepo is returned by ParseRepo for identifiers not shaped owner/name.
var ErrInvalidRepo = errors.New("repository must be in owner/name form")

var repoPart = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// Repo identifies a repository on the host.
type Repo struct {
	Owner string
	Name  string
}

// ParseRepo parses "owner/name".
func ParseRepo(s string) (Repo, error) {
	owner, name, ok := strings.Cut(strings.TrimSpace(s), "/")
	if !ok || !repoPart.MatchString(owner) || !repoPart.MatchString(name) {
		return Repo{}, fmt.Errorf("%w: %q", ErrInvalidRepo, s)
	}
	return Repo{Owner: owner, Name: name}, nil
}

func (r Repo) String() string { return r.Owner + "/" + r.Name }

// Commit is the strictly-typed commit metadata the adapter hands inward.
type Commit struct {
	SHA        string
	Author     string
	AuthoredAt time.Time
	Message    string
	URL        string
}

// Window is the result of a paginated commit listing. Commits are ordered
// newest first, as the host returns them.
type Window struct {
	Commits []Commit

	// StopFound reports whether the requested stop SHA was seen.
	StopFound bool
	// Truncated is set when the page cap ended pagination early.
	Truncated bool
	// Err is the fetch error that halted pagination, if any.
	Err error
	// Pages is the number of pages successfully consumed.
	Pages int
}

// Chronological returns the window's commits oldest first. Versions must be
// applied in this order.
func (w Window) Chronological() []Commit {
	out := slices.Clone(w.Commits)
	slices.Reverse(out)
	return out
}

// Complete reports whether pagination ended naturally.
func (w Window) Complete() bool {
	return w.Err == nil && !w.Truncated
}

// wireCommit mirrors the subset of the host's commit-list entry we read.
type wireCommit struct {
	SHA     string `json:"sha"`
	HTMLURL string `json:"html_url"`
	Commit  struct {
		Message string `json:"message"`
		Author  *struct {
			Name string `json:"name"`
			Date string `json:"date"`
		} `json:"author"`
	} `json:"commit"`
	Author *struct {
		Login string `json:"login"`
	} `json:"author"`
}

var shaPattern = regexp.MustCompile(`^[0-9a-fA-F]{7,64}$`)

// toCommit validates a wire entry. Entries without a usable SHA or author
// date are rejected here rather than propagated.
func (w wireCommit) toCommit() (Commit, error) {
	if !shaPattern.MatchString(w.SHA) {
		return Commit{}, fmt.Errorf("invalid sha %q", w.SHA)
	}
	if w.Commit.Author == nil || w.Commit.Author.Date == "" {
		return Commit{}, fmt.Errorf("commit %s has no author date", w.SHA)
	}
	authored, err := time.Parse(time.RFC3339, w.Commit.Author.Date)
	if err != nil {
		return Commit{}, fmt.Errorf("commit %s: parsing author date: %w", w.SHA, err)
	}

	author := w.Commit.Author.Name
	if author == "" && w.Author != nil {
		author = w.Author.Login
	}

	return Commit{
		SHA:        w.SHA,
		Author:     author,
		AuthoredAt: authored.UTC(),
		Message:    w.Commit.Message,
		URL:        w.HTMLURL,
	}, nil
}
