// SPDX-License-Identifier: AGPL-3.0-or-later

package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/bartekus/commitver/internal/telemetry"
)

const acceptJSON = "application/vnd.github+json"

// ListCommitsSince pages through the commits of branch authored after since,
// newest first, and stops at stopSHA (inclusive) when it is non-empty.
//
// Host failures never fail the call: the failing page is discarded,
// pagination halts and the window carries the error in Err. Only context
// cancellation is returned as an error.
func (c *Client) ListCommitsSince(ctx context.Context, repo Repo, branch string, since time.Time, stopSHA string) (Window, error) {
	return c.list(ctx, repo, branch, since, stopSHA, c.opts.MaxPages)
}

// ListAllCommits pages through the entire history of branch, newest first,
// under the larger replay page cap.
func (c *Client) ListAllCommits(ctx context.Context, repo Repo, branch string) (Window, error) {
	return c.list(ctx, repo, branch, time.Time{}, "", c.opts.MaxReplayPages)
}

func (c *Client) list(ctx context.Context, repo Repo, branch string, since time.Time, stopSHA string, maxPages int) (Window, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "source.ListCommits")
	defer span.End()
	span.SetAttributes(
		attribute.String("repo", repo.String()),
		attribute.String("branch", branch),
		attribute.Bool("has_stop", stopSHA != ""),
	)

	logger := c.logger.With("repo", repo.String(), "branch", branch)

	q := url.Values{}
	q.Set("per_page", strconv.Itoa(c.opts.PageSize))
	if branch != "" {
		q.Set("sha", branch)
	}
	if !since.IsZero() {
		q.Set("since", since.UTC().Format(time.RFC3339))
	}
	next := c.endpoint(fmt.Sprintf("/repos/%s/%s/commits", url.PathEscape(repo.Owner), url.PathEscape(repo.Name)), q)

	var w Window
	for next != "" {
		if w.Pages >= maxPages {
			w.Truncated = true
			logger.Warn("page cap reached, continuing with the commits gathered so far",
				"max_pages", maxPages, "commits", len(w.Commits))
			break
		}

		page, link, err := c.fetchPage(ctx, next)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				span.RecordError(ctxErr)
				span.SetStatus(codes.Error, "cancelled")
				return w, ctxErr
			}
			w.Err = err
			logger.Warn("commit page fetch failed, halting pagination",
				"page", w.Pages+1, "error", err)
			break
		}
		w.Pages++

		for _, wc := range page {
			commit, err := wc.toCommit()
			if err != nil {
				logger.Warn("skipping malformed commit entry", "error", err)
				continue
			}
			w.Commits = append(w.Commits, commit)
			if stopSHA != "" && commit.SHA == stopSHA {
				w.StopFound = true
				break
			}
		}
		if w.StopFound {
			break
		}
		next = nextLink(link)
	}

	if stopSHA != "" && !w.StopFound {
		logger.Warn("stop commit not found in fetched window; every fetched commit counts as new",
			"stop_sha", stopSHA, "commits", len(w.Commits))
	}

	span.SetAttributes(
		attribute.Int("pages", w.Pages),
		attribute.Int("commits", len(w.Commits)),
		attribute.Bool("stop_found", w.StopFound),
		attribute.Bool("truncated", w.Truncated),
	)
	if w.Err != nil {
		span.RecordError(w.Err)
	}
	return w, nil
}

func (c *Client) fetchPage(ctx context.Context, rawURL string) ([]wireCommit, string, error) {
	resp, err := c.get(ctx, "commits", rawURL, acceptJSON)
	if err != nil {
		return nil, "", err
	}
	if err := checkStatus(resp, "commits"); err != nil {
		return nil, "", err
	}
	defer func() { _ = resp.Body.Close() }()

	var page []wireCommit
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, "", fmt.Errorf("decoding commit page: %w", err)
	}
	return page, resp.Header.Get("Link"), nil
}

var linkPart = regexp.MustCompile(`<([^>]+)>\s*;\s*rel="?([^";]+)"?`)

// nextLink extracts the rel="next" target of an RFC 8288 Link header.
func nextLink(header string) string {
	for _, part := range strings.Split(header, ",") {
		m := linkPart.FindStringSubmatch(strings.TrimSpace(part))
		if m == nil {
			continue
		}
		for _, rel := range strings.Fields(m[2]) {
			if rel == "next" {
				return m[1]
			}
		}
	}
	return ""
}

// IsNotFound reports whether err is a 404 from the host.
func IsNotFound(err error) bool {
	var herr *HostError
	return errors.As(err, &herr) && herr.NotFound()
}
