// SPDX-License-Identifier: AGPL-3.0-or-later

package source

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel/attribute"
)

const (
	acceptDiff = "application/vnd.github.diff"
	acceptRaw  = "application/vnd.github.raw"
)

// FetchDiff returns the unified diff of one commit. It never fails: host
// errors and diffs over MaxDiffBytes yield DiffUnavailable, so classification
// always has some text to work with.
func (c *Client) FetchDiff(ctx context.Context, repo Repo, sha string) string {
	ctx, span := c.startSpan(ctx, "source.FetchDiff", repo, sha)
	defer span.End()

	rawURL := c.endpoint(fmt.Sprintf("/repos/%s/%s/commits/%s",
		url.PathEscape(repo.Owner), url.PathEscape(repo.Name), url.PathEscape(sha)), nil)

	body, err := c.readLimited(ctx, "diff", rawURL, acceptDiff, c.opts.MaxDiffBytes)
	if err != nil {
		c.logger.Warn("diff unavailable, using placeholder",
			"repo", repo.String(), "sha", sha, "error", err)
		span.RecordError(err)
		return DiffUnavailable
	}
	span.SetAttributes(attribute.Int("diff_bytes", len(body)))
	return string(body)
}

// Marker describes where a repository records its major version.
type Marker struct {
	// Path of the tracked file, relative to the repository root.
	Path string
	// Pattern's first capture group holds the decimal major number.
	Pattern *regexp.Regexp
}

// FetchVersionMarker reads the marker file at sha's snapshot and returns
// the embedded major number, or fallback when the file or marker is missing
// or unparsable.
func (c *Client) FetchVersionMarker(ctx context.Context, repo Repo, sha string, marker Marker, fallback uint64) uint64 {
	if marker.Path == "" || marker.Pattern == nil {
		return fallback
	}

	ctx, span := c.startSpan(ctx, "source.FetchVersionMarker", repo, sha)
	defer span.End()

	q := url.Values{}
	q.Set("ref", sha)
	rawURL := c.endpoint(fmt.Sprintf("/repos/%s/%s/contents/%s",
		url.PathEscape(repo.Owner), url.PathEscape(repo.Name), escapePath(marker.Path)), q)

	body, err := c.readLimited(ctx, "contents", rawURL, acceptRaw, 64<<10)
	if err != nil {
		if IsNotFound(err) {
			c.logger.Debug("marker file absent", "repo", repo.String(), "sha", sha, "path", marker.Path)
		} else {
			c.logger.Warn("marker fetch failed, keeping last known major",
				"repo", repo.String(), "sha", sha, "path", marker.Path, "error", err)
		}
		return fallback
	}

	m := marker.Pattern.FindSubmatch(body)
	if len(m) < 2 {
		return fallback
	}
	n, err := strconv.ParseUint(string(m[1]), 10, 64)
	if err != nil {
		c.logger.Warn("unparsable version marker", "repo", repo.String(), "sha", sha, "value", string(m[1]))
		return fallback
	}
	span.SetAttributes(attribute.Int64("marker", int64(n)))
	return n
}

// readLimited GETs rawURL and returns the body, failing when it exceeds limit.
func (c *Client) readLimited(ctx context.Context, endpoint, rawURL, accept string, limit int64) ([]byte, error) {
	resp, err := c.get(ctx, endpoint, rawURL, accept)
	if err != nil {
		return nil, err
	}
	if err := checkStatus(resp, endpoint); err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("reading %s body: %w", endpoint, err)
	}
	if int64(len(body)) > limit {
		return nil, fmt.Errorf("%s body exceeds %d bytes", endpoint, limit)
	}
	return body, nil
}

func escapePath(p string) string {
	parts := strings.Split(strings.Trim(p, "/"), "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}
