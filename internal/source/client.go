// SPDX-License-Identifier: AGPL-3.0-or-later

package source

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/bartekus/commitver/internal/telemetry"
)

// Options configures a Client.
type Options struct {
	// BaseURL is the REST API root, e.g. https://api.github.com.
	BaseURL string
	// Token is an optional bearer token. Unauthenticated use is allowed but
	// heavily rate-limited by most hosts.
	Token string

	RatePerSecond float64
	Burst         int
	Timeout       time.Duration

	PageSize       int
	MaxPages       int
	MaxReplayPages int
	MaxDiffBytes   int64
}

// DefaultOptions returns the settings used when the config leaves them unset.
func DefaultOptions() Options {
	return Options{
		BaseURL:        "https://api.github.com",
		RatePerSecond:  5,
		Burst:          10,
		Timeout:        30 * time.Second,
		PageSize:       100,
		MaxPages:       20,
		MaxReplayPages: 500,
		MaxDiffBytes:   1 << 20,
	}
}

// Client talks to the source-control host. It is safe for concurrent use;
// every request goes through one shared rate limiter.
type Client struct {
	opts    Options
	base    *url.URL
	http    *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
	metrics *telemetry.Metrics
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// NewClient validates opts and builds a Client. Zero-valued numeric options
// take their DefaultOptions value.
func NewClient(opts Options, options ...Option) (*Client, error) {
	def := DefaultOptions()
	if opts.BaseURL == "" {
		opts.BaseURL = def.BaseURL
	}
	if opts.RatePerSecond <= 0 {
		opts.RatePerSecond = def.RatePerSecond
	}
	if opts.Burst <= 0 {
		opts.Burst = def.Burst
	}
	if opts.Timeout <= 0 {
		opts.Timeout = def.Timeout
	}
	if opts.PageSize <= 0 || opts.PageSize > 100 {
		opts.PageSize = def.PageSize
	}
	if opts.MaxPages <= 0 {
		opts.MaxPages = def.MaxPages
	}
	if opts.MaxReplayPages <= 0 {
		opts.MaxReplayPages = def.MaxReplayPages
	}
	if opts.MaxDiffBytes <= 0 {
		opts.MaxDiffBytes = def.MaxDiffBytes
	}

	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parsing host base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("host base url %q must be http or https", opts.BaseURL)
	}

	c := &Client{
		opts:    opts,
		base:    base,
		http:    &http.Client{Timeout: opts.Timeout},
		limiter: rate.NewLimiter(rate.Limit(opts.RatePerSecond), opts.Burst),
		logger:  telemetry.Discard(),
	}
	for _, o := range options {
		o(c)
	}
	return c, nil
}

// Options returns the effective options after defaulting.
func (c *Client) Options() Options { return c.opts }

// endpoint builds an absolute URL under the base path.
func (c *Client) endpoint(path string, query url.Values) string {
	u := *c.base
	u.Path = strings.TrimRight(c.base.Path, "/") + path
	u.RawQuery = query.Encode()
	return u.String()
}

func (c *Client) startSpan(ctx context.Context, name string, repo Repo, sha string) (context.Context, trace.Span) {
	return telemetry.Tracer().Start(ctx, name, trace.WithAttributes(
		attribute.String("repo", repo.String()),
		attribute.String("sha", sha),
	))
}

// get performs a rate-limited GET. The caller owns the response body.
func (c *Client) get(ctx context.Context, endpoint, rawURL, accept string) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", accept)
	req.Header.Set("User-Agent", "commitver")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	if c.opts.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.opts.Token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.metrics.HostRequest(endpoint, 0)
		return nil, fmt.Errorf("GET %s: %w", endpoint, err)
	}
	c.metrics.HostRequest(endpoint, resp.StatusCode)
	return resp, nil
}

// HostError describes a non-2xx response.
type HostError struct {
	Status    int
	Endpoint  string
	Body      string
	RateReset time.Time
}

func (e *HostError) Error() string {
	msg := fmt.Sprintf("host returned %d for %s", e.Status, e.Endpoint)
	if !e.RateReset.IsZero() {
		msg += fmt.Sprintf(" (rate limit resets at %s)", e.RateReset.Format(time.RFC3339))
	}
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

// NotFound reports whether the host answered 404.
func (e *HostError) NotFound() bool { return e.Status == http.StatusNotFound }

// checkStatus drains and closes the body of a non-2xx response and turns it
// into a *HostError.
func checkStatus(resp *http.Response, endpoint string) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	defer func() { _ = resp.Body.Close() }()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	herr := &HostError{
		Status:   resp.StatusCode,
		Endpoint: endpoint,
		Body:     strings.TrimSpace(string(body)),
	}
	if resp.Header.Get("X-RateLimit-Remaining") == "0" {
		if reset, err := parseUnix(resp.Header.Get("X-RateLimit-Reset")); err == nil {
			herr.RateReset = reset
		}
	}
	return herr
}

func parseUnix(s string) (time.Time, error) {
	sec, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(sec, 0).UTC(), nil
}
