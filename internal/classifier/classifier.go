// SPDX-License-Identifier: AGPL-3.0-or-later

package classifier

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"

	"github.com/bartekus/commitver/internal/telemetry"
	"github.com/bartekus/commitver/internal/version"
)

// Who settled a decision.
const (
	DecidedByKeyword    = "keyword"
	DecidedByClassifier = "classifier"
	DecidedByFallback   = "fallback"
)

// Fallback reasons, also used as metric labels.
const (
	ReasonDisabled      = "disabled"
	ReasonPromptTooLong = "prompt_too_long"
	ReasonTimeout       = "timeout"
	ReasonMalformed     = "malformed"
	ReasonLowConfidence = "low_confidence"
	ReasonError         = "error"
)

// errContract marks replies that do not follow the JSON contract.
var errContract = errors.New("classifier reply violates contract")

const systemInstructions = `You classify git commits for a versioning tool.
Pick exactly one tier for the commit:
- major: breaking change to a public interface or behaviour
- refactor: internal restructuring or performance work with no new behaviour
- feat: a new user-visible capability
- minor: a small improvement or adjustment to existing behaviour
- fix: a bug fix
- tiny: documentation, comments, formatting, chores, tests
Reply with a JSON object and nothing else: {"tier": "<one of major|refactor|feat|minor|fix|tiny>", "confidence": <number between 0 and 1>}`

// Decision is the outcome of Decide.
type Decision struct {
	Tier       version.Tier
	DecidedBy  string
	Confidence float64
	// Reason is set when DecidedBy is DecidedByFallback.
	Reason string
}

// Options tunes the model fallback.
type Options struct {
	Timeout        time.Duration
	MaxPromptChars int
	MaxDiffChars   int
	MinConfidence  float64
	CacheTTL       time.Duration
	MaxRetries     int
	RetryBackoff   time.Duration
	Prune          PruneOptions
}

// DefaultOptions returns the settings used when the config leaves them unset.
func DefaultOptions() Options {
	return Options{
		Timeout:        20 * time.Second,
		MaxPromptChars: 24000,
		MaxDiffChars:   12000,
		CacheTTL:       time.Hour,
		MaxRetries:     2,
		RetryBackoff:   500 * time.Millisecond,
		Prune:          DefaultPruneOptions(),
	}
}

// Classifier decides bump tiers. It is safe for concurrent use: identical
// in-flight requests are coalesced and successful model answers are cached.
type Classifier struct {
	backend  Backend
	opts     Options
	cache    *cache.Cache
	inflight singleflight.Group
	logger   *slog.Logger
	metrics  *telemetry.Metrics
}

// Option customises a Classifier.
type Option func(*Classifier)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Classifier) { c.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(c *Classifier) { c.metrics = m }
}

// New builds a Classifier. A nil backend disables the model fallback, so
// untagged commits are always decided as tiny.
func New(backend Backend, opts Options, options ...Option) *Classifier {
	def := DefaultOptions()
	if opts.Timeout <= 0 {
		opts.Timeout = def.Timeout
	}
	if opts.MaxPromptChars <= 0 {
		opts.MaxPromptChars = def.MaxPromptChars
	}
	if opts.MaxDiffChars <= 0 {
		opts.MaxDiffChars = def.MaxDiffChars
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = def.CacheTTL
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = def.RetryBackoff
	}

	c := &Classifier{
		backend: backend,
		opts:    opts,
		cache:   cache.New(opts.CacheTTL, 2*opts.CacheTTL),
		logger:  telemetry.Discard(),
	}
	for _, o := range options {
		o(c)
	}
	return c
}

// Enabled reports whether a model backend is configured.
func (c *Classifier) Enabled() bool { return c.backend != nil }

// Decide returns the tier for a commit. It never fails: every problem with
// the model fallback yields TierTiny.
func (c *Classifier) Decide(ctx context.Context, message, diff string) Decision {
	if IsSkip(message) {
		return Decision{Tier: version.TierSkip, DecidedBy: DecidedByKeyword, Confidence: 1}
	}
	if tier, ok := MatchKeyword(message); ok {
		return Decision{Tier: tier, DecidedBy: DecidedByKeyword, Confidence: 1}
	}
	if c.backend == nil {
		return c.fallback(ReasonDisabled)
	}

	ctx, span := telemetry.Tracer().Start(ctx, "classifier.Decide")
	defer span.End()

	user := c.buildUserContent(message, diff)
	if len(systemInstructions)+len(user) > c.opts.MaxPromptChars {
		c.logger.Warn("prompt exceeds size guard, not sent",
			"chars", len(systemInstructions)+len(user), "limit", c.opts.MaxPromptChars)
		span.SetAttributes(attribute.String("fallback", ReasonPromptTooLong))
		return c.fallback(ReasonPromptTooLong)
	}

	key := cacheKey(user)
	if cached, ok := c.cache.Get(key); ok {
		span.SetAttributes(attribute.Bool("cached", true))
		return cached.(Decision)
	}

	start := time.Now()
	// Coalesced callers must not inherit the leader's cancellation.
	// classifyOnce still bounds every attempt with opts.Timeout.
	ch := c.inflight.DoChan(key, func() (any, error) {
		return c.classifyWithRetry(context.WithoutCancel(ctx), user)
	})
	var r singleflight.Result
	select {
	case r = <-ch:
	case <-ctx.Done():
		r = singleflight.Result{Err: ctx.Err()}
	}
	res, err, shared := r.Val, r.Err, r.Shared
	c.metrics.ClassifierLatency(time.Since(start).Seconds())
	span.SetAttributes(attribute.Bool("coalesced", shared))

	if err != nil {
		reason := ReasonError
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			reason = ReasonTimeout
		case errors.Is(err, errContract):
			reason = ReasonMalformed
		}
		c.logger.Warn("classifier failed, defaulting to tiny", "reason", reason, "error", err)
		span.RecordError(err)
		return c.fallback(reason)
	}

	d := res.(Decision)
	if d.Confidence < c.opts.MinConfidence {
		c.logger.Debug("classifier confidence below threshold",
			"tier", d.Tier, "confidence", d.Confidence, "threshold", c.opts.MinConfidence)
		return c.fallback(ReasonLowConfidence)
	}

	c.cache.Set(key, d, cache.DefaultExpiration)
	span.SetAttributes(
		attribute.String("tier", string(d.Tier)),
		attribute.Float64("confidence", d.Confidence),
	)
	return d
}

func (c *Classifier) fallback(reason string) Decision {
	c.metrics.ClassifierFallback(reason)
	return Decision{Tier: version.TierTiny, DecidedBy: DecidedByFallback, Reason: reason}
}

// buildUserContent renders the commit message and a pruned, truncated diff.
func (c *Classifier) buildUserContent(message, diff string) string {
	var b strings.Builder
	b.WriteString("Commit message:\n")
	b.WriteString(strings.TrimSpace(message))
	b.WriteString("\n\nDiff")

	pruned, stat, ok := PruneDiff(diff, c.opts.Prune)
	if ok {
		b.WriteString(" (" + stat.String() + ")")
	}
	b.WriteString(":\n")
	b.WriteString(TruncateMiddle(pruned, c.opts.MaxDiffChars))
	return b.String()
}

func (c *Classifier) classifyWithRetry(ctx context.Context, user string) (Decision, error) {
	var lastErr error
	for attempt := 0; attempt <= c.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := c.opts.RetryBackoff * time.Duration(1<<(attempt-1))
			select {
			case <-ctx.Done():
				return Decision{}, ctx.Err()
			case <-time.After(backoff):
			}
		}

		d, err := c.classifyOnce(ctx, user)
		if err == nil {
			return d, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return Decision{}, err
		}
		c.logger.Debug("classification attempt failed",
			"attempt", attempt+1, "max_retries", c.opts.MaxRetries, "error", err)
	}
	return Decision{}, fmt.Errorf("classification failed after %d attempts: %w", c.opts.MaxRetries+1, lastErr)
}

func (c *Classifier) classifyOnce(ctx context.Context, user string) (Decision, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	reply, err := c.backend.Complete(reqCtx, systemInstructions, user)
	if err != nil {
		if reqCtx.Err() != nil {
			return Decision{}, fmt.Errorf("%w: %v", reqCtx.Err(), err)
		}
		return Decision{}, err
	}
	tier, confidence, err := ParseReply(reply)
	if err != nil {
		return Decision{}, err
	}
	return Decision{Tier: tier, DecidedBy: DecidedByClassifier, Confidence: confidence}, nil
}

// ParseReply validates a model reply against the {tier, confidence} JSON
// contract. A surrounding markdown code fence is tolerated.
func ParseReply(reply string) (version.Tier, float64, error) {
	body := strings.TrimSpace(reply)
	body = strings.TrimPrefix(body, "```json")
	body = strings.TrimPrefix(body, "```")
	body = strings.TrimSuffix(body, "```")

	var out struct {
		Tier       *string  `json:"tier"`
		Confidence *float64 `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(body)), &out); err != nil {
		return "", 0, fmt.Errorf("%w: %v", errContract, err)
	}
	if out.Tier == nil || out.Confidence == nil {
		return "", 0, fmt.Errorf("%w: tier and confidence are required", errContract)
	}
	tier, err := version.ParseTier(*out.Tier)
	if err != nil || !tier.Valid() {
		return "", 0, fmt.Errorf("%w: tier %q", errContract, *out.Tier)
	}
	if *out.Confidence < 0 || *out.Confidence > 1 {
		return "", 0, fmt.Errorf("%w: confidence %v out of range", errContract, *out.Confidence)
	}
	return tier, *out.Confidence, nil
}

func cacheKey(user string) string {
	sum := sha256.Sum256([]byte(user))
	return hex.EncodeToString(sum[:])
}
