package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bartekus/commitver/internal/classifier"
	"github.com/bartekus/commitver/internal/ledger"
	"github.com/bartekus/commitver/internal/source"
	"github.com/bartekus/commitver/internal/telemetry"
	"github.com/bartekus/commitver/internal/version"
)

var t0 = time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

var target = Target{
	Repo:           source.Repo{Owner: "acme", Name: "widgets"},
	Branch:         "main",
	InitialVersion: version.Parse("0.0"),
}

// fakeHost serves an in-memory branch. commits are stored oldest first.
type fakeHost struct {
	mu      sync.Mutex
	commits []source.Commit
	markers map[string]uint64
	// oldestFirst breaks the host contract by returning pages oldest first.
	oldestFirst bool
	lastSince   time.Time
	onDiff      func(sha string)
}

func (f *fakeHost) add(sha, msg string, at time.Time) {
	f.commits = append(f.commits, source.Commit{SHA: sha, Author: "Dev", AuthoredAt: at, Message: msg})
}

func (f *fakeHost) window(since time.Time, stop string) source.Window {
	w := source.Window{Pages: 1}
	for i := len(f.commits) - 1; i >= 0; i-- {
		c := f.commits[i]
		if !since.IsZero() && c.AuthoredAt.Before(since) {
			continue
		}
		w.Commits = append(w.Commits, c)
		if stop != "" && c.SHA == stop {
			w.StopFound = true
			break
		}
	}
	if f.oldestFirst {
		slices.Reverse(w.Commits)
	}
	return w
}

func (f *fakeHost) ListCommitsSince(ctx context.Context, _ source.Repo, _ string, since time.Time, stop string) (source.Window, error) {
	if err := ctx.Err(); err != nil {
		return source.Window{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastSince = since
	return f.window(since, stop), nil
}

func (f *fakeHost) ListAllCommits(ctx context.Context, _ source.Repo, _ string) (source.Window, error) {
	if err := ctx.Err(); err != nil {
		return source.Window{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.window(time.Time{}, ""), nil
}

func (f *fakeHost) FetchDiff(_ context.Context, _ source.Repo, sha string) string {
	if f.onDiff != nil {
		f.onDiff(sha)
	}
	return "diff for " + sha
}

func (f *fakeHost) FetchVersionMarker(_ context.Context, _ source.Repo, sha string, _ source.Marker, fallback uint64) uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m, ok := f.markers[sha]; ok {
		return m
	}
	return fallback
}

func disabledClassifier() *classifier.Classifier {
	return classifier.New(nil, classifier.DefaultOptions())
}

func clockAt(t time.Time) Option {
	return WithClock(func() time.Time { return t })
}

func seedCheckpoint(t *testing.T, store *ledger.Store, sha, v string, at time.Time) {
	t.Helper()
	_, err := store.Write(ledger.RepoHistory{
		Repo:   target.Repo.String(),
		Branch: "main",
		RunID:  "seed",
		Commits: []ledger.CommitRecord{
			{SHA: sha, AuthoredDate: at, Message: "seed", Version: version.Parse(v)},
		},
	}, at)
	require.NoError(t, err)
}

func versionsOf(t *testing.T, store *ledger.Store, name string) []string {
	t.Helper()
	h, err := store.Read(name)
	require.NoError(t, err)
	var out []string
	for _, c := range h.Commits {
		out = append(out, c.Version.String())
	}
	return out
}

func TestTrack_EndToEndScenario(t *testing.T) {
	store := ledger.NewStore(t.TempDir())
	seedCheckpoint(t, store, "abc", "2.3", t0)

	host := &fakeHost{}
	host.add("abc", "seed", t0)
	host.add("c1", "!fix: patch", t0.Add(time.Minute))
	host.add("c2", "!feat: add X", t0.Add(2*time.Minute))

	m := telemetry.NewMetrics()
	tr := NewTracker(host, disabledClassifier(), store, clockAt(t0.Add(time.Hour)), WithMetrics(m))
	res, err := tr.Track(context.Background(), target, TrackOptions{Lookback: 168 * time.Hour})
	require.NoError(t, err)

	require.Len(t, res.Files, 1)
	assert.Equal(t, []string{"2.3001", "2.3101"}, versionsOf(t, store, res.Files[0]))
	assert.Equal(t, "2.3", res.From.String())
	assert.Equal(t, "2.3101", res.To.String())
	assert.Equal(t, 2, res.Commits)
	assert.True(t, res.StopFound)
	assert.Equal(t, t0.Add(-SkewBuffer), host.lastSince)

	h, err := store.Read(res.Files[0])
	require.NoError(t, err)
	assert.Equal(t, version.TierFix, h.Commits[0].Tier)
	assert.Equal(t, classifier.DecidedByKeyword, h.Commits[1].DecidedBy)
	assert.Equal(t, res.RunID, h.RunID)
	assert.Equal(t, "diff for c1", h.Commits[0].Diff)
}

func TestTrack_ResumeIsIdempotent(t *testing.T) {
	store := ledger.NewStore(t.TempDir())
	seedCheckpoint(t, store, "abc", "2.3", t0)

	host := &fakeHost{}
	host.add("abc", "seed", t0)
	host.add("c1", "!fix: patch", t0.Add(time.Minute))

	tr := NewTracker(host, disabledClassifier(), store, clockAt(t0.Add(time.Hour)))
	first, err := tr.Track(context.Background(), target, TrackOptions{})
	require.NoError(t, err)
	require.Len(t, first.Files, 1)

	second, err := tr.Track(context.Background(), target, TrackOptions{})
	require.NoError(t, err)
	assert.Empty(t, second.Files)
	assert.Equal(t, "2.3001", second.To.String())

	names, err := store.List(target.Repo.String())
	require.NoError(t, err)
	assert.Len(t, names, 2)
}

func TestTrack_ClassifierDisabledGivesTiny(t *testing.T) {
	store := ledger.NewStore(t.TempDir())
	seedCheckpoint(t, store, "abc", "2.3", t0)

	host := &fakeHost{}
	host.add("abc", "seed", t0)
	host.add("c1", "update readme wording", t0.Add(time.Minute))

	res, err := NewTracker(host, disabledClassifier(), store, clockAt(t0.Add(time.Hour))).
		Track(context.Background(), target, TrackOptions{})
	require.NoError(t, err)
	require.Len(t, res.Files, 1)

	h, err := store.Read(res.Files[0])
	require.NoError(t, err)
	assert.Equal(t, version.TierTiny, h.Commits[0].Tier)
	assert.Equal(t, classifier.DecidedByFallback, h.Commits[0].DecidedBy)
	assert.Equal(t, "2.30001", h.Commits[0].Version.String())
}

func TestTrack_CheckpointMissingFailsUnlessResync(t *testing.T) {
	store := ledger.NewStore(t.TempDir())
	seedCheckpoint(t, store, "abc", "2.3", t0)

	host := &fakeHost{}
	host.add("x1", "!fix: rewritten", t0.Add(time.Minute))
	host.add("x2", "!fix: rewritten again", t0.Add(2*time.Minute))

	tr := NewTracker(host, disabledClassifier(), store, clockAt(t0.Add(time.Hour)))
	_, err := tr.Track(context.Background(), target, TrackOptions{})
	require.ErrorIs(t, err, ErrCheckpointNotFound)

	names, err := store.List(target.Repo.String())
	require.NoError(t, err)
	assert.Len(t, names, 1, "nothing is written on a checkpoint miss")

	res, err := tr.Track(context.Background(), target, TrackOptions{Resync: true})
	require.NoError(t, err)
	require.Len(t, res.Files, 1)
	assert.Equal(t, []string{"2.3001", "2.3002"}, versionsOf(t, store, res.Files[0]))
}

func TestTrack_EmptyWindowIsNoop(t *testing.T) {
	store := ledger.NewStore(t.TempDir())
	seedCheckpoint(t, store, "abc", "2.3", t0)

	res, err := NewTracker(&fakeHost{}, disabledClassifier(), store, clockAt(t0.Add(time.Hour))).
		Track(context.Background(), target, TrackOptions{})
	require.NoError(t, err)
	assert.Empty(t, res.Files)
}

func TestTrack_CorruptLedgerNeedsAllowReset(t *testing.T) {
	dir := t.TempDir()
	store := ledger.NewStore(dir)
	seedCheckpoint(t, store, "abc", "2.3", t0)
	corrupt := ledger.FileName(target.Repo.String(), t0.Add(time.Minute))
	require.NoError(t, os.WriteFile(filepath.Join(dir, corrupt), []byte("{"), 0o644))

	host := &fakeHost{}
	host.add("c1", "!feat: new", t0.Add(2*time.Minute))

	now := t0.Add(time.Hour)
	tr := NewTracker(host, disabledClassifier(), store, clockAt(now))
	_, err := tr.Track(context.Background(), target, TrackOptions{Lookback: 24 * time.Hour})
	require.ErrorIs(t, err, ledger.ErrCorruptLedger)

	res, err := tr.Track(context.Background(), target, TrackOptions{Lookback: 24 * time.Hour, AllowReset: true})
	require.NoError(t, err)
	require.Len(t, res.Files, 1)
	assert.Greater(t, res.Files[0], corrupt)
	assert.Equal(t, []string{"0.01"}, versionsOf(t, store, res.Files[0]))
	assert.Equal(t, now.Add(-24*time.Hour), host.lastSince)
}

func TestTrack_NewFileSortsAfterFutureStampedCheckpoint(t *testing.T) {
	store := ledger.NewStore(t.TempDir())
	// The checkpoint file was stamped later than the clock now reads.
	seedCheckpoint(t, store, "abc", "1.0", t0.Add(2*time.Hour))

	host := &fakeHost{}
	host.add("abc", "seed", t0.Add(2*time.Hour))
	host.add("c1", "!fix: x", t0.Add(3*time.Hour))

	res, err := NewTracker(host, disabledClassifier(), store, clockAt(t0)).
		Track(context.Background(), target, TrackOptions{})
	require.NoError(t, err)
	require.Len(t, res.Files, 1)
	assert.Equal(t, ledger.FileName(target.Repo.String(), t0.Add(2*time.Hour+time.Second)), res.Files[0])
}

func TestTrack_Cancelled(t *testing.T) {
	store := ledger.NewStore(t.TempDir())
	host := &fakeHost{}
	host.add("c1", "!fix: x", t0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewTracker(host, disabledClassifier(), store, clockAt(t0.Add(time.Hour))).
		Track(ctx, target, TrackOptions{Lookback: 24 * time.Hour})
	assert.ErrorIs(t, err, context.Canceled)

	names, err := store.List(target.Repo.String())
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestStep_DirectivesMarkersAndSkip(t *testing.T) {
	host := &fakeHost{markers: map[string]uint64{"c4": 5}}
	msgs := []string{
		"!feat: a",
		"release !version 3.25",
		"!fix: b",
		"!fix: c",
		"!minor: d",
		"!version sync",
		"[skip version] noise",
	}
	for i, m := range msgs {
		host.add(fmt.Sprintf("c%d", i+1), m, t0.Add(time.Duration(i)*time.Minute))
	}

	store := ledger.NewStore(t.TempDir())
	res, err := NewReplayer(host, disabledClassifier(), store, clockAt(t0.Add(time.Hour))).
		Replay(context.Background(), target, ReplayOptions{ChunkSize: 100})
	require.NoError(t, err)
	require.Len(t, res.Files, 1)

	h, err := store.Read(res.Files[0])
	require.NoError(t, err)
	var versions, deciders []string
	for _, c := range h.Commits {
		versions = append(versions, c.Version.String())
		deciders = append(deciders, c.DecidedBy)
	}
	assert.Equal(t, []string{"0.01", "3.25", "3.2501", "5.0", "5.001", "5.0", "5.0"}, versions)
	assert.Equal(t, []string{
		classifier.DecidedByKeyword,
		DecidedByDirective,
		classifier.DecidedByKeyword,
		DecidedByMarker,
		classifier.DecidedByKeyword,
		DecidedByDirective,
		classifier.DecidedByKeyword,
	}, deciders)
	assert.Equal(t, version.TierSkip, h.Commits[6].Tier)
	assert.Empty(t, h.Commits[3].Tier)
}

func TestReplay_OrderingIsLoadBearing(t *testing.T) {
	run := func(oldestFirst bool) []string {
		host := &fakeHost{oldestFirst: oldestFirst}
		host.add("c1", "!refactor: rework", t0)
		host.add("c2", "!fix: patch", t0.Add(time.Minute))

		store := ledger.NewStore(t.TempDir())
		res, err := NewReplayer(host, disabledClassifier(), store, clockAt(t0.Add(time.Hour))).
			Replay(context.Background(), target, ReplayOptions{ChunkSize: 10})
		require.NoError(t, err)
		require.Len(t, res.Files, 1)
		return versionsOf(t, store, res.Files[0])
	}

	correct := run(false)
	reversed := run(true)
	assert.Equal(t, []string{"0.1", "0.1001"}, correct)
	assert.Equal(t, []string{"0.0001", "0.1"}, reversed)
	assert.NotEqual(t, correct[len(correct)-1], reversed[len(reversed)-1])
}

func TestReplay_ChunksArchiveAndDeterminism(t *testing.T) {
	host := &fakeHost{}
	for i := range 5 {
		host.add(fmt.Sprintf("c%d", i), "!fix: step", t0.Add(time.Duration(i)*time.Minute))
	}
	store := ledger.NewStore(t.TempDir())
	rp := NewReplayer(host, disabledClassifier(), store, clockAt(t0.Add(time.Hour)))

	first, err := rp.Replay(context.Background(), target, ReplayOptions{ChunkSize: 2})
	require.NoError(t, err)
	assert.Len(t, first.Files, 3)
	assert.Equal(t, 5, first.Commits)
	assert.Equal(t, "0.0005", first.To.String())

	_, err = rp.Replay(context.Background(), target, ReplayOptions{ChunkSize: 2})
	require.ErrorIs(t, err, ErrLedgerExists)

	second, err := rp.Replay(context.Background(), target, ReplayOptions{ChunkSize: 2, Force: true})
	require.NoError(t, err)
	assert.NotEmpty(t, second.Archived)
	assert.Equal(t, first.Files, second.Files)
	assert.Equal(t, first.To, second.To)

	names, err := store.List(target.Repo.String())
	require.NoError(t, err)
	assert.Len(t, names, 3)
}

func TestReplay_CancelKeepsFlushedChunks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	host := &fakeHost{onDiff: func(sha string) {
		if sha == "c2" {
			cancel()
		}
	}}
	for i := range 5 {
		host.add(fmt.Sprintf("c%d", i), "!fix: step", t0.Add(time.Duration(i)*time.Minute))
	}
	store := ledger.NewStore(t.TempDir())

	res, err := NewReplayer(host, disabledClassifier(), store, clockAt(t0.Add(time.Hour))).
		Replay(ctx, target, ReplayOptions{ChunkSize: 2})
	require.ErrorIs(t, err, context.Canceled)
	assert.Len(t, res.Files, 1)

	names, err := store.List(target.Repo.String())
	require.NoError(t, err)
	assert.Equal(t, res.Files, names)
}

func TestReplay_CancelInsideChunkBoundaryCommitWritesNothing(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	host := &fakeHost{onDiff: func(sha string) {
		if sha == "c1" {
			cancel()
		}
	}}
	for i := range 4 {
		host.add(fmt.Sprintf("c%d", i), "!fix: step", t0.Add(time.Duration(i)*time.Minute))
	}
	store := ledger.NewStore(t.TempDir())

	res, err := NewReplayer(host, disabledClassifier(), store, clockAt(t0.Add(time.Hour))).
		Replay(ctx, target, ReplayOptions{ChunkSize: 2})
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, res.Files)
	assert.Equal(t, 1, res.Commits)

	names, err := store.List(target.Repo.String())
	require.NoError(t, err)
	assert.Empty(t, names, "a commit versioned after cancellation must not complete a chunk")
}
