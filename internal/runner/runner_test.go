package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bartekus/commitver/internal/engine"
	"github.com/bartekus/commitver/internal/ledger"
	"github.com/bartekus/commitver/internal/version"
)

// mockJob implements Job for testing.
type mockJob struct {
	id     string
	result JobResult
	delay  time.Duration
	called atomic.Bool
}

func (m *mockJob) ID() string { return m.id }

func (m *mockJob) Run(ctx context.Context) JobResult {
	m.called.Store(true)
	if m.delay > 0 {
		time.Sleep(m.delay)
	}
	return m.result
}

func pass(id string) *mockJob {
	return &mockJob{id: id, result: JobResult{Repo: id, Status: StatusPass, Commits: 1, From: "0.0", To: "0.01"}}
}

func fail(id string, code int) *mockJob {
	return &mockJob{id: id, result: JobResult{Repo: id, Status: StatusFail, ExitCode: code, Note: "boom"}}
}

func TestRunner_RunAll(t *testing.T) {
	store := NewStateStore(t.TempDir())
	j1, j2 := pass("acme/a"), pass("acme/b")

	var out bytes.Buffer
	r := NewRunner([]Job{j1, j2}, store, &out)
	require.NoError(t, r.RunAll(context.Background()))

	assert.True(t, j1.called.Load())
	assert.True(t, j2.called.Load())

	last, err := store.ReadLastRun()
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, "pass", last.Status)
	assert.Equal(t, []string{"acme/a", "acme/b"}, last.Repos)
	assert.Empty(t, last.Failed)

	res, err := store.ReadResult("acme/b")
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, StatusPass, res.Status)
	assert.Contains(t, out.String(), "PASS: acme/a (1 commits, 0.0 -> 0.01)")
}

func TestRunner_RunAll_Failure(t *testing.T) {
	store := NewStateStore(t.TempDir())
	j1, j2, j3 := fail("acme/a", ExitCheckpointNotFound), pass("acme/b"), fail("acme/c", ExitGeneric)

	var out bytes.Buffer
	r := NewRunner([]Job{j1, j2, j3}, store, &out)
	err := r.RunAll(context.Background())
	require.Error(t, err)

	var runErr *RunError
	require.ErrorAs(t, err, &runErr)
	assert.Equal(t, []string{"acme/a", "acme/c"}, runErr.Failed)
	assert.Equal(t, ExitCheckpointNotFound, runErr.ExitCode())

	assert.True(t, j2.called.Load(), "other repositories still run")

	last, err := store.ReadLastRun()
	require.NoError(t, err)
	assert.Equal(t, "fail", last.Status)
	assert.Equal(t, []string{"acme/a", "acme/c"}, last.Failed)
	assert.Contains(t, out.String(), "FAIL: acme/a (exit 3)\n  boom\n")
}

func TestRunner_ConcurrentOutputKeepsJobOrder(t *testing.T) {
	store := NewStateStore(t.TempDir())
	slow := pass("acme/slow")
	slow.delay = 30 * time.Millisecond
	fast := pass("acme/fast")

	var out bytes.Buffer
	r := NewRunner([]Job{slow, fast}, store, &out, WithConcurrency(2))
	require.NoError(t, r.RunAll(context.Background()))

	last, err := store.ReadLastRun()
	require.NoError(t, err)
	assert.Equal(t, []string{"acme/slow", "acme/fast"}, last.Repos)
	assert.Less(t, bytes.Index(out.Bytes(), []byte("acme/slow")), bytes.Index(out.Bytes(), []byte("acme/fast")))
}

func TestRunner_Resume(t *testing.T) {
	store := NewStateStore(t.TempDir())
	require.NoError(t, store.WriteLastRun(LastRun{
		Status: "fail",
		Repos:  []string{"acme/a", "acme/b"},
		Failed: []string{"acme/b"},
	}))

	j1, j2 := pass("acme/a"), pass("acme/b")
	r := NewRunner([]Job{j1, j2}, store, &bytes.Buffer{})
	require.NoError(t, r.Resume(context.Background()))

	assert.False(t, j1.called.Load())
	assert.True(t, j2.called.Load())

	last, err := store.ReadLastRun()
	require.NoError(t, err)
	assert.Equal(t, "pass", last.Status)
	assert.Equal(t, []string{"acme/b"}, last.Repos)
}

func TestRunner_ResumeWithoutFailures(t *testing.T) {
	store := NewStateStore(t.TempDir())
	j := pass("acme/a")

	var out bytes.Buffer
	r := NewRunner([]Job{j}, store, &out)
	require.NoError(t, r.Resume(context.Background()))
	assert.False(t, j.called.Load())
	assert.Contains(t, out.String(), "No failed repositories")
}

func TestRunner_RunList(t *testing.T) {
	store := NewStateStore(t.TempDir())
	j1, j2 := pass("acme/a"), pass("acme/b")
	r := NewRunner([]Job{j1, j2}, store, &bytes.Buffer{})

	require.NoError(t, r.RunList(context.Background(), []string{"acme/b"}))
	assert.False(t, j1.called.Load())
	assert.True(t, j2.called.Load())

	assert.Error(t, r.RunList(context.Background(), []string{"acme/missing"}))
}

func TestStateStore_ResetAndMissing(t *testing.T) {
	store := NewStateStore(t.TempDir())
	last, err := store.ReadLastRun()
	require.NoError(t, err)
	assert.Nil(t, last)

	require.NoError(t, store.WriteResult(JobResult{Repo: "acme/a", Status: StatusPass}))
	require.NoError(t, store.Reset())

	res, err := store.ReadResult("acme/a")
	require.NoError(t, err)
	assert.Nil(t, res)
}

func TestResultOf(t *testing.T) {
	done := engine.Result{
		RunID:   "r1",
		Files:   []string{"20260101T000000Z_acme__a.json"},
		Commits: 2,
		From:    version.Parse("2.3"),
		To:      version.Parse("2.3101"),
	}

	tests := []struct {
		name   string
		res    engine.Result
		err    error
		status JobStatus
		code   int
		note   string
	}{
		{name: "pass", res: done, status: StatusPass},
		{name: "nothing new", res: engine.Result{RunID: "r2"}, status: StatusSkip, note: "no new commits"},
		{name: "checkpoint miss", err: fmt.Errorf("acme/a: %w", engine.ErrCheckpointNotFound), status: StatusFail, code: 3},
		{name: "corrupt ledger", err: fmt.Errorf("x: %w", ledger.ErrCorruptLedger), status: StatusFail, code: 4},
		{name: "other", err: errors.New("disk full"), status: StatusFail, code: 1, note: "disk full"},
		{name: "fetch error", res: func() engine.Result { r := done; r.FetchErr = errors.New("403"); return r }(), status: StatusPass, note: "fetch stopped early: 403"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := resultOf("acme/a", tt.res, tt.err)
			assert.Equal(t, "acme/a", got.Repo)
			assert.Equal(t, tt.status, got.Status)
			assert.Equal(t, tt.code, got.ExitCode)
			if tt.note != "" {
				assert.Contains(t, got.Note, tt.note)
			}
		})
	}

	got := resultOf("acme/a", done, nil)
	assert.Equal(t, "2.3", got.From)
	assert.Equal(t, "2.3101", got.To)
}

func TestRunner_RunErrorUnwraps(t *testing.T) {
	store := NewStateStore(t.TempDir())
	cause := fmt.Errorf("acme/a: %w", engine.ErrCheckpointNotFound)
	j := &mockJob{id: "acme/a", result: resultOf("acme/a", engine.Result{}, cause)}

	err := NewRunner([]Job{j}, store, &bytes.Buffer{}).RunAll(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, engine.ErrCheckpointNotFound)
	assert.Contains(t, err.Error(), "checkpoint commit not found")
}
