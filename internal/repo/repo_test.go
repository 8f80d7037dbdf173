package repo_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"otto/internal/db"
	"otto/internal/domain"
	"otto/internal/events"
	"otto/internal/migrate"
	"otto/internal/repo"
)

func newTestRepo(t *testing.T) (repo.Repo, events.Writer, context.Context) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	ctx := context.Background()
	require.NoError(t, migrate.Migrate(ctx, conn))
	now := func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	return repo.Repo{DB: conn}, events.Writer{DB: conn, Now: now}, ctx
}

func TestRunLifecycle(t *testing.T) {
	r, w, ctx := newTestRepo(t)
	run := domain.Run{ID: "run-1", Action: domain.RunDeploy, Assistant: "bot", Target: "sandbox", Status: domain.RunRunning, StartedAt: "2024-01-01T00:00:00Z"}
	require.NoError(t, r.InsertRun(ctx, run))

	require.NoError(t, w.Append(ctx, run.ID, events.Event{Type: "created", Kind: "Assistants", UniqueName: "bot", SID: "UA1"}))
	require.NoError(t, w.Append(ctx, run.ID, events.Event{Type: "warning", Payload: events.EventPayload{"fields": []string{"city"}}}))

	require.NoError(t, r.FinishRun(ctx, run.ID, domain.RunCompleted, "", "2024-01-01T00:01:00Z"))
	got, err := r.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunCompleted, got.Status)
	assert.Equal(t, "2024-01-01T00:01:00Z", got.FinishedAt)
	assert.Empty(t, got.Error)

	evts, err := r.ListRunEvents(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, evts, 2)
	assert.Equal(t, "created", evts[0].Type)
	assert.Equal(t, "UA1", evts[0].SID)
	assert.Equal(t, "2024-01-01T00:00:00Z", evts[0].TS)
	assert.Equal(t, []any{"city"}, evts[1].Payload["fields"])
	assert.Empty(t, evts[1].ResourceKind)
}

func TestListRunsNewestFirst(t *testing.T) {
	r, _, ctx := newTestRepo(t)
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, r.InsertRun(ctx, domain.Run{
			ID: id, Action: domain.RunTeardown, Assistant: "bot", Target: "remote", Status: domain.RunFailed,
			Error: "boom", StartedAt: time.Date(2024, 1, 1, i, 0, 0, 0, time.UTC).Format(time.RFC3339),
		}))
	}
	runs, err := r.ListRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "c", runs[0].ID)
	assert.Equal(t, "b", runs[1].ID)
	assert.Equal(t, "boom", runs[0].Error)

	all, err := r.ListRuns(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestMissingRun(t *testing.T) {
	r, _, ctx := newTestRepo(t)
	_, err := r.GetRun(ctx, "nope")
	assert.True(t, errors.Is(err, repo.ErrNotFound))
	assert.True(t, errors.Is(r.FinishRun(ctx, "nope", domain.RunFailed, "x", "t"), repo.ErrNotFound))
}
