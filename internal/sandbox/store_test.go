package sandbox_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"otto/internal/db"
	"otto/internal/migrate"
	"otto/internal/platform"
	"otto/internal/sandbox"
)

func newTestStore(t *testing.T) (*sandbox.Store, context.Context) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	ctx := context.Background()
	require.NoError(t, migrate.Migrate(ctx, conn))
	return sandbox.New(conn), ctx
}

func TestCreateFindList(t *testing.T) {
	s, ctx := newTestStore(t)
	a, err := s.Create(ctx, platform.Root(platform.Assistants), platform.Attributes{"UniqueName": "bot", "FriendlyName": "Bot"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(a.SID, "UA"))
	assert.Equal(t, "Assistants/"+a.SID, a.Path)
	assert.Equal(t, "Bot", a.Property("friendly_name"))

	bySID, found, err := s.Find(ctx, platform.Root(platform.Assistants), a.SID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "bot", bySID.UniqueName)

	byName, found, err := s.Find(ctx, platform.Root(platform.Assistants), "bot")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, a.SID, byName.SID)

	_, found, err = s.Find(ctx, platform.Root(platform.Assistants), "missing")
	require.NoError(t, err)
	assert.False(t, found)

	_, err = s.Create(ctx, platform.Root(platform.Assistants), platform.Attributes{"FriendlyName": "Nameless"})
	require.NoError(t, err)
	_, found, err = s.Find(ctx, platform.Root(platform.Assistants), "")
	require.NoError(t, err)
	assert.False(t, found)

	for _, name := range []string{"one", "two", "three"} {
		_, err := s.Create(ctx, a.Child(platform.Tasks), platform.Attributes{"UniqueName": name})
		require.NoError(t, err)
	}
	tasks, err := s.List(ctx, a.Child(platform.Tasks))
	require.NoError(t, err)
	require.Len(t, tasks, 3)
	assert.Equal(t, []string{"one", "two", "three"}, []string{tasks[0].UniqueName, tasks[1].UniqueName, tasks[2].UniqueName})
	assert.True(t, strings.HasPrefix(tasks[0].SID, "UD"))
}

func TestUniqueNamePerCollection(t *testing.T) {
	s, ctx := newTestStore(t)
	a, err := s.Create(ctx, platform.Root(platform.Assistants), platform.Attributes{"UniqueName": "bot"})
	require.NoError(t, err)
	_, err = s.Create(ctx, platform.Root(platform.Assistants), platform.Attributes{"UniqueName": "bot"})
	assert.True(t, errors.Is(err, sandbox.ErrConflict))

	// same name is fine in a different collection
	_, err = s.Create(ctx, a.Child(platform.Tasks), platform.Attributes{"UniqueName": "bot"})
	require.NoError(t, err)

	// samples carry no unique name
	task, _, err := s.Find(ctx, a.Child(platform.Tasks), "bot")
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		_, err := s.Create(ctx, task.Child(platform.Samples), platform.Attributes{"TaggedText": "hi", "Language": "en-US"})
		require.NoError(t, err)
	}
}

func TestUpdateMergesProperties(t *testing.T) {
	s, ctx := newTestStore(t)
	a, err := s.Create(ctx, platform.Root(platform.Assistants), platform.Attributes{"UniqueName": "bot", "FriendlyName": "Bot"})
	require.NoError(t, err)
	updated, err := s.Update(ctx, a, platform.Attributes{"LogQueries": "false"})
	require.NoError(t, err)
	assert.Equal(t, "Bot", updated.Property("friendly_name"))
	assert.Equal(t, "false", updated.Property("log_queries"))
	assert.Equal(t, a.SID, updated.SID)

	_, err = s.Update(ctx, platform.Resource{Path: "Assistants/UAnope"}, platform.Attributes{})
	assert.True(t, errors.Is(err, platform.ErrNotFound))
}

func TestDeleteRefusesParentsWithChildren(t *testing.T) {
	s, ctx := newTestStore(t)
	a, err := s.Create(ctx, platform.Root(platform.Assistants), platform.Attributes{"UniqueName": "bot"})
	require.NoError(t, err)
	ft, err := s.Create(ctx, a.Child(platform.FieldTypes), platform.Attributes{"UniqueName": "colors"})
	require.NoError(t, err)
	v, err := s.Create(ctx, ft.Child(platform.FieldValues), platform.Attributes{"Value": "red", "Language": "en-US"})
	require.NoError(t, err)

	assert.True(t, errors.Is(s.Delete(ctx, ft), sandbox.ErrHasChildren))
	require.NoError(t, s.Delete(ctx, v))
	require.NoError(t, s.Delete(ctx, ft))
	require.NoError(t, s.Delete(ctx, a))
	assert.True(t, errors.Is(s.Delete(ctx, a), platform.ErrNotFound))
}

func TestCreateChecksHierarchy(t *testing.T) {
	s, ctx := newTestStore(t)
	_, err := s.Create(ctx, platform.Root(platform.Tasks), platform.Attributes{"UniqueName": "t"})
	assert.True(t, errors.Is(err, sandbox.ErrInvalidParent))

	a, err := s.Create(ctx, platform.Root(platform.Assistants), platform.Attributes{"UniqueName": "bot"})
	require.NoError(t, err)
	_, err = s.Create(ctx, a.Child(platform.Samples), platform.Attributes{"TaggedText": "hi"})
	assert.True(t, errors.Is(err, sandbox.ErrInvalidParent))

	_, err = s.Create(ctx, platform.Collection{Parent: "Assistants/UAgone", Kind: platform.Tasks}, platform.Attributes{"UniqueName": "t"})
	assert.True(t, errors.Is(err, platform.ErrNotFound))

	mb, err := s.Create(ctx, a.Child(platform.ModelBuilds), platform.Attributes{"UniqueName": "v1"})
	require.NoError(t, err)
	assert.Equal(t, "completed", mb.Property("status"))
}

func TestResolveByUniqueNames(t *testing.T) {
	s, ctx := newTestStore(t)
	a, err := s.Create(ctx, platform.Root(platform.Assistants), platform.Attributes{"UniqueName": "bot"})
	require.NoError(t, err)
	task, err := s.Create(ctx, a.Child(platform.Tasks), platform.Attributes{"UniqueName": "greet"})
	require.NoError(t, err)

	got, err := s.Resolve(ctx, "/Assistants/bot/Tasks/greet")
	require.NoError(t, err)
	assert.Equal(t, task.Path, got.Path)

	_, err = s.Resolve(ctx, "Assistants/bot/Tasks")
	assert.True(t, errors.Is(err, platform.ErrNotFound))
	_, err = s.Resolve(ctx, "Assistants/bot/Tasks/nope")
	assert.True(t, errors.Is(err, platform.ErrNotFound))
}
