package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"otto/internal/config"
	"otto/internal/db"
	"otto/internal/domain"
	"otto/internal/engine"
	"otto/internal/migrate"
	"otto/internal/platform"
	"otto/internal/platform/platformtest"
	"otto/internal/sandbox"
)

type testEnv struct {
	Engine   engine.Engine
	Store    *sandbox.Store
	Recorder *platformtest.Recorder
	Ctx      context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	ctx := context.Background()
	if err := migrate.Migrate(ctx, conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	store := sandbox.New(conn)
	rec := platformtest.NewRecorder(store)
	eng := engine.New(rec, zaptest.NewLogger(t))
	eng.Target = "sandbox"
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	eng = eng.WithJournal(conn)
	return testEnv{Engine: eng, Store: store, Recorder: rec, Ctx: ctx}
}

const deployDoc = `{
	"assistant": {"unique_name": "bot", "friendly_name": "Bot"},
	"field_type__colors": {"unique_name": "colors", "values": ["red", {"value": "crimson", "synonym_of": "red"}]},
	"task__greet": {
		"unique_name": "greet",
		"actions": {"actions": [{"say": "hello"}]},
		"samples": ["hi", "hello", "hey", "yo", "howdy", "hiya", "greetings", "good day", "sup", "hello there"]
	},
	"task__order": {
		"unique_name": "order",
		"actions": {"actions": [{"collect": {"name": "order", "questions": [], "on_complete": {"redirect": "task://greet"}}}]},
		"task_fields": [{"unique_name": "color", "field_type": "colors"}],
		"samples": ["I want {color}", "give me {color}", "{color} please"]
	},
	"model": {"unique_name": "v1"}
}`

func parse(t *testing.T, raw string) *config.Document {
	t.Helper()
	doc, err := config.Parse([]byte(raw))
	require.NoError(t, err)
	return doc
}

func TestDeployCreatesEverything(t *testing.T) {
	env := newTestEnv(t)
	res, err := env.Engine.Deploy(env.Ctx, parse(t, deployDoc), engine.DeployOptions{})
	require.NoError(t, err)
	assert.False(t, res.Replaced)
	assert.True(t, res.Report.Pass)
	require.Len(t, res.FieldTypes, 1)
	require.Len(t, res.Tasks, 2)
	assert.Equal(t, "v1", res.ModelBuild.UniqueName)

	var order []platform.Kind
	for _, c := range env.Recorder.Calls() {
		if c.Method == "Create" {
			order = append(order, c.Kind)
		}
	}
	require.NotEmpty(t, order)
	assert.Equal(t, platform.Assistants, order[0])
	assert.Equal(t, platform.ModelBuilds, order[len(order)-1])

	samples, err := env.Store.List(env.Ctx, res.Tasks[1].Child(platform.Samples))
	require.NoError(t, err)
	assert.Len(t, samples, 3)

	run, err := env.Engine.Repo.GetRun(env.Ctx, res.RunID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunCompleted, run.Status)
	assert.Equal(t, "sandbox", run.Target)
	evts, err := env.Engine.Repo.ListRunEvents(env.Ctx, res.RunID)
	require.NoError(t, err)
	assert.Equal(t, env.Recorder.Mutations(), len(evts))
}

func TestDeployValidationFailureMutatesNothing(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.Deploy(env.Ctx, parse(t, `{"assistant": {"friendly_name": "x"}}`), engine.DeployOptions{Overwrite: true})
	var verr *engine.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.False(t, verr.Report.Pass)
	assert.NotEmpty(t, verr.Report.Failures())
	assert.Empty(t, env.Recorder.Calls())
}

func TestDeployAsksBeforeOverwriting(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.Deploy(env.Ctx, parse(t, deployDoc), engine.DeployOptions{})
	require.NoError(t, err)
	env.Recorder.Reset()

	asked := ""
	env.Engine.Confirm = func(_ context.Context, name string) (bool, error) {
		asked = name
		return false, nil
	}
	res, err := env.Engine.Deploy(env.Ctx, parse(t, deployDoc), engine.DeployOptions{})
	assert.True(t, errors.Is(err, engine.ErrDeclined))
	assert.Equal(t, "bot", asked)
	assert.Equal(t, 0, env.Recorder.Mutations())
	run, err := env.Engine.Repo.GetRun(env.Ctx, res.RunID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunDeclined, run.Status)

	env.Engine.Confirm = nil
	_, err = env.Engine.Deploy(env.Ctx, parse(t, deployDoc), engine.DeployOptions{})
	assert.True(t, errors.Is(err, engine.ErrDeclined))

	env.Engine.Confirm = func(context.Context, string) (bool, error) { return false, errors.New("stdin closed") }
	_, err = env.Engine.Deploy(env.Ctx, parse(t, deployDoc), engine.DeployOptions{})
	assert.EqualError(t, err, "stdin closed")
	assert.Equal(t, 0, env.Recorder.Mutations())
}

func TestRedeployReplacesChildren(t *testing.T) {
	env := newTestEnv(t)
	first, err := env.Engine.Deploy(env.Ctx, parse(t, deployDoc), engine.DeployOptions{})
	require.NoError(t, err)

	smaller := `{
		"assistant": {"unique_name": "bot"},
		"task__greet": {"unique_name": "greet", "actions": {"actions": [{"say": "hi"}]}, "samples": ["hi"]},
		"model": {"unique_name": "v2"}
	}`
	env.Engine.Confirm = func(context.Context, string) (bool, error) { return true, nil }
	second, err := env.Engine.Deploy(env.Ctx, parse(t, smaller), engine.DeployOptions{})
	require.NoError(t, err)
	assert.True(t, second.Replaced)
	assert.Equal(t, first.Assistant.SID, second.Assistant.SID)

	tasks, err := env.Store.List(env.Ctx, second.Assistant.Child(platform.Tasks))
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "greet", tasks[0].UniqueName)
	fieldTypes, err := env.Store.List(env.Ctx, second.Assistant.Child(platform.FieldTypes))
	require.NoError(t, err)
	assert.Empty(t, fieldTypes)
	builds, err := env.Store.List(env.Ctx, second.Assistant.Child(platform.ModelBuilds))
	require.NoError(t, err)
	assert.Len(t, builds, 2)
}

func TestTeardownUnknownAssistantDeletesNothing(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.Deploy(env.Ctx, parse(t, deployDoc), engine.DeployOptions{})
	require.NoError(t, err)
	env.Recorder.Reset()

	_, err = env.Engine.Teardown(env.Ctx, "ghost")
	require.Error(t, err)
	assert.True(t, errors.Is(err, engine.ErrAssistantNotFound))
	assert.Contains(t, err.Error(), "ghost")
	assert.Equal(t, 0, env.Recorder.Count("Delete"))
}

func TestTeardownDeletesChildrenFirst(t *testing.T) {
	env := newTestEnv(t)
	deployed, err := env.Engine.Deploy(env.Ctx, parse(t, deployDoc), engine.DeployOptions{})
	require.NoError(t, err)
	env.Recorder.Reset()

	res, err := env.Engine.Teardown(env.Ctx, deployed.Assistant.SID)
	require.NoError(t, err)
	assert.Equal(t, "bot", res.Assistant.UniqueName)

	var deletes []platform.Kind
	for _, c := range env.Recorder.Calls() {
		if c.Method == "Delete" {
			deletes = append(deletes, c.Kind)
		}
	}
	assert.Equal(t, len(deletes), res.Deleted)
	require.NotEmpty(t, deletes)
	assert.Equal(t, platform.Assistants, deletes[len(deletes)-1])
	assert.Equal(t, platform.ModelBuilds, deletes[len(deletes)-2])
	// 10 + 3 samples, 1 field, 2 tasks, 2 values, 1 type, 1 build, 1 assistant
	assert.Equal(t, 21, res.Deleted)

	_, found, err := env.Store.Find(env.Ctx, platform.Root(platform.Assistants), "bot")
	require.NoError(t, err)
	assert.False(t, found)

	run, err := env.Engine.Repo.GetRun(env.Ctx, res.RunID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunTeardown, run.Action)
	assert.Equal(t, domain.RunCompleted, run.Status)
}

func TestDeployWithoutJournal(t *testing.T) {
	env := newTestEnv(t)
	eng := engine.New(env.Recorder, nil)
	res, err := eng.Deploy(env.Ctx, parse(t, deployDoc), engine.DeployOptions{})
	require.NoError(t, err)
	assert.Empty(t, res.RunID)

	res2, err := eng.Teardown(env.Ctx, "bot")
	require.NoError(t, err)
	assert.Empty(t, res2.RunID)
}
