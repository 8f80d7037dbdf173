package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"otto/internal/config"
	"otto/internal/domain"
	"otto/internal/events"
	"otto/internal/platform"
	"otto/internal/repo"
	"otto/internal/resource"
	"otto/internal/validate"
)

var (
	// ErrDeclined is returned when the user refuses to overwrite an existing assistant.
	ErrDeclined = errors.New("overwrite declined")
	// ErrAssistantNotFound is returned by Teardown for an unknown identifier.
	ErrAssistantNotFound = errors.New("assistant not found")
)

// ValidationError carries the report of a document that failed validation.
type ValidationError struct {
	Report validate.Report
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("configuration failed validation with %d failure(s)", len(e.Report.Failures()))
}

// ConfirmFunc asks whether an existing assistant may be overwritten.
type ConfirmFunc func(ctx context.Context, assistant string) (bool, error)

type Engine struct {
	Remote platform.Remote
	// Repo is nil when runs are not journaled.
	Repo    *repo.Repo
	Events  events.Writer
	Log     *zap.Logger
	Confirm ConfirmFunc
	// Target labels journaled runs, e.g. "remote" or "sandbox".
	Target string
	Now    func() time.Time
}

func New(remote platform.Remote, log *zap.Logger) Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return Engine{Remote: remote, Log: log, Target: "remote", Now: time.Now}
}

// WithJournal records runs and their steps in the workspace database.
func (e Engine) WithJournal(db *sql.DB) Engine {
	e.Repo = &repo.Repo{DB: db}
	e.Events = events.Writer{DB: db, Now: e.Now}
	return e
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) log() *zap.Logger {
	if e.Log == nil {
		return zap.NewNop()
	}
	return e.Log
}

type DeployOptions struct {
	// Overwrite replaces an existing assistant without asking.
	Overwrite bool
}

type DeployResult struct {
	RunID      string              `json:"run_id,omitempty"`
	Report     validate.Report     `json:"report"`
	Replaced   bool                `json:"replaced"`
	Assistant  platform.Resource   `json:"assistant"`
	FieldTypes []platform.Resource `json:"field_types"`
	Tasks      []platform.Resource `json:"tasks"`
	ModelBuild platform.Resource   `json:"model_build"`
}

// Deploy validates doc and then creates or replaces its assistant, field
// types, tasks and model build, in that order. Nothing is mutated when
// validation fails or an overwrite is declined. Remote failures after that
// point leave a partial deployment.
func (e Engine) Deploy(ctx context.Context, doc *config.Document, opts DeployOptions) (DeployResult, error) {
	res := DeployResult{Report: validate.Validate(doc)}
	if !res.Report.Pass {
		return res, &ValidationError{Report: res.Report}
	}
	plan, err := doc.Plan()
	if err != nil {
		return res, err
	}
	name := plan.Assistant.UniqueName
	log := e.log().With(zap.String("assistant", name))

	runID, err := e.startRun(ctx, domain.RunDeploy, name)
	if err != nil {
		return res, err
	}
	res.RunID = runID
	mgr := e.manager(ctx, runID, log)

	_, exists, err := mgr.FindAssistant(ctx, name)
	if err != nil {
		return res, e.finishRun(ctx, runID, fmt.Errorf("find assistant %q: %w", name, err))
	}
	if exists && !opts.Overwrite {
		ok := false
		if e.Confirm != nil {
			if ok, err = e.Confirm(ctx, name); err != nil {
				return res, e.finishRun(ctx, runID, err)
			}
		}
		if !ok {
			return res, e.finishRun(ctx, runID, ErrDeclined)
		}
	}
	res.Replaced = exists

	log.Info("deploying", zap.Bool("replace", exists), zap.Int("field_types", len(plan.FieldTypes)), zap.Int("tasks", len(plan.Tasks)))
	if res.Assistant, err = mgr.CreateAssistant(ctx, plan.Assistant); err != nil {
		return res, e.finishRun(ctx, runID, err)
	}
	for _, ft := range plan.FieldTypes {
		r, err := mgr.CreateFieldType(ctx, res.Assistant, ft)
		if err != nil {
			return res, e.finishRun(ctx, runID, err)
		}
		res.FieldTypes = append(res.FieldTypes, r)
	}
	for _, t := range plan.Tasks {
		r, err := mgr.CreateTask(ctx, res.Assistant, t)
		if err != nil {
			return res, e.finishRun(ctx, runID, err)
		}
		res.Tasks = append(res.Tasks, r)
	}
	if res.ModelBuild, err = mgr.CreateModelBuild(ctx, res.Assistant, plan.Model); err != nil {
		return res, e.finishRun(ctx, runID, err)
	}
	log.Info("deployed", zap.String("sid", res.Assistant.SID))
	return res, e.finishRun(ctx, runID, nil)
}

type TeardownResult struct {
	RunID     string            `json:"run_id,omitempty"`
	Assistant platform.Resource `json:"assistant"`
	Deleted   int               `json:"deleted"`
}

// Teardown deletes the assistant identified by unique name or sid together
// with every resource under it. An unknown identifier fails before any delete.
func (e Engine) Teardown(ctx context.Context, id string) (TeardownResult, error) {
	var res TeardownResult
	assistants, err := e.Remote.List(ctx, platform.Root(platform.Assistants))
	if err != nil {
		return res, fmt.Errorf("list assistants: %w", err)
	}
	found := false
	for _, a := range assistants {
		if a.UniqueName == id || a.SID == id {
			res.Assistant, found = a, true
			break
		}
	}
	if !found {
		return res, fmt.Errorf("%w: %s", ErrAssistantNotFound, id)
	}
	log := e.log().With(zap.String("assistant", res.Assistant.UniqueName))

	runID, err := e.startRun(ctx, domain.RunTeardown, res.Assistant.UniqueName)
	if err != nil {
		return res, err
	}
	res.RunID = runID
	mgr := e.manager(ctx, runID, log)
	count := mgr.Observe
	mgr.Observe = func(op resource.Op, r platform.Resource) {
		res.Deleted++
		count(op, r)
	}

	steps := []struct {
		kind     platform.Kind
		children []platform.Kind
	}{
		{platform.Tasks, []platform.Kind{platform.Samples, platform.Fields}},
		{platform.FieldTypes, []platform.Kind{platform.FieldValues}},
	}
	for _, step := range steps {
		items, err := e.Remote.List(ctx, res.Assistant.Child(step.kind))
		if err != nil {
			return res, e.finishRun(ctx, runID, fmt.Errorf("list %s: %w", step.kind, err))
		}
		for _, item := range items {
			for _, child := range step.children {
				if err := mgr.DeleteAll(ctx, item, child); err != nil {
					return res, e.finishRun(ctx, runID, err)
				}
			}
			if err := mgr.Delete(ctx, item); err != nil {
				return res, e.finishRun(ctx, runID, err)
			}
		}
	}
	if err := mgr.DeleteAll(ctx, res.Assistant, platform.ModelBuilds); err != nil {
		return res, e.finishRun(ctx, runID, err)
	}
	if err := mgr.Delete(ctx, res.Assistant); err != nil {
		return res, e.finishRun(ctx, runID, err)
	}
	log.Info("torn down", zap.Int("deleted", res.Deleted))
	return res, e.finishRun(ctx, runID, nil)
}

func (e Engine) manager(ctx context.Context, runID string, log *zap.Logger) *resource.Manager {
	return &resource.Manager{
		Remote: e.Remote,
		Log:    log,
		Observe: func(op resource.Op, r platform.Resource) {
			e.appendEvent(ctx, runID, events.Event{Type: string(op), Kind: string(r.Kind), UniqueName: r.UniqueName, SID: r.SID})
		},
	}
}
