// Package resource creates, updates and tears down platform resources from
// typed document definitions.
//
// FullReplace: creating an Assistant, Task or FieldType that already exists
// updates it and then deletes every nested child it currently has before the
// children are rebuilt from the document. Anything created on the platform
// out-of-band under those resources is removed on the next deploy. Model
// builds are not nested children for this purpose and are never cleared.
package resource

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"otto/internal/domain"
	"otto/internal/platform"
)

// Op names a mutation reported to an Observer.
type Op string

const (
	OpCreated Op = "created"
	OpUpdated Op = "updated"
	OpDeleted Op = "deleted"
)

// Observer is told about every successful mutation.
type Observer func(op Op, r platform.Resource)

// Manager applies definitions against a Remote. Calls are sequential.
type Manager struct {
	Remote  platform.Remote
	Log     *zap.Logger
	Observe Observer
}

func (m *Manager) log() *zap.Logger {
	if m.Log == nil {
		return zap.NewNop()
	}
	return m.Log
}

func (m *Manager) notify(op Op, r platform.Resource) {
	m.log().Debug(string(op), zap.String("kind", string(r.Kind)), zap.String("unique_name", r.UniqueName), zap.String("sid", r.SID))
	if m.Observe != nil {
		m.Observe(op, r)
	}
}

// upsert updates the resource named uniqueName in c, or creates it when absent.
func (m *Manager) upsert(ctx context.Context, c platform.Collection, uniqueName string, attrs platform.Attributes) (platform.Resource, bool, error) {
	existing, found, err := m.Remote.Find(ctx, c, uniqueName)
	if err != nil {
		return platform.Resource{}, false, fmt.Errorf("find %s %q: %w", c.Kind, uniqueName, err)
	}
	if found {
		updated, err := m.Remote.Update(ctx, existing, attrs)
		if err != nil {
			return platform.Resource{}, true, fmt.Errorf("update %s %q: %w", c.Kind, uniqueName, err)
		}
		m.notify(OpUpdated, updated)
		return updated, true, nil
	}
	created, err := m.Remote.Create(ctx, c, attrs)
	if err != nil {
		return platform.Resource{}, false, fmt.Errorf("create %s %q: %w", c.Kind, uniqueName, err)
	}
	m.notify(OpCreated, created)
	return created, false, nil
}

func (m *Manager) create(ctx context.Context, c platform.Collection, attrs platform.Attributes) (platform.Resource, error) {
	created, err := m.Remote.Create(ctx, c, attrs)
	if err != nil {
		return platform.Resource{}, fmt.Errorf("create %s under %s: %w", c.Kind, c.Parent, err)
	}
	m.notify(OpCreated, created)
	return created, nil
}

func (m *Manager) delete(ctx context.Context, r platform.Resource) error {
	if err := m.Remote.Delete(ctx, r); err != nil {
		return fmt.Errorf("delete %s %s: %w", r.Kind, r.Path, err)
	}
	m.notify(OpDeleted, r)
	return nil
}

// clear deletes every child of r in the given kinds, depth first.
func (m *Manager) clear(ctx context.Context, r platform.Resource, kinds ...platform.Kind) error {
	for _, kind := range kinds {
		items, err := m.Remote.List(ctx, r.Child(kind))
		if err != nil {
			return fmt.Errorf("list %s of %s: %w", kind, r.Path, err)
		}
		for _, item := range items {
			if err := m.deleteTree(ctx, item); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *Manager) deleteTree(ctx context.Context, r platform.Resource) error {
	if err := m.clear(ctx, r, r.Kind.Children()...); err != nil {
		return err
	}
	return m.delete(ctx, r)
}

// teardown looks name up in c and deletes it with its children. An absent
// resource is not an error.
func (m *Manager) teardown(ctx context.Context, c platform.Collection, name string) (bool, error) {
	existing, found, err := m.Remote.Find(ctx, c, name)
	if err != nil {
		return false, fmt.Errorf("find %s %q: %w", c.Kind, name, err)
	}
	if !found {
		m.log().Debug("nothing to tear down", zap.String("kind", string(c.Kind)), zap.String("unique_name", name))
		return false, nil
	}
	return true, m.deleteTree(ctx, existing)
}

// FindAssistant looks an assistant up by unique name or sid.
func (m *Manager) FindAssistant(ctx context.Context, id string) (platform.Resource, bool, error) {
	return m.Remote.Find(ctx, platform.Root(platform.Assistants), id)
}

// CreateAssistant upserts the assistant. An existing assistant loses all of
// its tasks and field types first.
func (m *Manager) CreateAssistant(ctx context.Context, a domain.Assistant) (platform.Resource, error) {
	attrs, err := assistantAttributes(a)
	if err != nil {
		return platform.Resource{}, fmt.Errorf("assistant %q attributes: %w", a.UniqueName, err)
	}
	existing, found, err := m.FindAssistant(ctx, a.UniqueName)
	if err != nil {
		return platform.Resource{}, fmt.Errorf("find assistant %q: %w", a.UniqueName, err)
	}
	if !found {
		return m.create(ctx, platform.Root(platform.Assistants), attrs)
	}
	// fields reference field types, so tasks go first
	if err := m.clear(ctx, existing, platform.Tasks, platform.FieldTypes); err != nil {
		return platform.Resource{}, err
	}
	updated, err := m.Remote.Update(ctx, existing, attrs)
	if err != nil {
		return platform.Resource{}, fmt.Errorf("update assistant %q: %w", a.UniqueName, err)
	}
	m.notify(OpUpdated, updated)
	return updated, nil
}

// TeardownAssistant deletes the assistant with everything under it.
func (m *Manager) TeardownAssistant(ctx context.Context, id string) (bool, error) {
	return m.teardown(ctx, platform.Root(platform.Assistants), id)
}

// CreateFieldType upserts f under the assistant and rebuilds its values.
func (m *Manager) CreateFieldType(ctx context.Context, assistant platform.Resource, f domain.FieldType) (platform.Resource, error) {
	ft, found, err := m.upsert(ctx, assistant.Child(platform.FieldTypes), f.UniqueName, fieldTypeAttributes(f))
	if err != nil {
		return platform.Resource{}, err
	}
	if found {
		if err := m.clear(ctx, ft, platform.FieldValues); err != nil {
			return platform.Resource{}, err
		}
	}
	// synonyms may name a value created earlier in the same type
	sids := map[string]string{}
	for _, v := range f.Values {
		synonym := v.SynonymOf
		if sid, ok := sids[synonym]; ok {
			synonym = sid
		}
		created, err := m.create(ctx, ft.Child(platform.FieldValues), fieldValueAttributes(v, synonym))
		if err != nil {
			return platform.Resource{}, err
		}
		if _, ok := sids[v.Value]; !ok {
			sids[v.Value] = created.SID
		}
	}
	return ft, nil
}

func (m *Manager) TeardownFieldType(ctx context.Context, assistant platform.Resource, name string) (bool, error) {
	return m.teardown(ctx, assistant.Child(platform.FieldTypes), name)
}

// CreateTask upserts t under the assistant, clears its samples and fields,
// then creates fields before samples.
func (m *Manager) CreateTask(ctx context.Context, assistant platform.Resource, t domain.Task) (platform.Resource, error) {
	task, found, err := m.upsert(ctx, assistant.Child(platform.Tasks), t.UniqueName, taskAttributes(t))
	if err != nil {
		return platform.Resource{}, err
	}
	if found {
		if err := m.clear(ctx, task, platform.Samples, platform.Fields); err != nil {
			return platform.Resource{}, err
		}
	}
	for _, f := range t.TaskFields {
		if _, err := m.create(ctx, task.Child(platform.Fields), taskFieldAttributes(f)); err != nil {
			return platform.Resource{}, err
		}
	}
	texts := make([]string, 0, len(t.Samples))
	for _, s := range t.Samples {
		if _, err := m.create(ctx, task.Child(platform.Samples), sampleAttributes(s)); err != nil {
			return platform.Resource{}, err
		}
		texts = append(texts, s.TaggedText)
	}
	if missing := domain.UndeclaredFields(texts, t.FieldNames()); len(missing) > 0 {
		m.log().Warn("samples use fields that are not declared",
			zap.String("task", t.UniqueName), zap.Strings("fields", missing))
	}
	return task, nil
}

func (m *Manager) TeardownTask(ctx context.Context, assistant platform.Resource, name string) (bool, error) {
	return m.teardown(ctx, assistant.Child(platform.Tasks), name)
}

// CreateModelBuild upserts the model build. Call it after every other
// resource of the assistant is in place.
func (m *Manager) CreateModelBuild(ctx context.Context, assistant platform.Resource, mb domain.ModelBuild) (platform.Resource, error) {
	r, _, err := m.upsert(ctx, assistant.Child(platform.ModelBuilds), mb.UniqueName, modelBuildAttributes(mb))
	return r, err
}

// DeleteAll deletes every resource of kind under parent, children first.
func (m *Manager) DeleteAll(ctx context.Context, parent platform.Resource, kind platform.Kind) error {
	return m.clear(ctx, parent, kind)
}

// Delete removes a single resource that has no children left.
func (m *Manager) Delete(ctx context.Context, r platform.Resource) error {
	return m.delete(ctx, r)
}
