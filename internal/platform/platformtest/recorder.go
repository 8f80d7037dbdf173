// Package platformtest provides helpers for tests that drive a platform.Remote.
package platformtest

import (
	"context"
	"sync"

	"otto/internal/platform"
)

// Call is one recorded Remote invocation.
type Call struct {
	Method string
	Kind   platform.Kind
	Target string
}

// Recorder wraps a Remote and records every call made through it.
type Recorder struct {
	Remote platform.Remote

	mu    sync.Mutex
	calls []Call
}

func NewRecorder(r platform.Remote) *Recorder {
	return &Recorder{Remote: r}
}

func (r *Recorder) record(c Call) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, c)
}

// Calls returns a copy of the recorded calls.
func (r *Recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Call(nil), r.calls...)
}

// Count returns how many calls used method.
func (r *Recorder) Count(method string) int {
	n := 0
	for _, c := range r.Calls() {
		if c.Method == method {
			n++
		}
	}
	return n
}

// Mutations counts Create, Update and Delete calls.
func (r *Recorder) Mutations() int {
	return r.Count("Create") + r.Count("Update") + r.Count("Delete")
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = nil
}

func (r *Recorder) List(ctx context.Context, c platform.Collection) ([]platform.Resource, error) {
	r.record(Call{Method: "List", Kind: c.Kind, Target: c.Path()})
	return r.Remote.List(ctx, c)
}

func (r *Recorder) Find(ctx context.Context, c platform.Collection, id string) (platform.Resource, bool, error) {
	r.record(Call{Method: "Find", Kind: c.Kind, Target: c.Path() + "/" + id})
	return r.Remote.Find(ctx, c, id)
}

func (r *Recorder) Create(ctx context.Context, c platform.Collection, attrs platform.Attributes) (platform.Resource, error) {
	r.record(Call{Method: "Create", Kind: c.Kind, Target: c.Path()})
	return r.Remote.Create(ctx, c, attrs)
}

func (r *Recorder) Update(ctx context.Context, res platform.Resource, attrs platform.Attributes) (platform.Resource, error) {
	r.record(Call{Method: "Update", Kind: res.Kind, Target: res.Path})
	return r.Remote.Update(ctx, res, attrs)
}

func (r *Recorder) Delete(ctx context.Context, res platform.Resource) error {
	r.record(Call{Method: "Delete", Kind: res.Kind, Target: res.Path})
	return r.Remote.Delete(ctx, res)
}

var _ platform.Remote = (*Recorder)(nil)
