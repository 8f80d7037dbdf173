package platform

import (
	"context"
	"errors"
	"strings"
)

// ErrUnauthorized is returned when the platform rejects the credentials.
var ErrUnauthorized = errors.New("platform rejected credentials")

// ErrNotFound is returned by operations addressing a single resource that is absent.
// Lookups use Find, which reports absence without an error.
var ErrNotFound = errors.New("not found")

// Kind names a collection segment of the platform's resource hierarchy.
type Kind string

const (
	Assistants  Kind = "Assistants"
	Tasks       Kind = "Tasks"
	FieldTypes  Kind = "FieldTypes"
	ModelBuilds Kind = "ModelBuilds"
	Samples     Kind = "Samples"
	Fields      Kind = "Fields"
	FieldValues Kind = "FieldValues"
)

var listKeys = map[Kind]string{
	Assistants:  "assistants",
	Tasks:       "tasks",
	FieldTypes:  "field_types",
	ModelBuilds: "model_builds",
	Samples:     "samples",
	Fields:      "fields",
	FieldValues: "field_values",
}

var children = map[Kind][]Kind{
	Assistants: {Tasks, FieldTypes, ModelBuilds},
	Tasks:      {Samples, Fields},
	FieldTypes: {FieldValues},
}

// ListKey is the JSON key that holds a page of this kind.
func (k Kind) ListKey() string { return listKeys[k] }

// Children lists the kinds nested under this kind.
func (k Kind) Children() []Kind { return children[k] }

// Valid reports whether k belongs to the hierarchy.
func (k Kind) Valid() bool {
	_, ok := listKeys[k]
	return ok
}

// Collection addresses the resources of one kind under a parent resource path.
type Collection struct {
	Parent string
	Kind   Kind
}

// Root returns the top-level collection of kind.
func Root(kind Kind) Collection { return Collection{Kind: kind} }

// Path is the collection path relative to the API base, e.g. Assistants/UA1/Tasks.
func (c Collection) Path() string {
	if c.Parent == "" {
		return string(c.Kind)
	}
	return c.Parent + "/" + string(c.Kind)
}

// Resource is a remote handle.
type Resource struct {
	Kind       Kind           `json:"kind"`
	SID        string         `json:"sid"`
	UniqueName string         `json:"unique_name,omitempty"`
	Path       string         `json:"path"`
	Properties map[string]any `json:"properties,omitempty"`
}

// Child returns a nested collection of r.
func (r Resource) Child(kind Kind) Collection {
	return Collection{Parent: r.Path, Kind: kind}
}

// Property returns a string property, or "" when absent.
func (r Resource) Property(name string) string {
	s, _ := r.Properties[name].(string)
	return s
}

// Attributes are write parameters in the platform's wire naming (UniqueName, TaggedText...).
type Attributes map[string]string

// Remote is the platform surface the deployer drives. Calls are synchronous and
// are never retried here.
type Remote interface {
	List(ctx context.Context, c Collection) ([]Resource, error)
	// Find looks a resource up by sid or unique name. Absence is reported as
	// found=false with a nil error so it cannot be confused with a transport failure.
	Find(ctx context.Context, c Collection, id string) (Resource, bool, error)
	Create(ctx context.Context, c Collection, attrs Attributes) (Resource, error)
	Update(ctx context.Context, r Resource, attrs Attributes) (Resource, error)
	Delete(ctx context.Context, r Resource) error
}

// SplitPath turns a resource path into its collection and id.
func SplitPath(path string) (Collection, string, bool) {
	segs := strings.Split(strings.Trim(path, "/"), "/")
	if len(segs) < 2 || len(segs)%2 != 0 {
		return Collection{}, "", false
	}
	kind := Kind(segs[len(segs)-2])
	if !kind.Valid() {
		return Collection{}, "", false
	}
	return Collection{Parent: strings.Join(segs[:len(segs)-2], "/"), Kind: kind}, segs[len(segs)-1], true
}

var _ Remote = (*Client)(nil)
