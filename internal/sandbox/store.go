package sandbox

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	"otto/internal/platform"
)

var (
	// ErrConflict is returned when a unique name is already taken in a collection.
	ErrConflict = errors.New("unique name already in use")
	// ErrHasChildren is returned when deleting a resource that still owns nested resources.
	ErrHasChildren = errors.New("resource still has nested resources")
	// ErrInvalidParent is returned when a kind is not allowed under the parent.
	ErrInvalidParent = errors.New("kind not allowed under parent")
)

var sidPrefixes = map[platform.Kind]string{
	platform.Assistants:  "UA",
	platform.FieldTypes:  "UB",
	platform.FieldValues: "UC",
	platform.Tasks:       "UD",
	platform.Fields:      "UE",
	platform.Samples:     "UF",
	platform.ModelBuilds: "UG",
}

// Store emulates the platform's resource hierarchy in the workspace database.
type Store struct {
	DB  *sql.DB
	Now func() time.Time
}

func New(db *sql.DB) *Store {
	return &Store{DB: db, Now: time.Now}
}

func (s *Store) now() string {
	if s.Now != nil {
		return s.Now().UTC().Format(time.RFC3339)
	}
	return time.Now().UTC().Format(time.RFC3339)
}

const selectColumns = `SELECT sid,path,kind,COALESCE(unique_name,''),properties_json FROM sandbox_resources`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanResource(row rowScanner) (platform.Resource, error) {
	var r platform.Resource
	var kind, props string
	if err := row.Scan(&r.SID, &r.Path, &kind, &r.UniqueName, &props); err != nil {
		return r, err
	}
	r.Kind = platform.Kind(kind)
	if err := json.Unmarshal([]byte(props), &r.Properties); err != nil {
		return r, fmt.Errorf("decode properties of %s: %w", r.SID, err)
	}
	return r, nil
}

func (s *Store) List(ctx context.Context, c platform.Collection) ([]platform.Resource, error) {
	rows, err := s.DB.QueryContext(ctx, selectColumns+` WHERE parent_path=? AND kind=? ORDER BY seq`, c.Parent, string(c.Kind))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []platform.Resource
	for rows.Next() {
		r, err := scanResource(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) Find(ctx context.Context, c platform.Collection, id string) (platform.Resource, bool, error) {
	if id == "" {
		return platform.Resource{}, false, nil
	}
	row := s.DB.QueryRowContext(ctx, selectColumns+` WHERE parent_path=? AND kind=? AND (sid=? OR unique_name=?) LIMIT 1`,
		c.Parent, string(c.Kind), id, id)
	r, err := scanResource(row)
	if errors.Is(err, sql.ErrNoRows) {
		return platform.Resource{}, false, nil
	}
	if err != nil {
		return platform.Resource{}, false, err
	}
	return r, true, nil
}

func (s *Store) Create(ctx context.Context, c platform.Collection, attrs platform.Attributes) (platform.Resource, error) {
	if err := s.checkParent(ctx, c); err != nil {
		return platform.Resource{}, err
	}
	props := properties(nil, attrs)
	uniqueName, _ := props["unique_name"].(string)
	if uniqueName != "" {
		if _, found, err := s.Find(ctx, c, uniqueName); err != nil {
			return platform.Resource{}, err
		} else if found {
			return platform.Resource{}, fmt.Errorf("%w: %s %q", ErrConflict, c.Kind, uniqueName)
		}
	}
	sid := sidPrefixes[c.Kind] + strings.ReplaceAll(uuid.NewString(), "-", "")
	path := c.Path() + "/" + sid
	props["sid"] = sid
	props["url"] = "/" + path
	if c.Kind == platform.ModelBuilds {
		props["status"] = "completed"
	}
	data, err := json.Marshal(props)
	if err != nil {
		return platform.Resource{}, err
	}
	now := s.now()
	_, err = s.DB.ExecContext(ctx, `INSERT INTO sandbox_resources(sid,path,parent_path,kind,unique_name,properties_json,seq,created_at,updated_at)
SELECT ?,?,?,?,?,?,COALESCE(MAX(seq),0)+1,?,? FROM sandbox_resources`,
		sid, path, c.Parent, string(c.Kind), nullable(uniqueName), string(data), now, now)
	if err != nil {
		return platform.Resource{}, fmt.Errorf("insert %s: %w", c.Kind, err)
	}
	return platform.Resource{Kind: c.Kind, SID: sid, UniqueName: uniqueName, Path: path, Properties: props}, nil
}

func (s *Store) Update(ctx context.Context, r platform.Resource, attrs platform.Attributes) (platform.Resource, error) {
	current, err := scanResource(s.DB.QueryRowContext(ctx, selectColumns+` WHERE path=?`, r.Path))
	if errors.Is(err, sql.ErrNoRows) {
		return platform.Resource{}, fmt.Errorf("%s: %w", r.Path, platform.ErrNotFound)
	}
	if err != nil {
		return platform.Resource{}, err
	}
	props := properties(current.Properties, attrs)
	uniqueName, _ := props["unique_name"].(string)
	if uniqueName != "" && uniqueName != current.UniqueName {
		col, _, _ := platform.SplitPath(current.Path)
		if _, found, err := s.Find(ctx, col, uniqueName); err != nil {
			return platform.Resource{}, err
		} else if found {
			return platform.Resource{}, fmt.Errorf("%w: %s %q", ErrConflict, current.Kind, uniqueName)
		}
	}
	data, err := json.Marshal(props)
	if err != nil {
		return platform.Resource{}, err
	}
	if _, err := s.DB.ExecContext(ctx, `UPDATE sandbox_resources SET unique_name=?, properties_json=?, updated_at=? WHERE path=?`,
		nullable(uniqueName), string(data), s.now(), current.Path); err != nil {
		return platform.Resource{}, fmt.Errorf("update %s: %w", current.Path, err)
	}
	current.UniqueName = uniqueName
	current.Properties = props
	return current, nil
}

func (s *Store) Delete(ctx context.Context, r platform.Resource) error {
	var n int
	if err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM sandbox_resources WHERE parent_path=?`, r.Path).Scan(&n); err != nil {
		return err
	}
	if n > 0 {
		return fmt.Errorf("%w: %s has %d", ErrHasChildren, r.Path, n)
	}
	res, err := s.DB.ExecContext(ctx, `DELETE FROM sandbox_resources WHERE path=?`, r.Path)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return fmt.Errorf("%s: %w", r.Path, platform.ErrNotFound)
	}
	return nil
}

// Resolve canonicalises a resource path whose segments may use unique names
// instead of sids.
func (s *Store) Resolve(ctx context.Context, path string) (platform.Resource, error) {
	segs := strings.Split(strings.Trim(path, "/"), "/")
	if len(segs) < 2 || len(segs)%2 != 0 {
		return platform.Resource{}, fmt.Errorf("%s: %w", path, platform.ErrNotFound)
	}
	var current platform.Resource
	parent := ""
	for i := 0; i < len(segs); i += 2 {
		kind := platform.Kind(segs[i])
		if !kind.Valid() {
			return platform.Resource{}, fmt.Errorf("%s: %w", path, platform.ErrNotFound)
		}
		r, found, err := s.Find(ctx, platform.Collection{Parent: parent, Kind: kind}, segs[i+1])
		if err != nil {
			return platform.Resource{}, err
		}
		if !found {
			return platform.Resource{}, fmt.Errorf("%s: %w", path, platform.ErrNotFound)
		}
		current = r
		parent = r.Path
	}
	return current, nil
}

func (s *Store) checkParent(ctx context.Context, c platform.Collection) error {
	if c.Parent == "" {
		if c.Kind != platform.Assistants {
			return fmt.Errorf("%w: %s at root", ErrInvalidParent, c.Kind)
		}
		return nil
	}
	var kind string
	err := s.DB.QueryRowContext(ctx, `SELECT kind FROM sandbox_resources WHERE path=?`, c.Parent).Scan(&kind)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", c.Parent, platform.ErrNotFound)
	}
	if err != nil {
		return err
	}
	for _, child := range platform.Kind(kind).Children() {
		if child == c.Kind {
			return nil
		}
	}
	return fmt.Errorf("%w: %s under %s", ErrInvalidParent, c.Kind, kind)
}

// properties merges wire attributes (UniqueName) into snake_case properties (unique_name).
func properties(base map[string]any, attrs platform.Attributes) map[string]any {
	out := make(map[string]any, len(base)+len(attrs))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range attrs {
		out[snakeCase(k)] = v
	}
	return out
}

func snakeCase(s string) string {
	var b strings.Builder
	for i, r := range s {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('_')
			}
			r = unicode.ToLower(r)
		}
		b.WriteRune(r)
	}
	return b.String()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

var _ platform.Remote = (*Store)(nil)
