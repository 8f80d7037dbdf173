package validate

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	js "github.com/santhosh-tekuri/jsonschema/v5"

	"otto/internal/domain"
)

//go:embed schemas/*.json
var schemasFS embed.FS

// The schemas only constrain the types of known attributes. Presence and
// structure rules are reported by the resource checks so that one problem
// yields one diagnostic.
var schemas = mustCompileSchemas()

func mustCompileSchemas() map[domain.Kind]*js.Schema {
	kinds := []domain.Kind{domain.KindAssistant, domain.KindFieldType, domain.KindTask, domain.KindModel}
	c := js.NewCompiler()
	out := make(map[domain.Kind]*js.Schema, len(kinds))
	for _, kind := range kinds {
		data, err := schemasFS.ReadFile("schemas/" + string(kind) + ".json")
		if err != nil {
			panic(fmt.Sprintf("read %s schema: %v", kind, err))
		}
		url := "mem://otto/" + string(kind) + ".json"
		if err := c.AddResource(url, bytes.NewReader(data)); err != nil {
			panic(fmt.Sprintf("add %s schema: %v", kind, err))
		}
		compiled, err := c.Compile(url)
		if err != nil {
			panic(fmt.Sprintf("compile %s schema: %v", kind, err))
		}
		out[kind] = compiled
	}
	return out
}

// schemaProblems returns one line per leaf violation of the kind's schema.
func schemaProblems(kind domain.Kind, raw json.RawMessage) []string {
	schema, ok := schemas[kind]
	if !ok {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return []string{err.Error()}
	}
	err := schema.Validate(v)
	if err == nil {
		return nil
	}
	var ve *js.ValidationError
	if !errors.As(err, &ve) {
		return []string{err.Error()}
	}
	var out []string
	collectLeaves(ve, &out)
	return out
}

func collectLeaves(ve *js.ValidationError, out *[]string) {
	if len(ve.Causes) == 0 {
		loc := ve.InstanceLocation
		if loc == "" {
			loc = "/"
		}
		*out = append(*out, loc+": "+ve.Message)
		return
	}
	for _, c := range ve.Causes {
		collectLeaves(c, out)
	}
}

func joinProblems(problems []string) string {
	return strings.Join(problems, "; ")
}
