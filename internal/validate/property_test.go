package validate

import (
	"fmt"
	"strings"
	"testing"

	"pgregory.net/rapid"
)

var (
	nameGen    = rapid.StringMatching(`[a-z][a-z0-9_]{0,7}`)
	actionKind = rapid.SampledFrom([]string{"say", "listen", "remember", "handoff", "redirect", "collect"})
)

func actionOf(kind string) map[string]any {
	if kind == "collect" {
		return map[string]any{"collect": map[string]any{"name": "form"}}
	}
	return map[string]any{kind: "value"}
}

func TestPropertyMissingRequiredParametersFails(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		doc := baseDoc()
		dropAssistant := rapid.Bool().Draw(t, "dropAssistant")
		dropModel := rapid.Bool().Draw(t, "dropModel")
		dropTasks := rapid.Bool().Draw(t, "dropTasks")
		if !dropAssistant && !dropModel && !dropTasks {
			dropTasks = true
		}
		if dropAssistant {
			delete(doc, "assistant")
		}
		if dropModel {
			delete(doc, "model")
		}
		if dropTasks {
			delete(doc, "task__greet")
		}
		for i, n := 0, rapid.IntRange(0, 3).Draw(t, "fieldTypes"); i < n; i++ {
			name := nameGen.Draw(t, "fieldType")
			doc["field_type__"+name] = map[string]any{"unique_name": name, "values": []any{"a"}}
		}
		r := Validate(parse(t, doc))
		if r.Pass {
			t.Fatalf("expected failure for %v", doc)
		}
	})
}

func TestPropertyUndeclaredPlaceholderNamesTaskAndField(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		taskName := nameGen.Draw(t, "task")
		missing := nameGen.Draw(t, "missing")
		declared := rapid.SliceOfN(nameGen, 0, 4).Filter(func(names []string) bool {
			for _, n := range names {
				if n == missing {
					return false
				}
			}
			return true
		}).Draw(t, "declared")

		var fields []any
		for _, d := range declared {
			fields = append(fields, map[string]any{"unique_name": d, "field_type": "AMAZON.City"})
		}
		samples := tenSamples("plain")
		samples[rapid.IntRange(0, 9).Draw(t, "at")] = fmt.Sprintf("about {%s} today", missing)

		doc := baseDoc()
		delete(doc, "task__greet")
		key := "task__" + taskName
		doc[key] = map[string]any{
			"unique_name": taskName,
			"actions":     map[string]any{"actions": []any{map[string]any{"say": "hi"}}},
			"task_fields": fields,
			"samples":     samples,
		}
		r := Validate(parse(t, doc))
		if r.Pass {
			t.Fatalf("expected failure")
		}
		found := false
		for _, d := range r.Failures() {
			if strings.Contains(d.Message, key) && strings.Contains(d.Message, missing) && strings.Contains(d.Message, "undefined custom fields") {
				found = true
			}
		}
		if !found {
			t.Fatalf("no diagnostic names %s and %s: %v", key, missing, r.Diagnostics)
		}
	})
}

func TestPropertyDuplicateLeadingKeyFails(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		kinds := rapid.SliceOfNDistinct(actionKind, 0, 5, rapid.ID[string]).Draw(t, "kinds")
		dup := actionKind.Draw(t, "dup")
		var actions []any
		for _, k := range kinds {
			actions = append(actions, actionOf(k))
		}
		actions = append(actions, actionOf(dup))
		if !contains(kinds, dup) {
			actions = append(actions, actionOf(dup))
		}

		doc := baseDoc()
		doc["task__greet"].(map[string]any)["actions"] = map[string]any{"actions": actions}
		r := Validate(parse(t, doc))
		if r.Pass {
			t.Fatalf("expected failure for duplicated %s", dup)
		}
		want := fmt.Sprintf("you have multiple `%s` actions", dup)
		for _, d := range r.Failures() {
			if strings.Contains(d.Message, want) {
				return
			}
		}
		t.Fatalf("no diagnostic for %s: %v", dup, r.Diagnostics)
	})
}

func TestPropertyOnCompleteMustBeLoneRedirect(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		keys := rapid.SliceOfNDistinct(rapid.SampledFrom([]string{"redirect", "say", "listen", "remember"}), 0, 4, rapid.ID[string]).Draw(t, "keys")
		onComplete := map[string]any{}
		for _, k := range keys {
			onComplete[k] = "task://next"
		}
		doc := baseDoc()
		doc["task__greet"].(map[string]any)["actions"] = map[string]any{"actions": []any{
			map[string]any{"collect": map[string]any{"name": "form", "on_complete": onComplete}},
		}}
		r := Validate(parse(t, doc))
		lone := len(keys) == 1 && keys[0] == "redirect"
		if r.Pass != lone {
			t.Fatalf("keys %v: pass=%v, want %v (%v)", keys, r.Pass, lone, r.Diagnostics)
		}
	})
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
