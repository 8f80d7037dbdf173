package validate

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"otto/internal/config"
	"otto/internal/domain"
)

type Severity string

const (
	SeverityFail Severity = "FAIL"
	SeverityWarn Severity = "WARN"
	SeverityInfo Severity = "INFO"
)

// Diagnostic is one finding about a deployment document.
type Diagnostic struct {
	Severity Severity `json:"severity"`
	Resource string   `json:"resource,omitempty"`
	Message  string   `json:"message"`
}

func (d Diagnostic) String() string {
	return string(d.Severity) + ": " + d.Message
}

// Report collects every diagnostic of a validation pass. Only FAIL findings
// clear Pass.
type Report struct {
	Pass        bool         `json:"pass"`
	Diagnostics []Diagnostic `json:"diagnostics"`
}

// Failures returns the FAIL diagnostics.
func (r Report) Failures() []Diagnostic {
	var out []Diagnostic
	for _, d := range r.Diagnostics {
		if d.Severity == SeverityFail {
			out = append(out, d)
		}
	}
	return out
}

func (r *Report) add(sev Severity, resource, format string, args ...any) {
	r.Diagnostics = append(r.Diagnostics, Diagnostic{Severity: sev, Resource: resource, Message: fmt.Sprintf(format, args...)})
	if sev == SeverityFail {
		r.Pass = false
	}
}

func (r *Report) merge(ds []Diagnostic) {
	for _, d := range ds {
		r.add(d.Severity, d.Resource, "%s", d.Message)
	}
}

// Validate checks a document in one pass. Every check runs regardless of
// earlier failures so that all problems are reported together.
func Validate(doc *config.Document) Report {
	r := Report{Pass: true}
	requiredParameters(doc, &r)
	for _, e := range doc.Entries {
		validateEntry(e, &r)
	}
	return r
}

func requiredParameters(doc *config.Document, r *Report) {
	var missing []string
	for _, key := range []string{string(domain.KindAssistant), string(domain.KindModel)} {
		if _, ok := doc.Lookup(key); !ok {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		r.add(SeverityFail, "", "Configuration file is missing the required element(s): %s", strings.Join(missing, ", "))
	}
	if len(doc.OfKind(domain.KindTask)) == 0 {
		r.add(SeverityFail, "", "Your Assistant has no tasks defined.  Must have at least 1 task.")
	}
}

func validateEntry(e config.Entry, r *Report) {
	if e.Kind == domain.KindUnknown {
		r.add(SeverityWarn, e.Key, "`%s` is not a recognized resource and will be ignored.", e.Key)
		return
	}
	obj, ok := asObject(e.Raw)
	if !ok {
		r.add(SeverityFail, e.Key, "`%s` must be an object.", e.Key)
		return
	}
	if _, ok := obj["unique_name"]; !ok {
		r.add(SeverityFail, e.Key, "`%s` does not have a 'unique_name'", e.Key)
	}
	if problems := schemaProblems(e.Kind, e.Raw); len(problems) > 0 {
		r.add(SeverityFail, e.Key, "`%s` is malformed: %s", e.Key, joinProblems(problems))
	}
	switch e.Kind {
	case domain.KindAssistant:
		r.merge(AssistantDefaults(e.Key, obj["defaults"]))
	case domain.KindFieldType:
		validateFieldType(e.Key, obj, r)
	case domain.KindTask:
		validateTask(e.Key, obj, r)
	}
}

// AssistantDefaults checks the shape of an assistant's defaults attribute.
// A nil raw value means the attribute is absent, which is valid.
func AssistantDefaults(label string, raw json.RawMessage) []Diagnostic {
	if raw == nil {
		return nil
	}
	r := Report{}
	outer, ok := asObject(raw)
	inner, innerOK := asObject(outer["defaults"])
	if !ok || !innerOK {
		r.add(SeverityFail, label, "The `defaults` parameter for Assistant `%s` is not formed properly.", label)
		return r.Diagnostics
	}
	_, hasInitiation := inner["assistant_initiation"]
	_, hasFallback := inner["fallback"]
	if !hasInitiation || !hasFallback {
		r.add(SeverityInfo, label, "For Assistant `defaults` to take effect you must minimally specify a default for "+
			"`assistant_initiation` and `fallback`.  Check Assistant `%s` for missing parameters", label)
	}
	return r.Diagnostics
}

func validateFieldType(label string, obj map[string]json.RawMessage, r *Report) {
	raw, ok := obj["values"]
	if !ok {
		r.add(SeverityInfo, label, "Custom Field Type `%s` has no values associated with it.", label)
		return
	}
	if values, ok := asArray(raw); ok && len(values) == 0 {
		r.add(SeverityInfo, label, "Custom Field Type `%s` has no values associated with it.", label)
	}
}

func validateTask(label string, obj map[string]json.RawMessage, r *Report) {
	validateActions(label, obj, r)
	validateSamples(label, obj, r)

	var declared []string
	fields, _ := asArray(obj["task_fields"])
	for _, raw := range fields {
		field, ok := asObject(raw)
		if !ok {
			continue
		}
		if name, ok := field["unique_name"]; !ok {
			r.add(SeverityFail, label, "A task field in '%s' is missing a unique_name.", label)
		} else if s, ok := asString(name); ok {
			declared = append(declared, s)
		}
		if _, ok := field["field_type"]; !ok {
			r.add(SeverityFail, label, "A task field in '%s' is missing a field_type.", label)
		}
	}

	missing := domain.UndeclaredFields(sampleTexts(obj["samples"]), declared)
	if len(missing) > 0 {
		r.add(SeverityFail, label, "Task `%s` contains undefined custom fields.  Make sure your task includes these fields: `%s`",
			label, strings.Join(missing, ", "))
	}
}

func validateActions(label string, obj map[string]json.RawMessage, r *Report) {
	raw, ok := obj["actions"]
	if !ok {
		r.add(SeverityInfo, label, "Task `%s` has no actions associated with it.", label)
		return
	}
	wrapper, ok := asObject(raw)
	if !ok {
		r.add(SeverityFail, label, "Actions object in task `%s` is misformed.", label)
		return
	}
	list, ok := asArray(wrapper["actions"])
	if !ok {
		r.add(SeverityFail, label, "Actions object in task `%s` is misformed.", label)
		return
	}

	counts := map[string]int{}
	var order []string
	for _, item := range list {
		if kinds, bad := onCompleteViolation(item); bad {
			r.add(SeverityFail, label, "In `%s` the `on_complete` action for `collect` must be a `redirect`.  You used a `%s` action",
				label, kinds)
		}
		kind, ok := firstKey(item)
		if !ok {
			continue
		}
		if counts[kind] == 0 {
			order = append(order, kind)
		}
		counts[kind]++
	}
	for _, kind := range order {
		if counts[kind] > 1 {
			r.add(SeverityFail, label, "In task `%s` you have multiple `%s` actions. Can only have one.", label, kind)
		}
	}
}

// onCompleteViolation reports whether a collect action's on_complete clause is
// anything other than a lone redirect, and which action kinds it used.
func onCompleteViolation(item json.RawMessage) (string, bool) {
	action, ok := asObject(item)
	if !ok {
		return "", false
	}
	collect, ok := asObject(action["collect"])
	if !ok {
		return "", false
	}
	raw, ok := collect["on_complete"]
	if !ok {
		return "", false
	}
	onComplete, ok := asObject(raw)
	if !ok {
		return "non-object", true
	}
	keys := make([]string, 0, len(onComplete))
	for k := range onComplete {
		keys = append(keys, k)
	}
	if len(keys) == 1 && keys[0] == "redirect" {
		return "", false
	}
	sort.Strings(keys)
	return strings.Join(keys, ", "), true
}

func validateSamples(label string, obj map[string]json.RawMessage, r *Report) {
	raw, ok := obj["samples"]
	if !ok {
		r.add(SeverityFail, label, "There are no samples provided for '%s'", label)
		return
	}
	samples, ok := asArray(raw)
	if !ok {
		return
	}
	switch n := len(samples); {
	case n == 0:
		r.add(SeverityFail, label, "There are no samples provided for '%s'", label)
	case n < 10:
		r.add(SeverityInfo, label, "Task `%s` only has `%d` samples.  Recommended to have at least 10.", label, n)
	}
}

func sampleTexts(raw json.RawMessage) []string {
	samples, _ := asArray(raw)
	texts := make([]string, 0, len(samples))
	for _, s := range samples {
		if text, ok := asString(s); ok {
			texts = append(texts, text)
			continue
		}
		if obj, ok := asObject(s); ok {
			if text, ok := asString(obj["tagged_text"]); ok {
				texts = append(texts, text)
			}
		}
	}
	return texts
}

func asObject(raw json.RawMessage) (map[string]json.RawMessage, bool) {
	if !isKind(raw, '{') {
		return nil, false
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, false
	}
	return m, true
}

func asArray(raw json.RawMessage) ([]json.RawMessage, bool) {
	if !isKind(raw, '[') {
		return nil, false
	}
	var a []json.RawMessage
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, false
	}
	return a, true
}

func asString(raw json.RawMessage) (string, bool) {
	if !isKind(raw, '"') {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

func isKind(raw json.RawMessage, first byte) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == first
}

// firstKey returns the leading key of a JSON object as written in the document.
func firstKey(raw json.RawMessage) (string, bool) {
	if !isKind(raw, '{') {
		return "", false
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	if _, err := dec.Token(); err != nil {
		return "", false
	}
	if !dec.More() {
		return "", false
	}
	tok, err := dec.Token()
	if err != nil {
		return "", false
	}
	key, ok := tok.(string)
	return key, ok
}
