package domain

import (
	"encoding/json"
	"errors"
	"strings"
)

// Kind tags a top-level entry of a deployment document.
type Kind string

const (
	KindAssistant Kind = "assistant"
	KindFieldType Kind = "field_type"
	KindTask      Kind = "task"
	KindModel     Kind = "model"
	KindUnknown   Kind = "unknown"
)

const (
	FieldTypePrefix = "field_type__"
	TaskPrefix      = "task__"
)

// DefaultLanguage is used for samples and field values that do not name one.
const DefaultLanguage = "en-US"

// KindOf classifies a document key. The prefix scheme is only consulted here.
func KindOf(key string) Kind {
	switch {
	case key == string(KindAssistant):
		return KindAssistant
	case key == string(KindModel):
		return KindModel
	case strings.HasPrefix(key, FieldTypePrefix):
		return KindFieldType
	case strings.HasPrefix(key, TaskPrefix):
		return KindTask
	default:
		return KindUnknown
	}
}

type Assistant struct {
	UniqueName   string             `json:"unique_name"`
	FriendlyName string             `json:"friendly_name,omitempty"`
	LogQueries   *bool              `json:"log_queries,omitempty"`
	StyleSheet   json.RawMessage    `json:"style_sheet,omitempty"`
	Defaults     *AssistantDefaults `json:"defaults,omitempty"`
}

// AssistantDefaults wraps the platform's double-nested defaults object.
type AssistantDefaults struct {
	Defaults *DefaultTasks `json:"defaults,omitempty"`
}

type DefaultTasks struct {
	AssistantInitiation string           `json:"assistant_initiation,omitempty"`
	Fallback            string           `json:"fallback,omitempty"`
	Collect             *CollectDefaults `json:"collect,omitempty"`
}

type CollectDefaults struct {
	ValidateOnFailure string `json:"validate_on_failure,omitempty"`
}

// LogsQueries reports the effective log_queries flag, which defaults to true.
func (a Assistant) LogsQueries() bool {
	if a.LogQueries == nil {
		return true
	}
	return *a.LogQueries
}

type FieldType struct {
	UniqueName   string       `json:"unique_name"`
	FriendlyName string       `json:"friendly_name,omitempty"`
	Values       []FieldValue `json:"values,omitempty"`
}

// FieldValue accepts either a bare string or an object form.
type FieldValue struct {
	Value     string `json:"value"`
	Language  string `json:"language,omitempty"`
	SynonymOf string `json:"synonym_of,omitempty"`
}

func (v *FieldValue) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*v = FieldValue{Value: s, Language: DefaultLanguage}
		return nil
	}
	type plain FieldValue
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	if p.Value == "" {
		return errors.New("field value object requires value")
	}
	if p.Language == "" {
		p.Language = DefaultLanguage
	}
	*v = FieldValue(p)
	return nil
}

type Task struct {
	UniqueName   string `json:"unique_name"`
	FriendlyName string `json:"friendly_name,omitempty"`
	// Actions is forwarded verbatim; the platform owns the action vocabulary.
	Actions    json.RawMessage `json:"actions,omitempty"`
	ActionsURL string          `json:"actions_url,omitempty"`
	TaskFields []TaskField     `json:"task_fields,omitempty"`
	Samples    []Sample        `json:"samples,omitempty"`
}

// FieldNames returns the declared task field names in declaration order.
func (t Task) FieldNames() []string {
	names := make([]string, 0, len(t.TaskFields))
	for _, f := range t.TaskFields {
		if f.UniqueName != "" {
			names = append(names, f.UniqueName)
		}
	}
	return names
}

type TaskField struct {
	UniqueName string `json:"unique_name"`
	FieldType  string `json:"field_type"`
}

// Sample accepts either a bare tagged text or an object form.
type Sample struct {
	TaggedText    string `json:"tagged_text"`
	Language      string `json:"language,omitempty"`
	SourceChannel string `json:"source_channel,omitempty"`
}

func (s *Sample) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		*s = Sample{TaggedText: text, Language: DefaultLanguage}
		return nil
	}
	type plain Sample
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	if p.Language == "" {
		p.Language = DefaultLanguage
	}
	*s = Sample(p)
	return nil
}

type ModelBuild struct {
	UniqueName string `json:"unique_name"`
}
