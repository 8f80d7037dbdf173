package resource

import (
	"bytes"
	"encoding/json"
	"strconv"

	"otto/internal/domain"
	"otto/internal/platform"
)

func setIf(attrs platform.Attributes, key, value string) {
	if value != "" {
		attrs[key] = value
	}
}

// rawText renders an opaque JSON value as a form parameter. JSON strings are
// unwrapped; objects and arrays are compacted.
func rawText(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}

func assistantAttributes(a domain.Assistant) (platform.Attributes, error) {
	attrs := platform.Attributes{
		"UniqueName": a.UniqueName,
		"LogQueries": strconv.FormatBool(a.LogsQueries()),
	}
	setIf(attrs, "FriendlyName", a.FriendlyName)
	setIf(attrs, "StyleSheet", rawText(a.StyleSheet))
	if a.Defaults != nil {
		data, err := json.Marshal(a.Defaults)
		if err != nil {
			return nil, err
		}
		attrs["Defaults"] = string(data)
	}
	return attrs, nil
}

func fieldTypeAttributes(f domain.FieldType) platform.Attributes {
	attrs := platform.Attributes{"UniqueName": f.UniqueName}
	setIf(attrs, "FriendlyName", f.FriendlyName)
	return attrs
}

func fieldValueAttributes(v domain.FieldValue, synonymOf string) platform.Attributes {
	attrs := platform.Attributes{"Value": v.Value, "Language": v.Language}
	if attrs["Language"] == "" {
		attrs["Language"] = domain.DefaultLanguage
	}
	setIf(attrs, "SynonymOf", synonymOf)
	return attrs
}

func taskAttributes(t domain.Task) platform.Attributes {
	attrs := platform.Attributes{"UniqueName": t.UniqueName}
	setIf(attrs, "FriendlyName", t.FriendlyName)
	setIf(attrs, "Actions", rawText(t.Actions))
	setIf(attrs, "ActionsUrl", t.ActionsURL)
	return attrs
}

func taskFieldAttributes(f domain.TaskField) platform.Attributes {
	return platform.Attributes{"UniqueName": f.UniqueName, "FieldType": f.FieldType}
}

func sampleAttributes(s domain.Sample) platform.Attributes {
	attrs := platform.Attributes{"TaggedText": s.TaggedText, "Language": s.Language}
	if attrs["Language"] == "" {
		attrs["Language"] = domain.DefaultLanguage
	}
	setIf(attrs, "SourceChannel", s.SourceChannel)
	return attrs
}

func modelBuildAttributes(m domain.ModelBuild) platform.Attributes {
	return platform.Attributes{"UniqueName": m.UniqueName}
}
