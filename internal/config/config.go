package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"otto/internal/domain"
)

// Entry is one top-level key of a deployment document.
type Entry struct {
	Key  string
	Kind domain.Kind
	Raw  json.RawMessage
}

// Document models a deployment file as its entries in document order.
type Document struct {
	Entries []Entry
}

// Plan is the typed resource graph of a document.
type Plan struct {
	Assistant  domain.Assistant
	FieldTypes []domain.FieldType
	Tasks      []domain.Task
	Model      domain.ModelBuild
}

// Load reads a deployment document, picking the decoder from the file extension.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; scaffold one with otto init", path)
		}
		return nil, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FromYAML(data)
	default:
		return Parse(data)
	}
}

// Parse reads a JSON deployment document. The top level is streamed so that
// entries keep their document order.
func Parse(data []byte) (*Document, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("invalid config json: %w", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, errors.New("invalid config json: top level must be an object")
	}
	doc := &Document{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("invalid config json: %w", err)
		}
		key := tok.(string)
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, fmt.Errorf("invalid config json at %q: %w", key, err)
		}
		doc.set(key, raw)
	}
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("invalid config json: %w", err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.New("invalid config json: trailing data after document")
	}
	return doc, nil
}

// FromYAML reads a YAML deployment document with the same layout as the JSON form.
func FromYAML(data []byte) (*Document, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if root.Kind != yaml.DocumentNode || len(root.Content) == 0 || root.Content[0].Kind != yaml.MappingNode {
		return nil, errors.New("invalid config yaml: top level must be a mapping")
	}
	mapping := root.Content[0]
	doc := &Document{}
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		key := mapping.Content[i].Value
		var buf bytes.Buffer
		if err := writeNodeJSON(&buf, mapping.Content[i+1]); err != nil {
			return nil, fmt.Errorf("invalid config yaml at %q: %w", key, err)
		}
		doc.set(key, buf.Bytes())
	}
	return doc, nil
}

// writeNodeJSON renders a YAML node as JSON, keeping mapping keys in document order.
func writeNodeJSON(buf *bytes.Buffer, n *yaml.Node) error {
	switch n.Kind {
	case yaml.AliasNode:
		return writeNodeJSON(buf, n.Alias)
	case yaml.MappingNode:
		buf.WriteByte('{')
		for i := 0; i+1 < len(n.Content); i += 2 {
			if i > 0 {
				buf.WriteByte(',')
			}
			key, err := json.Marshal(n.Content[i].Value)
			if err != nil {
				return err
			}
			buf.Write(key)
			buf.WriteByte(':')
			if err := writeNodeJSON(buf, n.Content[i+1]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
		return nil
	case yaml.SequenceNode:
		buf.WriteByte('[')
		for i, item := range n.Content {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeNodeJSON(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil
	case yaml.ScalarNode:
		var v any
		if err := n.Decode(&v); err != nil {
			return err
		}
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		buf.Write(data)
		return nil
	default:
		return fmt.Errorf("line %d: unsupported yaml node", n.Line)
	}
}

// set keeps the first position of a repeated key but takes its last value.
func (d *Document) set(key string, raw json.RawMessage) {
	for i := range d.Entries {
		if d.Entries[i].Key == key {
			d.Entries[i].Raw = raw
			return
		}
	}
	d.Entries = append(d.Entries, Entry{Key: key, Kind: domain.KindOf(key), Raw: raw})
}

// Lookup returns the entry stored under key.
func (d *Document) Lookup(key string) (Entry, bool) {
	for _, e := range d.Entries {
		if e.Key == key {
			return e, true
		}
	}
	return Entry{}, false
}

// OfKind returns the entries of one kind in document order.
func (d *Document) OfKind(kind domain.Kind) []Entry {
	var out []Entry
	for _, e := range d.Entries {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

// Plan decodes the document into typed resources. It assumes the document has
// been validated; decoding errors name the offending key.
func (d *Document) Plan() (Plan, error) {
	var p Plan
	assistant, ok := d.Lookup(string(domain.KindAssistant))
	if !ok {
		return p, errors.New("config is missing the assistant element")
	}
	if err := decodeEntry(assistant, &p.Assistant); err != nil {
		return p, err
	}
	model, ok := d.Lookup(string(domain.KindModel))
	if !ok {
		return p, errors.New("config is missing the model element")
	}
	if err := decodeEntry(model, &p.Model); err != nil {
		return p, err
	}
	for _, e := range d.OfKind(domain.KindFieldType) {
		var ft domain.FieldType
		if err := decodeEntry(e, &ft); err != nil {
			return p, err
		}
		p.FieldTypes = append(p.FieldTypes, ft)
	}
	for _, e := range d.OfKind(domain.KindTask) {
		var t domain.Task
		if err := decodeEntry(e, &t); err != nil {
			return p, err
		}
		p.Tasks = append(p.Tasks, t)
	}
	return p, nil
}

func decodeEntry(e Entry, v any) error {
	if err := json.Unmarshal(e.Raw, v); err != nil {
		return fmt.Errorf("decode %s: %w", e.Key, err)
	}
	return nil
}
