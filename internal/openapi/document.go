package openapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/bobmcallan/mcp-openapi/internal/apperr"
)

// Format is the serialization of a document.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// Document is a parsed OpenAPI (or referenced fragment) document held as a
// generic tree of map[string]any, []any and scalars.
type Document struct {
	ID     string
	Format Format
	Root   any
}

// Parse decodes data into a Document. YAML maps with non-string keys
// (unquoted response codes) are normalized to string keys.
func Parse(id string, data []byte, format Format) (*Document, error) {
	var root any
	switch format {
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(data))
		if err := dec.Decode(&root); err != nil {
			return nil, apperr.WrapResolution(err, "parse %s as json", id)
		}
	default:
		if err := yaml.Unmarshal(data, &root); err != nil {
			return nil, apperr.WrapResolution(err, "parse %s as yaml", id)
		}
		format = FormatYAML
	}
	return &Document{ID: id, Format: format, Root: normalize(root)}, nil
}

// Map returns the root as an object, or nil.
func (d *Document) Map() map[string]any {
	m, _ := d.Root.(map[string]any)
	return m
}

// Lookup walks pointer from the root.
func (d *Document) Lookup(pointer string) (any, bool) {
	return lookup(d.Root, SplitPointer(pointer))
}

func lookup(node any, tokens []string) (any, bool) {
	cur := node
	for _, tok := range tokens {
		switch v := cur.(type) {
		case map[string]any:
			next, ok := v[tok]
			if !ok {
				return nil, false
			}
			cur = next
		case []any:
			i, err := strconv.Atoi(tok)
			if err != nil || i < 0 || i >= len(v) {
				return nil, false
			}
			cur = v[i]
		default:
			return nil, false
		}
	}
	return cur, true
}

func normalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, child := range t {
			t[k] = normalize(child)
		}
		return t
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, child := range t {
			out[fmt.Sprint(k)] = normalize(child)
		}
		return out
	case []any:
		for i, child := range t {
			t[i] = normalize(child)
		}
		return t
	default:
		return v
	}
}

// deepCopy clones a generic tree so output documents never alias the source.
func deepCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, child := range t {
			out[k] = deepCopy(child)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, child := range t {
			out[i] = deepCopy(child)
		}
		return out
	default:
		return v
	}
}

// Encode serializes a document tree as JSON or YAML.
func Encode(doc *Document, format Format) ([]byte, error) {
	switch format {
	case FormatJSON:
		out, err := json.MarshalIndent(doc.Root, "", "  ")
		if err != nil {
			return nil, err
		}
		return append(out, '\n'), nil
	case FormatYAML:
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(doc.Root); err != nil {
			return nil, err
		}
		if err := enc.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("unknown format %q", format)
	}
}

// FormatForPath picks the output format from a file extension.
func FormatForPath(p string) Format {
	if ext := extOf(p); ext == ".yaml" || ext == ".yml" {
		return FormatYAML
	}
	return FormatJSON
}
