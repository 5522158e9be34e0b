// Package schema maps OpenAPI schemas onto the parameter types tools expose.
package schema

import (
	"fmt"
	"sort"
	"strings"
)

// Kind is the variant of a Type.
type Kind string

const (
	KindString  Kind = "string"
	KindInteger Kind = "integer"
	KindNumber  Kind = "number"
	KindBoolean Kind = "boolean"
	KindArray   Kind = "array"
	KindObject  Kind = "object"
	KindUnion   Kind = "union"
	KindAny     Kind = "any"
)

// Type is a tool parameter type. Items is set for arrays, Fields for
// objects and Alternatives for unions; an Alternative is never a union.
type Type struct {
	Kind         Kind    `json:"kind"`
	Description  string  `json:"description,omitempty"`
	Default      any     `json:"default,omitempty"`
	Enum         []any   `json:"enum,omitempty"`
	Format       string  `json:"format,omitempty"`
	Items        *Type   `json:"items,omitempty"`
	Fields       []Field `json:"fields,omitempty"`
	Open         bool    `json:"open,omitempty"`
	Alternatives []*Type `json:"alternatives,omitempty"`
}

// Field is one property of an object type.
type Field struct {
	Name     string `json:"name"`
	Type     *Type  `json:"type"`
	Required bool   `json:"required,omitempty"`
	Default  any    `json:"default,omitempty"`
}

// Any returns the open passthrough type.
func Any(description string) *Type {
	return &Type{Kind: KindAny, Description: description}
}

// IsPrimitive reports whether t is a string, integer, number or boolean.
func (t *Type) IsPrimitive() bool {
	switch t.Kind {
	case KindString, KindInteger, KindNumber, KindBoolean:
		return true
	}
	return false
}

// Field returns the named field of an object type.
func (t *Type) Field(name string) (Field, bool) {
	for _, f := range t.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Name is the display name shown in tool listings.
func (t *Type) Name() string {
	if t == nil {
		return string(KindAny)
	}
	switch t.Kind {
	case KindArray:
		return "array[" + t.Items.Name() + "]"
	case KindUnion:
		names := make([]string, len(t.Alternatives))
		for i, alt := range t.Alternatives {
			names[i] = alt.Name()
		}
		return strings.Join(names, " | ")
	default:
		return string(t.Kind)
	}
}

// Shape is a canonical signature of t ignoring descriptions and defaults.
// Two types with equal shapes accept the same values.
func (t *Type) Shape() string {
	if t == nil {
		return string(KindAny)
	}
	var b strings.Builder
	t.writeShape(&b)
	return b.String()
}

func (t *Type) writeShape(b *strings.Builder) {
	switch t.Kind {
	case KindArray:
		b.WriteString("[")
		if t.Items != nil {
			t.Items.writeShape(b)
		} else {
			b.WriteString(string(KindAny))
		}
		b.WriteString("]")
	case KindObject:
		b.WriteString("{")
		for i, f := range t.Fields {
			if i > 0 {
				b.WriteString(",")
			}
			b.WriteString(f.Name)
			if f.Required {
				b.WriteString("!")
			}
			b.WriteString(":")
			f.Type.writeShape(b)
		}
		if t.Open {
			b.WriteString(",*")
		}
		b.WriteString("}")
	case KindUnion:
		shapes := make([]string, len(t.Alternatives))
		for i, alt := range t.Alternatives {
			shapes[i] = alt.Shape()
		}
		sort.Strings(shapes)
		b.WriteString("(" + strings.Join(shapes, "|") + ")")
	default:
		b.WriteString(string(t.Kind))
		if t.Format != "" {
			b.WriteString("/" + t.Format)
		}
		if len(t.Enum) > 0 {
			b.WriteString("<" + enumList(t.Enum) + ">")
		}
	}
}

// JSONSchema renders t as a JSON Schema object.
func (t *Type) JSONSchema() map[string]any {
	if t == nil {
		return map[string]any{}
	}
	s := make(map[string]any)
	switch t.Kind {
	case KindString, KindInteger, KindNumber, KindBoolean:
		s["type"] = string(t.Kind)
		if t.Format != "" {
			s["format"] = t.Format
		}
		if len(t.Enum) > 0 {
			s["enum"] = t.Enum
		}
	case KindArray:
		s["type"] = "array"
		s["items"] = t.Items.JSONSchema()
	case KindObject:
		s["type"] = "object"
		props := make(map[string]any, len(t.Fields))
		var required []string
		for _, f := range t.Fields {
			fs := f.Type.JSONSchema()
			if f.Default != nil {
				fs["default"] = f.Default
			}
			props[f.Name] = fs
			if f.Required {
				required = append(required, f.Name)
			}
		}
		if len(props) > 0 {
			s["properties"] = props
		}
		if len(required) > 0 {
			s["required"] = required
		}
	case KindUnion:
		alts := make([]any, len(t.Alternatives))
		for i, alt := range t.Alternatives {
			alts[i] = alt.JSONSchema()
		}
		s["anyOf"] = alts
	}
	if t.Description != "" {
		s["description"] = t.Description
	}
	if t.Default != nil {
		s["default"] = t.Default
	}
	return s
}

func enumList(values []any) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = fmt.Sprint(v)
	}
	return strings.Join(parts, ", ")
}
