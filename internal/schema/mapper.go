package schema

import (
	"fmt"
	"sort"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
)

// DefaultMaxDepth bounds nested expansion of a schema.
const DefaultMaxDepth = 6

const typeNull = "null"

// Mapper converts OpenAPI schemas into Types.
type Mapper struct {
	MaxDepth int
}

// NewMapper returns a Mapper with the default depth cap.
func NewMapper() *Mapper {
	return &Mapper{MaxDepth: DefaultMaxDepth}
}

// walk holds the schemas on the current expansion path.
type walk struct {
	stack []*openapi3.SchemaRef
}

// contains matches by resolved value or by $ref string.
func (w *walk) contains(ref *openapi3.SchemaRef) bool {
	for _, seen := range w.stack {
		if seen.Value == ref.Value || (ref.Ref != "" && seen.Ref == ref.Ref) {
			return true
		}
	}
	return false
}

// Map converts ref. A nil or empty schema maps to the open type. Schemas
// that refer back to themselves, or that nest deeper than MaxDepth, are
// cut off with the open type instead of being expanded.
func (m *Mapper) Map(ref *openapi3.SchemaRef) *Type {
	return m.mapRef(ref, &walk{}, 0)
}

func (m *Mapper) maxDepth() int {
	if m.MaxDepth <= 0 {
		return DefaultMaxDepth
	}
	return m.MaxDepth
}

func (m *Mapper) mapRef(ref *openapi3.SchemaRef, w *walk, depth int) *Type {
	if ref == nil || ref.Value == nil {
		return Any("")
	}
	if w.contains(ref) {
		return Any(fmt.Sprintf("Recursive reference to %s, not expanded.", refName(ref)))
	}
	if depth > m.maxDepth() {
		return Any(fmt.Sprintf("Nested deeper than %d levels, not expanded.", m.maxDepth()))
	}

	w.stack = append(w.stack, ref)
	defer func() { w.stack = w.stack[:len(w.stack)-1] }()

	return m.mapSchema(ref.Value, w, depth)
}

func (m *Mapper) mapSchema(s *openapi3.Schema, w *walk, depth int) *Type {
	switch {
	case len(s.AllOf) > 0:
		return m.mapAllOf(s, w, depth)
	case len(s.OneOf) > 0:
		return m.mapUnion(s, s.OneOf, w, depth)
	case len(s.AnyOf) > 0:
		return m.mapUnion(s, s.AnyOf, w, depth)
	}

	types := nonNullTypes(s)
	switch len(types) {
	case 0:
		return m.mapUntyped(s, w, depth)
	case 1:
		return m.mapTyped(s, types[0], w, depth)
	default:
		alts := make([]*Type, 0, len(types))
		for _, typ := range types {
			alts = append(alts, m.mapTyped(s, typ, w, depth))
		}
		return union(s.Description, alts)
	}
}

func (m *Mapper) mapTyped(s *openapi3.Schema, typ string, w *walk, depth int) *Type {
	switch typ {
	case openapi3.TypeString, openapi3.TypeInteger, openapi3.TypeNumber, openapi3.TypeBoolean:
		t := &Type{
			Kind:        Kind(typ),
			Description: s.Description,
			Default:     s.Default,
			Format:      s.Format,
			Enum:        enumValues(s.Enum),
		}
		if len(t.Enum) > 0 {
			t.Description = JoinDescription(t.Description, "Allowed values: "+enumList(t.Enum))
		}
		return t
	case openapi3.TypeArray:
		var items *Type
		if s.Items != nil {
			items = m.mapRef(s.Items, w, depth+1)
		} else {
			items = Any("")
		}
		return &Type{Kind: KindArray, Description: s.Description, Default: s.Default, Items: items}
	case openapi3.TypeObject:
		return m.mapObject(s, w, depth)
	default:
		return Any(s.Description)
	}
}

// mapUntyped infers the kind of a schema with no declared type.
func (m *Mapper) mapUntyped(s *openapi3.Schema, w *walk, depth int) *Type {
	switch {
	case len(s.Properties) > 0:
		return m.mapObject(s, w, depth)
	case s.Items != nil:
		return m.mapTyped(s, openapi3.TypeArray, w, depth)
	case len(s.Enum) > 0:
		if typ := enumKind(s.Enum); typ != "" {
			return m.mapTyped(s, typ, w, depth)
		}
	}
	t := Any(s.Description)
	t.Default = s.Default
	return t
}

func (m *Mapper) mapObject(s *openapi3.Schema, w *walk, depth int) *Type {
	required := make(map[string]bool, len(s.Required))
	for _, name := range s.Required {
		required[name] = true
	}

	names := make([]string, 0, len(s.Properties))
	for name := range s.Properties {
		names = append(names, name)
	}
	sort.Strings(names)

	t := &Type{Kind: KindObject, Description: s.Description, Default: s.Default}
	for _, name := range names {
		prop := s.Properties[name]
		f := Field{Name: name, Type: m.mapRef(prop, w, depth+1), Required: required[name]}
		if prop != nil && prop.Value != nil {
			f.Default = prop.Value.Default
		}
		t.Fields = append(t.Fields, f)
	}

	ap := s.AdditionalProperties
	switch {
	case ap.Has != nil:
		t.Open = *ap.Has
	case ap.Schema != nil:
		t.Open = true
	default:
		t.Open = len(t.Fields) == 0
	}
	return t
}

// mapAllOf merges object alternatives into one object. A composition that
// is not all objects keeps its single member or falls back to the open type.
func (m *Mapper) mapAllOf(s *openapi3.Schema, w *walk, depth int) *Type {
	parts := make([]*Type, 0, len(s.AllOf)+1)
	for _, ref := range s.AllOf {
		parts = append(parts, m.mapRef(ref, w, depth))
	}
	if len(s.Properties) > 0 {
		own := *s
		own.AllOf = nil
		parts = append(parts, m.mapObject(&own, w, depth))
	}

	if len(parts) == 1 && parts[0].Kind != KindObject {
		t := *parts[0]
		t.Description = JoinDescription(s.Description, t.Description)
		return &t
	}

	merged := &Type{Kind: KindObject, Description: s.Description, Default: s.Default}
	index := make(map[string]int)
	for _, p := range parts {
		switch p.Kind {
		case KindObject:
			merged.Open = merged.Open || p.Open
			for _, f := range p.Fields {
				if i, ok := index[f.Name]; ok {
					f.Required = f.Required || merged.Fields[i].Required
					merged.Fields[i] = f
					continue
				}
				index[f.Name] = len(merged.Fields)
				merged.Fields = append(merged.Fields, f)
			}
			if merged.Description == "" {
				merged.Description = p.Description
			}
		case KindAny:
			merged.Open = true
		default:
			return Any(JoinDescription(s.Description, "All of: "+describeAlternatives(parts, " AND ")))
		}
	}
	for _, name := range s.Required {
		if i, ok := index[name]; ok {
			merged.Fields[i].Required = true
		}
	}
	sort.Slice(merged.Fields, func(i, j int) bool { return merged.Fields[i].Name < merged.Fields[j].Name })
	return merged
}

func (m *Mapper) mapUnion(s *openapi3.Schema, refs openapi3.SchemaRefs, w *walk, depth int) *Type {
	alts := make([]*Type, 0, len(refs))
	for _, ref := range refs {
		if ref != nil && ref.Value != nil && isNullOnly(ref.Value) {
			continue
		}
		alts = append(alts, m.mapRef(ref, w, depth))
	}
	return union(s.Description, alts)
}

// union flattens nested unions, drops duplicate shapes and collapses a
// single alternative.
func union(description string, alts []*Type) *Type {
	var flat []*Type
	seen := make(map[string]bool)
	add := func(t *Type) {
		shape := t.Shape()
		if seen[shape] {
			return
		}
		seen[shape] = true
		flat = append(flat, t)
	}
	for _, alt := range alts {
		if alt.Kind == KindUnion {
			for _, inner := range alt.Alternatives {
				add(inner)
			}
			continue
		}
		add(alt)
	}

	switch len(flat) {
	case 0:
		return Any(description)
	case 1:
		t := *flat[0]
		t.Description = JoinDescription(description, t.Description)
		return &t
	}
	for _, alt := range flat {
		if alt.Kind == KindAny {
			return Any(JoinDescription(description, "One of: "+describeAlternatives(flat, " OR ")))
		}
	}
	return &Type{
		Kind:         KindUnion,
		Description:  JoinDescription(description, "one of: "+describeAlternatives(flat, " OR ")),
		Alternatives: flat,
	}
}

func describeAlternatives(alts []*Type, sep string) string {
	parts := make([]string, len(alts))
	for i, alt := range alts {
		desc := alt.Name()
		if alt.Kind == KindObject && len(alt.Fields) > 0 {
			names := make([]string, len(alt.Fields))
			for j, f := range alt.Fields {
				names[j] = f.Name
			}
			desc += " with " + strings.Join(names, ", ")
		}
		if alt.Description != "" {
			desc += ": " + alt.Description
		}
		parts[i] = "(" + desc + ")"
	}
	return strings.Join(parts, sep)
}

func nonNullTypes(s *openapi3.Schema) []string {
	if s.Type == nil {
		return nil
	}
	var out []string
	for _, typ := range s.Type.Slice() {
		if typ != typeNull && typ != "" {
			out = append(out, typ)
		}
	}
	return out
}

func isNullOnly(s *openapi3.Schema) bool {
	if s.Type == nil {
		return false
	}
	types := s.Type.Slice()
	return len(types) == 1 && types[0] == typeNull
}

func enumValues(values []any) []any {
	var out []any
	for _, v := range values {
		if v != nil {
			out = append(out, v)
		}
	}
	return out
}

// enumKind infers a primitive kind from untyped enum values.
func enumKind(values []any) string {
	kind := ""
	for _, v := range values {
		var k string
		switch n := v.(type) {
		case nil:
			continue
		case string:
			k = openapi3.TypeString
		case bool:
			k = openapi3.TypeBoolean
		case float64:
			k = openapi3.TypeNumber
			if n == float64(int64(n)) {
				k = openapi3.TypeInteger
			}
		case int, int64:
			k = openapi3.TypeInteger
		default:
			return ""
		}
		switch {
		case kind == "":
			kind = k
		case kind == k:
		case (kind == openapi3.TypeInteger && k == openapi3.TypeNumber) || (kind == openapi3.TypeNumber && k == openapi3.TypeInteger):
			kind = openapi3.TypeNumber
		default:
			return ""
		}
	}
	return kind
}

func refName(ref *openapi3.SchemaRef) string {
	if ref.Ref == "" {
		return "an enclosing schema"
	}
	i := strings.LastIndex(ref.Ref, "/")
	return ref.Ref[i+1:]
}

// JoinDescription joins two description fragments into sentences.
func JoinDescription(a, b string) string {
	a = strings.TrimSpace(a)
	b = strings.TrimSpace(b)
	switch {
	case a == "":
		return b
	case b == "":
		return a
	case strings.HasSuffix(a, "."):
		return a + " " + b
	default:
		return a + ". " + b
	}
}
