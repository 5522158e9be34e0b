// Package registry builds MCP tool definitions from OpenAPI operations.
package registry

import (
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/bobmcallan/mcp-openapi/internal/schema"
)

// Location is where an argument is placed on the outbound request.
type Location string

const (
	InPath   Location = "path"
	InQuery  Location = "query"
	InHeader Location = "header"
	InBody   Location = "body"
	InServer Location = "server"
)

// BodyEncoding is how body arguments are serialized.
type BodyEncoding string

const (
	BodyJSON BodyEncoding = "json"
	BodyForm BodyEncoding = "form"
	// BodyRawData sends the "body" argument as is: strings verbatim,
	// anything else as JSON, under the operation's content type.
	BodyRawData BodyEncoding = "raw"
)

// Param is one tool argument. Name is what callers pass; Wire is the name
// used on the request (they differ when a "[]" suffix was stripped).
type Param struct {
	Name        string       `json:"name"`
	Wire        string       `json:"wire"`
	In          Location     `json:"in"`
	Type        *schema.Type `json:"type"`
	Required    bool         `json:"required,omitempty"`
	Default     any          `json:"default,omitempty"`
	Description string       `json:"description,omitempty"`
	Style       string       `json:"style,omitempty"`
	Explode     bool         `json:"explode,omitempty"`
}

// Operation identifies the HTTP operation a tool invokes.
type Operation struct {
	Method       string       `json:"method"`
	Path         string       `json:"path"`
	OperationID  string       `json:"operation_id,omitempty"`
	BodyEncoding BodyEncoding `json:"body_encoding,omitempty"`
	ContentType  string       `json:"content_type,omitempty"`
	BodyRaw      bool         `json:"body_raw,omitempty"`
}

// HasBody reports whether the operation sends a request body.
func (o Operation) HasBody() bool {
	return o.BodyEncoding != ""
}

// Tool is an immutable tool definition. The argument validator is
// compiled on first use.
type Tool struct {
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Params      []Param   `json:"params"`
	Operation   Operation `json:"operation"`

	once      sync.Once
	validator *jsonschema.Schema
	compErr   error
}

// Param returns the argument called name.
func (t *Tool) Param(name string) (Param, bool) {
	for _, p := range t.Params {
		if p.Name == name {
			return p, true
		}
	}
	return Param{}, false
}

// ReadOnly reports whether the operation is a safe HTTP method.
func (t *Tool) ReadOnly() bool {
	switch t.Operation.Method {
	case "GET", "HEAD", "OPTIONS":
		return true
	}
	return false
}

// Destructive reports whether the operation deletes.
func (t *Tool) Destructive() bool {
	return t.Operation.Method == "DELETE"
}

// InputSchema is the JSON Schema of the tool's arguments.
func (t *Tool) InputSchema() map[string]any {
	props := make(map[string]any, len(t.Params))
	required := []string{}
	for _, p := range t.Params {
		s := p.Type.JSONSchema()
		if desc := schema.JoinDescription(p.Description, p.Type.Description); desc != "" {
			s["description"] = desc
		}
		if p.Default != nil {
			s["default"] = p.Default
		}
		props[p.Name] = s
		if p.Required {
			required = append(required, p.Name)
		}
	}
	return map[string]any{
		"type":                 "object",
		"properties":           props,
		"required":             required,
		"additionalProperties": false,
	}
}
