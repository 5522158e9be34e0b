package registry

import (
	"fmt"
	"mime"
	"net/http"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/bobmcallan/mcp-openapi/internal/apperr"
	"github.com/bobmcallan/mcp-openapi/internal/common"
	"github.com/bobmcallan/mcp-openapi/internal/config"
	"github.com/bobmcallan/mcp-openapi/internal/openapi"
	"github.com/bobmcallan/mcp-openapi/internal/schema"
)

// methodOrder is the order operations of one path become tools.
var methodOrder = []string{
	http.MethodGet, http.MethodPut, http.MethodPost, http.MethodDelete,
	http.MethodOptions, http.MethodHead, http.MethodPatch, http.MethodTrace,
}

// skippedHeaders are set by the gateway itself, never by callers.
var skippedHeaders = map[string]bool{
	"accept":        true,
	"content-type":  true,
	"authorization": true,
}

var pathPlaceholder = regexp.MustCompile(`\{([^{}]+)\}`)

// Builder turns OpenAPI documents into tool definitions.
type Builder struct {
	mapper *schema.Mapper
	logger *common.Logger
}

// NewBuilder creates a Builder.
func NewBuilder(logger *common.Logger) *Builder {
	return &Builder{mapper: schema.NewMapper(), logger: logger}
}

// Build returns one tool per operation of doc selected by the namespace
// path selectors, ordered by path and then method. The result depends only
// on its inputs. No selected operations is an empty list, not an error.
func (b *Builder) Build(ns config.NamespaceConfig, doc *openapi3.T) ([]*Tool, error) {
	start := time.Now()
	sel, err := openapi.NewSelector(ns.Paths)
	if err != nil {
		return nil, err
	}
	if doc == nil || doc.Paths == nil {
		return []*Tool{}, nil
	}

	items := doc.Paths.Map()
	paths := make([]string, 0, len(items))
	for p := range items {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	serverParams := b.serverParams(ns)
	names := make(nameSet)
	tools := []*Tool{}

	for _, path := range paths {
		item := items[path]
		if item == nil {
			continue
		}
		for _, method := range methodOrder {
			op := item.GetOperation(method)
			if op == nil || !sel.Match(method, path) {
				continue
			}
			tool, err := b.buildTool(ns, method, path, item, op, serverParams)
			if err != nil {
				return nil, err
			}
			tool.Name = names.claim(tool.Name)
			tools = append(tools, tool)
		}
	}

	b.logger.Debug().
		Str("namespace", ns.Namespace).
		Int("paths", len(paths)).
		Int("tools", len(tools)).
		Int64("duration_ms", time.Since(start).Milliseconds()).
		Msg("tools built")
	return tools, nil
}

func (b *Builder) buildTool(ns config.NamespaceConfig, method, path string, item *openapi3.PathItem, op *openapi3.Operation, serverParams []Param) (*Tool, error) {
	tool := &Tool{
		Name:        pathToolName(method, path),
		Description: describeOperation(method, path, op),
		Operation: Operation{
			Method:      method,
			Path:        path,
			OperationID: op.OperationID,
		},
	}
	if ns.Naming() == config.NamingOperationID && op.OperationID != "" {
		if name := operationToolName(op.OperationID); name != "" {
			tool.Name = name
		}
	}

	params := b.parameters(path, item.Parameters, op.Parameters)
	params = append(params, b.bodyParams(tool, op)...)
	params = append(params, serverParams...)

	seen := make(map[string]Param, len(params))
	for _, p := range params {
		if prev, ok := seen[p.Name]; ok {
			return nil, apperr.Configuration("namespace %s: tool %s (%s %s): argument %q is declared in both %s and %s",
				ns.Namespace, tool.Name, method, path, p.Name, prev.In, p.In)
		}
		seen[p.Name] = p
	}
	tool.Params = params
	return tool, nil
}

// parameters merges path-level and operation-level parameters. An
// operation parameter replaces a path-level one with the same name and
// location. Path placeholders with no declaration become required strings.
func (b *Builder) parameters(path string, itemParams, opParams openapi3.Parameters) []Param {
	type key struct{ in, name string }
	var order []key
	byKey := make(map[key]*openapi3.Parameter)
	for _, list := range []openapi3.Parameters{itemParams, opParams} {
		for _, ref := range list {
			if ref == nil || ref.Value == nil {
				continue
			}
			p := ref.Value
			k := key{p.In, p.Name}
			if _, ok := byKey[k]; !ok {
				order = append(order, k)
			}
			byKey[k] = p
		}
	}

	var out []Param
	declared := make(map[string]bool)
	for _, k := range order {
		p := byKey[k]
		if k.in == openapi3.ParameterInCookie {
			continue
		}
		if k.in == openapi3.ParameterInHeader && skippedHeaders[strings.ToLower(k.name)] {
			continue
		}
		if k.in == openapi3.ParameterInPath {
			declared[k.name] = true
		}
		out = append(out, b.params(p)...)
	}

	for _, m := range pathPlaceholder.FindAllStringSubmatch(path, -1) {
		if declared[m[1]] {
			continue
		}
		declared[m[1]] = true
		out = append(out, Param{
			Name:     m[1],
			Wire:     m[1],
			In:       InPath,
			Type:     &schema.Type{Kind: schema.KindString},
			Required: true,
			Style:    openapi3.SerializationSimple,
		})
	}
	return out
}

// params maps one OpenAPI parameter to its arguments. A query object
// serialized as exploded form puts every property on the query under its
// own name, so each property becomes an argument of its own.
func (b *Builder) params(p *openapi3.Parameter) []Param {
	base := b.param(p)
	if base.In != InQuery || base.Style != openapi3.SerializationForm || !base.Explode ||
		p.Schema == nil || base.Type.Kind != schema.KindObject || len(base.Type.Fields) == 0 {
		return []Param{base}
	}

	out := make([]Param, 0, len(base.Type.Fields))
	for _, f := range base.Type.Fields {
		out = append(out, Param{
			Name:        argumentName(f.Name),
			Wire:        f.Name,
			In:          InQuery,
			Type:        f.Type,
			Required:    base.Required && f.Required,
			Default:     f.Default,
			Description: f.Type.Description,
			Style:       openapi3.SerializationForm,
			Explode:     true,
		})
	}
	return out
}

func (b *Builder) param(p *openapi3.Parameter) Param {
	var typ *schema.Type
	switch {
	case p.Schema != nil:
		typ = b.mapper.Map(p.Schema)
	case len(p.Content) > 0:
		typ = b.mapper.Map(firstContentSchema(p.Content))
	default:
		typ = &schema.Type{Kind: schema.KindString}
	}
	if strings.HasSuffix(p.Name, "[]") && typ.Kind != schema.KindArray {
		typ = &schema.Type{Kind: schema.KindArray, Items: typ}
	}

	out := Param{
		Name:        argumentName(p.Name),
		Wire:        p.Name,
		In:          Location(p.In),
		Type:        typ,
		Required:    p.Required || p.In == openapi3.ParameterInPath,
		Description: strings.TrimSpace(p.Description),
		Style:       p.Style,
	}
	if p.Schema != nil && p.Schema.Value != nil {
		out.Default = p.Schema.Value.Default
	}
	if out.Style == "" {
		switch p.In {
		case openapi3.ParameterInQuery:
			out.Style = openapi3.SerializationForm
		default:
			out.Style = openapi3.SerializationSimple
		}
	}
	if p.Explode != nil {
		out.Explode = *p.Explode
	} else {
		out.Explode = out.Style == openapi3.SerializationForm
	}
	return out
}

// bodyParams turns the request body into arguments. JSON and form bodies
// whose schema is an object contribute one argument per property; any
// other body is a single raw "body" argument.
func (b *Builder) bodyParams(tool *Tool, op *openapi3.Operation) []Param {
	if op.RequestBody == nil || op.RequestBody.Value == nil {
		return nil
	}
	rb := op.RequestBody.Value
	contentType, media := pickMediaType(rb.Content)
	if media == nil {
		return nil
	}

	tool.Operation.ContentType = contentType
	switch {
	case isForm(contentType):
		tool.Operation.BodyEncoding = BodyForm
	case isJSON(contentType):
		tool.Operation.BodyEncoding = BodyJSON
	default:
		tool.Operation.BodyEncoding = BodyRawData
	}

	typ := b.mapper.Map(media.Schema)
	if (isJSON(contentType) || isForm(contentType)) && typ.Kind == schema.KindObject && len(typ.Fields) > 0 {
		params := make([]Param, 0, len(typ.Fields))
		for _, f := range typ.Fields {
			params = append(params, Param{
				Name:     argumentName(f.Name),
				Wire:     f.Name,
				In:       InBody,
				Type:     f.Type,
				Required: rb.Required && f.Required,
				Default:  f.Default,
			})
		}
		return params
	}

	tool.Operation.BodyRaw = true
	return []Param{{
		Name:        "body",
		Wire:        "body",
		In:          InBody,
		Type:        typ,
		Required:    rb.Required,
		Description: strings.TrimSpace(rb.Description),
	}}
}

// serverParams exposes base_url placeholders as optional arguments.
func (b *Builder) serverParams(ns config.NamespaceConfig) []Param {
	var out []Param
	for _, name := range ns.BaseURLPlaceholders() {
		p := Param{
			Name:        name,
			Wire:        name,
			In:          InServer,
			Type:        &schema.Type{Kind: schema.KindString},
			Description: fmt.Sprintf("Value for {%s} in the API base URL.", name),
		}
		if v, ok := ns.BaseURLVars[name]; ok {
			p.Default = v
		}
		out = append(out, p)
	}
	return out
}

func describeOperation(method, path string, op *openapi3.Operation) string {
	summary := strings.TrimSpace(op.Summary)
	description := strings.TrimSpace(op.Description)
	switch {
	case summary != "" && description != "" && description != summary:
		return summary + "\n\n" + description
	case summary != "":
		return summary
	case description != "":
		return description
	default:
		return method + " " + path
	}
}

// pickMediaType prefers JSON, then form, then the first media type by name.
func pickMediaType(content openapi3.Content) (string, *openapi3.MediaType) {
	if len(content) == 0 {
		return "", nil
	}
	types := make([]string, 0, len(content))
	for ct := range content {
		types = append(types, ct)
	}
	sort.Strings(types)
	for _, match := range []func(string) bool{
		func(ct string) bool { return mediaType(ct) == "application/json" },
		isJSON,
		isForm,
	} {
		for _, ct := range types {
			if match(ct) {
				return ct, content[ct]
			}
		}
	}
	return types[0], content[types[0]]
}

func firstContentSchema(content openapi3.Content) *openapi3.SchemaRef {
	_, media := pickMediaType(content)
	if media == nil {
		return nil
	}
	return media.Schema
}

func mediaType(ct string) string {
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(ct))
	}
	return mt
}

func isJSON(ct string) bool {
	mt := mediaType(ct)
	return mt == "application/json" || strings.HasSuffix(mt, "+json")
}

func isForm(ct string) bool {
	return mediaType(ct) == "application/x-www-form-urlencoded"
}
