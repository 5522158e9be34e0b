package openapi

import "strings"

// nodeContext is the OpenAPI object type a tree position holds. It decides how
// children are interpreted and which component kind a $ref found there
// points at.
type nodeContext int

const (
	ctxGeneric nodeContext = iota
	ctxLiteral
	ctxDocument
	ctxComponents
	ctxPaths
	ctxPathItem
	ctxOperation
	ctxSchema
	ctxSchemaMap
	ctxSchemaList
	ctxDiscriminator
	ctxParameter
	ctxParameterList
	ctxParameterMap
	ctxRequestBody
	ctxRequestBodyMap
	ctxResponse
	ctxResponseMap
	ctxHeader
	ctxHeaderMap
	ctxExample
	ctxExampleMap
	ctxLink
	ctxLinkMap
	ctxCallback
	ctxCallbackMap
	ctxPathItemMap
	ctxContentMap
	ctxMediaType
	ctxEncodingMap
	ctxEncoding
	ctxSecuritySchemeMap
)

// Component kinds under #/components.
const (
	KindSchemas         = "schemas"
	KindParameters      = "parameters"
	KindRequestBodies   = "requestBodies"
	KindResponses       = "responses"
	KindHeaders         = "headers"
	KindExamples        = "examples"
	KindLinks           = "links"
	KindCallbacks       = "callbacks"
	KindPathItems       = "pathItems"
	KindSecuritySchemes = "securitySchemes"
)

var componentKinds = map[string]bool{
	KindSchemas: true, KindParameters: true, KindRequestBodies: true,
	KindResponses: true, KindHeaders: true, KindExamples: true,
	KindLinks: true, KindCallbacks: true, KindPathItems: true,
	KindSecuritySchemes: true,
}

// componentOrder fixes the emission order of component kinds.
var componentOrder = []string{
	KindSchemas, KindParameters, KindRequestBodies, KindResponses,
	KindHeaders, KindExamples, KindLinks, KindCallbacks, KindPathItems,
}

// httpMethods are the operation keys of a path item, in emission order.
var httpMethods = []string{"get", "put", "post", "delete", "options", "head", "patch", "trace"}

func isMethod(key string) bool {
	for _, m := range httpMethods {
		if m == key {
			return true
		}
	}
	return false
}

// kindContext maps a component kind to the context of its values.
func kindContext(kind string) nodeContext {
	switch kind {
	case KindSchemas:
		return ctxSchema
	case KindParameters:
		return ctxParameter
	case KindRequestBodies:
		return ctxRequestBody
	case KindResponses:
		return ctxResponse
	case KindHeaders:
		return ctxHeader
	case KindExamples:
		return ctxExample
	case KindLinks:
		return ctxLink
	case KindCallbacks:
		return ctxCallback
	case KindPathItems:
		return ctxPathItem
	default:
		return ctxGeneric
	}
}

// contextKind is the component kind a $ref in context c points at.
func contextKind(c nodeContext) string {
	switch c {
	case ctxParameter:
		return KindParameters
	case ctxRequestBody:
		return KindRequestBodies
	case ctxResponse:
		return KindResponses
	case ctxHeader:
		return KindHeaders
	case ctxExample:
		return KindExamples
	case ctxLink:
		return KindLinks
	case ctxCallback:
		return KindCallbacks
	case ctxPathItem:
		return KindPathItems
	default:
		return KindSchemas
	}
}

// childContext returns the context of value[key] given the parent context.
func childContext(parent nodeContext, key string) nodeContext {
	switch parent {
	case ctxLiteral:
		return ctxLiteral
	case ctxDocument:
		switch key {
		case "paths":
			return ctxPaths
		case "webhooks":
			return ctxPathItemMap
		case "components":
			return ctxComponents
		}
	case ctxComponents:
		switch key {
		case KindSchemas:
			return ctxSchemaMap
		case KindParameters:
			return ctxParameterMap
		case KindRequestBodies:
			return ctxRequestBodyMap
		case KindResponses:
			return ctxResponseMap
		case KindHeaders:
			return ctxHeaderMap
		case KindExamples:
			return ctxExampleMap
		case KindLinks:
			return ctxLinkMap
		case KindCallbacks:
			return ctxCallbackMap
		case KindPathItems:
			return ctxPathItemMap
		case KindSecuritySchemes:
			return ctxSecuritySchemeMap
		}
	case ctxPaths, ctxPathItemMap, ctxCallback:
		if strings.HasPrefix(key, "x-") {
			return ctxLiteral
		}
		return ctxPathItem
	case ctxPathItem:
		switch {
		case key == "parameters":
			return ctxParameterList
		case isMethod(key):
			return ctxOperation
		}
	case ctxOperation:
		switch key {
		case "parameters":
			return ctxParameterList
		case "requestBody":
			return ctxRequestBody
		case "responses":
			return ctxResponseMap
		case "callbacks":
			return ctxCallbackMap
		}
	case ctxSchema:
		switch key {
		case "properties", "patternProperties", "$defs", "definitions", "dependentSchemas":
			return ctxSchemaMap
		case "allOf", "anyOf", "oneOf", "prefixItems":
			return ctxSchemaList
		case "items", "additionalProperties", "not", "if", "then", "else", "contains",
			"propertyNames", "unevaluatedItems", "unevaluatedProperties", "additionalItems":
			return ctxSchema
		case "discriminator":
			return ctxDiscriminator
		case "example", "examples", "default", "enum", "const":
			return ctxLiteral
		}
	case ctxSchemaMap, ctxSchemaList:
		return ctxSchema
	case ctxParameterList, ctxParameterMap:
		return ctxParameter
	case ctxRequestBodyMap:
		return ctxRequestBody
	case ctxResponseMap:
		return ctxResponse
	case ctxHeaderMap:
		return ctxHeader
	case ctxExampleMap:
		return ctxExample
	case ctxLinkMap:
		return ctxLink
	case ctxCallbackMap:
		return ctxCallback
	case ctxContentMap:
		return ctxMediaType
	case ctxEncodingMap:
		return ctxEncoding
	case ctxParameter, ctxHeader:
		switch key {
		case "schema":
			return ctxSchema
		case "content":
			return ctxContentMap
		case "examples":
			return ctxExampleMap
		case "example":
			return ctxLiteral
		}
	case ctxRequestBody, ctxResponse:
		switch key {
		case "content":
			return ctxContentMap
		case "headers":
			return ctxHeaderMap
		case "links":
			return ctxLinkMap
		}
	case ctxMediaType:
		switch key {
		case "schema":
			return ctxSchema
		case "examples":
			return ctxExampleMap
		case "example":
			return ctxLiteral
		case "encoding":
			return ctxEncodingMap
		}
	case ctxEncoding:
		if key == "headers" {
			return ctxHeaderMap
		}
	case ctxExample:
		if key == "value" {
			return ctxLiteral
		}
	case ctxLink, ctxSecuritySchemeMap:
		return ctxLiteral
	case ctxDiscriminator:
		return ctxLiteral
	}
	if strings.HasPrefix(key, "x-") {
		return ctxLiteral
	}
	return ctxGeneric
}

// refVisitor is called for every $ref and discriminator mapping target.
// kind is the component kind implied by the position.
type refVisitor func(raw string, kind string, mapping bool) error

// walkRefs visits every reference in v without descending into literals.
func walkRefs(v any, c nodeContext, visit refVisitor) error {
	if c == ctxLiteral {
		return nil
	}
	switch t := v.(type) {
	case map[string]any:
		if raw, ok := t["$ref"].(string); ok {
			if err := visit(raw, contextKind(c), false); err != nil {
				return err
			}
		}
		if c == ctxDiscriminator {
			if mapping, ok := t["mapping"].(map[string]any); ok {
				for _, k := range sortedKeys(mapping) {
					if raw, ok := mapping[k].(string); ok {
						if err := visit(raw, KindSchemas, true); err != nil {
							return err
						}
					}
				}
			}
			return nil
		}
		for _, k := range sortedKeys(t) {
			if k == "$ref" {
				continue
			}
			if err := walkRefs(t[k], childContext(c, k), visit); err != nil {
				return err
			}
		}
	case []any:
		for _, child := range t {
			if err := walkRefs(child, childContext(c, ""), visit); err != nil {
				return err
			}
		}
	}
	return nil
}

// refRewriter returns the replacement for a $ref or mapping value, or
// ok=false to keep it.
type refRewriter func(raw string, mapping bool) (string, bool)

// rewriteRefs deep-copies v replacing references; literals are copied untouched.
func rewriteRefs(v any, c nodeContext, rewrite refRewriter) any {
	if c == ctxLiteral {
		return deepCopy(v)
	}
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, child := range t {
			switch {
			case k == "$ref":
				raw, isString := child.(string)
				if isString {
					if repl, ok := rewrite(raw, false); ok {
						out[k] = repl
						continue
					}
				}
				out[k] = deepCopy(child)
			case c == ctxDiscriminator && k == "mapping":
				out[k] = rewriteMapping(child, rewrite)
			default:
				out[k] = rewriteRefs(child, childContext(c, k), rewrite)
			}
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, child := range t {
			out[i] = rewriteRefs(child, childContext(c, ""), rewrite)
		}
		return out
	default:
		return v
	}
}

func rewriteMapping(v any, rewrite refRewriter) any {
	m, ok := v.(map[string]any)
	if !ok {
		return deepCopy(v)
	}
	out := make(map[string]any, len(m))
	for k, child := range m {
		raw, isString := child.(string)
		if isString {
			if repl, ok := rewrite(raw, true); ok {
				out[k] = repl
				continue
			}
		}
		out[k] = deepCopy(child)
	}
	return out
}
