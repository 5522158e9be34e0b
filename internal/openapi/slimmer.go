package openapi

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/bobmcallan/mcp-openapi/internal/apperr"
	"github.com/bobmcallan/mcp-openapi/internal/common"
)

// topLevelKeys are copied verbatim into a slimmed document.
var topLevelKeys = []string{"openapi", "info", "jsonSchemaDialect", "servers", "security", "tags", "externalDocs"}

var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// Slimmer produces minimal self-contained documents for a route selection.
type Slimmer struct {
	resolver *Resolver
	logger   *common.Logger
}

// NewSlimmer creates a Slimmer backed by resolver.
func NewSlimmer(resolver *Resolver, logger *common.Logger) *Slimmer {
	return &Slimmer{resolver: resolver, logger: logger}
}

// keptItem is a selected path with its filtered path item.
type keptItem struct {
	path string
	doc  *Document
	item map[string]any
}

// Slim returns a new document holding only the operations sel matches and
// exactly the components they reach. Every referenced node, from this or
// any external document, is placed under #/components and every $ref is
// rewritten to point there. The source document is not modified.
func (s *Slimmer) Slim(ctx context.Context, doc *Document, sel *Selector) (*Document, error) {
	start := time.Now()
	src := doc.Map()
	if src == nil {
		return nil, apperr.Resolution("document %s is not an object", doc.ID)
	}
	paths, _ := src["paths"].(map[string]any)

	var kept []keptItem
	var roots []Root
	security := newSecurityNames(src["security"])
	operations := 0

	for _, p := range sortedKeys(paths) {
		if strings.HasPrefix(p, "x-") {
			continue
		}
		value, itemDoc, err := s.resolver.Deref(ctx, doc, paths[p])
		if err != nil {
			return nil, err
		}
		item, ok := value.(map[string]any)
		if !ok {
			continue
		}

		filtered := make(map[string]any, len(item))
		selected := 0
		for k, v := range item {
			switch {
			case k == "$ref":
			case isMethod(k):
				if sel.Match(k, p) {
					filtered[k] = v
					selected++
					if opMap, ok := v.(map[string]any); ok {
						security.add(opMap["security"])
					}
				}
			default:
				filtered[k] = v
			}
		}
		if selected == 0 {
			continue
		}
		operations += selected
		kept = append(kept, keptItem{path: p, doc: itemDoc, item: filtered})
		roots = append(roots, PathItemRoot(itemDoc, filtered))
	}

	graph, err := s.resolver.Reachable(ctx, roots...)
	if err != nil {
		return nil, err
	}

	targets, components := assignComponents(doc, graph)
	rewriter := func(d *Document) refRewriter {
		return func(raw string, mapping bool) (string, bool) {
			ref, ok, err := resolveTarget(d, raw, mapping)
			if err != nil || !ok {
				return "", false
			}
			target, ok := targets[ref.String()]
			return target, ok
		}
	}

	out := make(map[string]any, len(topLevelKeys)+2)
	for _, k := range topLevelKeys {
		if v, ok := src[k]; ok {
			out[k] = deepCopy(v)
		}
	}

	outPaths := make(map[string]any, len(kept))
	for _, k := range kept {
		outPaths[k.path] = rewriteRefs(k.item, ctxPathItem, rewriter(k.doc))
	}
	out["paths"] = outPaths

	outComponents := make(map[string]any)
	for _, kind := range componentOrder {
		entries := components[kind]
		if len(entries) == 0 {
			continue
		}
		m := make(map[string]any, len(entries))
		for name, n := range entries {
			m[name] = rewriteRefs(n.Value, kindContext(kind), rewriter(graph.docs[n.Ref.Doc]))
		}
		outComponents[kind] = m
	}
	if schemes := security.copyFrom(src); len(schemes) > 0 {
		outComponents[KindSecuritySchemes] = schemes
	}
	if len(outComponents) > 0 {
		out["components"] = outComponents
	}

	s.logger.Debug().
		Str("document", doc.ID).
		Int("paths", len(kept)).
		Int("operations", operations).
		Int("components", graph.Len()).
		Int64("duration_ms", time.Since(start).Milliseconds()).
		Msg("document slimmed")

	return &Document{ID: doc.ID, Format: doc.Format, Root: out}, nil
}

// assignComponents names every referenced node. Nodes already at
// #/components/<kind>/<name> of the main document keep their name; the
// rest take their last pointer segment with a numeric suffix on collision.
func assignComponents(main *Document, graph *Graph) (map[string]string, map[string]map[string]*Node) {
	targets := make(map[string]string, graph.Len())
	components := make(map[string]map[string]*Node)

	assign := func(n *Node, name string) {
		if components[n.Kind] == nil {
			components[n.Kind] = make(map[string]*Node)
		}
		components[n.Kind][name] = n
		targets[n.Ref.String()] = "#" + JoinPointer("components", n.Kind, name)
	}

	for _, n := range graph.Nodes() {
		if n.Ref.Doc != main.ID {
			continue
		}
		if kind, name, ok := componentPointer(n.Ref.Pointer); ok && kind == n.Kind {
			if _, taken := components[kind][name]; !taken {
				assign(n, name)
			}
		}
	}

	for _, n := range graph.Nodes() {
		if _, done := targets[n.Ref.String()]; done {
			continue
		}
		base := componentBaseName(n.Ref)
		name := base
		for i := 2; ; i++ {
			if _, taken := components[n.Kind][name]; !taken {
				break
			}
			name = fmt.Sprintf("%s_%d", base, i)
		}
		assign(n, name)
	}
	return targets, components
}

func componentBaseName(ref Reference) string {
	tokens := ref.Tokens()
	base := ""
	if len(tokens) > 0 {
		base = tokens[len(tokens)-1]
	}
	if base == "" {
		base = docBaseName(ref.Doc)
	}
	base = unsafeNameChars.ReplaceAllString(base, "_")
	if base == "" {
		base = "Component"
	}
	return base
}

// securityNames collects security scheme names used by requirements.
type securityNames map[string]bool

func newSecurityNames(requirements any) securityNames {
	s := make(securityNames)
	s.add(requirements)
	return s
}

func (s securityNames) add(requirements any) {
	list, ok := requirements.([]any)
	if !ok {
		return
	}
	for _, req := range list {
		if m, ok := req.(map[string]any); ok {
			for name := range m {
				s[name] = true
			}
		}
	}
}

func (s securityNames) copyFrom(src map[string]any) map[string]any {
	comps, _ := src["components"].(map[string]any)
	schemes, _ := comps[KindSecuritySchemes].(map[string]any)
	out := make(map[string]any)
	for name := range s {
		if v, ok := schemes[name]; ok {
			out[name] = deepCopy(v)
		}
	}
	return out
}

// DanglingRefs lists every reference in doc that does not resolve inside
// doc itself. A slimmed document always returns an empty list.
func DanglingRefs(doc *Document) []string {
	seen := make(map[string]bool)
	var dangling []string
	_ = walkRefs(doc.Root, ctxDocument, func(raw, _ string, mapping bool) error {
		ref, ok, err := resolveTarget(doc, raw, mapping)
		if !ok && err == nil {
			return nil
		}
		bad := err != nil || ref.Doc != doc.ID
		if !bad {
			_, found := doc.Lookup(ref.Pointer)
			bad = !found
		}
		if bad && !seen[raw] {
			seen[raw] = true
			dangling = append(dangling, raw)
		}
		return nil
	})
	sort.Strings(dangling)
	return dangling
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
