package openapi

import (
	"context"
	"strings"

	"github.com/bobmcallan/mcp-openapi/internal/apperr"
	"github.com/bobmcallan/mcp-openapi/internal/common"
)

// maxRefChain bounds $ref-to-$ref indirection when dereferencing one value.
const maxRefChain = 32

// Node is one referenced value discovered by the resolver.
type Node struct {
	Ref   Reference
	Kind  string
	Value any
}

// Graph is the set of nodes reachable from a root set, in discovery order.
type Graph struct {
	nodes []*Node
	index map[string]*Node
	docs  map[string]*Document
}

// Nodes returns the referenced nodes in discovery order.
func (g *Graph) Nodes() []*Node {
	return g.nodes
}

// Len returns the number of referenced nodes.
func (g *Graph) Len() int {
	return len(g.nodes)
}

// Lookup returns the node for ref, if reachable.
func (g *Graph) Lookup(ref Reference) (*Node, bool) {
	n, ok := g.index[ref.String()]
	return n, ok
}

// Root is a starting point for reachability: a value inside a document
// together with the OpenAPI object type it holds.
type Root struct {
	Doc   *Document
	Value any
	ctx   nodeContext
}

// OperationRoot roots an operation object.
func OperationRoot(doc *Document, op any) Root {
	return Root{Doc: doc, Value: op, ctx: ctxOperation}
}

// ParametersRoot roots a parameter list.
func ParametersRoot(doc *Document, params any) Root {
	return Root{Doc: doc, Value: params, ctx: ctxParameterList}
}

// PathItemRoot roots a path item object.
func PathItemRoot(doc *Document, item any) Root {
	return Root{Doc: doc, Value: item, ctx: ctxPathItem}
}

// SchemaRoot roots a schema object.
func SchemaRoot(doc *Document, schema any) Root {
	return Root{Doc: doc, Value: schema, ctx: ctxSchema}
}

// DocumentRoot roots a whole OpenAPI document.
func DocumentRoot(doc *Document) Root {
	return Root{Doc: doc, Value: doc.Root, ctx: ctxDocument}
}

// Resolver computes $ref reachability across documents.
type Resolver struct {
	store  *Store
	logger *common.Logger
}

// NewResolver creates a resolver loading external documents through store.
func NewResolver(store *Store, logger *common.Logger) *Resolver {
	return &Resolver{store: store, logger: logger}
}

// Reachable returns every node transitively referenced from roots. Each
// node is visited once regardless of how many paths lead to it, so cycles
// and diamonds terminate. A reference to a missing pointer fails the whole
// call.
func (r *Resolver) Reachable(ctx context.Context, roots ...Root) (*Graph, error) {
	g := &Graph{index: make(map[string]*Node)}
	docs := make(map[string]*Document)
	var queue []*Node

	visitor := func(doc *Document) refVisitor {
		return func(raw, kind string, mapping bool) error {
			ref, ok, err := resolveTarget(doc, raw, mapping)
			if err != nil || !ok {
				return err
			}
			key := ref.String()
			if _, seen := g.index[key]; seen {
				return nil
			}
			if k, _, isComponent := componentPointer(ref.Pointer); isComponent {
				kind = k
			}
			n := &Node{Ref: ref, Kind: kind}
			g.index[key] = n
			g.nodes = append(g.nodes, n)
			queue = append(queue, n)
			return nil
		}
	}

	for _, root := range roots {
		docs[root.Doc.ID] = root.Doc
		if err := walkRefs(root.Value, root.ctx, visitor(root.Doc)); err != nil {
			return nil, err
		}
	}

	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n := queue[0]
		queue = queue[1:]

		doc, err := r.document(ctx, docs, n.Ref.Doc)
		if err != nil {
			return nil, err
		}
		val, ok := doc.Lookup(n.Ref.Pointer)
		if !ok {
			return nil, apperr.Unresolvable(n.Ref.String())
		}
		n.Value = val
		if err := walkRefs(val, kindContext(n.Kind), visitor(doc)); err != nil {
			return nil, err
		}
	}

	g.docs = docs
	r.logger.Debug().
		Int("roots", len(roots)).
		Int("nodes", len(g.nodes)).
		Int("documents", len(docs)).
		Msg("reference graph resolved")
	return g, nil
}

// Deref follows a chain of $ref objects starting at value and returns the
// first non-reference value together with the document it lives in.
func (r *Resolver) Deref(ctx context.Context, doc *Document, value any) (any, *Document, error) {
	docs := map[string]*Document{doc.ID: doc}
	for i := 0; i < maxRefChain; i++ {
		m, ok := value.(map[string]any)
		if !ok {
			return value, doc, nil
		}
		raw, ok := m["$ref"].(string)
		if !ok {
			return value, doc, nil
		}
		ref, err := ParseReference(doc.ID, raw)
		if err != nil {
			return nil, nil, err
		}
		doc, err = r.document(ctx, docs, ref.Doc)
		if err != nil {
			return nil, nil, err
		}
		value, ok = doc.Lookup(ref.Pointer)
		if !ok {
			return nil, nil, apperr.Unresolvable(ref.String())
		}
	}
	return nil, nil, apperr.Resolution("$ref chain longer than %d in %s", maxRefChain, doc.ID)
}

func (r *Resolver) document(ctx context.Context, docs map[string]*Document, id string) (*Document, error) {
	if doc, ok := docs[id]; ok {
		return doc, nil
	}
	if r.store == nil {
		return nil, apperr.Resolution("external document %s is not available", id)
	}
	doc, err := r.store.Document(ctx, id)
	if err != nil {
		return nil, apperr.WrapResolution(err, "load referenced document")
	}
	docs[id] = doc
	return doc, nil
}

// resolveTarget turns a raw $ref (or discriminator mapping value) found in
// doc into a Reference. Mapping values may be bare schema names; a bare
// name that names no schema is skipped (ok=false).
func resolveTarget(doc *Document, raw string, mapping bool) (Reference, bool, error) {
	if mapping && !strings.Contains(raw, "#") {
		pointer := JoinPointer("components", KindSchemas, raw)
		if _, ok := doc.Lookup(pointer); ok {
			return Reference{Doc: doc.ID, Pointer: pointer}, true, nil
		}
		if !strings.ContainsAny(raw, "/.") {
			return Reference{}, false, nil
		}
	}
	ref, err := ParseReference(doc.ID, raw)
	if err != nil {
		return Reference{}, false, err
	}
	return ref, true, nil
}
