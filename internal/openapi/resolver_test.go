package openapi

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/bobmcallan/mcp-openapi/internal/apperr"
	"github.com/bobmcallan/mcp-openapi/internal/common"
)

func nodePointers(g *Graph) []string {
	var out []string
	for _, n := range g.Nodes() {
		out = append(out, n.Ref.Pointer)
	}
	return out
}

// --- Reachability ---

func TestReachable_OperationRoot(t *testing.T) {
	dir := writeSpecs(t, map[string]string{"openapi.yaml": billingSpec})
	store := testStore()
	doc := loadDoc(t, store, filepath.Join(dir, "openapi.yaml"))
	r := NewResolver(store, common.NewSilentLogger())

	op, ok := doc.Lookup("/paths/~1v1~1customers/get")
	require.True(t, ok)

	g, err := r.Reachable(t.Context(), OperationRoot(doc, op))
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{
		"/components/parameters/Limit",
		"/components/schemas/Customer",
		"/components/schemas/Address",
	}, nodePointers(g))

	n, ok := g.Lookup(Reference{Doc: doc.ID, Pointer: "/components/parameters/Limit"})
	require.True(t, ok)
	assert.Equal(t, KindParameters, n.Kind)
	assert.NotNil(t, n.Value)
}

func TestReachable_CycleTerminates(t *testing.T) {
	spec := `openapi: 3.0.3
info: {title: t, version: "1"}
paths: {}
components:
  schemas:
    A:
      type: object
      properties:
        b: {$ref: '#/components/schemas/B'}
    B:
      type: object
      properties:
        a: {$ref: '#/components/schemas/A'}
        self: {$ref: '#/components/schemas/B'}
`
	doc, err := Parse("/cycle.yaml", []byte(spec), FormatYAML)
	require.NoError(t, err)
	r := NewResolver(nil, common.NewSilentLogger())

	g, err := r.Reachable(t.Context(), SchemaRoot(doc, map[string]any{"$ref": "#/components/schemas/A"}))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"/components/schemas/A", "/components/schemas/B"}, nodePointers(g))
}

func TestReachable_DiamondVisitsOnce(t *testing.T) {
	spec := `components:
  schemas:
    Top:
      allOf:
        - $ref: '#/components/schemas/Left'
        - $ref: '#/components/schemas/Right'
    Left:
      properties:
        x: {$ref: '#/components/schemas/Bottom'}
    Right:
      properties:
        y: {$ref: '#/components/schemas/Bottom'}
    Bottom:
      type: string
`
	doc, err := Parse("/diamond.yaml", []byte(spec), FormatYAML)
	require.NoError(t, err)
	r := NewResolver(nil, common.NewSilentLogger())

	g, err := r.Reachable(t.Context(), SchemaRoot(doc, map[string]any{"$ref": "#/components/schemas/Top"}))
	require.NoError(t, err)
	assert.Equal(t, 4, g.Len())
}

func TestReachable_ExternalDocuments(t *testing.T) {
	dir := writeSpecs(t, map[string]string{
		"main.yaml": `openapi: 3.0.3
info: {title: t, version: "1"}
paths:
  /things:
    get:
      responses:
        "200":
          description: ok
          content:
            application/json:
              schema:
                $ref: 'common/types.yaml#/Thing'
`,
		"common/types.yaml": `Thing:
  type: object
  properties:
    origin:
      $ref: '#/Country'
Country:
  type: string
  enum: [NZ, AU]
`,
	})
	store := testStore()
	doc := loadDoc(t, store, filepath.Join(dir, "main.yaml"))
	r := NewResolver(store, common.NewSilentLogger())

	op, _ := doc.Lookup("/paths/~1things/get")
	g, err := r.Reachable(t.Context(), OperationRoot(doc, op))
	require.NoError(t, err)

	external := filepath.Join(dir, "common", "types.yaml")
	thing, ok := g.Lookup(Reference{Doc: external, Pointer: "/Thing"})
	require.True(t, ok)
	assert.Equal(t, KindSchemas, thing.Kind)

	country, ok := g.Lookup(Reference{Doc: external, Pointer: "/Country"})
	require.True(t, ok)
	assert.Equal(t, KindSchemas, country.Kind)
}

func TestReachable_MissingPointer(t *testing.T) {
	spec := `components:
  schemas:
    A:
      properties:
        b: {$ref: '#/components/schemas/Missing'}
`
	doc, err := Parse("/missing.yaml", []byte(spec), FormatYAML)
	require.NoError(t, err)
	r := NewResolver(nil, common.NewSilentLogger())

	_, err = r.Reachable(t.Context(), SchemaRoot(doc, map[string]any{"$ref": "#/components/schemas/A"}))
	require.Error(t, err)

	var unresolvable *apperr.UnresolvableReferenceError
	require.True(t, errors.As(err, &unresolvable))
	assert.Equal(t, "/missing.yaml#/components/schemas/Missing", unresolvable.Ref)
	assert.True(t, apperr.IsResolution(err))
}

func TestReachable_MissingDocument(t *testing.T) {
	store := NewStore(StaticFetcher{}, 0, 0, common.NewSilentLogger())
	doc, err := Parse("/root.yaml", []byte("x: 1"), FormatYAML)
	require.NoError(t, err)
	r := NewResolver(store, common.NewSilentLogger())

	_, err = r.Reachable(t.Context(), SchemaRoot(doc, map[string]any{"$ref": "other.yaml#/A"}))
	require.Error(t, err)
	assert.True(t, apperr.IsResolution(err))
}

func TestReachable_SkipsLiterals(t *testing.T) {
	spec := `components:
  schemas:
    A:
      type: object
      example:
        $ref: '#/components/schemas/Nowhere'
      x-vendor:
        $ref: '#/components/schemas/Nowhere'
      default:
        $ref: '#/components/schemas/Nowhere'
`
	doc, err := Parse("/literal.yaml", []byte(spec), FormatYAML)
	require.NoError(t, err)
	r := NewResolver(nil, common.NewSilentLogger())

	g, err := r.Reachable(t.Context(), SchemaRoot(doc, map[string]any{"$ref": "#/components/schemas/A"}))
	require.NoError(t, err)
	assert.Equal(t, []string{"/components/schemas/A"}, nodePointers(g))
}

func TestReachable_DiscriminatorMapping(t *testing.T) {
	spec := `components:
  schemas:
    Pet:
      oneOf:
        - $ref: '#/components/schemas/Cat'
      discriminator:
        propertyName: kind
        mapping:
          cat: Cat
          dog: '#/components/schemas/Dog'
          bird: NotASchema
    Cat:
      type: object
    Dog:
      type: object
`
	doc, err := Parse("/pets.yaml", []byte(spec), FormatYAML)
	require.NoError(t, err)
	r := NewResolver(nil, common.NewSilentLogger())

	g, err := r.Reachable(t.Context(), SchemaRoot(doc, map[string]any{"$ref": "#/components/schemas/Pet"}))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		"/components/schemas/Pet",
		"/components/schemas/Cat",
		"/components/schemas/Dog",
	}, nodePointers(g))
}

func TestDeref_FollowsChain(t *testing.T) {
	spec := `paths:
  /a:
    $ref: '#/x-items/first'
x-items:
  first:
    $ref: '#/x-items/second'
  second:
    get:
      summary: found
`
	doc, err := Parse("/chain.yaml", []byte(spec), FormatYAML)
	require.NoError(t, err)
	r := NewResolver(nil, common.NewSilentLogger())

	item, _ := doc.Lookup("/paths/~1a")
	value, at, err := r.Deref(t.Context(), doc, item)
	require.NoError(t, err)
	assert.Equal(t, doc, at)
	get := value.(map[string]any)["get"].(map[string]any)
	assert.Equal(t, "found", get["summary"])
}

// --- Properties ---

// Random schema graphs, cycles included, always terminate with each
// component visited at most once.
func TestReachable_RandomGraphsTerminate(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(1, 12).Draw(rt, "n")
		schemas := make(map[string]any, n)
		for i := 0; i < n; i++ {
			edges := rapid.SliceOfN(rapid.IntRange(0, n-1), 0, 4).Draw(rt, fmt.Sprintf("edges%d", i))
			props := make(map[string]any, len(edges))
			for j, e := range edges {
				props[fmt.Sprintf("p%d", j)] = map[string]any{"$ref": fmt.Sprintf("#/components/schemas/S%d", e)}
			}
			schemas[fmt.Sprintf("S%d", i)] = map[string]any{"type": "object", "properties": props}
		}
		doc := &Document{ID: "/random.yaml", Format: FormatYAML, Root: map[string]any{
			"components": map[string]any{"schemas": schemas},
		}}
		r := NewResolver(nil, common.NewSilentLogger())

		start := rapid.IntRange(0, n-1).Draw(rt, "start")
		g, err := r.Reachable(t.Context(), SchemaRoot(doc, map[string]any{"$ref": fmt.Sprintf("#/components/schemas/S%d", start)}))
		if err != nil {
			rt.Fatalf("reachable: %v", err)
		}
		if g.Len() > n {
			rt.Fatalf("visited %d nodes from %d schemas", g.Len(), n)
		}
		seen := make(map[string]bool)
		for _, p := range nodePointers(g) {
			if seen[p] {
				rt.Fatalf("node %s visited twice", p)
			}
			seen[p] = true
			if !strings.HasPrefix(p, "/components/schemas/S") {
				rt.Fatalf("unexpected node %s", p)
			}
		}
	})
}
