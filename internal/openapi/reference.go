// Package openapi loads OpenAPI documents as generic trees, resolves their
// $ref graphs across documents and produces slimmed, self-contained copies.
package openapi

import (
	"net/url"
	"path"
	"path/filepath"
	"strings"

	"github.com/bobmcallan/mcp-openapi/internal/apperr"
)

// Reference identifies one node: a document and a JSON pointer inside it.
type Reference struct {
	Doc     string
	Pointer string
}

// String returns the absolute form used as the visited-set key.
func (r Reference) String() string {
	return r.Doc + "#" + r.Pointer
}

// Tokens returns the decoded pointer segments.
func (r Reference) Tokens() []string {
	return SplitPointer(r.Pointer)
}

// isRemote reports whether loc is an http(s) URL.
func isRemote(loc string) bool {
	return strings.HasPrefix(loc, "http://") || strings.HasPrefix(loc, "https://")
}

// NormalizeLocation turns a locator (URL, file:// URL or path) into a
// document id: http(s) URLs lose their fragment, file locations become
// absolute cleaned paths.
func NormalizeLocation(loc string) (string, error) {
	if isRemote(loc) {
		u, err := url.Parse(loc)
		if err != nil {
			return "", apperr.WrapResolution(err, "invalid document url %q", loc)
		}
		u.Fragment = ""
		u.RawFragment = ""
		return u.String(), nil
	}
	p := strings.TrimPrefix(loc, "file://")
	if unescaped, err := url.PathUnescape(p); err == nil {
		p = unescaped
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", apperr.WrapResolution(err, "invalid document path %q", loc)
	}
	return filepath.Clean(abs), nil
}

// ParseReference resolves a raw $ref value found in the document base.
func ParseReference(base, raw string) (Reference, error) {
	docPart, frag, _ := strings.Cut(raw, "#")

	doc := base
	if docPart != "" {
		var err error
		doc, err = resolveDocument(base, docPart)
		if err != nil {
			return Reference{}, err
		}
	}

	pointer, err := url.PathUnescape(frag)
	if err != nil {
		return Reference{}, apperr.WrapResolution(err, "invalid $ref fragment %q", raw)
	}
	if pointer != "" && !strings.HasPrefix(pointer, "/") {
		return Reference{}, apperr.Resolution("unsupported $ref fragment %q in %s", raw, base)
	}
	return Reference{Doc: doc, Pointer: pointer}, nil
}

func resolveDocument(base, rel string) (string, error) {
	if isRemote(rel) {
		return NormalizeLocation(rel)
	}
	if isRemote(base) {
		b, err := url.Parse(base)
		if err != nil {
			return "", apperr.WrapResolution(err, "invalid base url %q", base)
		}
		r, err := url.Parse(rel)
		if err != nil {
			return "", apperr.WrapResolution(err, "invalid $ref %q", rel)
		}
		return NormalizeLocation(b.ResolveReference(r).String())
	}
	rel = strings.TrimPrefix(rel, "file://")
	if unescaped, err := url.PathUnescape(rel); err == nil {
		rel = unescaped
	}
	if filepath.IsAbs(rel) {
		return filepath.Clean(rel), nil
	}
	return filepath.Clean(filepath.Join(filepath.Dir(base), filepath.FromSlash(rel))), nil
}

// SplitPointer decodes a JSON pointer into its reference tokens.
func SplitPointer(pointer string) []string {
	if pointer == "" {
		return nil
	}
	parts := strings.Split(strings.TrimPrefix(pointer, "/"), "/")
	for i, p := range parts {
		p = strings.ReplaceAll(p, "~1", "/")
		parts[i] = strings.ReplaceAll(p, "~0", "~")
	}
	return parts
}

// JoinPointer encodes tokens into a JSON pointer.
func JoinPointer(tokens ...string) string {
	var b strings.Builder
	for _, t := range tokens {
		t = strings.ReplaceAll(t, "~", "~0")
		b.WriteString("/")
		b.WriteString(strings.ReplaceAll(t, "/", "~1"))
	}
	return b.String()
}

// componentPointer reports the kind and name when pointer has the shape
// /components/<kind>/<name>.
func componentPointer(pointer string) (kind, name string, ok bool) {
	tokens := SplitPointer(pointer)
	if len(tokens) != 3 || tokens[0] != "components" {
		return "", "", false
	}
	if !componentKinds[tokens[1]] {
		return "", "", false
	}
	return tokens[1], tokens[2], true
}

// docBaseName returns a short name for a document id, used when a whole
// document is the target of a $ref.
func docBaseName(doc string) string {
	var base string
	if isRemote(doc) {
		if u, err := url.Parse(doc); err == nil {
			base = path.Base(u.Path)
		}
	} else {
		base = filepath.Base(doc)
	}
	return strings.TrimSuffix(base, path.Ext(base))
}
