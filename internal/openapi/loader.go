package openapi

import (
	"context"
	"net/url"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/bobmcallan/mcp-openapi/internal/apperr"
)

// LoadSpec parses data as an OpenAPI 3.x document located at id. External
// references are read through the store.
func (s *Store) LoadSpec(ctx context.Context, id string, data []byte) (*openapi3.T, error) {
	location, err := locationURL(id)
	if err != nil {
		return nil, err
	}

	loader := openapi3.NewLoader()
	loader.Context = ctx
	loader.IsExternalRefsAllowed = true
	loader.ReadFromURIFunc = s.ReadFromURI

	spec, err := loader.LoadFromDataWithPath(data, location)
	if err != nil {
		return nil, apperr.WrapResolution(err, "load openapi document %s", id)
	}
	if !strings.HasPrefix(spec.OpenAPI, "3.") {
		return nil, apperr.Resolution("document %s declares openapi %q, only 3.x is supported", id, spec.OpenAPI)
	}
	return spec, nil
}

// LoadDocumentSpec encodes an in-memory document and parses it with LoadSpec.
func (s *Store) LoadDocumentSpec(ctx context.Context, doc *Document) (*openapi3.T, error) {
	data, err := Encode(doc, FormatJSON)
	if err != nil {
		return nil, apperr.WrapResolution(err, "encode document %s", doc.ID)
	}
	return s.LoadSpec(ctx, doc.ID, data)
}

func locationURL(id string) (*url.URL, error) {
	if isRemote(id) {
		u, err := url.Parse(id)
		if err != nil {
			return nil, apperr.WrapResolution(err, "invalid document url %q", id)
		}
		return u, nil
	}
	return &url.URL{Path: id}, nil
}
