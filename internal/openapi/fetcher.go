package openapi

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path"
	"strings"
	"time"

	"github.com/bobmcallan/mcp-openapi/internal/apperr"
)

// maxDocumentSize caps a fetched document.
const maxDocumentSize = 64 << 20

// Source is the raw bytes of a fetched document.
type Source struct {
	Location string
	Data     []byte
	Format   Format
}

// Fetcher retrieves raw documents by normalized location.
type Fetcher interface {
	Fetch(ctx context.Context, location string) (*Source, error)
}

// HTTPFileFetcher reads local files and http(s) URLs.
type HTTPFileFetcher struct {
	client *http.Client
}

// NewFetcher creates a fetcher with the given HTTP timeout.
func NewFetcher(timeout time.Duration) *HTTPFileFetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPFileFetcher{client: &http.Client{Timeout: timeout}}
}

// Fetch loads location, which must already be normalized.
func (f *HTTPFileFetcher) Fetch(ctx context.Context, location string) (*Source, error) {
	if isRemote(location) {
		return f.fetchHTTP(ctx, location)
	}
	data, err := os.ReadFile(location)
	if err != nil {
		return nil, apperr.WrapResolution(err, "read document %s", location)
	}
	return &Source{Location: location, Data: data, Format: detectFormat(location, "", data)}, nil
}

func (f *HTTPFileFetcher) fetchHTTP(ctx context.Context, location string) (*Source, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return nil, apperr.WrapResolution(err, "build request for %s", location)
	}
	req.Header.Set("Accept", "application/json, application/yaml;q=0.9, */*;q=0.5")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, apperr.WrapResolution(err, "fetch document %s", location)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize))
	if err != nil {
		return nil, apperr.WrapResolution(err, "read document %s", location)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, apperr.Resolution("fetch document %s: status %d", location, resp.StatusCode)
	}
	return &Source{
		Location: location,
		Data:     data,
		Format:   detectFormat(location, resp.Header.Get("Content-Type"), data),
	}, nil
}

// detectFormat uses the content type, then the extension, then sniffs.
func detectFormat(location, contentType string, data []byte) Format {
	if contentType != "" {
		if mt, _, err := mime.ParseMediaType(contentType); err == nil {
			switch {
			case mt == "application/json" || strings.HasSuffix(mt, "+json"):
				return FormatJSON
			case strings.Contains(mt, "yaml"):
				return FormatYAML
			}
		}
	}
	switch extOf(location) {
	case ".json":
		return FormatJSON
	case ".yaml", ".yml":
		return FormatYAML
	}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[') {
		return FormatJSON
	}
	return FormatYAML
}

func extOf(location string) string {
	if i := strings.IndexAny(location, "?#"); i >= 0 {
		location = location[:i]
	}
	return strings.ToLower(path.Ext(location))
}

// StaticFetcher serves documents from memory. Used by tests and by callers
// that already hold the bytes.
type StaticFetcher map[string][]byte

// Fetch returns the registered bytes for location.
func (s StaticFetcher) Fetch(_ context.Context, location string) (*Source, error) {
	data, ok := s[location]
	if !ok {
		return nil, apperr.Resolution("document %s not found", location)
	}
	return &Source{Location: location, Data: data, Format: detectFormat(location, "", data)}, nil
}

var _ Fetcher = StaticFetcher(nil)
var _ Fetcher = (*HTTPFileFetcher)(nil)

// String implements fmt.Stringer for log output.
func (s *Source) String() string {
	return fmt.Sprintf("%s (%s, %d bytes)", s.Location, s.Format, len(s.Data))
}
