package openapi

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"time"

	"github.com/getkin/kin-openapi/openapi3"
	"golang.org/x/sync/singleflight"

	"github.com/bobmcallan/mcp-openapi/internal/cache"
	"github.com/bobmcallan/mcp-openapi/internal/common"
)

// Loaded is a fetched document: raw bytes, parsed tree and content digest.
type Loaded struct {
	Source *Source
	Doc    *Document
	Digest string
}

// Store is the shared cross-document cache. It is safe for concurrent use
// by every namespace; concurrent loads of one document are collapsed.
type Store struct {
	fetcher Fetcher
	entries *cache.Cache[*Loaded]
	group   singleflight.Group
	logger  *common.Logger
}

// NewStore creates a Store over fetcher.
func NewStore(fetcher Fetcher, ttl time.Duration, maxEntries int, logger *common.Logger) *Store {
	return &Store{
		fetcher: fetcher,
		entries: cache.New[*Loaded](ttl, maxEntries),
		logger:  logger,
	}
}

// Get returns the document id from cache, fetching it on a miss.
func (s *Store) Get(ctx context.Context, id string) (*Loaded, error) {
	if l, ok := s.entries.Get(id); ok {
		return l, nil
	}
	return s.load(ctx, "get:", id)
}

// Refresh fetches id again regardless of the cache and replaces the entry.
// Root documents are refreshed on every namespace load so edits are seen.
func (s *Store) Refresh(ctx context.Context, id string) (*Loaded, error) {
	return s.load(ctx, "refresh:", id)
}

// Document is Get without the raw bytes.
func (s *Store) Document(ctx context.Context, id string) (*Document, error) {
	l, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return l.Doc, nil
}

func (s *Store) load(ctx context.Context, prefix, id string) (*Loaded, error) {
	v, err, shared := s.group.Do(prefix+id, func() (any, error) {
		start := time.Now()
		src, err := s.fetcher.Fetch(ctx, id)
		if err != nil {
			return nil, err
		}
		doc, err := Parse(id, src.Data, src.Format)
		if err != nil {
			return nil, err
		}
		sum := sha256.Sum256(src.Data)
		l := &Loaded{Source: src, Doc: doc, Digest: hex.EncodeToString(sum[:])}
		s.entries.Set(id, l)

		s.logger.Debug().
			Str("document", id).
			Str("format", string(src.Format)).
			Int("bytes", len(src.Data)).
			Int64("duration_ms", time.Since(start).Milliseconds()).
			Msg("document loaded")
		return l, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		s.logger.Debug().Str("document", id).Msg("document load shared")
	}
	return v.(*Loaded), nil
}

// ReadFromURI serves kin-openapi's loader from the store so external
// references share the same cache as the resolver.
func (s *Store) ReadFromURI(loader *openapi3.Loader, u *url.URL) ([]byte, error) {
	ctx := context.Background()
	if loader != nil && loader.Context != nil {
		ctx = loader.Context
	}
	loc := u.String()
	if u.Scheme == "" || u.Scheme == "file" {
		loc = u.Path
	}
	id, err := NormalizeLocation(loc)
	if err != nil {
		return nil, err
	}
	l, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return l.Source.Data, nil
}
