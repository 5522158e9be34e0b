package registry

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/bobmcallan/mcp-openapi/internal/common"
	"github.com/bobmcallan/mcp-openapi/internal/config"
	"github.com/bobmcallan/mcp-openapi/internal/interfaces"
	"github.com/bobmcallan/mcp-openapi/internal/models"
)

// cacheFormat is bumped whenever the persisted tool layout changes.
const cacheFormat = "tools/v1"

// ToolCache persists built tool sets so a restart with an unchanged
// document skips building. Storage failures are logged and treated as
// misses; the cache never fails a namespace load.
type ToolCache struct {
	store  interfaces.ToolSetStorage
	logger *common.Logger
}

// NewToolCache creates a cache over store.
func NewToolCache(store interfaces.ToolSetStorage, logger *common.Logger) *ToolCache {
	return &ToolCache{store: store, logger: logger}
}

// CacheKey identifies the inputs that shape a namespace's tools apart from
// the document bytes themselves.
func CacheKey(ns config.NamespaceConfig) string {
	paths := append([]string(nil), ns.Paths...)
	sort.Strings(paths)

	vars := make([]string, 0, len(ns.BaseURLVars))
	for k, v := range ns.BaseURLVars {
		vars = append(vars, k+"="+v)
	}
	sort.Strings(vars)

	h := sha256.New()
	for _, part := range []string{
		cacheFormat,
		ns.URL,
		strings.Join(paths, "\n"),
		ns.Naming(),
		ns.BaseURL,
		strings.Join(vars, "\n"),
	} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Lookup returns the cached tools for ns when they were built from a
// document with digest.
func (c *ToolCache) Lookup(ctx context.Context, ns config.NamespaceConfig, digest string) ([]*Tool, bool) {
	key := CacheKey(ns)
	set, err := c.store.Get(ctx, key)
	if err != nil {
		c.logger.Warn().Str("namespace", ns.Namespace).Err(err).Msg("tool cache read failed")
		return nil, false
	}
	if set == nil {
		return nil, false
	}
	if !set.Matches(digest) {
		c.logger.Debug().Str("namespace", ns.Namespace).Msg("tool cache entry stale")
		return nil, false
	}
	var tools []*Tool
	if err := json.Unmarshal(set.Tools, &tools); err != nil {
		c.logger.Warn().Str("namespace", ns.Namespace).Err(err).Msg("tool cache entry unreadable")
		return nil, false
	}
	c.logger.Debug().Str("namespace", ns.Namespace).Int("tools", len(tools)).Msg("tool cache hit")
	return tools, true
}

// Store records tools built for ns from a document with digest,
// replacing any previous entry.
func (c *ToolCache) Store(ctx context.Context, ns config.NamespaceConfig, digest string, tools []*Tool) {
	data, err := json.Marshal(tools)
	if err != nil {
		c.logger.Warn().Str("namespace", ns.Namespace).Err(err).Msg("tool cache encode failed")
		return
	}
	set := &models.ToolSet{
		Key:       CacheKey(ns),
		Namespace: ns.Namespace,
		Source:    ns.URL,
		Digest:    digest,
		Tools:     data,
		CreatedAt: time.Now().UTC(),
	}
	if err := c.store.Put(ctx, set); err != nil {
		c.logger.Warn().Str("namespace", ns.Namespace).Err(err).Msg("tool cache write failed")
	}
}
