package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bobmcallan/mcp-openapi/internal/apperr"
	"github.com/bobmcallan/mcp-openapi/internal/common"
	"github.com/bobmcallan/mcp-openapi/internal/config"
	"github.com/bobmcallan/mcp-openapi/internal/dispatch"
	"github.com/bobmcallan/mcp-openapi/internal/openapi"
	"github.com/bobmcallan/mcp-openapi/internal/registry"
)

// defaultLoadConcurrency bounds concurrent namespace loads.
const defaultLoadConcurrency = 4

// LoadObserver is told about namespace load attempts.
type LoadObserver interface {
	NamespaceLoaded(namespace, result string, tools int)
	NamespaceRemoved(namespace string)
}

// ManagerOptions are the shared collaborators of every namespace.
type ManagerOptions struct {
	Store           *openapi.Store
	ToolCache       *registry.ToolCache
	Dispatcher      *dispatch.Dispatcher
	IdleTimeout     time.Duration
	LoadConcurrency int
	Loads           LoadObserver
	Sessions        SessionObserver
	Logger          *common.Logger
}

// LoadReport is the outcome of one Load or Reload.
type LoadReport struct {
	// Served lists the namespaces routed after the load, sorted.
	Served []string
	// Failed maps a namespace to the error of this attempt. A namespace
	// can be both failed and served when it kept its previous tools.
	Failed map[string]error
}

// Manager owns every namespace and routes requests to them by the first
// path segment. Loads are serialized; request routing never blocks on them.
type Manager struct {
	opts    ManagerOptions
	slimmer *openapi.Slimmer
	builder *registry.Builder
	logger  *common.Logger

	mu     sync.Mutex
	routes atomic.Pointer[map[string]*Namespace]
}

// NewManager creates a Manager with no namespaces.
func NewManager(opts ManagerOptions) *Manager {
	if opts.LoadConcurrency <= 0 {
		opts.LoadConcurrency = defaultLoadConcurrency
	}
	m := &Manager{
		opts:    opts,
		slimmer: openapi.NewSlimmer(openapi.NewResolver(opts.Store, opts.Logger), opts.Logger),
		builder: registry.NewBuilder(opts.Logger),
		logger:  opts.Logger,
	}
	empty := map[string]*Namespace{}
	m.routes.Store(&empty)
	return m
}

// Load applies the namespace set. Problems with the set as a whole, such
// as duplicate ids, are a configuration error and change nothing. Each
// namespace then loads independently:
//   - success publishes its new tools;
//   - a configuration error stops serving it;
//   - any other error keeps its previous tools, if it had any.
//
// Namespaces absent from cfgs are closed.
func (m *Manager) Load(ctx context.Context, cfgs []config.NamespaceConfig) (*LoadReport, error) {
	if err := config.CheckNamespaces(cfgs); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	start := time.Now()
	current := *m.routes.Load()
	snaps := make([]*Snapshot, len(cfgs))
	errs := make([]error, len(cfgs))

	var g errgroup.Group
	g.SetLimit(m.opts.LoadConcurrency)
	for i, cfg := range cfgs {
		g.Go(func() error {
			snaps[i], errs[i] = m.loadNamespace(ctx, cfg)
			return nil
		})
	}
	_ = g.Wait()

	report := &LoadReport{Failed: make(map[string]error)}
	next := make(map[string]*Namespace, len(cfgs))
	for i, cfg := range cfgs {
		id := cfg.Namespace
		prev := current[id]
		err := errs[i]

		switch {
		case err == nil:
			ns := prev
			if ns == nil {
				ns = m.newNamespace(id)
			}
			ns.Install(snaps[i])
			next[id] = ns
			m.observeLoad(id, "ok", len(snaps[i].Tools))

		case apperr.IsConfiguration(err):
			report.Failed[id] = err
			m.observeLoad(id, apperr.Kind(err), 0)
			m.logger.Error().Str("namespace", id).Err(err).Msg("namespace configuration invalid, not served")

		default:
			report.Failed[id] = err
			m.observeLoad(id, apperr.Kind(err), 0)
			if prev != nil && prev.Snapshot() != nil {
				next[id] = prev
				m.logger.Warn().Str("namespace", id).Err(err).Msg("namespace load failed, keeping previous tools")
			} else {
				m.logger.Error().Str("namespace", id).Err(err).Msg("namespace load failed, not served")
			}
		}
	}

	m.routes.Store(&next)

	for id, ns := range current {
		if next[id] == ns {
			continue
		}
		if err := ns.Close(ctx); err != nil {
			m.logger.Warn().Str("namespace", id).Err(err).Msg("namespace close failed")
		}
		if m.opts.Loads != nil {
			m.opts.Loads.NamespaceRemoved(id)
		}
		m.logger.Info().Str("namespace", id).Msg("namespace removed")
	}

	report.Served = m.Namespaces()
	m.logger.Info().
		Int("namespaces", len(cfgs)).
		Int("served", len(report.Served)).
		Int("failed", len(report.Failed)).
		Int64("duration_ms", time.Since(start).Milliseconds()).
		Msg("namespaces loaded")
	return report, nil
}

func (m *Manager) newNamespace(id string) *Namespace {
	return NewNamespace(id, NamespaceOptions{
		Dispatcher:  m.opts.Dispatcher,
		IdleTimeout: m.opts.IdleTimeout,
		Sessions:    m.opts.Sessions,
		Logger:      m.logger,
	})
}

func (m *Manager) observeLoad(id, result string, tools int) {
	if m.opts.Loads != nil {
		m.opts.Loads.NamespaceLoaded(id, result, tools)
	}
}

// loadNamespace runs the load pipeline for one namespace: fetch the root
// document, reuse cached tools when its bytes are unchanged, otherwise
// parse (optionally slimmed) and build. A panic is returned as an error.
func (m *Manager) loadNamespace(ctx context.Context, cfg config.NamespaceConfig) (snap *Snapshot, err error) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error().
				Str("namespace", cfg.Namespace).
				Str("panic", fmt.Sprint(r)).
				Str("stack", string(debug.Stack())).
				Msg("panic loading namespace")
			err = fmt.Errorf("namespace %s: panic during load: %v", cfg.Namespace, r)
		}
	}()

	if err := cfg.Check(); err != nil {
		return nil, err
	}
	if _, err := openapi.NewSelector(cfg.Paths); err != nil {
		return nil, err
	}

	start := time.Now()
	location, err := openapi.NormalizeLocation(cfg.URL)
	if err != nil {
		return nil, err
	}
	root, err := m.opts.Store.Refresh(ctx, location)
	if err != nil {
		return nil, err
	}

	source := "cache"
	tools, ok := m.opts.ToolCache.Lookup(ctx, cfg, root.Digest)
	if !ok {
		source = "document"
		tools, err = m.buildTools(ctx, cfg, root)
		if err != nil {
			return nil, err
		}
		m.opts.ToolCache.Store(ctx, cfg, root.Digest, tools)
	}

	m.logger.Debug().
		Str("namespace", cfg.Namespace).
		Str("source", source).
		Int("tools", len(tools)).
		Int64("duration_ms", time.Since(start).Milliseconds()).
		Msg("namespace pipeline complete")

	return &Snapshot{
		Config:   cfg,
		Tools:    tools,
		Binding:  dispatch.NewBinding(cfg),
		Digest:   root.Digest,
		LoadedAt: time.Now(),
	}, nil
}

func (m *Manager) buildTools(ctx context.Context, cfg config.NamespaceConfig, root *openapi.Loaded) ([]*registry.Tool, error) {
	if !cfg.Slim {
		spec, err := m.opts.Store.LoadSpec(ctx, root.Doc.ID, root.Source.Data)
		if err != nil {
			return nil, err
		}
		return m.builder.Build(cfg, spec)
	}

	sel, err := openapi.NewSelector(cfg.Paths)
	if err != nil {
		return nil, err
	}
	slim, err := m.slimmer.Slim(ctx, root.Doc, sel)
	if err != nil {
		return nil, err
	}
	spec, err := m.opts.Store.LoadDocumentSpec(ctx, slim)
	if err != nil {
		return nil, err
	}
	return m.builder.Build(cfg, spec)
}

// Namespace returns the served namespace id.
func (m *Manager) Namespace(id string) (*Namespace, bool) {
	ns, ok := (*m.routes.Load())[id]
	return ns, ok
}

// Namespaces returns the served namespace ids, sorted.
func (m *Manager) Namespaces() []string {
	routes := *m.routes.Load()
	ids := make([]string, 0, len(routes))
	for id := range routes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Summaries returns the inspection view of every served namespace.
func (m *Manager) Summaries() map[string][]registry.Summary {
	routes := *m.routes.Load()
	out := make(map[string][]registry.Summary, len(routes))
	for id, ns := range routes {
		if snap := ns.Snapshot(); snap != nil {
			out[id] = registry.Summaries(snap.Tools)
		}
	}
	return out
}

// NamespaceSummaries returns the inspection view of one namespace.
func (m *Manager) NamespaceSummaries(id string) ([]registry.Summary, bool) {
	ns, ok := m.Namespace(id)
	if !ok {
		return nil, false
	}
	snap := ns.Snapshot()
	if snap == nil {
		return []registry.Summary{}, true
	}
	return registry.Summaries(snap.Tools), true
}

// Handles reports whether path belongs to a served namespace.
func (m *Manager) Handles(path string) bool {
	_, ok := m.Namespace(firstSegment(path))
	return ok
}

// ServeHTTP routes /<namespace>/... to the namespace's transports.
func (m *Manager) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := firstSegment(r.URL.Path)
	ns, ok := m.Namespace(id)
	if !ok {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"error": fmt.Sprintf("unknown namespace %q", id)})
		return
	}
	ns.ServeHTTP(w, r)
}

// Close closes every namespace.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for _, ns := range *m.routes.Load() {
		errs = append(errs, ns.Close(ctx))
	}
	empty := map[string]*Namespace{}
	m.routes.Store(&empty)
	return errors.Join(errs...)
}

func firstSegment(path string) string {
	path = strings.TrimPrefix(path, "/")
	if i := strings.IndexByte(path, '/'); i >= 0 {
		return path[:i]
	}
	return path
}
