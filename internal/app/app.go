package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bobmcallan/mcp-openapi/internal/common"
	"github.com/bobmcallan/mcp-openapi/internal/config"
	"github.com/bobmcallan/mcp-openapi/internal/dispatch"
	"github.com/bobmcallan/mcp-openapi/internal/handlers"
	"github.com/bobmcallan/mcp-openapi/internal/interfaces"
	"github.com/bobmcallan/mcp-openapi/internal/mcp"
	"github.com/bobmcallan/mcp-openapi/internal/metrics"
	"github.com/bobmcallan/mcp-openapi/internal/openapi"
	"github.com/bobmcallan/mcp-openapi/internal/registry"
	"github.com/bobmcallan/mcp-openapi/internal/storage"
)

// documentFetchTimeout bounds one fetch of an OpenAPI document.
const documentFetchTimeout = 30 * time.Second

// App holds all application components and dependencies.
type App struct {
	Config *config.Config
	Logger *common.Logger

	Storage   interfaces.StorageManager
	Documents *openapi.Store
	Metrics   *metrics.Collector
	Manager   *mcp.Manager

	// HTTP handlers
	HealthHandler  *handlers.HealthHandler
	VersionHandler *handlers.VersionHandler
	ToolsHandler   *handlers.ToolsHandler

	mu sync.Mutex
}

// New initializes the application with all dependencies. Namespaces are
// not loaded until Load is called.
func New(cfg *config.Config, logger *common.Logger) (*App, error) {
	a := &App{
		Config: cfg,
		Logger: logger,
	}

	store, err := storage.NewStorageManager(logger, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open tool cache: %w", err)
	}
	a.Storage = store

	a.Metrics = metrics.NewCollector()
	a.Documents = openapi.NewStore(
		openapi.NewFetcher(documentFetchTimeout),
		cfg.Cache.TTL(),
		cfg.Cache.DocumentMax,
		logger,
	)
	a.Manager = mcp.NewManager(mcp.ManagerOptions{
		Store:           a.Documents,
		ToolCache:       registry.NewToolCache(store.ToolSetStorage(), logger),
		Dispatcher:      dispatch.NewDispatcher(logger, dispatch.WithObserver(a.Metrics)),
		IdleTimeout:     cfg.Server.IdleTimeout(),
		LoadConcurrency: cfg.Server.LoadConcurrency,
		Loads:           a.Metrics,
		Sessions:        a.Metrics,
		Logger:          logger,
	})

	a.initHandlers()

	logger.Info().
		Bool("tool_cache", cfg.Cache.Enabled).
		Str("session_idle_timeout", cfg.Server.SessionIdleTimeout).
		Msg("application initialization complete")

	return a, nil
}

// initHandlers creates all HTTP handlers.
func (a *App) initHandlers() {
	a.HealthHandler = handlers.NewHealthHandler(a.Logger, a.Manager)
	a.VersionHandler = handlers.NewVersionHandler(a.Logger)
	a.ToolsHandler = handlers.NewToolsHandler(a.Logger, a.Manager)
}

// Load serves the configured namespaces.
func (a *App) Load(ctx context.Context) (*mcp.LoadReport, error) {
	a.mu.Lock()
	namespaces := a.Config.Namespaces
	a.mu.Unlock()
	return a.Manager.Load(ctx, namespaces)
}

// Reload applies the namespaces of cfg. Server, cache and logging settings
// only take effect on restart.
func (a *App) Reload(ctx context.Context, cfg *config.Config) (*mcp.LoadReport, error) {
	report, err := a.Manager.Load(ctx, cfg.Namespaces)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	prev := a.Config
	next := *prev
	next.Namespaces = cfg.Namespaces
	a.Config = &next
	a.mu.Unlock()

	if prev.Server != cfg.Server || prev.Cache != cfg.Cache {
		a.Logger.Warn().Msg("server and cache settings changed; restart to apply them")
	}
	return report, nil
}

// Close releases all resources held by the application.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.Manager != nil {
		errs = append(errs, a.Manager.Close(ctx))
	}
	if a.Storage != nil {
		errs = append(errs, a.Storage.Close())
	}
	return errors.Join(errs...)
}
