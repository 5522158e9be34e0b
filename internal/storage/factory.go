package storage

import (
	"context"

	"github.com/bobmcallan/mcp-openapi/internal/common"
	"github.com/bobmcallan/mcp-openapi/internal/config"
	"github.com/bobmcallan/mcp-openapi/internal/interfaces"
	"github.com/bobmcallan/mcp-openapi/internal/models"
	"github.com/bobmcallan/mcp-openapi/internal/storage/badger"
)

// NewStorageManager creates a storage manager based on config. A disabled
// cache gets a manager that stores nothing.
func NewStorageManager(logger *common.Logger, cfg *config.Config) (interfaces.StorageManager, error) {
	if !cfg.Cache.Enabled {
		logger.Debug().Msg("tool cache disabled")
		return NewNoopManager(), nil
	}
	return badger.NewManager(logger, &cfg.Cache)
}

// noopManager is the storage manager used when the tool cache is disabled.
type noopManager struct{}

// NewNoopManager returns a storage manager that never stores anything.
func NewNoopManager() interfaces.StorageManager {
	return noopManager{}
}

func (noopManager) ToolSetStorage() interfaces.ToolSetStorage { return noopToolSets{} }
func (noopManager) DB() interface{}                           { return nil }
func (noopManager) Close() error                              { return nil }

type noopToolSets struct{}

func (noopToolSets) Get(context.Context, string) (*models.ToolSet, error) { return nil, nil }
func (noopToolSets) Put(context.Context, *models.ToolSet) error          { return nil }
func (noopToolSets) Delete(context.Context, string) error                { return nil }
func (noopToolSets) ListByNamespace(context.Context, string) ([]*models.ToolSet, error) {
	return nil, nil
}
