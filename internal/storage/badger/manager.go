package badger

import (
	"github.com/bobmcallan/mcp-openapi/internal/common"
	"github.com/bobmcallan/mcp-openapi/internal/config"
	"github.com/bobmcallan/mcp-openapi/internal/interfaces"
)

// Manager implements the StorageManager interface for Badger.
type Manager struct {
	db       *BadgerDB
	toolSets interfaces.ToolSetStorage
	logger   *common.Logger
}

// NewManager creates a new Badger storage manager.
func NewManager(logger *common.Logger, cfg *config.CacheConfig) (interfaces.StorageManager, error) {
	db, err := NewBadgerDB(logger, cfg)
	if err != nil {
		return nil, err
	}

	manager := &Manager{
		db:       db,
		toolSets: NewToolSetStorage(db, logger),
		logger:   logger,
	}

	logger.Debug().Msg("Badger storage manager initialized")

	return manager, nil
}

// ToolSetStorage returns the tool set storage.
func (m *Manager) ToolSetStorage() interfaces.ToolSetStorage {
	return m.toolSets
}

// DB returns the underlying database connection.
func (m *Manager) DB() interface{} {
	if m.db != nil {
		return m.db.Store()
	}
	return nil
}

// Close closes the database connection.
func (m *Manager) Close() error {
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}
