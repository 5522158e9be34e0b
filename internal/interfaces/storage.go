package interfaces

import (
	"context"

	"github.com/bobmcallan/mcp-openapi/internal/models"
)

// StorageManager provides access to the persisted tool cache.
// Implementations can be swapped (BadgerDB when enabled, no-op otherwise).
type StorageManager interface {
	ToolSetStorage() ToolSetStorage
	DB() interface{}
	Close() error
}

// ToolSetStorage persists built tool sets keyed by namespace source.
type ToolSetStorage interface {
	// Get returns the entry for key, or nil when absent.
	Get(ctx context.Context, key string) (*models.ToolSet, error)
	Put(ctx context.Context, set *models.ToolSet) error
	Delete(ctx context.Context, key string) error
	ListByNamespace(ctx context.Context, namespace string) ([]*models.ToolSet, error)
}
