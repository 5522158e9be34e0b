package badger

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/timshannon/badgerhold/v4"

	"github.com/bobmcallan/mcp-openapi/internal/common"
	"github.com/bobmcallan/mcp-openapi/internal/models"
)

// ToolSetStorage implements interfaces.ToolSetStorage using BadgerDB.
type ToolSetStorage struct {
	db     *BadgerDB
	logger *common.Logger
}

// NewToolSetStorage creates tool set storage backed by BadgerDB.
func NewToolSetStorage(db *BadgerDB, logger *common.Logger) *ToolSetStorage {
	return &ToolSetStorage{
		db:     db,
		logger: logger,
	}
}

// Get retrieves the tool set stored under key. A missing key is not an error.
func (s *ToolSetStorage) Get(_ context.Context, key string) (*models.ToolSet, error) {
	var set models.ToolSet
	err := s.db.Store().Get(key, &set)
	if err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "get tool set %s", key)
	}
	return &set, nil
}

// Put stores or replaces a tool set.
func (s *ToolSetStorage) Put(_ context.Context, set *models.ToolSet) error {
	if err := s.db.Store().Upsert(set.Key, set); err != nil {
		return errors.Wrapf(err, "put tool set %s", set.Key)
	}
	return nil
}

// Delete removes a tool set.
func (s *ToolSetStorage) Delete(_ context.Context, key string) error {
	err := s.db.Store().Delete(key, models.ToolSet{})
	if err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil // Already deleted
		}
		return errors.Wrapf(err, "delete tool set %s", key)
	}
	return nil
}

// ListByNamespace returns every stored tool set for namespace.
func (s *ToolSetStorage) ListByNamespace(_ context.Context, namespace string) ([]*models.ToolSet, error) {
	var sets []models.ToolSet
	query := badgerhold.Where("Namespace").Eq(namespace).Index("Namespace")
	if err := s.db.Store().Find(&sets, query); err != nil {
		return nil, errors.Wrapf(err, "list tool sets for %s", namespace)
	}
	out := make([]*models.ToolSet, len(sets))
	for i := range sets {
		out[i] = &sets[i]
	}
	return out, nil
}
