package badger

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/bobmcallan/mcp-openapi/internal/common"
	"github.com/bobmcallan/mcp-openapi/internal/config"
	"github.com/bobmcallan/mcp-openapi/internal/models"
)

func setupTestDB(t *testing.T) (*BadgerDB, func()) {
	t.Helper()

	dir := t.TempDir()
	logger := common.NewSilentLogger()

	cfg := &config.CacheConfig{Path: dir}
	db, err := NewBadgerDB(logger, cfg)
	if err != nil {
		t.Fatalf("failed to create test DB: %v", err)
	}

	cleanup := func() {
		db.Close()
	}

	return db, cleanup
}

func testSet(key, namespace, digest string) *models.ToolSet {
	return &models.ToolSet{
		Key:       key,
		Namespace: namespace,
		Source:    "https://example.com/openapi.json",
		Digest:    digest,
		Tools:     json.RawMessage(`[{"name":"get_v1_items"}]`),
		CreatedAt: time.Now().UTC(),
	}
}

func TestToolSetStorage_PutAndGet(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewToolSetStorage(db, common.NewSilentLogger())
	ctx := context.Background()

	if err := store.Put(ctx, testSet("k1", "billing", "abc")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, err := store.Get(ctx, "k1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got == nil {
		t.Fatal("expected tool set, got nil")
	}
	if got.Digest != "abc" || got.Namespace != "billing" {
		t.Errorf("unexpected entry: %+v", got)
	}
	if string(got.Tools) != `[{"name":"get_v1_items"}]` {
		t.Errorf("unexpected tools payload: %s", got.Tools)
	}
	if !got.Matches("abc") || got.Matches("def") {
		t.Error("Matches should compare digests")
	}
}

func TestToolSetStorage_GetMissing(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewToolSetStorage(db, common.NewSilentLogger())

	got, err := store.Get(context.Background(), "missing")
	if err != nil {
		t.Fatalf("expected no error for missing key, got %v", err)
	}
	if got != nil {
		t.Errorf("expected nil, got %+v", got)
	}
}

func TestToolSetStorage_Upsert(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewToolSetStorage(db, common.NewSilentLogger())
	ctx := context.Background()

	if err := store.Put(ctx, testSet("k1", "billing", "v1")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := store.Put(ctx, testSet("k1", "billing", "v2")); err != nil {
		t.Fatalf("Put (upsert) failed: %v", err)
	}

	got, err := store.Get(ctx, "k1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Digest != "v2" {
		t.Errorf("expected v2, got %s", got.Digest)
	}
}

func TestToolSetStorage_Delete(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewToolSetStorage(db, common.NewSilentLogger())
	ctx := context.Background()

	if err := store.Put(ctx, testSet("k1", "billing", "v1")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := store.Delete(ctx, "k1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	got, err := store.Get(ctx, "k1")
	if err != nil || got != nil {
		t.Errorf("expected entry gone, got %+v, %v", got, err)
	}

	// Deleting again is not an error.
	if err := store.Delete(ctx, "k1"); err != nil {
		t.Errorf("second Delete failed: %v", err)
	}
}

func TestToolSetStorage_ListByNamespace(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewToolSetStorage(db, common.NewSilentLogger())
	ctx := context.Background()

	for _, set := range []*models.ToolSet{
		testSet("a", "billing", "1"),
		testSet("b", "billing", "2"),
		testSet("c", "crm", "3"),
	} {
		if err := store.Put(ctx, set); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}

	sets, err := store.ListByNamespace(ctx, "billing")
	if err != nil {
		t.Fatalf("ListByNamespace failed: %v", err)
	}
	if len(sets) != 2 {
		t.Errorf("expected 2 billing entries, got %d", len(sets))
	}
}

func TestManager_Lifecycle(t *testing.T) {
	cfg := &config.CacheConfig{Path: t.TempDir()}
	mgr, err := NewManager(common.NewSilentLogger(), cfg)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	if mgr.DB() == nil {
		t.Error("expected underlying store")
	}
	if err := mgr.ToolSetStorage().Put(context.Background(), testSet("k", "ns", "d")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := mgr.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
}
