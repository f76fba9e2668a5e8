package service

import (
	"path/filepath"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/quarryhq/quarry/pkg/db"
)

// newTestDB opens an isolated file-backed database with the full schema.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.db")
	gdb, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := db.AutoMigrate(gdb); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return gdb
}

func seedProvider(t *testing.T, gdb *gorm.DB, userID, providerType string) *db.Provider {
	t.Helper()

	p := &db.Provider{
		ID:      uuid.New().String(),
		UserID:  userID,
		Name:    providerType,
		Type:    providerType,
		APIKey:  "test-key",
		Enabled: true,
	}
	if err := gdb.Create(p).Error; err != nil {
		t.Fatalf("seed provider: %v", err)
	}
	return p
}

func seedDataset(t *testing.T, gdb *gorm.DB, userID string, settings *db.ChatSettings) *db.Dataset {
	t.Helper()

	ds := &db.Dataset{
		ID:              uuid.New().String(),
		UserID:          userID,
		Name:            "test dataset",
		EmbeddingWeight: 0.7,
		BM25Weight:      0.3,
		ChatSettings:    settings,
	}
	if err := gdb.Create(ds).Error; err != nil {
		t.Fatalf("seed dataset: %v", err)
	}
	return ds
}

func float64Ptr(v float64) *float64 { return &v }

func intPtr(v int) *int { return &v }
