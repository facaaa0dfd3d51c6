package database

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/bbernstein/combinedlights-go/internal/database/models"
)

func TestConnect_InMemory(t *testing.T) {
	DB = nil

	db, err := Connect(Config{URL: MemoryURL})
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if DB == nil {
		t.Error("Expected global DB to be set")
	}

	var result int
	if err := db.Raw("SELECT 1").Scan(&result).Error; err != nil {
		t.Errorf("Failed to query database: %v", err)
	}
	if result != 1 {
		t.Errorf("Expected 1, got %d", result)
	}

	if !db.Migrator().HasTable(&models.HistoryEvent{}) {
		t.Error("Expected history table to be migrated")
	}

	if err := Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
	if DB != nil {
		t.Error("Expected global DB to be cleared after Close")
	}
}

func TestConnect_InMemoryIsPrivate(t *testing.T) {
	DB = nil

	first, err := Connect(Config{URL: MemoryURL})
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	second, err := Connect(Config{URL: "file::memory:"})
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	if err := first.Create(&models.HistoryEvent{EventID: "a", EventType: "auto"}).Error; err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	var count int64
	second.Model(&models.HistoryEvent{}).Count(&count)
	if count != 0 {
		t.Errorf("Expected separate in-memory databases, found %d rows", count)
	}

	// DB points at the second connection; close the first one directly.
	if sqlDB, err := first.DB(); err == nil {
		_ = sqlDB.Close()
	}
	_ = Close()
}

func TestConnect_WithFilePrefix(t *testing.T) {
	DB = nil

	dbPath := filepath.Join(t.TempDir(), "history.db")
	db, err := Connect(Config{URL: "file:" + dbPath, MaxIdleConn: 1, MaxOpenConn: 1})
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if db == nil {
		t.Fatal("Expected non-nil db")
	}

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("Expected database file to be created")
	}

	_ = Close()
}

func TestConnect_CreatesDirectory(t *testing.T) {
	DB = nil

	nestedPath := filepath.Join(t.TempDir(), "nested", "dir", "history.db")
	if _, err := Connect(Config{URL: nestedPath}); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	if _, err := os.Stat(filepath.Dir(nestedPath)); os.IsNotExist(err) {
		t.Error("Expected nested directory to be created")
	}

	_ = Close()
}

func TestConnect_DebugMode(t *testing.T) {
	DB = nil

	if _, err := Connect(Config{URL: MemoryURL, Debug: true}); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	_ = Close()
}

func TestClose_NilDB(t *testing.T) {
	DB = nil

	if err := Close(); err != nil {
		t.Errorf("Close with nil DB should not error: %v", err)
	}
}

func TestConfig_IsMemory(t *testing.T) {
	tests := []struct {
		url  string
		want bool
	}{
		{"", true},
		{":memory:", true},
		{"file::memory:", true},
		{"file:./data/history.db", false},
		{"history.db", false},
	}

	for _, tt := range tests {
		if got := (Config{URL: tt.url}).IsMemory(); got != tt.want {
			t.Errorf("Config{URL: %q}.IsMemory() = %v, want %v", tt.url, got, tt.want)
		}
	}
}
