// Package testutil provides shared test utilities for service and integration tests.
package testutil

import (
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/lucsky/cuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/bbernstein/combinedlights-go/internal/database"
	"github.com/bbernstein/combinedlights-go/internal/database/repositories"
)

// TestDB holds the test database and repositories.
type TestDB struct {
	DB          *gorm.DB
	HistoryRepo *repositories.HistoryRepository
}

// SetupTestDB creates a private in-memory SQLite database for testing.
// It returns a TestDB with all repositories initialized and a cleanup function.
func SetupTestDB(t *testing.T) (*TestDB, func()) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("Failed to open in-memory database: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("Failed to get sql.DB: %v", err)
	}
	// A second connection would see a different, empty database.
	sqlDB.SetMaxOpenConns(1)

	if err := database.Migrate(db); err != nil {
		t.Fatalf("Failed to migrate database: %v", err)
	}

	testDB := &TestDB{
		DB:          db,
		HistoryRepo: repositories.NewHistoryRepository(db),
	}

	cleanup := func() {
		_ = sqlDB.Close()
	}

	return testDB, cleanup
}

// UniqueEntityID generates a light entity ID that does not collide with the simulated ones.
func UniqueEntityID(prefix string) string {
	return "light." + prefix + "_" + cuid.Slug()
}
