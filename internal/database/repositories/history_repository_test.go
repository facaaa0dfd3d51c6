package repositories

import (
	"context"
	"fmt"
	"testing"

	"github.com/bbernstein/combinedlights-go/internal/database/models"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// setupTestDB creates an in-memory SQLite database for testing repositories.
func setupTestDB(t *testing.T) *gorm.DB {
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
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&models.HistoryEvent{}); err != nil {
		t.Fatalf("Failed to migrate database: %v", err)
	}

	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

func appendN(t *testing.T, repo *HistoryRepository, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		err := repo.Append(context.Background(), &models.HistoryEvent{
			Timestamp:   float64(i),
			EventType:   models.EventAuto,
			Description: fmt.Sprintf("event %d", i),
		})
		if err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}
}

func TestHistoryRepository_Append(t *testing.T) {
	repo := NewHistoryRepository(setupTestDB(t))
	ctx := context.Background()

	event := &models.HistoryEvent{EventType: models.EventManual, Description: "Stage 2: 40%"}
	if err := repo.Append(ctx, event); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if event.EventID == "" {
		t.Error("Expected event ID to be generated")
	}
	if event.Seq == 0 {
		t.Error("Expected sequence number to be assigned")
	}

	custom := &models.HistoryEvent{EventID: "custom-id", EventType: models.EventSystem}
	if err := repo.Append(ctx, custom); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if custom.EventID != "custom-id" {
		t.Errorf("ID changed: got %s", custom.EventID)
	}

	all, err := repo.All(ctx)
	if err != nil {
		t.Fatalf("All failed: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("Expected 2 events, got %d", len(all))
	}
	if all[0].Description != "Stage 2: 40%" || all[1].EventID != "custom-id" {
		t.Errorf("Unexpected order: %+v", all)
	}
}

func TestHistoryRepository_Recent(t *testing.T) {
	repo := NewHistoryRepository(setupTestDB(t))
	ctx := context.Background()
	appendN(t, repo, 10)

	recent, err := repo.Recent(ctx, 3)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(recent) != 3 {
		t.Fatalf("Expected 3 events, got %d", len(recent))
	}
	for i, want := range []string{"event 7", "event 8", "event 9"} {
		if recent[i].Description != want {
			t.Errorf("recent[%d] = %q, want %q", i, recent[i].Description, want)
		}
	}

	all, err := repo.Recent(ctx, 50)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(all) != 10 {
		t.Errorf("Expected 10 events, got %d", len(all))
	}

	none, err := repo.Recent(ctx, 0)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if none == nil || len(none) != 0 {
		t.Errorf("Expected empty non-nil slice, got %v", none)
	}
}

func TestHistoryRepository_Trim(t *testing.T) {
	repo := NewHistoryRepository(setupTestDB(t))
	ctx := context.Background()
	appendN(t, repo, 8)

	if err := repo.Trim(ctx, 5); err != nil {
		t.Fatalf("Trim failed: %v", err)
	}

	count, err := repo.Count(ctx)
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if count != 5 {
		t.Errorf("Expected 5 events after trim, got %d", count)
	}

	all, _ := repo.All(ctx)
	if all[0].Description != "event 3" {
		t.Errorf("Expected oldest events to be removed, first is %q", all[0].Description)
	}

	// Trimming to a larger size is a no-op.
	if err := repo.Trim(ctx, 50); err != nil {
		t.Fatalf("Trim failed: %v", err)
	}
	if count, _ := repo.Count(ctx); count != 5 {
		t.Errorf("Expected 5 events, got %d", count)
	}
}

func TestHistoryRepository_Clear(t *testing.T) {
	repo := NewHistoryRepository(setupTestDB(t))
	ctx := context.Background()
	appendN(t, repo, 4)

	if err := repo.Clear(ctx); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if count, _ := repo.Count(ctx); count != 0 {
		t.Errorf("Expected empty log, got %d", count)
	}

	// Clearing an empty log is fine.
	if err := repo.Clear(ctx); err != nil {
		t.Fatalf("Clear on empty log failed: %v", err)
	}
	appendN(t, repo, 1)
	if err := repo.Trim(ctx, 0); err != nil {
		t.Fatalf("Trim(0) failed: %v", err)
	}
	if count, _ := repo.Count(ctx); count != 0 {
		t.Errorf("Expected Trim(0) to clear, got %d", count)
	}
}
