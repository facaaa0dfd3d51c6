// Package repositories provides data access layer implementations.
package repositories

import (
	"context"

	"github.com/bbernstein/combinedlights-go/internal/database/models"
	"github.com/lucsky/cuid"
	"gorm.io/gorm"
)

// HistoryRepository handles access to the event log.
type HistoryRepository struct {
	db *gorm.DB
}

// NewHistoryRepository creates a new HistoryRepository.
func NewHistoryRepository(db *gorm.DB) *HistoryRepository {
	return &HistoryRepository{db: db}
}

// Append adds an event to the end of the log.
func (r *HistoryRepository) Append(ctx context.Context, event *models.HistoryEvent) error {
	if event.EventID == "" {
		event.EventID = cuid.New()
	}
	return r.db.WithContext(ctx).Create(event).Error
}

// All returns the whole log, oldest first.
func (r *HistoryRepository) All(ctx context.Context) ([]models.HistoryEvent, error) {
	var events []models.HistoryEvent
	result := r.db.WithContext(ctx).
		Order("seq ASC").
		Find(&events)
	return events, result.Error
}

// Recent returns the last n events, oldest first.
func (r *HistoryRepository) Recent(ctx context.Context, n int) ([]models.HistoryEvent, error) {
	if n <= 0 {
		return []models.HistoryEvent{}, nil
	}

	var events []models.HistoryEvent
	result := r.db.WithContext(ctx).
		Order("seq DESC").
		Limit(n).
		Find(&events)
	if result.Error != nil {
		return nil, result.Error
	}

	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
	return events, nil
}

// Count returns the number of events in the log.
func (r *HistoryRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.HistoryEvent{}).Count(&count).Error
	return count, err
}

// Trim deletes the oldest events so that at most keep remain.
func (r *HistoryRepository) Trim(ctx context.Context, keep int) error {
	if keep <= 0 {
		return r.Clear(ctx)
	}

	newest := r.db.Model(&models.HistoryEvent{}).
		Select("seq").
		Order("seq DESC").
		Limit(keep)

	return r.db.WithContext(ctx).
		Where("seq NOT IN (?)", newest).
		Delete(&models.HistoryEvent{}).Error
}

// Clear deletes every event.
func (r *HistoryRepository) Clear(ctx context.Context) error {
	return r.db.WithContext(ctx).
		Session(&gorm.Session{AllowGlobalUpdate: true}).
		Delete(&models.HistoryEvent{}).Error
}
