// Package models contains the database model definitions.
package models

import (
	"time"
)

// Event types recorded in the history log.
const (
	EventAuto     = "auto"
	EventManual   = "manual"
	EventBackprop = "backprop"
	EventConfig   = "config"
	EventSystem   = "system"
)

// HistoryEvent is one entry of the simulation's event log.
// Table: history_events
type HistoryEvent struct {
	// Seq orders events by insertion; timestamps can collide.
	Seq         uint      `gorm:"column:seq;primaryKey;autoIncrement"`
	EventID     string    `gorm:"column:event_id;uniqueIndex"`
	Timestamp   float64   `gorm:"column:timestamp"`
	EventType   string    `gorm:"column:event_type;index"`
	Description string    `gorm:"column:description"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (HistoryEvent) TableName() string { return "history_events" }

// UnixSeconds converts a time to the fractional seconds used in event timestamps.
func UnixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
