package simulation

import (
	"context"
	"fmt"
	"math"

	"github.com/bbernstein/combinedlights-go/internal/database/models"
	"github.com/bbernstein/combinedlights-go/internal/services/stage"
)

// State is the snapshot pushed to clients in "init" and "state_update" messages.
type State struct {
	IsOn          bool           `json:"is_on"`
	BrightnessPct float64        `json:"brightness_pct"`
	CurrentStage  int            `json:"current_stage"`
	Lights        []LightState   `json:"lights"`
	Config        map[string]any `json:"config"`
	History       []HistoryEntry `json:"history"`
	Timestamp     float64        `json:"timestamp"`
}

// LightState is one light inside a snapshot.
type LightState struct {
	EntityID      string `json:"entity_id"`
	Stage         int    `json:"stage"`
	State         string `json:"state"`
	Brightness    int    `json:"brightness"`
	BrightnessPct int    `json:"brightness_pct"`
}

// HistoryEntry is one history event on the wire.
type HistoryEntry struct {
	ID          string  `json:"id"`
	Timestamp   float64 `json:"timestamp"`
	EventType   string  `json:"event_type"`
	Description string  `json:"description"`
}

// Snapshot captures the full current state, including the most recent history events.
func (c *Coordinator) Snapshot(ctx context.Context) (State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	events, err := c.history.Recent(ctx, c.snapshotN)
	if err != nil {
		return State{}, fmt.Errorf("load history: %w", err)
	}

	lights := make([]LightState, len(c.lights))
	for i, l := range c.lights {
		state := "off"
		if l.On {
			state = "on"
		}
		lights[i] = LightState{
			EntityID:      l.EntityID,
			Stage:         l.Stage,
			State:         state,
			Brightness:    l.Brightness,
			BrightnessPct: int(math.Round(l.BrightnessPct())),
		}
	}

	cfg := map[string]any{
		KeyBreakpoints:     append([]float64(nil), c.cfg.Breakpoints...),
		KeyBackPropagation: c.cfg.BackPropagation,
	}
	for _, s := range c.stages {
		cfg[stage.CurveKey(s.ID)] = string(s.Curve)
	}

	return State{
		IsOn:          c.isOn,
		BrightnessPct: c.targetPctLocked(),
		CurrentStage:  c.currentStageLocked(),
		Lights:        lights,
		Config:        cfg,
		History:       toEntries(events),
		Timestamp:     models.UnixSeconds(c.now()),
	}, nil
}

// History returns the whole event log, oldest first.
func (c *Coordinator) History(ctx context.Context) ([]HistoryEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	events, err := c.history.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	return toEntries(events), nil
}

func toEntries(events []models.HistoryEvent) []HistoryEntry {
	out := make([]HistoryEntry, len(events))
	for i, e := range events {
		out[i] = HistoryEntry{
			ID:          e.EventID,
			Timestamp:   e.Timestamp,
			EventType:   e.EventType,
			Description: e.Description,
		}
	}
	return out
}
