// Package clientstate holds the client's copy of server state plus purely local UI state.
//
// The server snapshot is replaced wholesale on every push and is never edited locally.
// Local fields change only through the user-interaction methods.
package clientstate

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/bbernstein/combinedlights-go/internal/services/curve"
	"github.com/bbernstein/combinedlights-go/internal/services/pubsub"
	"github.com/bbernstein/combinedlights-go/pkg/protocol"
)

// Light is one light as reported by the server.
type Light struct {
	EntityID      string  `json:"entity_id"`
	Stage         int     `json:"stage"`
	State         string  `json:"state"`
	Brightness    int     `json:"brightness"`
	BrightnessPct float64 `json:"brightness_pct"`
}

// IsOn reports whether the server considers the light on.
func (l Light) IsOn() bool {
	return l.State == "on"
}

// HistoryEntry is one line of the server's event log.
type HistoryEntry struct {
	ID          string  `json:"id"`
	Timestamp   float64 `json:"timestamp"`
	EventType   string  `json:"event_type"`
	Description string  `json:"description"`
}

// View is the decoded part of a snapshot used for display.
type View struct {
	IsOn          bool                       `json:"is_on"`
	BrightnessPct float64                    `json:"brightness_pct"`
	CurrentStage  int                        `json:"current_stage"`
	Lights        []Light                    `json:"lights"`
	Config        map[string]json.RawMessage `json:"config"`
	History       []HistoryEntry             `json:"history"`
	Timestamp     float64                    `json:"timestamp"`
}

// Curves extracts the per-stage curve kinds from the snapshot config ("stage_N_curve").
func (v View) Curves() map[int]curve.Kind {
	out := make(map[int]curve.Kind)
	for key, raw := range v.Config {
		if !strings.HasPrefix(key, "stage_") || !strings.HasSuffix(key, "_curve") {
			continue
		}
		id, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(key, "stage_"), "_curve"))
		if err != nil {
			continue
		}
		var name string
		if err := json.Unmarshal(raw, &name); err != nil {
			continue
		}
		if kind, err := curve.Parse(name); err == nil {
			out[id] = kind
		}
	}
	return out
}

// Snapshot is one authoritative server state. It is immutable once applied.
type Snapshot struct {
	Raw  json.RawMessage
	View View
}

// LocalState is UI state that never comes from the server.
type LocalState struct {
	SelectedLight string
	DialogValue   *int
	SliderValue   float64
	SliderTouched bool
}

// Dispatcher delivers intents to the server.
type Dispatcher interface {
	Send(msg protocol.Message) bool
}

// Store is the single client-side state container.
type Store struct {
	mu       sync.RWMutex
	snapshot *Snapshot
	history  []HistoryEntry
	local    LocalState

	bus        *pubsub.PubSub
	dispatcher Dispatcher
}

// NewStore creates a store that publishes changes on bus. bus may be nil.
func NewStore(bus *pubsub.PubSub) *Store {
	return &Store{bus: bus}
}

// SetDispatcher sets where intents are sent.
func (s *Store) SetDispatcher(d Dispatcher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dispatcher = d
}

// Apply replaces the server snapshot. A snapshot that cannot be decoded is rejected and the
// previous one is kept.
func (s *Store) Apply(raw json.RawMessage) error {
	if trimmed := bytes.TrimSpace(raw); len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return fmt.Errorf("%w: empty snapshot", protocol.ErrMalformed)
	}

	var view View
	if err := json.Unmarshal(raw, &view); err != nil {
		return fmt.Errorf("%w: snapshot: %v", protocol.ErrMalformed, err)
	}

	next := &Snapshot{
		Raw:  append(json.RawMessage(nil), raw...),
		View: view,
	}

	s.mu.Lock()
	s.snapshot = next
	s.mu.Unlock()

	s.publish(pubsub.TopicSnapshotApplied, next)
	return nil
}

// Snapshot returns the current snapshot, or nil before the first one arrives.
// Callers must treat it as read-only.
func (s *Store) Snapshot() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot
}

// ApplyHistory stores a full history reply.
func (s *Store) ApplyHistory(raw json.RawMessage) error {
	var entries []HistoryEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return fmt.Errorf("%w: history: %v", protocol.ErrMalformed, err)
	}

	s.mu.Lock()
	s.history = entries
	s.mu.Unlock()

	s.publish(pubsub.TopicHistoryReceived, len(entries))
	return nil
}

// History returns the last full history reply.
func (s *Store) History() []HistoryEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]HistoryEntry, len(s.history))
	copy(out, s.history)
	return out
}

// Local returns a copy of the local UI state.
func (s *Store) Local() LocalState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	local := s.local
	if local.DialogValue != nil {
		v := *local.DialogValue
		local.DialogValue = &v
	}
	return local
}

// SelectLight marks a light as selected. An empty ID clears the selection.
func (s *Store) SelectLight(entityID string) {
	s.updateLocal(func(l *LocalState) {
		l.SelectedLight = entityID
		l.DialogValue = nil
	})
}

// SetDialogValue records an in-progress per-light brightness edit.
func (s *Store) SetDialogValue(v int) {
	s.updateLocal(func(l *LocalState) {
		l.DialogValue = &v
	})
}

// ClearDialog discards an in-progress edit.
func (s *Store) ClearDialog() {
	s.updateLocal(func(l *LocalState) {
		l.DialogValue = nil
	})
}

// SetSlider records the locally tracked global brightness (clamped to 0-100).
func (s *Store) SetSlider(v float64) {
	if v < 0 {
		v = 0
	}
	if v > 100 {
		v = 100
	}
	s.updateLocal(func(l *LocalState) {
		l.SliderValue = v
		l.SliderTouched = true
	})
}

// ReleaseSlider hands the global brightness back to the server. The slider value is kept but
// no longer overrides the server's brightness.
func (s *Store) ReleaseSlider() {
	s.updateLocal(func(l *LocalState) {
		l.SliderTouched = false
	})
}

// Dispatch sends an intent through the configured dispatcher. It reports whether the
// intent was handed to an open connection.
func (s *Store) Dispatch(msg protocol.Message) bool {
	s.mu.RLock()
	d := s.dispatcher
	s.mu.RUnlock()

	if d == nil {
		return false
	}
	return d.Send(msg)
}

func (s *Store) updateLocal(fn func(*LocalState)) {
	s.mu.Lock()
	fn(&s.local)
	local := s.local
	s.mu.Unlock()

	s.publish(pubsub.TopicLocalStateChanged, local)
}

func (s *Store) publish(topic pubsub.Topic, msg interface{}) {
	if s.bus != nil {
		s.bus.Publish(topic, msg)
	}
}
