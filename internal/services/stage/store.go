package stage

import (
	"fmt"
	"sort"
	"sync"

	"github.com/bbernstein/combinedlights-go/internal/services/curve"
)

// Store holds the ordered stage roster. Only the curve of a stage can change after creation.
type Store struct {
	mu      sync.RWMutex
	stages  []Config
	version uint64
}

// NewStore validates the roster and returns a store ordered by stage ID.
func NewStore(roster []Config) (*Store, error) {
	if err := validateRoster(roster); err != nil {
		return nil, err
	}

	stages := make([]Config, len(roster))
	copy(stages, roster)
	sort.Slice(stages, func(i, j int) bool { return stages[i].ID < stages[j].ID })

	return &Store{stages: stages}, nil
}

// Stages returns a copy of the roster in ID order.
func (s *Store) Stages() []Config {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Config, len(s.stages))
	copy(out, s.stages)
	return out
}

// Stage returns the stage with the given ID.
func (s *Store) Stage(id int) (Config, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, c := range s.stages {
		if c.ID == id {
			return c, nil
		}
	}
	return Config{}, fmt.Errorf("%w: %d", ErrUnknownStage, id)
}

// SetCurve replaces the curve of one stage.
func (s *Store) SetCurve(id int, kind curve.Kind) error {
	if !kind.Valid() {
		return fmt.Errorf("%w: %q", curve.ErrUnknownCurve, kind)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.stages {
		if s.stages[i].ID == id {
			if s.stages[i].Curve != kind {
				s.stages[i].Curve = kind
				s.version++
			}
			return nil
		}
	}
	return fmt.Errorf("%w: %d", ErrUnknownStage, id)
}

// SyncCurves applies curves reported by the server. Unknown stages and invalid kinds are
// skipped. It reports whether anything changed.
func (s *Store) SyncCurves(curves map[int]curve.Kind) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	changed := false
	for i := range s.stages {
		kind, ok := curves[s.stages[i].ID]
		if !ok || !kind.Valid() || kind == s.stages[i].Curve {
			continue
		}
		s.stages[i].Curve = kind
		changed = true
	}
	if changed {
		s.version++
	}
	return changed
}

// Version increments on every change to the roster.
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}
