// Package stage holds the stage roster: the fixed set of lighting zones, each with its own
// activation threshold and response curve.
package stage

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/bbernstein/combinedlights-go/internal/services/curve"
)

// Count is the number of stages in a roster.
const Count = 4

// MaxBrightness is the upper bound of the global brightness scale.
const MaxBrightness = 100.0

var (
	// ErrInvalidThreshold is returned for thresholds outside [0, 100), a first stage that does
	// not start at 0, or thresholds that do not increase with the stage ID.
	ErrInvalidThreshold = errors.New("invalid stage threshold")
	// ErrUnknownStage is returned when a stage ID is not part of the roster.
	ErrUnknownStage = errors.New("unknown stage")
	// ErrInvalidRoster is returned when a roster does not have exactly Count unique stages.
	ErrInvalidRoster = errors.New("invalid stage roster")
)

// Config describes one stage.
type Config struct {
	ID        int        `yaml:"id" json:"id"`
	Threshold float64    `yaml:"threshold" json:"threshold"`
	Curve     curve.Kind `yaml:"curve" json:"curve"`
	Label     string     `yaml:"label" json:"label"`
	IconKind  string     `yaml:"icon" json:"icon"`
}

// Validate checks a single stage configuration.
func (c Config) Validate() error {
	if c.ID <= 0 {
		return fmt.Errorf("%w: id %d must be positive", ErrInvalidRoster, c.ID)
	}
	if math.IsNaN(c.Threshold) || c.Threshold < 0 || c.Threshold >= MaxBrightness {
		return fmt.Errorf("%w: stage %d has threshold %v", ErrInvalidThreshold, c.ID, c.Threshold)
	}
	if !c.Curve.Valid() {
		return fmt.Errorf("%w: stage %d has curve %q", curve.ErrUnknownCurve, c.ID, c.Curve)
	}
	return nil
}

// CurveKey returns the config key used on the wire for this stage's curve (e.g. "stage_2_curve").
func CurveKey(id int) string {
	return fmt.Sprintf("stage_%d_curve", id)
}

// DefaultBreakpoints are the global brightness values at which stages 2-4 activate.
var DefaultBreakpoints = []float64{30, 60, 85}

// DefaultRoster returns the built-in stage roster.
func DefaultRoster() []Config {
	roster, _ := FromBreakpoints(DefaultBreakpoints, nil)
	return roster
}

// FromBreakpoints builds a roster where stage 1 activates above 0 and stage N activates above
// breakpoints[N-2]. Curves default to linear when not given.
func FromBreakpoints(breakpoints []float64, curves map[int]curve.Kind) ([]Config, error) {
	if len(breakpoints) != Count-1 {
		return nil, fmt.Errorf("%w: need %d breakpoints, got %d", ErrInvalidRoster, Count-1, len(breakpoints))
	}

	roster := make([]Config, Count)
	for i := range roster {
		id := i + 1
		threshold := 0.0
		if i > 0 {
			threshold = breakpoints[i-1]
		}
		kind := curve.Linear
		if k, ok := curves[id]; ok {
			kind = k
		}
		roster[i] = Config{
			ID:        id,
			Threshold: threshold,
			Curve:     kind,
			Label:     fmt.Sprintf("Stage %d", id),
			IconKind:  defaultIcons[i],
		}
	}
	return roster, validateRoster(roster)
}

var defaultIcons = [Count]string{"lamp", "ceiling", "spot", "flood"}

func validateRoster(roster []Config) error {
	if len(roster) != Count {
		return fmt.Errorf("%w: need %d stages, got %d", ErrInvalidRoster, Count, len(roster))
	}
	seen := make(map[int]bool, len(roster))
	for _, c := range roster {
		if err := c.Validate(); err != nil {
			return err
		}
		if seen[c.ID] {
			return fmt.Errorf("%w: duplicate id %d", ErrInvalidRoster, c.ID)
		}
		seen[c.ID] = true
	}

	// In ID order the first stage starts at 0 and thresholds strictly increase, so a roster
	// is always expressible as breakpoints.
	sorted := make([]Config, len(roster))
	copy(sorted, roster)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })
	if sorted[0].Threshold != 0 {
		return fmt.Errorf("%w: stage %d must start at 0, got %v", ErrInvalidThreshold, sorted[0].ID, sorted[0].Threshold)
	}
	for i := 1; i < len(sorted); i++ {
		if sorted[i].Threshold <= sorted[i-1].Threshold {
			return fmt.Errorf("%w: stage %d threshold %v must be above stage %d threshold %v",
				ErrInvalidThreshold, sorted[i].ID, sorted[i].Threshold, sorted[i-1].ID, sorted[i-1].Threshold)
		}
	}
	return nil
}
