package stage

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// rosterFile is the on-disk format of a stage roster.
type rosterFile struct {
	Stages []Config `yaml:"stages"`
}

// ParseRoster decodes and validates a YAML roster.
func ParseRoster(data []byte) ([]Config, error) {
	var f rosterFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse roster: %w", err)
	}
	if err := validateRoster(f.Stages); err != nil {
		return nil, err
	}
	return f.Stages, nil
}

// LoadRoster reads a roster from a YAML file. An empty path returns the default roster.
func LoadRoster(path string) ([]Config, error) {
	if path == "" {
		return DefaultRoster(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read roster file: %w", err)
	}
	return ParseRoster(data)
}

// Breakpoints returns the thresholds of every stage after the first, in ID order.
func Breakpoints(roster []Config) []float64 {
	sorted := make([]Config, len(roster))
	copy(sorted, roster)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	out := make([]float64, 0, len(roster))
	for i := 1; i < len(sorted); i++ {
		out = append(out, sorted[i].Threshold)
	}
	return out
}
