// Package engine computes per-stage brightness from the global brightness.
package engine

import (
	"errors"
	"math"

	"github.com/bbernstein/combinedlights-go/internal/services/curve"
	"github.com/bbernstein/combinedlights-go/internal/services/stage"
)

// MaxSamples bounds the size of a dataset.
const MaxSamples = 1_000_000

// MinStep is the smallest step BuildDataset accepts.
const MinStep = stage.MaxBrightness / MaxSamples

// ErrInvalidStep is returned when a dataset step is not finite or is below MinStep.
var ErrInvalidStep = errors.New("invalid dataset step")

// StageOutput is the brightness of one stage for a given global brightness.
type StageOutput struct {
	StageID         int     `json:"stage_id"`
	LocalBrightness float64 `json:"local_brightness"`
}

// Sample is one point of a chart dataset.
type Sample struct {
	Global float64
	Stages map[int]float64
}

// Dataset is an ordered, immutable set of chart samples.
type Dataset []Sample

// ComputeExact returns the un-rounded brightness (0-100) of a stage.
// At or below the stage's threshold the stage is fully off.
func ComputeExact(global float64, s stage.Config) float64 {
	if global <= s.Threshold {
		return 0
	}

	progress := (global - s.Threshold) / (stage.MaxBrightness - s.Threshold)
	progress = clamp(progress, 0, 1)

	return curve.Apply(s.Curve, progress) * stage.MaxBrightness
}

// Compute returns the display brightness of a stage, rounded to the nearest integer.
func Compute(global float64, s stage.Config) float64 {
	return math.Round(ComputeExact(global, s))
}

// Outputs returns the display brightness of every stage, in roster order.
func Outputs(global float64, stages []stage.Config) []StageOutput {
	out := make([]StageOutput, len(stages))
	for i, s := range stages {
		out[i] = StageOutput{
			StageID:         s.ID,
			LocalBrightness: Compute(global, s),
		}
	}
	return out
}

// BuildDataset samples the global brightness from 0 to 100 inclusive at the given step.
// The last sample is always exactly 100, even when step does not divide 100.
func BuildDataset(stages []stage.Config, step float64) (Dataset, error) {
	if math.IsNaN(step) || math.IsInf(step, 0) || step < MinStep {
		return nil, ErrInvalidStep
	}

	// Sample positions are derived from an integer index to avoid accumulating
	// floating point error across the sweep.
	n := int(math.Floor(stage.MaxBrightness / step))
	dataset := make(Dataset, 0, n+2)
	for i := 0; i <= n; i++ {
		dataset = append(dataset, sampleAt(math.Min(float64(i)*step, stage.MaxBrightness), stages))
	}
	if last := dataset[len(dataset)-1].Global; last < stage.MaxBrightness {
		dataset = append(dataset, sampleAt(stage.MaxBrightness, stages))
	}

	return dataset, nil
}

func sampleAt(global float64, stages []stage.Config) Sample {
	values := make(map[int]float64, len(stages))
	for _, s := range stages {
		values[s.ID] = ComputeExact(global, s)
	}
	return Sample{Global: global, Stages: values}
}

// clamp clamps a float to a range.
func clamp(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}
