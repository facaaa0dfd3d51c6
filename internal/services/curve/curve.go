// Package curve provides the brightness response curves applied to a stage's progress.
package curve

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// ErrUnknownCurve is returned when a curve name is not one of the supported kinds.
var ErrUnknownCurve = errors.New("unknown curve kind")

// Kind represents the shape of a stage's ramp-up.
type Kind string

const (
	// Linear provides an even response.
	Linear Kind = "linear"
	// Quadratic eases in: more precision at low brightness.
	Quadratic Kind = "quadratic"
	// Cubic eases in more strongly than Quadratic.
	Cubic Kind = "cubic"
	// SquareRoot eases out: output rises quickly then flattens.
	SquareRoot Kind = "sqrt"
	// CubeRoot eases out more strongly than SquareRoot.
	CubeRoot Kind = "cbrt"
)

// Kinds returns every supported kind, ordered from strongest ease-in to strongest ease-out.
func Kinds() []Kind {
	return []Kind{Cubic, Quadratic, Linear, SquareRoot, CubeRoot}
}

// Parse converts a wire name into a Kind.
func Parse(name string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(name)))
	if !k.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownCurve, name)
	}
	return k, nil
}

// Valid reports whether k is a supported kind.
func (k Kind) Valid() bool {
	switch k {
	case Linear, Quadratic, Cubic, SquareRoot, CubeRoot:
		return true
	}
	return false
}

// String returns the wire name of the kind.
func (k Kind) String() string {
	return string(k)
}

// Apply maps a progress value (0-1, already clamped by the caller) through the curve.
// Every curve fixes 0 and 1 exactly.
func Apply(k Kind, progress float64) float64 {
	switch k {
	case Quadratic:
		return progress * progress

	case Cubic:
		return progress * progress * progress

	case SquareRoot:
		return math.Sqrt(progress)

	case CubeRoot:
		return math.Cbrt(progress)

	default:
		return progress
	}
}

// Invert maps a curved value (0-1) back to the linear progress that produced it.
func Invert(k Kind, value float64) float64 {
	switch k {
	case Quadratic:
		return math.Sqrt(value)

	case Cubic:
		return math.Cbrt(value)

	case SquareRoot:
		return value * value

	case CubeRoot:
		return value * value * value

	default:
		return value
	}
}
