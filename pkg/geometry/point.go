// Package geometry converts client coordinates into the fixed-point integer
// domain consumed by the measurement circuit.
package geometry

import (
	"errors"
	"fmt"
	"math"
	"math/bits"
)

// ScaleFactor is the fixed-point multiplier applied to every raw coordinate.
// Five decimal places of a metre survive normalization.
const ScaleFactor = 100000

// The circuit takes coordinates as signed 32-bit values.
const (
	MinCoordinate = math.MinInt32
	MaxCoordinate = math.MaxInt32
)

var (
	ErrNonFinite            = errors.New("coordinate is not a finite number")
	ErrCoordinateOutOfRange = errors.New("coordinate out of circuit range")
	ErrDistanceOverflow     = errors.New("squared distance overflows uint64")
)

// Point3D is a raw client coordinate triple.
type Point3D struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// FixedPoint3D is a coordinate triple scaled by ScaleFactor and rounded.
// It is only ever produced by Normalize.
type FixedPoint3D struct {
	X int64 `json:"x"`
	Y int64 `json:"y"`
	Z int64 `json:"z"`
}

// Array returns the point in the [x, y, z] order the circuit input uses.
func (p FixedPoint3D) Array() [3]int64 {
	return [3]int64{p.X, p.Y, p.Z}
}

// Normalize scales p by ScaleFactor and rounds each axis to the nearest
// integer, halves away from zero.
func Normalize(p Point3D) (FixedPoint3D, error) {
	x, err := scale("x", p.X)
	if err != nil {
		return FixedPoint3D{}, err
	}
	y, err := scale("y", p.Y)
	if err != nil {
		return FixedPoint3D{}, err
	}
	z, err := scale("z", p.Z)
	if err != nil {
		return FixedPoint3D{}, err
	}
	return FixedPoint3D{X: x, Y: y, Z: z}, nil
}

// NormalizePair normalizes the start and end point of a measurement.
func NormalizePair(start, end Point3D) (FixedPoint3D, FixedPoint3D, error) {
	s, err := Normalize(start)
	if err != nil {
		return FixedPoint3D{}, FixedPoint3D{}, fmt.Errorf("start point: %w", err)
	}
	e, err := Normalize(end)
	if err != nil {
		return FixedPoint3D{}, FixedPoint3D{}, fmt.Errorf("end point: %w", err)
	}
	return s, e, nil
}

func scale(axis string, v float64) (int64, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%s: %w", axis, ErrNonFinite)
	}
	r := math.Round(v * ScaleFactor)
	if r < MinCoordinate || r > MaxCoordinate {
		return 0, fmt.Errorf("%s=%g: %w", axis, v, ErrCoordinateOutOfRange)
	}
	return int64(r), nil
}

// DistanceSquared returns dx²+dy²+dz² between two normalized points. This is
// the public distance input of the circuit.
func DistanceSquared(a, b FixedPoint3D) (uint64, error) {
	var sum uint64
	for _, d := range [3]int64{b.X - a.X, b.Y - a.Y, b.Z - a.Z} {
		abs := uint64(d)
		if d < 0 {
			abs = uint64(-d)
		}
		hi, sq := bits.Mul64(abs, abs)
		if hi != 0 {
			return 0, ErrDistanceOverflow
		}
		var carry uint64
		sum, carry = bits.Add64(sum, sq, 0)
		if carry != 0 {
			return 0, ErrDistanceOverflow
		}
	}
	return sum, nil
}
