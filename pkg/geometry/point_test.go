package geometry

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize_UnitDisplacement(t *testing.T) {
	start, end, err := NormalizePair(Point3D{}, Point3D{X: 1})
	require.NoError(t, err)

	assert.Equal(t, FixedPoint3D{}, start)
	assert.Equal(t, FixedPoint3D{X: 100000}, end)

	d, err := DistanceSquared(start, end)
	require.NoError(t, err)
	assert.Equal(t, uint64(10_000_000_000), d)
}

func TestNormalize_Rounding(t *testing.T) {
	tests := []struct {
		name string
		in   float64
		want int64
	}{
		{"exact", 0.5, 50000},
		{"round down", 0.123454, 12345},
		{"round up", 0.123456, 12346},
		{"half away from zero", 0.000005, 1},
		{"negative half away from zero", -0.000005, -1},
		{"negative", -2.25, -225000},
		{"zero", 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := Normalize(Point3D{X: tt.in, Y: tt.in, Z: tt.in})
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.X)
			assert.Equal(t, tt.want, p.Y)
			assert.Equal(t, tt.want, p.Z)
		})
	}
}

func TestNormalize_Rejects(t *testing.T) {
	_, err := Normalize(Point3D{X: math.NaN()})
	assert.ErrorIs(t, err, ErrNonFinite)

	_, err = Normalize(Point3D{Y: math.Inf(-1)})
	assert.ErrorIs(t, err, ErrNonFinite)

	_, err = Normalize(Point3D{Z: 30000})
	assert.ErrorIs(t, err, ErrCoordinateOutOfRange)

	_, _, err = NormalizePair(Point3D{}, Point3D{X: -1e9})
	assert.ErrorIs(t, err, ErrCoordinateOutOfRange)
	assert.Contains(t, err.Error(), "end point")
}

func TestDistanceSquared(t *testing.T) {
	a := FixedPoint3D{X: 1, Y: 2, Z: 3}
	b := FixedPoint3D{X: 4, Y: -2, Z: 3}

	d, err := DistanceSquared(a, b)
	require.NoError(t, err)
	assert.Equal(t, uint64(25), d)

	rev, err := DistanceSquared(b, a)
	require.NoError(t, err)
	assert.Equal(t, d, rev, "distance is symmetric")
}

func TestDistanceSquared_Overflow(t *testing.T) {
	lo := FixedPoint3D{X: MinCoordinate, Y: MinCoordinate, Z: MinCoordinate}
	hi := FixedPoint3D{X: MaxCoordinate, Y: MaxCoordinate, Z: MaxCoordinate}

	_, err := DistanceSquared(lo, hi)
	assert.ErrorIs(t, err, ErrDistanceOverflow)
}

func TestParsePoint(t *testing.T) {
	p, err := ParsePoint([]byte(`{"x": 1.5, "y": -0.25, "z": 3}`))
	require.NoError(t, err)
	assert.Equal(t, Point3D{X: 1.5, Y: -0.25, Z: 3}, p)

	for _, doc := range []string{
		`{"x": 1, "y": 2}`,
		`{"x": "1", "y": 2, "z": 3}`,
		`[1, 2, 3]`,
		`not json`,
	} {
		_, err := ParsePoint([]byte(doc))
		assert.ErrorIs(t, err, ErrMalformedPoint, doc)
	}
}
