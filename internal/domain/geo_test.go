package domain

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUnitConversions(t *testing.T) {
	assert.InDelta(t, 3.048, FeetToMeters(10), 1e-9)
	assert.InDelta(t, 2.83168, CfsToM3s(100), 1e-9)
	assert.Equal(t, 0.0, FeetToMeters(0))
	assert.Equal(t, 0.0, CfsToM3s(0))
}

func TestCalculateBoundingBox(t *testing.T) {
	lat, lon, radius := 30.2672, -97.7431, 25.0

	bbox := CalculateBoundingBox(lat, lon, radius)

	latDelta := radius / 111
	lonDelta := radius / (111 * math.Cos(lat*math.Pi/180))

	assert.InDelta(t, lat-latDelta, bbox.South, 1e-9)
	assert.InDelta(t, lat+latDelta, bbox.North, 1e-9)
	assert.InDelta(t, 2*lonDelta, bbox.East-bbox.West, 1e-9, "box must be symmetric around the center")
	assert.InDelta(t, 2*latDelta, bbox.North-bbox.South, 1e-9)
	assert.InDelta(t, lon, (bbox.East+bbox.West)/2, 1e-9)
}

func TestFormatBoundingBox(t *testing.T) {
	bbox := BoundingBox{West: -98.0312, South: 29.9, East: -97.45501, North: 30.63}
	assert.Equal(t, "-98.0312,29.9000,-97.4550,30.6300", FormatBoundingBox(bbox))
}

func TestDistance(t *testing.T) {
	t.Run("zero for identical points", func(t *testing.T) {
		assert.Equal(t, 0.0, Distance(30.0, -97.0, 30.0, -97.0))
	})

	t.Run("Austin to Dallas is roughly 293km", func(t *testing.T) {
		d := Distance(30.2672, -97.7431, 32.7767, -96.7970)
		assert.InDelta(t, 293, d, 5)
	})

	t.Run("symmetric", func(t *testing.T) {
		a := Distance(30.0, -97.0, 45.0, -120.0)
		b := Distance(45.0, -120.0, 30.0, -97.0)
		assert.InDelta(t, a, b, 1e-9)
	})
}
