package domain

import (
	"fmt"
	"math"
)

// BoundingBox is a WGS-84 rectangle used for gauge area queries.
type BoundingBox struct {
	West  float64 `json:"west"`
	South float64 `json:"south"`
	East  float64 `json:"east"`
	North float64 `json:"north"`
}

// CalculateBoundingBox expands a center point by radiusKm in each direction.
// One degree of latitude is ~111 km; longitude degrees shrink with cos(lat).
func CalculateBoundingBox(lat, lon, radiusKm float64) BoundingBox {
	latDelta := radiusKm / 111
	lonDelta := radiusKm / (111 * math.Cos(lat*math.Pi/180))

	return BoundingBox{
		West:  lon - lonDelta,
		South: lat - latDelta,
		East:  lon + lonDelta,
		North: lat + latDelta,
	}
}

// FormatBoundingBox renders the box as "west,south,east,north" with four
// decimals, the form the USGS bBox query parameter expects.
func FormatBoundingBox(b BoundingBox) string {
	return fmt.Sprintf("%.4f,%.4f,%.4f,%.4f", b.West, b.South, b.East, b.North)
}

const earthRadiusKm = 6371

// Distance returns the great-circle distance in km between two points.
func Distance(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*
			math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusKm * c
}

// FeetToMeters converts a USGS gauge height (ft) to meters.
func FeetToMeters(feet float64) float64 {
	return feet * 0.3048
}

// CfsToM3s converts a USGS discharge (cubic feet per second) to m³/s.
func CfsToM3s(cfs float64) float64 {
	return cfs * 0.0283168
}
