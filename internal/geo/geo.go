// Package geo provides the pure spatial primitives behind the road index:
// grid-cell quantization, bounding boxes, cell enumeration over a region,
// and great-circle distance. No I/O, no state.
//
// The grid quantizes coordinates into 0.01° cells (≈1.1 km at the equator),
// balancing the number of cells a viewport touches against index
// cardinality. Cell keys are strings with both components fixed to two
// decimals so re-deriving a key from the same coordinates always yields the
// same bytes.
//
// The degree-box radius approximation uses a fixed-latitude cosine for
// longitude scale. It degrades near the poles; acceptable for the tropical
// and mid-latitude regions this deployment targets.
package geo

import (
	"fmt"
	"math"

	"github.com/couchcryptid/flood-watch/internal/domain"
)

// CellSizeDegrees is the grid quantization step.
const CellSizeDegrees = 0.01

// earthRadiusMeters is the mean Earth radius used by the haversine formula.
const earthRadiusMeters = 6371000.0

// metersPerDegreeLat is the approximate north-south meters in one degree.
const metersPerDegreeLat = 111000.0

// GridCell returns the cell key containing the point, e.g. "13.62_123.19".
// Keys come from floor division on each axis, so every point in a cell maps
// to the same key regardless of floating-point noise in later digits.
func GridCell(lat, lng float64) string {
	cellLat := math.Floor(lat/CellSizeDegrees) * CellSizeDegrees
	cellLng := math.Floor(lng/CellSizeDegrees) * CellSizeDegrees
	return fmt.Sprintf("%.2f_%.2f", cellLat, cellLng)
}

// BoundingBoxOf computes the min/max box over all coordinates. Returns
// ErrInvalidGeometry when the list is empty or a point has fewer than two
// components.
func BoundingBoxOf(coordinates [][]float64) (domain.BoundingBox, error) {
	if len(coordinates) == 0 {
		return domain.BoundingBox{}, fmt.Errorf("bounding box of empty coordinates: %w", domain.ErrInvalidGeometry)
	}

	b := domain.BoundingBox{
		MinLat: math.Inf(1), MaxLat: math.Inf(-1),
		MinLng: math.Inf(1), MaxLng: math.Inf(-1),
	}
	for i, p := range coordinates {
		if len(p) < 2 {
			return domain.BoundingBox{}, fmt.Errorf("coordinate %d has %d components: %w", i, len(p), domain.ErrInvalidGeometry)
		}
		b.MinLat = math.Min(b.MinLat, p[0])
		b.MaxLat = math.Max(b.MaxLat, p[0])
		b.MinLng = math.Min(b.MinLng, p[1])
		b.MaxLng = math.Max(b.MaxLng, p[1])
	}
	return b, nil
}

// CellsCovering enumerates every cell key whose quantized range intersects
// the box. The upper bound steps to the ceiling cell, not the floor: a box
// ending mid-cell still touches that cell, and omitting it would silently
// drop segments at the viewport edge.
func CellsCovering(b domain.BoundingBox) []string {
	latStart := int(math.Floor(b.MinLat / CellSizeDegrees))
	latEnd := int(math.Ceil(b.MaxLat / CellSizeDegrees))
	lngStart := int(math.Floor(b.MinLng / CellSizeDegrees))
	lngEnd := int(math.Ceil(b.MaxLng / CellSizeDegrees))

	cells := make([]string, 0, (latEnd-latStart+1)*(lngEnd-lngStart+1))
	for i := latStart; i <= latEnd; i++ {
		for j := lngStart; j <= lngEnd; j++ {
			cells = append(cells, fmt.Sprintf("%.2f_%.2f", float64(i)*CellSizeDegrees, float64(j)*CellSizeDegrees))
		}
	}
	return cells
}

// HaversineMeters returns the great-circle distance between two points.
func HaversineMeters(lat1, lng1, lat2, lng2 float64) float64 {
	dLat := (lat2 - lat1) * math.Pi / 180.0
	dLng := (lng2 - lng1) * math.Pi / 180.0
	la1 := lat1 * math.Pi / 180.0
	la2 := lat2 * math.Pi / 180.0

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(la1)*math.Cos(la2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusMeters * c
}

// RadiusBounds converts a radius around a point into an approximate degree
// box for use as a coarse prefilter. Longitude scale shrinks with cos(lat);
// it is clamped away from zero so extreme latitudes degrade to a wide box
// instead of dividing by zero.
func RadiusBounds(lat, lng, radiusMeters float64) domain.BoundingBox {
	latDegrees := radiusMeters / metersPerDegreeLat

	cosLat := math.Cos(lat * math.Pi / 180.0)
	if cosLat < 0.01 {
		cosLat = 0.01
	}
	lngDegrees := radiusMeters / (metersPerDegreeLat * cosLat)

	return domain.BoundingBox{
		MinLat: lat - latDegrees,
		MaxLat: lat + latDegrees,
		MinLng: lng - lngDegrees,
		MaxLng: lng + lngDegrees,
	}
}
