package geo

import (
	"github.com/uber/h3-go/v4"
)

// H3 resolution levels.
// See: https://h3geo.org/docs/core-library/restable
const (
	// H3ResolutionCorridor is used to index route polylines for candidate
	// pruning (~3.2 km edge), comparable to the largest corridor radius.
	H3ResolutionCorridor = 6

	// H3ResolutionSettlement is used to bucket gazetteer entries (~1.2 km edge).
	H3ResolutionSettlement = 7

	// corridorCellEdgeKm approximates the res-6 cell edge for converting a
	// corridor radius into a grid distance.
	corridorCellEdgeKm = 3.2
)

// LatLngToCell converts a point to an H3 cell index at the given resolution.
// Returns 0 for coordinates H3 rejects; callers treat 0 as "no cell".
func LatLngToCell(p Point, resolution int) h3.Cell {
	cell, err := h3.LatLngToCell(h3.NewLatLng(p.Lat, p.Lon), resolution)
	if err != nil {
		return 0
	}
	return cell
}

// CorridorCells returns the set of res-6 cells covering the polyline. Used as
// a cheap prefilter before the exact segment-by-segment corridor test.
func CorridorCells(poly []Point) map[h3.Cell]struct{} {
	cells := make(map[h3.Cell]struct{}, len(poly))
	for _, p := range poly {
		if cell := LatLngToCell(p, H3ResolutionCorridor); cell != 0 {
			cells[cell] = struct{}{}
		}
	}
	return cells
}

// NearCorridorCells reports whether p falls within grid distance of the cell
// cover for a corridor of the given radius. False positives are resolved by
// the exact test; false negatives do not occur because the allowance rounds up.
func NearCorridorCells(p Point, cells map[h3.Cell]struct{}, thresholdKm float64) bool {
	if len(cells) == 0 {
		return false
	}

	origin := LatLngToCell(p, H3ResolutionCorridor)
	if origin == 0 {
		return false
	}

	maxGrid := int(thresholdKm/corridorCellEdgeKm) + 2
	for cell := range cells {
		dist, err := origin.GridDistance(cell)
		if err != nil {
			// Pentagon distortion or cross-face failure: fall back to the exact test.
			return true
		}
		if dist <= maxGrid {
			return true
		}
	}
	return false
}
