package geo

import "math"

// Corridor threshold schedule. The radius grows with route length so long
// intercity routes tolerate a wider detour, bounded on both ends.
const (
	minThresholdKm   = 1.5
	maxThresholdKm   = 8.0
	thresholdSlopeKm = 0.05 // km of radius per km of route
)

// CorridorThresholdKm returns the match-corridor radius for a route of the
// given length. Monotonic, continuous, clamped to [1.5, 8.0].
func CorridorThresholdKm(routeDistanceKm float64) float64 {
	t := minThresholdKm + thresholdSlopeKm*routeDistanceKm
	if t < minThresholdKm {
		return minThresholdKm
	}
	if t > maxThresholdKm {
		return maxThresholdKm
	}
	return t
}

// PointToPolylineKm returns the minimum distance in kilometres from p to any
// segment of the polyline. Segments are treated as straight lines in a local
// equirectangular projection, which is accurate enough at country scale given
// the densified polylines the routing engine returns.
func PointToPolylineKm(p Point, poly []Point) float64 {
	if len(poly) == 0 {
		return math.Inf(1)
	}
	if len(poly) == 1 {
		return Haversine(p, poly[0])
	}

	minKm := math.Inf(1)
	for i := 0; i < len(poly)-1; i++ {
		if d := pointToSegmentKm(p, poly[i], poly[i+1]); d < minKm {
			minKm = d
		}
	}
	return minKm
}

// OnCorridor reports whether p lies within thresholdKm of the polyline.
func OnCorridor(p Point, poly []Point, thresholdKm float64) bool {
	return PointToPolylineKm(p, poly) <= thresholdKm
}

func pointToSegmentKm(p, a, b Point) float64 {
	// Local planar projection anchored at a.
	cosLat := math.Cos(a.Lat * math.Pi / 180.0)
	bx := (b.Lon - a.Lon) * cosLat * kmPerDegree
	by := (b.Lat - a.Lat) * kmPerDegree
	px := (p.Lon - a.Lon) * cosLat * kmPerDegree
	py := (p.Lat - a.Lat) * kmPerDegree

	segLen2 := bx*bx + by*by
	if segLen2 == 0 {
		return Haversine(p, a)
	}

	t := (px*bx + py*by) / segLen2
	if t < 0 {
		t = 0
	} else if t > 1 {
		t = 1
	}

	return math.Hypot(px-t*bx, py-t*by)
}
