// Package geo provides pure geographic utility functions for the simulation
// core: distance, bearing, polyline snapping, point-in-polygon, and grid
// indexing. All distance calculations use the Haversine formula on WGS-84
// coordinates. Nothing in this package performs I/O or allocates global state.
package geo

import (
	"math"

	"github.com/citytransit/simcore/internal/model"
)

// ─── Constants ──────────────────────────────────────────────

const (
	// EarthRadiusKm is the mean radius of Earth in kilometers.
	EarthRadiusKm = 6371.0

	// EarthRadiusM is the mean radius of Earth in meters.
	EarthRadiusM = 6_371_000.0

	// AverageSpeedKmph is the assumed average vehicle speed absent telemetry
	// from the (external) navigation engine.
	AverageSpeedKmph = 30.0
)

// ─── Distance & bearing ─────────────────────────────────────

// HaversineKm returns the great-circle distance between two points in kilometers.
//
// Complexity: O(1)
func HaversineKm(a, b model.Location) float64 {
	dLat := degToRad(b.Lat - a.Lat)
	dLon := degToRad(b.Lon - a.Lon)

	sinLat := math.Sin(dLat / 2)
	sinLon := math.Sin(dLon / 2)

	h := sinLat*sinLat +
		math.Cos(degToRad(a.Lat))*math.Cos(degToRad(b.Lat))*sinLon*sinLon

	return 2 * EarthRadiusKm * math.Asin(math.Sqrt(h))
}

// HaversineM returns the great-circle distance between two points in meters.
func HaversineM(a, b model.Location) float64 {
	return HaversineKm(a, b) * 1000.0
}

// BearingDegrees returns the initial bearing (0-360, clockwise from north)
// from a to b.
func BearingDegrees(a, b model.Location) float64 {
	lat1 := degToRad(a.Lat)
	lat2 := degToRad(b.Lat)
	dLon := degToRad(b.Lon - a.Lon)

	y := math.Sin(dLon) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLon)

	theta := math.Atan2(y, x)
	return math.Mod(radToDeg(theta)+360.0, 360.0)
}

// ─── Polyline snapping ──────────────────────────────────────

// SnapResult is the nearest-point projection of a point onto a polyline.
type SnapResult struct {
	Point         model.Location
	SegmentIndex  int     // index i such that the foot lies on segment [i, i+1]
	T             float64 // 0..1, fraction along the segment
	DistanceAlong float64 // cumulative arc-length (meters) from polyline start to Point
	DistanceM     float64 // perpendicular distance from the query point to Point
}

// SnapToPolyline projects p onto the nearest point of polyline (a sequence of
// at least two points), using cumulativeLengthM (one entry per polyline
// point, cumulativeLengthM[0] == 0) to compute arc-length along the route.
//
// Projection happens on a local equirectangular tangent plane using the
// segment midpoint latitude for longitude scaling, which is accurate to
// well under a meter for segments up to tens of kilometers. Ties between
// equidistant segments are broken by the lower segment index.
func SnapToPolyline(p model.Location, polyline []model.Location, cumulativeLengthM []float64) SnapResult {
	best := SnapResult{DistanceM: math.MaxFloat64}
	if len(polyline) < 2 {
		if len(polyline) == 1 {
			return SnapResult{Point: polyline[0], SegmentIndex: 0, T: 0, DistanceAlong: 0, DistanceM: HaversineM(p, polyline[0])}
		}
		return best
	}

	for i := 0; i < len(polyline)-1; i++ {
		a, b := polyline[i], polyline[i+1]
		midLat := (a.Lat + b.Lat) / 2.0

		// Equirectangular projection to a local planar frame, in meters.
		ax, ay := planarXY(a, midLat)
		bx, by := planarXY(b, midLat)
		px, py := planarXY(p, midLat)

		dx, dy := bx-ax, by-ay
		segLenSq := dx*dx + dy*dy

		var t float64
		if segLenSq > 0 {
			t = ((px-ax)*dx + (py-ay)*dy) / segLenSq
		}
		if t < 0 {
			t = 0
		} else if t > 1 {
			t = 1
		}

		footX := ax + t*dx
		footY := ay + t*dy
		distM := math.Hypot(px-footX, py-footY)

		if distM < best.DistanceM {
			foot := unplanarXY(footX, footY, midLat)
			segLenM := HaversineM(a, b)
			best = SnapResult{
				Point:         foot,
				SegmentIndex:  i,
				T:             t,
				DistanceAlong: cumulativeLengthM[i] + t*segLenM,
				DistanceM:     distM,
			}
		}
	}
	return best
}

// planarXY projects a Location onto a local tangent-plane (x=east, y=north,
// both meters) anchored at latitude refLat, used only for snapping.
func planarXY(p model.Location, refLat float64) (x, y float64) {
	x = degToRad(p.Lon) * EarthRadiusM * math.Cos(degToRad(refLat))
	y = degToRad(p.Lat) * EarthRadiusM
	return
}

func unplanarXY(x, y, refLat float64) model.Location {
	lat := radToDeg(y / EarthRadiusM)
	lon := radToDeg(x / (EarthRadiusM * math.Cos(degToRad(refLat))))
	return model.Location{Lat: lat, Lon: lon}
}

// PolylineLengthM returns the cumulative arc-length table for a polyline:
// one entry per point, starting at 0.
func PolylineLengthM(polyline []model.Location) []float64 {
	cum := make([]float64, len(polyline))
	for i := 1; i < len(polyline); i++ {
		cum[i] = cum[i-1] + HaversineM(polyline[i-1], polyline[i])
	}
	return cum
}

// ─── Polygon containment ────────────────────────────────────

// PointInPolygon reports whether p lies inside or on the boundary of ring (a
// closed or open simple polygon ring) using ray casting. A ring with fewer
// than 3 vertices never contains anything.
func PointInPolygon(p model.Location, ring []model.Location) bool {
	n := len(ring)
	if n < 3 {
		return false
	}

	// Boundary check first (ray casting alone is unreliable for points
	// exactly on an edge).
	for i := 0; i < n; i++ {
		a := ring[i]
		b := ring[(i+1)%n]
		if onSegment(p, a, b) {
			return true
		}
	}

	inside := false
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		pi, pj := ring[i], ring[j]
		if (pi.Lat > p.Lat) != (pj.Lat > p.Lat) {
			lonAtP := (pj.Lon-pi.Lon)*(p.Lat-pi.Lat)/(pj.Lat-pi.Lat) + pi.Lon
			if p.Lon < lonAtP {
				inside = !inside
			}
		}
	}
	return inside
}

func onSegment(p, a, b model.Location) bool {
	const eps = 1e-9
	cross := (b.Lat-a.Lat)*(p.Lon-a.Lon) - (b.Lon-a.Lon)*(p.Lat-a.Lat)
	if math.Abs(cross) > eps {
		return false
	}
	minLat, maxLat := math.Min(a.Lat, b.Lat), math.Max(a.Lat, b.Lat)
	minLon, maxLon := math.Min(a.Lon, b.Lon), math.Max(a.Lon, b.Lon)
	return p.Lat >= minLat-eps && p.Lat <= maxLat+eps && p.Lon >= minLon-eps && p.Lon <= maxLon+eps
}

// ─── Grid cell & bbox ───────────────────────────────────────

// GridCellOf returns the degree-aligned grid cell containing p, at cell size
// cellSizeDegrees, as floor(coordinate / cellSizeDegrees). A coordinate
// that divides exactly onto a boundary falls in the higher-indexed cell; no
// tolerance is applied to pull near-boundary values to the lower cell.
func GridCellOf(p model.Location, cellSizeDegrees float64) model.GridCell {
	return model.GridCell{
		Row: int64(math.Floor(p.Lat / cellSizeDegrees)),
		Col: int64(math.Floor(p.Lon / cellSizeDegrees)),
	}
}

// BBoxContains reports whether p lies within bbox, inclusive of all edges.
func BBoxContains(bbox model.BoundingBox, p model.Location) bool {
	return p.Lat >= bbox.MinLat && p.Lat <= bbox.MaxLat &&
		p.Lon >= bbox.MinLon && p.Lon <= bbox.MaxLon
}

// InflateBBox returns bbox expanded by marginM meters in every direction.
func InflateBBox(bbox model.BoundingBox, marginM float64) model.BoundingBox {
	midLat := (bbox.MinLat + bbox.MaxLat) / 2.0
	dLat := radToDeg(marginM / EarthRadiusM)
	dLon := radToDeg(marginM / (EarthRadiusM * math.Cos(degToRad(midLat))))
	return model.BoundingBox{
		MinLat: bbox.MinLat - dLat,
		MaxLat: bbox.MaxLat + dLat,
		MinLon: bbox.MinLon - dLon,
		MaxLon: bbox.MaxLon + dLon,
	}
}

// BoundingBoxOf computes the axis-aligned bounding box of a set of points.
func BoundingBoxOf(points []model.Location) model.BoundingBox {
	if len(points) == 0 {
		return model.BoundingBox{}
	}
	bbox := model.BoundingBox{
		MinLat: points[0].Lat, MaxLat: points[0].Lat,
		MinLon: points[0].Lon, MaxLon: points[0].Lon,
	}
	for _, p := range points[1:] {
		bbox.MinLat = math.Min(bbox.MinLat, p.Lat)
		bbox.MaxLat = math.Max(bbox.MaxLat, p.Lat)
		bbox.MinLon = math.Min(bbox.MinLon, p.Lon)
		bbox.MaxLon = math.Max(bbox.MaxLon, p.Lon)
	}
	return bbox
}

// ─── Helpers ────────────────────────────────────────────────

func degToRad(deg float64) float64 {
	return deg * (math.Pi / 180.0)
}

func radToDeg(rad float64) float64 {
	return rad * (180.0 / math.Pi)
}
