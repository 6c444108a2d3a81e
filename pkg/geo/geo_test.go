package geo

import (
	"math"
	"testing"

	"github.com/citytransit/simcore/internal/model"
)

func TestHaversineKm_SamePoint(t *testing.T) {
	loc := model.Location{Lat: 13.2521, Lon: -59.6425}
	got := HaversineKm(loc, loc)
	if got != 0 {
		t.Errorf("HaversineKm(same point) = %v, want 0", got)
	}
}

func TestHaversineKm_KnownDistance(t *testing.T) {
	// Speightstown to Bridgetown, Barbados (~17.5 km)
	speightstown := model.Location{Lat: 13.2521, Lon: -59.6425}
	bridgetown := model.Location{Lat: 13.0969, Lon: -59.6145}
	got := HaversineKm(speightstown, bridgetown)
	wantMin, wantMax := 14.0, 20.0
	if got < wantMin || got > wantMax {
		t.Errorf("HaversineKm(Speightstown→Bridgetown) = %.2f km, want between %.1f and %.1f", got, wantMin, wantMax)
	}
}

func TestHaversineM(t *testing.T) {
	a := model.Location{Lat: 0, Lon: 0}
	b := model.Location{Lat: 0.001, Lon: 0}
	km := HaversineKm(a, b)
	m := HaversineM(a, b)
	if math.Abs(m-km*1000) > 0.01 {
		t.Errorf("HaversineM = %v, want HaversineKm*1000 = %v", m, km*1000)
	}
}

func TestBearingDegrees_Cardinal(t *testing.T) {
	a := model.Location{Lat: 0, Lon: 0}
	north := model.Location{Lat: 1, Lon: 0}
	got := BearingDegrees(a, north)
	if math.Abs(got) > 1.0 {
		t.Errorf("BearingDegrees(due north) = %.2f, want ~0", got)
	}
}

func TestPolylineLengthM_Monotonic(t *testing.T) {
	route := []model.Location{
		{Lat: 13.3194, Lon: -59.6369},
		{Lat: 13.30, Lon: -59.6400},
		{Lat: 13.2943, Lon: -59.6430},
	}
	cum := PolylineLengthM(route)
	if cum[0] != 0 {
		t.Fatalf("PolylineLengthM[0] = %v, want 0", cum[0])
	}
	for i := 1; i < len(cum); i++ {
		if cum[i] <= cum[i-1] {
			t.Errorf("PolylineLengthM not increasing at %d: %v <= %v", i, cum[i], cum[i-1])
		}
	}
}

func TestSnapToPolyline_OnSegmentMidpoint(t *testing.T) {
	route := []model.Location{
		{Lat: 13.3194, Lon: -59.6369},
		{Lat: 13.2943, Lon: -59.6430},
	}
	cum := PolylineLengthM(route)
	mid := model.Location{Lat: (route[0].Lat + route[1].Lat) / 2, Lon: (route[0].Lon + route[1].Lon) / 2}
	res := SnapToPolyline(mid, route, cum)

	if res.SegmentIndex != 0 {
		t.Errorf("SnapToPolyline segment = %d, want 0", res.SegmentIndex)
	}
	if res.DistanceM > 5 {
		t.Errorf("SnapToPolyline distance = %.2f m, want near 0 for an on-line point", res.DistanceM)
	}
	if res.T < 0.4 || res.T > 0.6 {
		t.Errorf("SnapToPolyline t = %.2f, want ~0.5 for the midpoint", res.T)
	}
}

func TestSnapToPolyline_TieBreakLowerSegment(t *testing.T) {
	// Three collinear points: the query point sits exactly on the shared vertex,
	// equidistant from both segments. Lower segment index must win.
	route := []model.Location{
		{Lat: 0, Lon: 0},
		{Lat: 0, Lon: 1},
		{Lat: 0, Lon: 2},
	}
	cum := PolylineLengthM(route)
	res := SnapToPolyline(route[1], route, cum)
	if res.SegmentIndex != 0 {
		t.Errorf("SnapToPolyline tie-break segment = %d, want 0 (lower index)", res.SegmentIndex)
	}
}

func TestPointInPolygon(t *testing.T) {
	square := []model.Location{
		{Lat: 0, Lon: 0},
		{Lat: 0, Lon: 2},
		{Lat: 2, Lon: 2},
		{Lat: 2, Lon: 0},
	}
	inside := model.Location{Lat: 1, Lon: 1}
	outside := model.Location{Lat: 5, Lon: 5}
	onBoundary := model.Location{Lat: 0, Lon: 1}

	if !PointInPolygon(inside, square) {
		t.Error("PointInPolygon: expected inside point to be inside")
	}
	if PointInPolygon(outside, square) {
		t.Error("PointInPolygon: expected outside point to be outside")
	}
	if !PointInPolygon(onBoundary, square) {
		t.Error("PointInPolygon: boundary counts as inside")
	}
}

func TestPointInPolygon_DegenerateRingSkipped(t *testing.T) {
	singleVertex := []model.Location{{Lat: 1, Lon: 1}}
	if PointInPolygon(model.Location{Lat: 1, Lon: 1}, singleVertex) {
		t.Error("PointInPolygon: single-vertex ring must never contain anything")
	}
}

func TestGridCellOf(t *testing.T) {
	cellDeg := 0.01
	a := model.Location{Lat: 13.255, Lon: -59.645}
	b := model.Location{Lat: 13.258, Lon: -59.643}
	ca := GridCellOf(a, cellDeg)
	cb := GridCellOf(b, cellDeg)
	if ca != cb {
		t.Errorf("GridCellOf: expected nearby points in the same ~1km cell, got %v and %v", ca, cb)
	}

	far := model.Location{Lat: 14.5, Lon: -58.0}
	cf := GridCellOf(far, cellDeg)
	if cf == ca {
		t.Error("GridCellOf: expected distant point in a different cell")
	}
}

func TestBBoxContains_Inclusive(t *testing.T) {
	bbox := model.BoundingBox{MinLat: 0, MaxLat: 1, MinLon: 0, MaxLon: 1}
	edge := model.Location{Lat: 1, Lon: 0}
	if !BBoxContains(bbox, edge) {
		t.Error("BBoxContains: edge point must count as inside")
	}
}
