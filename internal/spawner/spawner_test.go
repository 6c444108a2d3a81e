package spawner

import (
	"math/rand"
	"testing"

	"github.com/citytransit/simcore/internal/model"
	"github.com/citytransit/simcore/pkg/geo"
)

// fakeCache is a minimal ZoneCache stub backed by a static zone list.
type fakeCache struct {
	zones []model.Zone
}

func (f *fakeCache) ZonesNear(point model.Location, radiusM float64) []model.Zone {
	return f.zones
}

func testRoute() model.Route {
	shape := []model.Location{
		{Lat: 13.2521, Lon: -59.6425},
		{Lat: 13.28, Lon: -59.635},
		{Lat: 13.3194, Lon: -59.6369},
	}
	cum := geo.PolylineLengthM(shape)
	return model.Route{
		ID:                "1A",
		Code:              "1A",
		ShapePoints:       shape,
		CumulativeLengthM: cum,
		LengthM:           cum[len(cum)-1],
		ActivityLevel:     1.0,
	}
}

func testZone(id string, weight float64) model.Zone {
	ring := []model.Location{
		{Lat: 13.26, Lon: -59.64},
		{Lat: 13.26, Lon: -59.63},
		{Lat: 13.27, Lon: -59.63},
		{Lat: 13.27, Lon: -59.64},
	}
	var mult [24]float64
	for i := range mult {
		mult[i] = 1.0
	}
	return model.Zone{
		ID:             id,
		Type:           model.ZoneResidential,
		Ring:           ring,
		Centroid:       model.Location{Lat: 13.265, Lon: -59.635},
		BBox:           model.BoundingBox{MinLat: 13.26, MaxLat: 13.27, MinLon: -59.64, MaxLon: -59.63},
		BaseWeight:     weight,
		TimeMultiplier: mult,
	}
}

func testParams() Params {
	return Params{
		BaseRatePerHourPerRoute: 20,
		TripLengthMuM:           7.6009,
		TripLengthSigma:         0.6,
		DepotConnectivityM:      500,
		SnapToleranceM:          25,
		TimePatternRoute:        [24]float64{1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1},
		TimePatternDepot:        [24]float64{1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1},
		DemandBufferM:           2000,
	}
}

func TestGenerate_RouteSpawnsSnappedAndWithinTripBound(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	cache := &fakeCache{zones: []model.Zone{testZone("z1", 5.0)}}
	sp := New(cache, testParams(), nil)
	route := testRoute()

	reqs := sp.Generate(rng, 17*3600, 600, []model.Route{route}, nil)
	if len(reqs) == 0 {
		t.Fatal("expected at least one route spawn at hour 17 over a 10-minute window")
	}
	for _, r := range reqs {
		if r.Source.Kind != model.SourceRoute {
			t.Fatalf("expected ROUTE-sourced spawn, got %v", r.Source.Kind)
		}
		if r.RouteID != route.ID {
			t.Fatalf("spawn routeID = %s, want %s", r.RouteID, route.ID)
		}
		if snap := geo.SnapToPolyline(r.Origin, route.ShapePoints, route.CumulativeLengthM); snap.DistanceM > testParams().SnapToleranceM {
			t.Fatalf("origin %v is %.1f m off the route polyline", r.Origin, snap.DistanceM)
		}
		if trip := geo.HaversineM(r.Origin, r.Destination); trip > 1.2*route.LengthM {
			t.Fatalf("trip of %.0f m exceeds 1.2 x route length %.0f m", trip, route.LengthM)
		}
	}
}

func TestGenerate_EmptyRouteSetReturnsEmpty(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	sp := New(&fakeCache{}, testParams(), nil)
	reqs := sp.Generate(rng, 0, 30, nil, nil)
	if len(reqs) != 0 {
		t.Fatalf("expected no spawns for an empty route set, got %d", len(reqs))
	}
}

func TestGenerate_DepotSpawnsOnlyOnConnectedRoute(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	cache := &fakeCache{zones: []model.Zone{testZone("z1", 5.0)}}
	sp := New(cache, testParams(), nil)

	route := testRoute() // first endpoint at the Speightstown depot's location
	near := model.Depot{ID: "speightstown", Location: route.ShapePoints[0], ActivityLevel: 1.0, ConnectedRoutes: []string{route.ID}}
	far := model.Depot{ID: "constitution", Location: model.Location{Lat: 13.0965, Lon: -59.6086}, ActivityLevel: 1.0, ConnectedRoutes: []string{route.ID}}

	reqs := sp.Generate(rng, 8*3600, 600, []model.Route{route}, []model.Depot{near, far})
	for _, r := range reqs {
		if r.Source.Kind == model.SourceDepot && r.Source.DepotID == "constitution" {
			t.Fatalf("distant depot must not spawn against route %s", route.ID)
		}
		if r.Source.Kind == model.SourceDepot && r.Direction != model.Outbound {
			t.Fatalf("depot spawns must always be OUTBOUND, got %v", r.Direction)
		}
	}
}

func TestDepotConnected_ThresholdBoundary(t *testing.T) {
	route := testRoute()
	closeDepot := model.Depot{Location: route.ShapePoints[0]}
	if !depotConnected(closeDepot, route, 500) {
		t.Fatal("depot at the route's own endpoint must be connected")
	}

	farDepot := model.Depot{Location: model.Location{Lat: 13.0965, Lon: -59.6086}}
	if depotConnected(farDepot, route, 500) {
		t.Fatal("a depot tens of km away must not be connected at 500m threshold")
	}
}

func TestPoisson_ZeroMeanIsZero(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	if n := poisson(rng, 0); n != 0 {
		t.Fatalf("poisson(0) = %d, want 0", n)
	}
	if n := poisson(rng, -5); n != 0 {
		t.Fatalf("poisson(negative) = %d, want 0", n)
	}
}

func TestPoisson_LargeMeanNeverNegative(t *testing.T) {
	rng := rand.New(rand.NewSource(9))
	for i := 0; i < 1000; i++ {
		if n := poisson(rng, 50); n < 0 {
			t.Fatalf("poisson(50) produced negative count %d", n)
		}
	}
}

func TestWeightedZoneChoice_AllZeroWeightReturnsNil(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	zones := []model.Zone{testZone("z1", 0), testZone("z2", 0)}
	if z := weightedZoneChoice(rng, zones, 12); z != nil {
		t.Fatalf("expected nil choice when all weights are zero, got %v", z.ID)
	}
}

func TestComputeConnectivity_PopulatesBothSides(t *testing.T) {
	route := testRoute()
	route.ConnectedDepotIDs = nil
	depot := model.Depot{ID: "speightstown", Location: route.ShapePoints[0]}

	routes, depots := ComputeConnectivity([]model.Route{route}, []model.Depot{depot}, 500)
	if len(depots[0].ConnectedRoutes) != 1 || depots[0].ConnectedRoutes[0] != route.ID {
		t.Fatalf("expected depot connected to route %s, got %v", route.ID, depots[0].ConnectedRoutes)
	}
	if len(routes[0].ConnectedDepotIDs) != 1 || routes[0].ConnectedDepotIDs[0] != depot.ID {
		t.Fatalf("expected route connected to depot %s, got %v", depot.ID, routes[0].ConnectedDepotIDs)
	}
}
