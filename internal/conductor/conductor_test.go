package conductor

import (
	"testing"
	"time"

	"github.com/citytransit/simcore/internal/model"
)

type fakeDepotQuerier struct {
	riders  []*model.Rider
	marked  []string
}

func (f *fakeDepotQuerier) QueryForVehicle(depotID, routeID string, loc model.Location, maxDist float64, maxCount int) []*model.Rider {
	if len(f.riders) > maxCount {
		return f.riders[:maxCount]
	}
	return f.riders
}
func (f *fakeDepotQuerier) MarkBoarded(ids []string, vehicleID string) { f.marked = append(f.marked, ids...) }

type fakeRouteQuerier struct {
	riders []*model.Rider
	marked []string
}

func (f *fakeRouteQuerier) QueryForVehicle(routeID string, loc model.Location, dir model.Direction, radius float64, maxCount int) []*model.Rider {
	if len(f.riders) > maxCount {
		return f.riders[:maxCount]
	}
	return f.riders
}
func (f *fakeRouteQuerier) MarkBoarded(ids []string, vehicleID string) { f.marked = append(f.marked, ids...) }

type fakeDepotLookup struct {
	depotID string
	dist    float64
	ok      bool
}

func (f *fakeDepotLookup) NearestConnectedDepot(routeID string, loc model.Location) (string, float64, bool) {
	return f.depotID, f.dist, f.ok
}

type fakeDriverSignaler struct {
	signals []model.DriverSignal
}

func (f *fakeDriverSignaler) Signal(now time.Time, sig model.DriverSignal) error {
	f.signals = append(f.signals, sig)
	return nil
}

type fakeSink struct {
	boarded  []string
	alighted []string
}

func (f *fakeSink) RiderBoarded(id, vehicleID string)  { f.boarded = append(f.boarded, id) }
func (f *fakeSink) RiderAlighted(id, vehicleID string) { f.alighted = append(f.alighted, id) }
func (f *fakeSink) RiderRejected(id, reason string)    {}

func testParams() Params {
	return Params{
		AlightTriggerM:       100,
		DepotQueryRadiusM:    500,
		RouteQueryRadiusM:    1000,
		Capacity:             40,
		StandingCapacity:     0,
		MinDwellSeconds:      15,
		BoardingDelaySeconds: 3,
	}
}

func waitingRider(id string, spawnedAt time.Time) *model.Rider {
	return &model.Rider{ID: id, State: model.Waiting, SpawnedAt: spawnedAt, Origin: model.Location{Lat: 13.25, Lon: -59.64}}
}

func TestTick_BoardsFromRouteReservoirWhenNotNearDepot(t *testing.T) {
	depotQ := &fakeDepotQuerier{}
	routeQ := &fakeRouteQuerier{riders: []*model.Rider{waitingRider("r1", time.Now())}}
	depots := &fakeDepotLookup{ok: false}
	driver := &fakeDriverSignaler{}
	sink := &fakeSink{}

	c := New("v1", "1A", testParams(), depotQ, routeQ, depots, driver, sink)
	stopped := c.Tick(time.Now(), model.Location{Lat: 13.3, Lon: -59.63}, model.Outbound)

	if !stopped {
		t.Fatal("expected Tick to report a stop when a rider boards")
	}
	if c.OnboardCount() != 1 {
		t.Fatalf("onboard count = %d, want 1", c.OnboardCount())
	}
	if len(routeQ.marked) != 1 || routeQ.marked[0] != "r1" {
		t.Fatalf("expected route reservoir to mark r1 boarded, got %v", routeQ.marked)
	}
	if len(depotQ.marked) != 0 {
		t.Fatal("expected depot reservoir untouched when not near a depot")
	}
	if len(sink.boarded) != 1 {
		t.Fatalf("expected 1 boarded event, got %d", len(sink.boarded))
	}
	if len(driver.signals) != 2 || driver.signals[0].Kind != model.SignalStop || driver.signals[1].Kind != model.SignalDepart {
		t.Fatalf("expected STOP then DEPART signals, got %v", driver.signals)
	}
}

func TestTick_BoardsFromDepotReservoirWhenNearDepot(t *testing.T) {
	depotQ := &fakeDepotQuerier{riders: []*model.Rider{waitingRider("d1", time.Now())}}
	routeQ := &fakeRouteQuerier{riders: []*model.Rider{waitingRider("r1", time.Now())}}
	depots := &fakeDepotLookup{depotID: "speightstown", dist: 20, ok: true}
	driver := &fakeDriverSignaler{}

	c := New("v1", "1A", testParams(), depotQ, routeQ, depots, driver, nil)
	c.Tick(time.Now(), model.Location{Lat: 13.25, Lon: -59.64}, model.Outbound)

	if len(depotQ.marked) != 1 || depotQ.marked[0] != "d1" {
		t.Fatalf("expected depot reservoir to mark d1 boarded, got %v", depotQ.marked)
	}
	if len(routeQ.marked) != 0 {
		t.Fatal("expected route reservoir untouched when near a connected depot")
	}
}

func TestTick_FullExpressSkipsPickup(t *testing.T) {
	params := testParams()
	params.Capacity = 1
	depotQ := &fakeDepotQuerier{}
	routeQ := &fakeRouteQuerier{riders: []*model.Rider{waitingRider("r1", time.Now())}}
	depots := &fakeDepotLookup{ok: false}
	driver := &fakeDriverSignaler{}

	c := New("v1", "1A", params, depotQ, routeQ, depots, driver, nil)
	c.onboard["already-aboard"] = &model.Rider{ID: "already-aboard", Destination: model.Location{Lat: 99, Lon: 99}}

	c.Tick(time.Now(), model.Location{Lat: 13.3, Lon: -59.63}, model.Outbound)

	if c.State() != model.ConductorFullExpress {
		t.Fatalf("state = %v, want FULL_EXPRESS at capacity", c.State())
	}
	if len(routeQ.marked) != 0 {
		t.Fatal("expected no pickup query while FULL_EXPRESS")
	}
}

func TestTick_AlightsRiderNearDestination(t *testing.T) {
	depotQ := &fakeDepotQuerier{}
	routeQ := &fakeRouteQuerier{}
	driver := &fakeDriverSignaler{}
	sink := &fakeSink{}

	c := New("v1", "1A", testParams(), depotQ, routeQ, nil, driver, sink)
	dest := model.Location{Lat: 13.30, Lon: -59.64}
	rider := &model.Rider{ID: "onboard-1", State: model.Boarded, Destination: dest}
	c.onboard["onboard-1"] = rider

	c.Tick(time.Now(), dest, model.Outbound)

	if rider.State != model.Completed {
		t.Fatalf("rider state = %v, want COMPLETED", rider.State)
	}
	if c.OnboardCount() != 0 {
		t.Fatalf("onboard count = %d, want 0 after alighting", c.OnboardCount())
	}
	if len(sink.alighted) != 1 {
		t.Fatalf("expected 1 alighted event, got %d", len(sink.alighted))
	}
}

func TestBoardingPolicy_SortsByPriorityThenWaitThenDistance(t *testing.T) {
	now := time.Now()
	vehicleLoc := model.Location{Lat: 13.30, Lon: -59.64}
	low := &model.Rider{ID: "low-priority", Priority: 1, SpawnedAt: now.Add(-5 * time.Minute), Origin: vehicleLoc}
	high := &model.Rider{ID: "high-priority", Priority: 5, SpawnedAt: now, Origin: vehicleLoc}

	chosen := boardingPolicy([]*model.Rider{low, high}, now, vehicleLoc, 1)
	if len(chosen) != 1 || chosen[0].ID != "high-priority" {
		t.Fatalf("expected highest-priority rider chosen first, got %v", chosen)
	}
}

func TestBoardingPolicy_ExcessNotBoarded(t *testing.T) {
	now := time.Now()
	vehicleLoc := model.Location{Lat: 13.30, Lon: -59.64}
	riders := []*model.Rider{
		{ID: "a", SpawnedAt: now, Origin: vehicleLoc},
		{ID: "b", SpawnedAt: now, Origin: vehicleLoc},
		{ID: "c", SpawnedAt: now, Origin: vehicleLoc},
	}
	chosen := boardingPolicy(riders, now, vehicleLoc, 2)
	if len(chosen) != 2 {
		t.Fatalf("expected exactly 2 boarded with 2 seats available, got %d", len(chosen))
	}
}
