package depotreservoir

import (
	"sync"
	"testing"
	"time"

	"github.com/citytransit/simcore/internal/model"
	"github.com/citytransit/simcore/internal/registry"
)

type recordingSink struct {
	boarded []string
	expired []string
}

func (s *recordingSink) RiderBoarded(id, vehicleID string, at time.Time) { s.boarded = append(s.boarded, id) }
func (s *recordingSink) RiderExpired(id, reason string)                 { s.expired = append(s.expired, id) }

func newTestRider(id, depotID, routeID string, spawnedAt time.Time) *model.Rider {
	return &model.Rider{
		ID:                  id,
		Origin:              model.Location{Lat: 13.25, Lon: -59.64},
		RouteID:             routeID,
		Direction:           model.Outbound,
		State:               model.Waiting,
		SpawnedAt:           spawnedAt,
		MaxWalkingDistanceM: 150,
		MaxWaitTime:         30 * time.Minute,
		Home:                model.Home{DepotID: depotID, RouteID: routeID, Direction: model.Outbound},
	}
}

func TestDepotReservoir_FIFOOrderingAndCapacityPrefix(t *testing.T) {
	reg := registry.New()
	sink := &recordingSink{}
	res := New(reg, sink)

	now := time.Now()
	vehicleLoc := model.Location{Lat: 13.25, Lon: -59.64}

	// Seed 50 riders, capacity 40: expect a 40-rider FIFO prefix, 10 remain.
	for i := 0; i < 50; i++ {
		id := string(rune('A' + i%26)) + string(rune('0'+i/26))
		res.AddRider(newTestRider(id, "depotA", "1A", now.Add(time.Duration(i)*time.Millisecond)))
	}

	got := res.QueryForVehicle("depotA", "1A", vehicleLoc, 500, 40)
	if len(got) != 40 {
		t.Fatalf("QueryForVehicle returned %d riders, want 40", len(got))
	}

	ids := make([]string, len(got))
	for i, r := range got {
		ids[i] = r.ID
	}
	res.MarkBoarded(ids, "vehicle-1")

	remaining := res.QueryForVehicle("depotA", "1A", vehicleLoc, 500, 100)
	if len(remaining) != 10 {
		t.Fatalf("after boarding 40 of 50, remaining = %d, want 10", len(remaining))
	}

	if len(sink.boarded) != 40 {
		t.Fatalf("sink recorded %d boarded events, want 40", len(sink.boarded))
	}
}

func TestDepotReservoir_MarkBoardedIdempotent(t *testing.T) {
	reg := registry.New()
	res := New(reg, nil)
	rider := newTestRider("r1", "depotA", "1A", time.Now())
	res.AddRider(rider)

	res.MarkBoarded([]string{"r1"}, "vehicle-1")
	if rider.State != model.Boarded {
		t.Fatalf("rider state = %v, want BOARDED", rider.State)
	}

	// Second call with the same id must be a no-op, not a panic or double-count.
	res.MarkBoarded([]string{"r1"}, "vehicle-1")
	snap := res.Stats()
	if snap.Boarded != 1 {
		t.Fatalf("boarded count = %d after idempotent re-call, want 1", snap.Boarded)
	}
}

func TestDepotReservoir_DistanceFilterSkipsNotRemoves(t *testing.T) {
	reg := registry.New()
	res := New(reg, nil)

	near := newTestRider("near", "depotA", "1A", time.Now())
	far := newTestRider("far", "depotA", "1A", time.Now().Add(time.Millisecond))
	far.Origin = model.Location{Lat: 14.0, Lon: -58.0} // far away

	res.AddRider(near)
	res.AddRider(far)

	got := res.QueryForVehicle("depotA", "1A", model.Location{Lat: 13.25, Lon: -59.64}, 500, 10)
	if len(got) != 1 || got[0].ID != "near" {
		t.Fatalf("expected only the near rider, got %v", got)
	}

	// far rider must still be queryable with a larger radius — it was skipped, not removed.
	gotAll := res.QueryForVehicle("depotA", "1A", model.Location{Lat: 14.0, Lon: -58.0}, 500, 10)
	if len(gotAll) != 1 || gotAll[0].ID != "far" {
		t.Fatalf("expected the far rider to still be in the queue, got %v", gotAll)
	}
}

func TestDepotReservoir_SweepExpired(t *testing.T) {
	reg := registry.New()
	sink := &recordingSink{}
	res := New(reg, sink)

	rider := newTestRider("r1", "depotA", "1A", time.Now().Add(-2*time.Hour))
	rider.MaxWaitTime = 30 * time.Minute
	res.AddRider(rider)

	n := res.SweepExpired(time.Now())
	if n != 1 {
		t.Fatalf("SweepExpired = %d, want 1", n)
	}
	if rider.State != model.Expired {
		t.Fatalf("rider state = %v, want EXPIRED", rider.State)
	}
	if len(sink.expired) != 1 {
		t.Fatalf("expired events = %d, want 1", len(sink.expired))
	}

	remaining := res.QueryForVehicle("depotA", "1A", model.Location{Lat: 13.25, Lon: -59.64}, 500, 10)
	if len(remaining) != 0 {
		t.Fatalf("expected expired rider removed from queue, got %v", remaining)
	}
}

// TestDepotReservoir_ConcurrentMarkBoardedIsExclusive fans N goroutines out
// over MarkBoarded/QueryForVehicle on a single shared rider and reservoir;
// spec §8 requires that at most one caller observes success per rider.
func TestDepotReservoir_ConcurrentMarkBoardedIsExclusive(t *testing.T) {
	reg := registry.New()
	sink := &recordingSink{}
	res := New(reg, sink)

	rider := newTestRider("r1", "depotA", "1A", time.Now())
	res.AddRider(rider)

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				res.MarkBoarded([]string{"r1"}, "vehicle-1")
			} else {
				res.QueryForVehicle("depotA", "1A", model.Location{Lat: 13.25, Lon: -59.64}, 500, 10)
			}
		}(i)
	}
	wg.Wait()

	if rider.State != model.Boarded {
		t.Fatalf("rider state = %v, want BOARDED", rider.State)
	}
	snap := res.Stats()
	if snap.Boarded != 1 {
		t.Fatalf("boarded count = %d after concurrent MarkBoarded fan-out, want exactly 1", snap.Boarded)
	}
	if len(sink.boarded) != 1 {
		t.Fatalf("sink recorded %d boarded events, want exactly 1", len(sink.boarded))
	}
}
