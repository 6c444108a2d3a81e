// Package depotreservoir implements the depot reservoir (SPEC_FULL.md §4.4):
// per-(depot_id, route_id) FIFO queues of outbound riders waiting at a depot.
// Ordering is strict FIFO by spawn time within a queue; a single mutex per
// queue serializes both mutation and the filter pass of a query.
package depotreservoir

import (
	"container/list"
	"log"
	"sync"
	"time"

	"github.com/citytransit/simcore/internal/model"
	"github.com/citytransit/simcore/internal/registry"
	"github.com/citytransit/simcore/internal/reservoirstats"
	"github.com/citytransit/simcore/pkg/geo"
)

// EventSink receives lifecycle events the reservoir emits. Implemented by
// the event bus adapter in production; tests may use a recording stub.
type EventSink interface {
	RiderBoarded(riderID, vehicleID string, at time.Time)
	RiderExpired(riderID, reason string)
}

type queueKey struct {
	DepotID string
	RouteID string
}

type depotQueue struct {
	mu    sync.Mutex
	order *list.List // elements are *model.Rider
	index map[string]*list.Element
}

// Reservoir is the depot reservoir.
type Reservoir struct {
	reg   *registry.Registry
	stats *reservoirstats.Stats
	sink  EventSink

	mapMu  sync.RWMutex
	queues map[queueKey]*depotQueue
}

// New constructs a Reservoir backed by reg (the shared rider registry) and
// reporting through sink.
func New(reg *registry.Registry, sink EventSink) *Reservoir {
	return &Reservoir{
		reg:    reg,
		stats:  reservoirstats.New("depot-reservoir"),
		sink:   sink,
		queues: make(map[queueKey]*depotQueue),
	}
}

// Stats returns the shared statistics snapshot for this reservoir.
func (r *Reservoir) Stats() reservoirstats.Snapshot {
	return r.stats.Snapshot()
}

func (r *Reservoir) queueFor(key queueKey, createIfMissing bool) *depotQueue {
	r.mapMu.RLock()
	q, ok := r.queues[key]
	r.mapMu.RUnlock()
	if ok || !createIfMissing {
		return q
	}

	r.mapMu.Lock()
	defer r.mapMu.Unlock()
	if q, ok := r.queues[key]; ok {
		return q
	}
	q = &depotQueue{order: list.New(), index: make(map[string]*list.Element)}
	r.queues[key] = q
	return q
}

// AddRider appends rider to the FIFO for (rider.Home.DepotID, rider.RouteID).
// O(1).
func (r *Reservoir) AddRider(rider *model.Rider) {
	key := queueKey{DepotID: rider.Home.DepotID, RouteID: rider.RouteID}
	q := r.queueFor(key, true)

	q.mu.Lock()
	elem := q.order.PushBack(rider)
	q.index[rider.ID] = elem
	q.mu.Unlock()

	r.reg.Put(rider)
	r.stats.IncSpawned()
}

// QueryForVehicle returns the FIFO-ordered prefix (up to maxCount) of riders
// in the (depotID, routeID) queue whose origin is within
// min(maxDistanceM, rider.MaxWalkingDistanceM) of vehicleLoc. Non-matching
// riders are skipped, not removed, and the queue order is unchanged.
func (r *Reservoir) QueryForVehicle(depotID, routeID string, vehicleLoc model.Location, maxDistanceM float64, maxCount int) []*model.Rider {
	q := r.queueFor(queueKey{DepotID: depotID, RouteID: routeID}, false)
	if q == nil || maxCount <= 0 {
		return nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]*model.Rider, 0, maxCount)
	for e := q.order.Front(); e != nil && len(out) < maxCount; e = e.Next() {
		rider := e.Value.(*model.Rider)
		limit := maxDistanceM
		if rider.MaxWalkingDistanceM < limit {
			limit = rider.MaxWalkingDistanceM
		}
		if geo.HaversineM(rider.Origin, vehicleLoc) <= limit {
			out = append(out, rider)
		}
	}
	return out
}

// MarkBoarded atomically transitions the given rider ids from WAITING to
// BOARDED and removes them from their FIFO queue. Unknown ids are ignored;
// the call is idempotent — marking an already-boarded rider again is a no-op.
func (r *Reservoir) MarkBoarded(riderIDs []string, vehicleID string) {
	now := time.Now()
	for _, id := range riderIDs {
		rider, ok := r.reg.Get(id)
		if !ok || rider.State != model.Waiting {
			continue
		}
		key := queueKey{DepotID: rider.Home.DepotID, RouteID: rider.RouteID}
		q := r.queueFor(key, false)
		if q == nil {
			continue
		}

		q.mu.Lock()
		elem, found := q.index[id]
		if found {
			q.order.Remove(elem)
			delete(q.index, id)
			rider.State = model.Boarded
			rider.VehicleID = vehicleID
			rider.BoardedAt = &now
		}
		q.mu.Unlock()

		if !found {
			continue
		}
		r.stats.IncBoarded()
		if r.sink != nil {
			r.sink.RiderBoarded(id, vehicleID, now)
		}
	}
}

// SweepExpired transitions any WAITING rider whose spawned_at + ttl <= now
// to EXPIRED and removes it from its queue. Called by the shared expiration
// manager; errors for one rider never stop the sweep of the rest.
func (r *Reservoir) SweepExpired(now time.Time) int {
	r.mapMu.RLock()
	keys := make([]queueKey, 0, len(r.queues))
	for k := range r.queues {
		keys = append(keys, k)
	}
	r.mapMu.RUnlock()

	expiredCount := 0
	for _, key := range keys {
		q := r.queueFor(key, false)
		if q == nil {
			continue
		}

		q.mu.Lock()
		var toExpire []*list.Element
		for e := q.order.Front(); e != nil; e = e.Next() {
			rider := e.Value.(*model.Rider)
			if now.Sub(rider.SpawnedAt) >= rider.MaxWaitTime {
				toExpire = append(toExpire, e)
			}
		}
		for _, e := range toExpire {
			rider := e.Value.(*model.Rider)
			q.order.Remove(e)
			delete(q.index, rider.ID)
			rider.State = model.Expired
		}
		q.mu.Unlock()

		for _, e := range toExpire {
			rider := e.Value.(*model.Rider)
			r.stats.IncExpired()
			if r.sink != nil {
				r.sink.RiderExpired(rider.ID, "ttl_exceeded")
			}
			expiredCount++
		}
	}
	if expiredCount > 0 {
		log.Printf("[depot-reservoir] expired %d riders", expiredCount)
	}
	return expiredCount
}
