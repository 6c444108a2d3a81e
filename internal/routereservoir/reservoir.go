// Package routereservoir implements the route reservoir (SPEC_FULL.md §4.5):
// a grid-indexed pool of riders along a route, split by direction. Each
// (route_id, direction) segment is protected by its own mutex; cross-
// direction queries never block each other.
package routereservoir

import (
	"log"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/citytransit/simcore/internal/model"
	"github.com/citytransit/simcore/internal/registry"
	"github.com/citytransit/simcore/internal/reservoirstats"
	"github.com/citytransit/simcore/pkg/geo"
)

// EventSink receives lifecycle events the reservoir emits.
type EventSink interface {
	RiderBoarded(riderID, vehicleID string, at time.Time)
	RiderExpired(riderID, reason string)
}

type segmentKey struct {
	RouteID   string
	Direction model.Direction
}

type segment struct {
	mu       sync.Mutex
	cells    map[model.GridCell]map[string]*model.Rider
	riderCell map[string]model.GridCell
}

// Reservoir is the route reservoir.
type Reservoir struct {
	reg             *registry.Registry
	stats           *reservoirstats.Stats
	sink            EventSink
	cellSizeDegrees float64

	mapMu    sync.RWMutex
	segments map[segmentKey]*segment
}

// New constructs a Reservoir. cellSizeDegrees is the route_reservoir's
// grid_cell_degrees config knob (default 0.01, ~1km).
func New(reg *registry.Registry, sink EventSink, cellSizeDegrees float64) *Reservoir {
	return &Reservoir{
		reg:             reg,
		stats:           reservoirstats.New("route-reservoir"),
		sink:            sink,
		cellSizeDegrees: cellSizeDegrees,
		segments:        make(map[segmentKey]*segment),
	}
}

// Stats returns the shared statistics snapshot for this reservoir.
func (r *Reservoir) Stats() reservoirstats.Snapshot {
	return r.stats.Snapshot()
}

func (r *Reservoir) segmentFor(key segmentKey, createIfMissing bool) *segment {
	r.mapMu.RLock()
	s, ok := r.segments[key]
	r.mapMu.RUnlock()
	if ok || !createIfMissing {
		return s
	}

	r.mapMu.Lock()
	defer r.mapMu.Unlock()
	if s, ok := r.segments[key]; ok {
		return s
	}
	s = &segment{cells: make(map[model.GridCell]map[string]*model.Rider), riderCell: make(map[string]model.GridCell)}
	r.segments[key] = s
	return s
}

// AddRider inserts rider into segments[route_id][direction][cellOf(origin)]
// and records riderCell[id] for O(1) future moves/removal. O(1).
func (r *Reservoir) AddRider(rider *model.Rider) {
	key := segmentKey{RouteID: rider.RouteID, Direction: rider.Direction}
	s := r.segmentFor(key, true)
	cell := geo.GridCellOf(rider.Origin, r.cellSizeDegrees)

	s.mu.Lock()
	if s.cells[cell] == nil {
		s.cells[cell] = make(map[string]*model.Rider)
	}
	s.cells[cell][rider.ID] = rider
	s.riderCell[rider.ID] = cell
	s.mu.Unlock()

	r.reg.Put(rider)
	r.stats.IncSpawned()
}

// candidateCells enumerates the grid cells whose bounding box intersects a
// disc of radius radiusM around point, a 3x3-to-5x5 block at typical radii.
func candidateCells(point model.Location, radiusM, cellSizeDegrees float64) []model.GridCell {
	dLat := radToDeg(radiusM / geo.EarthRadiusM)
	dLon := radToDeg(radiusM / (geo.EarthRadiusM * math.Cos(degToRad(point.Lat))))

	minRow := int64(math.Floor((point.Lat - dLat) / cellSizeDegrees))
	maxRow := int64(math.Floor((point.Lat + dLat) / cellSizeDegrees))
	minCol := int64(math.Floor((point.Lon - dLon) / cellSizeDegrees))
	maxCol := int64(math.Floor((point.Lon + dLon) / cellSizeDegrees))

	cells := make([]model.GridCell, 0, (maxRow-minRow+1)*(maxCol-minCol+1))
	for row := minRow; row <= maxRow; row++ {
		for col := minCol; col <= maxCol; col++ {
			cells = append(cells, model.GridCell{Row: row, Col: col})
		}
	}
	return cells
}

func degToRad(deg float64) float64 { return deg * (math.Pi / 180.0) }
func radToDeg(rad float64) float64 { return rad * (180.0 / math.Pi) }

// QueryForVehicle returns riders in route_id's direction segment within
// min(radiusM, rider.MaxWalkingDistanceM) of vehicleLoc, sorted ascending by
// distance, truncated to maxCount. Only same-direction riders are ever
// returned.
func (r *Reservoir) QueryForVehicle(routeID string, vehicleLoc model.Location, direction model.Direction, radiusM float64, maxCount int) []*model.Rider {
	if maxCount <= 0 {
		return nil
	}
	s := r.segmentFor(segmentKey{RouteID: routeID, Direction: direction}, false)
	if s == nil {
		return nil
	}

	cells := candidateCells(vehicleLoc, radiusM, r.cellSizeDegrees)

	type scored struct {
		rider *model.Rider
		dist  float64
	}
	var candidates []scored

	s.mu.Lock()
	for _, cell := range cells {
		for _, rider := range s.cells[cell] {
			limit := radiusM
			if rider.MaxWalkingDistanceM < limit {
				limit = rider.MaxWalkingDistanceM
			}
			d := geo.HaversineM(rider.Origin, vehicleLoc)
			if d <= limit {
				candidates = append(candidates, scored{rider: rider, dist: d})
			}
		}
	}
	s.mu.Unlock()

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].dist < candidates[j].dist })

	if len(candidates) > maxCount {
		candidates = candidates[:maxCount]
	}
	out := make([]*model.Rider, len(candidates))
	for i, c := range candidates {
		out[i] = c.rider
	}
	return out
}

// MarkBoarded atomically transitions the given rider ids from WAITING to
// BOARDED and removes them from their grid cell. Unknown ids are ignored;
// idempotent on repeat calls with the same ids.
func (r *Reservoir) MarkBoarded(riderIDs []string, vehicleID string) {
	now := time.Now()
	for _, id := range riderIDs {
		rider, ok := r.reg.Get(id)
		if !ok || rider.State != model.Waiting {
			continue
		}
		s := r.segmentFor(segmentKey{RouteID: rider.RouteID, Direction: rider.Direction}, false)
		if s == nil {
			continue
		}

		s.mu.Lock()
		cell, found := s.riderCell[id]
		if found {
			delete(s.cells[cell], id)
			if len(s.cells[cell]) == 0 {
				delete(s.cells, cell)
			}
			delete(s.riderCell, id)
			rider.State = model.Boarded
			rider.VehicleID = vehicleID
			rider.BoardedAt = &now
		}
		s.mu.Unlock()

		if !found {
			continue
		}
		r.stats.IncBoarded()
		if r.sink != nil {
			r.sink.RiderBoarded(id, vehicleID, now)
		}
	}
}

// SweepExpired transitions any WAITING rider past its ttl to EXPIRED and
// removes it from its grid cell.
func (r *Reservoir) SweepExpired(now time.Time) int {
	r.mapMu.RLock()
	keys := make([]segmentKey, 0, len(r.segments))
	for k := range r.segments {
		keys = append(keys, k)
	}
	r.mapMu.RUnlock()

	expiredCount := 0
	for _, key := range keys {
		s := r.segmentFor(key, false)
		if s == nil {
			continue
		}

		s.mu.Lock()
		var toExpire []*model.Rider
		for id, cell := range s.riderCell {
			rider := s.cells[cell][id]
			if rider != nil && now.Sub(rider.SpawnedAt) >= rider.MaxWaitTime {
				toExpire = append(toExpire, rider)
			}
		}
		for _, rider := range toExpire {
			cell := s.riderCell[rider.ID]
			delete(s.cells[cell], rider.ID)
			if len(s.cells[cell]) == 0 {
				delete(s.cells, cell)
			}
			delete(s.riderCell, rider.ID)
			rider.State = model.Expired
		}
		s.mu.Unlock()

		for _, rider := range toExpire {
			r.stats.IncExpired()
			if r.sink != nil {
				r.sink.RiderExpired(rider.ID, "ttl_exceeded")
			}
			expiredCount++
		}
	}
	if expiredCount > 0 {
		log.Printf("[route-reservoir] expired %d riders", expiredCount)
	}
	return expiredCount
}
