// Package conductor implements the per-vehicle conductor state machine
// (SPEC_FULL.md §4.9): the decision-maker that queries the reservoirs,
// applies the boarding policy, and signals the driver.
package conductor

import (
	"log"
	"sort"
	"time"

	"github.com/citytransit/simcore/internal/model"
	"github.com/citytransit/simcore/pkg/geo"
)

// DepotQuerier is the subset of *depotreservoir.Reservoir the conductor depends on.
type DepotQuerier interface {
	QueryForVehicle(depotID, routeID string, vehicleLoc model.Location, maxDistanceM float64, maxCount int) []*model.Rider
	MarkBoarded(riderIDs []string, vehicleID string)
}

// RouteQuerier is the subset of *routereservoir.Reservoir the conductor depends on.
type RouteQuerier interface {
	QueryForVehicle(routeID string, vehicleLoc model.Location, direction model.Direction, radiusM float64, maxCount int) []*model.Rider
	MarkBoarded(riderIDs []string, vehicleID string)
}

// DepotLookup resolves whether a vehicle is near a depot connected to its route.
type DepotLookup interface {
	NearestConnectedDepot(routeID string, loc model.Location) (depotID string, distanceM float64, ok bool)
}

// DriverSignaler is the driver-facing half of the conductor<->driver contract.
type DriverSignaler interface {
	Signal(now time.Time, sig model.DriverSignal) error
}

// EventSink receives conductor-emitted lifecycle events.
type EventSink interface {
	RiderBoarded(riderID, vehicleID string)
	RiderAlighted(riderID, vehicleID string)
	RiderRejected(riderID, reason string)
}

// Params holds the per-vehicle conductor's tunables (mirrors config.ConductorConfig).
//
// Departure from a stop is not held for any condition: Tick sends
// driver:depart in the same tick as driver:stop whenever anything boards or
// alights, whatever the load. Holding a depot departure until the vehicle is
// at effective capacity (trigger (a)), until a minimum dwell with
// min_passengers onboard (b), or until a scheduled time (c) is not
// implemented (see DESIGN.md's open-question decisions).
type Params struct {
	AlightTriggerM       float64
	DepotQueryRadiusM    float64
	RouteQueryRadiusM    float64
	Capacity             int
	StandingCapacity     int
	MinDwellSeconds      int
	BoardingDelaySeconds int
}

func (p Params) effectiveCapacity() int {
	return p.Capacity + p.StandingCapacity
}

// Conductor is the per-vehicle decision-maker.
type Conductor struct {
	vehicleID string
	routeID   string
	params    Params

	depotRes DepotQuerier
	routeRes RouteQuerier
	depots   DepotLookup
	driver   DriverSignaler
	sink     EventSink

	state   model.ConductorState
	onboard map[string]*model.Rider
}

// New constructs a Conductor for one vehicle, starting IDLE.
func New(vehicleID, routeID string, params Params, depotRes DepotQuerier, routeRes RouteQuerier, depots DepotLookup, driver DriverSignaler, sink EventSink) *Conductor {
	return &Conductor{
		vehicleID: vehicleID,
		routeID:   routeID,
		params:    params,
		depotRes:  depotRes,
		routeRes:  routeRes,
		depots:    depots,
		driver:    driver,
		sink:      sink,
		state:     model.ConductorIdle,
		onboard:   make(map[string]*model.Rider),
	}
}

// State returns the conductor's current state.
func (c *Conductor) State() model.ConductorState { return c.state }

// OnboardCount returns the number of riders currently aboard.
func (c *Conductor) OnboardCount() int { return len(c.onboard) }

// Tick runs one iteration of the cooperative loop at vehicleLoc/direction.
// Returns true if a stop was initiated this tick (boarding and/or alighting).
func (c *Conductor) Tick(now time.Time, vehicleLoc model.Location, direction model.Direction) bool {
	if len(c.onboard) >= c.params.effectiveCapacity() {
		c.state = model.ConductorFullExpress
	} else if c.state == model.ConductorFullExpress {
		c.state = model.ConductorMonitoring
	} else if c.state == model.ConductorIdle {
		c.state = model.ConductorMonitoring
	}

	toAlight := c.alightCandidates(vehicleLoc)

	var toBoard []*model.Rider
	if c.state != model.ConductorFullExpress {
		candidates, isDepot, depotID := c.pickupCandidates(vehicleLoc, direction)
		seatsAvailable := c.params.effectiveCapacity() - len(c.onboard)
		toBoard = boardingPolicy(candidates, now, vehicleLoc, seatsAvailable)
		if len(toBoard) > 0 {
			c.boardAndMark(toBoard, isDepot, depotID)
		}
	}

	if len(toAlight) > 0 {
		c.alight(now, toAlight)
	}

	if len(toBoard) == 0 && len(toAlight) == 0 {
		return false
	}

	dwell := c.dwellSeconds(len(toBoard), len(toAlight))
	c.state = model.ConductorApproachingStop
	if c.driver != nil {
		if err := c.driver.Signal(now, model.DriverSignal{Kind: model.SignalStop, DurationSeconds: dwell}); err != nil {
			log.Printf("[conductor:%s] driver:stop signal failed: %v", c.vehicleID, err)
		}
	}
	c.state = model.ConductorStopped

	if c.driver != nil {
		if err := c.driver.Signal(now, model.DriverSignal{Kind: model.SignalDepart}); err != nil {
			log.Printf("[conductor:%s] driver:depart signal failed: %v", c.vehicleID, err)
		}
	}
	c.state = model.ConductorEnRoute
	return true
}

func (c *Conductor) alightCandidates(vehicleLoc model.Location) []*model.Rider {
	var out []*model.Rider
	for _, r := range c.onboard {
		if geo.HaversineM(r.Destination, vehicleLoc) <= c.params.AlightTriggerM {
			out = append(out, r)
		}
	}
	return out
}

func (c *Conductor) pickupCandidates(vehicleLoc model.Location, direction model.Direction) ([]*model.Rider, bool, string) {
	seatsAvailable := c.params.effectiveCapacity() - len(c.onboard)
	if seatsAvailable <= 0 {
		return nil, false, ""
	}
	if c.depots != nil {
		if depotID, dist, ok := c.depots.NearestConnectedDepot(c.routeID, vehicleLoc); ok && dist <= 100 {
			return c.depotRes.QueryForVehicle(depotID, c.routeID, vehicleLoc, c.params.DepotQueryRadiusM, seatsAvailable), true, depotID
		}
	}
	return c.routeRes.QueryForVehicle(c.routeID, vehicleLoc, direction, c.params.RouteQueryRadiusM, seatsAvailable), false, ""
}

// boardingPolicy sorts by descending priority, then longest wait first
// (earliest SpawnedAt), then ascending distance, and takes up to seatsAvailable. Excess candidates
// are left untouched — not boarded, not marked, remaining WAITING.
func boardingPolicy(candidates []*model.Rider, now time.Time, vehicleLoc model.Location, seatsAvailable int) []*model.Rider {
	if seatsAvailable <= 0 || len(candidates) == 0 {
		return nil
	}
	sorted := make([]*model.Rider, len(candidates))
	copy(sorted, candidates)
	sort.Slice(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		waitA, waitB := now.Sub(a.SpawnedAt), now.Sub(b.SpawnedAt)
		if waitA != waitB {
			return waitA > waitB
		}
		return geo.HaversineM(a.Origin, vehicleLoc) < geo.HaversineM(b.Origin, vehicleLoc)
	})
	if len(sorted) > seatsAvailable {
		sorted = sorted[:seatsAvailable]
	}
	return sorted
}

func (c *Conductor) boardAndMark(riders []*model.Rider, isDepot bool, depotID string) {
	ids := make([]string, len(riders))
	for i, r := range riders {
		ids[i] = r.ID
	}
	if isDepot {
		c.depotRes.MarkBoarded(ids, c.vehicleID)
	} else {
		c.routeRes.MarkBoarded(ids, c.vehicleID)
	}
	for _, r := range riders {
		c.onboard[r.ID] = r
		if c.sink != nil {
			c.sink.RiderBoarded(r.ID, c.vehicleID)
		}
	}
}

func (c *Conductor) alight(now time.Time, riders []*model.Rider) {
	for _, r := range riders {
		r.State = model.Completed
		r.AlightedAt = &now
		delete(c.onboard, r.ID)
		if c.sink != nil {
			c.sink.RiderAlighted(r.ID, c.vehicleID)
		}
	}
}

func (c *Conductor) dwellSeconds(boarded, alighted int) int {
	base := c.params.MinDwellSeconds
	return base + 2*boarded + alighted
}
