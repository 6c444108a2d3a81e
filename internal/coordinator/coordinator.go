// Package coordinator implements the spawn coordinator (SPEC_FULL.md §4.8):
// it owns the spawner's cadence, materializes SpawnRequests into Riders, and
// dispatches each to the reservoir its source names.
package coordinator

import (
	"context"
	"log"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/citytransit/simcore/internal/model"
	"github.com/citytransit/simcore/pkg/geo"
)

// Spawner is the subset of *spawner.Spawner the coordinator depends on.
type Spawner interface {
	Generate(rng *rand.Rand, nowSeconds int, windowSeconds int, routes []model.Route, depots []model.Depot) []model.SpawnRequest
}

// ReservoirSink is satisfied by both *depotreservoir.Reservoir and
// *routereservoir.Reservoir: the coordinator doesn't care which kind of
// reservoir it's handing a rider to, only that addRider is O(1) and safe
// for concurrent use.
type ReservoirSink interface {
	AddRider(r *model.Rider)
}

// ReferenceData supplies the coordinator's view of the currently active
// route and depot set, re-read on every tick so a reference-data reload
// takes effect without restarting the coordinator.
type ReferenceData interface {
	Routes() []model.Route
	Depots() []model.Depot
}

// EventSink receives the rider:spawned notification for the event bus.
type EventSink interface {
	RiderSpawned(rider *model.Rider)
}

// Params holds the rider-lifecycle defaults applied to every materialized Rider.
type Params struct {
	TickInterval        time.Duration
	DefaultTTL          time.Duration
	DefaultWalkingDistM float64
	GridCellDegrees     float64 // must match the route reservoir's own grid_cell_degrees
}

// Coordinator owns the spawner's cadence and turns its output into Riders.
type Coordinator struct {
	spawner    Spawner
	refData    ReferenceData
	depotRes   ReservoirSink
	routeRes   ReservoirSink
	sink       EventSink
	rng        *rand.Rand
	params     Params
}

// New constructs a Coordinator. rng should be a dedicated *rand.Rand (not
// shared with other goroutines) — the spawner is not itself safe for
// concurrent Generate calls from multiple tickers.
func New(sp Spawner, refData ReferenceData, depotRes, routeRes ReservoirSink, sink EventSink, rng *rand.Rand, params Params) *Coordinator {
	return &Coordinator{
		spawner:  sp,
		refData:  refData,
		depotRes: depotRes,
		routeRes: routeRes,
		sink:     sink,
		rng:      rng,
		params:   params,
	}
}

// Run ticks every params.TickInterval until ctx is cancelled, calling Tick
// on each fire.
func (c *Coordinator) Run(ctx context.Context) {
	ticker := time.NewTicker(c.params.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[spawn-coordinator] shutting down")
			return
		case now := <-ticker.C:
			c.Tick(now)
		}
	}
}

// Tick performs one spawn round: generate() against the current reference
// data, materialize each SpawnRequest into a Rider, and dispatch it to the
// reservoir named by its source.
func (c *Coordinator) Tick(now time.Time) int {
	routes := c.refData.Routes()
	depots := c.refData.Depots()
	if len(routes) == 0 {
		return 0
	}

	secondsOfDay := now.Hour()*3600 + now.Minute()*60 + now.Second()
	windowSeconds := int(c.params.TickInterval.Seconds())
	if windowSeconds <= 0 {
		windowSeconds = 30
	}

	reqs := c.spawner.Generate(c.rng, secondsOfDay, windowSeconds, routes, depots)
	spawned := 0
	for _, req := range reqs {
		rider := c.materialize(req, now)
		c.dispatch(rider)
		if c.sink != nil {
			c.sink.RiderSpawned(rider)
		}
		spawned++
	}
	return spawned
}

func (c *Coordinator) materialize(req model.SpawnRequest, now time.Time) *model.Rider {
	home := model.Home{RouteID: req.RouteID, Direction: req.Direction}
	if req.Source.Kind == model.SourceDepot {
		home.DepotID = req.Source.DepotID
	} else {
		home.GridCell = geo.GridCellOf(req.Origin, c.params.GridCellDegrees)
	}

	return &model.Rider{
		ID:                  uuid.NewString(),
		Origin:              req.Origin,
		Destination:         req.Destination,
		RouteID:             req.RouteID,
		Direction:           req.Direction,
		State:               model.Waiting,
		SpawnedAt:           now,
		MaxWalkingDistanceM: c.params.DefaultWalkingDistM,
		MaxWaitTime:         c.params.DefaultTTL,
		Home:                home,
	}
}

func (c *Coordinator) dispatch(rider *model.Rider) {
	if rider.Home.IsDepotHome() {
		c.depotRes.AddRider(rider)
		return
	}
	c.routeRes.AddRider(rider)
}
