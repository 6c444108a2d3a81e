// Package eventrelay bridges the in-process lifecycle callbacks the
// reservoirs, conductors, and spawn coordinator invoke directly
// (depotreservoir.EventSink, routereservoir.EventSink, conductor.EventSink,
// coordinator.EventSink) onto the event bus's "vehicle" and "route"
// channels, so out-of-process observers (the archive subscriber, any
// future dashboard) see the same rider lifecycle the simulation core does.
//
// The reservoirs' RiderBoarded carries a boarding timestamp; the
// conductor's does not — two interfaces with the same method name but
// different arity, so one Go type cannot satisfy both at once. Relay holds
// the shared publish logic; ReservoirSink, ConductorSink, and
// CoordinatorSink are thin typed views over it, one per caller's EventSink
// shape.
package eventrelay

import (
	"context"
	"log"
	"time"

	"github.com/citytransit/simcore/internal/eventbus"
	"github.com/citytransit/simcore/internal/model"
)

const (
	MsgRiderBoarded   = "rider:boarded"
	MsgRiderAlighted  = "rider:alighted"
	MsgRiderExpired   = "rider:expired"
	MsgRiderRejected  = "rider:rejected"
	MsgRiderSpawned   = "rider:spawned"
	MsgDriverLocation = "driver:location"
)

// Relay publishes rider lifecycle events onto a Bus. It is safe for
// concurrent use by multiple reservoirs/conductors since Bus.Publish is.
type Relay struct {
	bus *eventbus.Bus
	ctx context.Context
}

// New constructs a Relay publishing through bus. The supplied ctx bounds
// every publish call made through the returned Relay's sink views — the
// EventSink interfaces it ultimately satisfies carry no context parameter
// of their own.
func New(ctx context.Context, bus *eventbus.Bus) *Relay {
	return &Relay{bus: bus, ctx: ctx}
}

// Reservoirs returns a view satisfying depotreservoir.EventSink and
// routereservoir.EventSink.
func (r *Relay) Reservoirs() ReservoirSink { return ReservoirSink{r} }

// Conductor returns a view satisfying conductor.EventSink.
func (r *Relay) Conductor() ConductorSink { return ConductorSink{r} }

// Coordinator returns a view satisfying coordinator.EventSink.
func (r *Relay) Coordinator() CoordinatorSink { return CoordinatorSink{r} }

// Locations returns a view satisfying driver.LocationSink.
func (r *Relay) Locations() LocationSink { return LocationSink{r} }

type riderBoardedEvent struct {
	RiderID   string    `json:"rider_id"`
	VehicleID string    `json:"vehicle_id"`
	At        time.Time `json:"at"`
}

type riderAlightedEvent struct {
	RiderID   string `json:"rider_id"`
	VehicleID string `json:"vehicle_id"`
}

type riderExpiredEvent struct {
	RiderID string `json:"rider_id"`
	Reason  string `json:"reason"`
}

type riderRejectedEvent struct {
	RiderID string `json:"rider_id"`
	Reason  string `json:"reason"`
}

type riderSpawnedEvent struct {
	RiderID     string          `json:"rider_id"`
	RouteID     string          `json:"route_id"`
	Direction   model.Direction `json:"direction"`
	Origin      model.Location  `json:"origin"`
	Destination model.Location  `json:"destination"`
	SpawnedAt   time.Time       `json:"spawned_at"`
}

// ReservoirSink implements depotreservoir.EventSink and routereservoir.EventSink.
type ReservoirSink struct{ r *Relay }

func (s ReservoirSink) RiderBoarded(riderID, vehicleID string, at time.Time) {
	s.r.publish(eventbus.ChannelVehicle, MsgRiderBoarded, riderBoardedEvent{
		RiderID: riderID, VehicleID: vehicleID, At: at,
	})
}

func (s ReservoirSink) RiderExpired(riderID, reason string) {
	s.r.publish(eventbus.ChannelRoute, MsgRiderExpired, riderExpiredEvent{
		RiderID: riderID, Reason: reason,
	})
}

// ConductorSink implements conductor.EventSink.
type ConductorSink struct{ r *Relay }

func (s ConductorSink) RiderBoarded(riderID, vehicleID string) {
	s.r.publish(eventbus.ChannelVehicle, MsgRiderBoarded, riderAlightedEvent{
		RiderID: riderID, VehicleID: vehicleID,
	})
}

func (s ConductorSink) RiderAlighted(riderID, vehicleID string) {
	s.r.publish(eventbus.ChannelVehicle, MsgRiderAlighted, riderAlightedEvent{
		RiderID: riderID, VehicleID: vehicleID,
	})
}

func (s ConductorSink) RiderRejected(riderID, reason string) {
	s.r.publish(eventbus.ChannelVehicle, MsgRiderRejected, riderRejectedEvent{
		RiderID: riderID, Reason: reason,
	})
}

// CoordinatorSink implements coordinator.EventSink.
type CoordinatorSink struct{ r *Relay }

func (s CoordinatorSink) RiderSpawned(rider *model.Rider) {
	s.r.publish(eventbus.ChannelRoute, MsgRiderSpawned, riderSpawnedEvent{
		RiderID:     rider.ID,
		RouteID:     rider.RouteID,
		Direction:   rider.Direction,
		Origin:      rider.Origin,
		Destination: rider.Destination,
		SpawnedAt:   rider.SpawnedAt,
	})
}

type driverLocationEvent struct {
	VehicleID string          `json:"vehicle_id"`
	Lat       float64         `json:"lat"`
	Lon       float64         `json:"lon"`
	Direction model.Direction `json:"direction"`
	SpeedKmph float64         `json:"speed"`
}

// LocationSink implements driver.LocationSink.
type LocationSink struct{ r *Relay }

func (s LocationSink) VehicleLocation(vehicleID string, loc model.Location, direction model.Direction, speedKmph float64) {
	s.r.publish(eventbus.ChannelVehicle, MsgDriverLocation, driverLocationEvent{
		VehicleID: vehicleID,
		Lat:       loc.Lat,
		Lon:       loc.Lon,
		Direction: direction,
		SpeedKmph: speedKmph,
	})
}

func (r *Relay) publish(ch eventbus.Channel, msgType string, data any) {
	if err := r.bus.Publish(r.ctx, ch, msgType, data); err != nil {
		log.Printf("[eventrelay] publish %s on %s failed: %v", msgType, ch, err)
	}
}
