// Package driver implements the per-vehicle driver actuator state machine
// (SPEC_FULL.md §4.10): DISEMBARKED -> BOARDING -> WAITING -> ONBOARD ->
// DISEMBARKING, plus a transient BREAK. The driver advances the vehicle
// along its route polyline while ONBOARD with the engine on, and broadcasts
// location on every tick once boarded, independent of engine state.
package driver

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/citytransit/simcore/internal/model"
	"github.com/citytransit/simcore/pkg/geo"
)

// LocationSink receives GPS broadcasts. Implementations should not block.
type LocationSink interface {
	VehicleLocation(vehicleID string, loc model.Location, direction model.Direction, speedKmph float64)
}

const maxEngineStartRetries = 3

// Driver is the actuator state machine for a single vehicle on a single
// route leg. A Driver instance covers one direction of travel and stays at
// the end of its leg once it gets there (the arc length is clamped); it does
// not turn around at a terminus. The simulator runs a separate Driver for
// each direction.
type Driver struct {
	mu sync.Mutex

	vehicleID string
	route     model.Route
	direction model.Direction
	cumLen    []float64

	state       model.DriverState
	arcLengthM  float64
	engineOn    bool
	speedKmph   float64
	stopUntil   time.Time
	boardingETA time.Time
	retries     int

	sink LocationSink
}

// New constructs a Driver starting DISEMBARKED at the route's origin
// endpoint for its direction.
func New(vehicleID string, route model.Route, direction model.Direction, speedKmph float64, sink LocationSink) *Driver {
	d := &Driver{
		vehicleID: vehicleID,
		route:     route,
		direction: direction,
		cumLen:    geo.PolylineLengthM(route.ShapePoints),
		state:     model.DriverDisembarked,
		speedKmph: speedKmph,
		sink:      sink,
	}
	if direction == model.Inbound {
		d.arcLengthM = route.LengthM
	}
	return d
}

// Start triggers DISEMBARKED -> BOARDING, the simulator-startup transition.
func (d *Driver) Start(now time.Time, boardingDelaySeconds int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != model.DriverDisembarked {
		return
	}
	d.state = model.DriverBoarding
	d.boardingETA = now.Add(time.Duration(boardingDelaySeconds) * time.Second)
}

// Tick advances simulation time by dt. When ONBOARD with the engine on, the
// vehicle moves along the route polyline at speedKmph. Location broadcasts
// fire once per tick in every state except DISEMBARKED.
func (d *Driver) Tick(now time.Time, dt time.Duration) {
	d.mu.Lock()

	switch d.state {
	case model.DriverBoarding:
		if !now.Before(d.boardingETA) {
			d.state = model.DriverWaiting
			d.engineOn = false
		}
	case model.DriverWaiting:
		// Remains WAITING until a DEPART signal; stopUntil is informational
		// only (the conductor decides when to depart).
	case model.DriverOnboard:
		if d.engineOn {
			d.advance(dt)
		}
	}

	state, loc, direction, speed := d.state, d.currentLocation(), d.direction, d.currentSpeedKmph()
	d.mu.Unlock()

	if state != model.DriverDisembarked && d.sink != nil {
		d.sink.VehicleLocation(d.vehicleID, loc, direction, speed)
	}
}

func (d *Driver) advance(dt time.Duration) {
	distanceM := (d.speedKmph / 3.6) * dt.Seconds()
	if d.direction == model.Outbound {
		d.arcLengthM += distanceM
		if d.arcLengthM > d.route.LengthM {
			d.arcLengthM = d.route.LengthM
		}
	} else {
		d.arcLengthM -= distanceM
		if d.arcLengthM < 0 {
			d.arcLengthM = 0
		}
	}
}

func (d *Driver) currentSpeedKmph() float64 {
	if d.state == model.DriverOnboard && d.engineOn {
		return d.speedKmph
	}
	return 0
}

func (d *Driver) currentLocation() model.Location {
	return pointAtArc(d.route, d.cumLen, d.arcLengthM)
}

func pointAtArc(route model.Route, cumLen []float64, arc float64) model.Location {
	if len(route.ShapePoints) == 0 {
		return model.Location{}
	}
	last := len(cumLen) - 1
	if arc <= 0 {
		return route.ShapePoints[0]
	}
	if arc >= cumLen[last] {
		return route.ShapePoints[last]
	}
	for i := 1; i <= last; i++ {
		if arc <= cumLen[i] {
			segLen := cumLen[i] - cumLen[i-1]
			t := 0.0
			if segLen > 0 {
				t = (arc - cumLen[i-1]) / segLen
			}
			a, b := route.ShapePoints[i-1], route.ShapePoints[i]
			return model.Location{Lat: a.Lat + t*(b.Lat-a.Lat), Lon: a.Lon + t*(b.Lon-a.Lon)}
		}
	}
	return route.ShapePoints[last]
}

// Signal applies a conductor->driver signal. STOP is valid from ONBOARD
// (engine off, GPS continues); DEPART and RESUME are valid from WAITING
// (engine on). A signal from any other state is a no-op, matching the
// idempotent-within-a-stop contract in SPEC_FULL.md §4.9. An engine-start
// failure on DEPART/RESUME is returned to the caller; on the
// maxEngineStartRetries-th consecutive failure the driver itself moves to
// DISEMBARKING (CLEANUP).
func (d *Driver) Signal(now time.Time, sig model.DriverSignal) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch sig.Kind {
	case model.SignalStop:
		if d.state != model.DriverOnboard {
			return nil
		}
		d.engineOn = false
		d.state = model.DriverWaiting
		d.stopUntil = now.Add(time.Duration(sig.DurationSeconds) * time.Second)
		return nil

	case model.SignalDepart, model.SignalResume:
		if d.state != model.DriverWaiting {
			return nil
		}
		if err := d.startEngine(); err != nil {
			d.retries++
			if d.retries >= maxEngineStartRetries {
				log.Printf("[driver:%s] engine start failed %d times, entering CLEANUP", d.vehicleID, d.retries)
				d.state = model.DriverDisembarking
			}
			return err
		}
		d.retries = 0
		d.engineOn = true
		d.state = model.DriverOnboard
		return nil

	default:
		return fmt.Errorf("driver: unknown signal kind %q", sig.Kind)
	}
}

// startEngine never fails in this in-process simulation; kept as a seam so
// a future fault-injection harness can override it without touching Signal.
func (d *Driver) startEngine() error {
	return nil
}

// State returns the current driver state.
func (d *Driver) State() model.DriverState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Location returns the vehicle's current position and travel direction.
func (d *Driver) Location() (model.Location, model.Direction) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.currentLocation(), d.direction
}

// EngineOn reports whether the engine is currently running.
func (d *Driver) EngineOn() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.engineOn
}

// Disembark ends the shift: ONBOARD -> DISEMBARKING.
func (d *Driver) Disembark() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state == model.DriverOnboard || d.state == model.DriverWaiting {
		d.state = model.DriverDisembarking
	}
}
