// Package model contains the domain types shared by every core subsystem:
// the spawner, the two reservoirs, and the conductor/driver state machines.
// Nothing in this package performs I/O.
package model

import "time"

// ─── Enums ──────────────────────────────────────────────────

// Direction is relative to a route's forward traversal (first shape point to last).
type Direction string

const (
	Outbound Direction = "OUTBOUND"
	Inbound  Direction = "INBOUND"
)

// Opposite returns the other direction.
func (d Direction) Opposite() Direction {
	if d == Outbound {
		return Inbound
	}
	return Outbound
}

// RiderState is the lifecycle stage of a Rider. Transitions are monotonic:
// WAITING -> BOARDED -> COMPLETED, or WAITING -> EXPIRED, or WAITING -> REJECTED.
type RiderState string

const (
	Waiting   RiderState = "WAITING"
	Boarded   RiderState = "BOARDED"
	Completed RiderState = "COMPLETED"
	Expired   RiderState = "EXPIRED"
	Rejected  RiderState = "REJECTED"
)

// SpawnSourceKind distinguishes a rider generated at a depot from one generated
// along a route via a zone/POI.
type SpawnSourceKind string

const (
	SourceDepot SpawnSourceKind = "DEPOT"
	SourceRoute SpawnSourceKind = "ROUTE"
)

// ZoneType is the landuse classification of a Zone polygon.
type ZoneType string

const (
	ZoneResidential ZoneType = "residential"
	ZoneCommercial  ZoneType = "commercial"
	ZoneIndustrial  ZoneType = "industrial"
	ZoneFarmland    ZoneType = "farmland"
	ZoneGrass       ZoneType = "grass"
	ZoneEducational ZoneType = "educational"
	ZoneOther       ZoneType = "other"
)

// POICategory modulates local demand independently of zone weighting.
type POICategory string

const (
	POITransport POICategory = "transport"
	POIRetail    POICategory = "retail"
	POIFood      POICategory = "food"
	POIHealth    POICategory = "health"
	POIEducation POICategory = "education"
	POICivic     POICategory = "civic"
)

// ConductorState is the per-vehicle conductor's cooperative-loop state.
type ConductorState string

const (
	ConductorIdle            ConductorState = "IDLE"
	ConductorMonitoring      ConductorState = "MONITORING"
	ConductorBoarding        ConductorState = "BOARDING"
	ConductorEnRoute         ConductorState = "EN_ROUTE"
	ConductorApproachingStop ConductorState = "APPROACHING_STOP"
	ConductorStopped         ConductorState = "STOPPED"
	ConductorFullExpress     ConductorState = "FULL_EXPRESS"
	ConductorCleanup         ConductorState = "CLEANUP"
)

// DriverState is the per-vehicle driver actuator's state machine state.
type DriverState string

const (
	DriverDisembarked  DriverState = "DISEMBARKED"
	DriverBoarding     DriverState = "BOARDING"
	DriverWaiting      DriverState = "WAITING"
	DriverOnboard      DriverState = "ONBOARD"
	DriverDisembarking DriverState = "DISEMBARKING"
	DriverBreak        DriverState = "BREAK"
)

// DriverSignalKind is one of the three signals a conductor may send its driver.
type DriverSignalKind string

const (
	SignalStop    DriverSignalKind = "STOP"
	SignalDepart  DriverSignalKind = "DEPART"
	SignalResume  DriverSignalKind = "RESUME"
)

// DriverSignal is the payload of a conductor -> driver signal.
type DriverSignal struct {
	Kind            DriverSignalKind
	DurationSeconds int
}

// ─── Location ───────────────────────────────────────────────

// Location is a WGS-84 geographic point. It is the single internal shape for
// coordinates; every boundary (REST decode, config) normalizes into this type.
type Location struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// BoundingBox is an axis-aligned lat/lon rectangle, inclusive on all edges.
type BoundingBox struct {
	MinLat, MinLon, MaxLat, MaxLon float64
}

// ─── Spatial reference data ─────────────────────────────────

// Route is the single source of truth for a line's geometry: an ordered
// polyline with a cumulative arc-length table.
type Route struct {
	ID                string
	Code              string
	ShapePoints       []Location
	CumulativeLengthM []float64 // len == len(ShapePoints); CumulativeLengthM[0] == 0
	LengthM           float64
	ActivityLevel     float64 // 0.5-2.0
	ConnectedDepotIDs []string
}

// Depot is a terminus or hub.
type Depot struct {
	ID            string
	Name          string
	Location      Location
	ActivityLevel float64
	ConnectedRoutes []string
}

// Zone is a landuse polygon. Ring is a single closed GeoJSON-style ring
// (lon,lat order is normalized away at decode time into Location).
type Zone struct {
	ID             string
	Type           ZoneType
	Ring           []Location
	Centroid       Location
	BBox           BoundingBox
	BaseWeight     float64
	TimeMultiplier [24]float64
}

// DefaultZoneTimeMultiplier returns the canonical hourly demand-multiplier
// vector for a zone type. The geographic data store does not carry
// per-zone multiplier curves (only base_weight, per SPEC_FULL.md §6.1); the
// core applies one of these archetypes keyed by zone type, consistent with
// the spec's own distinction between a sharp residential morning peak and a
// flatter, lunch-bumped commercial curve.
func DefaultZoneTimeMultiplier(t ZoneType) [24]float64 {
	switch t {
	case ZoneResidential:
		return [24]float64{
			0.3, 0.2, 0.15, 0.15, 0.3, 0.8, 1.5, 1.8, 1.2, 0.7, 0.6, 0.6,
			0.7, 0.6, 0.6, 0.7, 0.9, 1.3, 1.6, 1.3, 0.9, 0.6, 0.4, 0.3,
		}
	case ZoneCommercial:
		return [24]float64{
			0.1, 0.05, 0.05, 0.05, 0.1, 0.3, 0.7, 1.1, 1.4, 1.3, 1.2, 1.4,
			1.6, 1.4, 1.2, 1.1, 1.2, 1.4, 1.2, 0.8, 0.5, 0.3, 0.2, 0.1,
		}
	case ZoneIndustrial:
		return [24]float64{
			0.1, 0.1, 0.1, 0.1, 0.3, 0.9, 1.5, 1.6, 1.2, 1.0, 1.0, 1.0,
			1.0, 1.0, 1.0, 1.0, 1.1, 1.4, 1.3, 0.6, 0.3, 0.2, 0.1, 0.1,
		}
	case ZoneEducational:
		return [24]float64{
			0.1, 0.1, 0.1, 0.1, 0.2, 0.6, 1.2, 1.7, 1.5, 0.9, 0.8, 1.0,
			1.2, 1.0, 0.9, 1.3, 1.6, 1.1, 0.5, 0.3, 0.2, 0.1, 0.1, 0.1,
		}
	default:
		var flat [24]float64
		for i := range flat {
			flat[i] = 1.0
		}
		return flat
	}
}

// POI is a point of interest used to modulate local demand.
type POI struct {
	ID              string
	Location        Location
	Category        POICategory
	AttractionFactor float64
}

// ─── Rider ──────────────────────────────────────────────────

// Home identifies which reservoir owns a rider and its key within it. Exactly
// one of DepotID or (GridCell set) is populated, matching the union in the
// data model: a rider lives either in the depot reservoir or the route
// reservoir, never both.
type Home struct {
	DepotID   string // non-empty iff the rider lives in the depot reservoir
	RouteID   string
	Direction Direction
	GridCell  GridCell // valid iff DepotID == ""
}

// IsDepotHome reports whether this Home resolves to the depot reservoir.
func (h Home) IsDepotHome() bool {
	return h.DepotID != ""
}

// GridCell is a degree-aligned square index used by the route reservoir.
type GridCell struct {
	Row, Col int64
}

// Rider represents one passenger journey from origin to destination on a
// single route.
type Rider struct {
	ID                  string
	Origin              Location
	Destination         Location
	RouteID             string
	Direction           Direction
	State               RiderState
	SpawnedAt           time.Time
	BoardedAt           *time.Time
	AlightedAt          *time.Time
	VehicleID           string
	MaxWalkingDistanceM float64
	MaxWaitTime         time.Duration
	Priority            float64
	Home                Home
}

// ─── Spawn requests ─────────────────────────────────────────

// SpawnSource identifies why a SpawnRequest was generated.
type SpawnSource struct {
	Kind    SpawnSourceKind
	DepotID string // populated iff Kind == SourceDepot
	ZoneID  string // populated iff Kind == SourceRoute and a zone chose the origin
	POIID   string // populated iff Kind == SourceRoute and a POI chose the origin
}

// SpawnRequest is the spawner's sole output: a feasible, route-anchored trip
// proposal. It does not yet have an id, state, or ttl — those are assigned by
// the spawn coordinator when it materializes a Rider.
type SpawnRequest struct {
	Origin      Location
	Destination Location
	RouteID     string
	Direction   Direction
	Source      SpawnSource
}
