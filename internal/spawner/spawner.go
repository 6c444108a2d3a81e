// Package spawner implements the Poisson spawner (SPEC_FULL.md §4.3): the
// component that turns route/depot activity and local zone demand into a
// batch of feasible, route-anchored SpawnRequests once per spawn tick.
package spawner

import (
	"log"
	"math"
	"math/rand"

	"github.com/citytransit/simcore/internal/model"
	"github.com/citytransit/simcore/internal/zonecache"
	"github.com/citytransit/simcore/pkg/geo"
)

// ZoneCache is the subset of *zonecache.Cache the spawner depends on.
type ZoneCache interface {
	ZonesNear(point model.Location, radiusM float64) []model.Zone
}

var _ ZoneCache = (*zonecache.Cache)(nil)

// DemandSmoother supplies a short-term smoothing adjustment for the local
// demand multiplier (SPEC_FULL.md §10's demand-cache). A nil smoother, or one
// that returns ok=false, falls back to the raw zone-cache computation.
type DemandSmoother interface {
	Smoothed(cellKey string, raw float64) (smoothed float64, ok bool)
}

// Params holds the spawner's tunable knobs (mirrors config.SpawnerConfig,
// kept as its own type so this package never imports the config package).
type Params struct {
	BaseRatePerHourPerRoute float64
	TripLengthMuM           float64
	TripLengthSigma         float64
	DepotConnectivityM      float64
	SnapToleranceM          float64
	TimePatternRoute        [24]float64
	TimePatternDepot        [24]float64
	DemandBufferM           float64 // radius used for zones_near(R)/zones_near(D)
}

// Spawner draws SpawnRequests from route/depot activity and local zone demand.
type Spawner struct {
	cache    ZoneCache
	params   Params
	smoother DemandSmoother
}

// New constructs a Spawner. smoother may be nil.
func New(cache ZoneCache, params Params, smoother DemandSmoother) *Spawner {
	return &Spawner{cache: cache, params: params, smoother: smoother}
}

// Generate implements the generate(now, window) -> []SpawnRequest contract.
// It is pure with respect to the zone cache and config, and random only
// through rng, which callers seed for determinism in tests.
func (s *Spawner) Generate(rng *rand.Rand, now int, windowSeconds int, routes []model.Route, depots []model.Depot) []model.SpawnRequest {
	if len(routes) == 0 {
		return nil
	}
	windowHours := float64(windowSeconds) / 3600.0
	hour := ((now % 86400) + 86400) % 86400 / 3600

	var out []model.SpawnRequest

	for _, route := range routes {
		out = append(out, s.spawnForRoute(rng, hour, windowHours, route)...)
	}

	routesByID := make(map[string]model.Route, len(routes))
	for _, r := range routes {
		routesByID[r.ID] = r
	}
	for _, depot := range depots {
		for _, routeID := range depot.ConnectedRoutes {
			route, ok := routesByID[routeID]
			if !ok {
				continue
			}
			out = append(out, s.spawnForDepot(rng, hour, windowHours, depot, route)...)
		}
	}

	return out
}

func (s *Spawner) timeMultiplier(pattern [24]float64, hour int) float64 {
	m := pattern[hour%24]
	if m < 0 || math.IsNaN(m) {
		log.Printf("[spawner] invalid time-pattern multiplier %v at hour %d, falling back to 1.0", m, hour)
		return 1.0
	}
	return m
}

// localDemand averages base_weight x time_multiplier(now) over zones within
// DemandBufferM of point, per SPEC_FULL.md's demand(zones_near(.)) term. An
// empty zone set yields a neutral multiplier of 1.0 rather than starving the
// route entirely.
func (s *Spawner) localDemand(point model.Location, hour int, smoothKey string) float64 {
	zones := s.cache.ZonesNear(point, s.params.DemandBufferM)
	if len(zones) == 0 {
		return 1.0
	}
	sum := 0.0
	for _, z := range zones {
		sum += z.BaseWeight * z.TimeMultiplier[hour%24]
	}
	raw := sum / float64(len(zones))

	if s.smoother != nil {
		if smoothed, ok := s.smoother.Smoothed(smoothKey, raw); ok {
			return smoothed
		}
	}
	return raw
}

func (s *Spawner) spawnForRoute(rng *rand.Rand, hour int, windowHours float64, route model.Route) []model.SpawnRequest {
	if len(route.ShapePoints) < 2 {
		return nil
	}
	mid := route.ShapePoints[len(route.ShapePoints)/2]
	demand := s.localDemand(mid, hour, "route:"+route.ID)
	lambda := s.params.BaseRatePerHourPerRoute * route.ActivityLevel *
		s.timeMultiplier(s.params.TimePatternRoute, hour) * demand

	n := poisson(rng, lambda*windowHours)
	if n == 0 {
		return nil
	}

	zones := s.cache.ZonesNear(mid, s.params.DemandBufferM)
	if len(zones) == 0 {
		return nil
	}

	out := make([]model.SpawnRequest, 0, n)
	for i := 0; i < n; i++ {
		zone := weightedZoneChoice(rng, zones, hour)
		if zone == nil {
			continue
		}
		req, ok := s.spawnFromZone(rng, route, zone)
		if !ok {
			continue
		}
		out = append(out, req)
	}
	return out
}

func (s *Spawner) spawnFromZone(rng *rand.Rand, route model.Route, zone *model.Zone) (model.SpawnRequest, bool) {
	interior, ok := randomPointInZone(rng, zone)
	if !ok {
		return model.SpawnRequest{}, false
	}

	cumLen := geo.PolylineLengthM(route.ShapePoints)
	originSnap := geo.SnapToPolyline(interior, route.ShapePoints, cumLen)
	destArc := sampleTripLengthArc(rng, originSnap.DistanceAlong, route.LengthM, s.params.TripLengthMuM, s.params.TripLengthSigma)
	destPoint := pointAtArcLength(route, cumLen, destArc)

	if math.Abs(destArc-originSnap.DistanceAlong) > 1.2*route.LengthM {
		log.Printf("[spawner] rejected route %s spawn: trip length exceeds 1.2x route length", route.ID)
		return model.SpawnRequest{}, false
	}

	direction := model.Outbound
	if destArc < originSnap.DistanceAlong {
		direction = model.Inbound
	}

	return model.SpawnRequest{
		Origin:      originSnap.Point,
		Destination: destPoint,
		RouteID:     route.ID,
		Direction:   direction,
		Source:      model.SpawnSource{Kind: model.SourceRoute, ZoneID: zone.ID},
	}, true
}

func (s *Spawner) spawnForDepot(rng *rand.Rand, hour int, windowHours float64, depot model.Depot, route model.Route) []model.SpawnRequest {
	if len(route.ShapePoints) < 2 {
		return nil
	}
	if !depotConnected(depot, route, s.params.DepotConnectivityM) {
		return nil
	}

	demand := s.localDemand(depot.Location, hour, "depot:"+depot.ID)
	lambda := s.params.BaseRatePerHourPerRoute * depot.ActivityLevel *
		s.timeMultiplier(s.params.TimePatternDepot, hour) * demand

	n := poisson(rng, lambda*windowHours)
	if n == 0 {
		return nil
	}

	cumLen := geo.PolylineLengthM(route.ShapePoints)
	originSnap := geo.SnapToPolyline(depot.Location, route.ShapePoints, cumLen)

	out := make([]model.SpawnRequest, 0, n)
	for i := 0; i < n; i++ {
		destArc := originSnap.DistanceAlong + sampleLogNormalM(rng, s.params.TripLengthMuM, s.params.TripLengthSigma)
		if destArc > route.LengthM {
			destArc = route.LengthM
		}
		destPoint := pointAtArcLength(route, cumLen, destArc)

		out = append(out, model.SpawnRequest{
			Origin:      originSnap.Point,
			Destination: destPoint,
			RouteID:     route.ID,
			Direction:   model.Outbound,
			Source:      model.SpawnSource{Kind: model.SourceDepot, DepotID: depot.ID},
		})
	}
	return out
}

// depotConnected reports whether at least one endpoint of route's polyline
// lies within thresholdM of depot — SPEC_FULL.md §4.3's depot connectivity
// filter, the fix for distant depots spawning against unrelated routes.
func depotConnected(depot model.Depot, route model.Route, thresholdM float64) bool {
	if len(route.ShapePoints) == 0 {
		return false
	}
	first := route.ShapePoints[0]
	last := route.ShapePoints[len(route.ShapePoints)-1]
	return geo.HaversineM(depot.Location, first) <= thresholdM ||
		geo.HaversineM(depot.Location, last) <= thresholdM
}

// ComputeConnectivity populates ConnectedRoutes/ConnectedDepotIDs on the
// given depots and routes according to depotConnected, mutating in place.
// Callers run this once per reference-data reload, not per spawn tick.
func ComputeConnectivity(routes []model.Route, depots []model.Depot, thresholdM float64) ([]model.Route, []model.Depot) {
	for ri := range routes {
		routes[ri].ConnectedDepotIDs = routes[ri].ConnectedDepotIDs[:0]
	}
	for di := range depots {
		depots[di].ConnectedRoutes = depots[di].ConnectedRoutes[:0]
		for ri := range routes {
			if depotConnected(depots[di], routes[ri], thresholdM) {
				depots[di].ConnectedRoutes = append(depots[di].ConnectedRoutes, routes[ri].ID)
				routes[ri].ConnectedDepotIDs = append(routes[ri].ConnectedDepotIDs, depots[di].ID)
			}
		}
	}
	return routes, depots
}

// pointAtArcLength interpolates the point on route's polyline at cumulative
// arc-length arc (clamped to [0, route.LengthM]).
func pointAtArcLength(route model.Route, cumLen []float64, arc float64) model.Location {
	if arc <= 0 {
		return route.ShapePoints[0]
	}
	last := len(cumLen) - 1
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
			return model.Location{
				Lat: a.Lat + t*(b.Lat-a.Lat),
				Lon: a.Lon + t*(b.Lon-a.Lon),
			}
		}
	}
	return route.ShapePoints[last]
}

// sampleTripLengthArc draws a destination arc-length away from originArc by
// a log-normal trip length, clamped into [0.05,1.0] x routeLength and into
// the route's own bounds, with a randomly chosen direction along the route.
func sampleTripLengthArc(rng *rand.Rand, originArc, routeLengthM, muM, sigma float64) float64 {
	tripM := sampleLogNormalM(rng, muM, sigma)
	minTrip := 0.05 * routeLengthM
	maxTrip := 1.0 * routeLengthM
	if tripM < minTrip {
		tripM = minTrip
	} else if tripM > maxTrip {
		tripM = maxTrip
	}

	forward := originArc + tripM
	backward := originArc - tripM
	switch {
	case forward <= routeLengthM && backward >= 0:
		if rng.Float64() < 0.5 {
			return forward
		}
		return backward
	case forward <= routeLengthM:
		return forward
	case backward >= 0:
		return backward
	default:
		if forward-routeLengthM < -backward {
			return routeLengthM
		}
		return 0
	}
}

func sampleLogNormalM(rng *rand.Rand, muM, sigma float64) float64 {
	return math.Exp(muM + sigma*rng.NormFloat64())
}

// randomPointInZone samples a point inside zone's polygon by rejection
// sampling within its bounding box, falling back to the centroid after
// maxAttempts misses (thin or concave zones).
func randomPointInZone(rng *rand.Rand, zone *model.Zone) (model.Location, bool) {
	if len(zone.Ring) < 3 {
		return model.Location{}, false
	}
	const maxAttempts = 20
	bbox := zone.BBox
	if bbox.MaxLat <= bbox.MinLat || bbox.MaxLon <= bbox.MinLon {
		return zone.Centroid, true
	}
	for attempt := 0; attempt < maxAttempts; attempt++ {
		p := model.Location{
			Lat: bbox.MinLat + rng.Float64()*(bbox.MaxLat-bbox.MinLat),
			Lon: bbox.MinLon + rng.Float64()*(bbox.MaxLon-bbox.MinLon),
		}
		if geo.PointInPolygon(p, zone.Ring) {
			return p, true
		}
	}
	return zone.Centroid, true
}

// weightedZoneChoice picks a zone by cumulative weight sum: weight =
// base_weight x time_multiplier(now). Zones with non-positive weight are
// excluded from the draw.
func weightedZoneChoice(rng *rand.Rand, zones []model.Zone, hour int) *model.Zone {
	weights := make([]float64, len(zones))
	sum := 0.0
	for i, z := range zones {
		w := z.BaseWeight * z.TimeMultiplier[hour%24]
		if w < 0 {
			w = 0
		}
		weights[i] = w
		sum += w
	}
	if sum <= 0 {
		return nil
	}

	r := rng.Float64() * sum
	cum := 0.0
	for i, w := range weights {
		cum += w
		if r <= cum {
			return &zones[i]
		}
	}
	return &zones[len(zones)-1]
}

// poisson draws a sample from Poisson(mean): Knuth's product-of-uniforms
// algorithm for mean <= 30, a normal approximation above that for
// performance. Negative or zero mean yields 0.
func poisson(rng *rand.Rand, mean float64) int {
	if mean <= 0 {
		return 0
	}
	if mean > 30 {
		std := math.Sqrt(mean)
		val := int(math.Round(mean + std*rng.NormFloat64()))
		if val < 0 {
			return 0
		}
		return val
	}

	l := math.Exp(-mean)
	k := 0
	p := 1.0
	for p > l {
		k++
		p *= rng.Float64()
	}
	return k - 1
}
