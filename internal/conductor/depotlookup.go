package conductor

import (
	"github.com/citytransit/simcore/internal/model"
	"github.com/citytransit/simcore/pkg/geo"
)

// StaticDepotLookup answers NearestConnectedDepot from a fixed reference-data
// snapshot (routes and depots rarely change mid-simulation, unlike zones).
// Route.ConnectedDepotIDs is populated by spawner.ComputeConnectivity at
// startup and reused here rather than recomputed.
type StaticDepotLookup struct {
	depotsByID map[string]model.Depot
	routes     map[string]model.Route
}

// NewStaticDepotLookup indexes routes and depots by id.
func NewStaticDepotLookup(routes []model.Route, depots []model.Depot) *StaticDepotLookup {
	l := &StaticDepotLookup{
		depotsByID: make(map[string]model.Depot, len(depots)),
		routes:     make(map[string]model.Route, len(routes)),
	}
	for _, d := range depots {
		l.depotsByID[d.ID] = d
	}
	for _, r := range routes {
		l.routes[r.ID] = r
	}
	return l
}

// NearestConnectedDepot returns the closest depot connected to routeID, and
// whether any connected depot exists at all.
func (l *StaticDepotLookup) NearestConnectedDepot(routeID string, loc model.Location) (string, float64, bool) {
	route, ok := l.routes[routeID]
	if !ok || len(route.ConnectedDepotIDs) == 0 {
		return "", 0, false
	}

	bestID := ""
	bestDist := 0.0
	found := false
	for _, depotID := range route.ConnectedDepotIDs {
		depot, ok := l.depotsByID[depotID]
		if !ok {
			continue
		}
		dist := geo.HaversineM(depot.Location, loc)
		if !found || dist < bestDist {
			bestID, bestDist, found = depot.ID, dist, true
		}
	}
	return bestID, bestDist, found
}
