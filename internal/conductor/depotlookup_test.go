package conductor

import (
	"testing"

	"github.com/citytransit/simcore/internal/model"
)

func TestStaticDepotLookup_ReturnsNearestOfMultipleConnectedDepots(t *testing.T) {
	routes := []model.Route{
		{ID: "1A", ConnectedDepotIDs: []string{"far", "near"}},
	}
	depots := []model.Depot{
		{ID: "far", Location: model.Location{Lat: 13.40, Lon: -59.60}},
		{ID: "near", Location: model.Location{Lat: 13.251, Lon: -59.643}},
	}
	l := NewStaticDepotLookup(routes, depots)

	id, _, ok := l.NearestConnectedDepot("1A", model.Location{Lat: 13.2521, Lon: -59.6425})
	if !ok {
		t.Fatal("expected a connected depot to be found")
	}
	if id != "near" {
		t.Fatalf("nearest depot = %q, want %q", id, "near")
	}
}

func TestStaticDepotLookup_UnknownRouteReturnsNotOK(t *testing.T) {
	l := NewStaticDepotLookup(nil, nil)
	_, _, ok := l.NearestConnectedDepot("missing", model.Location{})
	if ok {
		t.Fatal("expected ok=false for an unknown route")
	}
}

func TestStaticDepotLookup_RouteWithNoConnectedDepotsReturnsNotOK(t *testing.T) {
	routes := []model.Route{{ID: "2B"}}
	l := NewStaticDepotLookup(routes, nil)
	_, _, ok := l.NearestConnectedDepot("2B", model.Location{})
	if ok {
		t.Fatal("expected ok=false when a route has no connected depots")
	}
}
