package refdata

import (
	"context"
	"errors"
	"testing"

	"github.com/citytransit/simcore/internal/model"
)

type fakeStore struct {
	routes  []model.Route
	depots  []model.Depot
	failErr error
}

func (f *fakeStore) FetchRoutes(ctx context.Context) ([]model.Route, error) {
	if f.failErr != nil {
		return nil, f.failErr
	}
	return f.routes, nil
}

func (f *fakeStore) FetchDepots(ctx context.Context) ([]model.Depot, error) {
	if f.failErr != nil {
		return nil, f.failErr
	}
	return f.depots, nil
}

func TestReload_PublishesConnectivityComputedSnapshot(t *testing.T) {
	store := &fakeStore{
		routes: []model.Route{{ID: "1A", ShapePoints: []model.Location{{Lat: 13.25, Lon: -59.64}, {Lat: 13.30, Lon: -59.63}}}},
		depots: []model.Depot{{ID: "speightstown", Location: model.Location{Lat: 13.2505, Lon: -59.6405}}},
	}
	c := New(store, 500)

	if err := c.Reload(context.Background()); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if len(c.Routes()) != 1 || len(c.Depots()) != 1 {
		t.Fatalf("expected 1 route and 1 depot, got %d/%d", len(c.Routes()), len(c.Depots()))
	}
	if len(c.Routes()[0].ConnectedDepotIDs) != 1 {
		t.Fatalf("expected the depot to be connected, got %v", c.Routes()[0].ConnectedDepotIDs)
	}
}

func TestReload_FailureRetainsPreviousSnapshot(t *testing.T) {
	good := &fakeStore{routes: []model.Route{{ID: "1A"}}, depots: []model.Depot{{ID: "d1"}}}
	c := New(good, 500)
	if err := c.Reload(context.Background()); err != nil {
		t.Fatalf("Reload: %v", err)
	}

	c.store = &fakeStore{failErr: errors.New("geostore unavailable")}
	if err := c.Reload(context.Background()); err == nil {
		t.Fatal("expected Reload to surface the fetch error")
	}
	if len(c.Routes()) != 1 {
		t.Fatalf("expected stale snapshot retained, got %d routes", len(c.Routes()))
	}
}
