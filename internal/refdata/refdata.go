// Package refdata holds the active route and depot set the rest of the
// core reads on every tick: the spawn coordinator's ReferenceData, the
// zone cache's active-route buffer, and the conductor's depot lookup all
// key off the same snapshot. Same RCU shape as internal/zonecache — readers
// never block a concurrent reload.
package refdata

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"

	"github.com/citytransit/simcore/internal/model"
	"github.com/citytransit/simcore/internal/spawner"
)

// Store is the geographic data store surface this package depends on.
type Store interface {
	FetchRoutes(ctx context.Context) ([]model.Route, error)
	FetchDepots(ctx context.Context) ([]model.Depot, error)
}

// Snapshot is an immutable view of the active route/depot set, with
// depot-route connectivity already computed.
type Snapshot struct {
	Routes []model.Route
	Depots []model.Depot
}

// Cache holds the current Snapshot and knows how to refresh it.
type Cache struct {
	store         Store
	connectivityM float64
	current       atomic.Pointer[Snapshot]
}

// New constructs an empty Cache. Call Reload at least once before use.
func New(store Store, depotConnectivityM float64) *Cache {
	c := &Cache{store: store, connectivityM: depotConnectivityM}
	c.current.Store(&Snapshot{})
	return c
}

// Reload fetches routes and depots, recomputes connectivity between them,
// and atomically publishes the new snapshot. On failure the previous
// snapshot is retained and a warning is logged.
func (c *Cache) Reload(ctx context.Context) error {
	routes, err := c.store.FetchRoutes(ctx)
	if err != nil {
		log.Printf("[refdata] reload failed, retaining stale snapshot: %v", err)
		return fmt.Errorf("refdata: fetch routes: %w", err)
	}
	depots, err := c.store.FetchDepots(ctx)
	if err != nil {
		log.Printf("[refdata] reload failed, retaining stale snapshot: %v", err)
		return fmt.Errorf("refdata: fetch depots: %w", err)
	}

	routes, depots = spawner.ComputeConnectivity(routes, depots, c.connectivityM)
	c.current.Store(&Snapshot{Routes: routes, Depots: depots})
	return nil
}

// Routes implements coordinator.ReferenceData.
func (c *Cache) Routes() []model.Route { return c.current.Load().Routes }

// Depots implements coordinator.ReferenceData.
func (c *Cache) Depots() []model.Depot { return c.current.Load().Depots }
