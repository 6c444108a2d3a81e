// Package zonecache holds an in-memory, RCU-style snapshot of landuse zones
// and POIs filtered to a buffer around the active route set (SPEC_FULL.md
// §4.2). Readers never block on a writer: they read the current snapshot
// pointer without locking; the writer builds a new snapshot and swaps it in
// atomically.
package zonecache

import (
	"context"
	"log"
	"sync/atomic"
	"time"

	"github.com/citytransit/simcore/internal/model"
	"github.com/citytransit/simcore/pkg/geo"
)

const (
	retryAttempts  = 3
	retryBaseDelay = 500 * time.Millisecond
)

// Store is the geographic data store surface the cache depends on. It is an
// interface so tests can substitute a fake without standing up HTTP.
type Store interface {
	FetchZones(ctx context.Context) ([]model.Zone, error)
	FetchPOIs(ctx context.Context) ([]model.POI, error)
}

// Snapshot is an immutable, point-in-time view of zones and POIs near the
// active route set.
type Snapshot struct {
	Zones    []model.Zone
	POIs     []model.POI
	loadedAt time.Time
}

// Cache holds the current Snapshot and knows how to refresh it.
type Cache struct {
	store    Store
	bufferKm float64

	current atomic.Pointer[Snapshot]
}

// New constructs an empty Cache. Call Reload at least once before querying.
func New(store Store, bufferKm float64) *Cache {
	c := &Cache{store: store, bufferKm: bufferKm}
	c.current.Store(&Snapshot{})
	return c
}

// Reload fetches zones and POIs from the data store, filters them to within
// bufferKm of any active route's (inflated) bounding box, and atomically
// publishes the new snapshot. On failure after retryAttempts capped-backoff
// retries, the previous snapshot is retained and a warning is logged — the
// spawner must never block on a reload.
func (c *Cache) Reload(ctx context.Context, activeRoutes []model.Route) {
	if len(activeRoutes) == 0 {
		return
	}

	bboxes := make([]model.BoundingBox, 0, len(activeRoutes))
	for _, r := range activeRoutes {
		bbox := geo.BoundingBoxOf(r.ShapePoints)
		bboxes = append(bboxes, geo.InflateBBox(bbox, c.bufferKm*1000.0))
	}

	zones, err := c.fetchZonesWithRetry(ctx)
	if err != nil {
		log.Printf("[zonecache] reload failed, retaining stale snapshot: %v", err)
		return
	}
	pois, err := c.fetchPOIsWithRetry(ctx)
	if err != nil {
		log.Printf("[zonecache] reload failed, retaining stale snapshot: %v", err)
		return
	}

	filteredZones := make([]model.Zone, 0, len(zones))
	for _, z := range zones {
		if anyBBoxContains(bboxes, z.BBox) || anyBBoxContains(bboxes, boundsOf(z.Centroid)) {
			filteredZones = append(filteredZones, z)
		}
	}
	filteredPOIs := make([]model.POI, 0, len(pois))
	for _, p := range pois {
		if anyBBoxContains(bboxes, boundsOf(p.Location)) {
			filteredPOIs = append(filteredPOIs, p)
		}
	}

	c.current.Store(&Snapshot{Zones: filteredZones, POIs: filteredPOIs, loadedAt: time.Now()})
}

func boundsOf(p model.Location) model.BoundingBox {
	return model.BoundingBox{MinLat: p.Lat, MaxLat: p.Lat, MinLon: p.Lon, MaxLon: p.Lon}
}

func anyBBoxContains(boxes []model.BoundingBox, target model.BoundingBox) bool {
	for _, b := range boxes {
		if b.MinLat <= target.MaxLat && b.MaxLat >= target.MinLat &&
			b.MinLon <= target.MaxLon && b.MaxLon >= target.MinLon {
			return true
		}
	}
	return false
}

func (c *Cache) fetchZonesWithRetry(ctx context.Context) ([]model.Zone, error) {
	var lastErr error
	delay := retryBaseDelay
	for attempt := 0; attempt < retryAttempts; attempt++ {
		zones, err := c.store.FetchZones(ctx)
		if err == nil {
			return zones, nil
		}
		lastErr = err
		if attempt < retryAttempts-1 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			delay *= 2
		}
	}
	return nil, lastErr
}

func (c *Cache) fetchPOIsWithRetry(ctx context.Context) ([]model.POI, error) {
	var lastErr error
	delay := retryBaseDelay
	for attempt := 0; attempt < retryAttempts; attempt++ {
		pois, err := c.store.FetchPOIs(ctx)
		if err == nil {
			return pois, nil
		}
		lastErr = err
		if attempt < retryAttempts-1 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			delay *= 2
		}
	}
	return nil, lastErr
}

// ZonesNear returns zones in the current snapshot whose bounding box
// intersects a radiusM disc around point, using a bbox prefilter (the full
// polygon distance test is left to callers that need exactness; the spawner
// only needs a candidate set for weighted choice).
func (c *Cache) ZonesNear(point model.Location, radiusM float64) []model.Zone {
	snap := c.current.Load()
	disc := geo.InflateBBox(boundsOf(point), radiusM)
	out := make([]model.Zone, 0)
	for _, z := range snap.Zones {
		if anyBBoxContains([]model.BoundingBox{disc}, z.BBox) {
			out = append(out, z)
		}
	}
	return out
}

// POIsNear returns POIs in the current snapshot within a radiusM bbox of point.
func (c *Cache) POIsNear(point model.Location, radiusM float64) []model.POI {
	snap := c.current.Load()
	disc := geo.InflateBBox(boundsOf(point), radiusM)
	out := make([]model.POI, 0)
	for _, p := range snap.POIs {
		if anyBBoxContains([]model.BoundingBox{disc}, boundsOf(p.Location)) {
			out = append(out, p)
		}
	}
	return out
}

// Stale reports whether the current snapshot is older than maxAge, per the
// spawner's staleness-degradation policy in SPEC_FULL.md §7.
func (c *Cache) Stale(maxAge time.Duration) bool {
	snap := c.current.Load()
	if snap.loadedAt.IsZero() {
		return true
	}
	return time.Since(snap.loadedAt) > maxAge
}
