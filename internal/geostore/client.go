// Package geostore is a read-only REST client for the external geographic
// data store (SPEC_FULL.md §6.1): a headless CMS exposing routes, depots,
// POIs, landuse zones, and countries, each paginated with a server-enforced
// maximum page size of 100. The client is deliberately a dumb transport: it
// does not retry and does not cache. The zone cache retries its reloads
// with capped backoff; the route/depot loader (internal/refdata) makes one
// attempt per Reload and keeps its previous snapshot on failure.
package geostore

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/citytransit/simcore/internal/model"
	"github.com/citytransit/simcore/internal/simerr"
	"github.com/citytransit/simcore/pkg/geo"
)

// Client talks to the geographic data store over HTTP.
type Client struct {
	baseURL  string
	pageSize int
	http     *http.Client
}

// New constructs a Client. timeout bounds every individual page fetch.
func New(baseURL string, pageSize int, timeout time.Duration) *Client {
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 100
	}
	return &Client{
		baseURL:  baseURL,
		pageSize: pageSize,
		http:     &http.Client{Timeout: timeout},
	}
}

// ─── Wire DTOs ──────────────────────────────────────────────

type page[T any] struct {
	Data []T `json:"data"`
	Meta struct {
		Pagination struct {
			Page      int `json:"page"`
			PageCount int `json:"pageCount"`
		} `json:"pagination"`
	} `json:"meta"`
}

type routeDTO struct {
	ID                string      `json:"id"`
	Code              string      `json:"code"`
	ShapePoints       [][2]float64 `json:"shape_points"` // [lon, lat]
	ActivityLevel     float64     `json:"activity_level"`
	ConnectedDepotIDs []string    `json:"connected_depot_ids"`
}

type depotDTO struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	Latitude      float64 `json:"latitude"`
	Longitude     float64 `json:"longitude"`
	ActivityLevel float64 `json:"activity_level"`
}

type poiDTO struct {
	ID          string  `json:"id"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	AmenityType string  `json:"amenity_type"`
	SpawnWeight float64 `json:"spawn_weight"`
}

type zoneDTO struct {
	ID          string       `json:"id"`
	ZoneType    string       `json:"zone_type"`
	Ring        [][2]float64 `json:"ring"` // [lon, lat]
	CentroidLat float64      `json:"centroid_lat"`
	CentroidLon float64      `json:"centroid_lon"`
	BaseWeight  float64      `json:"base_weight"`
}

type countryDTO struct {
	ID   string  `json:"id"`
	Code string  `json:"code"`
	BBox [4]float64 `json:"bbox"` // minLat, minLon, maxLat, maxLon
}

// ─── Fetchers ───────────────────────────────────────────────

// FetchRoutes loops over every page of the routes collection.
func (c *Client) FetchRoutes(ctx context.Context) ([]model.Route, error) {
	dtos, err := fetchAll[routeDTO](ctx, c, "routes")
	if err != nil {
		return nil, err
	}
	routes := make([]model.Route, 0, len(dtos))
	for _, d := range dtos {
		shape := make([]model.Location, len(d.ShapePoints))
		for i, p := range d.ShapePoints {
			shape[i] = model.Location{Lat: p[1], Lon: p[0]}
		}
		cum := geo.PolylineLengthM(shape)
		lengthM := 0.0
		if len(cum) > 0 {
			lengthM = cum[len(cum)-1]
		}
		routes = append(routes, model.Route{
			ID:                d.ID,
			Code:              d.Code,
			ShapePoints:       shape,
			CumulativeLengthM: cum,
			LengthM:           lengthM,
			ActivityLevel:     d.ActivityLevel,
			ConnectedDepotIDs: d.ConnectedDepotIDs,
		})
	}
	return routes, nil
}

// FetchDepots loops over every page of the depots collection.
func (c *Client) FetchDepots(ctx context.Context) ([]model.Depot, error) {
	dtos, err := fetchAll[depotDTO](ctx, c, "depots")
	if err != nil {
		return nil, err
	}
	depots := make([]model.Depot, 0, len(dtos))
	for _, d := range dtos {
		depots = append(depots, model.Depot{
			ID:            d.ID,
			Name:          d.Name,
			Location:      model.Location{Lat: d.Latitude, Lon: d.Longitude},
			ActivityLevel: d.ActivityLevel,
		})
	}
	return depots, nil
}

// FetchPOIs loops over every page of the pois collection.
func (c *Client) FetchPOIs(ctx context.Context) ([]model.POI, error) {
	dtos, err := fetchAll[poiDTO](ctx, c, "pois")
	if err != nil {
		return nil, err
	}
	pois := make([]model.POI, 0, len(dtos))
	for _, d := range dtos {
		pois = append(pois, model.POI{
			ID:               d.ID,
			Location:         model.Location{Lat: d.Latitude, Lon: d.Longitude},
			Category:         model.POICategory(d.AmenityType),
			AttractionFactor: d.SpawnWeight,
		})
	}
	return pois, nil
}

// FetchZones loops over every page of the landuse_zones collection.
func (c *Client) FetchZones(ctx context.Context) ([]model.Zone, error) {
	dtos, err := fetchAll[zoneDTO](ctx, c, "landuse_zones")
	if err != nil {
		return nil, err
	}
	zones := make([]model.Zone, 0, len(dtos))
	for _, d := range dtos {
		ring := make([]model.Location, len(d.Ring))
		for i, p := range d.Ring {
			ring[i] = model.Location{Lat: p[1], Lon: p[0]}
		}
		zoneType := model.ZoneType(d.ZoneType)
		zones = append(zones, model.Zone{
			ID:             d.ID,
			Type:           zoneType,
			Ring:           ring,
			Centroid:       model.Location{Lat: d.CentroidLat, Lon: d.CentroidLon},
			BBox:           geo.BoundingBoxOf(ring),
			BaseWeight:     d.BaseWeight,
			TimeMultiplier: model.DefaultZoneTimeMultiplier(zoneType),
		})
	}
	return zones, nil
}

// FetchCountries loops over every page of the countries collection.
func (c *Client) FetchCountries(ctx context.Context) ([]model.BoundingBox, error) {
	dtos, err := fetchAll[countryDTO](ctx, c, "countries")
	if err != nil {
		return nil, err
	}
	boxes := make([]model.BoundingBox, 0, len(dtos))
	for _, d := range dtos {
		boxes = append(boxes, model.BoundingBox{
			MinLat: d.BBox[0], MinLon: d.BBox[1],
			MaxLat: d.BBox[2], MaxLon: d.BBox[3],
		})
	}
	return boxes, nil
}

// fetchAll loops page=1..pageCount until data == [] or page > pageCount, per
// SPEC_FULL.md §6.1's pagination contract.
func fetchAll[T any](ctx context.Context, c *Client, collection string) ([]T, error) {
	var all []T
	for p := 1; ; p++ {
		var pg page[T]
		if err := c.getJSON(ctx, collection, p, &pg); err != nil {
			return nil, err
		}
		if len(pg.Data) == 0 {
			break
		}
		all = append(all, pg.Data...)
		if pg.Meta.Pagination.PageCount != 0 && p >= pg.Meta.Pagination.PageCount {
			break
		}
		if pg.Meta.Pagination.PageCount == 0 && len(pg.Data) < c.pageSize {
			break
		}
	}
	return all, nil
}

func (c *Client) getJSON(ctx context.Context, collection string, page int, out any) error {
	url := fmt.Sprintf("%s/%s?pagination[page]=%d&pagination[pageSize]=%d", c.baseURL, collection, page, c.pageSize)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("geostore: build request: %w", simerr.ErrDataStore)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("geostore: %s page %d: %w: %v", collection, page, simerr.ErrDataStore, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("geostore: %s page %d: status %d: %w", collection, page, resp.StatusCode, simerr.ErrDataStore)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("geostore: %s page %d: decode: %w: %v", collection, page, simerr.ErrDataStore, err)
	}
	return nil
}
