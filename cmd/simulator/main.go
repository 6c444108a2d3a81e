package main

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/citytransit/simcore/config"
	"github.com/citytransit/simcore/internal/archive"
	"github.com/citytransit/simcore/internal/conductor"
	"github.com/citytransit/simcore/internal/coordinator"
	"github.com/citytransit/simcore/internal/depotreservoir"
	"github.com/citytransit/simcore/internal/driver"
	"github.com/citytransit/simcore/internal/eventbus"
	"github.com/citytransit/simcore/internal/eventrelay"
	"github.com/citytransit/simcore/internal/expiration"
	"github.com/citytransit/simcore/internal/geostore"
	"github.com/citytransit/simcore/internal/httpapi"
	"github.com/citytransit/simcore/internal/middleware"
	"github.com/citytransit/simcore/internal/model"
	"github.com/citytransit/simcore/internal/refdata"
	"github.com/citytransit/simcore/internal/registry"
	"github.com/citytransit/simcore/internal/reservoirstats"
	"github.com/citytransit/simcore/internal/ridesurge"
	"github.com/citytransit/simcore/internal/routereservoir"
	"github.com/citytransit/simcore/internal/spawner"
	"github.com/citytransit/simcore/internal/vehicle"
	"github.com/citytransit/simcore/internal/zonecache"
	"github.com/citytransit/simcore/pkg/cache"
	"github.com/citytransit/simcore/pkg/db"
)

const refDataReloadInterval = 5 * time.Minute

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── External data store ─────────────────────────────
	geoClient := geostore.New(cfg.GeoStore.BaseURL, cfg.GeoStore.PageSize, cfg.GeoStore.Timeout)

	refData := refdata.New(geoClient, cfg.Spawner.DepotConnectivityM)
	if err := refData.Reload(ctx); err != nil {
		log.Fatalf("failed initial reference-data load: %v", err)
	}
	log.Println("✓ reference data loaded")

	zones := zonecache.New(geoClient, cfg.GeoStore.BufferKm)
	zones.Reload(ctx, refData.Routes())
	log.Println("✓ zone cache loaded")

	// ── Redis (bus transport + demand cache) ────────────
	redisClient, err := cache.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		log.Fatalf("failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()
	log.Println("✓ Redis connected")

	// ── PostgreSQL (best-effort event archive) ──────────
	pgPool, err := db.NewPostgresPool(ctx, cfg.Postgres)
	if err != nil {
		log.Fatalf("failed to connect to PostgreSQL: %v", err)
	}
	defer pgPool.Close()
	log.Println("✓ PostgreSQL connected")

	bus := eventbus.New(ctx, cfg.Redis, cfg.Bus, "simulator")
	defer bus.Close()
	go bus.Reconnect(ctx)

	relay := eventrelay.New(ctx, bus)

	eventArchive := archive.New(pgPool)
	if err := eventArchive.EnsureSchema(ctx); err != nil {
		log.Fatalf("failed to prepare event archive schema: %v", err)
	}
	go eventArchive.Run(ctx, bus)

	// ── Reservoirs, registry, expiration ─────────────────
	reg := registry.New()
	depotRes := depotreservoir.New(reg, relay.Reservoirs())
	routeRes := routereservoir.New(reg, relay.Reservoirs(), cfg.RouteReservoir.GridCellDegrees)

	expirationMgr := expiration.New(
		time.Duration(cfg.Reservoir.ExpirationCheckSeconds)*time.Second,
		depotRes, routeRes,
	)
	go expirationMgr.Run(ctx)

	// ── Demand smoothing + spawner ────────────────────────
	surge := ridesurge.New(redisClient, cfg.RideSurge)

	spawnParams := spawner.Params{
		BaseRatePerHourPerRoute: cfg.Spawner.BaseRatePerHourPerRoute,
		TripLengthMuM:           cfg.Spawner.TripLengthMuM,
		TripLengthSigma:         cfg.Spawner.TripLengthSigma,
		DepotConnectivityM:      cfg.Spawner.DepotConnectivityM,
		SnapToleranceM:          cfg.Spawner.SnapToleranceM,
		TimePatternRoute:        cfg.Spawner.TimePatternRoute,
		TimePatternDepot:        cfg.Spawner.TimePatternDepot,
		DemandBufferM:           cfg.GeoStore.BufferKm * 1000,
	}
	sp := spawner.New(zones, spawnParams, surge)

	coordParams := coordinator.Params{
		TickInterval:        time.Duration(cfg.Spawner.WindowSeconds) * time.Second,
		DefaultTTL:          time.Duration(cfg.Rider.DefaultTTLSeconds) * time.Second,
		DefaultWalkingDistM: cfg.Rider.DefaultWalkingDistanceM,
		GridCellDegrees:     cfg.RouteReservoir.GridCellDegrees,
	}
	coord := coordinator.New(sp, refData, depotRes, routeRes, relay.Coordinator(), rand.New(rand.NewSource(time.Now().UnixNano())), coordParams)
	go coord.Run(ctx)

	// ── Periodic reference-data / zone-cache refresh ─────
	go func() {
		ticker := time.NewTicker(refDataReloadInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := refData.Reload(ctx); err != nil {
					log.Printf("[simulator] reference-data reload failed: %v", err)
					continue
				}
				zones.Reload(ctx, refData.Routes())
			}
		}
	}()

	// ── Vehicle fleet: PerRouteDirection conductor/driver pairs per route per direction ──
	depotLookup := conductor.NewStaticDepotLookup(refData.Routes(), refData.Depots())
	conductorParams := conductor.Params{
		AlightTriggerM:       cfg.Conductor.AlightTriggerM,
		DepotQueryRadiusM:    cfg.Conductor.DepotQueryRadiusM,
		RouteQueryRadiusM:    cfg.Conductor.RouteQueryRadiusM,
		Capacity:             cfg.Conductor.Capacity,
		StandingCapacity:     cfg.Conductor.StandingCapacity,
		MinDwellSeconds:      cfg.Conductor.MinDwellSeconds,
		BoardingDelaySeconds: cfg.Conductor.BoardingDelaySeconds,
	}

	fleet := vehicle.NewFleet()
	tickInterval := time.Duration(cfg.Conductor.TickSeconds) * time.Second
	for _, route := range refData.Routes() {
		for _, direction := range []model.Direction{model.Outbound, model.Inbound} {
			for i := 0; i < cfg.Vehicle.PerRouteDirection; i++ {
				vehicleID := fmt.Sprintf("%s-%s-%d", route.ID, direction, i)
				drv := driver.New(vehicleID, route, direction, cfg.Vehicle.SpeedKmph, relay.Locations())
				cond := conductor.New(vehicleID, route.ID, conductorParams, depotRes, routeRes, depotLookup, drv, relay.Conductor())
				fleet.Add(ctx, vehicle.NewRunner(vehicleID, drv, cond, tickInterval, cfg.Conductor.BoardingDelaySeconds))
			}
		}
	}
	log.Printf("✓ fleet started: %d vehicles across %d routes", fleet.Size(), len(refData.Routes()))

	// ── Operator status surface ───────────────────────────
	deps := map[string]httpapi.HealthChecker{
		"postgres": postgresHealthChecker{pgPool},
		"redis":    redisHealthChecker{redisClient},
		"bus":      busHealthChecker{bus},
	}
	stats := fleetStats{depot: depotRes, route: routeRes}
	router := httpapi.NewRouter(cfg, deps, stats)
	srv := &http.Server{
		Addr:         cfg.Server.ServerAddr(),
		Handler:      middleware.RequestLogger(middleware.Recoverer(router)),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	go func() {
		log.Printf("🚀 status surface listening on %s", cfg.Server.ServerAddr())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("status surface error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("⏳ shutting down simulator...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("status surface forced to shutdown: %v", err)
	}

	fleet.Shutdown()
	log.Println("✅ simulator stopped")
}

type postgresHealthChecker struct{ pool *pgxpool.Pool }

func (p postgresHealthChecker) HealthCheck(ctx context.Context) error {
	return db.HealthCheck(ctx, p.pool)
}

type redisHealthChecker struct{ client *redis.Client }

func (r redisHealthChecker) HealthCheck(ctx context.Context) error {
	return cache.HealthCheck(ctx, r.client)
}

type busHealthChecker struct{ bus *eventbus.Bus }

func (b busHealthChecker) HealthCheck(ctx context.Context) error {
	if !b.bus.Connected() {
		return fmt.Errorf("event bus disconnected")
	}
	return nil
}

// fleetStats implements httpapi.StatsProvider over the two reservoirs.
type fleetStats struct {
	depot *depotreservoir.Reservoir
	route *routereservoir.Reservoir
}

func (s fleetStats) Snapshots() map[string]reservoirstats.Snapshot {
	return map[string]reservoirstats.Snapshot{
		"depot_reservoir": s.depot.Stats(),
		"route_reservoir": s.route.Stats(),
	}
}
