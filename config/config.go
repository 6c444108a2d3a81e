package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the simulation core.
type Config struct {
	Server        ServerConfig
	Postgres      PostgresConfig
	Redis         RedisConfig
	GeoStore      GeoStoreConfig
	Spawner       SpawnerConfig
	Rider         RiderConfig
	Reservoir     ReservoirConfig
	RouteReservoir RouteReservoirConfig
	Conductor     ConductorConfig
	Bus           BusConfig
	RideSurge     RideSurgeConfig
	Vehicle       VehicleConfig
}

// ServerConfig holds the operator status-surface HTTP settings.
type ServerConfig struct {
	Host         string        `mapstructure:"SERVER_HOST"`
	Port         int           `mapstructure:"SERVER_PORT"`
	ReadTimeout  time.Duration `mapstructure:"SERVER_READ_TIMEOUT"`
	WriteTimeout time.Duration `mapstructure:"SERVER_WRITE_TIMEOUT"`
	IdleTimeout  time.Duration `mapstructure:"SERVER_IDLE_TIMEOUT"`
}

// PostgresConfig holds the event-archive connection settings. The core owns
// no durable rider state; this pool backs only the best-effort event archive.
type PostgresConfig struct {
	Host     string `mapstructure:"POSTGRES_HOST"`
	Port     int    `mapstructure:"POSTGRES_PORT"`
	User     string `mapstructure:"POSTGRES_USER"`
	Password string `mapstructure:"POSTGRES_PASSWORD"`
	DBName   string `mapstructure:"POSTGRES_DB"`
	SSLMode  string `mapstructure:"POSTGRES_SSLMODE"`
	MaxConns int32  `mapstructure:"POSTGRES_MAX_CONNS"`
	MinConns int32  `mapstructure:"POSTGRES_MIN_CONNS"`
}

// RedisConfig holds the connection settings shared by the event bus
// transport and the demand-smoothing cache.
type RedisConfig struct {
	Host     string `mapstructure:"REDIS_HOST"`
	Port     int    `mapstructure:"REDIS_PORT"`
	Password string `mapstructure:"REDIS_PASSWORD"`
	DB       int    `mapstructure:"REDIS_DB"`
	PoolSize int    `mapstructure:"REDIS_POOL_SIZE"`
}

// GeoStoreConfig points at the external geographic data store REST API.
type GeoStoreConfig struct {
	BaseURL    string        `mapstructure:"GEOSTORE_BASE_URL"`
	PageSize   int           `mapstructure:"GEOSTORE_PAGE_SIZE"`
	Timeout    time.Duration `mapstructure:"GEOSTORE_TIMEOUT"`
	BufferKm   float64       `mapstructure:"GEOSTORE_BUFFER_KM"`
}

// SpawnerConfig enumerates every Poisson-spawner knob in SPEC_FULL.md §6.3.
type SpawnerConfig struct {
	BaseRatePerHourPerRoute float64    `mapstructure:"SPAWNER_BASE_RATE_PER_HOUR_PER_ROUTE"`
	WindowSeconds           int        `mapstructure:"SPAWNER_WINDOW_SECONDS"`
	TripLengthMuM           float64    `mapstructure:"SPAWNER_TRIP_LENGTH_MU_M"`
	TripLengthSigma         float64    `mapstructure:"SPAWNER_TRIP_LENGTH_SIGMA"`
	DepotConnectivityM      float64    `mapstructure:"SPAWNER_DEPOT_CONNECTIVITY_M"`
	SnapToleranceM          float64    `mapstructure:"SPAWNER_SNAP_TOLERANCE_M"`
	TimePatternRoute        [24]float64
	TimePatternDepot        [24]float64
}

// RiderConfig holds rider-lifecycle defaults.
type RiderConfig struct {
	DefaultTTLSeconds         int     `mapstructure:"RIDER_DEFAULT_TTL_SECONDS"`
	DefaultWalkingDistanceM   float64 `mapstructure:"RIDER_DEFAULT_WALKING_DISTANCE_M"`
}

// ReservoirConfig holds settings shared by both reservoirs.
type ReservoirConfig struct {
	ExpirationCheckSeconds int `mapstructure:"RESERVOIR_EXPIRATION_CHECK_SECONDS"`
}

// RouteReservoirConfig holds route-reservoir-specific settings.
type RouteReservoirConfig struct {
	GridCellDegrees float64 `mapstructure:"ROUTE_RESERVOIR_GRID_CELL_DEGREES"`
}

// ConductorConfig holds per-vehicle conductor-loop settings.
type ConductorConfig struct {
	TickSeconds         int     `mapstructure:"CONDUCTOR_TICK_SECONDS"`
	AlightTriggerM      float64 `mapstructure:"CONDUCTOR_ALIGHT_TRIGGER_M"`
	DepotQueryRadiusM   float64 `mapstructure:"CONDUCTOR_DEPOT_QUERY_RADIUS_M"`
	RouteQueryRadiusM   float64 `mapstructure:"CONDUCTOR_ROUTE_QUERY_RADIUS_M"`
	Capacity            int     `mapstructure:"CONDUCTOR_CAPACITY"`
	StandingCapacity    int     `mapstructure:"CONDUCTOR_STANDING_CAPACITY"`
	MinDwellSeconds     int     `mapstructure:"CONDUCTOR_MIN_DWELL_SECONDS"`
	MinPassengers       int     `mapstructure:"CONDUCTOR_MIN_PASSENGERS"`
	BoardingDelaySeconds int    `mapstructure:"CONDUCTOR_BOARDING_DELAY_SECONDS"`
}

// BusConfig holds event-bus adapter settings.
type BusConfig struct {
	RequestTimeoutSeconds int `mapstructure:"BUS_REQUEST_TIMEOUT_SECONDS"`
	ReconnectMaxSeconds   int `mapstructure:"BUS_RECONNECT_MAX_SECONDS"`
}

// RideSurgeConfig holds the demand-smoothing cache's knobs. CellPrecision is
// the precision of ridesurge.CellKey's truncated-coordinate cell; the
// spawner keys the cache by route id and depot id and does not call
// CellKey, so CellPrecision does not change what the simulator smooths.
type RideSurgeConfig struct {
	CellPrecision int           `mapstructure:"RIDESURGE_CELL_PRECISION"`
	SmoothingAlpha float64      `mapstructure:"RIDESURGE_SMOOTHING_ALPHA"`
	TTL           time.Duration `mapstructure:"RIDESURGE_TTL"`
}

// VehicleConfig holds the fleet simulation knobs: how many vehicles run
// each active route (one per direction) and how fast they travel.
type VehicleConfig struct {
	PerRouteDirection int     `mapstructure:"VEHICLE_PER_ROUTE_DIRECTION"`
	SpeedKmph         float64 `mapstructure:"VEHICLE_SPEED_KMPH"`
}

// DSN returns the PostgreSQL connection string for the event archive.
func (p *PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		p.User, p.Password, p.Host, p.Port, p.DBName, p.SSLMode,
	)
}

// Addr returns the Redis address in host:port format.
func (r *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// ServerAddr returns the HTTP listen address in host:port format.
func (s *ServerConfig) ServerAddr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// defaultRouteTimePattern are the 24 default hourly multipliers applied to
// routes: low overnight, with a morning peak, a lunch bump and an evening peak.
var defaultRouteTimePattern = [24]float64{
	0.2, 0.15, 0.1, 0.1, 0.15, 0.4, 0.9, 1.3, 1.2, 0.9, 0.8, 0.9,
	1.1, 1.0, 0.8, 0.8, 0.9, 1.2, 1.3, 1.0, 0.7, 0.5, 0.4, 0.3,
}

// defaultDepotTimePattern has a sharper morning peak than the route pattern.
var defaultDepotTimePattern = [24]float64{
	0.1, 0.05, 0.05, 0.05, 0.2, 0.6, 1.4, 1.8, 1.2, 0.7, 0.5, 0.5,
	0.6, 0.5, 0.5, 0.5, 0.6, 1.0, 1.5, 1.1, 0.6, 0.4, 0.2, 0.1,
}

// Load reads configuration from environment variables and a .env file,
// applying the defaults enumerated in SPEC_FULL.md §6.3/§10. Missing or
// invalid values that have no safe default are surfaced as a ConfigError
// by Validate; Load itself never fails on a missing file.
func Load() (*Config, error) {
	viper.SetConfigName(".env")
	viper.SetConfigType("env")
	viper.AddConfigPath(".")
	viper.AutomaticEnv()

	// ── Server (operator status surface) ─────────────────
	viper.SetDefault("SERVER_HOST", "0.0.0.0")
	viper.SetDefault("SERVER_PORT", 8090)
	viper.SetDefault("SERVER_READ_TIMEOUT", "5s")
	viper.SetDefault("SERVER_WRITE_TIMEOUT", "10s")
	viper.SetDefault("SERVER_IDLE_TIMEOUT", "120s")

	// ── Postgres (event archive) ──────────────────────────
	viper.SetDefault("POSTGRES_HOST", "localhost")
	viper.SetDefault("POSTGRES_PORT", 5432)
	viper.SetDefault("POSTGRES_USER", "simcore")
	viper.SetDefault("POSTGRES_PASSWORD", "simcore_secret")
	viper.SetDefault("POSTGRES_DB", "simcore_archive")
	viper.SetDefault("POSTGRES_SSLMODE", "disable")
	viper.SetDefault("POSTGRES_MAX_CONNS", 20)
	viper.SetDefault("POSTGRES_MIN_CONNS", 2)

	// ── Redis (bus transport + demand cache) ──────────────
	viper.SetDefault("REDIS_HOST", "localhost")
	viper.SetDefault("REDIS_PORT", 6379)
	viper.SetDefault("REDIS_PASSWORD", "")
	viper.SetDefault("REDIS_DB", 0)
	viper.SetDefault("REDIS_POOL_SIZE", 50)

	// ── Geographic data store ─────────────────────────────
	viper.SetDefault("GEOSTORE_BASE_URL", "http://localhost:1337/api")
	viper.SetDefault("GEOSTORE_PAGE_SIZE", 100)
	viper.SetDefault("GEOSTORE_TIMEOUT", "10s")
	viper.SetDefault("GEOSTORE_BUFFER_KM", 5.0)

	// ── Spawner ────────────────────────────────────────────
	viper.SetDefault("SPAWNER_BASE_RATE_PER_HOUR_PER_ROUTE", 20.0)
	viper.SetDefault("SPAWNER_WINDOW_SECONDS", 30)
	viper.SetDefault("SPAWNER_TRIP_LENGTH_MU_M", 7.6009) // ln(2000)
	viper.SetDefault("SPAWNER_TRIP_LENGTH_SIGMA", 0.6)
	viper.SetDefault("SPAWNER_DEPOT_CONNECTIVITY_M", 500.0)
	viper.SetDefault("SPAWNER_SNAP_TOLERANCE_M", 25.0)

	// ── Rider ──────────────────────────────────────────────
	viper.SetDefault("RIDER_DEFAULT_TTL_SECONDS", 1800)
	viper.SetDefault("RIDER_DEFAULT_WALKING_DISTANCE_M", 150.0)

	// ── Reservoirs ─────────────────────────────────────────
	viper.SetDefault("RESERVOIR_EXPIRATION_CHECK_SECONDS", 10)
	viper.SetDefault("ROUTE_RESERVOIR_GRID_CELL_DEGREES", 0.01)

	// ── Conductor ──────────────────────────────────────────
	viper.SetDefault("CONDUCTOR_TICK_SECONDS", 1)
	viper.SetDefault("CONDUCTOR_ALIGHT_TRIGGER_M", 100.0)
	viper.SetDefault("CONDUCTOR_DEPOT_QUERY_RADIUS_M", 500.0)
	viper.SetDefault("CONDUCTOR_ROUTE_QUERY_RADIUS_M", 1000.0)
	viper.SetDefault("CONDUCTOR_CAPACITY", 40)
	viper.SetDefault("CONDUCTOR_STANDING_CAPACITY", 0)
	viper.SetDefault("CONDUCTOR_MIN_DWELL_SECONDS", 15)
	viper.SetDefault("CONDUCTOR_MIN_PASSENGERS", 1)
	viper.SetDefault("CONDUCTOR_BOARDING_DELAY_SECONDS", 3)

	// ── Event bus ──────────────────────────────────────────
	viper.SetDefault("BUS_REQUEST_TIMEOUT_SECONDS", 5)
	viper.SetDefault("BUS_RECONNECT_MAX_SECONDS", 30)

	// ── Ride-demand smoothing cache ────────────────────────
	viper.SetDefault("RIDESURGE_CELL_PRECISION", 2)
	viper.SetDefault("RIDESURGE_SMOOTHING_ALPHA", 0.3)
	viper.SetDefault("RIDESURGE_TTL", "5m")

	// ── Vehicle fleet ───────────────────────────────────────
	viper.SetDefault("VEHICLE_PER_ROUTE_DIRECTION", 1)
	viper.SetDefault("VEHICLE_SPEED_KMPH", 30.0)

	// Try to read a .env file. If it doesn't exist (e.g. inside a
	// container), env vars injected by the orchestrator are used instead.
	_ = viper.ReadInConfig()

	cfg := &Config{}

	cfg.Server = ServerConfig{
		Host:         viper.GetString("SERVER_HOST"),
		Port:         viper.GetInt("SERVER_PORT"),
		ReadTimeout:  viper.GetDuration("SERVER_READ_TIMEOUT"),
		WriteTimeout: viper.GetDuration("SERVER_WRITE_TIMEOUT"),
		IdleTimeout:  viper.GetDuration("SERVER_IDLE_TIMEOUT"),
	}

	cfg.Postgres = PostgresConfig{
		Host:     viper.GetString("POSTGRES_HOST"),
		Port:     viper.GetInt("POSTGRES_PORT"),
		User:     viper.GetString("POSTGRES_USER"),
		Password: viper.GetString("POSTGRES_PASSWORD"),
		DBName:   viper.GetString("POSTGRES_DB"),
		SSLMode:  viper.GetString("POSTGRES_SSLMODE"),
		MaxConns: viper.GetInt32("POSTGRES_MAX_CONNS"),
		MinConns: viper.GetInt32("POSTGRES_MIN_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Host:     viper.GetString("REDIS_HOST"),
		Port:     viper.GetInt("REDIS_PORT"),
		Password: viper.GetString("REDIS_PASSWORD"),
		DB:       viper.GetInt("REDIS_DB"),
		PoolSize: viper.GetInt("REDIS_POOL_SIZE"),
	}

	cfg.GeoStore = GeoStoreConfig{
		BaseURL:  viper.GetString("GEOSTORE_BASE_URL"),
		PageSize: viper.GetInt("GEOSTORE_PAGE_SIZE"),
		Timeout:  viper.GetDuration("GEOSTORE_TIMEOUT"),
		BufferKm: viper.GetFloat64("GEOSTORE_BUFFER_KM"),
	}

	cfg.Spawner = SpawnerConfig{
		BaseRatePerHourPerRoute: viper.GetFloat64("SPAWNER_BASE_RATE_PER_HOUR_PER_ROUTE"),
		WindowSeconds:           viper.GetInt("SPAWNER_WINDOW_SECONDS"),
		TripLengthMuM:           viper.GetFloat64("SPAWNER_TRIP_LENGTH_MU_M"),
		TripLengthSigma:         viper.GetFloat64("SPAWNER_TRIP_LENGTH_SIGMA"),
		DepotConnectivityM:      viper.GetFloat64("SPAWNER_DEPOT_CONNECTIVITY_M"),
		SnapToleranceM:          viper.GetFloat64("SPAWNER_SNAP_TOLERANCE_M"),
		TimePatternRoute:        defaultRouteTimePattern,
		TimePatternDepot:        defaultDepotTimePattern,
	}

	cfg.Rider = RiderConfig{
		DefaultTTLSeconds:       viper.GetInt("RIDER_DEFAULT_TTL_SECONDS"),
		DefaultWalkingDistanceM: viper.GetFloat64("RIDER_DEFAULT_WALKING_DISTANCE_M"),
	}

	cfg.Reservoir = ReservoirConfig{
		ExpirationCheckSeconds: viper.GetInt("RESERVOIR_EXPIRATION_CHECK_SECONDS"),
	}

	cfg.RouteReservoir = RouteReservoirConfig{
		GridCellDegrees: viper.GetFloat64("ROUTE_RESERVOIR_GRID_CELL_DEGREES"),
	}

	cfg.Conductor = ConductorConfig{
		TickSeconds:          viper.GetInt("CONDUCTOR_TICK_SECONDS"),
		AlightTriggerM:       viper.GetFloat64("CONDUCTOR_ALIGHT_TRIGGER_M"),
		DepotQueryRadiusM:    viper.GetFloat64("CONDUCTOR_DEPOT_QUERY_RADIUS_M"),
		RouteQueryRadiusM:    viper.GetFloat64("CONDUCTOR_ROUTE_QUERY_RADIUS_M"),
		Capacity:             viper.GetInt("CONDUCTOR_CAPACITY"),
		StandingCapacity:     viper.GetInt("CONDUCTOR_STANDING_CAPACITY"),
		MinDwellSeconds:      viper.GetInt("CONDUCTOR_MIN_DWELL_SECONDS"),
		MinPassengers:        viper.GetInt("CONDUCTOR_MIN_PASSENGERS"),
		BoardingDelaySeconds: viper.GetInt("CONDUCTOR_BOARDING_DELAY_SECONDS"),
	}

	cfg.Bus = BusConfig{
		RequestTimeoutSeconds: viper.GetInt("BUS_REQUEST_TIMEOUT_SECONDS"),
		ReconnectMaxSeconds:   viper.GetInt("BUS_RECONNECT_MAX_SECONDS"),
	}

	cfg.RideSurge = RideSurgeConfig{
		CellPrecision:  viper.GetInt("RIDESURGE_CELL_PRECISION"),
		SmoothingAlpha: viper.GetFloat64("RIDESURGE_SMOOTHING_ALPHA"),
		TTL:            viper.GetDuration("RIDESURGE_TTL"),
	}

	cfg.Vehicle = VehicleConfig{
		PerRouteDirection: viper.GetInt("VEHICLE_PER_ROUTE_DIRECTION"),
		SpeedKmph:         viper.GetFloat64("VEHICLE_SPEED_KMPH"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate enforces the ConfigError taxonomy kind from SPEC_FULL.md §7:
// a missing required key or an invalid range is fatal at startup.
func (c *Config) Validate() error {
	if c.GeoStore.BaseURL == "" {
		return fmt.Errorf("config: GEOSTORE_BASE_URL is required")
	}
	if c.Spawner.WindowSeconds <= 0 {
		return fmt.Errorf("config: SPAWNER_WINDOW_SECONDS must be positive, got %d", c.Spawner.WindowSeconds)
	}
	if c.Conductor.Capacity <= 0 {
		return fmt.Errorf("config: CONDUCTOR_CAPACITY must be positive, got %d", c.Conductor.Capacity)
	}
	if c.RouteReservoir.GridCellDegrees <= 0 {
		return fmt.Errorf("config: ROUTE_RESERVOIR_GRID_CELL_DEGREES must be positive, got %f", c.RouteReservoir.GridCellDegrees)
	}
	return nil
}
