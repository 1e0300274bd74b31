package main

import (
	"fmt"
	"os"
	"time"

	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/aditya/ridelink/internal/cache"
	"github.com/aditya/ridelink/internal/config"
	"github.com/aditya/ridelink/internal/database"
	"github.com/aditya/ridelink/internal/handler"
	"github.com/aditya/ridelink/internal/logging"
	"github.com/aditya/ridelink/internal/repository"
	"github.com/aditya/ridelink/pkg/utils"
)

// backends holds the stores selected by configuration.
type backends struct {
	rides    repository.RideRepository
	profiles repository.ProfileRepository
	mirror   cache.Mirror
	redis    *redis.Client
	health   map[string]handler.Checker
	closers  []func() error
}

func openBackends(cfg *config.Config, logger zerolog.Logger) (b *backends, err error) {
	b = &backends{health: make(map[string]handler.Checker)}
	defer func() {
		if err != nil {
			b.Close()
		}
	}()
	storeLog := logging.WithComponent(logger, "store")

	needRedis := cfg.StoreBackend == config.BackendRedis || cfg.CacheBackend == config.BackendRedis
	rdb, rerr := database.NewRedis(cfg.RedisURL, cfg.RedisPassword, cfg.RedisPoolSize)
	switch {
	case rerr == nil:
		b.redis = rdb.Client
		b.closers = append(b.closers, rdb.Close)
		b.health["redis"] = rdb.Health
		logger.Info().Str("addr", cfg.RedisURL).Msg("connected to Redis")
	case needRedis:
		return b, fmt.Errorf("connect to Redis: %w", rerr)
	default:
		logger.Warn().Err(rerr).Msg("Redis unavailable, rate limiting and idempotency disabled")
	}

	switch cfg.StoreBackend {
	case config.BackendMemory:
		b.rides = repository.NewMemoryRideRepository(utils.GenerateID, storeLog)
		b.profiles = repository.NewMemoryProfileRepository()
	case config.BackendRedis:
		rides := repository.NewRedisRideRepository(b.redis, cfg.StoreNamespace, storeLog)
		b.closers = append(b.closers, rides.Close)
		b.rides = rides
		b.profiles = repository.NewRedisProfileRepository(b.redis, cfg.StoreNamespace)
	case config.BackendPostgres:
		if err := database.Migrate(cfg.DatabaseURL, 0, storeLog); err != nil {
			return b, err
		}
		db, err := database.NewPostgres(cfg.DatabaseURL, cfg.DBMaxConnections, cfg.DBMaxIdleConnections)
		if err != nil {
			return b, fmt.Errorf("connect to PostgreSQL: %w", err)
		}
		b.closers = append(b.closers, db.Close)
		b.health["database"] = db.Health
		rides := repository.NewPostgresRideRepository(db.DB, db.URL, storeLog)
		b.closers = append(b.closers, rides.Close)
		b.rides = rides
		b.profiles = repository.NewPostgresProfileRepository(db.DB)
		logger.Info().Msg("connected to PostgreSQL")
	}

	switch cfg.CacheBackend {
	case config.BackendMemory:
		b.mirror = cache.NewMemoryMirror()
	case config.BackendBolt:
		bolt, err := cache.OpenBolt(cfg.CachePath)
		if err != nil {
			return b, fmt.Errorf("open cache: %w", err)
		}
		b.closers = append(b.closers, bolt.Close)
		b.mirror = bolt
	case config.BackendRedis:
		b.mirror = cache.NewRedisMirror(b.redis, cfg.StoreNamespace+":cache")
	}

	return b, nil
}

// Close releases everything in reverse order of opening.
func (b *backends) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
	b.closers = nil
}

func newRelicApp(cfg *config.Config, logger zerolog.Logger) *newrelic.Application {
	if !cfg.NewRelicEnabled || cfg.NewRelicLicenseKey == "" {
		return nil
	}
	app, err := newrelic.NewApplication(
		newrelic.ConfigAppName(cfg.NewRelicAppName),
		newrelic.ConfigLicense(cfg.NewRelicLicenseKey),
		newrelic.ConfigDistributedTracerEnabled(true),
		newrelic.ConfigAppLogForwardingEnabled(true),
		newrelic.ConfigInfoLogger(os.Stdout),
	)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to initialize New Relic")
		return nil
	}
	if err := app.WaitForConnection(10 * time.Second); err != nil {
		logger.Warn().Err(err).Msg("New Relic connection timeout")
	} else {
		logger.Info().Msg("New Relic connected")
	}
	return app
}

// shutdownNewRelic flushes pending APM data.
func shutdownNewRelic(app *newrelic.Application) {
	if app != nil {
		app.Shutdown(5 * time.Second)
	}
}
