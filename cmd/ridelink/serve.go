package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/aditya/ridelink/internal/geo"
	"github.com/aditya/ridelink/internal/handler"
	"github.com/aditya/ridelink/internal/identity"
	"github.com/aditya/ridelink/internal/imagehost"
	"github.com/aditya/ridelink/internal/logging"
	"github.com/aditya/ridelink/internal/service"
)

const devJWTSecret = "ridelink-dev-secret"

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long: `Run the HTTP API. The ride store, profile store and local cache are
chosen with STORE_BACKEND and CACHE_BACKEND.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := load()
		if err != nil {
			return err
		}

		nrApp := newRelicApp(cfg, logger)
		defer shutdownNewRelic(nrApp)

		b, err := openBackends(cfg, logger)
		if err != nil {
			return err
		}
		defer b.Close()

		secret := cfg.JWTSecret
		if secret == "" {
			logger.Warn().Msg("JWT_SECRET not set, using the development secret")
			secret = devJWTSecret
		}
		provider := identity.NewJWTProvider(secret, cfg.JWTTTL)

		var uploader imagehost.Uploader
		if cfg.ImageHostKey != "" {
			uploader = imagehost.NewClient(cfg.ImageHostURL, cfg.ImageHostKey)
		}

		index := geo.NewPlaceIndex(geo.CairoPlaces)
		geocoder := geo.NewIndexGeocoder(index, 0)
		clock := service.RealClock()

		sessions := service.NewSessionManager(service.Deps{
			Rides:    b.rides,
			Profiles: b.profiles,
			Mirror:   b.mirror,
			Geocoder: geocoder,
			Clock:    clock,
			Logger:   logging.WithComponent(logger, "controller"),
		}, lifecycleConfig(cfg.ProximityMiles, cfg.CompletedWindow, cfg.GraceWindow), cfg.LocationInterval)
		defer sessions.CloseAll()

		router := handler.NewRouter(handler.RouterOptions{
			Identity:  provider,
			Sessions:  sessions,
			Profiles:  service.NewProfileService(b.profiles, b.mirror, uploader, clock, logging.WithComponent(logger, "profile")),
			Places:    service.NewPlaceService(index, geocoder, b.mirror),
			Pricing:   service.NewPricingService(),
			Redis:     b.redis,
			Namespace: cfg.StoreNamespace,
			RateLimit: cfg.RateLimit,
			NewRelic:  nrApp,
			Health:    b.health,
			Logger:    logging.WithComponent(logger, "http"),
		})

		srv := &http.Server{
			Addr:        ":" + cfg.Port,
			Handler:     router,
			ReadTimeout: 15 * time.Second,
			// no write timeout: view streams stay open
			IdleTimeout: 60 * time.Second,
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		errCh := make(chan error, 1)
		go func() {
			logger.Info().
				Str("port", cfg.Port).
				Str("store", cfg.StoreBackend).
				Str("cache", cfg.CacheBackend).
				Msg("server starting")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
			close(errCh)
		}()

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
		}

		logger.Info().Msg("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		// streams only end once their sessions close
		sessions.CloseAll()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		logger.Info().Msg("server stopped gracefully")
		return nil
	},
}

func lifecycleConfig(proximity float64, window, grace time.Duration) service.Config {
	cfg := service.DefaultConfig()
	cfg.ProximityMiles = proximity
	cfg.CompletedWindow = window
	cfg.GraceWindow = grace
	return cfg
}
