package handler

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/aditya/ridelink/internal/identity"
	"github.com/aditya/ridelink/internal/metrics"
	"github.com/aditya/ridelink/internal/middleware"
	"github.com/aditya/ridelink/internal/service"
	"github.com/aditya/ridelink/pkg/utils"
)

// Checker reports whether a dependency is reachable.
type Checker func(ctx context.Context) error

type RouterOptions struct {
	Identity identity.Provider
	Sessions *service.SessionManager
	Profiles *service.ProfileService
	Places   *service.PlaceService
	Pricing  service.PricingService

	// Redis enables rate limiting and idempotent replays. Both are skipped
	// when it is nil.
	Redis     *redis.Client
	Namespace string
	RateLimit int

	NewRelic  *newrelic.Application
	Health    map[string]Checker
	Heartbeat time.Duration
	Logger    zerolog.Logger
}

func NewRouter(opts RouterOptions) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(middleware.Recovery(opts.Logger))
	r.Use(middleware.NewRelic(opts.NewRelic))
	r.Use(middleware.Logger(opts.Logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", healthHandler(opts.Health))
	r.Handle("/metrics", metrics.Handler())

	stream := NewSSEHandler(opts.Sessions, opts.Heartbeat, opts.Logger)
	rides := NewRideHandler(opts.Sessions, opts.Profiles, stream, opts.Logger)
	users := NewUserHandler(opts.Profiles)
	places := NewPlaceHandler(opts.Places, opts.Pricing)

	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.Auth(opts.Identity))
		if opts.Redis != nil {
			limit := opts.RateLimit
			if limit <= 0 {
				limit = 100
			}
			r.Use(middleware.NewRateLimiter(opts.Redis, opts.Namespace, limit, time.Minute, opts.Logger).Handler)
			r.Use(middleware.NewIdempotency(opts.Redis, opts.Namespace).Handler)
		}

		rides.RegisterRoutes(r)
		users.RegisterRoutes(r)
		places.RegisterRoutes(r)
	})

	return r
}

// GET /health
func healthHandler(checks map[string]Checker) http.HandlerFunc {
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		services := make(map[string]string, len(names))
		for _, name := range names {
			if err := checks[name](ctx); err != nil {
				services[name] = "down"
				status = http.StatusServiceUnavailable
				continue
			}
			services[name] = "up"
		}

		overall := "ok"
		if status != http.StatusOK {
			overall = "degraded"
		}
		utils.JSON(w, status, map[string]interface{}{
			"status":   overall,
			"services": services,
		})
	}
}
