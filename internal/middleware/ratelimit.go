package middleware

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	apperrors "github.com/aditya/ridelink/internal/errors"
	"github.com/aditya/ridelink/pkg/utils"
)

// RateLimiter is a fixed-window counter per caller and path kept in Redis.
// Signed-in callers are counted by uid, everyone else by client address.
type RateLimiter struct {
	redis     *redis.Client
	namespace string
	requests  int
	window    time.Duration
	logger    zerolog.Logger
}

func NewRateLimiter(redisClient *redis.Client, namespace string, requests int, window time.Duration, logger zerolog.Logger) *RateLimiter {
	return &RateLimiter{
		redis:     redisClient,
		namespace: namespace,
		requests:  requests,
		window:    window,
		logger:    logger,
	}
}

func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := rl.namespace + ":ratelimit:" + callerKey(r) + ":" + r.URL.Path

		allowed, remaining, ttl, err := rl.isAllowed(r.Context(), key)
		if err != nil {
			// fail open
			rl.logger.Warn().Err(err).Msg("rate limit check failed")
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.requests))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))

		if !allowed {
			if ttl > 0 {
				w.Header().Set("Retry-After", strconv.Itoa(int(ttl.Round(time.Second).Seconds())))
			}
			utils.Error(w, apperrors.NewAPIError("rate_limit_exceeded", "too many requests, please try again later", http.StatusTooManyRequests))
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (rl *RateLimiter) isAllowed(ctx context.Context, key string) (bool, int, time.Duration, error) {
	pipe := rl.redis.Pipeline()
	incr := pipe.Incr(ctx, key)
	ttl := pipe.TTL(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return true, rl.requests, 0, err
	}

	window := ttl.Val()
	if window < 0 {
		// first hit of the window
		if err := rl.redis.Expire(ctx, key, rl.window).Err(); err != nil {
			return true, rl.requests, 0, err
		}
		window = rl.window
	}

	count := int(incr.Val())
	remaining := rl.requests - count
	if remaining < 0 {
		remaining = 0
	}
	return count <= rl.requests, remaining, window, nil
}

func callerKey(r *http.Request) string {
	if u, ok := UserFrom(r.Context()); ok {
		return "u:" + u.ID
	}
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return "ip:" + strings.TrimSpace(strings.Split(forwarded, ",")[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}
