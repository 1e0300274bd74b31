package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	apperrors "github.com/aditya/ridelink/internal/errors"
	"github.com/aditya/ridelink/pkg/utils"
)

const (
	IdempotencyHeader = "Idempotency-Key"
	idempotencyTTL    = 24 * time.Hour
	idempotencyLock   = 30 * time.Second
)

// Idempotency replays the stored response when a mutating request is retried
// with the same Idempotency-Key. Lifecycle intents are retried by clients on
// flaky networks; replaying keeps a retried accept from reporting a conflict
// for a write that already succeeded.
type Idempotency struct {
	redis     *redis.Client
	namespace string
}

type cachedResponse struct {
	StatusCode  int    `json:"status_code"`
	ContentType string `json:"content_type"`
	Body        []byte `json:"body"`
	BodyHash    string `json:"body_hash"`
}

func NewIdempotency(redisClient *redis.Client, namespace string) *Idempotency {
	return &Idempotency{redis: redisClient, namespace: namespace}
}

// recorder captures the response for caching
type recorder struct {
	http.ResponseWriter
	statusCode int
	body       bytes.Buffer
}

func (rw *recorder) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *recorder) Write(b []byte) (int, error) {
	rw.body.Write(b)
	return rw.ResponseWriter.Write(b)
}

func (m *Idempotency) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost && r.Method != http.MethodPut && r.Method != http.MethodPatch {
			next.ServeHTTP(w, r)
			return
		}
		key := r.Header.Get(IdempotencyHeader)
		if key == "" {
			next.ServeHTTP(w, r)
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			utils.BadRequest(w, "failed to read request body")
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		scope := "anon"
		if u, ok := UserFrom(r.Context()); ok {
			scope = u.ID
		}
		cacheKey := m.namespace + ":idempotency:" + scope + ":" + key
		bodyHash := hashRequest(r.Method, r.URL.Path, body)
		ctx := r.Context()

		if cached, err := m.lookup(ctx, cacheKey); err == nil {
			if cached.BodyHash != bodyHash {
				utils.Error(w, apperrors.IdempotencyConflict())
				return
			}
			w.Header().Set("Content-Type", cached.ContentType)
			w.Header().Set("Idempotent-Replayed", "true")
			w.WriteHeader(cached.StatusCode)
			w.Write(cached.Body)
			return
		}

		lockKey := cacheKey + ":lock"
		locked, err := m.redis.SetNX(ctx, lockKey, "1", idempotencyLock).Result()
		if err != nil || !locked {
			utils.Error(w, apperrors.NewAPIError("request_in_progress", "a request with this idempotency key is already being processed", http.StatusConflict))
			return
		}
		defer m.redis.Del(context.WithoutCancel(ctx), lockKey)

		rw := &recorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)

		// only successful responses are replayed
		if rw.statusCode < 200 || rw.statusCode >= 300 {
			return
		}
		data, err := json.Marshal(cachedResponse{
			StatusCode:  rw.statusCode,
			ContentType: rw.Header().Get("Content-Type"),
			Body:        rw.body.Bytes(),
			BodyHash:    bodyHash,
		})
		if err == nil {
			m.redis.Set(context.WithoutCancel(ctx), cacheKey, data, idempotencyTTL)
		}
	})
}

func (m *Idempotency) lookup(ctx context.Context, key string) (*cachedResponse, error) {
	data, err := m.redis.Get(ctx, key).Bytes()
	if err != nil {
		return nil, err
	}

	var cached cachedResponse
	if err := json.Unmarshal(data, &cached); err != nil {
		return nil, err
	}
	return &cached, nil
}

func hashRequest(method, path string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(method + " " + path + "\n"))
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}
