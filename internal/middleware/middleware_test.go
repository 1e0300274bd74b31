package middleware

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aditya/ridelink/internal/identity"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func signedInAs(r *http.Request, uid string) *http.Request {
	return r.WithContext(WithUser(r.Context(), identity.User{ID: uid}))
}

func TestAuth(t *testing.T) {
	provider := identity.StaticProvider{"good": {ID: "u1", Name: "Mona"}}
	var seen identity.User
	h := Auth(provider)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = UserFrom(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer good")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "u1", seen.ID)

	seen = identity.User{}
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/?access_token=good", nil))
	assert.Equal(t, "u1", seen.ID)
}

func TestRecovery(t *testing.T) {
	h := Recovery(zerolog.Nop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "internal_error")
}

func TestLogger(t *testing.T) {
	var out strings.Builder
	logger := zerolog.New(&out)
	h := Logger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/brew", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Contains(t, out.String(), `"status":418`)
	assert.Contains(t, out.String(), `"route":"/brew"`)
}

func TestRateLimiter(t *testing.T) {
	mr, client := newRedis(t)
	rl := NewRateLimiter(client, "test", 2, time.Minute, zerolog.Nop())
	h := rl.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	call := func(uid string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, signedInAs(httptest.NewRequest(http.MethodPost, "/v1/driver/pool", nil), uid))
		return rec
	}

	assert.Equal(t, http.StatusOK, call("d1").Code)
	rec := call("d1")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))

	rec = call("d1")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))

	// counted per caller
	assert.Equal(t, http.StatusOK, call("d2").Code)

	mr.FastForward(time.Minute)
	assert.Equal(t, http.StatusOK, call("d1").Code)
}

func TestRateLimiter_FailsOpen(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1, DialTimeout: 100 * time.Millisecond})
	t.Cleanup(func() { client.Close() })
	rl := NewRateLimiter(client, "test", 1, time.Minute, zerolog.Nop())
	h := rl.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestIdempotency(t *testing.T) {
	_, client := newRedis(t)
	var calls atomic.Int32
	h := NewIdempotency(client, "test").Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		fmt.Fprintf(w, `{"call":%d}`, n)
	}))

	post := func(uid, key, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/v1/customer/rides", strings.NewReader(body))
		if key != "" {
			req.Header.Set(IdempotencyHeader, key)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, signedInAs(req, uid))
		return rec
	}

	first := post("c1", "k1", `{"price":25}`)
	require.Equal(t, http.StatusCreated, first.Code)
	assert.JSONEq(t, `{"call":1}`, first.Body.String())

	replay := post("c1", "k1", `{"price":25}`)
	assert.Equal(t, http.StatusCreated, replay.Code)
	assert.JSONEq(t, `{"call":1}`, replay.Body.String())
	assert.Equal(t, "true", replay.Header().Get("Idempotent-Replayed"))
	assert.EqualValues(t, 1, calls.Load())

	conflict := post("c1", "k1", `{"price":30}`)
	assert.Equal(t, http.StatusConflict, conflict.Code)

	// keys are scoped per user
	other := post("c2", "k1", `{"price":30}`)
	assert.Equal(t, http.StatusCreated, other.Code)

	post("c1", "", `{"price":25}`)
	assert.EqualValues(t, 3, calls.Load())
}

func TestIdempotency_InProgress(t *testing.T) {
	_, client := newRedis(t)
	require.NoError(t, client.SetNX(context.Background(), "test:idempotency:c1:k1:lock", "1", time.Minute).Err())

	h := NewIdempotency(client, "test").Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run while another request holds the key")
	}))
	req := httptest.NewRequest(http.MethodPost, "/v1/customer/rides", strings.NewReader(`{}`))
	req.Header.Set(IdempotencyHeader, "k1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, signedInAs(req, "c1"))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "request_in_progress")
}
