package handler

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aditya/ridelink/internal/cache"
	"github.com/aditya/ridelink/internal/geo"
	"github.com/aditya/ridelink/internal/identity"
	"github.com/aditya/ridelink/internal/repository"
	"github.com/aditya/ridelink/internal/service"
)

const (
	customerToken = "tok-c1"
	driverToken   = "tok-d1"
)

type testServer struct {
	router   http.Handler
	sessions *service.SessionManager
	rides    *repository.MemoryRideRepository
}

func newTestServer(t *testing.T, health map[string]Checker) *testServer {
	t.Helper()

	var seq atomic.Int64
	rides := repository.NewMemoryRideRepository(func() string { return fmt.Sprintf("ride-%d", seq.Add(1)) }, zerolog.Nop())
	profiles := repository.NewMemoryProfileRepository()
	mirror := cache.NewMemoryMirror()
	index := geo.NewPlaceIndex(geo.CairoPlaces)
	geocoder := geo.NewIndexGeocoder(index, 0)

	deps := service.Deps{
		Rides:    rides,
		Profiles: profiles,
		Mirror:   mirror,
		Geocoder: geocoder,
		Clock:    service.RealClock(),
		Logger:   zerolog.Nop(),
	}
	sessions := service.NewSessionManager(deps, service.DefaultConfig(), 0)
	t.Cleanup(sessions.CloseAll)

	router := NewRouter(RouterOptions{
		Identity: identity.StaticProvider{
			customerToken: {ID: "c1", Name: "Mona"},
			driverToken:   {ID: "d1", Name: "Karim"},
		},
		Sessions:  sessions,
		Profiles:  service.NewProfileService(profiles, mirror, nil, service.RealClock(), zerolog.Nop()),
		Places:    service.NewPlaceService(index, geocoder, mirror),
		Pricing:   service.NewPricingService(),
		Health:    health,
		Heartbeat: time.Hour,
		Logger:    zerolog.Nop(),
	})
	return &testServer{router: router, sessions: sessions, rides: rides}
}

func (s *testServer) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

type viewBody struct {
	Role      string `json:"role"`
	Status    string `json:"status"`
	Lingering bool   `json:"lingering"`
	Notice    string `json:"notice"`
	Ride      *struct {
		ID                string  `json:"id"`
		DriverID          string  `json:"driverId"`
		CalculatedMileage float64 `json:"calculatedMileage"`
		DriverPhoneNumber string  `json:"driverPhoneNumber"`
	} `json:"ride"`
}

func decodeView(t *testing.T, rec *httptest.ResponseRecorder) viewBody {
	t.Helper()
	var v viewBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body["error"]
}

var requestBody = map[string]interface{}{
	"pickup":          map[string]float64{"lat": 30.0444, "lng": 31.2357},
	"destination":     map[string]float64{"lat": 30.0561, "lng": 31.3301},
	"estimated_price": 25,
}

func TestRouter_RequiresSignIn(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodGet, "/v1/customer/ride", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodGet, "/v1/customer/ride", "bogus", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Zero(t, s.sessions.Len())
}

func TestRouter_RideLifecycle(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodPost, "/v1/customer/session", customerToken, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "none", decodeView(t, rec).Status)

	rec = s.do(t, http.MethodPut, "/v1/profile/phone", driverToken, map[string]string{
		"phone_number": "+201001234567",
		"user_type":    "driver",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodPost, "/v1/customer/rides", customerToken, requestBody)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	view := decodeView(t, rec)
	assert.Equal(t, "pending", view.Status)
	require.NotNil(t, view.Ride)
	id := view.Ride.ID

	// one active ride per customer
	rec = s.do(t, http.MethodPost, "/v1/customer/rides", customerToken, requestBody)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(t, http.MethodGet, "/v1/driver/pool", driverToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var pool struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pool))
	assert.Equal(t, 1, pool.Count)

	rec = s.do(t, http.MethodPost, "/v1/driver/rides/"+id+"/accept", driverToken, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	view = decodeView(t, rec)
	assert.Equal(t, "accepted", view.Status)
	assert.Equal(t, "d1", view.Ride.DriverID)
	assert.Equal(t, "+201001234567", view.Ride.DriverPhoneNumber)

	// no position posted and none known: the default location is not used
	rec = s.do(t, http.MethodPost, "/v1/driver/rides/"+id+"/start", driverToken, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "location_unavailable", errorCode(t, rec))

	// far from pickup
	rec = s.do(t, http.MethodPost, "/v1/driver/rides/"+id+"/start", driverToken, map[string]interface{}{
		"position": map[string]float64{"lat": 30.0561, "lng": 31.3301},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "too_far_from_pickup", errorCode(t, rec))

	rec = s.do(t, http.MethodPost, "/v1/driver/rides/"+id+"/start", driverToken, map[string]interface{}{
		"position": map[string]float64{"lat": 30.0445, "lng": 31.2358},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "started", decodeView(t, rec).Status)

	rec = s.do(t, http.MethodPost, "/v1/customer/rides/"+id+"/cancel", customerToken, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_transition", errorCode(t, rec))

	rec = s.do(t, http.MethodPost, "/v1/driver/rides/"+id+"/location", driverToken, map[string]interface{}{
		"position": map[string]float64{"lat": 30.0500, "lng": 31.2600},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Greater(t, decodeView(t, rec).Ride.CalculatedMileage, 1.0)

	rec = s.do(t, http.MethodPost, "/v1/driver/rides/"+id+"/complete", driverToken, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	view = decodeView(t, rec)
	assert.Equal(t, "completed", view.Status)
	assert.True(t, view.Lingering)

	rec = s.do(t, http.MethodGet, "/v1/customer/ride", customerToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	view = decodeView(t, rec)
	assert.Equal(t, "completed", view.Status)
	assert.True(t, view.Lingering)

	rec = s.do(t, http.MethodPost, "/v1/customer/ride/reset", customerToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "none", decodeView(t, rec).Status)

	rec = s.do(t, http.MethodDelete, "/v1/driver/session", driverToken, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 1, s.sessions.Len())
}

func TestRouter_AcceptRequiresPhone(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodPost, "/v1/customer/rides", customerToken, requestBody)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	id := decodeView(t, rec).Ride.ID

	rec = s.do(t, http.MethodPost, "/v1/driver/rides/"+id+"/accept", driverToken, nil)
	assert.Equal(t, http.StatusPreconditionRequired, rec.Code)
	assert.Equal(t, "phone_required", errorCode(t, rec))

	stored, err := s.rides.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "pending", string(stored.Status))
	assert.Empty(t, stored.DriverID)

	rec = s.do(t, http.MethodGet, "/v1/driver/ride", driverToken, nil)
	assert.NotEmpty(t, decodeView(t, rec).Notice)
}

func TestRouter_Validation(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodPost, "/v1/customer/rides", customerToken, map[string]interface{}{
		"pickup":          map[string]float64{"lat": 30.0444, "lng": 31.2357},
		"estimated_price": 25,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/v1/customer/rides", customerToken, map[string]interface{}{
		"pickup":          map[string]float64{"lat": 30.0444, "lng": 31.2357},
		"destination":     map[string]float64{"lat": 30.0561, "lng": 31.3301},
		"estimated_price": 0,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPut, "/v1/profile/phone", driverToken, map[string]string{"phone_number": "0100"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/v1/driver/rides/nope/accept", driverToken, nil)
	assert.Equal(t, http.StatusPreconditionRequired, rec.Code)

	rec = s.do(t, http.MethodPost, "/v1/driver/position", driverToken, map[string]interface{}{
		"position": map[string]float64{"lat": 130, "lng": 31},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRouter_Profile(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodGet, "/v1/profile", customerToken, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodPost, "/v1/customer/session", customerToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodPatch, "/v1/profile", customerToken, map[string]string{"display_name": "Mona A."})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodGet, "/v1/profile", customerToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var profile map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &profile))
	assert.Equal(t, "Mona A.", profile["displayName"])
	assert.Equal(t, "customer", profile["userType"])

	rec = s.do(t, http.MethodGet, "/v1/profile/phone", customerToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"phone_number":"","on_file":false}`, rec.Body.String())

	// no image host configured
	var form bytes.Buffer
	mw := multipart.NewWriter(&form)
	part, err := mw.CreateFormFile("photo", "me.png")
	require.NoError(t, err)
	part.Write([]byte("png"))
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, "/v1/profile/photo", &form)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+customerToken)
	rr := httptest.NewRecorder()
	s.router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestRouter_PlacesAndQuote(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodGet, "/v1/places/search?q=tahrir&lat=30.0444&lng=31.2357", customerToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var hits struct {
		Places []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"places"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &hits))
	require.NotEmpty(t, hits.Places)
	assert.Equal(t, "Tahrir Square", hits.Places[0].Name)

	rec = s.do(t, http.MethodPost, "/v1/places/"+hits.Places[0].ID+"/select", customerToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/v1/places/recent", customerToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &hits))
	require.Len(t, hits.Places, 1)

	rec = s.do(t, http.MethodPost, "/v1/places/unknown/select", customerToken, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodGet, "/v1/places/nearby", customerToken, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, "/v1/quote?pickup_lat=30.0444&pickup_lng=31.2357&dest_lat=30.0561&dest_lng=31.3301", customerToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var quotes struct {
		Quotes []service.Quote `json:"quotes"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &quotes))
	require.Len(t, quotes.Quotes, 3)
	assert.Less(t, quotes.Quotes[0].Total, quotes.Quotes[2].Total)

	rec = s.do(t, http.MethodGet, "/v1/quote?pickup_lat=30&pickup_lng=31&dest_lat=30.1&dest_lng=31.1&tier=limo", customerToken, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRouter_Health(t *testing.T) {
	s := newTestServer(t, map[string]Checker{
		"store": func(ctx context.Context) error { return nil },
	})
	rec := s.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","services":{"store":"up"}}`, rec.Body.String())

	s = newTestServer(t, map[string]Checker{
		"store": func(ctx context.Context) error { return nil },
		"redis": func(ctx context.Context) error { return errors.New("down") },
	})
	rec = s.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"status":"degraded","services":{"store":"up","redis":"down"}}`, rec.Body.String())
}

func TestRouter_StreamView(t *testing.T) {
	s := newTestServer(t, nil)
	srv := httptest.NewServer(s.router)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/v1/customer/ride/stream?access_token="+customerToken, nil)
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	events := make(chan string, 16)
	go func() {
		defer close(events)
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			if line := scanner.Text(); strings.HasPrefix(line, "data: ") {
				events <- strings.TrimPrefix(line, "data: ")
			}
		}
	}()

	next := func() map[string]interface{} {
		select {
		case data, ok := <-events:
			require.True(t, ok, "stream ended")
			var v map[string]interface{}
			require.NoError(t, json.Unmarshal([]byte(data), &v))
			return v
		case <-time.After(2 * time.Second):
			t.Fatal("no event")
			return nil
		}
	}

	assert.Equal(t, "none", next()["status"])

	rec := s.do(t, http.MethodPost, "/v1/customer/rides", customerToken, requestBody)
	require.Equal(t, http.StatusCreated, rec.Code)

	// views are latest-wins, so intermediate ones may be skipped
	status := ""
	for i := 0; i < 5 && status != "pending"; i++ {
		status, _ = next()["status"].(string)
	}
	assert.Equal(t, "pending", status)
}
