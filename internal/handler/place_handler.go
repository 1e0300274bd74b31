package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/aditya/ridelink/internal/models"
	"github.com/aditya/ridelink/internal/service"
	"github.com/aditya/ridelink/pkg/utils"
)

type PlaceHandler struct {
	places   *service.PlaceService
	pricing  service.PricingService
	validate *validator.Validate
}

func NewPlaceHandler(places *service.PlaceService, pricing service.PricingService) *PlaceHandler {
	return &PlaceHandler{
		places:   places,
		pricing:  pricing,
		validate: validator.New(),
	}
}

func (h *PlaceHandler) RegisterRoutes(r chi.Router) {
	r.Get("/places/search", h.Search)
	r.Get("/places/nearby", h.Nearby)
	r.Get("/places/recent", h.Recent)
	r.Post("/places/select", h.SelectPoint)
	r.Post("/places/{id}/select", h.Select)
	r.Get("/quote", h.Quote)
}

// GET /v1/places/search?q=&lat=&lng=&limit=
func (h *PlaceHandler) Search(w http.ResponseWriter, r *http.Request) {
	origin, err := queryPoint(r, "lat", "lng", false)
	if err != nil {
		utils.BadRequest(w, err.Error())
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	hits := h.places.Search(r.URL.Query().Get("q"), origin, limit)
	if hits == nil {
		hits = []models.PlaceWithDistance{}
	}
	utils.Success(w, http.StatusOK, map[string]interface{}{"places": hits})
}

// GET /v1/places/nearby?lat=&lng=&k=
func (h *PlaceHandler) Nearby(w http.ResponseWriter, r *http.Request) {
	p, err := queryPoint(r, "lat", "lng", true)
	if err != nil {
		utils.BadRequest(w, err.Error())
		return
	}
	k, _ := strconv.Atoi(r.URL.Query().Get("k"))

	hits := h.places.Nearby(*p, k)
	if hits == nil {
		hits = []models.PlaceWithDistance{}
	}
	utils.Success(w, http.StatusOK, map[string]interface{}{"places": hits})
}

// GET /v1/places/recent
func (h *PlaceHandler) Recent(w http.ResponseWriter, r *http.Request) {
	user, ok := signedIn(r)
	if !ok {
		utils.Unauthorized(w, "sign in required")
		return
	}

	recent, err := h.places.Recent(user.ID)
	if err != nil {
		utils.FromError(w, err)
		return
	}
	if recent == nil {
		recent = []models.Place{}
	}
	utils.Success(w, http.StatusOK, map[string]interface{}{"places": recent})
}

// POST /v1/places/{id}/select
func (h *PlaceHandler) Select(w http.ResponseWriter, r *http.Request) {
	user, ok := signedIn(r)
	if !ok {
		utils.Unauthorized(w, "sign in required")
		return
	}

	place, recent, err := h.places.Select(user.ID, chi.URLParam(r, "id"))
	if err != nil {
		utils.FromError(w, err)
		return
	}
	utils.Success(w, http.StatusOK, map[string]interface{}{"place": place, "recent": recent})
}

// POST /v1/places/select
// Selects an arbitrary map point; the address comes from reverse geocoding.
func (h *PlaceHandler) SelectPoint(w http.ResponseWriter, r *http.Request) {
	user, ok := signedIn(r)
	if !ok {
		utils.Unauthorized(w, "sign in required")
		return
	}

	var p models.LatLng
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		utils.BadRequest(w, "invalid request body")
		return
	}
	if err := h.validate.Struct(p); err != nil {
		utils.BadRequest(w, err.Error())
		return
	}

	place, recent, err := h.places.SelectPoint(r.Context(), user.ID, p)
	if err != nil {
		utils.FromError(w, err)
		return
	}
	utils.Success(w, http.StatusOK, map[string]interface{}{"place": place, "recent": recent})
}

// GET /v1/quote?pickup_lat=&pickup_lng=&dest_lat=&dest_lng=&tier=
// Without a tier every tier is quoted.
func (h *PlaceHandler) Quote(w http.ResponseWriter, r *http.Request) {
	pickup, err := queryPoint(r, "pickup_lat", "pickup_lng", true)
	if err != nil {
		utils.BadRequest(w, err.Error())
		return
	}
	dest, err := queryPoint(r, "dest_lat", "dest_lng", true)
	if err != nil {
		utils.BadRequest(w, err.Error())
		return
	}

	tiers := []string{service.TierEconomy, service.TierComfort, service.TierXL}
	if tier := r.URL.Query().Get("tier"); tier != "" {
		if err := h.validate.Var(tier, "oneof=economy comfort xl"); err != nil {
			utils.BadRequest(w, fmt.Sprintf("unknown tier %q", tier))
			return
		}
		tiers = []string{tier}
	}

	quotes := make([]*service.Quote, 0, len(tiers))
	for _, tier := range tiers {
		quotes = append(quotes, h.pricing.Quote(tier, *pickup, *dest))
	}
	utils.Success(w, http.StatusOK, map[string]interface{}{"quotes": quotes})
}

// queryPoint parses a coordinate pair from the query string. It returns
// nil when both are absent and the point is optional.
func queryPoint(r *http.Request, latKey, lngKey string, required bool) (*models.LatLng, error) {
	q := r.URL.Query()
	latStr, lngStr := q.Get(latKey), q.Get(lngKey)
	if latStr == "" && lngStr == "" {
		if required {
			return nil, fmt.Errorf("%s and %s are required", latKey, lngKey)
		}
		return nil, nil
	}

	lat, err := strconv.ParseFloat(latStr, 64)
	if err != nil || lat < -90 || lat > 90 {
		return nil, fmt.Errorf("invalid %s", latKey)
	}
	lng, err := strconv.ParseFloat(lngStr, 64)
	if err != nil || lng < -180 || lng > 180 {
		return nil, fmt.Errorf("invalid %s", lngKey)
	}
	return &models.LatLng{Lat: lat, Lng: lng}, nil
}
