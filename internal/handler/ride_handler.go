package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/aditya/ridelink/internal/identity"
	"github.com/aditya/ridelink/internal/middleware"
	"github.com/aditya/ridelink/internal/models"
	"github.com/aditya/ridelink/internal/service"
	"github.com/aditya/ridelink/pkg/utils"
)

// RideHandler exposes the lifecycle controller of the caller's session.
// Every request acts on the session for the signed-in user and the role in
// the path; the session is opened on first use.
type RideHandler struct {
	sessions *service.SessionManager
	profiles *service.ProfileService
	stream   *SSEHandler
	validate *validator.Validate
	logger   zerolog.Logger
}

func NewRideHandler(sessions *service.SessionManager, profiles *service.ProfileService, stream *SSEHandler, logger zerolog.Logger) *RideHandler {
	return &RideHandler{
		sessions: sessions,
		profiles: profiles,
		stream:   stream,
		validate: validator.New(),
		logger:   logger,
	}
}

func (h *RideHandler) RegisterRoutes(r chi.Router) {
	r.Route("/customer", func(r chi.Router) {
		h.sessionRoutes(r, models.RoleCustomer)
		r.Post("/rides", h.RequestRide)
		r.Post("/rides/{id}/cancel", h.Cancel(models.RoleCustomer))
	})
	r.Route("/driver", func(r chi.Router) {
		h.sessionRoutes(r, models.RoleDriver)
		r.Get("/pool", h.Pool)
		r.Post("/position", h.UpdatePosition)
		r.Post("/rides/{id}/accept", h.Accept)
		r.Post("/rides/{id}/start", h.StartTrip)
		r.Post("/rides/{id}/location", h.PushLocation)
		r.Post("/rides/{id}/complete", h.Complete)
		r.Post("/rides/{id}/cancel", h.Cancel(models.RoleDriver))
	})
}

func (h *RideHandler) sessionRoutes(r chi.Router, role models.Role) {
	r.Post("/session", h.OpenSession(role))
	r.Delete("/session", h.CloseSession(role))
	r.Get("/ride", h.GetView(role))
	r.Post("/ride/reset", h.Reset(role))
	if h.stream != nil {
		r.Get("/ride/stream", h.stream.Stream(role))
	}
}

// controller resolves the caller's session. It writes the error response
// itself and returns nil when there is none.
func (h *RideHandler) controller(w http.ResponseWriter, r *http.Request, role models.Role) *service.RideController {
	user, ok := signedIn(r)
	if !ok {
		utils.Unauthorized(w, "sign in required")
		return nil
	}
	ctrl, err := h.sessions.Get(r.Context(), user, role)
	if err != nil {
		utils.FromError(w, err)
		return nil
	}
	return ctrl
}

// POST /v1/{role}/session
func (h *RideHandler) OpenSession(role models.Role) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := signedIn(r)
		if !ok {
			utils.Unauthorized(w, "sign in required")
			return
		}
		if h.profiles != nil {
			if _, err := h.profiles.EnsureProfile(r.Context(), user, role); err != nil {
				utils.FromError(w, err)
				return
			}
		}
		ctrl := h.controller(w, r, role)
		if ctrl == nil {
			return
		}
		utils.Success(w, http.StatusOK, ctrl.View())
	}
}

// DELETE /v1/{role}/session
func (h *RideHandler) CloseSession(role models.Role) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := signedIn(r)
		if !ok {
			utils.Unauthorized(w, "sign in required")
			return
		}
		h.sessions.Close(user.ID, role)
		utils.NoContent(w)
	}
}

// GET /v1/{role}/ride
func (h *RideHandler) GetView(role models.Role) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctrl := h.controller(w, r, role)
		if ctrl == nil {
			return
		}
		utils.Success(w, http.StatusOK, ctrl.View())
	}
}

// POST /v1/{role}/ride/reset
func (h *RideHandler) Reset(role models.Role) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctrl := h.controller(w, r, role)
		if ctrl == nil {
			return
		}
		if err := ctrl.Reset(); err != nil {
			utils.FromError(w, err)
			return
		}
		utils.Success(w, http.StatusOK, ctrl.View())
	}
}

// POST /v1/customer/rides
func (h *RideHandler) RequestRide(w http.ResponseWriter, r *http.Request) {
	var req models.RideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.BadRequest(w, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		utils.BadRequest(w, err.Error())
		return
	}

	ctrl := h.controller(w, r, models.RoleCustomer)
	if ctrl == nil {
		return
	}
	if _, err := ctrl.RequestRide(r.Context(), req); err != nil {
		utils.FromError(w, err)
		return
	}
	utils.Created(w, ctrl.View())
}

// POST /v1/{role}/rides/{id}/cancel
func (h *RideHandler) Cancel(role models.Role) http.HandlerFunc {
	return h.intent(role, func(r *http.Request, ctrl *service.RideController, id string) error {
		_, err := ctrl.Cancel(r.Context(), id)
		return err
	})
}

// intent runs a lifecycle operation on the ride in the path and answers
// with the resulting view.
func (h *RideHandler) intent(role models.Role, op func(r *http.Request, ctrl *service.RideController, id string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if id == "" {
			utils.BadRequest(w, "ride id is required")
			return
		}
		ctrl := h.controller(w, r, role)
		if ctrl == nil {
			return
		}
		if err := op(r, ctrl, id); err != nil {
			utils.FromError(w, err)
			return
		}
		utils.Success(w, http.StatusOK, ctrl.View())
	}
}

type positionRequest struct {
	Position *models.LatLng `json:"position"`
}

// decodePosition reads an optional device fix. An empty body means the
// server-side locator supplies the position.
func (h *RideHandler) decodePosition(r *http.Request) (*models.LatLng, error) {
	var req positionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		return nil, errors.New("invalid request body")
	}
	if req.Position == nil {
		return nil, nil
	}
	if err := h.validate.Struct(req.Position); err != nil {
		return nil, err
	}
	return req.Position, nil
}

// signedIn is the user stored by the auth middleware.
func signedIn(r *http.Request) (identity.User, bool) {
	return middleware.UserFrom(r.Context())
}
