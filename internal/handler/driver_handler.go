package handler

import (
	"net/http"

	"github.com/aditya/ridelink/internal/models"
	"github.com/aditya/ridelink/internal/service"
	"github.com/aditya/ridelink/pkg/utils"
)

// GET /v1/driver/pool
func (h *RideHandler) Pool(w http.ResponseWriter, r *http.Request) {
	ctrl := h.controller(w, r, models.RoleDriver)
	if ctrl == nil {
		return
	}
	pool := ctrl.Pool()
	if pool == nil {
		pool = []service.PoolEntry{}
	}
	utils.Success(w, http.StatusOK, map[string]interface{}{
		"pool":  pool,
		"count": len(pool),
	})
}

// POST /v1/driver/position
// Records the device position used to rank the pool and to start trips
// when no fix is sent with the intent.
func (h *RideHandler) UpdatePosition(w http.ResponseWriter, r *http.Request) {
	pos, err := h.decodePosition(r)
	if err != nil {
		utils.BadRequest(w, err.Error())
		return
	}
	if pos == nil {
		utils.BadRequest(w, "position is required")
		return
	}
	ctrl := h.controller(w, r, models.RoleDriver)
	if ctrl == nil {
		return
	}
	ctrl.UpdatePosition(*pos)
	utils.Success(w, http.StatusOK, ctrl.View())
}

// POST /v1/driver/rides/{id}/accept
func (h *RideHandler) Accept(w http.ResponseWriter, r *http.Request) {
	h.intent(models.RoleDriver, func(r *http.Request, ctrl *service.RideController, id string) error {
		_, err := ctrl.Accept(r.Context(), id)
		return err
	})(w, r)
}

// POST /v1/driver/rides/{id}/start
func (h *RideHandler) StartTrip(w http.ResponseWriter, r *http.Request) {
	pos, err := h.decodePosition(r)
	if err != nil {
		utils.BadRequest(w, err.Error())
		return
	}
	h.intent(models.RoleDriver, func(r *http.Request, ctrl *service.RideController, id string) error {
		_, err := ctrl.StartTrip(r.Context(), id, pos)
		return err
	})(w, r)
}

// POST /v1/driver/rides/{id}/location
func (h *RideHandler) PushLocation(w http.ResponseWriter, r *http.Request) {
	pos, err := h.decodePosition(r)
	if err != nil {
		utils.BadRequest(w, err.Error())
		return
	}
	h.intent(models.RoleDriver, func(r *http.Request, ctrl *service.RideController, id string) error {
		_, err := ctrl.PushLocation(r.Context(), id, pos)
		return err
	})(w, r)
}

// POST /v1/driver/rides/{id}/complete
func (h *RideHandler) Complete(w http.ResponseWriter, r *http.Request) {
	h.intent(models.RoleDriver, func(r *http.Request, ctrl *service.RideController, id string) error {
		_, err := ctrl.Complete(r.Context(), id)
		return err
	})(w, r)
}
