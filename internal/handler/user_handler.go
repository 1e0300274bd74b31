package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/aditya/ridelink/internal/models"
	"github.com/aditya/ridelink/internal/service"
	"github.com/aditya/ridelink/pkg/utils"
)

const maxPhotoBytes = 10 << 20

type UserHandler struct {
	profiles *service.ProfileService
	validate *validator.Validate
}

func NewUserHandler(profiles *service.ProfileService) *UserHandler {
	return &UserHandler{
		profiles: profiles,
		validate: validator.New(),
	}
}

func (h *UserHandler) RegisterRoutes(r chi.Router) {
	r.Get("/profile", h.GetProfile)
	r.Patch("/profile", h.UpdateProfile)
	r.Get("/profile/phone", h.GetPhone)
	r.Put("/profile/phone", h.SetPhone)
	r.Post("/profile/photo", h.UploadPhoto)
}

// GET /v1/profile
func (h *UserHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	user, ok := signedIn(r)
	if !ok {
		utils.Unauthorized(w, "sign in required")
		return
	}

	profile, err := h.profiles.GetProfile(r.Context(), user.ID)
	if err != nil {
		utils.FromError(w, err)
		return
	}
	utils.Success(w, http.StatusOK, profile)
}

// PATCH /v1/profile
func (h *UserHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	user, ok := signedIn(r)
	if !ok {
		utils.Unauthorized(w, "sign in required")
		return
	}

	var req models.UpdateProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.BadRequest(w, "invalid request body")
		return
	}

	profile, err := h.profiles.UpdateProfile(r.Context(), user.ID, &req)
	if err != nil {
		utils.FromError(w, err)
		return
	}
	utils.Success(w, http.StatusOK, profile)
}

// GET /v1/profile/phone
func (h *UserHandler) GetPhone(w http.ResponseWriter, r *http.Request) {
	user, ok := signedIn(r)
	if !ok {
		utils.Unauthorized(w, "sign in required")
		return
	}

	phone, err := h.profiles.PhoneNumber(r.Context(), user.ID)
	if err != nil {
		utils.FromError(w, err)
		return
	}
	utils.Success(w, http.StatusOK, map[string]interface{}{
		"phone_number": phone,
		"on_file":      phone != "",
	})
}

// PUT /v1/profile/phone
func (h *UserHandler) SetPhone(w http.ResponseWriter, r *http.Request) {
	user, ok := signedIn(r)
	if !ok {
		utils.Unauthorized(w, "sign in required")
		return
	}

	var req models.SetPhoneRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.BadRequest(w, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		utils.BadRequest(w, err.Error())
		return
	}

	role := req.UserType
	if role == "" {
		role = models.RoleCustomer
	}
	rec, err := h.profiles.SetPhone(r.Context(), user.ID, role, req.PhoneNumber)
	if err != nil {
		utils.FromError(w, err)
		return
	}
	utils.Success(w, http.StatusOK, rec)
}

// POST /v1/profile/photo
// Expects a multipart form with the image in the "photo" field.
func (h *UserHandler) UploadPhoto(w http.ResponseWriter, r *http.Request) {
	user, ok := signedIn(r)
	if !ok {
		utils.Unauthorized(w, "sign in required")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxPhotoBytes)
	if err := r.ParseMultipartForm(maxPhotoBytes); err != nil {
		utils.BadRequest(w, "invalid multipart form")
		return
	}
	file, header, err := r.FormFile("photo")
	if err != nil {
		utils.BadRequest(w, "photo is required")
		return
	}
	defer file.Close()

	url, err := h.profiles.UploadPhoto(r.Context(), user.ID, header.Filename, file)
	if err != nil {
		utils.FromError(w, err)
		return
	}
	utils.Success(w, http.StatusOK, map[string]string{"photo_url": url})
}
