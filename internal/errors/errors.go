package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors
var (
	ErrNotFound            = errors.New("resource not found")
	ErrBadRequest          = errors.New("bad request")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrIdempotencyConflict = errors.New("idempotency key conflict")

	// Lifecycle errors
	ErrInvalidTransition   = errors.New("invalid state transition")
	ErrUserHasActiveRide   = errors.New("user already has an active ride")
	ErrDriverBusy          = errors.New("driver already has an active ride")
	ErrStaleRecord         = errors.New("ride changed since it was read")
	ErrNoActiveRide        = errors.New("no active ride")
	ErrNotParticipant      = errors.New("not a participant of this ride")
	ErrUpdateInFlight      = errors.New("location update already in flight")
	ErrSessionClosed       = errors.New("session closed")
	ErrLocationUnavailable = errors.New("location unavailable")

	// Validation errors, checked before any write
	ErrPhoneRequired      = errors.New("phone number required")
	ErrInvalidPhone       = errors.New("invalid phone number")
	ErrMissingDestination = errors.New("destination not selected")
	ErrInvalidPrice       = errors.New("price must be positive")
	ErrTooFarFromPickup   = errors.New("driver is not near the pickup location")
)

// APIError represents a structured API error
type APIError struct {
	Code       string `json:"error"`
	Message    string `json:"message"`
	StatusCode int    `json:"-"`
}

func (e *APIError) Error() string {
	return e.Message
}

// NewAPIError creates a new API error
func NewAPIError(code, message string, statusCode int) *APIError {
	return &APIError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}

// Common API errors
func NotFound(resource string) *APIError {
	return NewAPIError("not_found", fmt.Sprintf("%s not found", resource), http.StatusNotFound)
}

func BadRequest(message string) *APIError {
	return NewAPIError("bad_request", message, http.StatusBadRequest)
}

func Conflict(message string) *APIError {
	return NewAPIError("conflict", message, http.StatusConflict)
}

func InternalError(message string) *APIError {
	return NewAPIError("internal_error", message, http.StatusInternalServerError)
}

func Unauthorized(message string) *APIError {
	return NewAPIError("unauthorized", message, http.StatusUnauthorized)
}

func IdempotencyConflict() *APIError {
	return NewAPIError("idempotency_conflict", "idempotency key already used with different request", http.StatusConflict)
}

func InvalidTransition(from, to string) *APIError {
	return NewAPIError("invalid_transition", fmt.Sprintf("cannot transition from %s to %s", from, to), http.StatusBadRequest)
}

func UserHasActiveRide() *APIError {
	return NewAPIError("active_ride_exists", "you already have an active ride", http.StatusConflict)
}

func RideAlreadyTaken() *APIError {
	return NewAPIError("ride_already_taken", "this ride was changed by someone else", http.StatusConflict)
}

func TooFarFromPickup(miles float64) *APIError {
	return NewAPIError("too_far_from_pickup", fmt.Sprintf("you are %.2f mi from the pickup location", miles), http.StatusUnprocessableEntity)
}

func PhoneRequired() *APIError {
	return NewAPIError("phone_required", "add a phone number before accepting rides", http.StatusPreconditionRequired)
}

// TransitionError carries the attempted edge alongside ErrInvalidTransition.
type TransitionError struct {
	From string
	To   string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: %s -> %s", ErrInvalidTransition, e.From, e.To)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// ProximityError reports how far the driver was from the pickup point.
type ProximityError struct {
	Miles     float64
	Threshold float64
}

func (e *ProximityError) Error() string {
	return fmt.Sprintf("%s: %.3f mi (limit %.2f mi)", ErrTooFarFromPickup, e.Miles, e.Threshold)
}

func (e *ProximityError) Unwrap() error {
	return ErrTooFarFromPickup
}

// ToAPI maps a service error onto the API error returned to clients.
func ToAPI(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}

	var transition *TransitionError
	if errors.As(err, &transition) {
		return InvalidTransition(transition.From, transition.To)
	}

	var proximity *ProximityError
	if errors.As(err, &proximity) {
		return TooFarFromPickup(proximity.Miles)
	}

	switch {
	case errors.Is(err, ErrNoActiveRide):
		return NotFound("ride")
	case errors.Is(err, ErrNotFound):
		return NewAPIError("not_found", err.Error(), http.StatusNotFound)
	case errors.Is(err, ErrUserHasActiveRide), errors.Is(err, ErrDriverBusy):
		return UserHasActiveRide()
	case errors.Is(err, ErrStaleRecord):
		return RideAlreadyTaken()
	case errors.Is(err, ErrPhoneRequired):
		return PhoneRequired()
	case errors.Is(err, ErrInvalidPhone), errors.Is(err, ErrMissingDestination),
		errors.Is(err, ErrInvalidPrice), errors.Is(err, ErrBadRequest):
		return BadRequest(err.Error())
	case errors.Is(err, ErrNotParticipant):
		return NewAPIError("forbidden", err.Error(), http.StatusForbidden)
	case errors.Is(err, ErrUpdateInFlight):
		return NewAPIError("update_in_flight", err.Error(), http.StatusTooManyRequests)
	case errors.Is(err, ErrLocationUnavailable):
		return NewAPIError("location_unavailable", err.Error(), http.StatusServiceUnavailable)
	case errors.Is(err, ErrSessionClosed):
		return NewAPIError("session_closed", err.Error(), http.StatusGone)
	case errors.Is(err, ErrUnauthorized):
		return Unauthorized(err.Error())
	case errors.Is(err, ErrIdempotencyConflict):
		return IdempotencyConflict()
	}
	return InternalError("an unexpected error occurred")
}
