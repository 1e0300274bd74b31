package service

import (
	"fmt"
	"strings"
	"time"

	apperrors "github.com/aditya/ridelink/internal/errors"
	"github.com/aditya/ridelink/internal/geo"
	"github.com/aditya/ridelink/internal/models"
)

// Transition is a validated lifecycle step ready to be written: Patch is
// merged into the stored record only while its status is still From.
type Transition struct {
	RideID string
	From   models.RideStatus
	To     models.RideStatus
	Patch  models.Patch
}

// Apply merges the transition into rec.
func (t Transition) Apply(rec models.RideRecord) (models.RideRecord, error) {
	return models.ApplyPatch(rec, t.Patch)
}

// Customer is the requester contact copied onto a new ride.
type Customer struct {
	ID          string
	Name        string
	PhoneNumber string
}

// RequestRecord builds the pending record for a new ride. Destination and a
// positive price are required before anything is written.
func RequestRecord(customer Customer, req models.RideRequest, now time.Time) (models.RideRecord, error) {
	if customer.ID == "" {
		return models.RideRecord{}, fmt.Errorf("%w: customer id is required", apperrors.ErrBadRequest)
	}
	if req.Destination == nil {
		return models.RideRecord{}, apperrors.ErrMissingDestination
	}
	if req.EstimatedPrice <= 0 {
		return models.RideRecord{}, apperrors.ErrInvalidPrice
	}

	return models.RideRecord{
		CustomerID:          customer.ID,
		Status:              models.RideStatusPending,
		PickupLocation:      req.Pickup,
		DestinationLocation: *req.Destination,
		PickupAddress:       strings.TrimSpace(req.PickupAddress),
		DestinationAddress:  strings.TrimSpace(req.DestinationAddress),
		RequestTime:         models.FromTime(now),
		EstimatedPrice:      req.EstimatedPrice,
		CustomerName:        customer.Name,
		CustomerPhoneNumber: customer.PhoneNumber,
	}, nil
}

func invalid(from, to models.RideStatus) error {
	return &apperrors.TransitionError{From: string(from), To: string(to)}
}

func notDriverOf(ride models.Ride, driverID string) error {
	return fmt.Errorf("%w: driver %s on ride %s", apperrors.ErrNotParticipant, driverID, ride.RideID())
}

// AcceptTransition attaches driver to a pending ride.
func AcceptTransition(ride models.Ride, driver models.DriverInfo) (Transition, error) {
	if _, ok := ride.(models.PendingRide); !ok {
		return Transition{}, invalid(ride.Status(), models.RideStatusAccepted)
	}
	if driver.ID == "" {
		return Transition{}, fmt.Errorf("%w: driver id is required", apperrors.ErrBadRequest)
	}
	if driver.PhoneNumber == "" {
		return Transition{}, apperrors.ErrPhoneRequired
	}

	return Transition{
		RideID: ride.RideID(),
		From:   models.RideStatusPending,
		To:     models.RideStatusAccepted,
		Patch: models.Patch{
			models.FieldStatus:            models.RideStatusAccepted,
			models.FieldDriverID:          driver.ID,
			models.FieldDriverName:        driver.Name,
			models.FieldDriverPhoneNumber: driver.PhoneNumber,
		},
	}, nil
}

// StartTransition starts an accepted ride when the driver at pos is within
// thresholdMiles of the pickup point.
func StartTransition(ride models.Ride, driverID string, pos models.LatLng, thresholdMiles float64, now time.Time) (Transition, error) {
	accepted, ok := ride.(models.AcceptedRide)
	if !ok {
		return Transition{}, invalid(ride.Status(), models.RideStatusStarted)
	}
	if accepted.Driver.ID != driverID {
		return Transition{}, notDriverOf(ride, driverID)
	}

	miles := geo.HaversineMiles(pos, accepted.Pickup)
	if miles > thresholdMiles {
		return Transition{}, &apperrors.ProximityError{Miles: miles, Threshold: thresholdMiles}
	}

	return Transition{
		RideID: ride.RideID(),
		From:   models.RideStatusAccepted,
		To:     models.RideStatusStarted,
		Patch: models.Patch{
			models.FieldStatus:                models.RideStatusStarted,
			models.FieldStartTime:             models.FromTime(now),
			models.FieldStartTripLocation:     pos,
			models.FieldCurrentDriverLocation: pos,
			models.FieldCalculatedMileage:     0.0,
		},
	}, nil
}

// LocationTransition moves the driver of a started ride to pos and adds the
// great-circle distance from the previous sample to the mileage.
func LocationTransition(ride models.Ride, driverID string, pos models.LatLng) (Transition, error) {
	started, ok := ride.(models.StartedRide)
	if !ok {
		return Transition{}, invalid(ride.Status(), models.RideStatusStarted)
	}
	if started.Driver.ID != driverID {
		return Transition{}, notDriverOf(ride, driverID)
	}

	mileage := started.Mileage + geo.HaversineMiles(started.CurrentDriverLocation, pos)

	return Transition{
		RideID: ride.RideID(),
		From:   models.RideStatusStarted,
		To:     models.RideStatusStarted,
		Patch: models.Patch{
			models.FieldCurrentDriverLocation: pos,
			models.FieldCalculatedMileage:     mileage,
		},
	}, nil
}

// CompleteTransition ends a started ride. Mileage is left as accumulated.
func CompleteTransition(ride models.Ride, driverID string, now time.Time) (Transition, error) {
	started, ok := ride.(models.StartedRide)
	if !ok {
		return Transition{}, invalid(ride.Status(), models.RideStatusCompleted)
	}
	if started.Driver.ID != driverID {
		return Transition{}, notDriverOf(ride, driverID)
	}

	return Transition{
		RideID: ride.RideID(),
		From:   models.RideStatusStarted,
		To:     models.RideStatusCompleted,
		Patch: models.Patch{
			models.FieldStatus:  models.RideStatusCompleted,
			models.FieldEndTime: models.FromTime(now),
		},
	}, nil
}

var stripDriver = models.Patch{
	models.FieldDriverID:          nil,
	models.FieldDriverName:        nil,
	models.FieldDriverPhoneNumber: nil,
}

// CancelTransition handles both cancel flavours. A customer cancel of a
// pending or accepted ride terminates it; a driver cancel of an accepted ride
// hands it back to the pool as pending. Both strip the driver fields.
func CancelTransition(ride models.Ride, role models.Role, uid string, now time.Time) (Transition, error) {
	patch := models.Patch{}
	for k, v := range stripDriver {
		patch[k] = v
	}

	switch role {
	case models.RoleCustomer:
		if ride.Base().CustomerID != uid {
			return Transition{}, fmt.Errorf("%w: customer %s on ride %s", apperrors.ErrNotParticipant, uid, ride.RideID())
		}
		switch ride.(type) {
		case models.PendingRide, models.AcceptedRide:
		default:
			return Transition{}, invalid(ride.Status(), models.RideStatusCancelled)
		}
		patch[models.FieldStatus] = models.RideStatusCancelled
		patch[models.FieldCancelTime] = models.FromTime(now)
		return Transition{RideID: ride.RideID(), From: ride.Status(), To: models.RideStatusCancelled, Patch: patch}, nil

	case models.RoleDriver:
		switch r := ride.(type) {
		case models.AcceptedRide:
			if r.Driver.ID != uid {
				return Transition{}, notDriverOf(ride, uid)
			}
		case models.PendingRide:
			return Transition{}, notDriverOf(ride, uid)
		default:
			return Transition{}, invalid(ride.Status(), models.RideStatusCancelled)
		}
		patch[models.FieldStatus] = models.RideStatusPending
		return Transition{RideID: ride.RideID(), From: models.RideStatusAccepted, To: models.RideStatusPending, Patch: patch}, nil
	}

	return Transition{}, fmt.Errorf("%w: unknown role %q", apperrors.ErrBadRequest, role)
}
