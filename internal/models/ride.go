package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// RideStatus is the lifecycle state of a ride request.
type RideStatus string

// Ride status constants
const (
	RideStatusPending   RideStatus = "pending"
	RideStatusAccepted  RideStatus = "accepted"
	RideStatusStarted   RideStatus = "started"
	RideStatusCompleted RideStatus = "completed"
	RideStatusCancelled RideStatus = "cancelled"
)

// Valid ride state transitions. accepted -> pending is the driver releasing
// the ride back to the pool.
var ValidRideTransitions = map[RideStatus][]RideStatus{
	RideStatusPending:   {RideStatusAccepted, RideStatusCancelled},
	RideStatusAccepted:  {RideStatusStarted, RideStatusCancelled, RideStatusPending},
	RideStatusStarted:   {RideStatusCompleted},
	RideStatusCompleted: {},
	RideStatusCancelled: {},
}

// ActiveStatuses are the non-terminal statuses.
var ActiveStatuses = []RideStatus{RideStatusPending, RideStatusAccepted, RideStatusStarted}

// CanTransition checks if a ride in status from may move to status to.
func CanTransition(from, to RideStatus) bool {
	for _, state := range ValidRideTransitions[from] {
		if state == to {
			return true
		}
	}
	return false
}

// IsActive returns true if the status is not terminal
func (s RideStatus) IsActive() bool {
	return s == RideStatusPending || s == RideStatusAccepted || s == RideStatusStarted
}

func (s RideStatus) Valid() bool {
	_, ok := ValidRideTransitions[s]
	return ok
}

type LatLng struct {
	Lat float64 `json:"lat" validate:"latitude"`
	Lng float64 `json:"lng" validate:"longitude"`
}

func (p LatLng) String() string {
	return fmt.Sprintf("%.6f,%.6f", p.Lat, p.Lng)
}

// EpochMillis is the canonical timestamp representation. It decodes from
// either a JSON number of milliseconds or an ISO-8601 string, and always
// encodes as a number.
type EpochMillis int64

func FromTime(t time.Time) EpochMillis {
	return EpochMillis(t.UnixMilli())
}

// Time returns the instant in UTC.
func (m EpochMillis) Time() time.Time {
	return time.UnixMilli(int64(m)).UTC()
}

func (m EpochMillis) IsZero() bool {
	return m == 0
}

func (m EpochMillis) MarshalJSON() ([]byte, error) {
	return []byte(strconv.FormatInt(int64(m), 10)), nil
}

func (m *EpochMillis) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*m = 0
		return nil
	}

	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" {
			*m = 0
			return nil
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return fmt.Errorf("invalid timestamp %q: %w", s, err)
		}
		*m = FromTime(t)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("invalid timestamp %s: %w", data, err)
	}
	if i, err := n.Int64(); err == nil {
		*m = EpochMillis(i)
		return nil
	}
	f, err := n.Float64()
	if err != nil {
		return fmt.Errorf("invalid timestamp %s: %w", data, err)
	}
	*m = EpochMillis(int64(f))
	return nil
}

// RideRecord is the document stored under rideRequests/{id}. It is the wire
// shape shared by every repository backend; use Decode to obtain the typed
// state.
type RideRecord struct {
	ID                    string       `json:"id"`
	CustomerID            string       `json:"customerId"`
	DriverID              string       `json:"driverId,omitempty"`
	Status                RideStatus   `json:"status"`
	PickupLocation        LatLng       `json:"pickupLocation"`
	DestinationLocation   LatLng       `json:"destinationLocation"`
	PickupAddress         string       `json:"pickupAddress,omitempty"`
	DestinationAddress    string       `json:"destinationAddress,omitempty"`
	RequestTime           EpochMillis  `json:"requestTime"`
	StartTime             *EpochMillis `json:"startTime,omitempty"`
	EndTime               *EpochMillis `json:"endTime,omitempty"`
	CancelTime            *EpochMillis `json:"cancelTime,omitempty"`
	StartTripLocation     *LatLng      `json:"startTripLocation,omitempty"`
	CurrentDriverLocation *LatLng      `json:"currentDriverLocation,omitempty"`
	CalculatedMileage     float64      `json:"calculatedMileage"`
	EstimatedPrice        float64      `json:"estimatedPrice"`
	CustomerName          string       `json:"customerName,omitempty"`
	CustomerPhoneNumber   string       `json:"customerPhoneNumber,omitempty"`
	DriverName            string       `json:"driverName,omitempty"`
	DriverPhoneNumber     string       `json:"driverPhoneNumber,omitempty"`
}

// Record field names as they appear in the stored document.
const (
	FieldDriverID              = "driverId"
	FieldStatus                = "status"
	FieldPickupAddress         = "pickupAddress"
	FieldDestinationAddress    = "destinationAddress"
	FieldStartTime             = "startTime"
	FieldEndTime               = "endTime"
	FieldCancelTime            = "cancelTime"
	FieldStartTripLocation     = "startTripLocation"
	FieldCurrentDriverLocation = "currentDriverLocation"
	FieldCalculatedMileage     = "calculatedMileage"
	FieldDriverName            = "driverName"
	FieldDriverPhoneNumber     = "driverPhoneNumber"
)

// RideRequest is what a customer submits to open a ride.
type RideRequest struct {
	Pickup             LatLng  `json:"pickup"`
	Destination        *LatLng `json:"destination" validate:"required"`
	PickupAddress      string  `json:"pickup_address,omitempty" validate:"max=200"`
	DestinationAddress string  `json:"destination_address,omitempty" validate:"max=200"`
	EstimatedPrice     float64 `json:"estimated_price" validate:"gt=0"`
}

// RideFilter selects records for List and Subscribe. Empty fields match
// everything.
type RideFilter struct {
	CustomerID string
	DriverID   string
	Statuses   []RideStatus
}

// Matches reports whether rec satisfies the filter.
func (f RideFilter) Matches(rec *RideRecord) bool {
	if f.CustomerID != "" && rec.CustomerID != f.CustomerID {
		return false
	}
	if f.DriverID != "" && rec.DriverID != f.DriverID {
		return false
	}
	if len(f.Statuses) == 0 {
		return true
	}
	for _, s := range f.Statuses {
		if rec.Status == s {
			return true
		}
	}
	return false
}
