package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var ErrMalformedRecord = errors.New("malformed ride record")

// Ride is the typed view of a RideRecord. Each status has its own variant
// carrying exactly the fields that are valid in that state:
//
//	PendingRide    no driver, no trip data
//	AcceptedRide   driver attached
//	StartedRide    driver, start time, start location, running mileage
//	CompletedRide  driver, start and end time, frozen mileage
//	CancelledRide  cancel time, no driver
type Ride interface {
	RideID() string
	Status() RideStatus
	Base() RideBase
	Record() RideRecord
	sealed()
}

// RideBase holds the fields fixed at request time.
type RideBase struct {
	ID                  string
	CustomerID          string
	CustomerName        string
	CustomerPhoneNumber string
	Pickup              LatLng
	Destination         LatLng
	PickupAddress       string
	DestinationAddress  string
	RequestTime         time.Time
	EstimatedPrice      float64
}

// DriverInfo is the denormalized driver contact copied onto the ride on accept.
type DriverInfo struct {
	ID          string
	Name        string
	PhoneNumber string
}

type PendingRide struct {
	RideBase
}

type AcceptedRide struct {
	RideBase
	Driver DriverInfo
}

type StartedRide struct {
	RideBase
	Driver                DriverInfo
	StartTime             time.Time
	StartTripLocation     LatLng
	CurrentDriverLocation LatLng
	Mileage               float64
}

type CompletedRide struct {
	RideBase
	Driver                DriverInfo
	StartTime             time.Time
	EndTime               time.Time
	StartTripLocation     LatLng
	CurrentDriverLocation LatLng
	Mileage               float64
}

type CancelledRide struct {
	RideBase
	CancelTime time.Time
}

func (r PendingRide) RideID() string   { return r.ID }
func (r AcceptedRide) RideID() string  { return r.ID }
func (r StartedRide) RideID() string   { return r.ID }
func (r CompletedRide) RideID() string { return r.ID }
func (r CancelledRide) RideID() string { return r.ID }

func (PendingRide) Status() RideStatus   { return RideStatusPending }
func (AcceptedRide) Status() RideStatus  { return RideStatusAccepted }
func (StartedRide) Status() RideStatus   { return RideStatusStarted }
func (CompletedRide) Status() RideStatus { return RideStatusCompleted }
func (CancelledRide) Status() RideStatus { return RideStatusCancelled }

func (r PendingRide) Base() RideBase   { return r.RideBase }
func (r AcceptedRide) Base() RideBase  { return r.RideBase }
func (r StartedRide) Base() RideBase   { return r.RideBase }
func (r CompletedRide) Base() RideBase { return r.RideBase }
func (r CancelledRide) Base() RideBase { return r.RideBase }

func (PendingRide) sealed()   {}
func (AcceptedRide) sealed()  {}
func (StartedRide) sealed()   {}
func (CompletedRide) sealed() {}
func (CancelledRide) sealed() {}

func (b RideBase) record(status RideStatus) RideRecord {
	return RideRecord{
		ID:                  b.ID,
		CustomerID:          b.CustomerID,
		Status:              status,
		PickupLocation:      b.Pickup,
		DestinationLocation: b.Destination,
		PickupAddress:       b.PickupAddress,
		DestinationAddress:  b.DestinationAddress,
		RequestTime:         FromTime(b.RequestTime),
		EstimatedPrice:      b.EstimatedPrice,
		CustomerName:        b.CustomerName,
		CustomerPhoneNumber: b.CustomerPhoneNumber,
	}
}

func (d DriverInfo) apply(rec *RideRecord) {
	rec.DriverID = d.ID
	rec.DriverName = d.Name
	rec.DriverPhoneNumber = d.PhoneNumber
}

func (r PendingRide) Record() RideRecord {
	return r.record(RideStatusPending)
}

func (r AcceptedRide) Record() RideRecord {
	rec := r.record(RideStatusAccepted)
	r.Driver.apply(&rec)
	return rec
}

func (r StartedRide) Record() RideRecord {
	rec := r.record(RideStatusStarted)
	r.Driver.apply(&rec)
	start := FromTime(r.StartTime)
	startLoc, current := r.StartTripLocation, r.CurrentDriverLocation
	rec.StartTime = &start
	rec.StartTripLocation = &startLoc
	rec.CurrentDriverLocation = &current
	rec.CalculatedMileage = r.Mileage
	return rec
}

func (r CompletedRide) Record() RideRecord {
	rec := r.record(RideStatusCompleted)
	r.Driver.apply(&rec)
	start, end := FromTime(r.StartTime), FromTime(r.EndTime)
	startLoc, current := r.StartTripLocation, r.CurrentDriverLocation
	rec.StartTime = &start
	rec.EndTime = &end
	rec.StartTripLocation = &startLoc
	rec.CurrentDriverLocation = &current
	rec.CalculatedMileage = r.Mileage
	return rec
}

func (r CancelledRide) Record() RideRecord {
	rec := r.record(RideStatusCancelled)
	cancelled := FromTime(r.CancelTime)
	rec.CancelTime = &cancelled
	return rec
}

// Decode converts a stored record into its typed variant, rejecting records
// that lack the fields their status requires.
func Decode(rec RideRecord) (Ride, error) {
	if rec.ID == "" || rec.CustomerID == "" {
		return nil, fmt.Errorf("%w: missing id or customerId", ErrMalformedRecord)
	}

	base := RideBase{
		ID:                  rec.ID,
		CustomerID:          rec.CustomerID,
		CustomerName:        rec.CustomerName,
		CustomerPhoneNumber: rec.CustomerPhoneNumber,
		Pickup:              rec.PickupLocation,
		Destination:         rec.DestinationLocation,
		PickupAddress:       rec.PickupAddress,
		DestinationAddress:  rec.DestinationAddress,
		RequestTime:         rec.RequestTime.Time(),
		EstimatedPrice:      rec.EstimatedPrice,
	}
	driver := DriverInfo{ID: rec.DriverID, Name: rec.DriverName, PhoneNumber: rec.DriverPhoneNumber}

	switch rec.Status {
	case RideStatusPending:
		if rec.DriverID != "" {
			return nil, fmt.Errorf("%w: pending ride %s has a driver", ErrMalformedRecord, rec.ID)
		}
		return PendingRide{RideBase: base}, nil

	case RideStatusAccepted:
		if rec.DriverID == "" {
			return nil, fmt.Errorf("%w: accepted ride %s has no driver", ErrMalformedRecord, rec.ID)
		}
		return AcceptedRide{RideBase: base, Driver: driver}, nil

	case RideStatusStarted:
		if rec.DriverID == "" || rec.StartTime == nil || rec.StartTripLocation == nil {
			return nil, fmt.Errorf("%w: started ride %s lacks driver or trip start", ErrMalformedRecord, rec.ID)
		}
		current := *rec.StartTripLocation
		if rec.CurrentDriverLocation != nil {
			current = *rec.CurrentDriverLocation
		}
		return StartedRide{
			RideBase:              base,
			Driver:                driver,
			StartTime:             rec.StartTime.Time(),
			StartTripLocation:     *rec.StartTripLocation,
			CurrentDriverLocation: current,
			Mileage:               rec.CalculatedMileage,
		}, nil

	case RideStatusCompleted:
		if rec.DriverID == "" || rec.StartTime == nil || rec.EndTime == nil || rec.StartTripLocation == nil {
			return nil, fmt.Errorf("%w: completed ride %s lacks driver or trip times", ErrMalformedRecord, rec.ID)
		}
		current := *rec.StartTripLocation
		if rec.CurrentDriverLocation != nil {
			current = *rec.CurrentDriverLocation
		}
		return CompletedRide{
			RideBase:              base,
			Driver:                driver,
			StartTime:             rec.StartTime.Time(),
			EndTime:               rec.EndTime.Time(),
			StartTripLocation:     *rec.StartTripLocation,
			CurrentDriverLocation: current,
			Mileage:               rec.CalculatedMileage,
		}, nil

	case RideStatusCancelled:
		if rec.DriverID != "" || rec.CancelTime == nil {
			return nil, fmt.Errorf("%w: cancelled ride %s has a driver or no cancel time", ErrMalformedRecord, rec.ID)
		}
		return CancelledRide{RideBase: base, CancelTime: rec.CancelTime.Time()}, nil
	}

	return nil, fmt.Errorf("%w: unknown status %q", ErrMalformedRecord, rec.Status)
}

// Patch is a partial ride document keyed by stored field name. A nil value
// removes the field.
type Patch map[string]any

// ApplyPatch merges patch into rec the way the document store does: fields
// named in the patch are overwritten or removed, every other field is kept.
func ApplyPatch(rec RideRecord, patch Patch) (RideRecord, error) {
	raw, err := json.Marshal(rec)
	if err != nil {
		return RideRecord{}, err
	}

	doc := make(map[string]any)
	if err := json.Unmarshal(raw, &doc); err != nil {
		return RideRecord{}, err
	}

	for field, value := range patch {
		if value == nil {
			delete(doc, field)
			continue
		}
		doc[field] = value
	}

	merged, err := json.Marshal(doc)
	if err != nil {
		return RideRecord{}, err
	}

	var out RideRecord
	if err := json.Unmarshal(merged, &out); err != nil {
		return RideRecord{}, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	out.ID = rec.ID
	return out, nil
}
