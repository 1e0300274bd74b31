package service

import (
	"time"

	"github.com/aditya/ridelink/internal/models"
)

// Decision is what a session should display after a snapshot.
type Decision struct {
	// Ride is nil when the session has no current ride.
	Ride models.Ride
	// Lingering marks a recently completed ride shown until ClearAt.
	Lingering bool
	ClearAt   time.Time
	// Skipped counts records that failed to decode.
	Skipped int
}

// Reconcile derives the current ride from a snapshot of one user's records.
//
// An active record wins. If the store ever returns several, the most recent
// requestTime is taken and ties go to the smaller id, so the result does not
// depend on snapshot order. Otherwise the newest completed record whose
// endTime lies within window is shown until the earlier of now+grace and
// the end of the window. Ids for which dismissed returns true are never
// shown as completed again.
func Reconcile(records []models.RideRecord, now time.Time, window, grace time.Duration, dismissed func(id string) bool) Decision {
	var (
		d         Decision
		active    models.Ride
		completed *models.CompletedRide
	)

	for _, rec := range records {
		ride, err := models.Decode(rec)
		if err != nil {
			d.Skipped++
			continue
		}

		switch r := ride.(type) {
		case models.CompletedRide:
			if now.Sub(r.EndTime) > window {
				continue
			}
			if dismissed != nil && dismissed(r.ID) {
				continue
			}
			if completed == nil || r.EndTime.After(completed.EndTime) ||
				(r.EndTime.Equal(completed.EndTime) && r.ID < completed.ID) {
				c := r
				completed = &c
			}
		case models.CancelledRide:
		default:
			if active == nil || newer(ride.Base(), active.Base()) {
				active = ride
			}
		}
	}

	switch {
	case active != nil:
		d.Ride = active
	case completed != nil:
		d.Ride = *completed
		d.Lingering = true
		d.ClearAt = now.Add(grace)
		if expires := completed.EndTime.Add(window); expires.Before(d.ClearAt) {
			d.ClearAt = expires
		}
	}
	return d
}

func newer(a, b models.RideBase) bool {
	if !a.RequestTime.Equal(b.RequestTime) {
		return a.RequestTime.After(b.RequestTime)
	}
	return a.ID < b.ID
}
