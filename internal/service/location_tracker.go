package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	apperrors "github.com/aditya/ridelink/internal/errors"
	"github.com/aditya/ridelink/internal/models"
)

// DefaultLocationInterval is how often a driver's position is pushed while a
// trip is running.
const DefaultLocationInterval = 5 * time.Second

// LocationTracker pushes the driver position on a fixed interval while the
// controller's ride is started. Ticks never wait for the previous push; the
// controller drops a push that overlaps one still in flight.
type LocationTracker struct {
	ctrl     *RideController
	interval time.Duration
	clock    Clock
	logger   zerolog.Logger
	wg       sync.WaitGroup
}

func NewLocationTracker(ctrl *RideController, interval time.Duration, clock Clock, logger zerolog.Logger) *LocationTracker {
	if interval <= 0 {
		interval = DefaultLocationInterval
	}
	if clock == nil {
		clock = RealClock()
	}
	return &LocationTracker{ctrl: ctrl, interval: interval, clock: clock, logger: logger}
}

// Run ticks until ctx is done, then waits for outstanding pushes.
func (t *LocationTracker) Run(ctx context.Context) {
	ticker := t.clock.NewTicker(t.interval)
	defer func() {
		ticker.Stop()
		t.wg.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			ride := t.ctrl.Ride()
			if ride == nil || ride.Status() != models.RideStatusStarted {
				continue
			}
			t.wg.Add(1)
			go func(id string) {
				defer t.wg.Done()
				t.push(ctx, id)
			}(ride.RideID())
		}
	}
}

func (t *LocationTracker) push(ctx context.Context, rideID string) {
	ride, err := t.ctrl.PushLocation(ctx, rideID, nil)
	switch {
	case err == nil:
		if started, ok := ride.(models.StartedRide); ok {
			t.logger.Debug().
				Str("ride_id", rideID).
				Float64("mileage", started.Mileage).
				Msg("location pushed")
		}
	case errors.Is(err, apperrors.ErrUpdateInFlight):
		t.logger.Debug().Str("ride_id", rideID).Msg("location push dropped")
	case errors.Is(err, context.Canceled):
	default:
		t.logger.Warn().Err(err).Str("ride_id", rideID).Msg("location push failed")
	}
}
