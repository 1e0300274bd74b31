package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/aditya/ridelink/internal/errors"
	"github.com/aditya/ridelink/internal/identity"
	"github.com/aditya/ridelink/internal/models"
	"github.com/aditya/ridelink/internal/repository"
)

// gatedRides holds Subscribe calls for one customer until release is closed.
type gatedRides struct {
	repository.RideRepository
	customerID string
	entered    chan struct{}
	release    chan struct{}
	once       sync.Once
}

func (g *gatedRides) Subscribe(ctx context.Context, filter models.RideFilter, fn repository.SnapshotFunc) (func(), error) {
	if filter.CustomerID == g.customerID {
		g.once.Do(func() { close(g.entered) })
		<-g.release
	}
	return g.RideRepository.Subscribe(ctx, filter, fn)
}

func gated(h *harness, customerID string) (*gatedRides, Deps) {
	g := &gatedRides{
		RideRepository: h.rides,
		customerID:     customerID,
		entered:        make(chan struct{}),
		release:        make(chan struct{}),
	}
	deps := h.deps()
	deps.Rides = g
	return g, deps
}

func TestSessionManager_SlowOpenDoesNotBlockOthers(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	g, deps := gated(h, "slow")
	m := NewSessionManager(deps, DefaultConfig(), 0)
	defer m.CloseAll()

	type result struct {
		ctrl *RideController
		err  error
	}
	slow := make(chan result, 2)
	for i := 0; i < 2; i++ {
		go func() {
			c, err := m.Get(ctx, identity.User{ID: "slow"}, models.RoleCustomer)
			slow <- result{c, err}
		}()
	}
	<-g.entered

	done := make(chan error, 1)
	go func() {
		_, err := m.Get(ctx, identity.User{ID: "fast"}, models.RoleCustomer)
		done <- err
	}()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("opening one session waited on another user's store call")
	}

	close(g.release)
	first, second := <-slow, <-slow
	require.NoError(t, first.err)
	require.NoError(t, second.err)
	assert.Same(t, first.ctrl, second.ctrl)
	assert.Equal(t, 2, m.Len())
}

func TestSessionManager_CloseWhileOpening(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	g, deps := gated(h, "slow")
	m := NewSessionManager(deps, DefaultConfig(), 0)

	errs := make(chan error, 1)
	go func() {
		_, err := m.Get(ctx, identity.User{ID: "slow"}, models.RoleCustomer)
		errs <- err
	}()
	<-g.entered

	m.Close("slow", models.RoleCustomer)
	close(g.release)

	assert.ErrorIs(t, <-errs, apperrors.ErrSessionClosed)
	assert.Zero(t, m.Len())
	assert.Zero(t, h.rides.Subscribers())
}

func TestSessionManager_GetAndClose(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	m := NewSessionManager(h.deps(), DefaultConfig(), 0)
	defer m.CloseAll()

	user := identity.User{ID: "c1", Name: "Mona"}
	a, err := m.Get(ctx, user, models.RoleCustomer)
	require.NoError(t, err)
	b, err := m.Get(ctx, user, models.RoleCustomer)
	require.NoError(t, err)
	assert.Same(t, a, b)

	d, err := m.Get(ctx, user, models.RoleDriver)
	require.NoError(t, err)
	assert.NotSame(t, a, d)
	assert.Equal(t, 2, m.Len())
	assert.Equal(t, 3, h.rides.Subscribers())

	m.Close("c1", models.RoleDriver)
	assert.Equal(t, 1, m.Len())
	assert.Equal(t, 1, h.rides.Subscribers())

	_, err = d.Accept(ctx, "r1")
	assert.Error(t, err)

	_, err = m.Get(ctx, identity.User{ID: "x"}, models.Role("admin"))
	assert.Error(t, err)
	assert.Equal(t, 1, m.Len())

	m.CloseAll()
	assert.Zero(t, m.Len())
	assert.Zero(t, h.rides.Subscribers())
}

func TestLocationTracker_PushesWhileStarted(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	customer := h.open(t, "c1", models.RoleCustomer)

	locator := NewStaticLocator(&nearTahrir)
	require.NoError(t, h.profiles.SavePhone(ctx, &models.PhoneRecord{UserID: "d1", PhoneNumber: "+201000000001"}))
	deps := h.deps()
	deps.Locator = locator
	driver := h.openWith(t, deps, "d1", models.RoleDriver)

	runCtx, stop := context.WithCancel(ctx)
	tracker := NewLocationTracker(driver, 5*time.Second, h.clock, driver.logger)
	finished := make(chan struct{})
	go func() {
		tracker.Run(runCtx)
		close(finished)
	}()
	defer func() {
		stop()
		<-finished
	}()

	require.Eventually(t, func() bool { return h.clock.tickerCount() == 1 }, time.Second, 5*time.Millisecond)

	ride, err := customer.RequestRide(ctx, rideRequest())
	require.NoError(t, err)
	id := ride.RideID()

	assert.Nil(t, driver.Ride())
	_, err = driver.Accept(ctx, id)
	require.NoError(t, err)
	_, err = driver.StartTrip(ctx, id, nil)
	require.NoError(t, err)

	next := models.LatLng{Lat: 30.0470, Lng: 31.2700}
	locator.Set(next)
	h.clock.Advance(5 * time.Second)

	require.Eventually(t, func() bool {
		rec := h.stored(t, id)
		return rec.CurrentDriverLocation != nil && *rec.CurrentDriverLocation == next
	}, 2*time.Second, 10*time.Millisecond)
	assert.Greater(t, h.stored(t, id).CalculatedMileage, 1.0)
}
