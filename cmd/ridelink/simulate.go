package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/aditya/ridelink/internal/cache"
	"github.com/aditya/ridelink/internal/geo"
	"github.com/aditya/ridelink/internal/identity"
	"github.com/aditya/ridelink/internal/logging"
	"github.com/aditya/ridelink/internal/models"
	"github.com/aditya/ridelink/internal/repository"
	"github.com/aditya/ridelink/internal/service"
	"github.com/aditya/ridelink/pkg/utils"
)

// Route from Tahrir Square towards Nasr City.
var simulatedRoute = []models.LatLng{
	{Lat: 30.0445, Lng: 31.2358},
	{Lat: 30.0460, Lng: 31.2480},
	{Lat: 30.0475, Lng: 31.2650},
	{Lat: 30.0490, Lng: 31.2850},
	{Lat: 30.0500, Lng: 31.3050},
	{Lat: 30.0508, Lng: 31.3250},
	{Lat: 30.0511, Lng: 31.3450},
	{Lat: 30.0511, Lng: 31.3656},
}

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run one ride end to end against the in-memory store",
	Long: `Run one ride end to end against the in-memory store: a customer
requests a ride, a driver accepts it, starts at the pickup, drives the
route while the location tracker reports the position, and completes.
Every view the customer sees is logged.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		interval, _ := cmd.Flags().GetDuration("interval")
		price, _ := cmd.Flags().GetFloat64("price")

		cfg, logger, err := load()
		if err != nil {
			return err
		}
		return simulate(cmd.Context(), cmd.OutOrStdout(), logger, lifecycleConfig(cfg.ProximityMiles, cfg.CompletedWindow, cfg.GraceWindow), interval, price)
	},
}

func init() {
	simulateCmd.Flags().Duration("interval", 200*time.Millisecond, "location tracker interval")
	simulateCmd.Flags().Float64("price", 45, "estimated price offered by the customer")
}

func simulate(ctx context.Context, out io.Writer, logger zerolog.Logger, cfg service.Config, interval time.Duration, price float64) error {
	if ctx == nil {
		ctx = context.Background()
	}
	storeLog := logging.WithComponent(logger, "store")
	rides := repository.NewMemoryRideRepository(utils.GenerateID, storeLog)
	profiles := repository.NewMemoryProfileRepository()
	mirror := cache.NewMemoryMirror()
	index := geo.NewPlaceIndex(geo.CairoPlaces)
	clock := service.RealClock()
	locator := service.NewStaticLocator(&simulatedRoute[0])

	sessions := service.NewSessionManager(service.Deps{
		Rides:    rides,
		Profiles: profiles,
		Mirror:   mirror,
		Geocoder: geo.NewIndexGeocoder(index, 0),
		Locator:  locator,
		Clock:    clock,
		Logger:   logging.WithComponent(logger, "controller"),
	}, cfg, interval)
	defer sessions.CloseAll()

	profileSvc := service.NewProfileService(profiles, mirror, nil, clock, logging.WithComponent(logger, "profile"))
	customer := identity.User{ID: "sim-customer", Name: "Mona"}
	driver := identity.User{ID: "sim-driver", Name: "Karim"}
	if _, err := profileSvc.EnsureProfile(ctx, customer, models.RoleCustomer); err != nil {
		return err
	}
	if _, err := profileSvc.EnsureProfile(ctx, driver, models.RoleDriver); err != nil {
		return err
	}
	if _, err := profileSvc.SetPhone(ctx, driver.ID, models.RoleDriver, "+201001234567"); err != nil {
		return err
	}

	customerCtrl, err := sessions.Get(ctx, customer, models.RoleCustomer)
	if err != nil {
		return err
	}
	driverCtrl, err := sessions.Get(ctx, driver, models.RoleDriver)
	if err != nil {
		return err
	}

	views, stopWatch := customerCtrl.Watch()
	defer stopWatch()
	watchLog := logging.WithComponent(logger, "customer-view")
	watchDone := make(chan struct{})
	go func() {
		defer close(watchDone)
		for v := range views {
			event := watchLog.Info().Str("source", v.Source).Bool("lingering", v.Lingering)
			if v.Ride != nil {
				rec := v.Ride.Record()
				event = event.Str("status", string(rec.Status)).Float64("miles", rec.CalculatedMileage)
			} else {
				event = event.Str("status", "none")
			}
			if v.Notice != "" {
				event = event.Str("notice", v.Notice)
			}
			event.Msg("view")
		}
	}()

	destination := simulatedRoute[len(simulatedRoute)-1]
	ride, err := customerCtrl.RequestRide(ctx, models.RideRequest{
		Pickup:         tahrir,
		Destination:    &destination,
		EstimatedPrice: price,
	})
	if err != nil {
		return err
	}
	id := ride.RideID()

	if _, err := driverCtrl.Accept(ctx, id); err != nil {
		return err
	}
	if _, err := driverCtrl.StartTrip(ctx, id, nil); err != nil {
		return err
	}

	for _, p := range simulatedRoute[1:] {
		locator.Set(p)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * interval):
		}
	}

	if _, err := driverCtrl.Complete(ctx, id); err != nil {
		return err
	}

	rec, err := rides.Get(ctx, id)
	if err != nil {
		return err
	}
	sessions.CloseAll()
	<-watchDone

	quote := service.NewPricingService().Quote(service.TierEconomy, rec.PickupLocation, rec.DestinationLocation)
	fmt.Fprintf(out, "ride %s %s: %.2f mi driven, price %.2f (economy quote %.2f)\n",
		rec.ID, rec.Status, rec.CalculatedMileage, rec.EstimatedPrice, quote.Total)
	return nil
}

// tahrir is where the simulated ride is picked up.
var tahrir = models.LatLng{Lat: 30.0444, Lng: 31.2357}
