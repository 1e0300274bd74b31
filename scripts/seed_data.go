//go:build ignore

package main

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"time"

	"github.com/aditya/ridelink/internal/config"
	"github.com/aditya/ridelink/internal/database"
	"github.com/aditya/ridelink/internal/models"
	"github.com/aditya/ridelink/internal/repository"
	"github.com/aditya/ridelink/pkg/utils"
	"github.com/rs/zerolog"
)

// Downtown Cairo
const (
	baseLat = 30.0444
	baseLng = 31.2357
)

var (
	firstNames = []string{"Mona", "Karim", "Omar", "Nour", "Youssef", "Salma", "Hassan", "Laila", "Tarek", "Dina",
		"Ahmed", "Mariam", "Khaled", "Hana", "Mostafa", "Yasmin", "Amr", "Rana", "Sherif", "Aya"}
	lastNames = []string{"Hassan", "Mahmoud", "Ibrahim", "Fathy", "Saeed", "Nabil", "Adel", "Mansour", "Farouk", "Zaki"}
)

func main() {
	rand.Seed(time.Now().UnixNano())

	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	var (
		rides    repository.RideRepository
		profiles repository.ProfileRepository
	)
	switch cfg.StoreBackend {
	case config.BackendPostgres:
		if err := database.Migrate(cfg.DatabaseURL, 0, zerolog.Nop()); err != nil {
			log.Fatalf("Failed to migrate: %v", err)
		}
		db, err := database.NewPostgres(cfg.DatabaseURL, cfg.DBMaxConnections, cfg.DBMaxIdleConnections)
		if err != nil {
			log.Fatalf("Failed to connect to PostgreSQL: %v", err)
		}
		defer db.Close()
		rides = repository.NewPostgresRideRepository(db.DB, db.URL, zerolog.Nop())
		profiles = repository.NewPostgresProfileRepository(db.DB)
	case config.BackendRedis:
		rdb, err := database.NewRedis(cfg.RedisURL, cfg.RedisPassword, cfg.RedisPoolSize)
		if err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		defer rdb.Close()
		rides = repository.NewRedisRideRepository(rdb.Client, cfg.StoreNamespace, zerolog.Nop())
		profiles = repository.NewRedisProfileRepository(rdb.Client, cfg.StoreNamespace)
	default:
		log.Fatalf("STORE_BACKEND=%s keeps nothing between runs; seed postgres or redis", cfg.StoreBackend)
	}

	ctx := context.Background()
	now := models.FromTime(time.Now())

	seedUser := func(role models.Role, prefix string) (string, string, bool) {
		uid := utils.GenerateID()
		name := fmt.Sprintf("%s %s", firstNames[rand.Intn(len(firstNames))], lastNames[rand.Intn(len(lastNames))])
		phone := fmt.Sprintf("+20%s%08d", prefix, rand.Intn(100000000))
		if err := profiles.SaveProfile(ctx, &models.UserProfile{
			UID:         uid,
			DisplayName: name,
			PhoneNumber: phone,
			UserType:    role,
		}); err != nil {
			log.Printf("Failed to create %s: %v", role, err)
			return "", "", false
		}
		if err := profiles.SavePhone(ctx, &models.PhoneRecord{
			UserID:      uid,
			PhoneNumber: phone,
			UserType:    role,
			Timestamp:   now,
		}); err != nil {
			log.Printf("Failed to save phone for %s: %v", uid, err)
			return "", "", false
		}
		return uid, name, true
	}

	log.Println("Creating 50 customers with pending rides...")
	customers := 0
	var sampleCustomer string
	for i := 0; i < 50; i++ {
		uid, name, ok := seedUser(models.RoleCustomer, "10")
		if !ok {
			continue
		}
		customers++
		sampleCustomer = uid

		// +/- 0.05 degrees (~3 mi) around downtown
		pickup := models.LatLng{Lat: baseLat + (rand.Float64()-0.5)*0.1, Lng: baseLng + (rand.Float64()-0.5)*0.1}
		dest := models.LatLng{Lat: baseLat + (rand.Float64()-0.5)*0.2, Lng: baseLng + (rand.Float64()-0.5)*0.2}
		if _, err := rides.Create(ctx, models.RideRecord{
			CustomerID:          uid,
			CustomerName:        name,
			Status:              models.RideStatusPending,
			PickupLocation:      pickup,
			DestinationLocation: dest,
			RequestTime:         now - models.EpochMillis(rand.Intn(600000)),
			EstimatedPrice:      float64(30 + rand.Intn(120)),
		}); err != nil {
			log.Printf("Failed to create ride for %s: %v", uid, err)
		}
	}

	log.Println("Creating 20 drivers...")
	drivers := 0
	var sampleDriver string
	for i := 0; i < 20; i++ {
		uid, _, ok := seedUser(models.RoleDriver, "11")
		if !ok {
			continue
		}
		drivers++
		sampleDriver = uid
	}

	log.Println("\n=== Seed Data Summary ===")
	log.Printf("Customers created: %d", customers)
	log.Printf("Drivers created: %d", drivers)
	log.Println("\nSample customer ID:", sampleCustomer)
	log.Println("Sample driver ID:", sampleDriver)
	log.Println("\nIssue a token with: ridelink token --uid <id>")
}
