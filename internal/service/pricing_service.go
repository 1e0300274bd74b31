package service

import (
	"math"

	"github.com/aditya/ridelink/internal/geo"
	"github.com/aditya/ridelink/internal/models"
)

// Ride tiers offered in a quote.
const (
	TierEconomy = "economy"
	TierComfort = "comfort"
	TierXL      = "xl"
)

// FareConfig holds pricing configuration for each tier
type FareConfig struct {
	BaseFare    float64
	PerMileRate float64
	PerMinRate  float64
	MinFare     float64
}

var fareConfigs = map[string]FareConfig{
	TierEconomy: {BaseFare: 10, PerMileRate: 6, PerMinRate: 0.5, MinFare: 20},
	TierComfort: {BaseFare: 15, PerMileRate: 8, PerMinRate: 0.75, MinFare: 30},
	TierXL:      {BaseFare: 20, PerMileRate: 11, PerMinRate: 1.0, MinFare: 45},
}

// Quote is a suggested price. The customer still sets the ride's
// estimatedPrice; nothing here is binding.
type Quote struct {
	Tier         string  `json:"tier"`
	Miles        float64 `json:"miles"`
	Minutes      int     `json:"minutes"`
	BaseFare     float64 `json:"base_fare"`
	DistanceFare float64 `json:"distance_fare"`
	TimeFare     float64 `json:"time_fare"`
	Total        float64 `json:"total"`
}

type PricingService interface {
	Quote(tier string, pickup, destination models.LatLng) *Quote
	CalculateFare(tier string, miles float64, durationMins int) *Quote
	EstimateDistance(pickup, destination models.LatLng) float64
	EstimateDuration(miles float64) int
}

type pricingService struct{}

func NewPricingService() PricingService {
	return &pricingService{}
}

func (s *pricingService) Quote(tier string, pickup, destination models.LatLng) *Quote {
	miles := s.EstimateDistance(pickup, destination)
	return s.CalculateFare(tier, miles, s.EstimateDuration(miles))
}

func (s *pricingService) CalculateFare(tier string, miles float64, durationMins int) *Quote {
	config, exists := fareConfigs[tier]
	if !exists {
		tier = TierEconomy
		config = fareConfigs[tier]
	}

	baseFare := config.BaseFare
	distanceFare := miles * config.PerMileRate
	timeFare := float64(durationMins) * config.PerMinRate

	total := baseFare + distanceFare + timeFare
	if total < config.MinFare {
		total = config.MinFare
	}

	return &Quote{
		Tier:         tier,
		Miles:        round(miles),
		Minutes:      durationMins,
		BaseFare:     round(baseFare),
		DistanceFare: round(distanceFare),
		TimeFare:     round(timeFare),
		Total:        round(total),
	}
}

// EstimateDistance calculates straight-line distance and multiplies by road factor
func (s *pricingService) EstimateDistance(pickup, destination models.LatLng) float64 {
	straightLine := geo.HaversineMiles(pickup, destination)
	// Multiply by 1.3 to account for actual road distance
	return round(straightLine * 1.3)
}

// EstimateDuration estimates trip duration assuming 15 mph in city traffic
func (s *pricingService) EstimateDuration(miles float64) int {
	durationHours := miles / 15.0
	durationMins := int(math.Ceil(durationHours * 60))
	if durationMins < 5 {
		durationMins = 5
	}
	return durationMins
}

func round(f float64) float64 {
	return math.Round(f*100) / 100
}
