package geo

import (
	"math"

	"github.com/aditya/ridelink/internal/models"
)

// EarthRadiusMiles is the only radius used for distance math in ridelink.
const EarthRadiusMiles = 3958.8

const milesPerKm = 0.621371

// HaversineMiles returns the great-circle distance between a and b in miles.
// It ignores road topology.
func HaversineMiles(a, b models.LatLng) float64 {
	lat1 := toRadians(a.Lat)
	lat2 := toRadians(b.Lat)
	dLat := toRadians(b.Lat - a.Lat)
	dLng := toRadians(b.Lng - a.Lng)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return EarthRadiusMiles * c
}

// WithinMiles reports whether b lies within limit miles of a, inclusive.
func WithinMiles(a, b models.LatLng, limit float64) bool {
	return HaversineMiles(a, b) <= limit
}

func MilesToKm(miles float64) float64 {
	return miles / milesPerKm
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}
