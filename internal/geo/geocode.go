package geo

import (
	"context"
	"fmt"

	"github.com/aditya/ridelink/internal/models"
)

// Geocoder resolves a coordinate to a human-readable address.
type Geocoder interface {
	ReverseGeocode(ctx context.Context, p models.LatLng) (string, error)
}

// DefaultSnapMiles is how close a coordinate must be to a known place to
// take its address.
const DefaultSnapMiles = 0.25

type indexGeocoder struct {
	index    *PlaceIndex
	snapDist float64
}

// NewIndexGeocoder resolves addresses from the place index, falling back to
// the formatted coordinate when nothing is close.
func NewIndexGeocoder(index *PlaceIndex, snapMiles float64) Geocoder {
	if snapMiles <= 0 {
		snapMiles = DefaultSnapMiles
	}
	return &indexGeocoder{index: index, snapDist: snapMiles}
}

func (g *indexGeocoder) ReverseGeocode(ctx context.Context, p models.LatLng) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	nearest := g.index.Nearest(p, 1)
	if len(nearest) == 1 && nearest[0].Miles <= g.snapDist {
		return nearest[0].Address, nil
	}
	return fmt.Sprintf("%.5f, %.5f", p.Lat, p.Lng), nil
}
