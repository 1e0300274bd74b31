package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/aditya/ridelink/internal/cache"
	apperrors "github.com/aditya/ridelink/internal/errors"
	"github.com/aditya/ridelink/internal/geo"
	"github.com/aditya/ridelink/internal/models"
)

const defaultSearchLimit = 10

// PlaceService answers place search and keeps each user's recent picks.
type PlaceService struct {
	index    *geo.PlaceIndex
	geocoder geo.Geocoder
	mirror   cache.Mirror
}

func NewPlaceService(index *geo.PlaceIndex, geocoder geo.Geocoder, mirror cache.Mirror) *PlaceService {
	if mirror == nil {
		mirror = cache.NewMemoryMirror()
	}
	return &PlaceService{index: index, geocoder: geocoder, mirror: mirror}
}

// Search matches query against place names and addresses, nearest first when
// origin is given.
func (s *PlaceService) Search(query string, origin *models.LatLng, limit int) []models.PlaceWithDistance {
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	return s.index.Search(strings.TrimSpace(query), origin, limit)
}

func (s *PlaceService) Nearby(p models.LatLng, k int) []models.PlaceWithDistance {
	if k <= 0 {
		k = defaultSearchLimit
	}
	return s.index.Nearest(p, k)
}

// Select records placeID as the user's latest pick and returns it with the
// updated recent list.
func (s *PlaceService) Select(uid, placeID string) (models.Place, []models.Place, error) {
	place, ok := s.index.Get(placeID)
	if !ok {
		return models.Place{}, nil, fmt.Errorf("%w: place %s", apperrors.ErrNotFound, placeID)
	}

	recent, err := cache.NewUserCache(s.mirror, uid).AddRecentSearch(place)
	if err != nil {
		return models.Place{}, nil, err
	}
	return place, recent, nil
}

// SelectPoint records an arbitrary map pick. The point is reverse geocoded
// and added to the index so it can be selected again by id.
func (s *PlaceService) SelectPoint(ctx context.Context, uid string, p models.LatLng) (models.Place, []models.Place, error) {
	address := fmt.Sprintf("%.5f, %.5f", p.Lat, p.Lng)
	if s.geocoder != nil {
		resolved, err := s.geocoder.ReverseGeocode(ctx, p)
		if err != nil {
			return models.Place{}, nil, err
		}
		address = resolved
	}

	place := geo.NewPlace(address, address, p)
	if existing, ok := s.index.Get(place.ID); ok {
		place = existing
	} else {
		s.index.Add(place)
	}

	recent, err := cache.NewUserCache(s.mirror, uid).AddRecentSearch(place)
	if err != nil {
		return models.Place{}, nil, err
	}
	return place, recent, nil
}

func (s *PlaceService) Recent(uid string) ([]models.Place, error) {
	return cache.NewUserCache(s.mirror, uid).RecentSearches()
}
