package service

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/aditya/ridelink/internal/cache"
	apperrors "github.com/aditya/ridelink/internal/errors"
	"github.com/aditya/ridelink/internal/models"
)

// Locator reports the device position.
type Locator interface {
	Locate(ctx context.Context) (models.LatLng, error)
}

// StaticLocator returns whatever position was last set. It backs the
// simulator and tests, and stands in for a device that posts its own fixes.
type StaticLocator struct {
	mu  sync.RWMutex
	pos *models.LatLng
}

func NewStaticLocator(p *models.LatLng) *StaticLocator {
	l := &StaticLocator{}
	if p != nil {
		l.Set(*p)
	}
	return l
}

func (l *StaticLocator) Set(p models.LatLng) {
	l.mu.Lock()
	l.pos = &p
	l.mu.Unlock()
}

func (l *StaticLocator) Unset() {
	l.mu.Lock()
	l.pos = nil
	l.mu.Unlock()
}

func (l *StaticLocator) Locate(ctx context.Context) (models.LatLng, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.pos == nil {
		return models.LatLng{}, apperrors.ErrLocationUnavailable
	}
	return *l.pos, nil
}

// Notices shown when the device position could not be read.
const (
	NoticeLastKnownLocation = "Could not get your location, using your last known position"
	NoticeDefaultLocation   = "Could not get your location, using the default location"
)

// FallbackLocator never fails: it tries the device, then the cached last
// position, then the configured default. A non-empty notice tells the user
// which fallback was used.
type FallbackLocator struct {
	primary  Locator
	cache    *cache.UserCache
	fallback models.LatLng
	logger   zerolog.Logger
}

func NewFallbackLocator(primary Locator, uc *cache.UserCache, fallback models.LatLng, logger zerolog.Logger) *FallbackLocator {
	return &FallbackLocator{primary: primary, cache: uc, fallback: fallback, logger: logger}
}

func (l *FallbackLocator) Resolve(ctx context.Context) (models.LatLng, string) {
	if l.primary != nil {
		p, err := l.primary.Locate(ctx)
		if err == nil {
			if l.cache != nil {
				if err := l.cache.SetLastLocation(p); err != nil {
					l.logger.Warn().Err(err).Msg("failed to cache location")
				}
			}
			return p, ""
		}
		l.logger.Debug().Err(err).Msg("device location unavailable")
	}

	if l.cache != nil {
		last, err := l.cache.LastLocation()
		if err != nil {
			l.logger.Warn().Err(err).Msg("failed to read cached location")
		}
		if last != nil {
			return *last, NoticeLastKnownLocation
		}
	}
	return l.fallback, NoticeDefaultLocation
}
