package cache

import (
	"github.com/aditya/ridelink/internal/models"
)

// MaxRecentSearches bounds the recent-search list.
const MaxRecentSearches = 5

const (
	keyActiveRide     = "activeRide"
	keyLastLocation   = "lastLocation"
	keyRecentSearches = "recentSearches"
	keyPhoneNumber    = "phoneNumber"
)

// UserCache is the typed view of one user's mirror entries.
type UserCache struct {
	mirror Mirror
	uid    string
}

func NewUserCache(mirror Mirror, uid string) *UserCache {
	return &UserCache{mirror: mirror, uid: uid}
}

func (c *UserCache) key(parts ...string) string {
	k := c.uid
	for _, p := range parts {
		k += ":" + p
	}
	return k
}

// ActiveRide returns the last ride snapshot seen for role, or nil.
func (c *UserCache) ActiveRide(role models.Role) (*models.RideRecord, error) {
	var rec models.RideRecord
	found, err := c.mirror.Get(c.key(string(role), keyActiveRide), &rec)
	if err != nil || !found {
		return nil, err
	}
	return &rec, nil
}

func (c *UserCache) SetActiveRide(role models.Role, rec models.RideRecord) error {
	return c.mirror.Set(c.key(string(role), keyActiveRide), rec)
}

func (c *UserCache) ClearActiveRide(role models.Role) error {
	return c.mirror.Remove(c.key(string(role), keyActiveRide))
}

func (c *UserCache) LastLocation() (*models.LatLng, error) {
	var p models.LatLng
	found, err := c.mirror.Get(c.key(keyLastLocation), &p)
	if err != nil || !found {
		return nil, err
	}
	return &p, nil
}

func (c *UserCache) SetLastLocation(p models.LatLng) error {
	return c.mirror.Set(c.key(keyLastLocation), p)
}

// RecentSearches returns the stored list, most recent first.
func (c *UserCache) RecentSearches() ([]models.Place, error) {
	var places []models.Place
	if _, err := c.mirror.Get(c.key(keyRecentSearches), &places); err != nil {
		return nil, err
	}
	return places, nil
}

// AddRecentSearch puts p at the front, dropping any older entry with the same
// place id and trimming to MaxRecentSearches.
func (c *UserCache) AddRecentSearch(p models.Place) ([]models.Place, error) {
	current, err := c.RecentSearches()
	if err != nil {
		return nil, err
	}

	updated := make([]models.Place, 0, MaxRecentSearches)
	updated = append(updated, p)
	for _, existing := range current {
		if len(updated) == MaxRecentSearches {
			break
		}
		if existing.ID == p.ID {
			continue
		}
		updated = append(updated, existing)
	}

	if err := c.mirror.Set(c.key(keyRecentSearches), updated); err != nil {
		return nil, err
	}
	return updated, nil
}

func (c *UserCache) PhoneNumber() (string, error) {
	var phone string
	if _, err := c.mirror.Get(c.key(keyPhoneNumber), &phone); err != nil {
		return "", err
	}
	return phone, nil
}

func (c *UserCache) SetPhoneNumber(phone string) error {
	return c.mirror.Set(c.key(keyPhoneNumber), phone)
}
