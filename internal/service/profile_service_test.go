package service

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aditya/ridelink/internal/cache"
	apperrors "github.com/aditya/ridelink/internal/errors"
	"github.com/aditya/ridelink/internal/geo"
	"github.com/aditya/ridelink/internal/identity"
	"github.com/aditya/ridelink/internal/imagehost"
	"github.com/aditya/ridelink/internal/models"
	"github.com/aditya/ridelink/internal/repository"
)

type uploaderFunc func(ctx context.Context, filename string, r io.Reader) (string, error)

func (f uploaderFunc) Upload(ctx context.Context, filename string, r io.Reader) (string, error) {
	return f(ctx, filename, r)
}

func newProfileService(t *testing.T, up uploaderFunc) (*ProfileService, *repository.MemoryProfileRepository, cache.Mirror) {
	t.Helper()
	repo := repository.NewMemoryProfileRepository()
	mirror := cache.NewMemoryMirror()
	var uploader imagehost.Uploader
	if up != nil {
		uploader = up
	}
	svc := NewProfileService(repo, mirror, uploader, newFakeClock(t0), zerolog.Nop())
	return svc, repo, mirror
}

func TestProfileService_EnsureProfile(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newProfileService(t, nil)
	user := identity.User{ID: "u1", Name: "Mona", Email: "mona@example.com"}

	p, err := svc.EnsureProfile(ctx, user, models.RoleCustomer)
	require.NoError(t, err)
	assert.Equal(t, "Mona", p.DisplayName)
	assert.Equal(t, models.RoleCustomer, p.UserType)

	// existing profile is kept as stored
	_, err = svc.UpdateProfile(ctx, "u1", &models.UpdateProfileRequest{DisplayName: "Mona A."})
	require.NoError(t, err)
	p, err = svc.EnsureProfile(ctx, user, models.RoleDriver)
	require.NoError(t, err)
	assert.Equal(t, "Mona A.", p.DisplayName)
	assert.Equal(t, models.RoleCustomer, p.UserType)

	_, err = svc.GetProfile(ctx, "nobody")
	assert.Equal(t, 404, apperrors.ToAPI(err).StatusCode)
}

func TestProfileService_SetPhone(t *testing.T) {
	ctx := context.Background()
	svc, repo, mirror := newProfileService(t, nil)

	_, err := svc.SetPhone(ctx, "d1", models.RoleDriver, "0100 123")
	assert.ErrorIs(t, err, apperrors.ErrInvalidPhone)

	phone, err := repo.GetPhone(ctx, "d1")
	require.NoError(t, err)
	assert.Nil(t, phone)

	rec, err := svc.SetPhone(ctx, "d1", models.RoleDriver, " +201001234567 ")
	require.NoError(t, err)
	assert.Equal(t, "+201001234567", rec.PhoneNumber)
	assert.False(t, rec.Verified)
	assert.Equal(t, models.FromTime(t0), rec.Timestamp)

	profile, err := repo.GetProfile(ctx, "d1")
	require.NoError(t, err)
	require.NotNil(t, profile)
	assert.Equal(t, "+201001234567", profile.PhoneNumber)

	cached, err := cache.NewUserCache(mirror, "d1").PhoneNumber()
	require.NoError(t, err)
	assert.Equal(t, "+201001234567", cached)

	number, err := svc.PhoneNumber(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, "+201001234567", number)
}

func TestLookupPhone_FallsBackToProfileThenCache(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryProfileRepository()
	uc := cache.NewUserCache(cache.NewMemoryMirror(), "d1")

	phone, err := lookupPhone(ctx, repo, uc, "d1")
	require.NoError(t, err)
	assert.Empty(t, phone)

	require.NoError(t, uc.SetPhoneNumber("+201000000003"))
	phone, err = lookupPhone(ctx, repo, uc, "d1")
	require.NoError(t, err)
	assert.Equal(t, "+201000000003", phone)

	onFile, err := phoneOnFile(ctx, repo, "d1")
	require.NoError(t, err)
	assert.Empty(t, onFile, "the cache is not a record of the phone")

	require.NoError(t, repo.SaveProfile(ctx, &models.UserProfile{UID: "d1", PhoneNumber: "+201000000002"}))
	phone, err = lookupPhone(ctx, repo, uc, "d1")
	require.NoError(t, err)
	assert.Equal(t, "+201000000002", phone)

	onFile, err = phoneOnFile(ctx, repo, "d1")
	require.NoError(t, err)
	assert.Equal(t, "+201000000002", onFile)
}

func TestProfileService_UploadPhoto(t *testing.T) {
	ctx := context.Background()
	var got string
	svc, repo, _ := newProfileService(t, func(ctx context.Context, filename string, r io.Reader) (string, error) {
		data, _ := io.ReadAll(r)
		got = filename + ":" + string(data)
		return "https://i.example/" + filename, nil
	})

	url, err := svc.UploadPhoto(ctx, "u1", "me.png", strings.NewReader("png"))
	require.NoError(t, err)
	assert.Equal(t, "https://i.example/me.png", url)
	assert.Equal(t, "me.png:png", got)

	profile, err := repo.GetProfile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, url, profile.PhotoURL)

	failing, _, _ := newProfileService(t, func(ctx context.Context, filename string, r io.Reader) (string, error) {
		return "", errors.New("host down")
	})
	_, err = failing.UploadPhoto(ctx, "u1", "me.png", strings.NewReader("png"))
	assert.Error(t, err)

	unconfigured, _, _ := newProfileService(t, nil)
	_, err = unconfigured.UploadPhoto(ctx, "u1", "me.png", strings.NewReader("png"))
	assert.ErrorIs(t, err, apperrors.ErrBadRequest)
}

func TestPlaceService(t *testing.T) {
	ctx := context.Background()
	index := geo.NewPlaceIndex(geo.CairoPlaces)
	svc := NewPlaceService(index, geo.NewIndexGeocoder(index, 0), nil)

	hits := svc.Search("nasr", &nasrCity, 0)
	require.NotEmpty(t, hits)
	assert.Equal(t, "Nasr City", hits[0].Name)

	near := svc.Nearby(nearTahrir, 2)
	require.Len(t, near, 2)
	assert.Equal(t, "Tahrir Square", near[0].Name)

	for _, p := range geo.CairoPlaces[:7] {
		_, recent, err := svc.Select("c1", p.ID)
		require.NoError(t, err)
		assert.Equal(t, p.ID, recent[0].ID)
	}
	_, recent, err := svc.Select("c1", geo.CairoPlaces[2].ID)
	require.NoError(t, err)
	require.Len(t, recent, cache.MaxRecentSearches)
	assert.Equal(t, geo.CairoPlaces[2].ID, recent[0].ID)
	assert.Equal(t, geo.CairoPlaces[6].ID, recent[1].ID)

	stored, err := svc.Recent("c1")
	require.NoError(t, err)
	assert.Equal(t, recent, stored)

	_, _, err = svc.Select("c1", "nope")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	pick := models.LatLng{Lat: 29.5, Lng: 31.0}
	place, recent, err := svc.SelectPoint(ctx, "c1", pick)
	require.NoError(t, err)
	assert.Equal(t, "29.50000, 31.00000", place.Address)
	assert.Equal(t, place.ID, recent[0].ID)
	_, ok := index.Get(place.ID)
	assert.True(t, ok)
}
