package repository

import (
	"context"
	"fmt"
	"sort"

	apperrors "github.com/aditya/ridelink/internal/errors"
	"github.com/aditya/ridelink/internal/models"
)

// SnapshotFunc receives the full set of records matching a subscription.
type SnapshotFunc func(records []models.RideRecord)

// RideRepository is the remote store for ride records.
//
// Update merges patch into the stored record. When expect is non-empty the
// write only happens if the stored status is one of expect, otherwise
// ErrStaleRecord is returned and nothing changes.
//
// Subscribe calls fn with the matching set once before returning and again
// after every change that touches the set, until the returned cancel func is
// called or ctx ends.
type RideRepository interface {
	Create(ctx context.Context, rec models.RideRecord) (string, error)
	Get(ctx context.Context, id string) (*models.RideRecord, error)
	Update(ctx context.Context, id string, patch models.Patch, expect ...models.RideStatus) error
	List(ctx context.Context, filter models.RideFilter) ([]models.RideRecord, error)
	Subscribe(ctx context.Context, filter models.RideFilter, fn SnapshotFunc) (func(), error)
}

// ProfileRepository stores users/{uid} and the phone-number record.
// Getters return nil, nil when the record does not exist.
type ProfileRepository interface {
	GetProfile(ctx context.Context, uid string) (*models.UserProfile, error)
	SaveProfile(ctx context.Context, profile *models.UserProfile) error
	GetPhone(ctx context.Context, uid string) (*models.PhoneRecord, error)
	SavePhone(ctx context.Context, phone *models.PhoneRecord) error
}

func statusAllowed(status models.RideStatus, expect []models.RideStatus) bool {
	if len(expect) == 0 {
		return true
	}
	for _, s := range expect {
		if s == status {
			return true
		}
	}
	return false
}

func staleError(id string, status models.RideStatus) error {
	return fmt.Errorf("%w: ride %s is %s", apperrors.ErrStaleRecord, id, status)
}

// sortRecords orders newest request first so callers see a stable order
// regardless of backend.
func sortRecords(recs []models.RideRecord) {
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].RequestTime != recs[j].RequestTime {
			return recs[i].RequestTime > recs[j].RequestTime
		}
		return recs[i].ID < recs[j].ID
	})
}

func validateNew(rec *models.RideRecord) error {
	if rec.CustomerID == "" {
		return fmt.Errorf("%w: customerId is required", apperrors.ErrBadRequest)
	}
	if !rec.Status.Valid() {
		return fmt.Errorf("%w: invalid status %q", apperrors.ErrBadRequest, rec.Status)
	}
	return nil
}
