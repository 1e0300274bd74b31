package repository

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	apperrors "github.com/aditya/ridelink/internal/errors"
	"github.com/aditya/ridelink/internal/models"
	"github.com/aditya/ridelink/pkg/utils"
)

// MemoryRideRepository keeps rides in process and notifies subscribers
// synchronously on the writing goroutine, after the write is visible and
// outside the store lock. Subscribers must not write back from inside their
// callback.
type MemoryRideRepository struct {
	mu      sync.RWMutex
	records map[string]models.RideRecord
	newID   utils.IDGenerator
	hub     *hub
	logger  zerolog.Logger
}

func NewMemoryRideRepository(newID utils.IDGenerator, logger zerolog.Logger) *MemoryRideRepository {
	if newID == nil {
		newID = utils.GenerateID
	}
	return &MemoryRideRepository{
		records: make(map[string]models.RideRecord),
		newID:   newID,
		hub:     newHub(),
		logger:  logger,
	}
}

func (r *MemoryRideRepository) Create(ctx context.Context, rec models.RideRecord) (string, error) {
	if err := validateNew(&rec); err != nil {
		return "", err
	}
	if rec.ID == "" {
		rec.ID = r.newID()
	}

	r.mu.Lock()
	if _, exists := r.records[rec.ID]; exists {
		r.mu.Unlock()
		return "", fmt.Errorf("%w: ride %s already exists", apperrors.ErrBadRequest, rec.ID)
	}
	r.records[rec.ID] = rec
	r.mu.Unlock()

	r.notify(ctx, rec)
	return rec.ID, nil
}

func (r *MemoryRideRepository) Get(ctx context.Context, id string) (*models.RideRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[id]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (r *MemoryRideRepository) Update(ctx context.Context, id string, patch models.Patch, expect ...models.RideStatus) error {
	r.mu.Lock()
	current, ok := r.records[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: ride %s", apperrors.ErrNotFound, id)
	}
	if !statusAllowed(current.Status, expect) {
		r.mu.Unlock()
		return staleError(id, current.Status)
	}

	merged, err := models.ApplyPatch(current, patch)
	if err != nil {
		r.mu.Unlock()
		return err
	}
	r.records[id] = merged
	r.mu.Unlock()

	r.notify(ctx, merged)
	return nil
}

func (r *MemoryRideRepository) List(ctx context.Context, filter models.RideFilter) ([]models.RideRecord, error) {
	r.mu.RLock()
	recs := make([]models.RideRecord, 0)
	for _, rec := range r.records {
		if filter.Matches(&rec) {
			recs = append(recs, rec)
		}
	}
	r.mu.RUnlock()

	sortRecords(recs)
	return recs, nil
}

func (r *MemoryRideRepository) Subscribe(ctx context.Context, filter models.RideFilter, fn SnapshotFunc) (func(), error) {
	sub, cancel := r.hub.add(ctx, filter, fn)
	if err := sub.deliver(ctx, r.List); err != nil {
		cancel()
		return nil, err
	}
	return cancel, nil
}

// Subscribers reports the number of live subscriptions.
func (r *MemoryRideRepository) Subscribers() int {
	return r.hub.size()
}

func (r *MemoryRideRepository) notify(ctx context.Context, rec models.RideRecord) {
	for _, sub := range r.hub.affected(rec.ID, &rec) {
		if err := sub.deliver(context.WithoutCancel(ctx), r.List); err != nil {
			r.logger.Warn().Err(err).Str("ride_id", rec.ID).Msg("snapshot delivery failed")
		}
	}
}

// MemoryProfileRepository keeps profiles and phone records in process.
type MemoryProfileRepository struct {
	mu       sync.RWMutex
	profiles map[string]models.UserProfile
	phones   map[string]models.PhoneRecord
}

func NewMemoryProfileRepository() *MemoryProfileRepository {
	return &MemoryProfileRepository{
		profiles: make(map[string]models.UserProfile),
		phones:   make(map[string]models.PhoneRecord),
	}
}

func (r *MemoryProfileRepository) GetProfile(ctx context.Context, uid string) (*models.UserProfile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.profiles[uid]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (r *MemoryProfileRepository) SaveProfile(ctx context.Context, profile *models.UserProfile) error {
	if profile.UID == "" {
		return fmt.Errorf("%w: uid is required", apperrors.ErrBadRequest)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.profiles[profile.UID] = *profile
	return nil
}

func (r *MemoryProfileRepository) GetPhone(ctx context.Context, uid string) (*models.PhoneRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.phones[uid]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (r *MemoryProfileRepository) SavePhone(ctx context.Context, phone *models.PhoneRecord) error {
	if phone.UserID == "" {
		return fmt.Errorf("%w: userId is required", apperrors.ErrBadRequest)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.phones[phone.UserID] = *phone
	return nil
}
