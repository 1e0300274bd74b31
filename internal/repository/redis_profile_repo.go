package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	apperrors "github.com/aditya/ridelink/internal/errors"
	"github.com/aditya/ridelink/internal/models"
)

type redisProfileRepository struct {
	redis *redis.Client
	ns    string
}

func NewRedisProfileRepository(client *redis.Client, namespace string) ProfileRepository {
	if namespace == "" {
		namespace = "ridelink"
	}
	return &redisProfileRepository{redis: client, ns: namespace}
}

func (r *redisProfileRepository) GetProfile(ctx context.Context, uid string) (*models.UserProfile, error) {
	var p models.UserProfile
	found, err := r.getJSON(ctx, r.ns+":users:"+uid, &p)
	if err != nil || !found {
		return nil, err
	}
	return &p, nil
}

func (r *redisProfileRepository) SaveProfile(ctx context.Context, profile *models.UserProfile) error {
	if profile.UID == "" {
		return fmt.Errorf("%w: uid is required", apperrors.ErrBadRequest)
	}
	return r.setJSON(ctx, r.ns+":users:"+profile.UID, profile)
}

func (r *redisProfileRepository) GetPhone(ctx context.Context, uid string) (*models.PhoneRecord, error) {
	var p models.PhoneRecord
	found, err := r.getJSON(ctx, r.ns+":phoneNumbers:"+uid, &p)
	if err != nil || !found {
		return nil, err
	}
	return &p, nil
}

func (r *redisProfileRepository) SavePhone(ctx context.Context, phone *models.PhoneRecord) error {
	if phone.UserID == "" {
		return fmt.Errorf("%w: userId is required", apperrors.ErrBadRequest)
	}
	return r.setJSON(ctx, r.ns+":phoneNumbers:"+phone.UserID, phone)
}

func (r *redisProfileRepository) getJSON(ctx context.Context, key string, dst any) (bool, error) {
	data, err := r.redis.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, json.Unmarshal(data, dst)
}

func (r *redisProfileRepository) setJSON(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return r.redis.Set(ctx, key, data, 0).Err()
}
