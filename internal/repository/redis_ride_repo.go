package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	apperrors "github.com/aditya/ridelink/internal/errors"
	"github.com/aditya/ridelink/internal/models"
	"github.com/aditya/ridelink/pkg/utils"
)

const maxWatchRetries = 5

// RedisRideRepository stores each ride as a JSON document with index sets
// per customer, driver and status. Writers publish the ride id on a changes
// channel; subscribers re-read their set when an id they care about moves.
type RedisRideRepository struct {
	redis  *redis.Client
	ns     string
	newID  utils.IDGenerator
	hub    *hub
	logger zerolog.Logger

	listenOnce sync.Once
	listenErr  error
	stop       context.CancelFunc
	done       chan struct{}
}

func NewRedisRideRepository(client *redis.Client, namespace string, logger zerolog.Logger) *RedisRideRepository {
	if namespace == "" {
		namespace = "ridelink"
	}
	return &RedisRideRepository{
		redis:  client,
		ns:     namespace,
		newID:  utils.GenerateID,
		hub:    newHub(),
		logger: logger,
	}
}

func (r *RedisRideRepository) rideKey(id string) string {
	return r.ns + ":rideRequests:" + id
}

func (r *RedisRideRepository) allKey() string {
	return r.ns + ":rideRequests:idx:all"
}

func (r *RedisRideRepository) customerKey(id string) string {
	return r.ns + ":rideRequests:idx:customer:" + id
}

func (r *RedisRideRepository) driverKey(id string) string {
	return r.ns + ":rideRequests:idx:driver:" + id
}

func (r *RedisRideRepository) statusKey(s models.RideStatus) string {
	return r.ns + ":rideRequests:idx:status:" + string(s)
}

func (r *RedisRideRepository) changesChannel() string {
	return r.ns + ":rideRequests:changes"
}

func (r *RedisRideRepository) Create(ctx context.Context, rec models.RideRecord) (string, error) {
	if err := validateNew(&rec); err != nil {
		return "", err
	}
	if rec.ID == "" {
		rec.ID = r.newID()
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return "", err
	}

	created, err := r.redis.SetNX(ctx, r.rideKey(rec.ID), data, 0).Result()
	if err != nil {
		return "", err
	}
	if !created {
		return "", fmt.Errorf("%w: ride %s already exists", apperrors.ErrBadRequest, rec.ID)
	}

	_, err = r.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, r.allKey(), rec.ID)
		pipe.SAdd(ctx, r.customerKey(rec.CustomerID), rec.ID)
		pipe.SAdd(ctx, r.statusKey(rec.Status), rec.ID)
		if rec.DriverID != "" {
			pipe.SAdd(ctx, r.driverKey(rec.DriverID), rec.ID)
		}
		pipe.Publish(ctx, r.changesChannel(), rec.ID)
		return nil
	})
	if err != nil {
		return "", err
	}
	return rec.ID, nil
}

func (r *RedisRideRepository) Get(ctx context.Context, id string) (*models.RideRecord, error) {
	data, err := r.redis.Get(ctx, r.rideKey(id)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var rec models.RideRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *RedisRideRepository) Update(ctx context.Context, id string, patch models.Patch, expect ...models.RideStatus) error {
	key := r.rideKey(id)

	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err == redis.Nil {
			return fmt.Errorf("%w: ride %s", apperrors.ErrNotFound, id)
		}
		if err != nil {
			return err
		}

		var current models.RideRecord
		if err := json.Unmarshal(data, &current); err != nil {
			return err
		}
		if !statusAllowed(current.Status, expect) {
			return staleError(id, current.Status)
		}

		merged, err := models.ApplyPatch(current, patch)
		if err != nil {
			return err
		}
		raw, err := json.Marshal(merged)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, raw, 0)
			if current.Status != merged.Status {
				pipe.SRem(ctx, r.statusKey(current.Status), id)
				pipe.SAdd(ctx, r.statusKey(merged.Status), id)
			}
			if current.DriverID != merged.DriverID {
				if current.DriverID != "" {
					pipe.SRem(ctx, r.driverKey(current.DriverID), id)
				}
				if merged.DriverID != "" {
					pipe.SAdd(ctx, r.driverKey(merged.DriverID), id)
				}
			}
			pipe.Publish(ctx, r.changesChannel(), id)
			return nil
		})
		return err
	}

	for i := 0; i < maxWatchRetries; i++ {
		err := r.redis.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			// Someone wrote between our read and exec; re-read and re-check.
			continue
		}
		return err
	}
	return fmt.Errorf("%w: ride %s kept changing", apperrors.ErrStaleRecord, id)
}

func (r *RedisRideRepository) List(ctx context.Context, filter models.RideFilter) ([]models.RideRecord, error) {
	var ids []string
	var err error

	switch {
	case filter.CustomerID != "":
		ids, err = r.redis.SMembers(ctx, r.customerKey(filter.CustomerID)).Result()
	case filter.DriverID != "":
		ids, err = r.redis.SMembers(ctx, r.driverKey(filter.DriverID)).Result()
	case len(filter.Statuses) > 0:
		keys := make([]string, len(filter.Statuses))
		for i, s := range filter.Statuses {
			keys[i] = r.statusKey(s)
		}
		ids, err = r.redis.SUnion(ctx, keys...).Result()
	default:
		ids, err = r.redis.SMembers(ctx, r.allKey()).Result()
	}
	if err != nil {
		return nil, err
	}

	recs := make([]models.RideRecord, 0, len(ids))
	if len(ids) == 0 {
		return recs, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.rideKey(id)
	}
	values, err := r.redis.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var rec models.RideRecord
		if err := json.Unmarshal([]byte(s), &rec); err != nil {
			r.logger.Warn().Err(err).Str("ride_id", ids[i]).Msg("skipping unreadable ride")
			continue
		}
		if filter.Matches(&rec) {
			recs = append(recs, rec)
		}
	}

	sortRecords(recs)
	return recs, nil
}

func (r *RedisRideRepository) Subscribe(ctx context.Context, filter models.RideFilter, fn SnapshotFunc) (func(), error) {
	if err := r.listen(); err != nil {
		return nil, err
	}

	sub, cancel := r.hub.add(ctx, filter, fn)
	if err := sub.deliver(ctx, r.List); err != nil {
		cancel()
		return nil, err
	}
	return cancel, nil
}

// listen starts the change listener once. The subscription is confirmed
// before returning so no change published after Subscribe is missed.
func (r *RedisRideRepository) listen() error {
	r.listenOnce.Do(func() {
		ctx, cancel := context.WithCancel(context.Background())
		pubsub := r.redis.Subscribe(ctx, r.changesChannel())
		if _, err := pubsub.Receive(ctx); err != nil {
			cancel()
			pubsub.Close()
			r.listenErr = fmt.Errorf("failed to subscribe to ride changes: %w", err)
			return
		}

		r.stop = cancel
		r.done = make(chan struct{})
		go func() {
			defer close(r.done)
			defer pubsub.Close()

			ch := pubsub.Channel()
			for {
				select {
				case <-ctx.Done():
					return
				case msg, ok := <-ch:
					if !ok {
						return
					}
					r.dispatch(ctx, msg.Payload)
				}
			}
		}()
	})
	return r.listenErr
}

func (r *RedisRideRepository) dispatch(ctx context.Context, id string) {
	rec, err := r.Get(ctx, id)
	if err != nil {
		r.logger.Warn().Err(err).Str("ride_id", id).Msg("failed to read changed ride")
		return
	}
	for _, sub := range r.hub.affected(id, rec) {
		if err := sub.deliver(ctx, r.List); err != nil {
			r.logger.Warn().Err(err).Str("ride_id", id).Msg("snapshot delivery failed")
		}
	}
}

// Close stops the change listener.
func (r *RedisRideRepository) Close() error {
	if r.stop != nil {
		r.stop()
		<-r.done
	}
	return nil
}
