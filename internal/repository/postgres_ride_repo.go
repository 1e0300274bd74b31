package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/rs/zerolog"

	apperrors "github.com/aditya/ridelink/internal/errors"
	"github.com/aditya/ridelink/internal/models"
	"github.com/aditya/ridelink/pkg/utils"
)

const rideChangesChannel = "ride_requests_changed"

// PostgresRideRepository stores the ride document as JSONB next to the
// indexed columns. A trigger NOTIFYs on every write and a pq.Listener turns
// those into snapshot deliveries.
type PostgresRideRepository struct {
	db     *sqlx.DB
	dsn    string
	newID  utils.IDGenerator
	hub    *hub
	logger zerolog.Logger

	listenOnce sync.Once
	listenErr  error
	listener   *pq.Listener
	stop       context.CancelFunc
	done       chan struct{}
}

func NewPostgresRideRepository(db *sqlx.DB, dsn string, logger zerolog.Logger) *PostgresRideRepository {
	return &PostgresRideRepository{
		db:     db,
		dsn:    dsn,
		newID:  utils.GenerateID,
		hub:    newHub(),
		logger: logger,
	}
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func (r *PostgresRideRepository) Create(ctx context.Context, rec models.RideRecord) (string, error) {
	if err := validateNew(&rec); err != nil {
		return "", err
	}
	if rec.ID == "" {
		rec.ID = r.newID()
	}

	doc, err := json.Marshal(rec)
	if err != nil {
		return "", err
	}

	query := `
		INSERT INTO ride_requests (id, customer_id, driver_id, status, request_time, doc)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err = r.db.ExecContext(ctx, query,
		rec.ID, rec.CustomerID, nullable(rec.DriverID), rec.Status, int64(rec.RequestTime), doc)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return "", fmt.Errorf("%w: ride %s already exists", apperrors.ErrBadRequest, rec.ID)
		}
		return "", err
	}
	return rec.ID, nil
}

func (r *PostgresRideRepository) Get(ctx context.Context, id string) (*models.RideRecord, error) {
	var doc []byte
	err := r.db.GetContext(ctx, &doc, `SELECT doc FROM ride_requests WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var rec models.RideRecord
	if err := json.Unmarshal(doc, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *PostgresRideRepository) Update(ctx context.Context, id string, patch models.Patch, expect ...models.RideStatus) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var doc []byte
	err = tx.GetContext(ctx, &doc, `SELECT doc FROM ride_requests WHERE id = $1 FOR UPDATE`, id)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%w: ride %s", apperrors.ErrNotFound, id)
	}
	if err != nil {
		return err
	}

	var current models.RideRecord
	if err := json.Unmarshal(doc, &current); err != nil {
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

	query := `
		UPDATE ride_requests
		SET driver_id = $1, status = $2, doc = $3, updated_at = $4
		WHERE id = $5
	`
	if _, err := tx.ExecContext(ctx, query, nullable(merged.DriverID), merged.Status, raw, time.Now(), id); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *PostgresRideRepository) List(ctx context.Context, filter models.RideFilter) ([]models.RideRecord, error) {
	statuses := make([]string, len(filter.Statuses))
	for i, s := range filter.Statuses {
		statuses[i] = string(s)
	}

	query := `
		SELECT doc FROM ride_requests
		WHERE ($1 = '' OR customer_id = $1)
		  AND ($2 = '' OR driver_id = $2)
		  AND (cardinality($3::text[]) = 0 OR status = ANY($3::text[]))
		ORDER BY request_time DESC, id
	`
	var docs [][]byte
	if err := r.db.SelectContext(ctx, &docs, query, filter.CustomerID, filter.DriverID, pq.Array(statuses)); err != nil {
		return nil, err
	}

	recs := make([]models.RideRecord, 0, len(docs))
	for _, doc := range docs {
		var rec models.RideRecord
		if err := json.Unmarshal(doc, &rec); err != nil {
			r.logger.Warn().Err(err).Msg("skipping unreadable ride")
			continue
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

func (r *PostgresRideRepository) Subscribe(ctx context.Context, filter models.RideFilter, fn SnapshotFunc) (func(), error) {
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

func (r *PostgresRideRepository) listen() error {
	r.listenOnce.Do(func() {
		r.listener = pq.NewListener(r.dsn, time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
			if err != nil {
				r.logger.Warn().Err(err).Int("event", int(ev)).Msg("ride change listener")
			}
		})
		if err := r.listener.Listen(rideChangesChannel); err != nil {
			r.listener.Close()
			r.listenErr = fmt.Errorf("failed to listen for ride changes: %w", err)
			return
		}

		ctx, cancel := context.WithCancel(context.Background())
		r.stop = cancel
		r.done = make(chan struct{})
		go func() {
			defer close(r.done)
			ping := time.NewTicker(90 * time.Second)
			defer ping.Stop()

			for {
				select {
				case <-ctx.Done():
					return
				case n := <-r.listener.Notify:
					if n == nil {
						// Reconnected; notifications may have been lost.
						r.dispatch(ctx, "")
						continue
					}
					r.dispatch(ctx, n.Extra)
				case <-ping.C:
					go r.listener.Ping()
				}
			}
		}()
	})
	return r.listenErr
}

func (r *PostgresRideRepository) dispatch(ctx context.Context, id string) {
	var rec *models.RideRecord
	if id != "" {
		var err error
		if rec, err = r.Get(ctx, id); err != nil {
			r.logger.Warn().Err(err).Str("ride_id", id).Msg("failed to read changed ride")
			return
		}
	}
	for _, sub := range r.hub.affected(id, rec) {
		if err := sub.deliver(ctx, r.List); err != nil {
			r.logger.Warn().Err(err).Str("ride_id", id).Msg("snapshot delivery failed")
		}
	}
}

func (r *PostgresRideRepository) Close() error {
	if r.stop != nil {
		r.stop()
		<-r.done
	}
	if r.listener != nil {
		return r.listener.Close()
	}
	return nil
}
