package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	apperrors "github.com/aditya/ridelink/internal/errors"
	"github.com/aditya/ridelink/internal/models"
)

type postgresProfileRepository struct {
	db *sqlx.DB
}

func NewPostgresProfileRepository(db *sqlx.DB) ProfileRepository {
	return &postgresProfileRepository{db: db}
}

func (r *postgresProfileRepository) GetProfile(ctx context.Context, uid string) (*models.UserProfile, error) {
	var doc []byte
	err := r.db.GetContext(ctx, &doc, `SELECT doc FROM users WHERE uid = $1`, uid)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var profile models.UserProfile
	if err := json.Unmarshal(doc, &profile); err != nil {
		return nil, err
	}
	return &profile, nil
}

func (r *postgresProfileRepository) SaveProfile(ctx context.Context, profile *models.UserProfile) error {
	if profile.UID == "" {
		return fmt.Errorf("%w: uid is required", apperrors.ErrBadRequest)
	}
	doc, err := json.Marshal(profile)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO users (uid, user_type, phone_number, doc, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (uid) DO UPDATE
		SET user_type = EXCLUDED.user_type, phone_number = EXCLUDED.phone_number,
			doc = EXCLUDED.doc, updated_at = EXCLUDED.updated_at
	`
	_, err = r.db.ExecContext(ctx, query, profile.UID, profile.UserType, profile.PhoneNumber, doc, time.Now())
	return err
}

func (r *postgresProfileRepository) GetPhone(ctx context.Context, uid string) (*models.PhoneRecord, error) {
	var phone models.PhoneRecord
	query := `SELECT user_id, phone_number, user_type, verified, timestamp FROM phone_numbers WHERE user_id = $1`
	err := r.db.GetContext(ctx, &phone, query, uid)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &phone, nil
}

func (r *postgresProfileRepository) SavePhone(ctx context.Context, phone *models.PhoneRecord) error {
	if phone.UserID == "" {
		return fmt.Errorf("%w: userId is required", apperrors.ErrBadRequest)
	}
	query := `
		INSERT INTO phone_numbers (user_id, phone_number, user_type, verified, timestamp)
		VALUES (:user_id, :phone_number, :user_type, :verified, :timestamp)
		ON CONFLICT (user_id) DO UPDATE
		SET phone_number = EXCLUDED.phone_number, user_type = EXCLUDED.user_type,
			verified = EXCLUDED.verified, timestamp = EXCLUDED.timestamp
	`
	_, err := r.db.NamedExecContext(ctx, query, phone)
	return err
}
