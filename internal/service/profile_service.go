package service

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/aditya/ridelink/internal/cache"
	apperrors "github.com/aditya/ridelink/internal/errors"
	"github.com/aditya/ridelink/internal/identity"
	"github.com/aditya/ridelink/internal/imagehost"
	"github.com/aditya/ridelink/internal/models"
	"github.com/aditya/ridelink/internal/repository"
)

type ProfileService struct {
	profiles repository.ProfileRepository
	mirror   cache.Mirror
	uploader imagehost.Uploader
	validate *validator.Validate
	clock    Clock
	logger   zerolog.Logger
}

func NewProfileService(
	profiles repository.ProfileRepository,
	mirror cache.Mirror,
	uploader imagehost.Uploader,
	clock Clock,
	logger zerolog.Logger,
) *ProfileService {
	if clock == nil {
		clock = RealClock()
	}
	return &ProfileService{
		profiles: profiles,
		mirror:   mirror,
		uploader: uploader,
		validate: validator.New(),
		clock:    clock,
		logger:   logger,
	}
}

// EnsureProfile returns the stored profile, creating it from the sign-in
// data on first use.
func (s *ProfileService) EnsureProfile(ctx context.Context, user identity.User, role models.Role) (*models.UserProfile, error) {
	profile, err := s.profiles.GetProfile(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	if profile == nil {
		profile = &models.UserProfile{
			UID:         user.ID,
			DisplayName: user.Name,
			Email:       user.Email,
			PhotoURL:    user.PhotoURL,
			UserType:    role,
		}
		if err := s.profiles.SaveProfile(ctx, profile); err != nil {
			return nil, err
		}
		s.logger.Info().Str("uid", user.ID).Str("role", string(role)).Msg("profile created")
		return profile, nil
	}

	if profile.UserType == "" && role.Valid() {
		profile.UserType = role
		if err := s.profiles.SaveProfile(ctx, profile); err != nil {
			return nil, err
		}
	}
	return profile, nil
}

func (s *ProfileService) GetProfile(ctx context.Context, uid string) (*models.UserProfile, error) {
	profile, err := s.profiles.GetProfile(ctx, uid)
	if err != nil {
		return nil, err
	}
	if profile == nil {
		return nil, apperrors.NotFound("profile")
	}
	return profile, nil
}

func (s *ProfileService) UpdateProfile(ctx context.Context, uid string, req *models.UpdateProfileRequest) (*models.UserProfile, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrBadRequest, err)
	}

	profile, err := s.GetProfile(ctx, uid)
	if err != nil {
		return nil, err
	}
	if req.DisplayName != "" {
		profile.DisplayName = req.DisplayName
	}
	if req.Preferences != nil {
		if profile.Preferences == nil {
			profile.Preferences = make(map[string]any, len(req.Preferences))
		}
		for k, v := range req.Preferences {
			profile.Preferences[k] = v
		}
	}

	if err := s.profiles.SaveProfile(ctx, profile); err != nil {
		return nil, err
	}
	return profile, nil
}

// SetPhone validates an E.164 number, stores the phone record and mirrors
// the number onto the profile and the local cache. Numbers are not verified
// here; Verified stays false until an out-of-band check sets it.
func (s *ProfileService) SetPhone(ctx context.Context, uid string, role models.Role, phone string) (*models.PhoneRecord, error) {
	phone = strings.TrimSpace(phone)
	if err := s.validate.Var(phone, "required,e164"); err != nil {
		return nil, fmt.Errorf("%w: %q", apperrors.ErrInvalidPhone, phone)
	}

	rec := &models.PhoneRecord{
		UserID:      uid,
		PhoneNumber: phone,
		UserType:    role,
		Timestamp:   models.FromTime(s.clock.Now()),
	}
	if err := s.profiles.SavePhone(ctx, rec); err != nil {
		return nil, err
	}

	profile, err := s.profiles.GetProfile(ctx, uid)
	if err != nil {
		return nil, err
	}
	if profile == nil {
		profile = &models.UserProfile{UID: uid, UserType: role}
	}
	profile.PhoneNumber = phone
	profile.PhoneVerified = rec.Verified
	if err := s.profiles.SaveProfile(ctx, profile); err != nil {
		return nil, err
	}

	if s.mirror != nil {
		if err := cache.NewUserCache(s.mirror, uid).SetPhoneNumber(phone); err != nil {
			s.logger.Warn().Err(err).Str("uid", uid).Msg("failed to cache phone number")
		}
	}
	return rec, nil
}

// PhoneNumber returns the number on file for uid, or "" when there is none.
func (s *ProfileService) PhoneNumber(ctx context.Context, uid string) (string, error) {
	var uc *cache.UserCache
	if s.mirror != nil {
		uc = cache.NewUserCache(s.mirror, uid)
	}
	return lookupPhone(ctx, s.profiles, uc, uid)
}

// UploadPhoto pushes the image to the host and stores the display URL on
// the profile.
func (s *ProfileService) UploadPhoto(ctx context.Context, uid, filename string, r io.Reader) (string, error) {
	if s.uploader == nil {
		return "", fmt.Errorf("%w: image upload is not configured", apperrors.ErrBadRequest)
	}

	url, err := s.uploader.Upload(ctx, filename, r)
	if err != nil {
		return "", err
	}

	profile, err := s.profiles.GetProfile(ctx, uid)
	if err != nil {
		return "", err
	}
	if profile == nil {
		profile = &models.UserProfile{UID: uid}
	}
	profile.PhotoURL = url
	if err := s.profiles.SaveProfile(ctx, profile); err != nil {
		return "", err
	}
	return url, nil
}

// phoneOnFile checks the phone record, then the profile. Only the stored
// records count; the accept guard relies on this.
func phoneOnFile(ctx context.Context, profiles repository.ProfileRepository, uid string) (string, error) {
	if profiles == nil {
		return "", nil
	}
	rec, err := profiles.GetPhone(ctx, uid)
	if err != nil {
		return "", err
	}
	if rec != nil && rec.PhoneNumber != "" {
		return rec.PhoneNumber, nil
	}

	profile, err := profiles.GetProfile(ctx, uid)
	if err != nil {
		return "", err
	}
	if profile != nil && profile.PhoneNumber != "" {
		return profile.PhoneNumber, nil
	}
	return "", nil
}

// lookupPhone is phoneOnFile with the local cache as a last resort, for
// display only.
func lookupPhone(ctx context.Context, profiles repository.ProfileRepository, uc *cache.UserCache, uid string) (string, error) {
	phone, err := phoneOnFile(ctx, profiles, uid)
	if err != nil || phone != "" || uc == nil {
		return phone, err
	}
	return uc.PhoneNumber()
}
