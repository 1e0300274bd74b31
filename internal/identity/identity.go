package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/aditya/ridelink/internal/errors"
)

// User is what a sign-in yields: a stable opaque id plus display data.
type User struct {
	ID       string `json:"uid"`
	Name     string `json:"displayName"`
	Email    string `json:"email,omitempty"`
	PhotoURL string `json:"photoURL,omitempty"`
}

// Provider turns a bearer token into a signed-in user.
type Provider interface {
	Authenticate(ctx context.Context, token string) (User, error)
}

type Claims struct {
	Name    string `json:"name,omitempty"`
	Email   string `json:"email,omitempty"`
	Picture string `json:"picture,omitempty"`
	jwt.RegisteredClaims
}

// JWTProvider issues and verifies HS256 tokens.
type JWTProvider struct {
	secret []byte
	ttl    time.Duration
	issuer string
	now    func() time.Time
}

func NewJWTProvider(secret string, ttl time.Duration) *JWTProvider {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &JWTProvider{secret: []byte(secret), ttl: ttl, issuer: "ridelink", now: time.Now}
}

// Issue signs a token for u. It stands in for the hosted OAuth sign-in.
func (p *JWTProvider) Issue(u User) (string, error) {
	if u.ID == "" {
		return "", fmt.Errorf("%w: user id is required", apperrors.ErrBadRequest)
	}
	now := p.now()
	claims := Claims{
		Name:    u.Name,
		Email:   u.Email,
		Picture: u.PhotoURL,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID,
			Issuer:    p.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(p.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.secret)
}

func (p *JWTProvider) Authenticate(ctx context.Context, token string) (User, error) {
	token = strings.TrimSpace(strings.TrimPrefix(token, "Bearer "))
	if token == "" {
		return User{}, fmt.Errorf("%w: missing token", apperrors.ErrUnauthorized)
	}

	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return p.secret, nil
	}, jwt.WithIssuer(p.issuer), jwt.WithTimeFunc(p.now))
	if err != nil {
		return User{}, fmt.Errorf("%w: %v", apperrors.ErrUnauthorized, err)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.Subject == "" {
		return User{}, fmt.Errorf("%w: invalid token", apperrors.ErrUnauthorized)
	}

	return User{ID: claims.Subject, Name: claims.Name, Email: claims.Email, PhotoURL: claims.Picture}, nil
}

// StaticProvider accepts a fixed token table. Used by simulate and tests.
type StaticProvider map[string]User

func (p StaticProvider) Authenticate(ctx context.Context, token string) (User, error) {
	token = strings.TrimSpace(strings.TrimPrefix(token, "Bearer "))
	u, ok := p[token]
	if !ok {
		return User{}, fmt.Errorf("%w: unknown token", apperrors.ErrUnauthorized)
	}
	return u, nil
}
