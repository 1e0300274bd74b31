package identity

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/aditya/ridelink/internal/errors"
)

func TestJWTProvider_IssueAuthenticate(t *testing.T) {
	p := NewJWTProvider("secret", time.Hour)
	want := User{ID: "u1", Name: "Mona", Email: "mona@example.com", PhotoURL: "https://img/m.png"}

	token, err := p.Issue(want)
	require.NoError(t, err)

	got, err := p.Authenticate(context.Background(), "Bearer "+token)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestJWTProvider_Rejects(t *testing.T) {
	p := NewJWTProvider("secret", time.Hour)
	token, err := p.Issue(User{ID: "u1"})
	require.NoError(t, err)

	other := NewJWTProvider("different", time.Hour)
	_, err = other.Authenticate(context.Background(), token)
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)

	expired := NewJWTProvider("secret", time.Minute)
	expired.now = func() time.Time { return time.Now().Add(-time.Hour) }
	old, err := expired.Issue(User{ID: "u1"})
	require.NoError(t, err)
	_, err = p.Authenticate(context.Background(), old)
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Subject: "u1", Issuer: "ridelink"})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = p.Authenticate(context.Background(), unsigned)
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)

	_, err = p.Authenticate(context.Background(), "")
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)

	_, err = p.Issue(User{})
	assert.ErrorIs(t, err, apperrors.ErrBadRequest)
}

func TestStaticProvider(t *testing.T) {
	p := StaticProvider{"t1": {ID: "u1"}}

	u, err := p.Authenticate(context.Background(), "Bearer t1")
	require.NoError(t, err)
	assert.Equal(t, "u1", u.ID)

	_, err = p.Authenticate(context.Background(), "t2")
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)
}
