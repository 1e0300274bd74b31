package middleware

import (
	"context"
	"net/http"

	"github.com/newrelic/go-agent/v3/newrelic"

	"github.com/aditya/ridelink/internal/identity"
	"github.com/aditya/ridelink/pkg/utils"
)

type userKey struct{}

// Auth resolves the bearer token into a signed-in user. Requests without a
// valid token never reach next.
func Auth(provider identity.Provider) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := r.Header.Get("Authorization")
			if token == "" {
				// EventSource cannot set headers
				token = r.URL.Query().Get("access_token")
			}

			user, err := provider.Authenticate(r.Context(), token)
			if err != nil {
				utils.FromError(w, err)
				return
			}
			if txn := newrelic.FromContext(r.Context()); txn != nil {
				txn.AddAttribute("uid", user.ID)
			}
			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
		})
	}
}

func WithUser(ctx context.Context, u identity.User) context.Context {
	return context.WithValue(ctx, userKey{}, u)
}

// UserFrom returns the user stored by Auth.
func UserFrom(ctx context.Context) (identity.User, bool) {
	u, ok := ctx.Value(userKey{}).(identity.User)
	return u, ok
}
