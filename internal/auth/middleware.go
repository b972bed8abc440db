package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

// CookieName is the HttpOnly cookie that carries the token for browser clients.
const CookieName = "token"

// contextKey is package-private so no other package can read or shadow
// the values stored under it.
type contextKey string

const userIDKey contextKey = "userID"

var errNoToken = errors.New("auth: no token presented")

// Authenticator turns a presented token into a user ID.
//
// *TokenService checks the signature only. The service layer's
// AuthService also confirms the account still exists, so a token that
// outlives its user is rejected.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (string, error)
}

// Authenticate implements Authenticator from the token alone.
func (s *TokenService) Authenticate(_ context.Context, token string) (string, error) {
	return s.Validate(token)
}

// RequireAuth rejects requests without a valid token with 401 and stores the
// authenticated user ID in the context otherwise.
func RequireAuth(authn Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := extractUserID(r, authn)
			if err != nil {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("WWW-Authenticate", `Token realm="api"`)
				w.WriteHeader(http.StatusUnauthorized)
				w.Write([]byte(`{"error":"unauthorized","message":"Authentication credentials were not provided or are invalid."}` + "\n"))
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
		})
	}
}

// OptionalAuth attaches the user ID when a valid token is present and lets
// anonymous requests through untouched. The shared-link endpoint uses it:
// the owner bypasses the password, everyone else does not need an account.
func OptionalAuth(authn Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if userID, err := extractUserID(r, authn); err == nil {
				r = r.WithContext(WithUserID(r.Context(), userID))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// WithUserID returns a copy of ctx carrying userID.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// UserIDFromContext returns ("", false) for anonymous requests.
func UserIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(userIDKey).(string)
	return id, ok && id != ""
}

// extractUserID looks for a token in the Authorization header first and
// falls back to the cookie. A header that is present but malformed is an
// error; the cookie is not consulted in that case.
func extractUserID(r *http.Request, authn Authenticator) (string, error) {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if !ok {
			return "", errNoToken
		}
		switch strings.ToLower(scheme) {
		case "token", "bearer":
			return authn.Authenticate(r.Context(), strings.TrimSpace(token))
		default:
			return "", errNoToken
		}
	}

	cookie, err := r.Cookie(CookieName)
	if err != nil {
		return "", errNoToken
	}
	return authn.Authenticate(r.Context(), cookie.Value)
}
