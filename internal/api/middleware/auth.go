package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/samtwin/companion/internal/core/domain"
	"github.com/samtwin/companion/internal/core/ports"
)

// IdentityKey is the echo context key holding the verified *domain.Identity.
const IdentityKey = "identity"

// TokenVerifier validates an ID token and returns the identity it was issued for.
type TokenVerifier interface {
	VerifyIDToken(token string) (*domain.Identity, error)
}

// Auth validates the bearer ID token and injects the identity into context.
// The token must belong to the identity the session is currently signed in
// as; a token for a previous session is rejected.
func Auth(verifier TokenVerifier, session ports.SessionSource) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token, err := bearerToken(c.Request())
			if err != nil {
				return err
			}

			identity, err := verifier.VerifyIDToken(token)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}

			if !session.State().IsUser(identity.UID) {
				return echo.NewHTTPError(http.StatusUnauthorized, "token does not match the signed-in session")
			}

			c.Set(IdentityKey, identity)
			return next(c)
		}
	}
}

// bearerToken reads the token from the Authorization header. Browsers cannot
// set headers on an EventSource, so the access_token query parameter is
// accepted as a fallback.
func bearerToken(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		if t := r.URL.Query().Get("access_token"); t != "" {
			return t, nil
		}
		return "", echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || parts[1] == "" {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization header")
	}
	return parts[1], nil
}
