package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/samtwin/companion/internal/api/middleware"
	"github.com/samtwin/companion/internal/core/domain"
)

// ctxIdentity extracts the identity injected by the Auth middleware. Its
// absence means the route was mounted without the middleware.
func ctxIdentity(c echo.Context) (*domain.Identity, error) {
	identity, _ := c.Get(middleware.IdentityKey).(*domain.Identity)
	if identity == nil || identity.UID == "" {
		return nil, echo.NewHTTPError(http.StatusUnauthorized, "missing authentication claims")
	}
	return identity, nil
}
