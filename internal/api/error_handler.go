package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/samtwin/companion/internal/api/handler"
	"github.com/samtwin/companion/internal/app"
	"github.com/samtwin/companion/internal/core/domain"
)

// errorResponse is the canonical error envelope for all API errors.
type errorResponse struct {
	Error  string            `json:"error"`
	Code   string            `json:"code,omitempty"`
	Fields map[string]string `json:"fields,omitempty"`
}

// NewHTTPErrorHandler returns an echo.HTTPErrorHandler that:
//   - Maps record sync and identity provider errors to HTTP status codes.
//   - Logs unexpected errors internally without leaking details to the client.
//   - Renders a consistent JSON envelope: {"error": "<message>", "code": "..."}.
func NewHTTPErrorHandler(log zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		code, resp := resolveError(err, log, c)
		_ = c.JSON(code, resp)
	}
}

func resolveError(err error, log zerolog.Logger, c echo.Context) (int, errorResponse) {
	// Echo's own errors (bind failures, 404 from router, etc.)
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code, errorResponse{Error: fmt.Sprintf("%v", he.Message)}
	}

	var ve *handler.ValidationError
	if errors.As(err, &ve) {
		return http.StatusBadRequest, errorResponse{Error: "invalid request", Fields: ve.Fields}
	}

	var se *domain.SyncError
	if errors.As(err, &se) {
		status := syncStatus(se.Code)
		if status >= http.StatusInternalServerError {
			logUnhandled(log, c, err)
		}
		return status, errorResponse{Error: se.Message, Code: string(se.Code), Fields: se.Fields}
	}

	var ae *domain.AuthError
	if errors.As(err, &ae) {
		status := authStatus(ae.Code)
		if status >= http.StatusInternalServerError {
			logUnhandled(log, c, err)
		}
		return status, errorResponse{Error: domain.AuthMessage(err), Code: string(ae.Code), Fields: ae.Fields}
	}

	switch {
	case errors.Is(err, app.ErrRouteUnavailable):
		return http.StatusConflict, errorResponse{Error: "screen not available in the current session"}
	case errors.Is(err, app.ErrStopped):
		return http.StatusServiceUnavailable, errorResponse{Error: "service is shutting down"}
	}

	// Unexpected error: log the real cause, return a generic message.
	logUnhandled(log, c, err)
	return http.StatusInternalServerError, errorResponse{Error: "internal server error"}
}

func syncStatus(code domain.ErrorCode) int {
	switch code {
	case domain.CodeValidation:
		return http.StatusUnprocessableEntity
	case domain.CodeNotAuthenticated:
		return http.StatusUnauthorized
	case domain.CodePermissionDenied:
		return http.StatusForbidden
	case domain.CodeNotFound:
		return http.StatusNotFound
	case domain.CodeUnavailable, domain.CodeNotInitialized:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func authStatus(code domain.AuthCode) int {
	switch code {
	case domain.AuthInvalidArgument, domain.AuthInvalidEmail, domain.AuthWeakPassword, domain.AuthInvalidActionCode:
		return http.StatusBadRequest
	case domain.AuthWrongPassword, domain.AuthInvalidCredential, domain.AuthInvalidIDToken:
		return http.StatusUnauthorized
	case domain.AuthUserNotFound:
		return http.StatusNotFound
	case domain.AuthEmailInUse:
		return http.StatusConflict
	case domain.AuthTooManyRequests:
		return http.StatusTooManyRequests
	case domain.AuthNetworkFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func logUnhandled(log zerolog.Logger, c echo.Context, err error) {
	log.Error().
		Err(err).
		Str("method", c.Request().Method).
		Str("path", c.Path()).
		Msg("unhandled error")
}
