package handler

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/samtwin/companion/internal/core/domain"
)

// Shell is the app event loop as driven by the HTTP layer.
type Shell interface {
	OpenURL(ctx context.Context, rawURL string) (domain.DeepLinkAction, error)
	Navigate(ctx context.Context, route domain.Route, params map[string]string) error
	State() domain.SessionState
}

// RouteLister exposes the navigation stack, root first.
type RouteLister interface {
	Routes() []domain.RouteEntry
}

// CurrentUserReader reports the identity the provider is signed in as.
type CurrentUserReader interface {
	CurrentUser() *domain.Identity
}

// ShellHandler serves deep links, navigation and session state.
type ShellHandler struct {
	shell  Shell
	routes RouteLister
	users  CurrentUserReader
}

func NewShellHandler(shell Shell, routes RouteLister, users CurrentUserReader) *ShellHandler {
	return &ShellHandler{shell: shell, routes: routes, users: users}
}

type openLinkRequest struct {
	URL string `json:"url" validate:"required"`
}

type navigateRequest struct {
	Path   string            `json:"path" validate:"required"`
	Params map[string]string `json:"params"`
}

type navResponse struct {
	Routes  []domain.RouteEntry `json:"routes"`
	Current *domain.RouteEntry  `json:"current,omitempty"`
}

type sessionResponse struct {
	Session domain.SessionState `json:"session"`
	User    *domain.Identity    `json:"user,omitempty"`
}

// OpenLink dispatches an activation URL as if the OS had opened the app with it.
//
// @Summary      Open a deep link
// @Tags         shell
// @Accept       json
// @Produce      json
// @Param        body  body      openLinkRequest  true  "Activation URL"
// @Success      200   {object}  domain.DeepLinkAction
// @Router       /links [post]
func (h *ShellHandler) OpenLink(c echo.Context) error {
	var req openLinkRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid payload")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	action, err := h.shell.OpenURL(c.Request().Context(), req.URL)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, action)
}

// @Summary      Current navigation stack
// @Tags         shell
// @Produce      json
// @Success      200  {object}  navResponse
// @Router       /nav [get]
func (h *ShellHandler) Stack(c echo.Context) error {
	return c.JSON(http.StatusOK, h.nav())
}

// Navigate pushes the screen named by a linking path ("signup",
// "forgot-password", ...).
//
// @Summary      Push a screen by linking path
// @Tags         shell
// @Accept       json
// @Produce      json
// @Param        body  body      navigateRequest  true  "Linking path"
// @Success      200   {object}  navResponse
// @Failure      404   {object}  map[string]string
// @Failure      409   {object}  map[string]string
// @Router       /nav [post]
func (h *ShellHandler) Navigate(c echo.Context) error {
	var req navigateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid payload")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	route, ok := domain.RouteForPath(req.Path)
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "unknown path")
	}
	if err := h.shell.Navigate(c.Request().Context(), route, req.Params); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, h.nav())
}

// @Summary      Current session
// @Tags         shell
// @Produce      json
// @Success      200  {object}  sessionResponse
// @Router       /session [get]
func (h *ShellHandler) Session(c echo.Context) error {
	return c.JSON(http.StatusOK, sessionResponse{
		Session: h.shell.State(),
		User:    h.users.CurrentUser(),
	})
}

func (h *ShellHandler) nav() navResponse {
	routes := h.routes.Routes()
	resp := navResponse{Routes: routes}
	if len(routes) > 0 {
		top := routes[len(routes)-1]
		resp.Current = &top
	}
	return resp
}
