package domain

import "strings"

// Route names a screen of the navigation stack.
type Route string

const (
	RouteLogin             Route = "Login"
	RouteSignup            Route = "Signup"
	RouteForgotPassword    Route = "ForgotPassword"
	RouteResetPassword     Route = "ResetPassword"
	RouteHome              Route = "Home"
	RouteJournals          Route = "Journals"
	RouteTasks             Route = "Tasks"
	RouteSocialConnections Route = "SocialConnections"
	RouteNotifications     Route = "Notifications"
	RouteProfile           Route = "Profile"
)

// RouteEntry is one screen on the navigation stack together with its params.
type RouteEntry struct {
	Name   Route             `json:"name"`
	Params map[string]string `json:"params,omitempty"`
}

// linkPaths is the linking table for path-style route names.
var linkPaths = map[string]Route{
	"login":           RouteLogin,
	"signup":          RouteSignup,
	"forgot-password": RouteForgotPassword,
	"reset-password":  RouteResetPassword,
	"home":            RouteHome,
}

// RouteForPath maps a linking path ("login", "/reset-password", ...) to its route.
func RouteForPath(path string) (Route, bool) {
	r, ok := linkPaths[strings.ToLower(strings.Trim(path, "/ "))]
	return r, ok
}

// RequiresSession reports whether the route is only reachable while signed in.
func (r Route) RequiresSession() bool {
	switch r {
	case RouteLogin, RouteSignup, RouteForgotPassword, RouteResetPassword:
		return false
	default:
		return true
	}
}
