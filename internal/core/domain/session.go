package domain

// SessionStatus is the authentication status tracked by the session monitor.
type SessionStatus string

const (
	StatusAuthenticating  SessionStatus = "authenticating"
	StatusAuthenticated   SessionStatus = "authenticated"
	StatusUnauthenticated SessionStatus = "unauthenticated"
)

// SessionState is the process-wide session snapshot. Initializing is true only
// until the first identity notification has been observed.
type SessionState struct {
	Status       SessionStatus `json:"status"`
	UserID       string        `json:"user_id,omitempty"`
	Initializing bool          `json:"initializing"`
}

// InitialSessionState is the state before any identity notification arrives.
func InitialSessionState() SessionState {
	return SessionState{Status: StatusAuthenticating, Initializing: true}
}

// Authenticated reports whether the state carries a signed-in identity.
func (s SessionState) Authenticated() bool {
	return s.Status == StatusAuthenticated && s.UserID != ""
}

// IsUser reports whether the state is authenticated as uid.
func (s SessionState) IsUser(uid string) bool {
	return s.Authenticated() && s.UserID == uid
}

// RootRoute returns the single root screen matching the session.
func (s SessionState) RootRoute() Route {
	if s.Authenticated() {
		return RouteHome
	}
	return RouteLogin
}

// Identity is an authenticated principal as reported by the identity provider.
type Identity struct {
	UID         string `json:"uid"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name,omitempty"`
}
