package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/samtwin/companion/internal/core/domain"
)

type stubVerifier map[string]*domain.Identity

func (s stubVerifier) VerifyIDToken(token string) (*domain.Identity, error) {
	if id, ok := s[token]; ok {
		return id, nil
	}
	return nil, errors.New("bad token")
}

type fixedSession domain.SessionState

func (f fixedSession) State() domain.SessionState {
	return domain.SessionState(f)
}

var (
	alice    = &domain.Identity{UID: "u-alice", Email: "alice@example.com"}
	verifier = stubVerifier{"good": alice}
	signedIn = fixedSession{Status: domain.StatusAuthenticated, UserID: "u-alice"}
)

func run(t *testing.T, mw echo.MiddlewareFunc, req *http.Request) (*httptest.ResponseRecorder, bool) {
	t.Helper()
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	called := false
	handler := mw(func(c echo.Context) error {
		called = true
		if c.Get(IdentityKey) != alice {
			t.Fatalf("identity not set")
		}
		return c.NoContent(http.StatusOK)
	})

	if err := handler(c); err != nil {
		e.HTTPErrorHandler(err, c)
	}
	return rec, called
}

func TestAuthMiddleware_ValidToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer good")

	rec, called := run(t, Auth(verifier, signedIn), req)
	if !called {
		t.Fatalf("next not called")
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestAuthMiddleware_QueryTokenFallback(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?access_token=good", nil)

	rec, called := run(t, Auth(verifier, signedIn), req)
	if !called || rec.Code != http.StatusOK {
		t.Fatalf("expected query token to authenticate, got %d", rec.Code)
	}
}

func TestAuthMiddleware_Rejections(t *testing.T) {
	cases := []struct {
		name    string
		header  string
		session fixedSession
	}{
		{"missing header", "", signedIn},
		{"invalid header format", "Token abc", signedIn},
		{"empty bearer", "Bearer ", signedIn},
		{"invalid token", "Bearer not-a-token", signedIn},
		{"signed out", "Bearer good", fixedSession(domain.SessionState{Status: domain.StatusUnauthenticated})},
		{"other user signed in", "Bearer good", fixedSession{Status: domain.StatusAuthenticated, UserID: "u-bob"}},
		{"still initializing", "Bearer good", fixedSession(domain.InitialSessionState())},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}

			rec, called := run(t, Auth(verifier, tc.session), req)
			if called {
				t.Fatalf("should not reach next")
			}
			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", rec.Code)
			}
		})
	}
}
