package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/samtwin/companion/internal/core/domain"
	"github.com/samtwin/companion/internal/core/ports"
)

type stubProvider struct {
	signUpFn  func(ctx context.Context, in ports.SignUpInput) (*domain.Identity, error)
	signInFn  func(ctx context.Context, email, password string) (*ports.Credentials, error)
	resetFn   func(ctx context.Context, email string) error
	confirmFn func(ctx context.Context, code, password string) error
	signedOut bool
}

func (s *stubProvider) OnAuthStateChanged(ports.AuthStateListener) func() { return func() {} }
func (s *stubProvider) CurrentUser() *domain.Identity                     { return nil }
func (s *stubProvider) VerifyIDToken(string) (*domain.Identity, error)    { return nil, nil }

func (s *stubProvider) SignIn(ctx context.Context, email, password string) (*ports.Credentials, error) {
	return s.signInFn(ctx, email, password)
}

func (s *stubProvider) SignUp(ctx context.Context, in ports.SignUpInput) (*domain.Identity, error) {
	return s.signUpFn(ctx, in)
}

func (s *stubProvider) SignOut(context.Context) error {
	s.signedOut = true
	return nil
}

func (s *stubProvider) SendPasswordResetEmail(ctx context.Context, email string) error {
	return s.resetFn(ctx, email)
}

func (s *stubProvider) ConfirmPasswordReset(ctx context.Context, code, password string) error {
	return s.confirmFn(ctx, code, password)
}

func jsonRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	return req
}

func TestAuthHandler_SignUp_Success(t *testing.T) {
	e := echo.New()
	stub := &stubProvider{
		signUpFn: func(ctx context.Context, in ports.SignUpInput) (*domain.Identity, error) {
			if in.FirstName != "Sam" || in.ConfirmPassword != "pass123" || in.Education != "Graduate" {
				t.Fatalf("unexpected input: %+v", in)
			}
			return &domain.Identity{UID: "u1", Email: in.Email, DisplayName: "Sam Twin"}, nil
		},
	}
	handler := NewAuthHandler(stub)

	body := `{"first_name":"Sam","last_name":"Twin","email":"sam@example.com","password":"pass123",` +
		`"confirm_password":"pass123","interest":"Reading","gender":"Other","education":"Graduate"}`
	rec := httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodPost, "/auth/signup", body), rec)

	if err := handler.SignUp(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}

	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if _, ok := resp["token"]; ok {
		t.Fatalf("sign-up must not return a token")
	}
	user, ok := resp["user"].(map[string]any)
	if !ok || user["uid"] != "u1" {
		t.Fatalf("unexpected user payload: %+v", resp)
	}
}

func TestAuthHandler_SignUp_ProviderErrorIsReturned(t *testing.T) {
	e := echo.New()
	stub := &stubProvider{
		signUpFn: func(context.Context, ports.SignUpInput) (*domain.Identity, error) {
			return nil, domain.NewAuthError(domain.AuthEmailInUse, nil)
		},
	}
	handler := NewAuthHandler(stub)

	c := e.NewContext(jsonRequest(http.MethodPost, "/auth/signup", `{"email":"a@example.com"}`), httptest.NewRecorder())

	err := handler.SignUp(c)
	if domain.AuthErrorCode(err) != domain.AuthEmailInUse {
		t.Fatalf("expected email-in-use, got %v", err)
	}
}

func TestAuthHandler_Login_Success(t *testing.T) {
	e := echo.New()
	stub := &stubProvider{
		signInFn: func(ctx context.Context, email, password string) (*ports.Credentials, error) {
			if email != "sam@example.com" || password != "pass123" {
				t.Fatalf("unexpected credentials: %s %s", email, password)
			}
			return &ports.Credentials{Identity: &domain.Identity{UID: "u1", Email: email}, IDToken: "tok"}, nil
		},
	}
	handler := NewAuthHandler(stub)

	rec := httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodPost, "/auth/login", `{"email":"sam@example.com","password":"pass123"}`), rec)

	if err := handler.Login(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp authResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if resp.Token != "tok" || resp.User == nil || resp.User.UID != "u1" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestAuthHandler_Login_InvalidPayload(t *testing.T) {
	e := echo.New()
	handler := NewAuthHandler(&stubProvider{})

	c := e.NewContext(jsonRequest(http.MethodPost, "/auth/login", `{"email":`), httptest.NewRecorder())

	err := handler.Login(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 HTTPError, got %v", err)
	}
}

func TestAuthHandler_Logout(t *testing.T) {
	e := echo.New()
	stub := &stubProvider{}
	handler := NewAuthHandler(stub)

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodPost, "/auth/logout", nil), rec)

	if err := handler.Logout(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusNoContent || !stub.signedOut {
		t.Fatalf("expected sign-out with 204, got %d", rec.Code)
	}
}

func TestAuthHandler_PasswordResetFlow(t *testing.T) {
	e := echo.New()
	var mailedTo, confirmedCode string
	stub := &stubProvider{
		resetFn: func(_ context.Context, email string) error {
			mailedTo = email
			return nil
		},
		confirmFn: func(_ context.Context, code, password string) error {
			if password != "newpass" {
				t.Fatalf("unexpected password %q", password)
			}
			confirmedCode = code
			return nil
		},
	}
	handler := NewAuthHandler(stub)

	rec := httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodPost, "/auth/password-reset", `{"email":"sam@example.com"}`), rec)
	if err := handler.RequestPasswordReset(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusAccepted || mailedTo != "sam@example.com" {
		t.Fatalf("expected 202 for sam@example.com, got %d %q", rec.Code, mailedTo)
	}

	rec = httptest.NewRecorder()
	c = e.NewContext(jsonRequest(http.MethodPost, "/auth/password-reset/confirm", `{"oob_code":"CODE","new_password":"newpass"}`), rec)
	if err := handler.ConfirmPasswordReset(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusOK || confirmedCode != "CODE" {
		t.Fatalf("expected 200 for CODE, got %d %q", rec.Code, confirmedCode)
	}
}
