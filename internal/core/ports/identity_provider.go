package ports

import (
	"context"

	"github.com/samtwin/companion/internal/core/domain"
)

// AuthStateListener receives the signed-in identity, or nil after sign-out.
type AuthStateListener func(identity *domain.Identity)

// SignUpInput carries the sign-up form.
type SignUpInput struct {
	FirstName       string `validate:"required"`
	LastName        string `validate:"required"`
	Email           string `validate:"required,email"`
	Password        string `validate:"required,min=6"`
	ConfirmPassword string `validate:"required,eqfield=Password"`
	Interest        string `validate:"required"`
	Gender          string `validate:"required"`
	Education       string `validate:"required"`
}

// Credentials is the result of a successful sign-in.
type Credentials struct {
	Identity *domain.Identity
	IDToken  string
}

// IdentityProvider is the authentication collaborator. Every failure is a
// *domain.AuthError carrying a provider code.
type IdentityProvider interface {
	// OnAuthStateChanged registers fn, delivers the current identity to it and
	// then every change. The returned function unsubscribes and is idempotent.
	OnAuthStateChanged(fn AuthStateListener) (unsubscribe func())
	CurrentUser() *domain.Identity
	SignIn(ctx context.Context, email, password string) (*Credentials, error)
	SignUp(ctx context.Context, in SignUpInput) (*domain.Identity, error)
	SignOut(ctx context.Context) error
	SendPasswordResetEmail(ctx context.Context, email string) error
	ConfirmPasswordReset(ctx context.Context, code, newPassword string) error
	VerifyIDToken(token string) (*domain.Identity, error)
}

// SessionSource exposes the latest known session state.
type SessionSource interface {
	State() domain.SessionState
}
