package ports

import (
	"context"
	"time"

	"github.com/samtwin/companion/internal/core/domain"
)

// UserRepository persists identity provider accounts.
type UserRepository interface {
	FindByEmail(ctx context.Context, email string) (*domain.User, error)
	FindByID(ctx context.Context, id string) (*domain.User, error)
	Create(ctx context.Context, user *domain.User) (*domain.User, error)
	UpdatePassword(ctx context.Context, id, passwordHash string) error
}

// ResetCodeStore holds single-use password-reset action codes.
type ResetCodeStore interface {
	Issue(ctx context.Context, userID string, ttl time.Duration) (code string, err error)
	// Consume returns the owning user id and invalidates the code.
	// Unknown or expired codes yield domain.ErrCodeNotFound.
	Consume(ctx context.Context, code string) (userID string, err error)
}

// AttemptLimiter counts failed sign-in attempts per key.
type AttemptLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
	Fail(ctx context.Context, key string) error
	Reset(ctx context.Context, key string) error
}

// Mailer delivers password-reset links.
type Mailer interface {
	SendPasswordReset(ctx context.Context, email, link string) error
}
