package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/samtwin/companion/internal/core/domain"
	"github.com/samtwin/companion/internal/core/ports"
)

const resetCodePrefix = "reset:"

// ResetCodeStore keeps single-use password-reset codes in Redis.
// Key format: reset:<code> -> user id, expiring with the code.
type ResetCodeStore struct {
	client *redis.Client
}

var _ ports.ResetCodeStore = (*ResetCodeStore)(nil)

// NewResetCodeStore creates a ResetCodeStore wrapping the given Redis client.
func NewResetCodeStore(client *redis.Client) *ResetCodeStore {
	return &ResetCodeStore{client: client}
}

func (s *ResetCodeStore) Issue(ctx context.Context, userID string, ttl time.Duration) (string, error) {
	code, err := domain.NewActionCode()
	if err != nil {
		return "", err
	}
	if err := s.client.Set(ctx, resetCodePrefix+code, userID, ttl).Err(); err != nil {
		return "", fmt.Errorf("store reset code: %w", err)
	}
	return code, nil
}

// Consume reads and deletes the code atomically with GETDEL.
func (s *ResetCodeStore) Consume(ctx context.Context, code string) (string, error) {
	uid, err := s.client.GetDel(ctx, resetCodePrefix+code).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", domain.ErrCodeNotFound
		}
		return "", fmt.Errorf("consume reset code: %w", err)
	}
	return uid, nil
}
