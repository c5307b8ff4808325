package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/samtwin/companion/internal/core/ports"
)

const attemptPrefix = "signin:attempts:"

// failScript increments the counter and starts the window on the first failure.
var failScript = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if n == 1 then
    redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return n
`)

// AttemptLimiter counts failed sign-ins per key in a fixed window.
// Key format: signin:attempts:<key>
type AttemptLimiter struct {
	client *redis.Client
	max    int
	window time.Duration
}

var _ ports.AttemptLimiter = (*AttemptLimiter)(nil)

func NewAttemptLimiter(client *redis.Client, max int, window time.Duration) *AttemptLimiter {
	return &AttemptLimiter{client: client, max: max, window: window}
}

func (l *AttemptLimiter) Allow(ctx context.Context, key string) (bool, error) {
	n, err := l.client.Get(ctx, attemptPrefix+key).Int()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return true, nil
		}
		return true, fmt.Errorf("read attempts: %w", err)
	}
	return n < l.max, nil
}

func (l *AttemptLimiter) Fail(ctx context.Context, key string) error {
	if err := failScript.Run(ctx, l.client, []string{attemptPrefix + key}, l.window.Milliseconds()).Err(); err != nil {
		return fmt.Errorf("record attempt: %w", err)
	}
	return nil
}

func (l *AttemptLimiter) Reset(ctx context.Context, key string) error {
	if err := l.client.Del(ctx, attemptPrefix+key).Err(); err != nil {
		return fmt.Errorf("reset attempts: %w", err)
	}
	return nil
}
