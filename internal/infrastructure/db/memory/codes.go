package memory

import (
	"context"
	"sync"
	"time"

	"github.com/samtwin/companion/internal/core/domain"
	"github.com/samtwin/companion/internal/core/ports"
)

type issuedCode struct {
	userID    string
	expiresAt time.Time
}

// ResetCodeStore is an in-memory ports.ResetCodeStore.
type ResetCodeStore struct {
	now   func() time.Time
	mu    sync.Mutex
	codes map[string]issuedCode
}

var _ ports.ResetCodeStore = (*ResetCodeStore)(nil)

func NewResetCodeStore(now func() time.Time) *ResetCodeStore {
	if now == nil {
		now = time.Now
	}
	return &ResetCodeStore{now: now, codes: make(map[string]issuedCode)}
}

func (s *ResetCodeStore) Issue(_ context.Context, userID string, ttl time.Duration) (string, error) {
	code, err := domain.NewActionCode()
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.codes[code] = issuedCode{userID: userID, expiresAt: s.now().Add(ttl)}
	return code, nil
}

func (s *ResetCodeStore) Consume(_ context.Context, code string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	issued, ok := s.codes[code]
	if !ok {
		return "", domain.ErrCodeNotFound
	}
	delete(s.codes, code)
	if !s.now().Before(issued.expiresAt) {
		return "", domain.ErrCodeNotFound
	}
	return issued.userID, nil
}

type attemptWindow struct {
	count       int
	windowStart time.Time
}

// AttemptLimiter is a fixed-window in-memory ports.AttemptLimiter.
type AttemptLimiter struct {
	max    int
	window time.Duration
	now    func() time.Time

	mu       sync.Mutex
	attempts map[string]*attemptWindow
}

var _ ports.AttemptLimiter = (*AttemptLimiter)(nil)

func NewAttemptLimiter(max int, window time.Duration, now func() time.Time) *AttemptLimiter {
	if now == nil {
		now = time.Now
	}
	return &AttemptLimiter{max: max, window: window, now: now, attempts: make(map[string]*attemptWindow)}
}

func (l *AttemptLimiter) Allow(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	a, ok := l.attempts[key]
	if !ok || l.now().Sub(a.windowStart) > l.window {
		return true, nil
	}
	return a.count < l.max, nil
}

func (l *AttemptLimiter) Fail(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	a, ok := l.attempts[key]
	if !ok || now.Sub(a.windowStart) > l.window {
		l.attempts[key] = &attemptWindow{count: 1, windowStart: now}
		return nil
	}
	a.count++
	return nil
}

func (l *AttemptLimiter) Reset(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.attempts, key)
	return nil
}
