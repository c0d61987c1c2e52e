package guard

import (
	"context"
	"sync"
	"time"
)

type window struct {
	count   int
	resetAt time.Time
}

// MemoryLimiter is the single-instance limiter used when Redis is not
// configured.
type MemoryLimiter struct {
	mu          sync.Mutex
	attempts    map[string]window
	maxAttempts int
	window      time.Duration
	now         func() time.Time
}

func NewMemoryLimiter(maxAttempts int, period time.Duration) *MemoryLimiter {
	return &MemoryLimiter{
		attempts:    make(map[string]window),
		maxAttempts: maxAttempts,
		window:      period,
		now:         time.Now,
	}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	current, ok := l.attempts[key]
	if !ok || now.After(current.resetAt) {
		l.attempts[key] = window{count: 1, resetAt: now.Add(l.window)}
		return true, nil
	}
	if current.count >= l.maxAttempts {
		return false, nil
	}
	current.count++
	l.attempts[key] = current
	return true, nil
}

// MemoryLock is the single-instance in-flight flag.
type MemoryLock struct {
	mu   sync.Mutex
	held map[string]string
}

func NewMemoryLock() *MemoryLock {
	return &MemoryLock{held: make(map[string]string)}
}

func (l *MemoryLock) Acquire(_ context.Context, session string) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[session]; ok {
		return "", false, nil
	}
	token := newLockToken()
	l.held[session] = token
	return token, true, nil
}

func (l *MemoryLock) Release(_ context.Context, session, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[session] == token {
		delete(l.held, session)
	}
	return nil
}

func (l *MemoryLock) Held(_ context.Context, session string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.held[session]
	return ok, nil
}
