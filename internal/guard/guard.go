// Package guard decides whether a submission may be dispatched at all.
package guard

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"artiklo/api/internal/intake"
)

// MaxTextRunes is the longest free text accepted in one submission.
const MaxTextRunes = 10000

var (
	ErrRateLimited          = errors.New("rate limited")
	ErrEmptySubmission      = errors.New("empty submission")
	ErrInvalidSubmission    = errors.New("invalid submission")
	ErrSubmissionInProgress = errors.New("submission in progress")
)

type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// Lock is the per-session in-flight flag. Acquire returns a token that
// Release must present, so a holder whose flag expired cannot clear a newer
// holder's flag.
type Lock interface {
	Acquire(ctx context.Context, session string) (token string, ok bool, err error)
	Release(ctx context.Context, session, token string) error
	Held(ctx context.Context, session string) (bool, error)
}

func newLockToken() string {
	return uuid.NewString()
}

type Guard struct {
	limiter Limiter
	lock    Lock
}

func New(limiter Limiter, lock Lock) *Guard {
	return &Guard{limiter: limiter, lock: lock}
}

// Admit runs the pre-dispatch checks in order: rate limit, payload
// invariant, text length, in-flight. On success the in-flight flag is held
// until the returned release func is called; callers defer it.
func (g *Guard) Admit(ctx context.Context, identity, session string, payload intake.Payload) (func(), error) {
	allowed, err := g.limiter.Allow(ctx, identity)
	if err != nil {
		return nil, fmt.Errorf("rate limit check: %w", err)
	}
	if !allowed {
		return nil, ErrRateLimited
	}

	if payload.Empty() {
		return nil, ErrEmptySubmission
	}
	if utf8.RuneCountInString(payload.Text) > MaxTextRunes {
		return nil, fmt.Errorf("%w: text exceeds %d characters", ErrInvalidSubmission, MaxTextRunes)
	}

	token, acquired, err := g.lock.Acquire(ctx, session)
	if err != nil {
		return nil, err
	}
	if !acquired {
		return nil, ErrSubmissionInProgress
	}

	return func() {
		// the request context may already be cancelled; release must still happen
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := g.lock.Release(releaseCtx, session, token); err != nil {
			log.Printf("guard: release session %s: %v", session, err)
		}
	}, nil
}

// InFlight reports whether a submission is outstanding for the session.
func (g *Guard) InFlight(ctx context.Context, session string) bool {
	held, err := g.lock.Held(ctx, session)
	if err != nil {
		log.Printf("guard: in-flight check for %s: %v", session, err)
		return false
	}
	return held
}
