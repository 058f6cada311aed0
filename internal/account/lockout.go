package account

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/vyrodovalexey/wikiclip/internal/cache"
)

const loginFailuresKeyPrefix = "login:failures:"

// Lockout counts failed logins per email in the shared cache. Once
// maxAttempts failures land inside the window the account is locked until
// the counter expires.
type Lockout struct {
	cache       cache.Cache
	maxAttempts int64
	window      time.Duration
}

// NewLockout creates a Lockout. maxAttempts <= 0 disables locking.
func NewLockout(c cache.Cache, maxAttempts int, window time.Duration) *Lockout {
	return &Lockout{cache: c, maxAttempts: int64(maxAttempts), window: window}
}

// keys are hashed so the cache never holds addresses.
func lockoutKey(email string) string {
	sum := sha256.Sum256([]byte(email))
	return loginFailuresKeyPrefix + hex.EncodeToString(sum[:])
}

// Locked returns the remaining lock time for email, or zero.
func (l *Lockout) Locked(ctx context.Context, email string) (time.Duration, error) {
	if l.maxAttempts <= 0 {
		return 0, nil
	}

	raw, err := l.cache.Get(ctx, lockoutKey(email))
	if errors.Is(err, cache.ErrCacheMiss) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read login failures: %w", err)
	}

	count, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil || count < l.maxAttempts {
		return 0, nil
	}

	ttl, err := l.cache.TTL(ctx, lockoutKey(email))
	if errors.Is(err, cache.ErrCacheMiss) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read lockout ttl: %w", err)
	}
	return ttl, nil
}

// Fail records a failed login and reports whether it locked the account.
func (l *Lockout) Fail(ctx context.Context, email string) (bool, error) {
	if l.maxAttempts <= 0 {
		return false, nil
	}
	n, err := l.cache.Incr(ctx, lockoutKey(email), l.window)
	if err != nil {
		return false, fmt.Errorf("count login failure: %w", err)
	}
	return n == l.maxAttempts, nil
}

// Reset clears the failure counter.
func (l *Lockout) Reset(ctx context.Context, email string) error {
	return l.cache.Delete(ctx, lockoutKey(email))
}
