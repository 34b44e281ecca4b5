package rate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrBackendUnavailable wraps Redis transport failures. Callers on the login
// path treat it as fail-closed.
var ErrBackendUnavailable = errors.New("lockout backend unavailable")

// Config holds the lockout and throttle tuning.
type Config struct {
	MaxAttempts      int
	LockoutDuration  time.Duration
	EnableIPThrottle bool
	IPMaxAttempts    int
	IPWindow         time.Duration
}

// Limiter tracks consecutive failed logins per account and total attempts
// per IP.
type Limiter struct {
	redis  redis.UniversalClient
	config Config
}

// New creates a Limiter backed by the given Redis client.
func New(client redis.UniversalClient, cfg Config) *Limiter {
	return &Limiter{redis: client, config: cfg}
}

func accountKey(userID string) string {
	return "lock:acct:" + userID
}

func ipKey(ip string) string {
	return "lock:ip:" + ip
}

// AccountStatus reports whether the account is locked and, if so, how long
// until the window elapses.
func (l *Limiter) AccountStatus(ctx context.Context, userID string) (bool, time.Duration, error) {
	count, err := l.redis.Get(ctx, accountKey(userID)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, 0, nil
		}
		return false, 0, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if count < int64(l.config.MaxAttempts) {
		return false, 0, nil
	}

	ttl, err := l.redis.TTL(ctx, accountKey(userID)).Result()
	if err != nil {
		return true, l.config.LockoutDuration, nil
	}
	if ttl < 0 {
		ttl = l.config.LockoutDuration
	}
	return true, ttl, nil
}

// RecordFailure counts one failed attempt and reports whether the account is
// now locked. Crossing the threshold restarts the key TTL so the lockout
// lasts the full configured window from the locking failure.
func (l *Limiter) RecordFailure(ctx context.Context, userID string) (bool, error) {
	key := accountKey(userID)

	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if count == 1 {
		if err := l.redis.Expire(ctx, key, l.config.LockoutDuration).Err(); err != nil {
			return false, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
		}
	}
	if count >= int64(l.config.MaxAttempts) {
		if err := l.redis.Expire(ctx, key, l.config.LockoutDuration).Err(); err != nil {
			return true, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
		}
		return true, nil
	}
	return false, nil
}

// Reset clears the failure counter after a successful login or password
// change.
func (l *Limiter) Reset(ctx context.Context, userID string) error {
	if err := l.redis.Del(ctx, accountKey(userID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return nil
}

// CheckIP enforces the per-IP attempt budget. A zero IP disables the check.
func (l *Limiter) CheckIP(ctx context.Context, ip string) (bool, error) {
	if !l.config.EnableIPThrottle || ip == "" {
		return false, nil
	}
	count, err := l.redis.Get(ctx, ipKey(ip)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return count >= int64(l.config.IPMaxAttempts), nil
}

// RecordIP counts one login attempt from the IP inside the sliding window.
func (l *Limiter) RecordIP(ctx context.Context, ip string) error {
	if !l.config.EnableIPThrottle || ip == "" {
		return nil
	}
	key := ipKey(ip)
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if count == 1 {
		if err := l.redis.Expire(ctx, key, l.config.IPWindow).Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
		}
	}
	return nil
}
