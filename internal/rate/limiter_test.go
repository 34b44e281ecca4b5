package rate

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestLimiter(t *testing.T, cfg Config) (*miniredis.Miniredis, *Limiter) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return mr, New(client, cfg)
}

func TestLockoutAfterMaxFailures(t *testing.T) {
	_, l := newTestLimiter(t, Config{MaxAttempts: 3, LockoutDuration: 15 * time.Minute})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		locked, err := l.RecordFailure(ctx, "u1")
		if err != nil {
			t.Fatalf("RecordFailure error: %v", err)
		}
		if locked {
			t.Fatalf("locked after %d failures, threshold is 3", i+1)
		}
	}

	locked, err := l.RecordFailure(ctx, "u1")
	if err != nil {
		t.Fatalf("RecordFailure error: %v", err)
	}
	if !locked {
		t.Fatal("expected lock on the third failure")
	}

	locked, retry, err := l.AccountStatus(ctx, "u1")
	if err != nil {
		t.Fatalf("AccountStatus error: %v", err)
	}
	if !locked {
		t.Fatal("expected locked status")
	}
	if retry <= 0 || retry > 15*time.Minute {
		t.Fatalf("unexpected retry-after: %v", retry)
	}
}

func TestLockoutWindowExpires(t *testing.T) {
	mr, l := newTestLimiter(t, Config{MaxAttempts: 2, LockoutDuration: 10 * time.Minute})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := l.RecordFailure(ctx, "u1"); err != nil {
			t.Fatalf("RecordFailure error: %v", err)
		}
	}
	if locked, _, err := l.AccountStatus(ctx, "u1"); err != nil || !locked {
		t.Fatalf("expected locked, got locked=%v err=%v", locked, err)
	}

	mr.FastForward(10*time.Minute + time.Second)
	if locked, _, err := l.AccountStatus(ctx, "u1"); err != nil || locked {
		t.Fatalf("expected unlock after window, got locked=%v err=%v", locked, err)
	}
}

func TestThresholdFailureRestartsWindow(t *testing.T) {
	mr, l := newTestLimiter(t, Config{MaxAttempts: 2, LockoutDuration: 10 * time.Minute})
	ctx := context.Background()

	if _, err := l.RecordFailure(ctx, "u1"); err != nil {
		t.Fatalf("RecordFailure error: %v", err)
	}
	// The first failure is 9 minutes old when the locking one lands; the
	// lock must still last the full window from now.
	mr.FastForward(9 * time.Minute)
	if _, err := l.RecordFailure(ctx, "u1"); err != nil {
		t.Fatalf("RecordFailure error: %v", err)
	}

	mr.FastForward(5 * time.Minute)
	if locked, _, err := l.AccountStatus(ctx, "u1"); err != nil || !locked {
		t.Fatalf("expected lock to outlive the original TTL, got locked=%v err=%v", locked, err)
	}
	mr.FastForward(6 * time.Minute)
	if locked, _, err := l.AccountStatus(ctx, "u1"); err != nil || locked {
		t.Fatalf("expected eventual unlock, got locked=%v err=%v", locked, err)
	}
}

func TestResetClearsCounter(t *testing.T) {
	_, l := newTestLimiter(t, Config{MaxAttempts: 2, LockoutDuration: 10 * time.Minute})
	ctx := context.Background()

	if _, err := l.RecordFailure(ctx, "u1"); err != nil {
		t.Fatalf("RecordFailure error: %v", err)
	}
	if err := l.Reset(ctx, "u1"); err != nil {
		t.Fatalf("Reset error: %v", err)
	}

	// The counter starts over, so one more failure does not lock.
	locked, err := l.RecordFailure(ctx, "u1")
	if err != nil {
		t.Fatalf("RecordFailure error: %v", err)
	}
	if locked {
		t.Fatal("unexpected lock after reset")
	}
}

func TestAccountsAreIsolated(t *testing.T) {
	_, l := newTestLimiter(t, Config{MaxAttempts: 2, LockoutDuration: 10 * time.Minute})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := l.RecordFailure(ctx, "u1"); err != nil {
			t.Fatalf("RecordFailure error: %v", err)
		}
	}
	if locked, _, err := l.AccountStatus(ctx, "u2"); err != nil || locked {
		t.Fatalf("unrelated account must stay unlocked, locked=%v err=%v", locked, err)
	}
}

func TestIPThrottle(t *testing.T) {
	mr, l := newTestLimiter(t, Config{
		MaxAttempts:      5,
		LockoutDuration:  15 * time.Minute,
		EnableIPThrottle: true,
		IPMaxAttempts:    3,
		IPWindow:         time.Minute,
	})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		throttled, err := l.CheckIP(ctx, "203.0.113.7")
		if err != nil {
			t.Fatalf("CheckIP error: %v", err)
		}
		if throttled {
			t.Fatalf("throttled after %d attempts, budget is 3", i)
		}
		if err := l.RecordIP(ctx, "203.0.113.7"); err != nil {
			t.Fatalf("RecordIP error: %v", err)
		}
	}

	throttled, err := l.CheckIP(ctx, "203.0.113.7")
	if err != nil || !throttled {
		t.Fatalf("expected throttle, throttled=%v err=%v", throttled, err)
	}

	// Another IP has its own budget.
	if throttled, err := l.CheckIP(ctx, "198.51.100.4"); err != nil || throttled {
		t.Fatalf("unrelated IP must pass, throttled=%v err=%v", throttled, err)
	}

	mr.FastForward(2 * time.Minute)
	if throttled, err := l.CheckIP(ctx, "203.0.113.7"); err != nil || throttled {
		t.Fatalf("expected window expiry, throttled=%v err=%v", throttled, err)
	}
}

func TestIPThrottleDisabled(t *testing.T) {
	_, l := newTestLimiter(t, Config{MaxAttempts: 5, LockoutDuration: 15 * time.Minute})
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		if err := l.RecordIP(ctx, "203.0.113.7"); err != nil {
			t.Fatalf("RecordIP error: %v", err)
		}
	}
	if throttled, err := l.CheckIP(ctx, "203.0.113.7"); err != nil || throttled {
		t.Fatalf("disabled throttle must never trip, throttled=%v err=%v", throttled, err)
	}

	// An empty IP is skipped even when enabled.
	l.config.EnableIPThrottle = true
	if throttled, err := l.CheckIP(ctx, ""); err != nil || throttled {
		t.Fatalf("empty IP must pass, throttled=%v err=%v", throttled, err)
	}
}
