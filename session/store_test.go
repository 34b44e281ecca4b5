package session

import (
	"context"
	"crypto/sha256"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestStore(t *testing.T) (*miniredis.Miniredis, *Store) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return mr, NewStore(client, Config{Prefix: "hc", RevokedRetention: time.Hour})
}

func testSession(id, userID string, secret string) Session {
	now := time.Now()
	return Session{
		ID:          id,
		UserID:      userID,
		Role:        "physician",
		RefreshHash: sha256.Sum256([]byte(secret)),
		IssuedAt:    now,
		ExpiresAt:   now.Add(24 * time.Hour),
		IP:          "10.0.0.1",
		UserAgent:   "test-agent",
	}
}

func TestCreateAndGet(t *testing.T) {
	_, store := newTestStore(t)
	ctx := context.Background()

	sess := testSession("s1", "u1", "secret-1")
	if err := store.Create(ctx, sess); err != nil {
		t.Fatalf("Create error: %v", err)
	}

	got, err := store.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if got.UserID != "u1" || got.Role != "physician" || got.Revoked {
		t.Fatalf("unexpected session: %+v", got)
	}
	if got.RefreshHash != sess.RefreshHash {
		t.Fatal("refresh hash did not round-trip")
	}
	if got.IP != "10.0.0.1" || got.UserAgent != "test-agent" {
		t.Fatalf("metadata did not round-trip: %+v", got)
	}

	active, err := store.IsActive(ctx, "s1")
	if err != nil || !active {
		t.Fatalf("expected active session, active=%v err=%v", active, err)
	}
}

func TestGetMissingSession(t *testing.T) {
	_, store := newTestStore(t)

	if _, err := store.Get(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	active, err := store.IsActive(context.Background(), "nope")
	if err != nil || active {
		t.Fatalf("missing session must be inactive without error, active=%v err=%v", active, err)
	}
}

func TestCreateRejectsExpired(t *testing.T) {
	_, store := newTestStore(t)

	sess := testSession("s1", "u1", "secret-1")
	sess.ExpiresAt = time.Now().Add(-2 * time.Hour)
	if err := store.Create(context.Background(), sess); err == nil {
		t.Fatal("expected expired session to be rejected")
	}
}

func TestRotateRefreshSwapsHash(t *testing.T) {
	_, store := newTestStore(t)
	ctx := context.Background()

	oldHash := sha256.Sum256([]byte("secret-1"))
	newHash := sha256.Sum256([]byte("secret-2"))
	sess := testSession("s1", "u1", "secret-1")
	if err := store.Create(ctx, sess); err != nil {
		t.Fatalf("Create error: %v", err)
	}

	if err := store.RotateRefresh(ctx, "s1", oldHash, newHash); err != nil {
		t.Fatalf("RotateRefresh error: %v", err)
	}

	got, err := store.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if got.RefreshHash != newHash {
		t.Fatal("rotation did not store the new hash")
	}
}

func TestRotateRefreshMismatchRevokes(t *testing.T) {
	_, store := newTestStore(t)
	ctx := context.Background()

	sess := testSession("s1", "u1", "secret-1")
	if err := store.Create(ctx, sess); err != nil {
		t.Fatalf("Create error: %v", err)
	}

	stale := sha256.Sum256([]byte("stale-secret"))
	next := sha256.Sum256([]byte("secret-2"))
	if err := store.RotateRefresh(ctx, "s1", stale, next); !errors.Is(err, ErrRefreshMismatch) {
		t.Fatalf("expected ErrRefreshMismatch, got %v", err)
	}

	// The mismatch revoked the session in the same round trip.
	got, err := store.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if !got.Revoked {
		t.Fatal("mismatch must revoke the session")
	}
	if err := store.RotateRefresh(ctx, "s1", sess.RefreshHash, next); !errors.Is(err, ErrRevoked) {
		t.Fatalf("expected ErrRevoked after mismatch, got %v", err)
	}
}

func TestRotateRefreshDeadSessions(t *testing.T) {
	_, store := newTestStore(t)
	ctx := context.Background()
	oldHash := sha256.Sum256([]byte("secret-1"))
	newHash := sha256.Sum256([]byte("secret-2"))

	if err := store.RotateRefresh(ctx, "missing", oldHash, newHash); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	// Lapsed but still inside the retention window, so the record exists.
	sess := testSession("s1", "u1", "secret-1")
	sess.ExpiresAt = time.Now().Add(-time.Minute)
	if err := store.Create(ctx, sess); err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if err := store.RotateRefresh(ctx, "s1", oldHash, newHash); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
}

func TestRevokeIsIdempotent(t *testing.T) {
	_, store := newTestStore(t)
	ctx := context.Background()

	if err := store.Create(ctx, testSession("s1", "u1", "secret-1")); err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if err := store.Revoke(ctx, "s1"); err != nil {
		t.Fatalf("Revoke error: %v", err)
	}
	if err := store.Revoke(ctx, "s1"); err != nil {
		t.Fatalf("second Revoke error: %v", err)
	}
	if err := store.Revoke(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	active, err := store.IsActive(ctx, "s1")
	if err != nil || active {
		t.Fatalf("revoked session must be inactive, active=%v err=%v", active, err)
	}
}

func TestRevokeAllCounts(t *testing.T) {
	_, store := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"s1", "s2", "s3"} {
		if err := store.Create(ctx, testSession(id, "u1", "secret-"+id)); err != nil {
			t.Fatalf("Create(%s) error: %v", id, err)
		}
	}
	if err := store.Create(ctx, testSession("other", "u2", "secret-x")); err != nil {
		t.Fatalf("Create error: %v", err)
	}

	revoked, err := store.RevokeAll(ctx, "u1")
	if err != nil {
		t.Fatalf("RevokeAll error: %v", err)
	}
	if revoked != 3 {
		t.Fatalf("expected 3 revocations, got %d", revoked)
	}

	// Re-running finds only tombstones, which do not count again.
	revoked, err = store.RevokeAll(ctx, "u1")
	if err != nil {
		t.Fatalf("second RevokeAll error: %v", err)
	}
	if revoked != 0 {
		t.Fatalf("expected 0 on rerun, got %d", revoked)
	}

	// The other user's session is untouched.
	active, err := store.IsActive(ctx, "other")
	if err != nil || !active {
		t.Fatalf("unrelated session must stay active, active=%v err=%v", active, err)
	}
}

func TestListNewestFirstWithTombstones(t *testing.T) {
	_, store := newTestStore(t)
	ctx := context.Background()

	base := time.Now()
	for i, id := range []string{"s1", "s2", "s3"} {
		sess := testSession(id, "u1", "secret-"+id)
		sess.IssuedAt = base.Add(time.Duration(i) * time.Minute)
		if err := store.Create(ctx, sess); err != nil {
			t.Fatalf("Create(%s) error: %v", id, err)
		}
	}
	if err := store.Revoke(ctx, "s2"); err != nil {
		t.Fatalf("Revoke error: %v", err)
	}

	sessions, err := store.List(ctx, "u1")
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	if len(sessions) != 3 {
		t.Fatalf("expected 3 sessions, got %d", len(sessions))
	}
	if sessions[0].ID != "s3" || sessions[2].ID != "s1" {
		t.Fatalf("expected newest-first order, got %s..%s", sessions[0].ID, sessions[2].ID)
	}
	for _, s := range sessions {
		if s.ID == "s2" && !s.Revoked {
			t.Fatal("tombstone must stay listed as revoked")
		}
	}
}

func TestSessionExpiresWithTTL(t *testing.T) {
	mr, store := newTestStore(t)
	ctx := context.Background()

	sess := testSession("s1", "u1", "secret-1")
	sess.ExpiresAt = time.Now().Add(-time.Minute)
	if err := store.Create(ctx, sess); err != nil {
		t.Fatalf("Create error: %v", err)
	}

	active, err := store.IsActive(ctx, "s1")
	if err != nil || active {
		t.Fatalf("expired session must be inactive, active=%v err=%v", active, err)
	}

	// Past the retention window the record itself is collected.
	mr.FastForward(2 * time.Hour)
	if _, err := store.Get(ctx, "s1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after retention, got %v", err)
	}
}
