package session

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned when no record exists for the session ID.
var ErrNotFound = errors.New("session not found")

// ErrRevoked is returned for operations against a revoked session.
var ErrRevoked = errors.New("session revoked")

// ErrExpired is returned for operations against an expired session.
var ErrExpired = errors.New("session expired")

// ErrRefreshMismatch is returned when the presented refresh hash does not
// match the stored one. The store has already revoked the session by the
// time callers see this error.
var ErrRefreshMismatch = errors.New("refresh hash mismatch")

// ErrBackendUnavailable wraps Redis transport failures.
var ErrBackendUnavailable = errors.New("session backend unavailable")

const (
	rotateStatusNotFound int64 = 0
	rotateStatusRevoked  int64 = 1
	rotateStatusExpired  int64 = 2
	rotateStatusMismatch int64 = 3
	rotateStatusRotated  int64 = 4
)

// rotateScript compares the stored refresh hash and swaps in the new one
// atomically. On mismatch it revokes the session in the same round trip.
const rotateScript = `
local key = KEYS[1]
if redis.call("EXISTS", key) == 0 then
  return 0
end
if redis.call("HGET", key, "revoked") == "1" then
  return 1
end
local exp = tonumber(redis.call("HGET", key, "exp") or "0")
local now = tonumber(ARGV[3])
if exp <= now then
  return 2
end
if redis.call("HGET", key, "rh") ~= ARGV[1] then
  redis.call("HSET", key, "revoked", "1", "revoked_at", ARGV[3])
  redis.call("EXPIRE", key, tonumber(ARGV[4]))
  return 3
end
redis.call("HSET", key, "rh", ARGV[2])
return 4
`

var rotateLua = redis.NewScript(rotateScript)

// revokeScript marks the session revoked and pins the tombstone TTL.
const revokeScript = `
local key = KEYS[1]
if redis.call("EXISTS", key) == 0 then
  return 0
end
if redis.call("HGET", key, "revoked") == "1" then
  return 1
end
redis.call("HSET", key, "revoked", "1", "revoked_at", ARGV[1])
redis.call("EXPIRE", key, tonumber(ARGV[2]))
return 2
`

var revokeLua = redis.NewScript(revokeScript)

// Session is one device login. RefreshHash holds SHA-256 of the current
// refresh secret; the plaintext secret exists only inside the issued token.
type Session struct {
	ID          string
	UserID      string
	Role        string
	RefreshHash [32]byte
	IssuedAt    time.Time
	ExpiresAt   time.Time
	IP          string
	UserAgent   string
	Revoked     bool
}

// Config tunes the registry.
type Config struct {
	// Prefix namespaces every key, e.g. "hc".
	Prefix string
	// RevokedRetention is how long revoked and expired records remain
	// readable before Redis expiry collects them.
	RevokedRetention time.Duration
}

// Store is the Redis session registry. Safe for concurrent use.
type Store struct {
	redis  redis.UniversalClient
	config Config
}

// NewStore wraps the Redis client. The client's lifecycle belongs to the
// caller.
func NewStore(client redis.UniversalClient, cfg Config) *Store {
	if cfg.Prefix == "" {
		cfg.Prefix = "hc"
	}
	if cfg.RevokedRetention <= 0 {
		cfg.RevokedRetention = 90 * 24 * time.Hour
	}
	return &Store{redis: client, config: cfg}
}

func (s *Store) sessionKey(sid string) string {
	return s.config.Prefix + ":sess:" + sid
}

func (s *Store) userIndexKey(userID string) string {
	return s.config.Prefix + ":usess:" + userID
}

// Create persists the session and indexes it under its user. The key TTL is
// the session lifetime plus the retention window, so even never-revoked
// records eventually age out after they stop being referenceable.
func (s *Store) Create(ctx context.Context, sess Session) error {
	if sess.ID == "" || sess.UserID == "" {
		return errors.New("session id and user id are required")
	}

	ttl := time.Until(sess.ExpiresAt) + s.config.RevokedRetention
	if ttl <= 0 {
		return errors.New("session already expired")
	}

	key := s.sessionKey(sess.ID)
	fields := map[string]interface{}{
		"uid":     sess.UserID,
		"role":    sess.Role,
		"rh":      hex.EncodeToString(sess.RefreshHash[:]),
		"iat":     sess.IssuedAt.Unix(),
		"exp":     sess.ExpiresAt.Unix(),
		"ip":      sess.IP,
		"ua":      sess.UserAgent,
		"revoked": "0",
	}

	pipe := s.redis.TxPipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, ttl)
	pipe.SAdd(ctx, s.userIndexKey(sess.UserID), sess.ID)
	pipe.Expire(ctx, s.userIndexKey(sess.UserID), ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return nil
}

// Get loads the session record, including revoked tombstones.
func (s *Store) Get(ctx context.Context, sid string) (*Session, error) {
	values, err := s.redis.HGetAll(ctx, s.sessionKey(sid)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if len(values) == 0 {
		return nil, ErrNotFound
	}
	return decodeSession(sid, values)
}

// IsActive reports whether the session exists, is not revoked, and has not
// expired. Backend failures surface as errors, never as "inactive": the
// caller decides the fail-closed posture.
func (s *Store) IsActive(ctx context.Context, sid string) (bool, error) {
	sess, err := s.Get(ctx, sid)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return !sess.Revoked && time.Now().Before(sess.ExpiresAt), nil
}

// RotateRefresh atomically swaps oldHash for newHash. Returns
// ErrRefreshMismatch after revoking the session when the presented hash is
// stale (replay detection), and ErrRevoked/ErrExpired/ErrNotFound for dead
// sessions.
func (s *Store) RotateRefresh(ctx context.Context, sid string, oldHash, newHash [32]byte) error {
	status, err := rotateLua.Run(ctx, s.redis,
		[]string{s.sessionKey(sid)},
		hex.EncodeToString(oldHash[:]),
		hex.EncodeToString(newHash[:]),
		time.Now().Unix(),
		int64(s.config.RevokedRetention/time.Second),
	).Int64()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	switch status {
	case rotateStatusRotated:
		return nil
	case rotateStatusNotFound:
		return ErrNotFound
	case rotateStatusRevoked:
		return ErrRevoked
	case rotateStatusExpired:
		return ErrExpired
	case rotateStatusMismatch:
		return ErrRefreshMismatch
	default:
		return fmt.Errorf("%w: unexpected rotate status %d", ErrBackendUnavailable, status)
	}
}

// Revoke soft-marks the session. Idempotent: revoking twice is not an error.
func (s *Store) Revoke(ctx context.Context, sid string) error {
	status, err := revokeLua.Run(ctx, s.redis,
		[]string{s.sessionKey(sid)},
		time.Now().Unix(),
		int64(s.config.RevokedRetention/time.Second),
	).Int64()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if status == 0 {
		return ErrNotFound
	}
	return nil
}

// RevokeAll revokes every session indexed under the user and returns how
// many transitioned to revoked.
func (s *Store) RevokeAll(ctx context.Context, userID string) (int, error) {
	sids, err := s.redis.SMembers(ctx, s.userIndexKey(userID)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	revoked := 0
	for _, sid := range sids {
		switch err := s.Revoke(ctx, sid); {
		case err == nil:
			revoked++
		case errors.Is(err, ErrNotFound):
			// Already collected; drop the stale index member.
			_ = s.redis.SRem(ctx, s.userIndexKey(userID), sid).Err()
		default:
			return revoked, err
		}
	}
	return revoked, nil
}

// List returns every still-stored session for the user, tombstones included,
// newest first.
func (s *Store) List(ctx context.Context, userID string) ([]Session, error) {
	sids, err := s.redis.SMembers(ctx, s.userIndexKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	out := make([]Session, 0, len(sids))
	for _, sid := range sids {
		sess, err := s.Get(ctx, sid)
		if errors.Is(err, ErrNotFound) {
			_ = s.redis.SRem(ctx, s.userIndexKey(userID), sid).Err()
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, *sess)
	}

	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].IssuedAt.After(out[j-1].IssuedAt); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out, nil
}

func decodeSession(sid string, values map[string]string) (*Session, error) {
	rh, err := hex.DecodeString(values["rh"])
	if err != nil || len(rh) != 32 {
		return nil, errors.New("corrupt session refresh hash")
	}
	iat, err := strconv.ParseInt(values["iat"], 10, 64)
	if err != nil {
		return nil, errors.New("corrupt session issue time")
	}
	exp, err := strconv.ParseInt(values["exp"], 10, 64)
	if err != nil {
		return nil, errors.New("corrupt session expiry")
	}

	sess := &Session{
		ID:        sid,
		UserID:    values["uid"],
		Role:      values["role"],
		IssuedAt:  time.Unix(iat, 0),
		ExpiresAt: time.Unix(exp, 0),
		IP:        values["ip"],
		UserAgent: values["ua"],
		Revoked:   values["revoked"] == "1",
	}
	copy(sess.RefreshHash[:], rh)
	return sess, nil
}
