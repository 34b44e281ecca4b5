package authcore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const mfaChallengeKeyPrefix = "amc"

var (
	errMFAChallengeNotFound = errors.New("mfa challenge not found")
	errMFAChallengeExpired  = errors.New("mfa challenge expired")
	errMFAChallengeExceeded = errors.New("mfa challenge attempts exceeded")
	errMFAChallengeBackend  = errors.New("mfa challenge backend unavailable")
)

// mfaChallenge is the server-side half of a pending second-factor login.
// Password verification has already succeeded by the time one exists.
type mfaChallenge struct {
	UserID    string
	ExpiresAt int64
	Attempts  int64
}

// mfaChallengeStore keeps pending challenges in Redis, one hash per
// challenge, TTL-bounded.
type mfaChallengeStore struct {
	redis redis.UniversalClient
}

// failureScript bumps the attempt counter atomically so concurrent wrong
// codes cannot slip under the budget; at the budget the challenge burns.
const mfaFailureScript = `
local key = KEYS[1]
if redis.call("EXISTS", key) == 0 then
  return -1
end
local attempts = redis.call("HINCRBY", key, "attempts", 1)
if attempts >= tonumber(ARGV[1]) then
  redis.call("DEL", key)
  return 1
end
return 0
`

var mfaFailureLua = redis.NewScript(mfaFailureScript)

func newMFAChallengeStore(client redis.UniversalClient) *mfaChallengeStore {
	return &mfaChallengeStore{redis: client}
}

func (s *mfaChallengeStore) key(challengeID string) string {
	return mfaChallengeKeyPrefix + ":" + challengeID
}

func (s *mfaChallengeStore) Save(ctx context.Context, challengeID string, record *mfaChallenge, ttl time.Duration) error {
	key := s.key(challengeID)
	pipe := s.redis.TxPipeline()
	pipe.HSet(ctx, key, map[string]interface{}{
		"uid":      record.UserID,
		"exp":      record.ExpiresAt,
		"attempts": record.Attempts,
	})
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", errMFAChallengeBackend, err)
	}
	return nil
}

func (s *mfaChallengeStore) Get(ctx context.Context, challengeID string) (*mfaChallenge, error) {
	values, err := s.redis.HGetAll(ctx, s.key(challengeID)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errMFAChallengeBackend, err)
	}
	if len(values) == 0 {
		return nil, errMFAChallengeNotFound
	}

	exp, err := strconv.ParseInt(values["exp"], 10, 64)
	if err != nil {
		return nil, errMFAChallengeNotFound
	}
	attempts, _ := strconv.ParseInt(values["attempts"], 10, 64)

	record := &mfaChallenge{
		UserID:    values["uid"],
		ExpiresAt: exp,
		Attempts:  attempts,
	}
	if time.Now().Unix() > record.ExpiresAt {
		_, _ = s.redis.Del(ctx, s.key(challengeID)).Result()
		return nil, errMFAChallengeExpired
	}
	return record, nil
}

// Delete removes the challenge and reports whether it still existed. A false
// return under a concurrent confirm means the code was replayed.
func (s *mfaChallengeStore) Delete(ctx context.Context, challengeID string) (bool, error) {
	n, err := s.redis.Del(ctx, s.key(challengeID)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", errMFAChallengeBackend, err)
	}
	return n > 0, nil
}

// RecordFailure counts one wrong code and reports whether the attempt budget
// is now spent.
func (s *mfaChallengeStore) RecordFailure(ctx context.Context, challengeID string, maxAttempts int) (bool, error) {
	status, err := mfaFailureLua.Run(ctx, s.redis, []string{s.key(challengeID)}, maxAttempts).Int64()
	if err != nil {
		return false, fmt.Errorf("%w: %v", errMFAChallengeBackend, err)
	}
	switch status {
	case -1:
		return false, errMFAChallengeNotFound
	case 1:
		return true, nil
	default:
		return false, nil
	}
}

func mapMFAChallengeError(err error) error {
	switch {
	case errors.Is(err, errMFAChallengeNotFound):
		return ErrInvalidMFACode
	case errors.Is(err, errMFAChallengeExpired):
		return ErrMFAChallengeExpired
	case errors.Is(err, errMFAChallengeExceeded):
		return ErrMFAAttemptsExceeded
	default:
		return ErrMFAUnavailable
	}
}
