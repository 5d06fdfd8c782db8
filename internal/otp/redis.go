package otp

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// consumeScript performs the whole validate step server-side so that expiry
// check, attempt decrement, code compare and the consumed flag are one atomic
// operation per (session, student) key. Timestamps are unix milliseconds to
// stay inside Lua's number precision.
var consumeScript = redis.NewScript(`
local v = redis.call('HMGET', KEYS[1], 'code', 'expires_ms', 'attempts', 'consumed')
if not v[1] then
  return 'none'
end
if v[4] == '1' then
  return 'none'
end
if tonumber(ARGV[2]) > tonumber(v[2]) then
  return 'expired'
end
if tonumber(v[3]) <= 0 then
  return 'locked'
end
if v[1] ~= ARGV[1] then
  redis.call('HINCRBY', KEYS[1], 'attempts', -1)
  return 'mismatch'
end
redis.call('HSET', KEYS[1], 'consumed', '1')
return 'ok'
`)

// RedisStore persists challenges as hashes. Put overwrites the pair's key, so
// re-issuing naturally invalidates the prior code.
type RedisStore struct {
	client *redis.Client
	skew   time.Duration
	now    func() time.Time
}

// NewRedisStore creates a redis-backed challenge store.
func NewRedisStore(client *redis.Client, skew time.Duration) *RedisStore {
	return &RedisStore{client: client, skew: skew, now: time.Now}
}

// SetClock overrides the store's clock. Tests only.
func (r *RedisStore) SetClock(now func() time.Time) { r.now = now }

func challengeKey(sessionID, studentID string) string {
	return "rollcall:otp:" + sessionID + ":" + studentID
}

// Put stores the challenge, replacing any prior one for the pair. The key is
// retained for an hour past expiry so a stale validate reports CodeExpired
// rather than NoChallenge.
func (r *RedisStore) Put(ctx context.Context, ch Challenge) error {
	key := challengeKey(ch.SessionID, ch.StudentID)
	consumed := "0"
	if ch.Consumed {
		consumed = "1"
	}
	pipe := r.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.HSet(ctx, key, map[string]interface{}{
		"code":       ch.Code,
		"issued_ms":  ch.IssuedAt.UnixMilli(),
		"expires_ms": ch.ExpiresAt.UnixMilli(),
		"attempts":   ch.AttemptsRemaining,
		"consumed":   consumed,
	})
	pipe.Expire(ctx, key, time.Until(ch.ExpiresAt)+time.Hour)
	_, err := pipe.Exec(ctx)
	return err
}

// Consume validates and, on success, consumes the pair's live challenge.
func (r *RedisStore) Consume(ctx context.Context, sessionID, studentID, code string) error {
	// Expire early under skew: shift our reading of "now" forward.
	nowMS := r.now().Add(r.skew).UnixMilli()
	res, err := consumeScript.Run(ctx, r.client,
		[]string{challengeKey(sessionID, studentID)},
		code, nowMS,
	).Text()
	if err != nil {
		return err
	}
	switch res {
	case "ok":
		return nil
	case "none":
		return ErrNoChallenge
	case "expired":
		return ErrCodeExpired
	case "locked":
		return ErrTooManyAttempts
	case "mismatch":
		return ErrCodeMismatch
	default:
		return fmt.Errorf("otp: unexpected consume result %q", res)
	}
}
