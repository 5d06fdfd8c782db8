package session

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// retention keeps keys around past expiry for storage hygiene; expired
// sessions are still readable (status computed lazily) until redis drops them.
const retention = time.Hour

// RedisStore persists sessions as hashes and redemption claims as SETNX keys,
// so the claim is atomic without any client-side locking.
type RedisStore struct {
	client *redis.Client
	skew   time.Duration
	grace  time.Duration
	now    func() time.Time
}

// NewRedisStore creates a redis-backed session store. See NewMemoryStore for
// the meaning of skew and grace.
func NewRedisStore(client *redis.Client, skew, grace time.Duration) *RedisStore {
	return &RedisStore{client: client, skew: skew, grace: grace, now: time.Now}
}

// SetClock overrides the store's clock. Tests only.
func (r *RedisStore) SetClock(now func() time.Time) { r.now = now }

func sessionKey(id string) string { return "rollcall:session:" + id }

func redemptionKey(id, studentID string) string {
	return "rollcall:session:" + id + ":redeemed:" + studentID
}

// Create allocates a fresh session with a random 128-bit id.
func (r *RedisStore) Create(ctx context.Context, classID, subject, issuerID string, ttl time.Duration) (QRSession, error) {
	id, err := newSessionID()
	if err != nil {
		return QRSession{}, err
	}
	now := r.now().UTC()
	sess := QRSession{
		ID:        id,
		ClassID:   classID,
		Subject:   subject,
		IssuerID:  issuerID,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	key := sessionKey(id)
	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, key, map[string]interface{}{
		"class_id":   sess.ClassID,
		"subject":    sess.Subject,
		"issuer_id":  sess.IssuerID,
		"created_at": sess.CreatedAt.Format(time.RFC3339Nano),
		"expires_at": sess.ExpiresAt.Format(time.RFC3339Nano),
	})
	pipe.Expire(ctx, key, ttl+r.grace+retention)
	if _, err := pipe.Exec(ctx); err != nil {
		return QRSession{}, err
	}
	return sess, nil
}

// Get returns the stored session or ErrNotFound.
func (r *RedisStore) Get(ctx context.Context, sessionID string) (QRSession, error) {
	fields, err := r.client.HGetAll(ctx, sessionKey(sessionID)).Result()
	if err != nil {
		return QRSession{}, err
	}
	if len(fields) == 0 {
		return QRSession{}, ErrNotFound
	}
	return parseSession(sessionID, fields)
}

// MarkRedeemed claims the (session, student) redemption via SETNX. The SETNX
// is the serialization point: of two concurrent calls exactly one sets the
// key.
func (r *RedisStore) MarkRedeemed(ctx context.Context, sessionID, studentID string) error {
	sess, err := r.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if r.now().After(sess.ExpiresAt.Add(r.grace - r.skew)) {
		return ErrExpired
	}
	set, err := r.client.SetNX(ctx, redemptionKey(sessionID, studentID), "1", r.grace+retention).Result()
	if err != nil {
		return err
	}
	if !set {
		return ErrAlreadyRedeemed
	}
	return nil
}

// ClearRedemption releases a previously taken claim.
func (r *RedisStore) ClearRedemption(ctx context.Context, sessionID, studentID string) error {
	return r.client.Del(ctx, redemptionKey(sessionID, studentID)).Err()
}

// Redeemed reports whether the student already holds the claim.
func (r *RedisStore) Redeemed(ctx context.Context, sessionID, studentID string) (bool, error) {
	exists, err := r.client.Exists(ctx, sessionKey(sessionID)).Result()
	if err != nil {
		return false, err
	}
	if exists == 0 {
		return false, ErrNotFound
	}
	n, err := r.client.Exists(ctx, redemptionKey(sessionID, studentID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func parseSession(id string, fields map[string]string) (QRSession, error) {
	createdAt, err := time.Parse(time.RFC3339Nano, fields["created_at"])
	if err != nil {
		return QRSession{}, fmt.Errorf("session %s: bad created_at: %w", id, err)
	}
	expiresAt, err := time.Parse(time.RFC3339Nano, fields["expires_at"])
	if err != nil {
		return QRSession{}, fmt.Errorf("session %s: bad expires_at: %w", id, err)
	}
	return QRSession{
		ID:        id,
		ClassID:   fields["class_id"],
		Subject:   fields["subject"],
		IssuerID:  fields["issuer_id"],
		CreatedAt: createdAt,
		ExpiresAt: expiresAt,
	}, nil
}
