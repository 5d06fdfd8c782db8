package session

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps sessions and redemption claims in process memory behind a
// single mutex. Suitable for dev and tests; per-key serialization for the
// deployment path is provided by the Redis store.
type MemoryStore struct {
	mu          sync.Mutex
	sessions    map[string]QRSession
	redemptions map[string]map[string]struct{} // session id -> student ids

	skew  time.Duration
	grace time.Duration
	now   func() time.Time
}

// NewMemoryStore creates an in-memory store. grace extends the redemption
// window past session expiry by the longest OTP TTL, so a student whose
// challenge outlives the session can still complete (expiry is re-gated by the
// challenge, not the session, at completion time).
func NewMemoryStore(skew, grace time.Duration) *MemoryStore {
	return &MemoryStore{
		sessions:    make(map[string]QRSession),
		redemptions: make(map[string]map[string]struct{}),
		skew:        skew,
		grace:       grace,
		now:         time.Now,
	}
}

// SetClock overrides the store's clock. Tests only.
func (m *MemoryStore) SetClock(now func() time.Time) { m.now = now }

// Create allocates a fresh session with a random 128-bit id.
func (m *MemoryStore) Create(ctx context.Context, classID, subject, issuerID string, ttl time.Duration) (QRSession, error) {
	id, err := newSessionID()
	if err != nil {
		return QRSession{}, err
	}
	now := m.now().UTC()
	sess := QRSession{
		ID:        id,
		ClassID:   classID,
		Subject:   subject,
		IssuerID:  issuerID,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	m.mu.Lock()
	m.sessions[id] = sess
	m.mu.Unlock()
	return sess, nil
}

// Get returns the stored session or ErrNotFound.
func (m *MemoryStore) Get(ctx context.Context, sessionID string) (QRSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[sessionID]
	if !ok {
		return QRSession{}, ErrNotFound
	}
	return sess, nil
}

// MarkRedeemed claims the (session, student) redemption under the store lock.
func (m *MemoryStore) MarkRedeemed(ctx context.Context, sessionID, studentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	if m.now().After(sess.ExpiresAt.Add(m.grace - m.skew)) {
		return ErrExpired
	}
	set, ok := m.redemptions[sessionID]
	if !ok {
		set = make(map[string]struct{})
		m.redemptions[sessionID] = set
	}
	if _, taken := set[studentID]; taken {
		return ErrAlreadyRedeemed
	}
	set[studentID] = struct{}{}
	return nil
}

// ClearRedemption releases a previously taken claim.
func (m *MemoryStore) ClearRedemption(ctx context.Context, sessionID, studentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if set, ok := m.redemptions[sessionID]; ok {
		delete(set, studentID)
	}
	return nil
}

// Redeemed reports whether the student already holds the claim.
func (m *MemoryStore) Redeemed(ctx context.Context, sessionID, studentID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[sessionID]; !ok {
		return false, ErrNotFound
	}
	set, ok := m.redemptions[sessionID]
	if !ok {
		return false, nil
	}
	_, taken := set[studentID]
	return taken, nil
}

// Reap drops sessions whose retention window has long passed. Correctness
// never depends on it; it only reclaims memory.
func (m *MemoryStore) Reap() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	dropped := 0
	for id, sess := range m.sessions {
		if now.After(sess.ExpiresAt.Add(m.grace + time.Hour)) {
			delete(m.sessions, id)
			delete(m.redemptions, id)
			dropped++
		}
	}
	return dropped
}
