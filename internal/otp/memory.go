package otp

import (
	"context"
	"crypto/subtle"
	"sync"
	"time"
)

// MemoryStore keeps challenges in process memory behind a mutex; Consume runs
// its whole check-and-set under the lock.
type MemoryStore struct {
	mu         sync.Mutex
	challenges map[string]*Challenge // composite (session, student) key

	skew time.Duration
	now  func() time.Time
}

// NewMemoryStore creates an in-memory challenge store.
func NewMemoryStore(skew time.Duration) *MemoryStore {
	return &MemoryStore{
		challenges: make(map[string]*Challenge),
		skew:       skew,
		now:        time.Now,
	}
}

// SetClock overrides the store's clock. Tests only.
func (m *MemoryStore) SetClock(now func() time.Time) { m.now = now }

func pairKey(sessionID, studentID string) string { return sessionID + "\x00" + studentID }

// Put stores the challenge, replacing any prior one for the pair.
func (m *MemoryStore) Put(ctx context.Context, ch Challenge) error {
	m.mu.Lock()
	m.challenges[pairKey(ch.SessionID, ch.StudentID)] = &ch
	m.mu.Unlock()
	return nil
}

// Consume validates and, on success, consumes the pair's live challenge.
func (m *MemoryStore) Consume(ctx context.Context, sessionID, studentID, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.challenges[pairKey(sessionID, studentID)]
	if !ok || ch.Consumed {
		return ErrNoChallenge
	}
	if m.now().After(ch.ExpiresAt.Add(-m.skew)) {
		return ErrCodeExpired
	}
	if ch.AttemptsRemaining <= 0 {
		return ErrTooManyAttempts
	}
	if subtle.ConstantTimeCompare([]byte(ch.Code), []byte(code)) != 1 {
		ch.AttemptsRemaining--
		return ErrCodeMismatch
	}
	ch.Consumed = true
	return nil
}

// Reap drops challenges whose expiry has long passed. Memory hygiene only.
func (m *MemoryStore) Reap() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	dropped := 0
	for key, ch := range m.challenges {
		if now.After(ch.ExpiresAt.Add(time.Hour)) {
			delete(m.challenges, key)
			dropped++
		}
	}
	return dropped
}
