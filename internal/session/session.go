package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"
)

var (
	// ErrNotFound indicates an unknown session id.
	ErrNotFound = errors.New("session not found")
	// ErrExpired indicates the session's validity window has closed.
	ErrExpired = errors.New("session expired")
	// ErrAlreadyRedeemed indicates the student already completed verification
	// for this session.
	ErrAlreadyRedeemed = errors.New("attendance already marked for session")
)

// Status is derived from the clock at read time; a session never physically
// transitions between states.
type Status string

const (
	StatusActive  Status = "active"
	StatusExpired Status = "expired"
)

// QRSession is one roll-call opportunity for a class/subject pair. Immutable
// after creation except for its redemption set.
type QRSession struct {
	ID        string    `json:"session_id"`
	ClassID   string    `json:"class_id"`
	Subject   string    `json:"subject"`
	IssuerID  string    `json:"issuer_id"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Status reports whether the session is still within its validity window.
// skew shrinks the window so that a borderline read on a skewed clock expires
// early rather than late.
func (s QRSession) Status(now time.Time, skew time.Duration) Status {
	if now.After(s.ExpiresAt.Add(-skew)) {
		return StatusExpired
	}
	return StatusActive
}

// Store owns QRSession creation, lookup and per-student redemption claims.
// MarkRedeemed is an atomic check-and-set: two concurrent calls for the same
// (session, student) must not both succeed.
type Store interface {
	Create(ctx context.Context, classID, subject, issuerID string, ttl time.Duration) (QRSession, error)
	Get(ctx context.Context, sessionID string) (QRSession, error)
	MarkRedeemed(ctx context.Context, sessionID, studentID string) error
	// ClearRedemption undoes a MarkRedeemed claim. Used as a compensating
	// action when the ledger commit fails after the claim was taken.
	ClearRedemption(ctx context.Context, sessionID, studentID string) error
	Redeemed(ctx context.Context, sessionID, studentID string) (bool, error)
}

// newSessionID returns a 128-bit random token, hex-encoded.
func newSessionID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
