// Package otp generates and validates the one-time passcodes that bind a QR
// scan (proof of presence) to the student's registered mailbox (proof of
// identity). A forwarded QR image alone is useless without the code.
package otp

import (
	"context"
	"crypto/rand"
	"errors"
	"math/big"
	"time"

	"rollcall/internal/session"
)

var (
	// ErrNoChallenge indicates no live challenge exists for the pair.
	ErrNoChallenge = errors.New("no active code for session and student")
	// ErrCodeExpired indicates the challenge's validity window has closed.
	ErrCodeExpired = errors.New("code expired")
	// ErrCodeMismatch indicates the presented code is wrong.
	ErrCodeMismatch = errors.New("code mismatch")
	// ErrTooManyAttempts indicates the challenge is locked out; even the
	// correct code is rejected once the attempt budget is spent.
	ErrTooManyAttempts = errors.New("too many attempts")
)

// Challenge is a one-time code bound to a (session, student) pair. At most one
// live challenge exists per pair; issuing a new one replaces any prior
// unconsumed challenge.
type Challenge struct {
	SessionID         string    `json:"session_id"`
	StudentID         string    `json:"student_id"`
	Code              string    `json:"-"`
	IssuedAt          time.Time `json:"issued_at"`
	ExpiresAt         time.Time `json:"expires_at"`
	AttemptsRemaining int       `json:"attempts_remaining"`
	Consumed          bool      `json:"consumed"`
}

// Store persists challenges keyed by (session, student). Consume performs the
// whole validate step atomically: expiry check, attempt accounting, code
// compare and the consumed flag are one serialized operation per key.
type Store interface {
	Put(ctx context.Context, ch Challenge) error
	Consume(ctx context.Context, sessionID, studentID, code string) error
}

// Params are the protocol tunables for challenges. They are configuration
// inputs, not constants.
type Params struct {
	TTL         time.Duration
	Length      int
	MaxAttempts int
	Skew        time.Duration
}

// Engine issues and validates challenges against the session store's view of
// the parent session.
type Engine struct {
	challenges Store
	sessions   session.Store
	params     Params
	now        func() time.Time
}

// NewEngine creates an engine. Zero-value params fall back to 5-minute TTL,
// 6 digits, 5 attempts.
func NewEngine(challenges Store, sessions session.Store, params Params) *Engine {
	if params.TTL <= 0 {
		params.TTL = 5 * time.Minute
	}
	if params.Length <= 0 {
		params.Length = 6
	}
	if params.MaxAttempts <= 0 {
		params.MaxAttempts = 5
	}
	return &Engine{challenges: challenges, sessions: sessions, params: params, now: time.Now}
}

// SetClock overrides the engine's clock. Tests only.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// Issue creates a fresh challenge for the pair, replacing any prior unconsumed
// one. The parent session must exist, be active, and not already be redeemed
// by this student.
func (e *Engine) Issue(ctx context.Context, sessionID, studentID string) (Challenge, error) {
	sess, err := e.sessions.Get(ctx, sessionID)
	if err != nil {
		return Challenge{}, err
	}
	now := e.now().UTC()
	if sess.Status(now, e.params.Skew) == session.StatusExpired {
		return Challenge{}, session.ErrExpired
	}
	redeemed, err := e.sessions.Redeemed(ctx, sessionID, studentID)
	if err != nil {
		return Challenge{}, err
	}
	if redeemed {
		return Challenge{}, session.ErrAlreadyRedeemed
	}

	code, err := generateCode(e.params.Length)
	if err != nil {
		return Challenge{}, err
	}
	ch := Challenge{
		SessionID:         sessionID,
		StudentID:         studentID,
		Code:              code,
		IssuedAt:          now,
		ExpiresAt:         now.Add(e.params.TTL),
		AttemptsRemaining: e.params.MaxAttempts,
	}
	if err := e.challenges.Put(ctx, ch); err != nil {
		return Challenge{}, err
	}
	return ch, nil
}

// Validate consumes the live challenge for the pair if the code matches.
// Completion is gated by the challenge's own expiry, not the parent session's;
// a student who scanned in time is not punished for the session closing while
// they type the code.
func (e *Engine) Validate(ctx context.Context, sessionID, studentID, code string) error {
	return e.challenges.Consume(ctx, sessionID, studentID, code)
}

// generateCode draws n digits from crypto/rand.
func generateCode(n int) (string, error) {
	const digits = "0123456789"
	buf := make([]byte, n)
	for i := range buf {
		v, err := rand.Int(rand.Reader, big.NewInt(int64(len(digits))))
		if err != nil {
			return "", err
		}
		buf[i] = digits[v.Int64()]
	}
	return string(buf), nil
}
