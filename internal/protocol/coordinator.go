// Package protocol orchestrates the attendance verification protocol: QR
// session issuance, the OTP challenge, and the durable attendance record.
//
// Per (session, student) pair the flow is a three-state machine:
// no attempt -> code pending (BeginVerification) -> verified
// (CompleteVerification). Verified is terminal; code pending is re-entered by
// re-issuing a challenge, which invalidates the prior code.
package protocol

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"rollcall/internal/identity"
	"rollcall/internal/ledger"
	"rollcall/internal/notify"
	"rollcall/internal/otp"
	"rollcall/internal/session"
)

// Config holds the protocol tunables.
type Config struct {
	SessionTTL    time.Duration
	OTPTTL        time.Duration
	CommitRetries int
	CommitBackoff time.Duration
	Skew          time.Duration
}

// Coordinator is the only component that touches more than one store. It is
// the sole writer of sessions, challenges and attendance records.
type Coordinator struct {
	sessions  session.Store
	codes     *otp.Engine
	records   ledger.Ledger
	directory identity.Directory
	notifier  notify.Notifier
	metrics   *Metrics
	cfg       Config
	now       func() time.Time
}

// New creates a coordinator. metrics may be nil.
func New(sessions session.Store, codes *otp.Engine, records ledger.Ledger, directory identity.Directory, notifier notify.Notifier, metrics *Metrics, cfg Config) *Coordinator {
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 15 * time.Minute
	}
	if cfg.OTPTTL <= 0 {
		cfg.OTPTTL = 5 * time.Minute
	}
	if cfg.CommitRetries <= 0 {
		cfg.CommitRetries = 3
	}
	if cfg.CommitBackoff <= 0 {
		cfg.CommitBackoff = 50 * time.Millisecond
	}
	return &Coordinator{
		sessions:  sessions,
		codes:     codes,
		records:   records,
		directory: directory,
		notifier:  notifier,
		metrics:   metrics,
		cfg:       cfg,
		now:       time.Now,
	}
}

// IssueSession creates a QR session for a class after checking the issuer's
// teaching rights, and returns the session plus the payload to encode into the
// QR image.
func (c *Coordinator) IssueSession(ctx context.Context, issuerID, classID, subject string) (session.QRSession, Payload, error) {
	if issuerID == "" || classID == "" || subject == "" {
		return session.QRSession{}, Payload{}, fmt.Errorf("%w: issuer, class and subject required", ErrInvalidInput)
	}
	caller, err := c.directory.ResolveCaller(ctx, issuerID)
	if err != nil {
		if errors.Is(err, identity.ErrUnknownUser) {
			return session.QRSession{}, Payload{}, fmt.Errorf("%w: unknown issuer", ErrInvalidInput)
		}
		return session.QRSession{}, Payload{}, err
	}
	if err := c.authorizeIssuer(ctx, caller, classID); err != nil {
		c.metrics.failed(Kind(err))
		return session.QRSession{}, Payload{}, err
	}

	sess, err := c.sessions.Create(ctx, classID, subject, issuerID, c.cfg.SessionTTL)
	if err != nil {
		return session.QRSession{}, Payload{}, err
	}
	c.metrics.issued()
	p := Payload{Version: 1, SessionID: sess.ID, ClassID: sess.ClassID, IssuerID: sess.IssuerID}
	return sess, p, nil
}

// authorizeIssuer checks teaching rights over the class. Class teachers are
// bound to their own class; sub-teachers follow their schedule assignment
// when one exists.
func (c *Coordinator) authorizeIssuer(ctx context.Context, caller identity.Caller, classID string) error {
	if !caller.Teaches() {
		return fmt.Errorf("%w: role %s cannot issue sessions", ErrNotAuthorized, caller.Role)
	}
	switch caller.Role {
	case identity.RoleClassTeacher:
		if caller.ClassID != classID {
			return fmt.Errorf("%w: not assigned to class %s", ErrNotAuthorized, classID)
		}
	case identity.RoleSubTeacher:
		assigned, err := c.directory.ResolveTeacherClass(ctx, caller.UserID)
		if err != nil {
			if errors.Is(err, identity.ErrNoAssignment) {
				return nil // floating sub-teacher, no schedule binding
			}
			return err
		}
		if assigned != classID {
			return fmt.Errorf("%w: scheduled for class %s", ErrNotAuthorized, assigned)
		}
	}
	return nil
}

// BeginVerification handles a student's QR scan: validates the session,
// issues a fresh challenge (invalidating any prior code for the pair) and
// dispatches it to the notifier. Dispatch is fire-and-forget; a delivery
// failure never fails the scan, the student simply scans again for a resend.
func (c *Coordinator) BeginVerification(ctx context.Context, studentID string, p Payload) (otp.Challenge, error) {
	if studentID == "" || p.SessionID == "" {
		return otp.Challenge{}, fmt.Errorf("%w: student and session required", ErrInvalidInput)
	}
	caller, err := c.directory.ResolveCaller(ctx, studentID)
	if err != nil {
		if errors.Is(err, identity.ErrUnknownUser) {
			return otp.Challenge{}, fmt.Errorf("%w: unknown student", ErrInvalidInput)
		}
		return otp.Challenge{}, err
	}
	if caller.Role != identity.RoleStudent {
		return otp.Challenge{}, fmt.Errorf("%w: only students verify attendance", ErrNotAuthorized)
	}

	sess, err := c.sessions.Get(ctx, p.SessionID)
	if err != nil {
		c.metrics.failed(Kind(err))
		return otp.Challenge{}, err
	}
	if p.ClassID != "" && p.ClassID != sess.ClassID {
		return otp.Challenge{}, fmt.Errorf("%w: payload class does not match session", ErrInvalidInput)
	}
	if p.IssuerID != "" && p.IssuerID != sess.IssuerID {
		return otp.Challenge{}, fmt.Errorf("%w: payload issuer does not match session", ErrInvalidInput)
	}
	if !caller.MemberOfClass(sess.ClassID) {
		c.metrics.failed(Kind(ErrNotEnrolled))
		return otp.Challenge{}, ErrNotEnrolled
	}

	ch, err := c.codes.Issue(ctx, sess.ID, studentID)
	if err != nil {
		c.metrics.failed(Kind(err))
		return otp.Challenge{}, err
	}
	c.metrics.begun()

	d := notify.Delivery{StudentID: studentID, Code: ch.Code, ExpiresIn: c.cfg.OTPTTL.String()}
	if err := c.notifier.Send(ctx, d); err != nil {
		log.Printf("otp delivery dispatch failed for session %s: %v", sess.ID, err)
	}
	return ch, nil
}

// CompleteVerification validates the code, claims the redemption and commits
// the attendance record, in that order. The challenge's own expiry is the
// gate; session expiry is not re-checked here (see otp.Engine.Validate). If
// the ledger commit fails after the claim was taken, the claim is rolled back
// so the student is not locked out without a record.
func (c *Coordinator) CompleteVerification(ctx context.Context, studentID, sessionID, code string) (ledger.Record, error) {
	if studentID == "" || sessionID == "" || code == "" {
		return ledger.Record{}, fmt.Errorf("%w: student, session and code required", ErrInvalidInput)
	}
	if err := c.codes.Validate(ctx, sessionID, studentID, code); err != nil {
		// A consumed challenge usually means the pair already verified — a
		// second tab racing the first, or a replay. Surface that as
		// already-marked rather than a bare missing-challenge.
		if errors.Is(err, otp.ErrNoChallenge) {
			if redeemed, rerr := c.sessions.Redeemed(ctx, sessionID, studentID); rerr == nil && redeemed {
				err = session.ErrAlreadyRedeemed
			}
		}
		c.metrics.failed(Kind(err))
		return ledger.Record{}, err
	}

	sess, err := c.sessions.Get(ctx, sessionID)
	if err != nil {
		c.metrics.failed(Kind(err))
		return ledger.Record{}, err
	}
	if err := c.sessions.MarkRedeemed(ctx, sessionID, studentID); err != nil {
		c.metrics.failed(Kind(err))
		return ledger.Record{}, err
	}

	rec, err := c.commitWithRetry(ctx, sess, studentID)
	if err != nil {
		if errors.Is(err, ledger.ErrDuplicate) {
			// A record for this student already exists (same subject, same
			// day, different session). The claim stays: the ledger holds a
			// record either way, and clearing it would invite retry loops.
			c.metrics.failed(Kind(err))
			return ledger.Record{}, err
		}
		if clearErr := c.sessions.ClearRedemption(ctx, sessionID, studentID); clearErr != nil {
			log.Printf("compensation failed for session %s student %s: %v", sessionID, studentID, clearErr)
		}
		c.metrics.failed(Kind(err))
		return ledger.Record{}, err
	}
	c.metrics.completed()
	return rec, nil
}

// commitWithRetry retries transient ledger failures with exponential backoff.
// ErrDuplicate is a correctness signal and is never retried.
func (c *Coordinator) commitWithRetry(ctx context.Context, sess session.QRSession, studentID string) (ledger.Record, error) {
	backoff := c.cfg.CommitBackoff
	var rec ledger.Record
	var err error
	for attempt := 0; ; attempt++ {
		rec, err = c.records.Commit(ctx, sess.ID, studentID, sess.ClassID, sess.Subject)
		if err == nil || errors.Is(err, ledger.ErrDuplicate) {
			return rec, err
		}
		if attempt >= c.cfg.CommitRetries {
			return ledger.Record{}, err
		}
		select {
		case <-ctx.Done():
			return ledger.Record{}, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
}

// Query reads attendance records. Read-only; reporting surface.
func (c *Coordinator) Query(ctx context.Context, f ledger.Filters) ([]ledger.Record, error) {
	return c.records.Query(ctx, f)
}

// Kind maps a protocol error to its stable kind label, shared by metrics and
// the presentation layer.
func Kind(err error) string {
	switch {
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrNotEnrolled):
		return "not_enrolled"
	case errors.Is(err, ErrNotAuthorized):
		return "not_authorized"
	case errors.Is(err, session.ErrNotFound):
		return "not_found"
	case errors.Is(err, session.ErrExpired):
		return "session_expired"
	case errors.Is(err, session.ErrAlreadyRedeemed):
		return "already_marked"
	case errors.Is(err, otp.ErrNoChallenge):
		return "no_challenge"
	case errors.Is(err, otp.ErrCodeExpired):
		return "code_expired"
	case errors.Is(err, otp.ErrCodeMismatch):
		return "code_mismatch"
	case errors.Is(err, otp.ErrTooManyAttempts):
		return "too_many_attempts"
	case errors.Is(err, ledger.ErrDuplicate):
		return "duplicate_record"
	default:
		return "internal"
	}
}
