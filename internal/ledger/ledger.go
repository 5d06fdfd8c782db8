// Package ledger is the append-only record of finalized attendance. Commit is
// the sole write path; records are immutable and never deleted here.
package ledger

import (
	"context"
	"errors"
	"time"
)

// ErrDuplicate indicates a record already exists for the uniqueness key. It is
// a correctness signal, not a transient failure; callers must not retry it.
var ErrDuplicate = errors.New("attendance record already exists")

// StatusPresent is the only terminal status the protocol produces. Absence is
// the default non-record state and is never written.
const StatusPresent = "present"

// Record is the durable, immutable outcome of one successful redemption.
type Record struct {
	ID        string    `json:"record_id"`
	StudentID string    `json:"student_id"`
	ClassID   string    `json:"class_id"`
	Subject   string    `json:"subject"`
	SessionID string    `json:"session_id"`
	MarkedAt  time.Time `json:"marked_at"`
	Status    string    `json:"status"`
}

// Filters narrow a Query. Zero values are ignored.
type Filters struct {
	ClassID   string
	StudentID string
	SessionID string
	From      time.Time
	To        time.Time
	Limit     int
	Offset    int
}

// Ledger enforces at most one record per (student, session) and per
// (student, class, subject, calendar day). Concurrent commits for the same key
// yield exactly one success and one ErrDuplicate, never two records and never
// a lost write.
type Ledger interface {
	Commit(ctx context.Context, sessionID, studentID, classID, subject string) (Record, error)
	Query(ctx context.Context, f Filters) ([]Record, error)
}
