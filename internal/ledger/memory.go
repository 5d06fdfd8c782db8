package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is an in-process ledger for dev and tests. Both uniqueness keys are
// checked and claimed under one lock, so concurrent commits see the same
// exactly-once outcome as the Postgres constraints give.
type Memory struct {
	mu        sync.Mutex
	records   []Record
	bySession map[string]struct{} // student + session
	byDay     map[string]struct{} // student + class + subject + day

	now func() time.Time
}

// NewMemory creates an empty in-memory ledger.
func NewMemory() *Memory {
	return &Memory{
		bySession: make(map[string]struct{}),
		byDay:     make(map[string]struct{}),
		now:       time.Now,
	}
}

// SetClock overrides the ledger's clock. Tests only.
func (m *Memory) SetClock(now func() time.Time) { m.now = now }

// Commit appends a record unless either uniqueness key is already taken.
func (m *Memory) Commit(ctx context.Context, sessionID, studentID, classID, subject string) (Record, error) {
	now := m.now().UTC()
	sessionKey := studentID + "\x00" + sessionID
	dayKey := studentID + "\x00" + classID + "\x00" + subject + "\x00" + now.Format("2006-01-02")

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.bySession[sessionKey]; ok {
		return Record{}, ErrDuplicate
	}
	if _, ok := m.byDay[dayKey]; ok {
		return Record{}, ErrDuplicate
	}
	rec := Record{
		ID:        uuid.NewString(),
		StudentID: studentID,
		ClassID:   classID,
		Subject:   subject,
		SessionID: sessionID,
		MarkedAt:  now,
		Status:    StatusPresent,
	}
	m.bySession[sessionKey] = struct{}{}
	m.byDay[dayKey] = struct{}{}
	m.records = append(m.records, rec)
	return rec, nil
}

// Query returns matching records, newest first.
func (m *Memory) Query(ctx context.Context, f Filters) ([]Record, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}

	m.mu.Lock()
	matched := make([]Record, 0, len(m.records))
	for _, rec := range m.records {
		if f.ClassID != "" && rec.ClassID != f.ClassID {
			continue
		}
		if f.StudentID != "" && rec.StudentID != f.StudentID {
			continue
		}
		if f.SessionID != "" && rec.SessionID != f.SessionID {
			continue
		}
		if !f.From.IsZero() && rec.MarkedAt.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && rec.MarkedAt.After(f.To) {
			continue
		}
		matched = append(matched, rec)
	}
	m.mu.Unlock()

	sort.Slice(matched, func(i, j int) bool { return matched[i].MarkedAt.After(matched[j].MarkedAt) })
	if offset >= len(matched) {
		return nil, nil
	}
	matched = matched[offset:]
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}
