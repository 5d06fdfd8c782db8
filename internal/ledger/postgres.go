package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Repository persists attendance records in Postgres. Uniqueness is enforced
// by the table's constraints (see schema.sql), so concurrent commits resolve
// inside the database, not in application code.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Commit inserts the record; a conflict on either uniqueness constraint
// surfaces as ErrDuplicate.
func (r *Repository) Commit(ctx context.Context, sessionID, studentID, classID, subject string) (Record, error) {
	rec := Record{
		ID:        uuid.NewString(),
		StudentID: studentID,
		ClassID:   classID,
		Subject:   subject,
		SessionID: sessionID,
		MarkedAt:  time.Now().UTC(),
		Status:    StatusPresent,
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO attendance_records (id, student_id, class_id, subject, session_id, marked_at, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT DO NOTHING
		RETURNING marked_at
	`, rec.ID, rec.StudentID, rec.ClassID, rec.Subject, rec.SessionID, rec.MarkedAt, rec.Status)
	if err := row.Scan(&rec.MarkedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, ErrDuplicate
		}
		return Record{}, err
	}
	return rec, nil
}

// Query returns records matching the filters, newest first.
func (r *Repository) Query(ctx context.Context, f Filters) ([]Record, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}
	query := `SELECT id, student_id, class_id, subject, session_id, marked_at, status FROM attendance_records`
	args := []any{}
	clauses := []string{}
	if f.ClassID != "" {
		clauses = append(clauses, "class_id = $"+itoa(len(args)+1))
		args = append(args, f.ClassID)
	}
	if f.StudentID != "" {
		clauses = append(clauses, "student_id = $"+itoa(len(args)+1))
		args = append(args, f.StudentID)
	}
	if f.SessionID != "" {
		clauses = append(clauses, "session_id = $"+itoa(len(args)+1))
		args = append(args, f.SessionID)
	}
	if !f.From.IsZero() {
		clauses = append(clauses, "marked_at >= $"+itoa(len(args)+1))
		args = append(args, f.From)
	}
	if !f.To.IsZero() {
		clauses = append(clauses, "marked_at <= $"+itoa(len(args)+1))
		args = append(args, f.To)
	}
	if len(clauses) > 0 {
		query += " WHERE " + joinClauses(clauses, " AND ")
	}
	query += " ORDER BY marked_at DESC LIMIT $" + itoa(len(args)+1) + " OFFSET $" + itoa(len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.StudentID, &rec.ClassID, &rec.Subject, &rec.SessionID, &rec.MarkedAt, &rec.Status); err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}

func itoa(i int) string { return fmt.Sprintf("%d", i) }

func joinClauses(parts []string, sep string) string {
	if len(parts) == 0 {
		return ""
	}
	out := parts[0]
	for i := 1; i < len(parts); i++ {
		out += sep + parts[i]
	}
	return out
}
