package identity

import (
	"context"
	"database/sql"
	"errors"
)

// PostgresDirectory reads identity rows from the users and schedules tables.
type PostgresDirectory struct {
	db *sql.DB
}

// NewPostgresDirectory creates a directory.
func NewPostgresDirectory(db *sql.DB) *PostgresDirectory {
	return &PostgresDirectory{db: db}
}

// ResolveCaller maps a user id to a Caller, active users only.
func (d *PostgresDirectory) ResolveCaller(ctx context.Context, userID string) (Caller, error) {
	row := d.db.QueryRowContext(ctx, `
		SELECT id, email, role, COALESCE(class_id, ''), COALESCE(roll_no, '')
		FROM users WHERE id = $1 AND is_active
	`, userID)
	var c Caller
	var role string
	if err := row.Scan(&c.UserID, &c.Email, &role, &c.ClassID, &c.RollNo); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Caller{}, ErrUnknownUser
		}
		return Caller{}, err
	}
	c.Role = Role(role)
	return c, nil
}

// ResolveTeacherClass returns the most recent schedule assignment for the
// teacher, or ErrNoAssignment.
func (d *PostgresDirectory) ResolveTeacherClass(ctx context.Context, userID string) (string, error) {
	row := d.db.QueryRowContext(ctx, `
		SELECT class_id FROM schedules
		WHERE teacher_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`, userID)
	var classID string
	if err := row.Scan(&classID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNoAssignment
		}
		return "", err
	}
	return classID, nil
}
