// Package identity resolves callers to their role and class bindings. It only
// reads identity rows; user administration lives in a separate system.
package identity

import (
	"context"
	"errors"
)

var (
	// ErrUnknownUser indicates the user id does not resolve.
	ErrUnknownUser = errors.New("unknown user")
	// ErrNoAssignment indicates a sub-teacher has no schedule binding.
	ErrNoAssignment = errors.New("no class assignment")
)

// Role is a flat capability tag, not a hierarchy.
type Role string

const (
	RoleSuperAdmin   Role = "superadmin"
	RoleSubAdmin     Role = "subadmin"
	RoleClassTeacher Role = "class_teacher"
	RoleSubTeacher   Role = "sub_teacher"
	RoleStudent      Role = "student"
)

// Caller is a resolved identity: who they are, what they may do, and which
// class they are bound to (teachers and students alike).
type Caller struct {
	UserID  string
	Email   string
	Role    Role
	ClassID string
	RollNo  string
}

// Teaches reports whether the role carries any session-issuing capability.
func (c Caller) Teaches() bool {
	return c.Role == RoleClassTeacher || c.Role == RoleSubTeacher
}

// MemberOfClass reports whether a student caller is enrolled in the class.
func (c Caller) MemberOfClass(classID string) bool {
	return c.Role == RoleStudent && c.ClassID == classID
}

// Staff reports whether the caller may read attendance reports.
func (c Caller) Staff() bool {
	return c.Role == RoleSuperAdmin || c.Role == RoleSubAdmin || c.Teaches()
}

// Directory is the external identity collaborator.
type Directory interface {
	// ResolveCaller maps a user id (typically a JWT subject) to a Caller.
	ResolveCaller(ctx context.Context, userID string) (Caller, error)
	// ResolveTeacherClass returns the class a schedule-bound sub-teacher is
	// assigned to, or ErrNoAssignment.
	ResolveTeacherClass(ctx context.Context, userID string) (string, error)
}
