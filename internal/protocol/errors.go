package protocol

import "errors"

var (
	// ErrInvalidInput indicates malformed or unresolvable identifiers.
	ErrInvalidInput = errors.New("invalid input")
	// ErrNotEnrolled indicates the student is not a member of the session's class.
	ErrNotEnrolled = errors.New("not enrolled in this class")
	// ErrNotAuthorized indicates the caller lacks the capability for the operation.
	ErrNotAuthorized = errors.New("not authorized")
)
