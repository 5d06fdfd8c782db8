package identity

import (
	"context"
	"sync"
)

// StaticDirectory serves a fixed set of callers from memory. Used in dev mode
// and tests when no database is reachable.
type StaticDirectory struct {
	mu          sync.RWMutex
	callers     map[string]Caller
	assignments map[string]string // teacher id -> class id
}

// NewStaticDirectory creates a directory from the given callers.
func NewStaticDirectory(callers ...Caller) *StaticDirectory {
	d := &StaticDirectory{
		callers:     make(map[string]Caller),
		assignments: make(map[string]string),
	}
	for _, c := range callers {
		d.callers[c.UserID] = c
	}
	return d
}

// Add registers or replaces a caller.
func (d *StaticDirectory) Add(c Caller) {
	d.mu.Lock()
	d.callers[c.UserID] = c
	d.mu.Unlock()
}

// Assign binds a sub-teacher to a class.
func (d *StaticDirectory) Assign(teacherID, classID string) {
	d.mu.Lock()
	d.assignments[teacherID] = classID
	d.mu.Unlock()
}

// ResolveCaller maps a user id to a Caller.
func (d *StaticDirectory) ResolveCaller(ctx context.Context, userID string) (Caller, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.callers[userID]
	if !ok {
		return Caller{}, ErrUnknownUser
	}
	return c, nil
}

// ResolveTeacherClass returns the teacher's assignment, or ErrNoAssignment.
func (d *StaticDirectory) ResolveTeacherClass(ctx context.Context, userID string) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	classID, ok := d.assignments[userID]
	if !ok {
		return "", ErrNoAssignment
	}
	return classID, nil
}
