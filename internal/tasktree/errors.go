package tasktree

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrDepthExceeded = errors.New("subtasks cannot own subtasks")
	ErrModeRequired  = errors.New("task has subtasks, a mode must be chosen")
	ErrInvalidMove   = errors.New("invalid move")
)

// ValidationError is reported before any mutation is attempted.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// PersistError means the repository rejected a mutation and the local tree
// was restored to its pre-mutation snapshot. The operation may be retried.
type PersistError struct {
	Op  string
	Err error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("%s: could not save changes: %v", e.Op, e.Err)
}

func (e *PersistError) Unwrap() error { return e.Err }

// PartialCascadeError means a multi-step cascade failed after some steps had
// already been committed remotely. Completed lists those steps in order.
type PartialCascadeError struct {
	Op        string
	Completed []string
	Err       error
}

func (e *PartialCascadeError) Error() string {
	done := "nothing"
	if len(e.Completed) > 0 {
		done = strings.Join(e.Completed, ", ")
	}
	return fmt.Sprintf("%s: failed after %s: %v", e.Op, done, e.Err)
}

func (e *PartialCascadeError) Unwrap() error { return e.Err }

func notFound(kind, id string) error {
	return fmt.Errorf("%s %q: %w", kind, id, ErrNotFound)
}
