package engine

import (
	"errors"
	"fmt"
	"strings"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"staffline/internal/repo"
)

// ErrNotFound is the repository sentinel re-exported for callers of the engine.
var ErrNotFound = repo.ErrNotFound

// InvalidStateError rejects an operation whose preconditions do not hold.
// Reason is a stable machine-readable code.
type InvalidStateError struct {
	Reason string
	Detail string
}

func (e *InvalidStateError) Error() string {
	if e.Detail == "" {
		return strings.ReplaceAll(e.Reason, "_", " ")
	}
	return fmt.Sprintf("%s: %s", strings.ReplaceAll(e.Reason, "_", " "), e.Detail)
}

// Is matches another InvalidStateError with the same reason. ErrInvalidState,
// whose reason is empty, matches them all.
func (e *InvalidStateError) Is(target error) bool {
	t, ok := target.(*InvalidStateError)
	if !ok {
		return false
	}
	return t.Reason == "" || t.Reason == e.Reason
}

var (
	ErrInvalidState              = &InvalidStateError{}
	ErrProjectClosed             = &InvalidStateError{Reason: "project_closed"}
	ErrDuplicateActiveAssignment = &InvalidStateError{Reason: "duplicate_active_assignment"}
	ErrDuplicatePendingRequest   = &InvalidStateError{Reason: "duplicate_pending_request"}
	ErrInvalidDateRange          = &InvalidStateError{Reason: "invalid_date_range"}
	ErrRequestNotPending         = &InvalidStateError{Reason: "request_not_pending"}
	ErrAssignmentNotActive       = &InvalidStateError{Reason: "assignment_not_active"}
	ErrProjectTerminal           = &InvalidStateError{Reason: "project_terminal"}
	ErrHasActiveAssignments      = &InvalidStateError{Reason: "has_active_assignments"}
	ErrDuplicateEmail            = &InvalidStateError{Reason: "duplicate_email"}
	ErrUserOwnsProjects          = &InvalidStateError{Reason: "user_owns_projects"}
	ErrInvalidInput              = &InvalidStateError{Reason: "invalid_input"}
)

func invalid(kind *InvalidStateError, format string, args ...any) error {
	return &InvalidStateError{Reason: kind.Reason, Detail: fmt.Sprintf(format, args...)}
}

// ConflictError reports a transaction-level write conflict. Callers may retry
// the whole operation once with fresh reads.
type ConflictError struct {
	Err error
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("concurrency conflict: %v", e.Err)
}

func (e *ConflictError) Unwrap() error { return e.Err }

// IsConflict reports whether err is a ConflictError.
func IsConflict(err error) bool {
	var c *ConflictError
	return errors.As(err, &c)
}

func notFound(kind, id string, err error) error {
	if errors.Is(err, repo.ErrNotFound) {
		return fmt.Errorf("%s %s: %w", kind, id, repo.ErrNotFound)
	}
	return err
}

// classify turns store-level lock errors into ConflictError. Other errors pass
// through unchanged.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return err
	}
	switch se.Code() & 0xff {
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return &ConflictError{Err: err}
	}
	return err
}

func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	if se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE {
		return true
	}
	return se.Code()&0xff == sqlite3.SQLITE_CONSTRAINT && strings.Contains(se.Error(), "UNIQUE")
}
