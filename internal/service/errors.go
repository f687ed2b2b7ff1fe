package service

import (
	"errors"
	"fmt"
	"time"
)

// Error kinds, mapped to HTTP statuses at the API layer.
var (
	ErrValidation = errors.New("validation error")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
)

// ConflictError is returned when a duplicate schedule is requested. It carries
// the existing publication so callers can surface its id and time.
type ConflictError struct {
	ExistingID  uint
	ScheduledAt *time.Time
}

func (e *ConflictError) Error() string {
	if e.ScheduledAt != nil {
		return fmt.Sprintf("publication %d already scheduled for %s", e.ExistingID, e.ScheduledAt.Format(time.RFC3339))
	}
	return fmt.Sprintf("publication %d already in progress", e.ExistingID)
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

func validationErrorf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func notFoundErrorf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

func conflictErrorf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...))
}
