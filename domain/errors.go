package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks bad caller input such as an empty title.
	ErrValidation = errors.New("validation error")
	// ErrNotFound indicates that no task with the requested id exists.
	ErrNotFound = errors.New("task not found")
	// ErrDuplicateID indicates an id collision on create.
	ErrDuplicateID = errors.New("duplicate task id")
	// ErrMalformedRecord indicates an on-disk record without a usable header.
	ErrMalformedRecord = errors.New("malformed record")
	// ErrInvalidDate indicates a header date that is not ISO-8601 UTC.
	ErrInvalidDate = errors.New("invalid date")
	// ErrRelocationFailed indicates a record could not be moved between
	// status directories. The original record is left in place.
	ErrRelocationFailed = errors.New("relocation failed")
	// ErrSetMismatch indicates a reorder sequence that is not a permutation of
	// the column's current members.
	ErrSetMismatch = errors.New("id set mismatch")
)

// Validationf builds an ErrValidation with a formatted reason.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// NotFound wraps ErrNotFound with the missing id.
func NotFound(id string) error {
	return fmt.Errorf("%w: %s", ErrNotFound, id)
}
