package services

import (
	"errors"
	"fmt"
)

// ErrAttemptExpired marks any action attempted after the attempt's
// calculated end time. Controllers surface it distinctly so the client can
// trigger its auto-submit flow instead of retrying.
var ErrAttemptExpired = errors.New("exam time has expired")

// ValidationError reports malformed input: bad rule sets, duplicate order
// indexes, references to questions or chapters that do not exist. It is
// always raised before any mutation.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func validationErrorf(format string, args ...interface{}) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// StateConflictError reports an operation that is invalid for the entity's
// current status, e.g. submitting a non-active attempt or publishing an
// exam that already left draft.
type StateConflictError struct {
	Msg string
}

func (e *StateConflictError) Error() string { return e.Msg }

func stateConflictf(format string, args ...interface{}) error {
	return &StateConflictError{Msg: fmt.Sprintf(format, args...)}
}

// NotFoundError reports a missing exam, attempt, question, answer or user.
type NotFoundError struct {
	Resource string
	ID       uint
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Resource, e.ID)
}

func notFound(resource string, id uint) error {
	return &NotFoundError{Resource: resource, ID: id}
}

// PaperGenerationError means zero questions were selectable across all
// rules for one scope. It aborts the whole publish transaction.
type PaperGenerationError struct {
	ExamID uint
	UserID uint // zero for shared papers
	Msg    string
}

func (e *PaperGenerationError) Error() string {
	if e.UserID != 0 {
		return fmt.Sprintf("paper generation failed for exam %d, user %d: %s", e.ExamID, e.UserID, e.Msg)
	}
	return fmt.Sprintf("paper generation failed for exam %d: %s", e.ExamID, e.Msg)
}
