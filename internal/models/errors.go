package models

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("not found")
	// ErrConflict signals a lost race on a document's version counter.
	ErrConflict = errors.New("version conflict")
	// ErrRetriesExhausted wraps ErrConflict once the retry budget is spent.
	ErrRetriesExhausted = fmt.Errorf("retries exhausted: %w", ErrConflict)
	ErrIntegrity        = errors.New("integrity violation")
)

// ValidationError rejects malformed input before any mutation.
type ValidationError struct {
	Field   string
	Message string
}

func NewValidationError(field, msg string) *ValidationError {
	return &ValidationError{Field: field, Message: msg}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Message
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// NotFoundError reports an absent document or version.
type NotFoundError struct {
	Resource string
	ID       string
}

func NewNotFoundError(resource, id string) *NotFoundError {
	return &NotFoundError{Resource: resource, ID: id}
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Resource, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// IntegrityViolation carries every issue found by a chain recomputation.
type IntegrityViolation struct {
	Scope  string
	Issues []ChainIssue
}

func (e *IntegrityViolation) Error() string {
	ids := make([]string, 0, len(e.Issues))
	for _, is := range e.Issues {
		ids = append(ids, fmt.Sprintf("%d", is.LogID))
	}
	return fmt.Sprintf("integrity violation in %s: %d issue(s) at entries [%s]",
		e.Scope, len(e.Issues), strings.Join(ids, ","))
}

func (e *IntegrityViolation) Is(target error) bool { return target == ErrIntegrity }

// LedgerWriteFailure is raised when an audit append fails. It is reported on
// the side channel and never aborts the operation that triggered it.
type LedgerWriteFailure struct {
	Scope  Scope
	Action AuditAction
	Err    error
}

func (e *LedgerWriteFailure) Error() string {
	return fmt.Sprintf("ledger write failed for %s/%s action %s: %v", e.Scope.OrgID, e.Scope.DocID, e.Action, e.Err)
}

func (e *LedgerWriteFailure) Unwrap() error { return e.Err }
