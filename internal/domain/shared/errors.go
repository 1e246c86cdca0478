// Package shared contains common domain types, errors and events
// that are used across all domain packages. This package has zero external dependencies.
package shared

import (
	"errors"
	"fmt"
)

// Base domain errors that can be used for error checking with errors.Is().
var (
	// Entity errors
	ErrNotFound      = errors.New("entity not found")
	ErrAlreadyExists = errors.New("entity already exists")

	// Validation errors
	ErrValidation      = errors.New("validation error")
	ErrInvalidID       = errors.New("invalid ID")
	ErrInvalidInput    = errors.New("invalid input")
	ErrEmptyValue      = errors.New("value cannot be empty")
	ErrNegativeValue   = errors.New("value cannot be negative")
	ErrValueOutOfRange = errors.New("value out of range")

	// State errors
	ErrInvalidState    = errors.New("invalid state")
	ErrStateTransition = errors.New("invalid state transition")

	// Authorization errors
	ErrForbidden = errors.New("forbidden")

	// Persistence errors
	ErrCorrupted = errors.New("data corrupted")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g., "ledger", "task", "engine"
	Op      string // Operation that failed, e.g., "Create", "Transition"
	Kind    error  // Base error type for errors.Is() checking
	Message string // Human-readable message
	Err     error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Domain, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Domain, e.Op, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *DomainError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is implements errors.Is() matching.
func (e *DomainError) Is(target error) bool {
	if e.Kind != nil && errors.Is(e.Kind, target) {
		return true
	}
	if e.Err != nil && errors.Is(e.Err, target) {
		return true
	}
	return false
}

// NewDomainError creates a new domain error.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
	}
}

// WrapError wraps an existing error with domain context.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// Task domain errors
var (
	ErrTaskNotFound       = NewDomainError("task", "Find", ErrNotFound, "task not found")
	ErrTaskEmptyTitle     = NewDomainError("task", "Validate", ErrEmptyValue, "task title cannot be empty")
	ErrTaskNegativeReward = NewDomainError("task", "Validate", ErrNegativeValue, "task XP reward cannot be negative")
	ErrTaskInvalidPrio    = NewDomainError("task", "Validate", ErrInvalidInput, "invalid task priority")
	ErrTaskRewardTooLarge = NewDomainError("task", "Validate", ErrValueOutOfRange, "task XP reward exceeds the maximum")
	ErrTaskTerminal       = NewDomainError("task", "Transition", ErrStateTransition, "task is already resolved")
)

// Achievement domain errors
var (
	ErrPredicatePanicked = NewDomainError("achievement", "Evaluate", ErrInvalidState, "achievement predicate panicked")
)

// Engine errors
var (
	ErrAdminDisabled    = NewDomainError("engine", "Admin", ErrForbidden, "admin commands are disabled")
	ErrInvalidLevel     = NewDomainError("engine", "SetLevel", ErrValueOutOfRange, "level out of range")
	ErrXPOutOfRange     = NewDomainError("engine", "AddXP", ErrValueOutOfRange, "XP amount out of range")
	ErrStateCorrupted   = NewDomainError("engine", "Load", ErrCorrupted, "saved state failed checksum verification")
	ErrUnknownStateVers = NewDomainError("engine", "Load", ErrInvalidState, "saved state version is newer than supported")
)

// IsNotFound checks if the error is a "not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsValidation checks if the error is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidID) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrEmptyValue) ||
		errors.Is(err, ErrNegativeValue) ||
		errors.Is(err, ErrValueOutOfRange)
}

// IsForbidden checks if the error is an authorization error.
func IsForbidden(err error) bool {
	return errors.Is(err, ErrForbidden)
}
