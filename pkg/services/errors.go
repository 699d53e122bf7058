// Package services provides standardized error types for service layer operations.
package services

import (
	"errors"
	"fmt"

	"github.com/dukex/careflow/pkg/models"
)

// Business Logic Errors - These indicate client errors (4xx responses).
var (
	// Validation Errors (400 Bad Request).
	ErrInvalidRequest      = errors.New("invalid request")
	ErrWorkflowNil         = errors.New("workflow cannot be nil")
	ErrWorkflowIDRequired  = errors.New("workflow ID is required")
	ErrInvalidWorkflow     = errors.New("invalid workflow")
	ErrInvalidTemplateMode = errors.New("invalid template mode")
	ErrPatientsRequired    = errors.New("at least one patient is required")
	ErrInvalidStatus       = errors.New("invalid workflow status")

	// Business Logic Conflicts (409 Conflict).
	ErrInvalidStatusTransition = models.ErrInvalidStatusTransition
	ErrWorkflowCompleted       = errors.New("cannot modify completed workflow")
)

// ServiceError wraps service-level errors with additional context.
type ServiceError struct {
	Op      string // Operation name
	Code    string // Error code for API responses
	Message string // Human-readable message
	Err     error  // Underlying error
}

func (e *ServiceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}

	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func (e *ServiceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsValidationError checks if an error is a validation error that should return HTTP 400.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrWorkflowNil) ||
		errors.Is(err, ErrWorkflowIDRequired) ||
		errors.Is(err, ErrInvalidWorkflow) ||
		errors.Is(err, ErrInvalidTemplateMode) ||
		errors.Is(err, ErrPatientsRequired) ||
		errors.Is(err, ErrInvalidStatus) ||
		errors.Is(err, models.ErrValidation) ||
		errors.Is(err, models.ErrStepIndexOutOfRange)
}

// IsConflictError checks if an error is a business logic conflict that should return HTTP 409.
func IsConflictError(err error) bool {
	return errors.Is(err, ErrInvalidStatusTransition) ||
		errors.Is(err, ErrWorkflowCompleted)
}

// NewValidationError creates a new validation error with context.
func NewValidationError(op, code, message string, err error) *ServiceError {
	return &ServiceError{
		Op:      op,
		Code:    code,
		Message: message,
		Err:     err,
	}
}

func newInvalidWorkflowError(op string, validationErrs models.ValidationErrors) *ServiceError {
	return &ServiceError{
		Op:      op,
		Code:    "INVALID_WORKFLOW",
		Message: validationErrs.Error(),
		Err:     fmt.Errorf("%w: %w", ErrInvalidWorkflow, validationErrs),
	}
}
