package shared

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrValidation indicates malformed input.
	ErrValidation = errors.New("validation failed")
	// ErrInvalidTransition indicates the workflow does not allow the requested step from the current state.
	ErrInvalidTransition = errors.New("invalid workflow transition")
	// ErrDuplicateActiveDiagnosis occurs when an order already has an undecided diagnosis.
	ErrDuplicateActiveDiagnosis = errors.New("order already has an active diagnosis")
	// ErrOrderAlreadyManifested occurs when an order is already listed on a challan.
	ErrOrderAlreadyManifested = errors.New("order already added to a challan")
	// ErrOrderNotReady occurs when a non-ready order is put on a challan.
	ErrOrderNotReady = errors.New("order is not ready for delivery")
	// ErrInsufficientStock occurs when a transfer would drive stock below zero.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrStaleWorkflowState signals a concurrent writer moved the workflow; callers re-fetch and retry.
	ErrStaleWorkflowState = errors.New("workflow state changed concurrently")
)

// IsRetryable reports whether the caller may re-fetch and retry the operation.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStaleWorkflowState)
}

// ValidationErrors collects per-field messages. It matches ErrValidation with errors.Is.
type ValidationErrors map[string]string

func (v ValidationErrors) Error() string {
	fields := make([]string, 0, len(v))
	for field := range v {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	parts := make([]string, 0, len(fields))
	for _, field := range fields {
		parts = append(parts, fmt.Sprintf("%s: %s", field, v[field]))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Is lets errors.Is(err, ErrValidation) succeed.
func (v ValidationErrors) Is(target error) bool {
	return target == ErrValidation
}

// Invalid builds a single-field validation error.
func Invalid(field, message string) error {
	return ValidationErrors{field: message}
}
