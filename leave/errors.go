/*
errors.go - Error taxonomy for the leave engine

PURPOSE:
  Every failure the engine reports maps to one sentinel, so callers can
  branch with errors.Is. Structured errors carry the request id and its
  current status for client messaging and never expose lock or
  transaction internals.

RETRYABILITY:
  Only ErrLockContention is retryable. The engine already retries it a
  bounded number of times before surfacing it.
*/
package leave

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/warp/leave-engine/calendar"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidRange: end before start, zero working days, or a range
	// crossing a leave-year boundary.
	ErrInvalidRange = calendar.ErrInvalidRange

	ErrOverlappingRequest  = errors.New("overlapping request")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrInvalidTransition   = errors.New("invalid transition")

	// ErrLockContention is retryable: retry the whole operation.
	ErrLockContention = errors.New("lock contention")

	// ErrAuditWriteFailed aborts the transaction that triggered it.
	ErrAuditWriteFailed = errors.New("audit write failed")

	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// Stage distinguishes the soft submission check from the hard approval check.
type Stage string

const (
	StageSubmission Stage = "submission"
	StageApproval   Stage = "approval"
)

// RequestError attaches a request id and its current status to a sentinel.
type RequestError struct {
	Kind      error
	RequestID RequestID
	Status    Status
	Message   string
}

func (e *RequestError) Error() string {
	msg := e.Kind.Error()
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.RequestID != "" {
		msg += fmt.Sprintf(" (request %s", e.RequestID)
		if e.Status != "" {
			msg += ", status " + string(e.Status)
		}
		msg += ")"
	}
	return msg
}

func (e *RequestError) Unwrap() error { return e.Kind }

func requestError(kind error, req LeaveRequest, format string, args ...any) error {
	return &RequestError{
		Kind:      kind,
		RequestID: req.ID,
		Status:    req.Status,
		Message:   fmt.Sprintf(format, args...),
	}
}

// InsufficientBalanceError reports a shortage at submission or approval.
type InsufficientBalanceError struct {
	Stage     Stage
	RequestID RequestID
	Status    Status
	Key       BalanceKey
	Available decimal.Decimal
	Requested decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance at %s: available %s, requested %s (balance %s)",
		e.Stage, e.Available, e.Requested, e.Key)
}

func (e *InsufficientBalanceError) Unwrap() error { return ErrInsufficientBalance }

// Shortfall is how many days are missing.
func (e *InsufficientBalanceError) Shortfall() decimal.Decimal {
	return e.Requested.Sub(e.Available)
}

// OverlapError names the existing request the new one collides with.
type OverlapError struct {
	ConflictingID     RequestID
	ConflictingStatus Status
	Range             calendar.DateRange
}

func (e *OverlapError) Error() string {
	return fmt.Sprintf("overlapping request: %s (%s) already covers %s",
		e.ConflictingID, e.ConflictingStatus, e.Range)
}

func (e *OverlapError) Unwrap() error { return ErrOverlappingRequest }

// AuditWriteError wraps the underlying store failure. It matches both
// ErrAuditWriteFailed and the cause.
type AuditWriteError struct {
	EntityType EntityType
	EntityID   string
	Action     string
	Err        error
}

func (e *AuditWriteError) Error() string {
	return fmt.Sprintf("audit write failed for %s %s (%s): %v", e.EntityType, e.EntityID, e.Action, e.Err)
}

func (e *AuditWriteError) Unwrap() []error { return []error{ErrAuditWriteFailed, e.Err} }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrLockContention)
}

// IsClientError returns true if the error is due to the caller's input or
// the current state of the request.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidRange) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrOverlappingRequest) ||
		errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrInvalidTransition)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
