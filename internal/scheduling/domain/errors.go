package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// Conflict reasons carried in 409 payloads.
const (
	ReasonSlotExceedsDeadline = "slot_exceeds_deadline"
	ReasonNoSlot              = "no_slot"
)

var (
	ErrCaptureNotFound = errors.New("capture not found")
	ErrCaptureFrozen   = errors.New("capture is frozen")
)

// ScheduleError is the structured failure surfaced by the scheduler: an HTTP
// status, a machine-readable reason, and a details payload for the client.
type ScheduleError struct {
	Status  int
	Reason  string
	Message string
	Details map[string]any
	cause   error
}

func (e *ScheduleError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("schedule error (%d %s): %s", e.Status, e.Reason, e.Message)
	}
	return fmt.Sprintf("schedule error (%d): %s", e.Status, e.Message)
}

func (e *ScheduleError) Unwrap() error { return e.cause }

// AsScheduleError extracts a *ScheduleError from an error chain.
func AsScheduleError(err error) (*ScheduleError, bool) {
	var se *ScheduleError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// NewValidationError reports a malformed request or unlinked calendar.
func NewValidationError(message string) *ScheduleError {
	return &ScheduleError{Status: http.StatusBadRequest, Message: message}
}

// NewAuthError reports missing or invalid caller credentials.
func NewAuthError(status int, message string) *ScheduleError {
	return &ScheduleError{Status: status, Message: message}
}

// NewNotFoundError reports a missing capture.
func NewNotFoundError(message string) *ScheduleError {
	return &ScheduleError{Status: http.StatusNotFound, Message: message, cause: ErrCaptureNotFound}
}

// NewConflictError reports that no feasible placement exists under the
// current policy. Details carry the structured capacity report.
func NewConflictError(reason, message string, details map[string]any) *ScheduleError {
	return &ScheduleError{
		Status:  http.StatusConflict,
		Reason:  reason,
		Message: message,
		Details: details,
	}
}

// NewPreconditionError reports a stale calendar version tag that survived
// the refresh retry.
func NewPreconditionError(message string, cause error) *ScheduleError {
	return &ScheduleError{Status: http.StatusPreconditionFailed, Message: message, cause: cause}
}

// NewUpstreamError reports a non-retriable calendar provider failure.
func NewUpstreamError(message string, cause error) *ScheduleError {
	return &ScheduleError{Status: http.StatusBadGateway, Message: message, cause: cause}
}

// NewInternalError reports an unexpected failure, e.g. a store update after
// a successful calendar commit.
func NewInternalError(message string, cause error) *ScheduleError {
	return &ScheduleError{Status: http.StatusInternalServerError, Message: message, cause: cause}
}
