package schema

import "fmt"

// Error codes for structured error reporting.
const (
	ErrCodeValidation           = "VALIDATION_ERROR"
	ErrCodeExecution            = "EXECUTION_ERROR"
	ErrCodeResolutionExhausted  = "RESOLUTION_EXHAUSTED"
	ErrCodeNoStrategySucceeded  = "NO_STRATEGY"
	ErrCodeConfirmationNotFound = "CONFIRMATION_NOT_FOUND"
	ErrCodePollTimedOut         = "POLL_TIMEOUT"
	ErrCodeArtifactNotFound     = "ARTIFACT_NOT_FOUND"
	ErrCodeDeliveryFailed       = "DELIVERY_FAILED"
	ErrCodeSurfaceNotReady      = "SURFACE_NOT_READY"
	ErrCodeInvalidTransition    = "INVALID_TRANSITION"
	ErrCodeBreakerOpen          = "BREAKER_OPEN"
	ErrCodeStore                = "STORE_ERROR"
)

// DrayError is the structured error type for all dray operations.
type DrayError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	Stage   string         `json:"stage,omitempty"`
	Cause   error          `json:"-"`
}

func (e *DrayError) Error() string {
	if e.Stage != "" {
		return fmt.Sprintf("[%s] stage %s: %s", e.Code, e.Stage, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *DrayError) Unwrap() error {
	return e.Cause
}

// NewError creates a new DrayError.
func NewError(code, message string) *DrayError {
	return &DrayError{Code: code, Message: message}
}

// NewErrorf creates a new DrayError with a formatted message.
func NewErrorf(code, format string, args ...any) *DrayError {
	return &DrayError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithStage attaches the pipeline stage name to the error.
func (e *DrayError) WithStage(stage string) *DrayError {
	e.Stage = stage
	return e
}

// WithCause attaches an underlying cause.
func (e *DrayError) WithCause(err error) *DrayError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *DrayError) WithDetails(details map[string]any) *DrayError {
	e.Details = details
	return e
}

// IsFatal reports whether the error aborts the remaining pipeline.
// Soft conditions (missing confirmation prompt, poll timeout) halt or
// degrade without being treated as crashes by the caller.
func (e *DrayError) IsFatal() bool {
	switch e.Code {
	case ErrCodeConfirmationNotFound, ErrCodePollTimedOut:
		return false
	}
	return true
}
