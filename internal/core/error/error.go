package errx

import (
	"errors"
	"fmt"
	"net/http"
)

const (
	// SystemErrorMessage is a user-facing fallback when internal errors occur.
	SystemErrorMessage = "internal server error"
	// RedisErrorMessage describes Redis related failures.
	RedisErrorMessage = "redis operation failed"
	// RedisNotFoundMessage describes a missing Redis key or member.
	RedisNotFoundMessage = "resource not found"
)

// Code is a machine-stable error code carried in every error response.
type Code string

const (
	// Validation
	CodeInvalidInput         Code = "INVALID_INPUT"
	CodeMissingRequiredField Code = "MISSING_REQUIRED_FIELD"
	CodeInvalidImageFormat   Code = "INVALID_IMAGE_FORMAT"
	CodeImageTooLarge        Code = "IMAGE_TOO_LARGE"
	CodeInvalidBase64        Code = "INVALID_BASE64"

	// Analysis
	CodeNoFoodDetected   Code = "NO_FOOD_DETECTED"
	CodeConfidenceTooLow Code = "ANALYSIS_CONFIDENCE_TOO_LOW"

	// External services
	CodeModelAPIError     Code = "MODEL_API_ERROR"
	CodeRateLimitExceeded Code = "API_RATE_LIMIT_EXCEEDED"
	CodeServiceTimeout    Code = "EXTERNAL_SERVICE_TIMEOUT"
	CodeAPIKeyInvalid     Code = "API_KEY_INVALID"

	// System
	CodeInternal           Code = "INTERNAL_SERVER_ERROR"
	CodeDatabaseError      Code = "DATABASE_ERROR"
	CodeConfigurationError Code = "CONFIGURATION_ERROR"
	CodeEnvVariableMissing Code = "ENV_VARIABLE_MISSING"
	CodeNotFound           Code = "NOT_FOUND"
)

// Severity classifies how loudly an error should be logged.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Detail carries field-level information for validation errors.
type Detail struct {
	Field      string `json:"field,omitempty"`
	Value      any    `json:"value,omitempty"`
	Constraint string `json:"constraint,omitempty"`
	Suggestion string `json:"suggestion,omitempty"`
}

// Error wraps an underlying error with a stable code, HTTP status, severity
// and a message safe to show to clients.
type Error struct {
	Err        error
	Code       Code
	Status     int
	Severity   Severity
	Message    string
	Details    []Detail
	RetryAfter int // seconds; only set for rate-limit style failures
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

// Unwrap exposes the underlying error for errors.Is / errors.As support.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether the target matches the underlying error or the Error itself.
func (e *Error) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// As allows casting to Error or the wrapped error in a chain.
func (e *Error) As(target any) bool {
	if errors.As(e.Err, target) {
		return true
	}
	if t, ok := target.(**Error); ok {
		*t = e
		return true
	}
	return false
}

var statusByCode = map[Code]int{
	CodeInvalidInput:         http.StatusBadRequest,
	CodeMissingRequiredField: http.StatusBadRequest,
	CodeInvalidImageFormat:   http.StatusBadRequest,
	CodeInvalidBase64:        http.StatusBadRequest,
	CodeNoFoodDetected:       http.StatusBadRequest,
	CodeImageTooLarge:        http.StatusRequestEntityTooLarge,
	CodeConfidenceTooLow:     http.StatusUnprocessableEntity,
	CodeRateLimitExceeded:    http.StatusTooManyRequests,
	CodeNotFound:             http.StatusNotFound,
	CodeInternal:             http.StatusInternalServerError,
	CodeDatabaseError:        http.StatusInternalServerError,
	CodeModelAPIError:        http.StatusBadGateway,
	CodeServiceTimeout:       http.StatusBadGateway,
	CodeConfigurationError:   http.StatusServiceUnavailable,
	CodeEnvVariableMissing:   http.StatusServiceUnavailable,
	CodeAPIKeyInvalid:        http.StatusServiceUnavailable,
}

var severityByCode = map[Code]Severity{
	CodeInvalidInput:         SeverityLow,
	CodeMissingRequiredField: SeverityLow,
	CodeInvalidImageFormat:   SeverityLow,
	CodeInvalidBase64:        SeverityLow,
	CodeImageTooLarge:        SeverityMedium,
	CodeNoFoodDetected:       SeverityLow,
	CodeConfidenceTooLow:     SeverityMedium,
	CodeModelAPIError:        SeverityHigh,
	CodeRateLimitExceeded:    SeverityMedium,
	CodeServiceTimeout:       SeverityHigh,
	CodeAPIKeyInvalid:        SeverityCritical,
	CodeNotFound:             SeverityLow,
	CodeInternal:             SeverityHigh,
	CodeDatabaseError:        SeverityHigh,
	CodeConfigurationError:   SeverityCritical,
	CodeEnvVariableMissing:   SeverityCritical,
}

// StatusFor returns the HTTP status mapped to a code, defaulting to 500.
func StatusFor(code Code) int {
	if s, ok := statusByCode[code]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// SeverityFor returns the log severity mapped to a code, defaulting to MEDIUM.
func SeverityFor(code Code) Severity {
	if s, ok := severityByCode[code]; ok {
		return s
	}
	return SeverityMedium
}

// New creates an Error for the given code, deriving status and severity.
func New(err error, code Code, message string) *Error {
	return &Error{
		Err:      err,
		Code:     code,
		Status:   StatusFor(code),
		Severity: SeverityFor(code),
		Message:  message,
	}
}

// Validation creates a field-level validation error.
func Validation(code Code, message string, d Detail) *Error {
	e := New(nil, code, message)
	if d != (Detail{}) {
		e.Details = append(e.Details, d)
	}
	return e
}

// Internal wraps an unexpected error with the generic system message.
func Internal(err error) *Error {
	return New(err, CodeInternal, SystemErrorMessage)
}

// EnvVariableMissing reports a required environment variable that is not set.
func EnvVariableMissing(name string) *Error {
	return New(nil, CodeEnvVariableMissing,
		fmt.Sprintf("required environment variable %q is not set", name))
}

// From extracts an *Error from err, wrapping unknown errors as internal.
func From(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Internal(err)
}
