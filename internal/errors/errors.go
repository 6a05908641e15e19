package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/pbt-oracle/internal/types"
)

// ErrorCategory represents the category of an error
type ErrorCategory string

const (
	// CategoryUserInput represents user input errors (4xx)
	CategoryUserInput ErrorCategory = "user_input"
	// CategorySystem represents system errors (5xx)
	CategorySystem ErrorCategory = "system"
	// CategoryBackend represents failures reported by the proof-assistant backend
	CategoryBackend ErrorCategory = "backend"
	// CategorySampling represents input-generation errors
	CategorySampling ErrorCategory = "sampling"
	// CategoryProver represents language-model prover errors
	CategoryProver ErrorCategory = "prover"
	// CategoryDatabase represents database errors
	CategoryDatabase ErrorCategory = "database"
	// CategoryCache represents cache errors
	CategoryCache ErrorCategory = "cache"
	// CategoryValidation represents validation errors
	CategoryValidation ErrorCategory = "validation"
	// CategoryNotFound represents not found errors
	CategoryNotFound ErrorCategory = "not_found"
	// CategoryRateLimit represents rate limit errors
	CategoryRateLimit ErrorCategory = "rate_limit"
)

// Error codes used across packages
const (
	CodeScriptError       = "SCRIPT_ERROR"
	CodeScriptTimeout     = "SCRIPT_TIMEOUT"
	CodeSamplingExhausted = "SAMPLING_EXHAUSTED"
	CodeNoGenerator       = "NO_GENERATOR"
	CodeProverError       = "PROVER_ERROR"
	CodeInvalidRecord     = "INVALID_RECORD"
	CodeInvalidSignature  = "INVALID_SIGNATURE"
	CodeConfigError       = "CONFIG_ERROR"
)

// CategorizedError represents an error with category and HTTP status code
type CategorizedError struct {
	Category   ErrorCategory
	StatusCode int
	Code       string
	Message    string
	Details    map[string]interface{}
	Cause      error
}

// Error implements the error interface
func (e *CategorizedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause
func (e *CategorizedError) Unwrap() error {
	return e.Cause
}

// ToServiceError converts to a ServiceError
func (e *CategorizedError) ToServiceError() *types.ServiceError {
	return &types.ServiceError{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
	}
}

// Detail returns a string detail value or the empty string
func (e *CategorizedError) Detail(key string) string {
	if e.Details == nil {
		return ""
	}
	if s, ok := e.Details[key].(string); ok {
		return s
	}
	return ""
}

// Backend Errors

// NewScriptError creates an error for a backend run that exited unsuccessfully.
// The script text and both output streams are carried for diagnosis.
func NewScriptError(script, stdout, stderr string, exitCode int) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryBackend,
		StatusCode: http.StatusUnprocessableEntity,
		Code:       CodeScriptError,
		Message:    fmt.Sprintf("script exited with code %d", exitCode),
		Details: map[string]interface{}{
			"script":   script,
			"stdout":   stdout,
			"stderr":   stderr,
			"exitCode": exitCode,
		},
	}
}

// NewTimeoutError creates an error for a backend run that exceeded its deadline
func NewTimeoutError(script string, timeout fmt.Stringer, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryBackend,
		StatusCode: http.StatusGatewayTimeout,
		Code:       CodeScriptTimeout,
		Message:    fmt.Sprintf("script exceeded timeout of %s", timeout),
		Cause:      cause,
		Details: map[string]interface{}{
			"script":  script,
			"timeout": timeout.String(),
		},
	}
}

// NewBackendUnavailableError creates an error for a backend that could not be started
func NewBackendUnavailableError(command string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategorySystem,
		StatusCode: http.StatusServiceUnavailable,
		Code:       "BACKEND_UNAVAILABLE",
		Message:    fmt.Sprintf("backend unavailable: %s", command),
		Cause:      cause,
		Details: map[string]interface{}{
			"command": command,
		},
	}
}

// Sampling Errors

// NewSamplingExhaustedError creates an error for a sampler that ran out of attempts
func NewSamplingExhaustedError(typeName string, collected, wanted int) *CategorizedError {
	return &CategorizedError{
		Category:   CategorySampling,
		StatusCode: http.StatusUnprocessableEntity,
		Code:       CodeSamplingExhausted,
		Message:    fmt.Sprintf("sampling %s collected %d of %d values", typeName, collected, wanted),
		Details: map[string]interface{}{
			"type":      typeName,
			"collected": collected,
			"wanted":    wanted,
		},
	}
}

// NewNoGeneratorError creates an error for a type the backend cannot sample
func NewNoGeneratorError(typeName string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategorySampling,
		StatusCode: http.StatusUnprocessableEntity,
		Code:       CodeNoGenerator,
		Message:    fmt.Sprintf("no generator for type %s", typeName),
		Cause:      cause,
		Details: map[string]interface{}{
			"type": typeName,
		},
	}
}

// Prover Errors

// NewProverError creates a language-model prover error
func NewProverError(model string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryProver,
		StatusCode: http.StatusBadGateway,
		Code:       CodeProverError,
		Message:    fmt.Sprintf("prover error: %s", model),
		Cause:      cause,
		Details: map[string]interface{}{
			"model": model,
		},
	}
}

// User Input Errors (4xx)

// NewInvalidRecordError creates an error for a malformed input record
func NewInvalidRecordError(field string, reason string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryValidation,
		StatusCode: http.StatusBadRequest,
		Code:       CodeInvalidRecord,
		Message:    fmt.Sprintf("invalid record field '%s': %s", field, reason),
		Details: map[string]interface{}{
			"field":  field,
			"reason": reason,
		},
	}
}

// NewInvalidSignatureError creates an error for a signature that declares no parameters
func NewInvalidSignatureError(signature string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryUserInput,
		StatusCode: http.StatusBadRequest,
		Code:       CodeInvalidSignature,
		Message:    "signature declares no typed parameters",
		Details: map[string]interface{}{
			"signature": signature,
		},
	}
}

// NewNotFoundError creates a not found error
func NewNotFoundError(resource string, id string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryNotFound,
		StatusCode: http.StatusNotFound,
		Code:       "NOT_FOUND",
		Message:    fmt.Sprintf("%s not found: %s", resource, id),
		Details: map[string]interface{}{
			"resource": resource,
			"id":       id,
		},
	}
}

// NewRateLimitError creates a rate limit error
func NewRateLimitError(retryAfter int) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryRateLimit,
		StatusCode: http.StatusTooManyRequests,
		Code:       "RATE_LIMIT_EXCEEDED",
		Message:    "rate limit exceeded",
		Details: map[string]interface{}{
			"retryAfter": retryAfter,
		},
	}
}

// System Errors (5xx)

// NewInternalError creates an internal server error
func NewInternalError(message string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategorySystem,
		StatusCode: http.StatusInternalServerError,
		Code:       "INTERNAL_ERROR",
		Message:    message,
		Cause:      cause,
	}
}

// NewConfigError creates a configuration error
func NewConfigError(key string, reason string) *CategorizedError {
	return &CategorizedError{
		Category:   CategorySystem,
		StatusCode: http.StatusInternalServerError,
		Code:       CodeConfigError,
		Message:    fmt.Sprintf("invalid configuration %s: %s", key, reason),
		Details: map[string]interface{}{
			"key":    key,
			"reason": reason,
		},
	}
}

// NewDatabaseError creates a database error
func NewDatabaseError(operation string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryDatabase,
		StatusCode: http.StatusInternalServerError,
		Code:       "DATABASE_ERROR",
		Message:    fmt.Sprintf("database error during %s", operation),
		Cause:      cause,
		Details: map[string]interface{}{
			"operation": operation,
		},
	}
}

// NewCacheError creates a cache error
func NewCacheError(operation string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryCache,
		StatusCode: http.StatusInternalServerError,
		Code:       "CACHE_ERROR",
		Message:    fmt.Sprintf("cache error during %s", operation),
		Cause:      cause,
		Details: map[string]interface{}{
			"operation": operation,
		},
	}
}

// NewServiceUnavailableError creates a service unavailable error
func NewServiceUnavailableError(service string) *CategorizedError {
	return &CategorizedError{
		Category:   CategorySystem,
		StatusCode: http.StatusServiceUnavailable,
		Code:       "SERVICE_UNAVAILABLE",
		Message:    fmt.Sprintf("service unavailable: %s", service),
		Details: map[string]interface{}{
			"service": service,
		},
	}
}

// Categorize categorizes an existing error
func Categorize(err error) *CategorizedError {
	if err == nil {
		return nil
	}

	// If already categorized (possibly wrapped), return it
	var catErr *CategorizedError
	if stderrors.As(err, &catErr) {
		return catErr
	}

	var svcErr *types.ServiceError
	if stderrors.As(err, &svcErr) {
		return &CategorizedError{
			Category:   CategorySystem,
			StatusCode: http.StatusInternalServerError,
			Code:       svcErr.Code,
			Message:    svcErr.Message,
			Details:    svcErr.Details,
		}
	}

	// Default to internal error
	return NewInternalError("unexpected error", err)
}

func hasCode(err error, codes ...string) bool {
	var catErr *CategorizedError
	if !stderrors.As(err, &catErr) {
		return false
	}
	for _, c := range codes {
		if catErr.Code == c {
			return true
		}
	}
	return false
}

// IsScriptError reports whether err is a backend failure that the oracle
// treats as "not proven". Timeouts count as script errors.
func IsScriptError(err error) bool {
	return hasCode(err, CodeScriptError, CodeScriptTimeout)
}

// IsTimeout reports whether err is a backend timeout
func IsTimeout(err error) bool {
	return hasCode(err, CodeScriptTimeout)
}

// GetHTTPStatusCode returns the HTTP status code for an error
func GetHTTPStatusCode(err error) int {
	if catErr := Categorize(err); catErr != nil {
		return catErr.StatusCode
	}
	return http.StatusInternalServerError
}

// IsRetryable determines if an error is retryable
func IsRetryable(err error) bool {
	catErr := Categorize(err)
	if catErr == nil {
		return false
	}

	// Retryable categories
	switch catErr.Category {
	case CategoryProver, CategoryDatabase, CategoryCache:
		return true
	case CategorySystem:
		// Some system errors are retryable
		return catErr.StatusCode == http.StatusServiceUnavailable ||
			catErr.StatusCode == http.StatusGatewayTimeout
	default:
		return false
	}
}

// IsUserError determines if an error is a user error (4xx)
func IsUserError(err error) bool {
	catErr := Categorize(err)
	if catErr == nil {
		return false
	}

	return catErr.StatusCode >= 400 && catErr.StatusCode < 500
}
