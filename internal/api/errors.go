package api

import (
	"encoding/json"
	stderrors "errors"
	"net/http"

	"github.com/pbt-oracle/internal/batch"
	"github.com/pbt-oracle/internal/errors"
	"github.com/pbt-oracle/internal/types"
)

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error types.ServiceError `json:"error"`
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, statusCode int, code, message string, details map[string]interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := ErrorResponse{
		Error: types.ServiceError{
			Code:    code,
			Message: message,
			Details: details,
		},
	}

	_ = json.NewEncoder(w).Encode(response)
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// maxBodyBytes bounds a request body
const maxBodyBytes = 8 * 1024 * 1024

// parseJSONBody parses JSON request body.
func parseJSONBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	return decoder.Decode(v)
}

// Common error codes
const (
	ErrCodeInvalidInput       = "INVALID_INPUT"
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeRateLimitExceeded  = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternalError      = "INTERNAL_ERROR"
	ErrCodeServiceUnavailable = "SERVICE_UNAVAILABLE"
)

// mapServiceError maps errors to HTTP status codes. Messages of server-side
// failures are not exposed.
func mapServiceError(err error) (int, string, string) {
	if stderrors.Is(err, batch.ErrPaceDeadline) {
		return http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "Oracle is busy, retry later"
	}
	catErr := errors.Categorize(err)
	status := catErr.StatusCode
	if status == 0 {
		status = http.StatusInternalServerError
	}

	switch {
	case status == http.StatusNotFound:
		return status, ErrCodeNotFound, catErr.Message
	case status >= 400 && status < 500:
		return status, catErr.Code, catErr.Message
	case status == http.StatusServiceUnavailable || status == http.StatusGatewayTimeout:
		return status, ErrCodeServiceUnavailable, catErr.Message
	default:
		return http.StatusInternalServerError, ErrCodeInternalError, "An internal error occurred"
	}
}
