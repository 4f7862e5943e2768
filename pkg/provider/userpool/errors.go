package userpool

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Error codes the user-pool API returns. The adapter interprets only the
// ones that change classification; everything else passes through for the
// UI layer to inspect.
const (
	ErrorCodeNotAuthorized     = "not_authorized"
	ErrorCodeUserNotFound      = "user_not_found"
	ErrorCodeUserNotConfirmed  = "user_not_confirmed"
	ErrorCodeUsernameExists    = "username_exists"
	ErrorCodeCodeMismatch      = "code_mismatch"
	ErrorCodeInvalidPassword   = "invalid_password"
	ErrorCodeInvalidParameter  = "invalid_parameter"
	ErrorCodeLimitExceeded     = "limit_exceeded"
	ErrorCodeExpiredToken      = "expired_token"
	ErrorCodeInternal          = "internal_error"
	ErrorCodeInvalidCredential = "invalid_credential"
)

// APIError is the typed error for every non-success user-pool response.
type APIError struct {
	// StatusCode is the HTTP status the API answered with.
	StatusCode int `json:"-"`

	// Code identifies the failure class, e.g. "not_authorized".
	Code string `json:"code"`

	// Message is the human-readable detail.
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Expired reports whether the error denotes a token past its lifetime.
func (e *APIError) Expired() bool {
	return e.Code == ErrorCodeExpiredToken
}

// AsAPIError unwraps err into an *APIError when possible.
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// parseAPIError turns a non-success response body into a typed error,
// falling back to a generic error when the body is not the expected shape.
func parseAPIError(statusCode int, body []byte) *APIError {
	var apiErr APIError
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Code != "" {
		apiErr.StatusCode = statusCode
		return &apiErr
	}
	return &APIError{
		StatusCode: statusCode,
		Code:       ErrorCodeInternal,
		Message:    fmt.Sprintf("HTTP %d: %s", statusCode, http.StatusText(statusCode)),
	}
}
