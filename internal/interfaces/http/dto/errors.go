package dto

import "net/http"

// Error code constants organized by category
// Format: ERR_<CATEGORY>_<DESCRIPTION>

// General error codes
const (
	ErrCodeUnknown  = "ERR_UNKNOWN"
	ErrCodeInternal = "ERR_INTERNAL"
	// ErrCodeUpstream is used when a marketplace API call failed transiently
	ErrCodeUpstream = "ERR_UPSTREAM"
)

// Validation error codes
const (
	ErrCodeValidation  = "ERR_VALIDATION"
	ErrCodeBadRequest  = "ERR_BAD_REQUEST"
	ErrCodeInvalidJSON = "ERR_INVALID_JSON"
)

// Authentication error codes
const (
	ErrCodeUnauthorized = "ERR_UNAUTHORIZED"
	ErrCodeTokenExpired = "ERR_TOKEN_EXPIRED"
	ErrCodeTokenInvalid = "ERR_TOKEN_INVALID"
)

// Resource error codes
const (
	ErrCodeNotFound = "ERR_NOT_FOUND"
	ErrCodeConflict = "ERR_CONFLICT"
)

// Marketplace connection error codes
const (
	// ErrCodeUnknownMarketplace is used when the path names no supported marketplace
	ErrCodeUnknownMarketplace = "ERR_UNKNOWN_MARKETPLACE"
	// ErrCodeMarketplaceNotConfigured is used when the server has no app credentials for the marketplace
	ErrCodeMarketplaceNotConfigured = "ERR_MARKETPLACE_NOT_CONFIGURED"
	// ErrCodeConnectionNotFound is used when the user never connected the marketplace
	ErrCodeConnectionNotFound = "ERR_CONNECTION_NOT_FOUND"
	// ErrCodeConnectionDisconnected is used for operations that need a live connection
	ErrCodeConnectionDisconnected = "ERR_CONNECTION_DISCONNECTED"
	// ErrCodeAuthStateInvalid is used when an OAuth state is unknown, consumed or expired
	ErrCodeAuthStateInvalid = "ERR_AUTH_STATE_INVALID"
	// ErrCodeCredentialInvalid is used when the marketplace rejected the grant or keys
	ErrCodeCredentialInvalid = "ERR_CREDENTIAL_INVALID"
	// ErrCodeOperationNotSupported is used when the marketplace lacks the requested capability
	ErrCodeOperationNotSupported = "ERR_OPERATION_NOT_SUPPORTED"
)

// Rate limiting error codes
const (
	ErrCodeRateLimited = "ERR_RATE_LIMITED"
	// ErrCodePayloadTooLarge is used when a request body exceeds the configured limit
	ErrCodePayloadTooLarge = "ERR_PAYLOAD_TOO_LARGE"
)

// ErrorCodeHTTPStatus maps error codes to HTTP status codes
var ErrorCodeHTTPStatus = map[string]int{
	ErrCodeUnknown:  http.StatusInternalServerError,
	ErrCodeInternal: http.StatusInternalServerError,
	ErrCodeUpstream: http.StatusBadGateway,

	ErrCodeValidation:  http.StatusBadRequest,
	ErrCodeBadRequest:  http.StatusBadRequest,
	ErrCodeInvalidJSON: http.StatusBadRequest,

	ErrCodeUnauthorized: http.StatusUnauthorized,
	ErrCodeTokenExpired: http.StatusUnauthorized,
	ErrCodeTokenInvalid: http.StatusUnauthorized,

	ErrCodeNotFound: http.StatusNotFound,
	ErrCodeConflict: http.StatusConflict,

	ErrCodeUnknownMarketplace:       http.StatusNotFound,
	ErrCodeMarketplaceNotConfigured: http.StatusServiceUnavailable,
	ErrCodeConnectionNotFound:       http.StatusNotFound,
	ErrCodeConnectionDisconnected:   http.StatusConflict,
	ErrCodeAuthStateInvalid:         http.StatusBadRequest,
	ErrCodeCredentialInvalid:        http.StatusUnprocessableEntity,
	ErrCodeOperationNotSupported:    http.StatusUnprocessableEntity,

	ErrCodeRateLimited:     http.StatusTooManyRequests,
	ErrCodePayloadTooLarge: http.StatusRequestEntityTooLarge,
}

// GetHTTPStatus returns the HTTP status code for an error code
// Returns 500 Internal Server Error if the error code is not found
func GetHTTPStatus(code string) int {
	if status, ok := ErrorCodeHTTPStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}
