package integration

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ---------------------------------------------------------------------------
// Integration Errors
// ---------------------------------------------------------------------------

var (
	// Marketplace errors
	ErrUnknownMarketplace       = errors.New("integration: unknown marketplace")
	ErrMarketplaceNotConfigured = errors.New("integration: marketplace not configured")
	ErrPlatformUnavailable      = errors.New("integration: platform temporarily unavailable")
	ErrPlatformRequestFailed    = errors.New("integration: platform request failed")
	ErrPlatformInvalidResponse  = errors.New("integration: invalid platform response")
	ErrPlatformAuthFailed       = errors.New("integration: platform authentication failed")
	ErrPlatformRateLimited      = errors.New("integration: platform rate limited")
	ErrResourceNotFound         = errors.New("integration: platform resource not found")
	ErrOperationNotSupported    = errors.New("integration: operation not supported by marketplace")

	// Webhook errors
	ErrInvalidSignature     = errors.New("integration: invalid webhook signature")
	ErrMissingSignature     = errors.New("integration: missing webhook signature")
	ErrUnidentifiedSource   = errors.New("integration: webhook source could not be identified")
	ErrMalformedPayload     = errors.New("integration: malformed webhook payload")
	ErrUnsupportedTopic     = errors.New("integration: unsupported webhook topic")
	ErrDuplicateEvent       = errors.New("integration: event already processed")
	ErrWebhookSecretMissing = errors.New("integration: webhook secret not configured for connection")
	ErrSourceRateLimited    = errors.New("integration: webhook source over rate limit")

	// Connection errors
	ErrConnectionNotFound     = errors.New("integration: connection not found")
	ErrConnectionDisconnected = errors.New("integration: connection is disconnected")
	ErrInvalidUserID          = errors.New("integration: invalid user ID")
	ErrInvalidMarketplace     = errors.New("integration: invalid marketplace")
	ErrInvalidAccessToken     = errors.New("integration: access token is required")
	ErrInvalidExternalStoreID = errors.New("integration: external store ID is required")

	// Credential errors
	ErrNoRefreshToken      = errors.New("integration: connection has no refresh token")
	ErrCiphertextCorrupted = errors.New("integration: credential ciphertext corrupted")
	ErrAuthStateInvalid    = errors.New("integration: authorization state invalid or expired")

	// Unified store errors
	ErrOrderNotFound   = errors.New("integration: unified order not found")
	ErrProductNotFound = errors.New("integration: unified product not found")
	ErrInvalidOrder    = errors.New("integration: invalid order")
	ErrInvalidProduct  = errors.New("integration: invalid product")
)

// ---------------------------------------------------------------------------
// ErrorKind classifies failures so the boundary can map them deterministically
// ---------------------------------------------------------------------------

// ErrorKind is the discriminator carried by every sync failure
type ErrorKind string

const (
	// KindRejected is a signature or authentication failure; never processed, never logged as an attempt
	KindRejected ErrorKind = "REJECTED"
	// KindPermanentPayload is a malformed payload; acknowledged and not retried
	KindPermanentPayload ErrorKind = "PERMANENT_PAYLOAD"
	// KindUnknownTarget is a missing or disconnected connection; acknowledged and not retried
	KindUnknownTarget ErrorKind = "UNKNOWN_TARGET"
	// KindTransient is a network timeout or upstream 5xx; left to provider redelivery or the next sweep
	KindTransient ErrorKind = "TRANSIENT"
	// KindCredentialInvalid is a decrypt or refresh failure scoped to a single connection
	KindCredentialInvalid ErrorKind = "CREDENTIAL_INVALID"
)

// String returns the string representation of ErrorKind
func (k ErrorKind) String() string {
	return string(k)
}

// Retryable reports whether redelivery or a later sweep can succeed
func (k ErrorKind) Retryable() bool {
	return k == KindTransient
}

// HTTPStatus maps an error kind to the webhook response code.
// Providers with aggressive retry behaviour are always acknowledged unless the request was rejected.
func (k ErrorKind) HTTPStatus(policy RetryPolicy) int {
	switch k {
	case KindRejected:
		return http.StatusUnauthorized
	case KindUnknownTarget:
		return http.StatusNotFound
	case KindPermanentPayload, KindCredentialInvalid:
		return http.StatusOK
	case KindTransient:
		if policy == RetryAggressive {
			return http.StatusOK
		}
		return http.StatusServiceUnavailable
	default:
		return http.StatusOK
	}
}

// SyncError is a classified failure raised by the pipeline or the scheduler
type SyncError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

// NewSyncError creates a classified error
func NewSyncError(kind ErrorKind, op string, err error) *SyncError {
	return &SyncError{Kind: kind, Op: op, Err: err}
}

// Error implements the error interface
func (e *SyncError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

// Unwrap returns the underlying error
func (e *SyncError) Unwrap() error {
	return e.Err
}

// CredentialError is raised by the credential store.
// Retryable distinguishes network/timeout failures from corrupt ciphertext or revoked grants.
type CredentialError struct {
	Op        string
	Retryable bool
	Err       error
}

// NewCredentialError creates a credential error
func NewCredentialError(op string, retryable bool, err error) *CredentialError {
	return &CredentialError{Op: op, Retryable: retryable, Err: err}
}

// Error implements the error interface
func (e *CredentialError) Error() string {
	kind := "permanent"
	if e.Retryable {
		kind = "retryable"
	}
	return fmt.Sprintf("credential %s (%s): %v", e.Op, kind, e.Err)
}

// Unwrap returns the underlying error
func (e *CredentialError) Unwrap() error {
	return e.Err
}

// KindOf derives the ErrorKind of an arbitrary error.
// Unclassified errors are treated as transient so the natural retry path gets a chance.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}

	var syncErr *SyncError
	if errors.As(err, &syncErr) {
		return syncErr.Kind
	}

	var credErr *CredentialError
	if errors.As(err, &credErr) {
		if credErr.Retryable {
			return KindTransient
		}
		return KindCredentialInvalid
	}

	switch {
	case errors.Is(err, ErrInvalidSignature), errors.Is(err, ErrMissingSignature):
		return KindRejected
	case errors.Is(err, ErrMalformedPayload), errors.Is(err, ErrUnsupportedTopic),
		errors.Is(err, ErrResourceNotFound):
		return KindPermanentPayload
	// A 4xx the provider will answer identically on redelivery, or a body we cannot decode
	case errors.Is(err, ErrPlatformRequestFailed), errors.Is(err, ErrPlatformInvalidResponse):
		return KindPermanentPayload
	case errors.Is(err, ErrConnectionNotFound), errors.Is(err, ErrConnectionDisconnected),
		errors.Is(err, ErrUnknownMarketplace):
		return KindUnknownTarget
	case errors.Is(err, ErrPlatformAuthFailed):
		return KindCredentialInvalid
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled),
		errors.Is(err, ErrPlatformUnavailable), errors.Is(err, ErrPlatformRateLimited):
		return KindTransient
	default:
		return KindTransient
	}
}

// IsRetryable reports whether err should be surfaced for redelivery
func IsRetryable(err error) bool {
	return KindOf(err).Retryable()
}
