package integration

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected ErrorKind
	}{
		{"sync error carries kind", NewSyncError(KindPermanentPayload, "parse", errors.New("bad")), KindPermanentPayload},
		{"wrapped sync error", fmt.Errorf("outer: %w", NewSyncError(KindRejected, "verify", nil)), KindRejected},
		{"retryable credential error", NewCredentialError("refresh", true, errors.New("timeout")), KindTransient},
		{"permanent credential error", NewCredentialError("decrypt", false, ErrCiphertextCorrupted), KindCredentialInvalid},
		{"invalid signature", ErrInvalidSignature, KindRejected},
		{"malformed payload", fmt.Errorf("x: %w", ErrMalformedPayload), KindPermanentPayload},
		{"connection not found", ErrConnectionNotFound, KindUnknownTarget},
		{"auth failed", ErrPlatformAuthFailed, KindCredentialInvalid},
		{"resource deleted upstream", fmt.Errorf("fetch: %w", ErrResourceNotFound), KindPermanentPayload},
		{"deadline", context.DeadlineExceeded, KindTransient},
		{"rate limited", ErrPlatformRateLimited, KindTransient},
		{"rejected request", fmt.Errorf("%w: shopify: HTTP 422", ErrPlatformRequestFailed), KindPermanentPayload},
		{"undecodable response", fmt.Errorf("%w: square order: eof", ErrPlatformInvalidResponse), KindPermanentPayload},
		{"unclassified", errors.New("boom"), KindTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, KindOf(tt.err))
		})
	}

	assert.Equal(t, ErrorKind(""), KindOf(nil))
}

func TestErrorKind_HTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusUnauthorized, KindRejected.HTTPStatus(RetrySane))
	assert.Equal(t, http.StatusUnauthorized, KindRejected.HTTPStatus(RetryAggressive))
	assert.Equal(t, http.StatusOK, KindPermanentPayload.HTTPStatus(RetrySane))
	assert.Equal(t, http.StatusNotFound, KindUnknownTarget.HTTPStatus(RetrySane))
	assert.Equal(t, http.StatusServiceUnavailable, KindTransient.HTTPStatus(RetrySane))
	assert.Equal(t, http.StatusOK, KindTransient.HTTPStatus(RetryAggressive))
	assert.Equal(t, http.StatusOK, KindCredentialInvalid.HTTPStatus(RetrySane))
}

func TestKindOf_ClientErrorsAreNotRedelivered(t *testing.T) {
	err := fmt.Errorf("fetch order: %w", fmt.Errorf("%w: shopify: HTTP 409", ErrPlatformRequestFailed))
	assert.False(t, IsRetryable(err))
	assert.Equal(t, http.StatusOK, KindOf(err).HTTPStatus(RetrySane))
}

func TestCredentialError(t *testing.T) {
	err := NewCredentialError("refresh", false, ErrNoRefreshToken)
	assert.ErrorIs(t, err, ErrNoRefreshToken)
	assert.Contains(t, err.Error(), "permanent")
	assert.False(t, IsRetryable(err))

	retry := NewCredentialError("refresh", true, ErrPlatformUnavailable)
	assert.Contains(t, retry.Error(), "retryable")
	assert.True(t, IsRetryable(retry))
}
