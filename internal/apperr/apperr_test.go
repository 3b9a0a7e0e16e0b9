package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorIsMatchesOnCode(t *testing.T) {
	cause := errors.New("read /dev/urandom: EOF")
	wrapped := Wrap(KindUnavailable, CodeEntropyUnavailable, "entropy source unavailable", cause)

	assert.ErrorIs(t, wrapped, ErrEntropyUnavailable)
	assert.ErrorIs(t, wrapped, cause)
	assert.NotErrorIs(t, wrapped, ErrStorageUnavailable)

	outer := fmt.Errorf("issue key: %w", wrapped)
	assert.ErrorIs(t, outer, ErrEntropyUnavailable)
	assert.Equal(t, KindUnavailable, KindOf(outer))
	assert.Equal(t, CodeEntropyUnavailable, CodeOf(outer))
}

func TestKindOfUnknownError(t *testing.T) {
	err := errors.New("boom")

	assert.Equal(t, KindInternal, KindOf(err))
	assert.Equal(t, CodeInternal, CodeOf(err))
	assert.Equal(t, "internal error", PublicMessage(err))
}

func TestPublicMessageDropsCause(t *testing.T) {
	err := Wrap(KindUnavailable, CodeStorageUnavailable, "storage unavailable", errors.New("dial tcp 10.0.0.7:5432: refused"))

	assert.Equal(t, "storage unavailable", PublicMessage(err))
	assert.Contains(t, err.Error(), "10.0.0.7")
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{ErrMissingField, http.StatusBadRequest},
		{ErrMalformedRequest, http.StatusBadRequest},
		{ErrInvalidKey, http.StatusForbidden},
		{ErrInsufficientBalance, http.StatusUnprocessableEntity},
		{ErrRecipientNotFound, http.StatusNotFound},
		{ErrAccountExists, http.StatusConflict},
		{ErrStorageUnavailable, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(CodeOf(tt.err)), func(t *testing.T) {
			assert.Equal(t, tt.status, HTTPStatus(KindOf(tt.err)))
		})
	}
}

func TestRetryable(t *testing.T) {
	assert.True(t, KindUnavailable.Retryable())
	assert.False(t, KindAuthorization.Retryable())
	assert.False(t, KindValidation.Retryable())
}
