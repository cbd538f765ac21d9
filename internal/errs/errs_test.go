package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	err := New(KindNoRouteFound, "no path")
	assert.Equal(t, KindNoRouteFound, KindOf(err))

	wrapped := fmt.Errorf("outer: %w", err)
	assert.Equal(t, KindNoRouteFound, KindOf(wrapped))

	assert.Equal(t, KindInternal, KindOf(errors.New("bare")))
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(New(KindProviderTransient, "5xx")))
	assert.True(t, Retryable(New(KindRateLimited, "429")))
	assert.False(t, Retryable(New(KindProviderPermanent, "400")))
	assert.False(t, Retryable(New(KindProviderAuth, "401")))
	assert.False(t, Retryable(New(KindValidation, "bad input")))
	assert.False(t, Retryable(nil))
}

func TestProviderError_MessageShape(t *testing.T) {
	cause := errors.New("connection reset")
	err := Provider(KindProviderTransient, "kraken", cause, "quote call failed")
	assert.Contains(t, err.Error(), "PROVIDER_TRANSIENT")
	assert.Contains(t, err.Error(), "kraken")
	assert.Contains(t, err.Error(), "connection reset")
	assert.Equal(t, cause, errors.Unwrap(err))
}

func TestIsKind(t *testing.T) {
	err := Wrap(KindFundingFailed, errors.New("fund 500"), "transfer t1")
	assert.True(t, IsKind(err, KindFundingFailed))
	assert.False(t, IsKind(err, KindConfirmationTimeout))
	assert.False(t, IsKind(nil, KindInternal))
}
