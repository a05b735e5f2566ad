package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorFormatting(t *testing.T) {
	t.Parallel()

	err := &Error{
		Domain:    LifecycleDomain,
		Operation: "Initialize",
		Code:      LifecycleErrFactory,
		Message:   "service failed",
		Original:  fmt.Errorf("connection refused"),
	}
	assert.Equal(t,
		"[lifecycle.Initialize] Code="+LifecycleErrFactory+": service failed: connection refused",
		err.Error())
}

func TestWrapPreservesCode(t *testing.T) {
	t.Parallel()

	base := NewLifecycleError(LifecycleErrNotReady, "service is not ready", nil)
	wrapped := Wrap(base, "lookup failed")

	var domainErr *Error
	require.ErrorAs(t, wrapped, &domainErr)
	assert.Equal(t, LifecycleErrNotReady, domainErr.Code)
	assert.Equal(t, "lookup failed", domainErr.Message)
}

func TestUnwrapChain(t *testing.T) {
	t.Parallel()

	original := fmt.Errorf("disk full")
	err := NewBundleError(BundleErrStart, "failed to start instance", original)

	assert.True(t, Is(err, original))
	assert.Equal(t, original, Unwrap(err))
}

func TestWrapNil(t *testing.T) {
	t.Parallel()

	assert.Nil(t, Wrap(nil, "irrelevant"))
	assert.Nil(t, WrapWithOperation(nil, "Op"))
	assert.Nil(t, WithStack(nil))
}

func TestWrapWithField(t *testing.T) {
	t.Parallel()

	err := WrapWithField(fmt.Errorf("boom"), "service", "db")
	var domainErr *Error
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, "db", domainErr.Fields["service"])

	// Wrapping again must not mutate the first error's fields
	again := WrapWithField(err, "bundle", "stack")
	require.ErrorAs(t, again, &domainErr)
	assert.Equal(t, "stack", domainErr.Fields["bundle"])

	require.ErrorAs(t, err, &domainErr)
	assert.NotContains(t, domainErr.Fields, "bundle")
}
