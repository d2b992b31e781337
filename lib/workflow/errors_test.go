package workflow

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	err := Errorf(KindAuth, "login", "credentials rejected for %q", "alice")
	require.Equal(t, KindAuth, KindOf(err))

	wrapped := fmt.Errorf("run account: %w", err)
	require.Equal(t, KindAuth, KindOf(wrapped))

	require.Equal(t, KindInternal, KindOf(errors.New("some other error")))
	require.Equal(t, KindInternal, KindOf(nil))
}

func TestRetryable(t *testing.T) {
	require.True(t, Retryable(KindTimeout))
	require.False(t, Retryable(KindAuth))
	require.False(t, Retryable(KindNotFound))
	require.False(t, Retryable(KindValidation))
}

func TestErrorUnwrap(t *testing.T) {
	inner := errors.New("connection reset")
	err := Wrap(KindTimeout, "wait for dashboard", inner)
	require.ErrorIs(t, err, inner)
	require.Contains(t, err.Error(), "wait for dashboard")
}
