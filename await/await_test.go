package await_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polarisops/gcp-common/await"
)

func TestUntilSucceedsAfterRetries(t *testing.T) {
	attempts := 0
	err := await.Until(context.Background(), func(context.Context) bool {
		attempts++
		return attempts >= 3
	}, await.WithInterval(time.Millisecond), await.WithTimeout(time.Second))

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestUntilNoErrorTimesOutWithLastError(t *testing.T) {
	boom := errors.New("still failing")
	err := await.UntilNoError(context.Background(), func(context.Context) error {
		return boom
	}, await.WithInterval(time.Millisecond), await.WithTimeout(10*time.Millisecond))

	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
}

func TestUntilRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := await.Until(ctx, func(context.Context) bool {
		return false
	}, await.WithInterval(time.Millisecond))

	assert.ErrorIs(t, err, context.Canceled)
}
