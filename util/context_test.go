package util

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCorrelationIdRoundTrip(t *testing.T) {
	ctx := CorrelationIdToCtx(context.Background(), "abc-123")

	got, err := CorrelationIdFromCtx(ctx)
	require.NoError(t, err)
	assert.Equal(t, "abc-123", got)
}

func TestCorrelationIdMissing(t *testing.T) {
	_, err := CorrelationIdFromCtx(context.Background())
	assert.Error(t, err)
}
