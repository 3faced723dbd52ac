package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestNew_RejectsUnknownLevel(t *testing.T) {
	_, err := New("prod", "loud")
	require.Error(t, err)
}

func TestNew_ParsesLevel(t *testing.T) {
	logger, err := New("prod", "warn")
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zap.InfoLevel))
	assert.True(t, logger.Core().Enabled(zap.WarnLevel))
}

func TestFromContext_AddsCorrelationID(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	base := zap.New(core)

	ctx := WithCorrelationID(context.Background(), "cid-1")
	FromContext(ctx, base).Info("hello")

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "cid-1", logs.All()[0].ContextMap()["correlation_id"])
}

func TestFromContext_NoFieldsReturnsSameLogger(t *testing.T) {
	base := zap.NewNop()
	assert.Same(t, base, FromContext(context.Background(), base))
}
