package logger

import (
	"context"
	"testing"

	"brokerd/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestErrorContextAddsRequestID(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	l := FromZap(zap.New(core))

	ctx := WithRequestID(context.Background(), "req-1")
	l.ErrorContext(ctx, errors.NotFound("block order %s", "X"), NewField("market", "BTC/LTC"))

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "block order X", entry.Message)
	assert.Equal(t, "req-1", entry.ContextMap()["request_id"])
	assert.Equal(t, "BTC/LTC", entry.ContextMap()["market"])
}

func TestWithRequestIDGenerates(t *testing.T) {
	ctx := WithRequestID(context.Background(), "")
	assert.Len(t, RequestID(ctx), 36)
	assert.Empty(t, RequestID(context.Background()))
}

func TestWithFields(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	l := FromZap(zap.New(core)).With(NewField("component", "worker"))

	l.Info("started")
	l.Debug("dropped")

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "worker", logs.All()[0].ContextMap()["component"])
}
