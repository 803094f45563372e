package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{name: "not found", err: NotFound("block order %s", "abc"), want: NotFoundError},
		{name: "wrapped twice", err: fmt.Errorf("outer: %w", Validation("bad price")), want: ValidationError},
		{name: "upstream", err: Upstream(stderrors.New("dial"), "relayer"), want: UpstreamUnavailableError},
		{name: "plain", err: stderrors.New("boom"), want: InternalError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CodeOf(tt.err))
			assert.True(t, Is(tt.err, tt.want))
		})
	}
}

func TestWrapNil(t *testing.T) {
	assert.NoError(t, Wrap(InternalError, nil, "nothing"))
}

func TestWrapKeepsCauseAndStack(t *testing.T) {
	cause := stderrors.New("connection refused")
	err := Upstream(cause, "engine %s", "BTC")

	require.Error(t, err)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "engine BTC: connection refused", err.Error())

	var e *Error
	require.ErrorAs(t, err, &e)
	assert.NotEmpty(t, e.StackTrace())
}

func TestTracerFromError(t *testing.T) {
	tracer := TracerFromError(stderrors.New("disk full"))
	assert.Equal(t, "disk full", tracer.Error())
	assert.NotNil(t, tracer.StackTrace())
}
