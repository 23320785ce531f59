package observability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisabledProvider(t *testing.T) {
	tp, err := NewTracerProvider(context.Background(), TracingConfig{Enabled: false})
	require.NoError(t, err)
	require.NotNil(t, tp)
	assert.False(t, tp.Enabled())

	ctx, span := tp.Tracer().Start(context.Background(), "chimp.import")
	assert.Len(t, TraceID(ctx), 32)
	span.End()

	require.NoError(t, tp.Shutdown(context.Background()))
}

func TestTraceIDWithoutSpan(t *testing.T) {
	assert.Empty(t, TraceID(context.Background()))
}

func TestShutdownZeroValue(t *testing.T) {
	var tp TracerProvider
	assert.NoError(t, tp.Shutdown(context.Background()))
}
