package observability

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDisabledWithoutEndpoint(t *testing.T) {
	p, err := New(context.Background(), &Config{})
	require.NoError(t, err)

	assert.Nil(t, p.tracerProvider)
	assert.Nil(t, p.meterProvider)
	assert.NotNil(t, p.Tracer())
	assert.NotNil(t, p.Meter())
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestTrackOperationNoop(t *testing.T) {
	p, err := New(context.Background(), nil)
	require.NoError(t, err)

	ctx, done := p.TrackOperation(context.Background(), "ingest_cycle")
	require.NotNil(t, ctx)
	done(nil)

	_, done = p.TrackOperation(context.Background(), "ingest_cycle")
	done(errors.New("upstream unavailable"))
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Empty(t, cfg.OTLPEndpoint)
	assert.Equal(t, 1.0, cfg.SampleRate)
	assert.True(t, cfg.Insecure)
}
