package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/joshuajerin/cv-opus-hackathon/pkg/config"
)

func TestInitDisabled(t *testing.T) {
	for _, cfg := range []config.TelemetryConfig{
		{Enabled: false, OTLPEndpoint: "localhost:4317"},
		{Enabled: true},
	} {
		shutdown, err := Init(context.Background(), cfg, zap.NewNop())
		require.NoError(t, err)
		assert.NoError(t, shutdown(context.Background()))
	}
}
