package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/agentgraph/config"
)

func TestInitDisabled(t *testing.T) {
	t.Parallel()

	providers, err := Init(config.TelemetryConfig{Enabled: false}, zap.NewNop())
	require.NoError(t, err)
	require.NotNil(t, providers)

	assert.NoError(t, providers.Shutdown(context.Background()))
}

func TestBuildVersionNonEmpty(t *testing.T) {
	t.Parallel()

	assert.NotEmpty(t, buildVersion())
}
