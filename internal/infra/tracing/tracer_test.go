package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestInitTracerInstallsGlobalProvider(t *testing.T) {
	ctx := context.Background()
	tp, err := InitTracer(ctx, CLIService, "http://127.0.0.1:4318/v1/traces")
	require.NoError(t, err)
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	assert.Same(t, tp, otel.GetTracerProvider())
}

func TestHostsReportDistinctServiceNames(t *testing.T) {
	assert.NotEqual(t, WorkerService, CLIService)
}
