package images

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestMetricsRecord(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	meter := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)).Meter("test")

	metrics, err := NewMetrics(meter)
	require.NoError(t, err)

	ctx := context.Background()
	metrics.RecordWait(ctx, "registry.example.com/ci/base:3.10", 3, 2*time.Second, true)
	metrics.RecordPull(ctx, "registry.example.com/ci/base:3.10", false, 4096, time.Second)
	metrics.RecordPull(ctx, "registry.example.com/ci/base:3.10", true, 4096, time.Millisecond)
	metrics.RecordVerifyFailure(ctx, "registry.example.com/ci/base:3.10")

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	require.NotEmpty(t, rm.ScopeMetrics)

	names := map[string]bool{}
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			names[m.Name] = true
		}
	}
	require.True(t, names["pullgate_wait_attempts_total"])
	require.True(t, names["pullgate_wait_duration_seconds"])
	require.True(t, names["pullgate_pulls_total"])
	require.True(t, names["pullgate_pulled_bytes_total"])
	require.True(t, names["pullgate_verify_failures_total"])
}
