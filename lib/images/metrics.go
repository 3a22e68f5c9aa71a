package images

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics instruments the gate's registry operations.
type Metrics struct {
	waitAttempts   metric.Int64Counter
	waitDuration   metric.Float64Histogram
	pullsTotal     metric.Int64Counter
	pullDuration   metric.Float64Histogram
	pulledBytes    metric.Int64Counter
	verifyFailures metric.Int64Counter
}

// NewMetrics creates a new Metrics instance.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	waitAttempts, err := meter.Int64Counter(
		"pullgate_wait_attempts_total",
		metric.WithDescription("Total number of registry availability probes"),
	)
	if err != nil {
		return nil, err
	}

	waitDuration, err := meter.Float64Histogram(
		"pullgate_wait_duration_seconds",
		metric.WithDescription("Time spent waiting for an image to become available"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	pullsTotal, err := meter.Int64Counter(
		"pullgate_pulls_total",
		metric.WithDescription("Total number of image pulls, including cache hits"),
	)
	if err != nil {
		return nil, err
	}

	pullDuration, err := meter.Float64Histogram(
		"pullgate_pull_duration_seconds",
		metric.WithDescription("Time to pull an image into the local store"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	pulledBytes, err := meter.Int64Counter(
		"pullgate_pulled_bytes_total",
		metric.WithDescription("Total compressed bytes fetched from registries"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, err
	}

	verifyFailures, err := meter.Int64Counter(
		"pullgate_verify_failures_total",
		metric.WithDescription("Total number of image verification failures"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		waitAttempts:   waitAttempts,
		waitDuration:   waitDuration,
		pullsTotal:     pullsTotal,
		pullDuration:   pullDuration,
		pulledBytes:    pulledBytes,
		verifyFailures: verifyFailures,
	}, nil
}

// RecordWait records one availability wait, successful or not.
func (m *Metrics) RecordWait(ctx context.Context, ref string, attempts int, elapsed time.Duration, available bool) {
	attrs := metric.WithAttributes(
		attribute.String("ref", ref),
		attribute.Bool("available", available),
	)
	m.waitAttempts.Add(ctx, int64(attempts), attrs)
	m.waitDuration.Record(ctx, elapsed.Seconds(), attrs)
}

// RecordPull records one pull, cache hit or fetch.
func (m *Metrics) RecordPull(ctx context.Context, ref string, cached bool, sizeBytes int64, elapsed time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("ref", ref),
		attribute.Bool("cached", cached),
	)
	m.pullsTotal.Add(ctx, 1, attrs)
	m.pullDuration.Record(ctx, elapsed.Seconds(), attrs)
	if !cached {
		m.pulledBytes.Add(ctx, sizeBytes, attrs)
	}
}

// RecordVerifyFailure counts a failed verification.
func (m *Metrics) RecordVerifyFailure(ctx context.Context, ref string) {
	m.verifyFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("ref", ref)))
}
