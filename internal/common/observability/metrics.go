// Package observability records OpenTelemetry metrics for the job workers and the delivery loop,
// exported through the prometheus registry served on /metrics.
package observability

import (
	"context"
	"log"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/metric"
)

type Observability struct {
	meterProvider *metric.MeterProvider
	jobs          otelmetric.Int64Counter
	jobDuration   otelmetric.Float64Histogram
	batchSize     otelmetric.Int64Histogram
	deliveries    otelmetric.Int64Counter
}

func New(serviceName string) *Observability {
	exporter, err := prometheus.New()
	if err != nil {
		log.Printf("Failed to create Prometheus exporter: %v", err)
		return Noop()
	}

	provider := metric.NewMeterProvider(metric.WithReader(exporter))
	otel.SetMeterProvider(provider)
	meter := provider.Meter(serviceName)

	o := &Observability{meterProvider: provider}
	o.jobs, _ = meter.Int64Counter("jobs.processed",
		otelmetric.WithDescription("Jobs handled per task type and outcome"))
	o.jobDuration, _ = meter.Float64Histogram("jobs.duration",
		otelmetric.WithDescription("Job handling time"),
		otelmetric.WithUnit("ms"))
	o.batchSize, _ = meter.Int64Histogram("delivery.batch_size",
		otelmetric.WithDescription("Notifications claimed per delivery pass"))
	o.deliveries, _ = meter.Int64Counter("delivery.outcomes",
		otelmetric.WithDescription("Claimed notifications by channel and result"))
	return o
}

// Noop records nothing. Tests use it, and New falls back to it when the exporter fails.
func Noop() *Observability {
	return &Observability{}
}

func (o *Observability) RecordJob(ctx context.Context, taskType, status string, took time.Duration) {
	if o == nil || o.jobs == nil {
		return
	}
	attrs := otelmetric.WithAttributes(
		attribute.String("task_type", taskType),
		attribute.String("status", status),
	)
	o.jobs.Add(ctx, 1, attrs)
	o.jobDuration.Record(ctx, float64(took.Milliseconds()), attrs)
}

func (o *Observability) RecordDeliveryBatch(ctx context.Context, claimed int) {
	if o == nil || o.batchSize == nil {
		return
	}
	o.batchSize.Record(ctx, int64(claimed))
}

func (o *Observability) RecordDelivery(ctx context.Context, channel, result string) {
	if o == nil || o.deliveries == nil {
		return
	}
	o.deliveries.Add(ctx, 1, otelmetric.WithAttributes(
		attribute.String("channel", channel),
		attribute.String("result", result),
	))
}

func (o *Observability) Shutdown() {
	if o == nil || o.meterProvider == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = o.meterProvider.Shutdown(ctx)
}
