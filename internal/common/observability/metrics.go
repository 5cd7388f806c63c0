// internal/common/observability/metrics.go
package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Observability bundles the OTel meter and tracer used around scheduler
// passes and job handling.
type Observability struct {
	meterProvider  *metric.MeterProvider
	tracerProvider *sdktrace.TracerProvider
	meter          otelmetric.Meter
	tracer         trace.Tracer
	passCounter    otelmetric.Int64Counter
	passDuration   otelmetric.Float64Histogram
}

// New registers the global meter and tracer providers. Metrics are exported
// through the default Prometheus registry.
func New(serviceName string) (*Observability, error) {
	tracerProvider := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tracerProvider)

	o := &Observability{
		tracerProvider: tracerProvider,
		tracer:         tracerProvider.Tracer(serviceName),
	}

	exporter, err := prometheus.New()
	if err != nil {
		return o, err
	}

	provider := metric.NewMeterProvider(metric.WithReader(exporter))
	otel.SetMeterProvider(provider)
	o.meterProvider = provider
	o.meter = provider.Meter(serviceName)

	o.passCounter, _ = o.meter.Int64Counter(
		"scheduler.passes",
		otelmetric.WithDescription("Number of reminder scheduler passes"),
	)
	o.passDuration, _ = o.meter.Float64Histogram(
		"scheduler.pass.duration",
		otelmetric.WithDescription("Reminder scheduler pass duration"),
		otelmetric.WithUnit("ms"),
	)
	return o, nil
}

// StartSpan starts a span on the service tracer. A nil receiver falls back
// to the global tracer.
func (o *Observability) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := otel.Tracer("followup-engine")
	if o != nil && o.tracer != nil {
		tracer = o.tracer
	}
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// RecordPass records one scheduler pass.
func (o *Observability) RecordPass(ctx context.Context, duration time.Duration, trigger string, failed bool) {
	if o == nil || o.passCounter == nil {
		return
	}
	attrs := otelmetric.WithAttributes(
		attribute.String("trigger", trigger),
		attribute.Bool("failed", failed),
	)
	o.passCounter.Add(ctx, 1, attrs)
	o.passDuration.Record(ctx, float64(duration.Milliseconds()), attrs)
}

// Shutdown flushes the providers.
func (o *Observability) Shutdown(ctx context.Context) error {
	if o == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var firstErr error
	if o.meterProvider != nil {
		firstErr = o.meterProvider.Shutdown(ctx)
	}
	if o.tracerProvider != nil {
		if err := o.tracerProvider.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
