package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/runtime"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Telemetry holds all telemetry instruments and providers.
type Telemetry struct {
	meterProvider metric.MeterProvider
	tracer        trace.Tracer
	meter         metric.Meter

	// RED metrics for the HTTP control plane
	httpRequestsTotal    metric.Int64Counter
	httpRequestDuration  metric.Float64Histogram
	httpRequestsInFlight metric.Int64UpDownCounter

	// Open lifecycle metrics
	opensTotal    metric.Int64Counter
	opensActive   metric.Int64UpDownCounter
	openDuration  metric.Float64Histogram
	downloadBytes metric.Int64Counter

	// Catalog metrics
	dbOperationsTotal   metric.Int64Counter
	dbOperationDuration metric.Float64Histogram
}

// Config holds telemetry configuration.
type Config struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string
	OTLPEndpoint   string // optional; when set an OTLP gRPC reader runs alongside prometheus
}

// New creates a new telemetry instance. A disabled config yields an inert
// instance whose record methods are no-ops.
func New(ctx context.Context, cfg Config) (*Telemetry, error) {
	if !cfg.Enabled {
		return &Telemetry{}, nil
	}

	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to build resource: %w", err)
	}

	opts := []sdkmetric.Option{
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	}

	if cfg.OTLPEndpoint != "" {
		otlpExporter, err := otlpmetricgrpc.New(ctx,
			otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint),
			otlpmetricgrpc.WithInsecure(),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create otlp exporter: %w", err)
		}

		opts = append(opts, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(otlpExporter)))
	}

	meterProvider := sdkmetric.NewMeterProvider(opts...)
	otel.SetMeterProvider(meterProvider)

	if err := runtime.Start(runtime.WithMeterProvider(meterProvider)); err != nil {
		return nil, fmt.Errorf("failed to start runtime instrumentation: %w", err)
	}

	t := &Telemetry{
		meterProvider: meterProvider,
		tracer:        otel.Tracer(cfg.ServiceName),
		meter:         otel.Meter(cfg.ServiceName),
	}

	if err := t.initializeMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	return t, nil
}

func (t *Telemetry) initializeMetrics() error {
	var err error

	if t.httpRequestsTotal, err = t.meter.Int64Counter("http_requests_total",
		metric.WithDescription("Total HTTP requests")); err != nil {
		return err
	}

	if t.httpRequestDuration, err = t.meter.Float64Histogram("http_request_duration_seconds",
		metric.WithDescription("HTTP request duration")); err != nil {
		return err
	}

	if t.httpRequestsInFlight, err = t.meter.Int64UpDownCounter("http_requests_in_flight",
		metric.WithDescription("In-flight HTTP requests")); err != nil {
		return err
	}

	if t.opensTotal, err = t.meter.Int64Counter("replica_opens_total",
		metric.WithDescription("Total replica open attempts by outcome")); err != nil {
		return err
	}

	if t.opensActive, err = t.meter.Int64UpDownCounter("replica_opens_active",
		metric.WithDescription("Open attempts currently in flight")); err != nil {
		return err
	}

	if t.openDuration, err = t.meter.Float64Histogram("replica_open_duration_seconds",
		metric.WithDescription("Replica open duration by outcome")); err != nil {
		return err
	}

	if t.downloadBytes, err = t.meter.Int64Counter("replica_download_bytes_total",
		metric.WithDescription("Snapshot bytes downloaded")); err != nil {
		return err
	}

	if t.dbOperationsTotal, err = t.meter.Int64Counter("catalog_operations_total",
		metric.WithDescription("Total catalog operations")); err != nil {
		return err
	}

	if t.dbOperationDuration, err = t.meter.Float64Histogram("catalog_operation_duration_seconds",
		metric.WithDescription("Catalog operation duration")); err != nil {
		return err
	}

	return nil
}

// Tracer returns the OpenTelemetry tracer.
func (t *Telemetry) Tracer() trace.Tracer {
	if t == nil || t.tracer == nil {
		return otel.Tracer("syncbox")
	}

	return t.tracer
}

// Handler exposes the prometheus scrape endpoint.
func (t *Telemetry) Handler() http.Handler {
	return promhttp.Handler()
}

// RecordHTTPRequest records RED metrics for one request.
func (t *Telemetry) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	if t == nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("path", path),
		attribute.String("status", status),
	)

	if t.httpRequestsTotal != nil {
		t.httpRequestsTotal.Add(context.Background(), 1, attrs)
	}

	if t.httpRequestDuration != nil {
		t.httpRequestDuration.Record(context.Background(), duration.Seconds(), attrs)
	}
}

// IncrementHTTPInFlight increments in-flight HTTP requests.
func (t *Telemetry) IncrementHTTPInFlight() {
	if t != nil && t.httpRequestsInFlight != nil {
		t.httpRequestsInFlight.Add(context.Background(), 1)
	}
}

// DecrementHTTPInFlight decrements in-flight HTTP requests.
func (t *Telemetry) DecrementHTTPInFlight() {
	if t != nil && t.httpRequestsInFlight != nil {
		t.httpRequestsInFlight.Add(context.Background(), -1)
	}
}

// OpenStarted marks an open attempt entering the downloading state.
func (t *Telemetry) OpenStarted() {
	if t != nil && t.opensActive != nil {
		t.opensActive.Add(context.Background(), 1)
	}
}

// OpenSettled records the outcome of one open attempt that previously
// reported OpenStarted. Status is one of "success", "failure", "timeout",
// "canceled".
func (t *Telemetry) OpenSettled(status string, duration time.Duration) {
	if t == nil {
		return
	}

	attrs := metric.WithAttributes(attribute.String("status", status))

	if t.opensTotal != nil {
		t.opensTotal.Add(context.Background(), 1, attrs)
	}

	if t.openDuration != nil {
		t.openDuration.Record(context.Background(), duration.Seconds(), attrs)
	}

	if t.opensActive != nil {
		t.opensActive.Add(context.Background(), -1)
	}
}

// AddDownloadBytes accumulates snapshot bytes transferred.
func (t *Telemetry) AddDownloadBytes(n int64) {
	if t != nil && t.downloadBytes != nil && n > 0 {
		t.downloadBytes.Add(context.Background(), n)
	}
}

// InstrumentDBOperation wraps one catalog operation with a span and metrics.
func (t *Telemetry) InstrumentDBOperation(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	if t == nil {
		return fn(ctx)
	}

	start := time.Now()

	ctx, span := t.Tracer().Start(ctx, "db_"+operation)
	defer span.End()

	err := fn(ctx)
	duration := time.Since(start)

	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}

	status := "ok"
	if err != nil {
		status = "error"
	}

	attrs := metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("status", status),
	)

	if t.dbOperationsTotal != nil {
		t.dbOperationsTotal.Add(ctx, 1, attrs)
	}

	if t.dbOperationDuration != nil {
		t.dbOperationDuration.Record(ctx, duration.Seconds(), attrs)
	}

	return err
}
