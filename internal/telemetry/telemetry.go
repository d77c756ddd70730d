// Package telemetry instruments the download pipeline: tier attempts and
// escalations, retry passes, credential feedback, and end-to-end download
// outcomes. Metrics are exported through the Prometheus exporter; a zero
// or nil Telemetry is a no-op so the pipeline never depends on it.
package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/trace"
)

// Telemetry holds all telemetry instruments and providers.
type Telemetry struct {
	meterProvider metric.MeterProvider
	tracer        trace.Tracer
	meter         metric.Meter
	exporter      *prometheus.Exporter

	downloadsTotal   metric.Int64Counter
	downloadsActive  metric.Int64UpDownCounter
	downloadDuration metric.Float64Histogram

	tierAttemptsTotal    metric.Int64Counter
	tierEscalationsTotal metric.Int64Counter
	retriesTotal         metric.Int64Counter
	credentialReports    metric.Int64Counter
}

// Config holds telemetry configuration.
type Config struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string
}

// New creates a new telemetry instance. A disabled config yields a no-op
// instance with every instrument left nil.
func New(cfg Config) (*Telemetry, error) {
	if !cfg.Enabled {
		return &Telemetry{}, nil
	}

	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
	)
	otel.SetMeterProvider(meterProvider)

	t := &Telemetry{
		meterProvider: meterProvider,
		tracer:        otel.Tracer(cfg.ServiceName),
		meter:         otel.Meter(cfg.ServiceName),
		exporter:      exporter,
	}

	if err := t.initializeMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	return t, nil
}

// Tracer returns the OpenTelemetry tracer.
func (t *Telemetry) Tracer() trace.Tracer {
	return t.tracer
}

// RecordDownload records one finished download with its terminal status.
func (t *Telemetry) RecordDownload(status string, duration time.Duration) {
	if t == nil {
		return
	}

	if t.downloadsTotal != nil {
		t.downloadsTotal.Add(context.Background(), 1,
			metric.WithAttributes(attribute.String("status", status)),
		)
	}

	if t.downloadDuration != nil {
		t.downloadDuration.Record(context.Background(), duration.Seconds(),
			metric.WithAttributes(attribute.String("status", status)),
		)
	}
}

// IncrementActiveDownloads increments the active downloads counter.
func (t *Telemetry) IncrementActiveDownloads() {
	if t != nil && t.downloadsActive != nil {
		t.downloadsActive.Add(context.Background(), 1)
	}
}

// DecrementActiveDownloads decrements the active downloads counter.
func (t *Telemetry) DecrementActiveDownloads() {
	if t != nil && t.downloadsActive != nil {
		t.downloadsActive.Add(context.Background(), -1)
	}
}

// RecordTierAttempt records one attempt on the named cascade tier.
func (t *Telemetry) RecordTierAttempt(tier string) {
	if t != nil && t.tierAttemptsTotal != nil {
		t.tierAttemptsTotal.Add(context.Background(), 1,
			metric.WithAttributes(attribute.String("tier", tier)),
		)
	}
}

// RecordTierEscalation records a failure of the named tier that escalated
// to the next one.
func (t *Telemetry) RecordTierEscalation(tier string) {
	if t != nil && t.tierEscalationsTotal != nil {
		t.tierEscalationsTotal.Add(context.Background(), 1,
			metric.WithAttributes(attribute.String("tier", tier)),
		)
	}
}

// RecordRetry records a cascade restart triggered by a retryable status.
func (t *Telemetry) RecordRetry(status int) {
	if t != nil && t.retriesTotal != nil {
		t.retriesTotal.Add(context.Background(), 1,
			metric.WithAttributes(attribute.String("status", strconv.Itoa(status))),
		)
	}
}

// RecordCredentialReport records a credential-health notification outcome
// ("sent" or "failed").
func (t *Telemetry) RecordCredentialReport(outcome string) {
	if t != nil && t.credentialReports != nil {
		t.credentialReports.Add(context.Background(), 1,
			metric.WithAttributes(attribute.String("outcome", outcome)),
		)
	}
}

// InstrumentedFunc represents a function that can be instrumented.
type InstrumentedFunc func(ctx context.Context) error

// InstrumentOperation wraps fn in a span. High-cardinality values (asset
// paths, tokens, error text) are kept out of span attributes; the full
// error lands in the span status only.
func (t *Telemetry) InstrumentOperation(ctx context.Context, operationName, component string, fn InstrumentedFunc) error {
	if t == nil || t.tracer == nil {
		return fn(ctx)
	}

	ctx, span := t.tracer.Start(ctx, operationName)
	defer span.End()

	span.SetAttributes(
		attribute.String("component", component),
		attribute.String("operation", operationName),
	)

	err := fn(ctx)
	if err != nil {
		span.SetAttributes(attribute.Bool("error", true))
		span.SetStatus(codes.Error, err.Error())
	}

	return err
}

// Handler returns the HTTP handler for the metrics endpoint.
func (t *Telemetry) Handler() http.Handler {
	if t == nil || t.exporter == nil {
		return http.NotFoundHandler()
	}

	return promhttp.Handler()
}

// Shutdown gracefully shuts down the telemetry system.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t == nil {
		return nil
	}

	if mp, ok := t.meterProvider.(*sdkmetric.MeterProvider); ok {
		return mp.Shutdown(ctx)
	}

	return nil
}

// initializeMetrics creates all metric instruments.
func (t *Telemetry) initializeMetrics() error {
	var err error

	t.downloadsTotal, err = t.meter.Int64Counter(
		"asset_downloads_total",
		metric.WithDescription("Total number of asset downloads"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create asset_downloads_total counter: %w", err)
	}

	t.downloadsActive, err = t.meter.Int64UpDownCounter(
		"asset_downloads_active",
		metric.WithDescription("Number of asset downloads in flight"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create asset_downloads_active counter: %w", err)
	}

	t.downloadDuration, err = t.meter.Float64Histogram(
		"asset_download_duration_seconds",
		metric.WithDescription("Asset download duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("failed to create asset_download_duration histogram: %w", err)
	}

	t.tierAttemptsTotal, err = t.meter.Int64Counter(
		"transport_tier_attempts_total",
		metric.WithDescription("Total number of transport tier attempts"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create transport_tier_attempts_total counter: %w", err)
	}

	t.tierEscalationsTotal, err = t.meter.Int64Counter(
		"transport_tier_escalations_total",
		metric.WithDescription("Total number of tier failures that escalated to the next tier"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create transport_tier_escalations_total counter: %w", err)
	}

	t.retriesTotal, err = t.meter.Int64Counter(
		"download_retries_total",
		metric.WithDescription("Total number of cascade restarts from the retry policy"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create download_retries_total counter: %w", err)
	}

	t.credentialReports, err = t.meter.Int64Counter(
		"credential_reports_total",
		metric.WithDescription("Total number of credential-health notifications"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create credential_reports_total counter: %w", err)
	}

	return nil
}
