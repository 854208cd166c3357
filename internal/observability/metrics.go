package observability

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// MetricsCollector manages the ingestion pipeline metrics.
type MetricsCollector struct {
	meter metric.Meter

	// Pipeline outcomes
	ingestRuns    metric.Int64Counter
	stageDuration metric.Float64Histogram

	// Byte accounting
	bytesOriginal metric.Int64Counter
	bytesUploaded metric.Int64Counter
	compressRatio metric.Float64Histogram

	// Live-resource gauges
	sessionsActive metric.Int64UpDownCounter
	previewsLive   metric.Int64UpDownCounter

	// Server for Prometheus scraping
	prometheusServer *http.Server
}

// MetricsConfig configures the metrics collector
type MetricsConfig struct {
	Enabled        bool `yaml:"enabled"`
	PrometheusPort int  `yaml:"prometheus_port"`
}

// NewMetricsCollector creates a new metrics collector. When disabled, every
// Record method is a no-op on the zero collector.
func NewMetricsCollector(config MetricsConfig) (*MetricsCollector, error) {
	if !config.Enabled {
		return &MetricsCollector{}, nil
	}

	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
	)
	otel.SetMeterProvider(provider)

	meter := provider.Meter("pixlift")

	ingestRuns, err := meter.Int64Counter(
		"pixlift.ingest.runs.total",
		metric.WithDescription("Total pipeline runs by mode and outcome"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create ingest_runs counter: %w", err)
	}

	stageDuration, err := meter.Float64Histogram(
		"pixlift.stage.duration",
		metric.WithDescription("Pipeline stage duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create stage_duration histogram: %w", err)
	}

	bytesOriginal, err := meter.Int64Counter(
		"pixlift.bytes.original",
		metric.WithDescription("Total original bytes accepted by the pipeline"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create bytes_original counter: %w", err)
	}

	bytesUploaded, err := meter.Int64Counter(
		"pixlift.bytes.uploaded",
		metric.WithDescription("Total bytes handed to the upload endpoint"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create bytes_uploaded counter: %w", err)
	}

	compressRatio, err := meter.Float64Histogram(
		"pixlift.compress.ratio",
		metric.WithDescription("Compressed/original size ratio per file"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create compress_ratio histogram: %w", err)
	}

	sessionsActive, err := meter.Int64UpDownCounter(
		"pixlift.sessions.active",
		metric.WithDescription("Number of pipeline sessions currently in flight"),
		metric.WithUnit("{session}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create sessions_active gauge: %w", err)
	}

	previewsLive, err := meter.Int64UpDownCounter(
		"pixlift.previews.live",
		metric.WithDescription("Number of live preview handles"),
		metric.WithUnit("{handle}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create previews_live gauge: %w", err)
	}

	collector := &MetricsCollector{
		meter:          meter,
		ingestRuns:     ingestRuns,
		stageDuration:  stageDuration,
		bytesOriginal:  bytesOriginal,
		bytesUploaded:  bytesUploaded,
		compressRatio:  compressRatio,
		sessionsActive: sessionsActive,
		previewsLive:   previewsLive,
	}

	if config.PrometheusPort > 0 {
		if err := collector.StartPrometheusServer(config.PrometheusPort); err != nil {
			return nil, fmt.Errorf("failed to start prometheus server: %w", err)
		}
	}

	return collector, nil
}

// StartPrometheusServer starts the Prometheus metrics server
func (m *MetricsCollector) StartPrometheusServer(port int) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promclient.Handler())

	m.prometheusServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}

	go func() {
		log.Printf("Prometheus metrics server listening on :%d", port)
		if err := m.prometheusServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("Prometheus server error: %v", err)
		}
	}()

	return nil
}

// Shutdown gracefully shuts down the metrics collector
func (m *MetricsCollector) Shutdown(ctx context.Context) error {
	if m.prometheusServer != nil {
		return m.prometheusServer.Shutdown(ctx)
	}
	return nil
}

// RecordIngest records a completed pipeline run.
func (m *MetricsCollector) RecordIngest(ctx context.Context, mode, outcome string, originalBytes, uploadedBytes int64, elapsed time.Duration) {
	if m.ingestRuns == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("mode", mode),
		attribute.String("outcome", outcome),
	}

	m.ingestRuns.Add(ctx, 1, metric.WithAttributes(attrs...))
	if originalBytes > 0 {
		m.bytesOriginal.Add(ctx, originalBytes, metric.WithAttributes(attribute.String("mode", mode)))
	}
	if uploadedBytes > 0 {
		m.bytesUploaded.Add(ctx, uploadedBytes, metric.WithAttributes(attribute.String("mode", mode)))
	}
}

// RecordStage records a single stage execution.
func (m *MetricsCollector) RecordStage(ctx context.Context, stage, status string, duration time.Duration) {
	if m.stageDuration == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("stage", stage),
		attribute.String("status", status),
	}
	m.stageDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordCompression records a per-file compression outcome.
func (m *MetricsCollector) RecordCompression(ctx context.Context, originalBytes, compressedBytes int64, skipped bool) {
	if m.compressRatio == nil || originalBytes <= 0 {
		return
	}

	ratio := float64(compressedBytes) / float64(originalBytes)
	m.compressRatio.Record(ctx, ratio, metric.WithAttributes(attribute.Bool("skipped", skipped)))
}

// IncrementActiveSessions increments the active sessions counter
func (m *MetricsCollector) IncrementActiveSessions(ctx context.Context) {
	if m.sessionsActive == nil {
		return
	}
	m.sessionsActive.Add(ctx, 1)
}

// DecrementActiveSessions decrements the active sessions counter
func (m *MetricsCollector) DecrementActiveSessions(ctx context.Context) {
	if m.sessionsActive == nil {
		return
	}
	m.sessionsActive.Add(ctx, -1)
}

// PreviewAcquired bumps the live preview gauge.
func (m *MetricsCollector) PreviewAcquired(ctx context.Context) {
	if m.previewsLive == nil {
		return
	}
	m.previewsLive.Add(ctx, 1)
}

// PreviewReleased lowers the live preview gauge.
func (m *MetricsCollector) PreviewReleased(ctx context.Context) {
	if m.previewsLive == nil {
		return
	}
	m.previewsLive.Add(ctx, -1)
}
