package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/zipkin"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// TracingConfig configures distributed tracing
type TracingConfig struct {
	Enabled        bool    `yaml:"enabled"`
	Exporter       string  `yaml:"exporter"` // otlp, zipkin
	OTLPEndpoint   string  `yaml:"otlp_endpoint"`
	ZipkinEndpoint string  `yaml:"zipkin_endpoint"`
	SampleRate     float64 `yaml:"sample_rate"` // 0.0 to 1.0
	ServiceName    string  `yaml:"service_name"`
	ServiceVersion string  `yaml:"service_version"`
}

// TracerProvider wraps OpenTelemetry tracer
type TracerProvider struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// NewTracerProvider creates a new tracer provider
func NewTracerProvider(config TracingConfig) (*TracerProvider, error) {
	if !config.Enabled {
		// Return noop tracer
		return &TracerProvider{
			tracer: noop.NewTracerProvider().Tracer("pixlift"),
		}, nil
	}

	if config.ServiceName == "" {
		config.ServiceName = "pixlift"
	}

	if config.SampleRate <= 0 || config.SampleRate > 1.0 {
		config.SampleRate = 1.0
	}

	var exporter sdktrace.SpanExporter
	var err error

	switch config.Exporter {
	case "otlp":
		endpoint := config.OTLPEndpoint
		if endpoint == "" {
			endpoint = "localhost:4318"
		}
		exporter, err = otlptracehttp.New(
			context.Background(),
			otlptracehttp.WithEndpoint(endpoint),
			otlptracehttp.WithInsecure(),
		)
	case "zipkin":
		endpoint := config.ZipkinEndpoint
		if endpoint == "" {
			endpoint = "http://localhost:9411/api/v2/spans"
		}
		exporter, err = zipkin.New(endpoint)
	default:
		return nil, fmt.Errorf("unsupported exporter: %s", config.Exporter)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to create exporter: %w", err)
	}

	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(config.SampleRate)),
	)

	otel.SetTracerProvider(provider)

	return &TracerProvider{
		provider: provider,
		tracer:   provider.Tracer("pixlift"),
	}, nil
}

// Shutdown gracefully shuts down the tracer provider
func (tp *TracerProvider) Shutdown(ctx context.Context) error {
	if tp.provider != nil {
		return tp.provider.Shutdown(ctx)
	}
	return nil
}

// Tracer returns the tracer
func (tp *TracerProvider) Tracer() trace.Tracer {
	return tp.tracer
}

// StartSpan starts a new span
func (tp *TracerProvider) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tp.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// Common span names
const (
	SpanIngestRun     = "pixlift.ingest.run"
	SpanStageValidate = "pixlift.stage.validate"
	SpanStageCrop     = "pixlift.stage.crop"
	SpanStageCompress = "pixlift.stage.compress"
	SpanStageUpload   = "pixlift.stage.upload"
	SpanBatchCommit   = "pixlift.batch.commit"
	SpanSinkRequest   = "pixlift.sink.request"
)

// Common attribute keys
const (
	AttrSessionToken = "pixlift.session_token"
	AttrMode         = "pixlift.mode"
	AttrStage        = "pixlift.stage"
	AttrFileName     = "pixlift.file_name"
	AttrFileType     = "pixlift.file_type"
	AttrBytesIn      = "pixlift.bytes_in"
	AttrBytesOut     = "pixlift.bytes_out"
	AttrBatchSize    = "pixlift.batch_size"
	AttrSkipped      = "pixlift.compress.skipped"
	AttrStatus       = "pixlift.status"
	AttrError        = "pixlift.error"
)

// Helper functions to add common attributes

// SessionAttrs creates session attributes
func SessionAttrs(token uint64, mode string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int64(AttrSessionToken, int64(token)),
		attribute.String(AttrMode, mode),
	}
}

// FileAttrs creates per-file attributes
func FileAttrs(name, mime string, size int64) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrFileName, name),
		attribute.String(AttrFileType, mime),
		attribute.Int64(AttrBytesIn, size),
	}
}

// StatusAttrs creates status attributes
func StatusAttrs(status string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrStatus, status),
	}
}

// ErrorAttrs creates error attributes
func ErrorAttrs(err error) []attribute.KeyValue {
	if err == nil {
		return nil
	}
	return []attribute.KeyValue{
		attribute.Bool(AttrError, true),
		attribute.String("error.message", err.Error()),
	}
}
