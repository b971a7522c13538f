// Package emit replays generated records as real OpenTelemetry signals so a
// collector pipeline can be exercised with synthetic traffic.
package emit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/langobservatory/telegen/internal/config"
	"github.com/langobservatory/telegen/internal/record"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	oteltrace "go.opentelemetry.io/otel/trace"
)

const instrumentationName = "langobservatory.telegen"

// durationBucketBounds matches the upper bounds of the generated duration
// histogram records.
var durationBucketBounds = []float64{0.1, 0.5, 1.0, 2.0, 5.0}

// Runtime replays records through OpenTelemetry providers. A runtime built
// from a disabled config accepts every call and does nothing.
type Runtime struct {
	enabled bool
	tracer  oteltrace.Tracer

	requestCounter    metric.Int64Counter
	durationHistogram metric.Float64Histogram
	tokenCounter      metric.Int64Counter
	costCounter       metric.Float64Counter
	errorCounter      metric.Int64Counter

	durationObservations metric.Int64Counter
	durationSumSeconds   metric.Float64Counter
	cacheHitCounter      metric.Int64Counter
	cacheMissCounter     metric.Int64Counter

	shutdownFns []func(context.Context) error
}

// Setup initializes OpenTelemetry providers and the replay instruments.
func Setup(ctx context.Context, cfg config.OTelConfig, serviceVersion string, logger *slog.Logger) (*Runtime, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	runtime := &Runtime{}
	if !cfg.Enabled {
		return runtime, nil
	}

	exportTimeout := time.Duration(cfg.ExportTimeoutMS) * time.Millisecond
	metricInterval := time.Duration(cfg.MetricExportIntervalMS) * time.Millisecond
	otlpEndpoint, inferredInsecure, err := normalizeOTLPEndpoint(cfg.Endpoint)
	if err != nil {
		return nil, err
	}
	insecure := cfg.Insecure
	if strings.Contains(strings.TrimSpace(cfg.Endpoint), "://") {
		// Endpoint URLs carry explicit transport intent and win over the
		// insecure toggle to avoid mismatches like https endpoints + insecure=true.
		insecure = inferredInsecure
	}

	res := resource.NewSchemaless(
		attribute.String("service.name", strings.TrimSpace(cfg.ServiceName)),
		attribute.String("service.version", strings.TrimSpace(serviceVersion)),
	)

	if cfg.TracesEnabled {
		traceExporterOptions := []otlptracehttp.Option{
			otlptracehttp.WithEndpoint(otlpEndpoint),
			otlptracehttp.WithTimeout(exportTimeout),
		}
		if insecure {
			traceExporterOptions = append(traceExporterOptions, otlptracehttp.WithInsecure())
		}
		traceExporter, err := otlptracehttp.New(ctx, traceExporterOptions...)
		if err != nil {
			return nil, fmt.Errorf("initialize otel trace exporter: %w", err)
		}

		tracerProvider := sdktrace.NewTracerProvider(
			sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SamplingRatio))),
			sdktrace.WithBatcher(traceExporter),
			sdktrace.WithResource(res),
		)
		otel.SetTracerProvider(tracerProvider)
		runtime.shutdownFns = append(runtime.shutdownFns, tracerProvider.Shutdown)
	}

	if cfg.MetricsEnabled {
		metricExporterOptions := []otlpmetrichttp.Option{
			otlpmetrichttp.WithEndpoint(otlpEndpoint),
			otlpmetrichttp.WithTimeout(exportTimeout),
		}
		if insecure {
			metricExporterOptions = append(metricExporterOptions, otlpmetrichttp.WithInsecure())
		}
		metricExporter, err := otlpmetrichttp.New(ctx, metricExporterOptions...)
		if err != nil {
			_ = runtime.Shutdown(context.Background())
			return nil, fmt.Errorf("initialize otel metric exporter: %w", err)
		}

		reader := sdkmetric.NewPeriodicReader(
			metricExporter,
			sdkmetric.WithInterval(metricInterval),
			sdkmetric.WithTimeout(exportTimeout),
		)
		meterProvider := sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(reader),
		)
		otel.SetMeterProvider(meterProvider)
		runtime.shutdownFns = append(runtime.shutdownFns, meterProvider.Shutdown)
	}

	otel.SetTextMapPropagator(propagation.TraceContext{})

	runtime.tracer = otel.Tracer(instrumentationName)
	runtime.createInstruments(otel.Meter(instrumentationName), logger)

	runtime.enabled = true
	if logger != nil {
		logger.Info(
			"opentelemetry enabled",
			"otel_endpoint", otlpEndpoint,
			"otel_traces_enabled", cfg.TracesEnabled,
			"otel_metrics_enabled", cfg.MetricsEnabled,
			"otel_sampling_ratio", cfg.SamplingRatio,
		)
	}

	return runtime, nil
}

func (r *Runtime) createInstruments(meter metric.Meter, logger *slog.Logger) {
	warn := func(name string, err error) {
		if err != nil && logger != nil {
			logger.Warn("failed to create opentelemetry instrument", "metric", name, "error", err)
		}
	}

	var err error
	r.requestCounter, err = meter.Int64Counter(
		"telegen.llm.requests_total",
		metric.WithDescription("Count of replayed LLM call records."),
	)
	warn("telegen.llm.requests_total", err)

	r.durationHistogram, err = meter.Float64Histogram(
		"telegen.llm.request_duration_seconds",
		metric.WithDescription("Latency of replayed LLM call records."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(durationBucketBounds...),
	)
	warn("telegen.llm.request_duration_seconds", err)

	r.tokenCounter, err = meter.Int64Counter(
		"telegen.llm.tokens_total",
		metric.WithDescription("Token usage of replayed LLM call records, split by direction."),
	)
	warn("telegen.llm.tokens_total", err)

	r.costCounter, err = meter.Float64Counter(
		"telegen.llm.cost_usd_total",
		metric.WithDescription("Estimated cost of replayed LLM call records in USD."),
	)
	warn("telegen.llm.cost_usd_total", err)

	r.errorCounter, err = meter.Int64Counter(
		"telegen.llm.errors_total",
		metric.WithDescription("Count of replayed LLM call records that carry an error payload."),
	)
	warn("telegen.llm.errors_total", err)

	r.durationObservations, err = meter.Int64Counter(
		"telegen.llm.request_duration_observations_total",
		metric.WithDescription("Observation count replayed from aggregated duration histograms."),
	)
	warn("telegen.llm.request_duration_observations_total", err)

	r.durationSumSeconds, err = meter.Float64Counter(
		"telegen.llm.request_duration_sum_seconds_total",
		metric.WithDescription("Duration sum replayed from aggregated duration histograms."),
		metric.WithUnit("s"),
	)
	warn("telegen.llm.request_duration_sum_seconds_total", err)

	r.cacheHitCounter, err = meter.Int64Counter(
		"telegen.llm.cache_hits_total",
		metric.WithDescription("Cache hits replayed from aggregated metrics records."),
	)
	warn("telegen.llm.cache_hits_total", err)

	r.cacheMissCounter, err = meter.Int64Counter(
		"telegen.llm.cache_misses_total",
		metric.WithDescription("Cache misses replayed from aggregated metrics records."),
	)
	warn("telegen.llm.cache_misses_total", err)
}

// Enabled reports whether OpenTelemetry replay is active.
func (r *Runtime) Enabled() bool {
	return r != nil && r.enabled
}

// EmitTrace replays one trace record as a span plus per-request instruments.
// The span starts at the record timestamp and ends latency_ms later.
func (r *Runtime) EmitTrace(ctx context.Context, tr *record.Trace) {
	if !r.Enabled() || tr == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	name := strings.TrimSpace(tr.Name)
	if name == "" {
		name = "generation"
	}

	_, span := r.tracer.Start(ctx, name,
		oteltrace.WithTimestamp(tr.Time()),
		oteltrace.WithSpanKind(oteltrace.SpanKindClient),
		oteltrace.WithAttributes(spanAttributes(tr)...),
	)
	if tr.Status == record.StatusError {
		message := "generation failed"
		if tr.Error != nil {
			message = tr.Error.Message
			span.SetAttributes(
				attribute.String("llm.error.type", tr.Error.Type),
				attribute.Int("llm.error.code", tr.Error.Code),
			)
		}
		span.SetStatus(codes.Error, message)
	}
	span.End(oteltrace.WithTimestamp(tr.End()))

	base := metric.WithAttributes(
		attribute.String("model", tr.Model),
		attribute.String("provider", tr.Provider),
		attribute.String("status", string(tr.Status)),
	)
	if r.requestCounter != nil {
		r.requestCounter.Add(ctx, 1, base)
	}
	if r.durationHistogram != nil {
		r.durationHistogram.Record(ctx, float64(tr.LatencyMS)/1000, base)
	}
	if r.tokenCounter != nil && tr.Usage != nil {
		r.tokenCounter.Add(ctx, int64(tr.Usage.InputTokens), base,
			metric.WithAttributes(attribute.String("direction", "input")))
		r.tokenCounter.Add(ctx, int64(tr.Usage.OutputTokens), base,
			metric.WithAttributes(attribute.String("direction", "output")))
	}
	if r.costCounter != nil {
		r.costCounter.Add(ctx, tr.Cost, base)
	}
	if r.errorCounter != nil && tr.Status == record.StatusError {
		errorType := "unknown"
		if tr.Error != nil {
			errorType = tr.Error.Type
		}
		r.errorCounter.Add(ctx, 1, base,
			metric.WithAttributes(attribute.String("error_type", errorType)))
	}
}

// EmitMetrics replays one aggregated metrics record by adding its counter
// values and histogram sums under the record labels.
func (r *Runtime) EmitMetrics(ctx context.Context, m *record.Metrics) {
	if !r.Enabled() || m == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	attrs := make([]attribute.KeyValue, 0, len(m.Labels))
	for key, value := range m.Labels {
		attrs = append(attrs, attribute.String(key, value))
	}
	labels := metric.WithAttributes(attrs...)

	if r.requestCounter != nil {
		r.requestCounter.Add(ctx, int64(m.Metrics.RequestsTotal), labels)
	}
	if r.durationObservations != nil {
		r.durationObservations.Add(ctx, int64(m.Metrics.RequestDuration.Count), labels)
	}
	if r.durationSumSeconds != nil {
		r.durationSumSeconds.Add(ctx, m.Metrics.RequestDuration.Sum, labels)
	}
	if r.tokenCounter != nil {
		r.tokenCounter.Add(ctx, int64(m.Metrics.TokensTotal.Input), labels,
			metric.WithAttributes(attribute.String("direction", "input")))
		r.tokenCounter.Add(ctx, int64(m.Metrics.TokensTotal.Output), labels,
			metric.WithAttributes(attribute.String("direction", "output")))
	}
	if r.costCounter != nil {
		r.costCounter.Add(ctx, m.Metrics.CostTotal, labels)
	}
	if r.errorCounter != nil {
		r.errorCounter.Add(ctx, int64(m.Metrics.ErrorsTotal), labels)
	}
	if r.cacheHitCounter != nil {
		r.cacheHitCounter.Add(ctx, int64(m.Metrics.CacheHitsTotal), labels)
	}
	if r.cacheMissCounter != nil {
		r.cacheMissCounter.Add(ctx, int64(m.Metrics.CacheMissesTotal), labels)
	}
}

// Shutdown flushes and stops OpenTelemetry providers.
func (r *Runtime) Shutdown(ctx context.Context) error {
	if r == nil || len(r.shutdownFns) == 0 {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var errs []error
	for i := len(r.shutdownFns) - 1; i >= 0; i-- {
		if err := r.shutdownFns[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}

func spanAttributes(tr *record.Trace) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 12)
	attrs = append(attrs,
		attribute.String("llm.record_id", tr.ID),
		attribute.String("llm.model", tr.Model),
		attribute.String("llm.provider", tr.Provider),
		attribute.String("llm.user_id", tr.UserID),
		attribute.String("llm.session_id", tr.SessionID),
		attribute.Float64("llm.cost_usd", tr.Cost),
		attribute.Int("llm.latency_ms", tr.LatencyMS),
	)
	if tr.Usage != nil {
		attrs = append(attrs,
			attribute.Int("llm.usage.input_tokens", tr.Usage.InputTokens),
			attribute.Int("llm.usage.output_tokens", tr.Usage.OutputTokens),
			attribute.Int("llm.usage.total_tokens", tr.Usage.TotalTokens),
		)
	}
	if environment, ok := record.StringValue(tr.Metadata["environment"]); ok {
		attrs = append(attrs, attribute.String("llm.environment", environment))
	}
	return attrs
}

func normalizeOTLPEndpoint(raw string) (string, bool, error) {
	endpoint := strings.TrimSpace(raw)
	if endpoint == "" {
		return "", false, errors.New("otel.endpoint must not be empty")
	}

	if !strings.Contains(endpoint, "://") {
		return endpoint, false, nil
	}

	parsed, err := url.Parse(endpoint)
	if err != nil {
		return "", false, fmt.Errorf("parse otel.endpoint: %w", err)
	}
	if strings.TrimSpace(parsed.Host) == "" {
		return "", false, fmt.Errorf("otel.endpoint must include host (got %q)", raw)
	}

	switch strings.ToLower(strings.TrimSpace(parsed.Scheme)) {
	case "http":
		return parsed.Host, true, nil
	case "https":
		return parsed.Host, false, nil
	default:
		return "", false, fmt.Errorf("otel.endpoint scheme must be http or https when provided (got %q)", parsed.Scheme)
	}
}
