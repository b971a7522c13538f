package emit

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/langobservatory/telegen/internal/config"
	"github.com/langobservatory/telegen/internal/record"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	oteltrace "go.opentelemetry.io/otel/trace"
)

func TestNormalizeOTLPEndpoint(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		input         string
		wantEndpoint  string
		wantInsecure  bool
		wantErrSubstr string
	}{
		{
			name:         "host and port",
			input:        "collector:4318",
			wantEndpoint: "collector:4318",
		},
		{
			name:         "http url",
			input:        "http://collector:4318",
			wantEndpoint: "collector:4318",
			wantInsecure: true,
		},
		{
			name:         "https url",
			input:        "https://collector:4318",
			wantEndpoint: "collector:4318",
		},
		{
			name:          "invalid scheme",
			input:         "ftp://collector:4318",
			wantErrSubstr: "scheme must be http or https",
		},
		{
			name:          "url without host",
			input:         "http://",
			wantErrSubstr: "must include host",
		},
		{
			name:          "empty endpoint",
			input:         "   ",
			wantErrSubstr: "must not be empty",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			gotEndpoint, gotInsecure, err := normalizeOTLPEndpoint(tt.input)
			if tt.wantErrSubstr != "" {
				if err == nil {
					t.Fatalf("normalizeOTLPEndpoint(%q) error=nil, want %q", tt.input, tt.wantErrSubstr)
				}
				if got := err.Error(); !strings.Contains(got, tt.wantErrSubstr) {
					t.Fatalf("error=%q, want substring %q", got, tt.wantErrSubstr)
				}
				return
			}
			if err != nil {
				t.Fatalf("normalizeOTLPEndpoint(%q) error=%v", tt.input, err)
			}
			if gotEndpoint != tt.wantEndpoint {
				t.Fatalf("endpoint=%q, want %q", gotEndpoint, tt.wantEndpoint)
			}
			if gotInsecure != tt.wantInsecure {
				t.Fatalf("insecure=%v, want %v", gotInsecure, tt.wantInsecure)
			}
		})
	}
}

func TestSetupConfigPermutations(t *testing.T) {
	t.Run("disabled returns noop runtime", func(t *testing.T) {
		runtime, err := Setup(context.Background(), config.OTelConfig{Enabled: false}, "test", nil)
		if err != nil {
			t.Fatalf("Setup() error: %v", err)
		}
		if runtime.Enabled() {
			t.Fatal("expected Enabled()=false for disabled config")
		}
		runtime.EmitTrace(context.Background(), successTrace())
		runtime.EmitMetrics(context.Background(), aggregateMetrics())
		if err := runtime.Shutdown(context.Background()); err != nil {
			t.Fatalf("Shutdown() error: %v", err)
		}
	})

	t.Run("empty endpoint is rejected", func(t *testing.T) {
		_, err := Setup(context.Background(), config.OTelConfig{
			Enabled:       true,
			TracesEnabled: true,
		}, "test", nil)
		if err == nil || !strings.Contains(err.Error(), "otel.endpoint must not be empty") {
			t.Fatalf("Setup() error=%v, want endpoint validation error", err)
		}
	})

	t.Run("unsupported scheme is rejected", func(t *testing.T) {
		_, err := Setup(context.Background(), config.OTelConfig{
			Enabled:       true,
			Endpoint:      "grpc://collector:4317",
			TracesEnabled: true,
		}, "test", nil)
		if err == nil || !strings.Contains(err.Error(), "scheme must be http or https") {
			t.Fatalf("Setup() error=%v, want scheme validation error", err)
		}
	})
}

func TestRuntimeGuardsDoNotPanic(t *testing.T) {
	t.Parallel()

	runtimes := []struct {
		name    string
		runtime *Runtime
	}{
		{name: "nil runtime", runtime: nil},
		{name: "disabled runtime", runtime: &Runtime{enabled: false}},
	}

	for _, tt := range runtimes {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if tt.runtime.Enabled() {
				t.Fatal("expected Enabled()=false")
			}

			tt.runtime.EmitTrace(context.Background(), successTrace())
			tt.runtime.EmitTrace(nil, nil)
			tt.runtime.EmitMetrics(context.Background(), aggregateMetrics())
			tt.runtime.EmitMetrics(nil, nil)

			if err := tt.runtime.Shutdown(context.Background()); err != nil {
				t.Fatalf("Shutdown() error: %v", err)
			}
		})
	}
}

func TestEmitTraceRecordsSpan(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name            string
		trace           *record.Trace
		wantName        string
		wantStatus      codes.Code
		wantDescription string
		wantAttrs       map[string]string
	}{
		{
			name:     "success record",
			trace:    successTrace(),
			wantName: "gpt-4_generation",
			wantAttrs: map[string]string{
				"llm.record_id":           "trace-emit1",
				"llm.model":               "gpt-4",
				"llm.provider":            "openai",
				"llm.user_id":             "user-emit1",
				"llm.session_id":          "session-emitone",
				"llm.cost_usd":            "0.0042",
				"llm.latency_ms":          "1250",
				"llm.usage.input_tokens":  "120",
				"llm.usage.output_tokens": "340",
				"llm.usage.total_tokens":  "460",
				"llm.environment":         "staging",
			},
		},
		{
			name:            "error record",
			trace:           errorTrace(),
			wantName:        "claude-3_generation",
			wantStatus:      codes.Error,
			wantDescription: "Rate limit exceeded",
			wantAttrs: map[string]string{
				"llm.record_id":           "trace-emit2",
				"llm.model":               "claude-3",
				"llm.provider":            "anthropic",
				"llm.user_id":             "user-emit2",
				"llm.session_id":          "session-emittwo",
				"llm.cost_usd":            "0.009",
				"llm.latency_ms":          "4200",
				"llm.usage.input_tokens":  "60",
				"llm.usage.output_tokens": "25",
				"llm.usage.total_tokens":  "85",
				"llm.error.type":          "RateLimitError",
				"llm.error.code":          "429",
			},
		},
		{
			name: "error record without detail",
			trace: &record.Trace{
				ID:        "trace-emit3",
				Model:     "mistral-7b",
				Provider:  "ollama",
				LatencyMS: 100,
				Timestamp: 1738060200,
				Status:    record.StatusError,
			},
			wantName:        "generation",
			wantStatus:      codes.Error,
			wantDescription: "generation failed",
			wantAttrs: map[string]string{
				"llm.record_id":  "trace-emit3",
				"llm.model":      "mistral-7b",
				"llm.provider":   "ollama",
				"llm.user_id":    "",
				"llm.session_id": "",
				"llm.cost_usd":   "0",
				"llm.latency_ms": "100",
			},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			recorder := tracetest.NewSpanRecorder()
			tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
			defer func() { _ = tp.Shutdown(context.Background()) }()

			runtime := &Runtime{enabled: true, tracer: tp.Tracer("test")}
			runtime.EmitTrace(context.Background(), tt.trace)

			spans := recorder.Ended()
			if len(spans) != 1 {
				t.Fatalf("ended spans=%d, want 1", len(spans))
			}

			span := spans[0]
			if span.Name() != tt.wantName {
				t.Fatalf("span name=%q, want %q", span.Name(), tt.wantName)
			}
			if span.SpanKind() != oteltrace.SpanKindClient {
				t.Fatalf("span kind=%v, want %v", span.SpanKind(), oteltrace.SpanKindClient)
			}
			if !span.StartTime().Equal(tt.trace.Time()) {
				t.Fatalf("span start=%v, want %v", span.StartTime(), tt.trace.Time())
			}
			if !span.EndTime().Equal(tt.trace.End()) {
				t.Fatalf("span end=%v, want %v", span.EndTime(), tt.trace.End())
			}
			if span.Status().Code != tt.wantStatus {
				t.Fatalf("span status=%v, want %v", span.Status().Code, tt.wantStatus)
			}
			if span.Status().Description != tt.wantDescription {
				t.Fatalf("span status description=%q, want %q", span.Status().Description, tt.wantDescription)
			}

			attrs := make(map[string]string)
			for _, a := range span.Attributes() {
				attrs[string(a.Key)] = a.Value.Emit()
			}
			for wantKey, wantVal := range tt.wantAttrs {
				if got, ok := attrs[wantKey]; !ok || got != wantVal {
					t.Errorf("attr %q=%q (present=%v), want %q", wantKey, got, ok, wantVal)
				}
			}
			for gotKey := range attrs {
				if _, expected := tt.wantAttrs[gotKey]; !expected {
					t.Errorf("unexpected attr %q=%q", gotKey, attrs[gotKey])
				}
			}
		})
	}
}

func TestEmitTraceFeedsInstruments(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	runtime := newInstrumentedRuntime(t, reader)

	runtime.EmitTrace(context.Background(), successTrace())

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect() error: %v", err)
	}

	wantBase := map[string]string{"model": "gpt-4", "provider": "openai", "status": "success"}

	requests := int64Points(t, metricByName(t, rm, "telegen.llm.requests_total"))
	if len(requests) != 1 || requests[0].Value != 1 {
		t.Fatalf("requests_total points=%+v, want one point of value 1", requests)
	}
	if got := attributesAsMap(requests[0].Attributes); !reflect.DeepEqual(got, wantBase) {
		t.Fatalf("requests_total attrs=%v, want %v", got, wantBase)
	}

	histogram, ok := metricByName(t, rm, "telegen.llm.request_duration_seconds").Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("request_duration_seconds is not a float64 histogram")
	}
	if len(histogram.DataPoints) != 1 {
		t.Fatalf("duration datapoints=%d, want 1", len(histogram.DataPoints))
	}
	durationPoint := histogram.DataPoints[0]
	if durationPoint.Count != 1 {
		t.Fatalf("duration count=%d, want 1", durationPoint.Count)
	}
	if durationPoint.Sum != 1.25 {
		t.Fatalf("duration sum=%v, want 1.25", durationPoint.Sum)
	}
	if !reflect.DeepEqual(durationPoint.Bounds, durationBucketBounds) {
		t.Fatalf("duration bounds=%v, want %v", durationPoint.Bounds, durationBucketBounds)
	}

	tokens := int64Points(t, metricByName(t, rm, "telegen.llm.tokens_total"))
	if got := tokensByDirection(tokens); got["input"] != 120 || got["output"] != 340 {
		t.Fatalf("tokens by direction=%v, want input=120 output=340", got)
	}

	costs := float64Points(t, metricByName(t, rm, "telegen.llm.cost_usd_total"))
	if len(costs) != 1 || costs[0].Value != 0.0042 {
		t.Fatalf("cost_usd_total points=%+v, want one point of value 0.0042", costs)
	}

	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			if m.Name == "telegen.llm.errors_total" {
				t.Fatal("errors_total should have no data for a success record")
			}
		}
	}
}

func TestEmitTraceCountsErrors(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	runtime := newInstrumentedRuntime(t, reader)

	runtime.EmitTrace(context.Background(), errorTrace())

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect() error: %v", err)
	}

	errorPoints := int64Points(t, metricByName(t, rm, "telegen.llm.errors_total"))
	if len(errorPoints) != 1 || errorPoints[0].Value != 1 {
		t.Fatalf("errors_total points=%+v, want one point of value 1", errorPoints)
	}
	wantAttrs := map[string]string{
		"model":      "claude-3",
		"provider":   "anthropic",
		"status":     "error",
		"error_type": "RateLimitError",
	}
	if got := attributesAsMap(errorPoints[0].Attributes); !reflect.DeepEqual(got, wantAttrs) {
		t.Fatalf("errors_total attrs=%v, want %v", got, wantAttrs)
	}

	requests := int64Points(t, metricByName(t, rm, "telegen.llm.requests_total"))
	if len(requests) != 1 || attributesAsMap(requests[0].Attributes)["status"] != "error" {
		t.Fatalf("requests_total points=%+v, want one point with status=error", requests)
	}
}

func TestEmitMetricsReplaysAggregates(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	runtime := newInstrumentedRuntime(t, reader)

	runtime.EmitMetrics(context.Background(), aggregateMetrics())

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect() error: %v", err)
	}

	wantLabels := map[string]string{"provider": "openai", "environment": "production"}

	int64Totals := []struct {
		metric string
		want   int64
	}{
		{metric: "telegen.llm.requests_total", want: 100},
		{metric: "telegen.llm.request_duration_observations_total", want: 100},
		{metric: "telegen.llm.errors_total", want: 2},
		{metric: "telegen.llm.cache_hits_total", want: 40},
		{metric: "telegen.llm.cache_misses_total", want: 160},
	}
	for _, tt := range int64Totals {
		points := int64Points(t, metricByName(t, rm, tt.metric))
		if len(points) != 1 || points[0].Value != tt.want {
			t.Fatalf("%s points=%+v, want one point of value %d", tt.metric, points, tt.want)
		}
		if got := attributesAsMap(points[0].Attributes); !reflect.DeepEqual(got, wantLabels) {
			t.Fatalf("%s attrs=%v, want %v", tt.metric, got, wantLabels)
		}
	}

	durationSum := float64Points(t, metricByName(t, rm, "telegen.llm.request_duration_sum_seconds_total"))
	if len(durationSum) != 1 || durationSum[0].Value != 125.5 {
		t.Fatalf("duration sum points=%+v, want one point of value 125.5", durationSum)
	}

	costs := float64Points(t, metricByName(t, rm, "telegen.llm.cost_usd_total"))
	if len(costs) != 1 || costs[0].Value != 12.5 {
		t.Fatalf("cost_usd_total points=%+v, want one point of value 12.5", costs)
	}

	tokens := int64Points(t, metricByName(t, rm, "telegen.llm.tokens_total"))
	if got := tokensByDirection(tokens); got["input"] != 5000 || got["output"] != 7500 {
		t.Fatalf("tokens by direction=%v, want input=5000 output=7500", got)
	}
}

// Cannot be parallel: mutates global OTel providers.
//
// The config uses Insecure: false with an http:// endpoint URL, which
// implicitly validates that the scheme-based insecure override in Setup
// works correctly (the connection must be insecure for the export to
// reach the plain HTTP test server).
func TestSetupExportsTracesAndMetrics(t *testing.T) {
	oldTracerProvider := otel.GetTracerProvider()
	oldMeterProvider := otel.GetMeterProvider()
	oldPropagator := otel.GetTextMapPropagator()
	defer func() {
		otel.SetTracerProvider(oldTracerProvider)
		otel.SetMeterProvider(oldMeterProvider)
		otel.SetTextMapPropagator(oldPropagator)
	}()

	var traceRequests atomic.Int64
	var metricRequests atomic.Int64
	var unexpectedPath atomic.Bool
	collector := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		_ = r.Body.Close()

		switch r.URL.Path {
		case "/v1/traces":
			traceRequests.Add(1)
		case "/v1/metrics":
			metricRequests.Add(1)
		default:
			unexpectedPath.Store(true)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer collector.Close()

	runtime, err := Setup(context.Background(), config.OTelConfig{
		Enabled:                true,
		Endpoint:               collector.URL,
		Insecure:               false,
		ServiceName:            "telegen-test",
		TracesEnabled:          true,
		MetricsEnabled:         true,
		SamplingRatio:          1.0,
		ExportTimeoutMS:        1000,
		MetricExportIntervalMS: 25,
	}, "test", nil)
	if err != nil {
		t.Fatalf("Setup() error: %v", err)
	}
	if !runtime.Enabled() {
		t.Fatal("expected Enabled()=true")
	}

	runtime.EmitTrace(context.Background(), successTrace())
	runtime.EmitMetrics(context.Background(), aggregateMetrics())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := runtime.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("runtime.Shutdown() error: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		return traceRequests.Load() > 0 && metricRequests.Load() > 0
	})
	if unexpectedPath.Load() {
		t.Fatal("collector observed unexpected OTLP request path")
	}
}

// Cannot be parallel: mutates global OTel providers.
func TestSetupTracesOnlySkipsMetricExport(t *testing.T) {
	oldTracerProvider := otel.GetTracerProvider()
	oldMeterProvider := otel.GetMeterProvider()
	oldPropagator := otel.GetTextMapPropagator()
	defer func() {
		otel.SetTracerProvider(oldTracerProvider)
		otel.SetMeterProvider(oldMeterProvider)
		otel.SetTextMapPropagator(oldPropagator)
	}()

	var traceRequests atomic.Int64
	var metricRequests atomic.Int64
	collector := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		_ = r.Body.Close()

		switch r.URL.Path {
		case "/v1/traces":
			traceRequests.Add(1)
		case "/v1/metrics":
			metricRequests.Add(1)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer collector.Close()

	runtime, err := Setup(context.Background(), config.OTelConfig{
		Enabled:                true,
		Endpoint:               collector.URL,
		ServiceName:            "telegen-test",
		TracesEnabled:          true,
		MetricsEnabled:         false,
		SamplingRatio:          1.0,
		ExportTimeoutMS:        1000,
		MetricExportIntervalMS: 25,
	}, "test", nil)
	if err != nil {
		t.Fatalf("Setup() error: %v", err)
	}

	runtime.EmitTrace(context.Background(), successTrace())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := runtime.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("runtime.Shutdown() error: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		return traceRequests.Load() > 0
	})
	if got := metricRequests.Load(); got != 0 {
		t.Fatalf("metric requests=%d, want 0 with metrics disabled", got)
	}
}

func waitFor(t *testing.T, timeout time.Duration, predicate func() bool) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if predicate() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

// newInstrumentedRuntime builds an enabled runtime whose instruments report
// through the given manual reader, without touching global providers.
func newInstrumentedRuntime(t *testing.T, reader *sdkmetric.ManualReader) *Runtime {
	t.Helper()

	meterProvider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() {
		if err := meterProvider.Shutdown(context.Background()); err != nil {
			t.Fatalf("meterProvider.Shutdown() error: %v", err)
		}
	})

	tracerProvider := sdktrace.NewTracerProvider()
	t.Cleanup(func() { _ = tracerProvider.Shutdown(context.Background()) })

	runtime := &Runtime{enabled: true, tracer: tracerProvider.Tracer("test")}
	runtime.createInstruments(meterProvider.Meter("test"), nil)
	return runtime
}

func metricByName(t *testing.T, rm metricdata.ResourceMetrics, name string) metricdata.Metrics {
	t.Helper()

	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			if m.Name == name {
				return m
			}
		}
	}
	t.Fatalf("missing metric %q", name)
	return metricdata.Metrics{}
}

func int64Points(t *testing.T, m metricdata.Metrics) []metricdata.DataPoint[int64] {
	t.Helper()

	sum, ok := m.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q data type=%T, want metricdata.Sum[int64]", m.Name, m.Data)
	}
	return sum.DataPoints
}

func float64Points(t *testing.T, m metricdata.Metrics) []metricdata.DataPoint[float64] {
	t.Helper()

	sum, ok := m.Data.(metricdata.Sum[float64])
	if !ok {
		t.Fatalf("metric %q data type=%T, want metricdata.Sum[float64]", m.Name, m.Data)
	}
	return sum.DataPoints
}

func attributesAsMap(set attribute.Set) map[string]string {
	attrs := make(map[string]string)
	for _, kv := range set.ToSlice() {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	return attrs
}

func tokensByDirection(points []metricdata.DataPoint[int64]) map[string]int64 {
	byDirection := make(map[string]int64)
	for _, dp := range points {
		byDirection[attributesAsMap(dp.Attributes)["direction"]] += dp.Value
	}
	return byDirection
}

func successTrace() *record.Trace {
	return &record.Trace{
		ID:        "trace-emit1",
		Name:      "gpt-4_generation",
		UserID:    "user-emit1",
		SessionID: "session-emitone",
		Model:     "gpt-4",
		Provider:  "openai",
		Metadata:  map[string]any{"environment": "staging"},
		Input:     "What is the capital of France?",
		Output:    "The capital of France is Paris.",
		Usage:     &record.Usage{InputTokens: 120, OutputTokens: 340, TotalTokens: 460},
		Cost:      0.0042,
		LatencyMS: 1250,
		Timestamp: 1738060200.5,
		Status:    record.StatusSuccess,
	}
}

func errorTrace() *record.Trace {
	retryAfter := 30
	return &record.Trace{
		ID:        "trace-emit2",
		Name:      "claude-3_generation",
		UserID:    "user-emit2",
		SessionID: "session-emittwo",
		Model:     "claude-3",
		Provider:  "anthropic",
		Usage:     &record.Usage{InputTokens: 60, OutputTokens: 25, TotalTokens: 85},
		Cost:      0.009,
		LatencyMS: 4200,
		Timestamp: 1738060201,
		Status:    record.StatusError,
		Error: &record.ErrorDetail{
			Type:       "RateLimitError",
			Message:    "Rate limit exceeded",
			Code:       429,
			RetryAfter: &retryAfter,
		},
	}
}

func aggregateMetrics() *record.Metrics {
	return &record.Metrics{
		Timestamp: 1738060200,
		Metrics: record.MetricsBody{
			RequestsTotal: 100,
			RequestDuration: record.DurationHistogram{
				Count: 100,
				Sum:   125.5,
				Buckets: map[string]int{
					"0.1": 10, "0.5": 45, "1.0": 75, "2.0": 95, "5.0": 100, "+Inf": 100,
				},
			},
			TokensTotal:      record.TokenTotals{Input: 5000, Output: 7500},
			CostTotal:        12.5,
			ErrorsTotal:      2,
			CacheHitsTotal:   40,
			CacheMissesTotal: 160,
		},
		Labels: map[string]string{"provider": "openai", "environment": "production"},
	}
}
