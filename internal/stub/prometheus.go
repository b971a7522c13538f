package stub

import (
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/langobservatory/telegen/internal/record"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// durationBuckets matches the bucket bounds carried by generated duration
// histograms.
var durationBuckets = []float64{0.1, 0.5, 1.0, 2.0, 5.0}

// overflowObservation sits above the top bound so a replayed +Inf draw lands
// in the +Inf exposition bucket.
const overflowObservation = 10.0

var recordLabels = []string{"model", "provider", "environment"}

// Metrics turns generated records into real Prometheus series on a private
// registry.
type Metrics struct {
	registry    *prometheus.Registry
	requests    *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	tokens      *prometheus.CounterVec
	cost        *prometheus.CounterVec
	errorsTotal *prometheus.CounterVec
	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "llm",
			Name:      "requests_total",
			Help:      "LLM calls replayed into the stub.",
		}, recordLabels),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "llm",
			Name:      "request_duration_seconds",
			Help:      "Latency of replayed LLM calls.",
			Buckets:   durationBuckets,
		}, recordLabels),
		tokens: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "llm",
			Name:      "tokens_total",
			Help:      "Tokens consumed by replayed LLM calls, split by direction.",
		}, append(append([]string(nil), recordLabels...), "direction")),
		cost: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "llm",
			Name:      "cost_total",
			Help:      "Estimated USD cost of replayed LLM calls.",
		}, recordLabels),
		errorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "llm",
			Name:      "errors_total",
			Help:      "Replayed LLM calls that failed.",
		}, recordLabels),
		cacheHits: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "llm",
			Name:      "cache_hits_total",
			Help:      "Cache hits replayed from aggregated records.",
		}, recordLabels),
		cacheMisses: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "llm",
			Name:      "cache_misses_total",
			Help:      "Cache misses replayed from aggregated records.",
		}, recordLabels),
	}
}

// Observe folds one aggregated metrics record into the exposed series.
// Duration bucket draws are replayed as observations at their upper bound so
// each lands in the matching exposition bucket.
func (m *Metrics) Observe(rec *record.Metrics) {
	if m == nil || rec == nil {
		return
	}

	labels := labelValues(rec.Labels)
	m.requests.WithLabelValues(labels...).Add(float64(rec.Metrics.RequestsTotal))
	m.tokens.WithLabelValues(append(labels, "input")...).Add(float64(rec.Metrics.TokensTotal.Input))
	m.tokens.WithLabelValues(append(labels, "output")...).Add(float64(rec.Metrics.TokensTotal.Output))
	m.cost.WithLabelValues(labels...).Add(rec.Metrics.CostTotal)
	m.errorsTotal.WithLabelValues(labels...).Add(float64(rec.Metrics.ErrorsTotal))
	m.cacheHits.WithLabelValues(labels...).Add(float64(rec.Metrics.CacheHitsTotal))
	m.cacheMisses.WithLabelValues(labels...).Add(float64(rec.Metrics.CacheMissesTotal))

	observer := m.duration.WithLabelValues(labels...)
	buckets := rec.Metrics.RequestDuration.Buckets
	for i, bound := range durationBuckets {
		for n := 0; n < buckets[record.BucketBounds[i]]; n++ {
			observer.Observe(bound)
		}
	}
	for n := 0; n < buckets["+Inf"]; n++ {
		observer.Observe(overflowObservation)
	}
}

// ObserveTrace folds one trace record into the exposed series.
func (m *Metrics) ObserveTrace(tr *record.Trace) {
	if m == nil || tr == nil {
		return
	}

	environment, _ := record.StringValue(tr.Metadata["environment"])
	labels := []string{tr.Model, tr.Provider, environment}
	m.requests.WithLabelValues(labels...).Inc()
	m.duration.WithLabelValues(labels...).Observe(float64(tr.LatencyMS) / 1000)
	if tr.Usage != nil {
		m.tokens.WithLabelValues(append(labels, "input")...).Add(float64(tr.Usage.InputTokens))
		m.tokens.WithLabelValues(append(labels, "output")...).Add(float64(tr.Usage.OutputTokens))
	}
	m.cost.WithLabelValues(labels...).Add(tr.Cost)
	if tr.Status == record.StatusError {
		m.errorsTotal.WithLabelValues(labels...).Inc()
	}
}

func labelValues(labels map[string]string) []string {
	return []string{labels["model"], labels["provider"], labels["environment"]}
}

// NewPrometheusHandler returns the Prometheus stub: the query API answers
// with empty result envelopes, and /metrics serves the real exposition of
// the given collectors.
func NewPrometheusHandler(metrics *Metrics, logger *slog.Logger) http.Handler {
	if metrics == nil {
		metrics = NewMetrics()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/query", queryHandler("vector"))
	mux.HandleFunc("/api/v1/query_range", queryHandler("matrix"))
	mux.HandleFunc("/-/healthy", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, "Prometheus Server is Healthy.\n")
	})
	mux.HandleFunc("/-/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, "Prometheus Server is Ready.\n")
	})
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.registry, promhttp.HandlerOpts{}))
	return instrument(logger, "stub.prometheus", mux)
}

func queryHandler(resultType string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if strings.TrimSpace(r.FormValue("query")) == "" {
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"status":    "error",
				"errorType": "bad_data",
				"error":     "missing query parameter",
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"status": "success",
			"data": map[string]any{
				"resultType": resultType,
				"result":     []any{},
			},
		})
	}
}
