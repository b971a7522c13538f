package record

import "time"

// BucketBounds is the fixed upper-bound labels of the request duration
// histogram, in ascending order.
var BucketBounds = []string{"0.1", "0.5", "1.0", "2.0", "5.0", "+Inf"}

// DurationHistogram is the duration section of a metrics record. Bucket
// counts are independently sampled and are not guaranteed cumulative.
type DurationHistogram struct {
	Count   int            `json:"count"`
	Sum     float64        `json:"sum"`
	Buckets map[string]int `json:"buckets"`
}

// TokenTotals splits a token counter by direction.
type TokenTotals struct {
	Input  int `json:"input"`
	Output int `json:"output"`
}

// MetricsBody carries the counter and histogram snapshot of one metrics
// record, keyed the way the collector exposes them.
type MetricsBody struct {
	RequestsTotal    int               `json:"llm_requests_total"`
	RequestDuration  DurationHistogram `json:"llm_request_duration_seconds"`
	TokensTotal      TokenTotals       `json:"llm_tokens_total"`
	CostTotal        float64           `json:"llm_cost_total"`
	ErrorsTotal      int               `json:"llm_errors_total"`
	CacheHitsTotal   int               `json:"llm_cache_hits_total"`
	CacheMissesTotal int               `json:"llm_cache_misses_total"`
}

// Metrics is one synthetic metrics snapshot with its identifying labels.
type Metrics struct {
	Timestamp float64           `json:"timestamp"`
	Metrics   MetricsBody       `json:"metrics"`
	Labels    map[string]string `json:"labels"`
}

// Time converts the epoch-second timestamp to a UTC time.Time.
func (m *Metrics) Time() time.Time {
	if m == nil {
		return time.Time{}
	}
	return epochToTime(m.Timestamp)
}

// Fields returns the wire-shaped map form of the metrics record.
func (m *Metrics) Fields() map[string]any {
	if m == nil {
		return nil
	}

	buckets := make(map[string]any, len(m.Metrics.RequestDuration.Buckets))
	for bound, count := range m.Metrics.RequestDuration.Buckets {
		buckets[bound] = count
	}
	metrics := map[string]any{
		"llm_requests_total": m.Metrics.RequestsTotal,
		"llm_request_duration_seconds": map[string]any{
			"count":   m.Metrics.RequestDuration.Count,
			"sum":     m.Metrics.RequestDuration.Sum,
			"buckets": buckets,
		},
		"llm_tokens_total": map[string]any{
			"input":  m.Metrics.TokensTotal.Input,
			"output": m.Metrics.TokensTotal.Output,
		},
		"llm_cost_total":         m.Metrics.CostTotal,
		"llm_errors_total":       m.Metrics.ErrorsTotal,
		"llm_cache_hits_total":   m.Metrics.CacheHitsTotal,
		"llm_cache_misses_total": m.Metrics.CacheMissesTotal,
	}

	fields := map[string]any{
		"timestamp": m.Timestamp,
		"metrics":   metrics,
	}
	if len(m.Labels) > 0 {
		labels := make(map[string]any, len(m.Labels))
		for key, value := range m.Labels {
			labels[key] = value
		}
		fields["labels"] = labels
	}
	return fields
}
