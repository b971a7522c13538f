package fixture

// sampleEpoch is 2025-01-28T10:30:00Z, the instant both canned samples are
// stamped with.
const sampleEpoch = float64(1738060200)

// SampleTrace returns the canned trace record in wire form: a known-good
// gpt-4 call with fixed ids, usage, and cost. Callers may mutate the returned
// map freely; every call builds a fresh one.
func SampleTrace() map[string]any {
	return map[string]any{
		"id":      "test-trace-123",
		"name":    "llm_call",
		"user_id": "user-456",
		"metadata": map[string]any{
			"model":       "gpt-4",
			"temperature": 0.7,
			"max_tokens":  256,
		},
		"input":  "What is the weather like today?",
		"output": "I don't have access to real-time weather data.",
		"usage": map[string]any{
			"input_tokens":  8,
			"output_tokens": 12,
			"total_tokens":  20,
		},
		"cost":       0.001,
		"latency_ms": 1250,
		"timestamp":  sampleEpoch,
		"status":     "success",
	}
}

// SampleMetrics returns the canned metrics record in wire form. The bucket
// map deliberately omits +Inf and the token totals carry an explicit total,
// mirroring what a hand-written dashboard fixture looks like rather than
// generator output.
func SampleMetrics() map[string]any {
	return map[string]any{
		"timestamp": sampleEpoch,
		"metrics": map[string]any{
			"llm_requests_total": 100,
			"llm_request_duration_seconds": map[string]any{
				"count": 100,
				"sum":   125.5,
				"buckets": map[string]any{
					"0.1": 10,
					"0.5": 45,
					"1.0": 75,
					"2.0": 95,
					"5.0": 100,
				},
			},
			"llm_tokens_total": map[string]any{
				"input":  5000,
				"output": 7500,
				"total":  12500,
			},
			"llm_cost_total":   12.50,
			"llm_errors_total": 2,
		},
	}
}
