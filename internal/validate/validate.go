// Package validate checks the structural invariants of telemetry records.
// Checks operate on wire-shaped maps (decoded JSON); generated records
// convert through their Fields method. Every check short-circuits on the
// first violation and reports it in the returned error.
package validate

import (
	"fmt"
	"time"

	"github.com/langobservatory/telegen/internal/record"
)

// Trace checks the minimum structural invariants of a trace record: the
// required fields are present, the timestamp is a positive number, the status
// is a known value, and total_tokens is a non-negative number when a usage
// block exists. A nil return means the record passed.
func Trace(fields map[string]any) error {
	for _, field := range []string{"id", "name", "timestamp", "status"} {
		if _, ok := fields[field]; !ok {
			return fmt.Errorf("missing required field: %s", field)
		}
	}

	ts, ok := record.Number(fields["timestamp"])
	if !ok {
		return fmt.Errorf("timestamp must be a number (got %T)", fields["timestamp"])
	}
	if ts <= 0 {
		return fmt.Errorf("timestamp must be positive (got %v)", ts)
	}

	status, ok := record.StringValue(fields["status"])
	if !ok {
		return fmt.Errorf("status must be a string (got %T)", fields["status"])
	}
	if !knownStatus(status) {
		return fmt.Errorf("status must be one of success, error, pending (got %q)", status)
	}

	if raw, present := fields["usage"]; present {
		usage, ok := record.MapValue(raw)
		if !ok {
			return fmt.Errorf("usage must be an object (got %T)", raw)
		}
		rawTotal, ok := usage["total_tokens"]
		if !ok {
			return fmt.Errorf("missing required field: usage.total_tokens")
		}
		total, ok := record.Number(rawTotal)
		if !ok {
			return fmt.Errorf("usage.total_tokens must be a number (got %T)", rawTotal)
		}
		if total < 0 {
			return fmt.Errorf("usage.total_tokens must be non-negative (got %v)", total)
		}
	}
	return nil
}

// Metrics checks the minimum structural invariants of a metrics record:
// timestamp and metrics are present, and the request/cost totals are
// well-typed and non-negative when they exist. Fractional request counts are
// rejected; whole floats are accepted because decoded JSON carries every
// number as float64.
func Metrics(fields map[string]any) error {
	for _, field := range []string{"timestamp", "metrics"} {
		if _, ok := fields[field]; !ok {
			return fmt.Errorf("missing required field: %s", field)
		}
	}

	metrics, ok := record.MapValue(fields["metrics"])
	if !ok {
		return fmt.Errorf("metrics must be an object (got %T)", fields["metrics"])
	}

	if raw, present := metrics["llm_requests_total"]; present {
		n, whole := record.WholeNumber(raw)
		if !whole || n < 0 {
			return fmt.Errorf("metrics.llm_requests_total must be a non-negative integer (got %v)", raw)
		}
	}
	if raw, present := metrics["llm_cost_total"]; present {
		n, isNumber := record.Number(raw)
		if !isNumber || n < 0 {
			return fmt.Errorf("metrics.llm_cost_total must be a non-negative number (got %v)", raw)
		}
	}
	return nil
}

// WithinBounds fails when duration exceeds maxDuration. Both values are
// seconds; label names the measured operation in the failure message and
// defaults to "operation".
func WithinBounds(duration, maxDuration float64, label string) error {
	if label == "" {
		label = "operation"
	}
	if duration > maxDuration {
		return fmt.Errorf("%s took %.3fs, expected <= %.3fs", label, duration, maxDuration)
	}
	return nil
}

// Timer measures wall-clock elapsed time for pairing with WithinBounds.
type Timer struct {
	start time.Time
	stop  time.Time
}

// StartTimer begins timing immediately.
func StartTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Stop freezes the timer. The first call wins; later calls are no-ops.
func (t *Timer) Stop() {
	if t.stop.IsZero() {
		t.stop = time.Now()
	}
}

// Elapsed returns the measured duration in seconds. Before Stop it reads the
// running clock.
func (t *Timer) Elapsed() float64 {
	end := t.stop
	if end.IsZero() {
		end = time.Now()
	}
	return end.Sub(t.start).Seconds()
}

func knownStatus(s string) bool {
	for _, status := range record.Statuses() {
		if s == string(status) {
			return true
		}
	}
	return false
}
