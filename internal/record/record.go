// Package record defines the synthetic telemetry record types shared by the
// generator, validator, stores, and emitters. Field names mirror the wire
// shape: snake_case JSON, epoch-second timestamps.
package record

import (
	"math"
	"time"
)

// Status is the outcome of a traced LLM call.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
	StatusPending Status = "pending"
)

// Statuses lists every status the validator accepts. The generator only
// produces success and error.
func Statuses() []Status {
	return []Status{StatusSuccess, StatusError, StatusPending}
}

// Usage holds token counts for one trace. TotalTokens is expected to equal
// InputTokens + OutputTokens for generated records; overrides may break that
// on purpose.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// ErrorDetail is the error payload attached to failed traces.
type ErrorDetail struct {
	Type    string `json:"error_type"`
	Message string `json:"error_message"`
	Code    int    `json:"error_code"`
	// RetryAfter is set for rate-limit errors only; the key stays present
	// (null) for every other type.
	RetryAfter *int `json:"retry_after"`
}

// Trace is one synthetic LLM call record.
type Trace struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	UserID    string         `json:"user_id"`
	SessionID string         `json:"session_id"`
	Model     string         `json:"model"`
	Provider  string         `json:"provider"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Input     string         `json:"input"`
	Output    string         `json:"output"`
	Usage     *Usage         `json:"usage,omitempty"`
	Cost      float64        `json:"cost"`
	LatencyMS int            `json:"latency_ms"`
	Timestamp float64        `json:"timestamp"`
	Status    Status         `json:"status"`
	Error     *ErrorDetail   `json:"error"`
}

// Time converts the epoch-second timestamp to a UTC time.Time.
func (t *Trace) Time() time.Time {
	if t == nil {
		return time.Time{}
	}
	return epochToTime(t.Timestamp)
}

// End is the trace timestamp shifted by its latency.
func (t *Trace) End() time.Time {
	if t == nil {
		return time.Time{}
	}
	return t.Time().Add(time.Duration(t.LatencyMS) * time.Millisecond)
}

// Fields returns the wire-shaped map form of the trace, the shape the
// validator consumes and NDJSON output serializes. The error key is always
// present, nil when the trace succeeded.
func (t *Trace) Fields() map[string]any {
	if t == nil {
		return nil
	}

	fields := map[string]any{
		"id":         t.ID,
		"name":       t.Name,
		"user_id":    t.UserID,
		"session_id": t.SessionID,
		"model":      t.Model,
		"provider":   t.Provider,
		"input":      t.Input,
		"output":     t.Output,
		"cost":       t.Cost,
		"latency_ms": t.LatencyMS,
		"timestamp":  t.Timestamp,
		"status":     string(t.Status),
		"error":      nil,
	}
	if len(t.Metadata) > 0 {
		metadata := make(map[string]any, len(t.Metadata))
		for key, value := range t.Metadata {
			metadata[key] = value
		}
		fields["metadata"] = metadata
	}
	if t.Usage != nil {
		fields["usage"] = map[string]any{
			"input_tokens":  t.Usage.InputTokens,
			"output_tokens": t.Usage.OutputTokens,
			"total_tokens":  t.Usage.TotalTokens,
		}
	}
	if t.Error != nil {
		fields["error"] = t.Error.Fields()
	}
	return fields
}

// Clone returns a deep copy; metadata, usage, and error do not alias the
// receiver.
func (t *Trace) Clone() *Trace {
	if t == nil {
		return nil
	}

	clone := *t
	if t.Metadata != nil {
		clone.Metadata = make(map[string]any, len(t.Metadata))
		for key, value := range t.Metadata {
			clone.Metadata[key] = value
		}
	}
	if t.Usage != nil {
		usage := *t.Usage
		clone.Usage = &usage
	}
	if t.Error != nil {
		clone.Error = t.Error.Clone()
	}
	return &clone
}

// Fields returns the wire-shaped map form of the error payload.
func (e *ErrorDetail) Fields() map[string]any {
	if e == nil {
		return nil
	}
	fields := map[string]any{
		"error_type":    e.Type,
		"error_message": e.Message,
		"error_code":    e.Code,
		"retry_after":   nil,
	}
	if e.RetryAfter != nil {
		fields["retry_after"] = *e.RetryAfter
	}
	return fields
}

// Clone returns a deep copy of the error payload.
func (e *ErrorDetail) Clone() *ErrorDetail {
	if e == nil {
		return nil
	}
	clone := *e
	if e.RetryAfter != nil {
		retryAfter := *e.RetryAfter
		clone.RetryAfter = &retryAfter
	}
	return &clone
}

func epochToTime(seconds float64) time.Time {
	if seconds <= 0 {
		return time.Time{}
	}
	whole, frac := math.Modf(seconds)
	return time.Unix(int64(whole), int64(frac*float64(time.Second))).UTC()
}

// EpochSeconds converts a time to the float epoch-second representation the
// records carry.
func EpochSeconds(at time.Time) float64 {
	if at.IsZero() {
		return 0
	}
	return float64(at.UnixNano()) / float64(time.Second)
}
