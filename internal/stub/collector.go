package stub

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/langobservatory/telegen/internal/record"
)

// Event types the ingestion endpoint accepts.
const (
	eventTypeTrace      = "trace-create"
	eventTypeGeneration = "generation-create"
	eventTypeSpan       = "span-create"
	eventTypeEvent      = "event-create"
)

type ingestionEvent struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Timestamp string         `json:"timestamp"`
	Body      map[string]any `json:"body"`
}

type ingestionBatch struct {
	Batch []ingestionEvent `json:"batch"`
}

type ingestionSuccess struct {
	ID     string `json:"id"`
	Status int    `json:"status"`
}

type ingestionFailure struct {
	ID      string `json:"id"`
	Status  int    `json:"status"`
	Message string `json:"message"`
}

type ingestionResponse struct {
	Successes []ingestionSuccess `json:"successes"`
	Errors    []ingestionFailure `json:"errors"`
}

// Recorder keeps the bodies of accepted ingestion events, grouped by event
// type, so tests can inspect what a system under test sent.
type Recorder struct {
	mu          sync.Mutex
	traces      []map[string]any
	generations []map[string]any
	spans       []map[string]any
	events      []map[string]any
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) add(eventType string, body map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch eventType {
	case eventTypeTrace:
		r.traces = append(r.traces, body)
	case eventTypeGeneration:
		r.generations = append(r.generations, body)
	case eventTypeSpan:
		r.spans = append(r.spans, body)
	case eventTypeEvent:
		r.events = append(r.events, body)
	}
}

// Traces returns the bodies of accepted trace-create events.
func (r *Recorder) Traces() []map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]map[string]any(nil), r.traces...)
}

// Generations returns the bodies of accepted generation-create events.
func (r *Recorder) Generations() []map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]map[string]any(nil), r.generations...)
}

// Spans returns the bodies of accepted span-create events.
func (r *Recorder) Spans() []map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]map[string]any(nil), r.spans...)
}

// Events returns the bodies of accepted event-create events.
func (r *Recorder) Events() []map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]map[string]any(nil), r.events...)
}

// Reset drops everything recorded so far.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.traces = nil
	r.generations = nil
	r.spans = nil
	r.events = nil
}

type collectorServer struct {
	recorder  *Recorder
	publicKey string
	secretKey string
}

// NewCollectorHandler returns the collector stub: a Basic-auth ingestion
// endpoint that files accepted events into the recorder and reports per-item
// results.
func NewCollectorHandler(recorder *Recorder, publicKey, secretKey string, logger *slog.Logger) http.Handler {
	if recorder == nil {
		recorder = NewRecorder()
	}
	server := &collectorServer{recorder: recorder, publicKey: publicKey, secretKey: secretKey}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/public/ingestion", server.handleIngestion)
	mux.HandleFunc("/api/public/health", server.handleHealth)
	return instrument(logger, "stub.collector", mux)
}

func (s *collectorServer) handleIngestion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"message": "method not allowed"})
		return
	}
	user, pass, ok := r.BasicAuth()
	if !ok || user != s.publicKey || pass != s.secretKey {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "invalid credentials"})
		return
	}

	var batch ingestionBatch
	if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "invalid request body"})
		return
	}

	// Per-item results regardless of outcome, the way the real ingestion
	// endpoint answers.
	response := ingestionResponse{
		Successes: []ingestionSuccess{},
		Errors:    []ingestionFailure{},
	}
	for _, event := range batch.Batch {
		if err := s.accept(event); err != nil {
			response.Errors = append(response.Errors, ingestionFailure{
				ID:      event.ID,
				Status:  http.StatusBadRequest,
				Message: err.Error(),
			})
			continue
		}
		response.Successes = append(response.Successes, ingestionSuccess{
			ID:     event.ID,
			Status: http.StatusCreated,
		})
	}
	writeJSON(w, http.StatusMultiStatus, response)
}

func (s *collectorServer) accept(event ingestionEvent) error {
	if strings.TrimSpace(event.ID) == "" {
		return errors.New("event id is required")
	}
	if event.Body == nil {
		return errors.New("event body is required")
	}
	switch event.Type {
	case eventTypeTrace, eventTypeGeneration, eventTypeSpan, eventTypeEvent:
	default:
		return fmt.Errorf("unknown event type %q", event.Type)
	}

	normalizeUsage(event.Body)
	s.recorder.add(event.Type, event.Body)
	return nil
}

func (s *collectorServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"message": "method not allowed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "OK"})
}

// normalizeUsage coerces token counts back to ints after the JSON round trip
// so recorded bodies compare cleanly against generated usage.
func normalizeUsage(body map[string]any) {
	usage, ok := record.MapValue(body["usage"])
	if !ok {
		return
	}
	for _, key := range []string{"input", "output", "total", "input_tokens", "output_tokens", "total_tokens"} {
		if value, ok := record.CoerceInt(usage[key]); ok {
			usage[key] = value
		}
	}
}
