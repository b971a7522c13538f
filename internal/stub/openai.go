package stub

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/langobservatory/telegen/internal/pricing"
	"github.com/langobservatory/telegen/internal/record"
	"github.com/langobservatory/telegen/internal/synth"
	openai "github.com/sashabaranov/go-openai"
)

type openAIErrorBody struct {
	Message string  `json:"message"`
	Type    string  `json:"type"`
	Param   *string `json:"param"`
	Code    any     `json:"code"`
}

type openAIErrorEnvelope struct {
	Error openAIErrorBody `json:"error"`
}

type openAIServer struct {
	mu  sync.Mutex
	gen *synth.Generator
	now func() time.Time
}

// NewOpenAIHandler returns a chat completion endpoint whose content and token
// usage come from the generator. The handler serializes generator access, so
// one generator may back concurrent requests.
func NewOpenAIHandler(gen *synth.Generator, logger *slog.Logger) http.Handler {
	if gen == nil {
		gen = synth.New()
	}
	server := &openAIServer{gen: gen, now: time.Now}

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/chat/completions", server.handleChatCompletions)
	mux.HandleFunc("/v1/models", server.handleModels)
	mux.HandleFunc("/", server.handleUnknown)
	return instrument(logger, "stub.openai", mux)
}

func (s *openAIServer) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeOpenAIError(w, http.StatusMethodNotAllowed, "invalid_request_error",
			fmt.Sprintf("Not allowed to %s on /v1/chat/completions", r.Method))
		return
	}

	var req openai.ChatCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeOpenAIError(w, http.StatusBadRequest, "invalid_request_error",
			"We could not parse the JSON body of your request.")
		return
	}
	if strings.TrimSpace(req.Model) == "" {
		writeOpenAIError(w, http.StatusBadRequest, "invalid_request_error",
			"you must provide a model parameter")
		return
	}
	if len(req.Messages) == 0 {
		writeOpenAIError(w, http.StatusBadRequest, "invalid_request_error",
			"[] is too short - 'messages'")
		return
	}

	tr := s.generate(req.Model)
	writeJSON(w, http.StatusOK, openai.ChatCompletionResponse{
		ID:      completionID(),
		Object:  "chat.completion",
		Created: s.now().Unix(),
		Model:   req.Model,
		Choices: []openai.ChatCompletionChoice{
			{
				Index: 0,
				Message: openai.ChatCompletionMessage{
					Role:    openai.ChatMessageRoleAssistant,
					Content: tr.Output,
				},
				FinishReason: openai.FinishReasonStop,
			},
		},
		Usage: openai.Usage{
			PromptTokens:     tr.Usage.InputTokens,
			CompletionTokens: tr.Usage.OutputTokens,
			TotalTokens:      tr.Usage.TotalTokens,
		},
	})
}

func (s *openAIServer) handleModels(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		writeOpenAIError(w, http.StatusMethodNotAllowed, "invalid_request_error",
			fmt.Sprintf("Not allowed to %s on /v1/models", r.Method))
		return
	}

	created := s.now().Unix()
	ids := pricing.Models()
	models := make([]openai.Model, 0, len(ids))
	for _, id := range ids {
		models = append(models, openai.Model{
			ID:        id,
			Object:    "model",
			CreatedAt: created,
			OwnedBy:   "telegen",
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"object": "list",
		"data":   models,
	})
}

func (s *openAIServer) handleUnknown(w http.ResponseWriter, r *http.Request) {
	writeOpenAIError(w, http.StatusNotFound, "invalid_request_error",
		fmt.Sprintf("Unknown request URL: %s %s", r.Method, r.URL.Path))
}

// generate pins the requested model and a success status; the remaining trace
// fields keep their drawn values.
func (s *openAIServer) generate(model string) *record.Trace {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := record.StatusSuccess
	return s.gen.GenerateTrace(&synth.TraceOverrides{Model: &model, Status: &status})
}

func writeOpenAIError(w http.ResponseWriter, status int, errType, message string) {
	writeJSON(w, status, openAIErrorEnvelope{Error: openAIErrorBody{
		Message: message,
		Type:    errType,
	}})
}

func completionID() string {
	return "chatcmpl-" + strings.ReplaceAll(uuid.NewString(), "-", "")
}
