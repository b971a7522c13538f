package stub

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"

	openai "github.com/sashabaranov/go-openai"

	"github.com/langobservatory/telegen/internal/pricing"
	"github.com/langobservatory/telegen/internal/synth"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newOpenAIClient(baseURL string) *openai.Client {
	cfg := openai.DefaultConfig("sk-test-key")
	cfg.BaseURL = baseURL + "/v1"
	return openai.NewClientWithConfig(cfg)
}

func TestOpenAIStubServesChatCompletionsThroughSDK(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(NewOpenAIHandler(synth.New(synth.WithSeed(11)), discardLogger()))
	defer server.Close()

	client := newOpenAIClient(server.URL)
	resp, err := client.CreateChatCompletion(context.Background(), openai.ChatCompletionRequest{
		Model: "gpt-4",
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: "What is the capital of France?"},
		},
	})
	if err != nil {
		t.Fatalf("CreateChatCompletion() error: %v", err)
	}

	if !strings.HasPrefix(resp.ID, "chatcmpl-") {
		t.Errorf("completion id = %q, want chatcmpl- prefix", resp.ID)
	}
	if resp.Model != "gpt-4" {
		t.Errorf("model = %q, want %q", resp.Model, "gpt-4")
	}
	if len(resp.Choices) != 1 {
		t.Fatalf("len(choices) = %d, want 1", len(resp.Choices))
	}
	choice := resp.Choices[0]
	if choice.Message.Role != openai.ChatMessageRoleAssistant {
		t.Errorf("choice role = %q, want %q", choice.Message.Role, openai.ChatMessageRoleAssistant)
	}
	if choice.Message.Content == "" {
		t.Error("choice content is empty")
	}
	if choice.FinishReason != openai.FinishReasonStop {
		t.Errorf("finish reason = %q, want %q", choice.FinishReason, openai.FinishReasonStop)
	}
	if resp.Usage.PromptTokens < 10 || resp.Usage.PromptTokens > 500 {
		t.Errorf("prompt tokens = %d, want within [10, 500]", resp.Usage.PromptTokens)
	}
	if resp.Usage.CompletionTokens < 20 || resp.Usage.CompletionTokens > 800 {
		t.Errorf("completion tokens = %d, want within [20, 800]", resp.Usage.CompletionTokens)
	}
	if got, want := resp.Usage.TotalTokens, resp.Usage.PromptTokens+resp.Usage.CompletionTokens; got != want {
		t.Errorf("total tokens = %d, want %d", got, want)
	}
}

func TestOpenAIStubEchoesRequestedModel(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(NewOpenAIHandler(synth.New(synth.WithSeed(29)), discardLogger()))
	defer server.Close()

	client := newOpenAIClient(server.URL)
	for _, model := range []string{"claude-3-haiku", "mixtral-8x7b"} {
		resp, err := client.CreateChatCompletion(context.Background(), openai.ChatCompletionRequest{
			Model: model,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleUser, Content: "Hello"},
			},
		})
		if err != nil {
			t.Fatalf("CreateChatCompletion(%s) error: %v", model, err)
		}
		if resp.Model != model {
			t.Errorf("model = %q, want %q", resp.Model, model)
		}
	}
}

func TestOpenAIStubListsModels(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(NewOpenAIHandler(synth.New(synth.WithSeed(3)), discardLogger()))
	defer server.Close()

	client := newOpenAIClient(server.URL)
	list, err := client.ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels() error: %v", err)
	}

	got := make([]string, 0, len(list.Models))
	for _, model := range list.Models {
		got = append(got, model.ID)
	}
	if want := pricing.Models(); !reflect.DeepEqual(got, want) {
		t.Fatalf("model ids = %v, want %v", got, want)
	}
}

func TestOpenAIStubRejectsInvalidRequests(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(NewOpenAIHandler(synth.New(synth.WithSeed(5)), discardLogger()))
	t.Cleanup(server.Close)

	tests := []struct {
		name        string
		body        string
		wantMessage string
	}{
		{
			name:        "missing model",
			body:        `{"messages":[{"role":"user","content":"hi"}]}`,
			wantMessage: "you must provide a model parameter",
		},
		{
			name:        "missing messages",
			body:        `{"model":"gpt-4"}`,
			wantMessage: "[] is too short - 'messages'",
		},
		{
			name:        "malformed json",
			body:        `{"model":`,
			wantMessage: "could not parse the JSON body",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			resp, err := http.Post(server.URL+"/v1/chat/completions", "application/json", strings.NewReader(tt.body))
			if err != nil {
				t.Fatalf("POST /v1/chat/completions: %v", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusBadRequest {
				t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
			}
			var envelope openAIErrorEnvelope
			if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
				t.Fatalf("decode error envelope: %v", err)
			}
			if envelope.Error.Type != "invalid_request_error" {
				t.Errorf("error type = %q, want %q", envelope.Error.Type, "invalid_request_error")
			}
			if !strings.Contains(envelope.Error.Message, tt.wantMessage) {
				t.Errorf("error message = %q, want substring %q", envelope.Error.Message, tt.wantMessage)
			}
		})
	}
}

func TestOpenAIStubUnknownRouteSurfacesAsAPIError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(NewOpenAIHandler(synth.New(synth.WithSeed(7)), discardLogger()))
	defer server.Close()

	client := newOpenAIClient(server.URL)
	_, err := client.GetModel(context.Background(), "gpt-4")
	if err == nil {
		t.Fatal("GetModel() error = nil, want APIError")
	}

	var apiErr *openai.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("GetModel() error = %v (%T), want *openai.APIError", err, err)
	}
	if apiErr.HTTPStatusCode != http.StatusNotFound {
		t.Errorf("http status = %d, want %d", apiErr.HTTPStatusCode, http.StatusNotFound)
	}
	if !strings.Contains(apiErr.Message, "Unknown request URL") {
		t.Errorf("message = %q, want substring %q", apiErr.Message, "Unknown request URL")
	}
}

func TestOpenAIStubRejectsNonPostCompletions(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(NewOpenAIHandler(synth.New(synth.WithSeed(13)), discardLogger()))
	defer server.Close()

	resp, err := http.Get(server.URL + "/v1/chat/completions")
	if err != nil {
		t.Fatalf("GET /v1/chat/completions: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusMethodNotAllowed)
	}
}
