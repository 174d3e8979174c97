package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestEmbedQuerySendsModelAndInput(t *testing.T) {
	var gotBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"embeddings": [][]float32{{0.1, 0.2, 0.3}},
		})
	}))
	defer server.Close()

	embedder := NewEmbedder(New(server.URL, "gen", "embed-model", Options{}))
	vector, err := embedder.EmbedQuery(context.Background(), "some text")
	if err != nil {
		t.Fatalf("EmbedQuery() error = %v", err)
	}
	if len(vector) != 3 {
		t.Fatalf("unexpected vector %v", vector)
	}
	if gotBody["model"] != "embed-model" {
		t.Fatalf("model not sent: %v", gotBody["model"])
	}
	input, ok := gotBody["input"].([]any)
	if !ok || len(input) != 1 || input[0] != "some text" {
		t.Fatalf("input not sent: %v", gotBody["input"])
	}
}

func TestEmbedQueryEmptyResult(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"embeddings": [][]float32{}})
	}))
	defer server.Close()

	embedder := NewEmbedder(New(server.URL, "gen", "embed", Options{}))
	if _, err := embedder.EmbedQuery(context.Background(), "text"); err == nil {
		t.Fatalf("expected error for empty embeddings")
	}
}

func TestGenerateBuildsPromptFromContext(t *testing.T) {
	var gotBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_ = json.NewEncoder(w).Encode(map[string]any{"response": "  the answer  "})
	}))
	defer server.Close()

	generator := NewGenerator(New(server.URL, "gen-model", "embed", Options{}))
	answer, err := generator.Generate(context.Background(), "why?", "[1] Source (2020)\nbody")
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if answer != "the answer" {
		t.Fatalf("response must be trimmed, got %q", answer)
	}
	if gotBody["model"] != "gen-model" || gotBody["stream"] != false {
		t.Fatalf("unexpected request: %v", gotBody)
	}
	prompt, _ := gotBody["prompt"].(string)
	if !strings.Contains(prompt, "why?") || !strings.Contains(prompt, "[1] Source (2020)") {
		t.Fatalf("prompt must embed the question and context, got %q", prompt)
	}
}

func TestPostStatusErrorClassification(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model loading", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	embedder := NewEmbedder(New(server.URL, "gen", "embed", Options{}))
	_, err := embedder.EmbedQuery(context.Background(), "text")
	if err == nil {
		t.Fatalf("expected status error")
	}
	outcome := classifyOllamaError(err)
	if !outcome.Retryable || !outcome.RecordFailure {
		t.Fatalf("503 must classify as retryable failure, got %+v", outcome)
	}

	outcome = classifyOllamaError(&HTTPStatusError{Operation: "embed", StatusCode: http.StatusBadRequest, Status: "400"})
	if outcome.Retryable {
		t.Fatalf("400 must not retry")
	}
}

func TestClassifyContextErrors(t *testing.T) {
	outcome := classifyOllamaError(context.Canceled)
	if outcome.Retryable || outcome.RecordFailure {
		t.Fatalf("cancellation must not retry or record, got %+v", outcome)
	}
	outcome = classifyOllamaError(context.DeadlineExceeded)
	if outcome.Retryable || outcome.RecordFailure {
		t.Fatalf("deadline must not retry or record, got %+v", outcome)
	}
}
