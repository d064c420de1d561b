package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestConvertGeminiMessages(t *testing.T) {
	systemInstruction, contents := convertGeminiMessages([]Message{
		{Role: RoleSystem, Content: "grade fairly"},
		{Role: RoleUser, Content: "transcript"},
		{Role: RoleAssistant, Content: "noted"},
		{Role: RoleUser, Content: "now score it"},
	})

	if systemInstruction == nil || len(systemInstruction.Parts) != 1 || systemInstruction.Parts[0].Text != "grade fairly" {
		t.Fatalf("unexpected system instruction: %#v", systemInstruction)
	}
	if len(contents) != 3 {
		t.Fatalf("expected 3 conversation messages, got %d", len(contents))
	}
	if contents[1].Role != "model" || contents[1].Parts[0].Text != "noted" {
		t.Fatalf("expected assistant mapped to model role, got %#v", contents[1])
	}
}

func geminiReply(text string) map[string]any {
	return map[string]any{
		"candidates": []map[string]any{{
			"content": map[string]any{
				"parts": []map[string]any{{"text": text}},
				"role":  "model",
			},
			"finishReason": "STOP",
		}},
	}
}

func TestGeminiCompleteJSONSetsMIMEType(t *testing.T) {
	var captured struct {
		GenerationConfig struct {
			ResponseMIMEType string `json:"responseMimeType"`
		} `json:"generationConfig"`
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "gemini-test:generateContent") {
			t.Fatalf("unexpected path %q", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(geminiReply(`["Q1","Q2"]`))
	}))
	defer server.Close()

	client, err := newGeminiClient("test-key", "gemini-test", &clientOptions{baseURL: server.URL})
	if err != nil {
		t.Fatalf("newGeminiClient failed: %v", err)
	}

	got, err := client.CompleteJSON(context.Background(), []Message{{Role: RoleUser, Content: "questions"}})
	if err != nil {
		t.Fatalf("CompleteJSON failed: %v", err)
	}
	if got != `["Q1","Q2"]` {
		t.Fatalf("unexpected response %q", got)
	}
	if captured.GenerationConfig.ResponseMIMEType != "application/json" {
		t.Fatalf("expected JSON MIME type, got %q", captured.GenerationConfig.ResponseMIMEType)
	}
}

func TestGeminiCompleteEmptyResult(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(geminiReply(""))
	}))
	defer server.Close()

	client, err := newGeminiClient("test-key", "gemini-test", &clientOptions{baseURL: server.URL})
	if err != nil {
		t.Fatalf("newGeminiClient failed: %v", err)
	}

	_, err = client.Complete(context.Background(), []Message{{Role: RoleUser, Content: "hello"}})
	if err == nil || !strings.Contains(err.Error(), "empty response") {
		t.Fatalf("expected 'empty response' error, got %v", err)
	}
}

func TestGeminiRequiresUserMessage(t *testing.T) {
	client, err := newGeminiClient("test-key", "gemini-test", &clientOptions{baseURL: "http://127.0.0.1:1"})
	if err != nil {
		t.Fatalf("newGeminiClient failed: %v", err)
	}
	_, err = client.Complete(context.Background(), []Message{{Role: RoleSystem, Content: "only system"}})
	if err == nil || !strings.Contains(err.Error(), "no user message") {
		t.Fatalf("expected missing user message error, got %v", err)
	}
}
