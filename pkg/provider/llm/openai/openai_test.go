package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/MrWong99/parley/pkg/provider/llm"
	"github.com/MrWong99/parley/pkg/types"
)

// chatServer answers every chat completion request with reply and records the
// decoded request body.
func chatServer(t *testing.T, status int, reply string, got *map[string]any, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer sk-test" {
			t.Errorf("Authorization = %q, want %q", auth, "Bearer sk-test")
		}
		if got != nil {
			if err := json.NewDecoder(r.Body).Decode(got); err != nil {
				t.Errorf("decode request: %v", err)
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status != http.StatusOK {
			_, _ = w.Write([]byte(`{"error":{"message":"boom","type":"server_error"}}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 1,
			"model":   "gpt-4",
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": reply},
			}},
			"usage": map[string]any{"prompt_tokens": 7, "completion_tokens": 3, "total_tokens": 10},
		})
	}))
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	if _, err := New("", "gpt-4"); err == nil {
		t.Error("expected error for empty apiKey")
	}
	if _, err := New("sk-test", ""); err == nil {
		t.Error("expected error for empty model")
	}
}

func TestComplete(t *testing.T) {
	t.Parallel()

	var (
		body  map[string]any
		calls atomic.Int32
	)
	srv := chatServer(t, http.StatusOK, "Entropy measures disorder.", &body, &calls)
	defer srv.Close()

	p, err := New("sk-test", "gpt-4", WithBaseURL(srv.URL+"/v1/"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	resp, err := p.Complete(context.Background(), llm.UserPrompt("Be brief.", "explain entropy"))
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != "Entropy measures disorder." {
		t.Errorf("Content = %q", resp.Content)
	}
	if resp.Usage.TotalTokens != 10 {
		t.Errorf("TotalTokens = %d, want 10", resp.Usage.TotalTokens)
	}
	if body["model"] != "gpt-4" {
		t.Errorf("request model = %v, want gpt-4", body["model"])
	}
	msgs, _ := body["messages"].([]any)
	if len(msgs) != 2 {
		t.Fatalf("request messages = %d, want 2", len(msgs))
	}
	first, _ := msgs[0].(map[string]any)
	if first["role"] != "system" || first["content"] != "Be brief." {
		t.Errorf("first message = %v, want system prompt", first)
	}
	if p.Name() != "openai/gpt-4" {
		t.Errorf("Name() = %q", p.Name())
	}
}

func TestComplete_ErrorIsNotRetried(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := chatServer(t, http.StatusInternalServerError, "", nil, &calls)
	defer srv.Close()

	p, err := New("sk-test", "gpt-3.5-turbo", WithBaseURL(srv.URL+"/v1/"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := p.Complete(context.Background(), llm.UserPrompt("", "hi")); err == nil {
		t.Fatal("expected error")
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("server saw %d requests, want 1", n)
	}
}

func TestComplete_NoMessages(t *testing.T) {
	t.Parallel()

	p, err := New("sk-test", "gpt-4", WithBaseURL("http://127.0.0.1:1/"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = p.Complete(context.Background(), llm.CompletionRequest{})
	if err == nil || errors.Is(err, llm.ErrEmptyResponse) {
		t.Fatalf("err = %v, want build params error", err)
	}
}

func TestConvertMessage(t *testing.T) {
	t.Parallel()

	if m, err := convertMessage(types.Message{Role: types.RoleSystem, Content: "x"}); err != nil || m.OfSystem == nil {
		t.Errorf("system: %v", err)
	}
	if m, err := convertMessage(types.Message{Role: types.RoleUser, Content: "x"}); err != nil || m.OfUser == nil {
		t.Errorf("user: %v", err)
	}
	if m, err := convertMessage(types.Message{Role: types.RoleAssistant, Content: "x"}); err != nil || m.OfAssistant == nil {
		t.Errorf("assistant: %v", err)
	}
	if _, err := convertMessage(types.Message{Role: "tool"}); err == nil {
		t.Error("expected error for unknown role")
	}
}
