package anyllm

import (
	"context"
	"testing"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/parley/pkg/provider/llm"
	"github.com/MrWong99/parley/pkg/types"
)

func TestNew_EmptyKind(t *testing.T) {
	if _, err := New("", "mistral"); err == nil {
		t.Fatal("expected error for empty kind")
	}
}

func TestNew_EmptyModel(t *testing.T) {
	if _, err := New(KindOllama, ""); err == nil {
		t.Fatal("expected error for empty model")
	}
}

// Hosted clouds are not local inference servers.
func TestNew_UnsupportedKind(t *testing.T) {
	if _, err := New("openai", "gpt-4o", anyllmlib.WithAPIKey("dummy")); err == nil {
		t.Fatal("expected error for unsupported kind")
	}
}

func TestNew_Kinds(t *testing.T) {
	tests := []struct {
		name     string
		fn       func() (*Provider, error)
		wantName string
	}{
		{"ollama", func() (*Provider, error) {
			return New(KindOllama, "mistral", anyllmlib.WithBaseURL("http://127.0.0.1:11434"))
		}, "ollama/mistral"},
		{"llamacpp", func() (*Provider, error) { return New(KindLlamaCpp, "llama2") }, "llamacpp/llama2"},
		{"llamafile", func() (*Provider, error) { return New(KindLlamaFile, "llama2") }, "llamafile/llama2"},
		{"New uppercase kind", func() (*Provider, error) { return New("OLLAMA", "llama2") }, "ollama/llama2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := tt.fn()
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got := p.Name(); got != tt.wantName {
				t.Errorf("Name() = %q, want %q", got, tt.wantName)
			}
		})
	}
}

func TestBuildParams(t *testing.T) {
	p := &Provider{model: "mistral"}
	req := llm.UserPrompt("Answer briefly.", "tell me a joke")
	req.MaxTokens = 80
	req.Temperature = 0.4

	params := p.buildParams(req)
	if params.Model != "mistral" {
		t.Errorf("Model = %q, want mistral", params.Model)
	}
	if len(params.Messages) != 2 {
		t.Fatalf("len(Messages) = %d, want 2", len(params.Messages))
	}
	if params.Messages[0].Role != anyllmlib.RoleSystem {
		t.Errorf("Messages[0].Role = %q, want system", params.Messages[0].Role)
	}
	if got := params.Messages[1].ContentString(); got != "tell me a joke" {
		t.Errorf("Messages[1] content = %q", got)
	}
	if params.MaxTokens == nil || *params.MaxTokens != 80 {
		t.Errorf("MaxTokens = %v, want 80", params.MaxTokens)
	}
	if params.Temperature == nil || *params.Temperature != 0.4 {
		t.Errorf("Temperature = %v, want 0.4", params.Temperature)
	}
}

func TestBuildParams_NoSystemPrompt(t *testing.T) {
	p := &Provider{model: "llama2"}
	params := p.buildParams(llm.CompletionRequest{
		Messages: []types.Message{{Role: types.RoleUser, Content: "hi"}},
	})
	if len(params.Messages) != 1 {
		t.Fatalf("len(Messages) = %d, want 1", len(params.Messages))
	}
	if params.MaxTokens != nil || params.Temperature != nil {
		t.Error("expected unset optional params")
	}
}

func TestComplete_NoMessages(t *testing.T) {
	p, err := New(KindOllama, "mistral")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := p.Complete(context.Background(), llm.CompletionRequest{}); err == nil {
		t.Fatal("expected error for empty request")
	}
}
