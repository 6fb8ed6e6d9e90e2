// Package anyllm provides the local-inference LLM provider backed by
// github.com/mozilla-ai/any-llm-go.
//
// It targets model servers running on the operator's own hardware: Ollama
// (the default), a llama.cpp server, or a llamafile. The server address is
// taken from anyllmlib.WithBaseURL.
//
// Usage:
//
//	p, err := anyllm.New(anyllm.KindOllama, "mistral", anyllmlib.WithBaseURL("http://gpu-box:11434"))
package anyllm

import (
	"context"
	"fmt"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/llamafile"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"

	"github.com/MrWong99/parley/pkg/provider/llm"
	"github.com/MrWong99/parley/pkg/types"
)

// Supported server kinds.
const (
	KindOllama    = "ollama"
	KindLlamaCpp  = "llamacpp"
	KindLlamaFile = "llamafile"
)

// Provider implements llm.Provider by wrapping an any-llm-go backend.
type Provider struct {
	backend anyllmlib.Provider
	kind    string
	model   string
}

var _ llm.Provider = (*Provider)(nil)

// New creates a Provider for the given server kind and open-weight model
// name (e.g. "mistral", "llama2").
//
// kind is one of KindOllama, KindLlamaCpp or KindLlamaFile. opts are
// any-llm-go options, typically anyllmlib.WithBaseURL.
func New(kind string, model string, opts ...anyllmlib.Option) (*Provider, error) {
	if kind == "" {
		return nil, fmt.Errorf("anyllm: kind must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("anyllm: model must not be empty")
	}

	kind = strings.ToLower(kind)
	backend, err := createBackend(kind, opts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: create %q backend: %w", kind, err)
	}

	return &Provider{backend: backend, kind: kind, model: model}, nil
}

func createBackend(kind string, opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
	switch kind {
	case KindOllama:
		return ollama.New(opts...)
	case KindLlamaCpp:
		return llamacpp.New(opts...)
	case KindLlamaFile:
		return llamafile.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported kind %q; supported: ollama, llamacpp, llamafile", kind)
	}
}

// Name implements llm.Provider.
func (p *Provider) Name() string { return p.kind + "/" + p.model }

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	if len(req.Messages) == 0 {
		return nil, fmt.Errorf("anyllm: build params: no messages")
	}

	resp, err := p.backend.Completion(ctx, p.buildParams(req))
	if err != nil {
		return nil, fmt.Errorf("anyllm: completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("anyllm: %w", llm.ErrEmptyResponse)
	}

	result := &llm.CompletionResponse{
		Content: resp.Choices[0].Message.ContentString(),
		Model:   p.model,
	}
	if resp.Usage != nil {
		result.Usage = llm.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}
	}
	return result, nil
}

// buildParams converts our CompletionRequest into anyllm CompletionParams.
func (p *Provider) buildParams(req llm.CompletionRequest) anyllmlib.CompletionParams {
	messages := make([]anyllmlib.Message, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		messages = append(messages, anyllmlib.Message{
			Role:    anyllmlib.RoleSystem,
			Content: req.SystemPrompt,
		})
	}
	for _, m := range req.Messages {
		messages = append(messages, convertMessage(m))
	}

	params := anyllmlib.CompletionParams{
		Model:    p.model,
		Messages: messages,
	}
	if req.Temperature != 0 {
		t := req.Temperature
		params.Temperature = &t
	}
	if req.MaxTokens > 0 {
		mt := req.MaxTokens
		params.MaxTokens = &mt
	}
	return params
}

func convertMessage(m types.Message) anyllmlib.Message {
	return anyllmlib.Message{Role: m.Role, Content: m.Content}
}
