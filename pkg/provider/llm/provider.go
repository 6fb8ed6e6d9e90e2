// Package llm defines the Provider interface for chat completion backends.
//
// An LLM provider wraps a remote or local model API (the hosted OpenAI API,
// a local Ollama server, or a third-party aggregator) and exposes a single
// blocking completion call so the turn dispatcher can stay ignorant of any
// particular SDK.
//
// Implementations must be safe for concurrent use and must not retry failed
// requests: a turn is attempted exactly once.
package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/parley/pkg/types"
)

// ErrNotConfigured is returned by [Unconfigured] providers. It marks a
// backend whose credentials or endpoint were missing at startup.
var ErrNotConfigured = errors.New("llm: backend not configured")

// ErrEmptyResponse is returned when a backend answers successfully but
// without any choices.
var ErrEmptyResponse = errors.New("llm: empty choices in response")

// Usage holds token accounting information returned by the backend.
// Counts are zero when the backend does not report them.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest carries everything the backend needs to produce a reply.
// Messages must be non-empty.
type CompletionRequest struct {
	// SystemPrompt is an instruction sent ahead of Messages with the system
	// role. Empty means no system message.
	SystemPrompt string

	// Messages is the ordered conversation. The dispatcher sends a single
	// user message per turn.
	Messages []types.Message

	// Temperature controls output randomness. Zero means provider default.
	Temperature float64

	// MaxTokens caps the completion length. Zero means provider default.
	MaxTokens int
}

// CompletionResponse is the backend's reply.
type CompletionResponse struct {
	// Content is the assistant's reply text.
	Content string

	// Model is the model name the backend reports having used. May be empty.
	Model string

	// Usage contains token accounting for this request.
	Usage Usage
}

// Provider is the abstraction over any chat completion backend.
type Provider interface {
	// Complete sends req to the backend and waits for the full reply.
	// Returns an error if the request fails or ctx is cancelled first.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// Name identifies the backend and model for logs and metrics, e.g.
	// "openai/gpt-4".
	Name() string
}

// UserPrompt builds a request with a single user message.
func UserPrompt(systemPrompt, prompt string) CompletionRequest {
	return CompletionRequest{
		SystemPrompt: systemPrompt,
		Messages:     []types.Message{{Role: types.RoleUser, Content: prompt}},
	}
}

// Unconfigured is a Provider that fails every call with [ErrNotConfigured].
// It stands in for a backend whose secret or URL is absent, so that a missing
// setting surfaces as a failed turn instead of a failed startup.
type Unconfigured struct {
	// Backend names the backend, e.g. "aggregator".
	Backend string
	// Missing names the absent setting, e.g. "AGGREGATOR_TOKEN".
	Missing string
}

var _ Provider = Unconfigured{}

// Complete implements Provider.
func (u Unconfigured) Complete(context.Context, CompletionRequest) (*CompletionResponse, error) {
	if u.Missing == "" {
		return nil, fmt.Errorf("%s: %w", u.Backend, ErrNotConfigured)
	}
	return nil, fmt.Errorf("%s: %w: %s is not set", u.Backend, ErrNotConfigured, u.Missing)
}

// Name implements Provider.
func (u Unconfigured) Name() string { return u.Backend + "/unconfigured" }
