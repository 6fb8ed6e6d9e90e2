// Package aggregator provides an LLM provider for third-party model
// aggregators (Perplexity and similar) that expose an OpenAI-compatible chat
// completion URL behind a bearer token.
//
// Requests go through the openai-go client pointed at the aggregator's host.
// Non-2xx responses are turned into a [StatusError] before the SDK sees them,
// because aggregators do not return OpenAI-shaped error bodies. Only the first
// choice of a response is used.
package aggregator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/MrWong99/parley/pkg/provider/llm"
	"github.com/MrWong99/parley/pkg/types"
)

const (
	defaultTimeout = 30 * time.Second

	// maxErrorBody bounds how much of a failed response is kept for the error.
	maxErrorBody = 512
)

var (
	// ErrUnauthorized is returned when the aggregator rejects the token.
	ErrUnauthorized = errors.New("aggregator: unauthorized")

	// ErrMalformedResponse is returned when the response body does not
	// contain choices[0].message.content.
	ErrMalformedResponse = errors.New("aggregator: malformed response")
)

// StatusError describes a non-2xx response from the aggregator.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("aggregator: status %d", e.StatusCode)
	}
	return fmt.Sprintf("aggregator: status %d: %s", e.StatusCode, e.Body)
}

// Provider implements llm.Provider for an aggregator completion endpoint.
// It is safe for concurrent use.
type Provider struct {
	client oai.Client
	path   string
	model  string
}

var _ llm.Provider = (*Provider)(nil)

type config struct {
	timeout    time.Duration
	httpClient *http.Client
}

// Option is a functional option for Provider.
type Option func(*config)

// WithTimeout sets the per-request HTTP timeout. Default: 30s.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// WithHTTPClient replaces the HTTP client. It takes precedence over
// WithTimeout.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *config) {
		c.httpClient = hc
	}
}

// New returns a Provider that posts to rawURL with the given bearer token and
// sends model as the aggregator-side model string.
func New(rawURL, token, model string, opts ...Option) (*Provider, error) {
	if rawURL == "" {
		return nil, errors.New("aggregator: url must not be empty")
	}
	if token == "" {
		return nil, errors.New("aggregator: token must not be empty")
	}
	if model == "" {
		return nil, errors.New("aggregator: model must not be empty")
	}
	base, path, err := splitURL(rawURL)
	if err != nil {
		return nil, err
	}

	cfg := config{timeout: defaultTimeout}
	for _, o := range opts {
		o(&cfg)
	}
	hc := cfg.httpClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.timeout}
	}

	client := oai.NewClient(
		option.WithBaseURL(base),
		option.WithAPIKey(token),
		option.WithMaxRetries(0),
		option.WithHTTPClient(hc),
		option.WithMiddleware(statusMiddleware),
	)
	return &Provider{client: client, path: path, model: model}, nil
}

// splitURL separates the scheme and host from the path, which is resolved
// against the base on every request.
func splitURL(rawURL string) (base, path string, err error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", fmt.Errorf("aggregator: parse url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", "", fmt.Errorf("aggregator: url %q must be absolute", rawURL)
	}
	path = strings.TrimPrefix(u.Path, "/")
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	return u.Scheme + "://" + u.Host + "/", path, nil
}

// statusMiddleware converts non-2xx responses into a *StatusError.
func statusMiddleware(req *http.Request, next option.MiddlewareNext) (*http.Response, error) {
	resp, err := next(req)
	if err != nil || (resp.StatusCode >= 200 && resp.StatusCode <= 299) {
		return resp, err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	statusErr := &StatusError{StatusCode: resp.StatusCode, Body: string(bytes.TrimSpace(body))}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, errors.Join(ErrUnauthorized, statusErr)
	}
	return nil, statusErr
}

// Name implements llm.Provider.
func (p *Provider) Name() string { return "aggregator/" + p.model }

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("aggregator: build request: no messages")
	}

	var raw []byte
	if err := p.client.Post(ctx, p.path, p.buildParams(req), &raw); err != nil {
		return nil, fmt.Errorf("aggregator: chat completion: %w", err)
	}

	var out oai.ChatCompletion
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}
	if len(out.Choices) == 0 {
		return nil, fmt.Errorf("%w: no choices[0].message", ErrMalformedResponse)
	}

	return &llm.CompletionResponse{
		Content: out.Choices[0].Message.Content,
		Model:   out.Model,
		Usage: llm.Usage{
			PromptTokens:     int(out.Usage.PromptTokens),
			CompletionTokens: int(out.Usage.CompletionTokens),
			TotalTokens:      int(out.Usage.TotalTokens),
		},
	}, nil
}

func (p *Provider) buildParams(req llm.CompletionRequest) oai.ChatCompletionNewParams {
	msgs := make([]oai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		msgs = append(msgs, oai.SystemMessage(req.SystemPrompt))
	}
	for _, m := range req.Messages {
		switch m.Role {
		case types.RoleSystem:
			msgs = append(msgs, oai.SystemMessage(m.Content))
		case types.RoleAssistant:
			msgs = append(msgs, oai.AssistantMessage(m.Content))
		default:
			msgs = append(msgs, oai.UserMessage(m.Content))
		}
	}

	params := oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(p.model),
		Messages: msgs,
	}
	// Aggregators take the classic max_tokens field.
	if req.MaxTokens > 0 {
		params.MaxTokens = param.NewOpt(int64(req.MaxTokens))
	}
	if req.Temperature != 0 {
		params.Temperature = param.NewOpt(req.Temperature)
	}
	return params
}
