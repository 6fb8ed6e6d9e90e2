package turn

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/MrWong99/parley/internal/dispatch"
	"github.com/MrWong99/parley/pkg/model"
)

// SendError is returned by [HTTPSender] for a non-2xx response.
type SendError struct {
	StatusCode int
	// Type and Message come from the server's error envelope when present.
	Type    string
	Message string
}

func (e *SendError) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("turn: server returned %d", e.StatusCode)
	}
	return fmt.Sprintf("turn: server returned %d (%s): %s", e.StatusCode, e.Type, e.Message)
}

// HTTPSenderOption configures an [HTTPSender].
type HTTPSenderOption func(*HTTPSender)

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) HTTPSenderOption {
	return func(s *HTTPSender) {
		s.client = c
	}
}

// HTTPSender posts turns to the chat endpoint as JSON. It never retries.
type HTTPSender struct {
	endpoint string
	client   *http.Client
}

var _ Sender = (*HTTPSender)(nil)

// NewHTTPSender returns a sender for endpoint, e.g.
// "http://localhost:3000/api/chat". The default client times out after 90s.
func NewHTTPSender(endpoint string, opts ...HTTPSenderOption) *HTTPSender {
	s := &HTTPSender{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 90 * time.Second},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

type wireRequest struct {
	Message string `json:"message"`
	Model   string `json:"model,omitempty"`
}

type wireResponse struct {
	Data        []byte `json:"data"`
	ContentType string `json:"contentType"`
	Model       string `json:"model"`
}

type wireError struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Send implements [Sender].
func (s *HTTPSender) Send(ctx context.Context, req dispatch.TurnRequest) (*dispatch.TurnResponse, error) {
	body, err := json.Marshal(wireRequest{Message: req.Transcript, Model: string(req.Model)})
	if err != nil {
		return nil, fmt.Errorf("turn: encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("turn: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("turn: post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		se := &SendError{StatusCode: resp.StatusCode}
		var we wireError
		if raw, rerr := io.ReadAll(io.LimitReader(resp.Body, 4096)); rerr == nil && json.Unmarshal(raw, &we) == nil {
			se.Type, se.Message = we.Error.Type, we.Error.Message
		}
		return nil, se
	}

	var wr wireResponse
	if err := json.NewDecoder(resp.Body).Decode(&wr); err != nil {
		return nil, fmt.Errorf("turn: decode response: %w", err)
	}
	id, err := model.Parse(wr.Model)
	if err != nil {
		return nil, fmt.Errorf("turn: response model: %w", err)
	}
	if len(wr.Data) == 0 {
		return nil, errors.New("turn: response carries no audio")
	}
	return &dispatch.TurnResponse{Audio: wr.Data, MimeType: wr.ContentType, Model: id}, nil
}
