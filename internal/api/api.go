// Package api exposes the turn dispatcher over HTTP.
//
// Routes:
//
//   - POST /api/chat: answer one turn. Body {"message": string,
//     "model": string}; reply {"data": base64 MP3, "contentType":
//     "audio/mp3", "model": string}.
//   - GET /api/models: list the supported model identifiers.
//
// Failures use the envelope {"error": {"type": ..., "message": ...}} with
// type invalid_request, unsupported_model or server_error. Backend and
// synthesis failures are reported with a generic message; their details are
// only logged.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/parley/internal/dispatch"
	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/pkg/model"
)

// DefaultMaxBodyBytes caps the size of a chat request body.
const DefaultMaxBodyBytes = 64 << 10

// TurnIDHeader carries the identifier of the answered turn.
const TurnIDHeader = "X-Turn-ID"

// Error types used in the error envelope.
const (
	ErrTypeInvalidRequest   = "invalid_request"
	ErrTypeUnsupportedModel = "unsupported_model"
	ErrTypeServer           = "server_error"
)

// Dispatcher answers turns. *dispatch.Dispatcher implements it.
type Dispatcher interface {
	Dispatch(ctx context.Context, req dispatch.TurnRequest) (*dispatch.TurnResponse, error)
}

// Option configures a [Handler].
type Option func(*Handler)

// WithMaxBodyBytes overrides [DefaultMaxBodyBytes].
func WithMaxBodyBytes(n int64) Option {
	return func(h *Handler) {
		h.maxBody = n
	}
}

// WithTimeout bounds each turn. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(h *Handler) {
		h.timeout = d
	}
}

// Handler serves the chat API.
type Handler struct {
	dispatcher Dispatcher
	maxBody    int64
	timeout    time.Duration
}

// New returns a Handler that answers turns with d.
func New(d Dispatcher, opts ...Option) *Handler {
	h := &Handler{dispatcher: d, maxBody: DefaultMaxBodyBytes}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Register adds the API routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/chat", h.Chat)
	mux.HandleFunc("GET /api/models", h.Models)
}

// chatRequest is the wire form of a turn request. Message is a pointer so a
// missing field can be told apart from an empty one.
type chatRequest struct {
	Message *string `json:"message"`
	Model   string  `json:"model"`
}

// chatResponse is the wire form of a turn response. Data is base64 encoded
// by encoding/json.
type chatResponse struct {
	Data        []byte `json:"data"`
	ContentType string `json:"contentType"`
	Model       string `json:"model"`
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Chat answers one turn.
func (h *Handler) Chat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeError(w, http.StatusMethodNotAllowed, ErrTypeInvalidRequest, "method not allowed")
		return
	}

	turnID := uuid.NewString()
	w.Header().Set(TurnIDHeader, turnID)
	ctx := dispatch.WithTurnID(r.Context(), turnID)
	log := observe.Logger(ctx).With("turn_id", turnID)

	var body chatRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err := dec.Decode(&body); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, ErrTypeInvalidRequest,
				fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
			return
		}
		log.Debug("malformed chat request", "err", err)
		writeError(w, http.StatusBadRequest, ErrTypeInvalidRequest, "request body must be a JSON object with a string \"message\"")
		return
	}
	if body.Message == nil {
		writeError(w, http.StatusBadRequest, ErrTypeInvalidRequest, "\"message\" is required")
		return
	}

	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	resp, err := h.dispatcher.Dispatch(ctx, dispatch.TurnRequest{
		Transcript: *body.Message,
		Model:      model.ID(body.Model),
	})
	if err != nil {
		h.writeDispatchError(w, log, err)
		return
	}

	writeJSON(w, http.StatusOK, chatResponse{
		Data:        resp.Audio,
		ContentType: resp.MimeType,
		Model:       string(resp.Model),
	})
}

func (h *Handler) writeDispatchError(w http.ResponseWriter, log *slog.Logger, err error) {
	switch {
	case errors.Is(err, dispatch.ErrValidation):
		writeError(w, http.StatusBadRequest, ErrTypeInvalidRequest, "\"message\" must not be empty")
	case errors.Is(err, dispatch.ErrUnsupportedModel):
		var de *dispatch.Error
		name := ""
		if errors.As(err, &de) {
			name = string(de.Model)
		}
		writeError(w, http.StatusBadRequest, ErrTypeUnsupportedModel, fmt.Sprintf("unsupported model %q", name))
	default:
		log.Error("turn failed", "err", err)
		writeError(w, http.StatusInternalServerError, ErrTypeServer, "the turn could not be answered")
	}
}

type modelInfo struct {
	ID      string `json:"id"`
	Backend string `json:"backend"`
	Default bool   `json:"default,omitempty"`
}

// Models lists the supported model identifiers and their backend family.
func (h *Handler) Models(w http.ResponseWriter, _ *http.Request) {
	ids := model.All()
	out := make([]modelInfo, 0, len(ids))
	for _, id := range ids {
		out = append(out, modelInfo{ID: string(id), Backend: id.Backend().String(), Default: id == model.Default})
	}
	writeJSON(w, http.StatusOK, map[string]any{"models": out})
}

func writeError(w http.ResponseWriter, status int, typ, msg string) {
	writeJSON(w, status, errorBody{Error: errorDetail{Type: typ, Message: msg}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("api: failed to write response", "err", err)
	}
}
