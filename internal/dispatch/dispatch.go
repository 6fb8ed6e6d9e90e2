// Package dispatch implements the server side of a turn: it validates a
// transcribed utterance, routes it to the LLM backend of the selected model,
// prefixes the reply with the model's spoken name, and synthesizes it to MP3.
//
// A [Dispatcher] is built once per process from explicit collaborators and
// holds no other state, so concurrent turns are independent and a turn with
// deterministic collaborators always produces the same response.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/pkg/model"
	"github.com/MrWong99/parley/pkg/provider/llm"
	"github.com/MrWong99/parley/pkg/provider/tts"
	"github.com/MrWong99/parley/pkg/types"
)

// MimeTypeMP3 is the content type of every [TurnResponse].
const MimeTypeMP3 = tts.MimeTypeMP3

// DefaultSystemPrompt keeps replies short enough to be played back while the
// user waits.
const DefaultSystemPrompt = "Answer in one or two short sentences suitable for being spoken aloud."

var errEmptyMessage = errors.New("message must not be empty")

// replyIntro separates the model's spoken name from its reply.
const replyIntro = " here, "

// TurnRequest is one utterance to answer.
type TurnRequest struct {
	// Transcript is the user's utterance, including any leading model
	// keyword. Required.
	Transcript string

	// Model selects the backend. The zero value means [model.Default].
	// Values outside the closed set are rejected with ErrUnsupportedModel.
	Model model.ID
}

// TurnResponse is the synthesized reply.
type TurnResponse struct {
	// Audio is the encoded reply.
	Audio []byte

	// MimeType is always [MimeTypeMP3].
	MimeType string

	// Model is the model that answered.
	Model model.ID
}

// Voices holds the two-voice policy: one voice for models served by the
// local inference backend, another for everything else.
type Voices struct {
	Local  types.VoiceProfile
	Remote types.VoiceProfile
}

// For returns the voice used for replies from id.
func (v Voices) For(id model.ID) types.VoiceProfile {
	if id.IsLocal() {
		return v.Local
	}
	return v.Remote
}

// Config holds the dispatcher's fixed turn parameters.
type Config struct {
	// SystemPrompt is sent with every completion. Empty uses
	// [DefaultSystemPrompt].
	SystemPrompt string

	// Voices selects the synthesis voice per model.
	Voices Voices

	// MaxTokens caps each completion. Zero leaves it to the backend.
	MaxTokens int

	// Temperature is passed through to the backend. Zero leaves it to the
	// backend.
	Temperature float64
}

// Option configures a [Dispatcher].
type Option func(*Dispatcher)

// WithMetrics records turn and provider metrics to m instead of
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

// Dispatcher answers turns. It is safe for concurrent use.
type Dispatcher struct {
	cfg      Config
	backends map[model.ID]llm.Provider
	synth    tts.Provider
	metrics  *observe.Metrics
}

// New returns a Dispatcher. backends must hold a provider for every ID in
// [model.All]; use [llm.Unconfigured] for backends that lack credentials.
func New(cfg Config, backends map[model.ID]llm.Provider, synth tts.Provider, opts ...Option) (*Dispatcher, error) {
	if synth == nil {
		return nil, errors.New("dispatch: tts provider is nil")
	}
	var missing []string
	for _, id := range model.All() {
		if backends[id] == nil {
			missing = append(missing, string(id))
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("dispatch: no backend for %s", strings.Join(missing, ", "))
	}
	for id := range backends {
		if !id.Valid() {
			return nil, fmt.Errorf("dispatch: backend registered for %q: %w", id, model.ErrUnsupported)
		}
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = DefaultSystemPrompt
	}
	if cfg.Voices.Local.ID == "" || cfg.Voices.Remote.ID == "" {
		return nil, errors.New("dispatch: both local and remote voices are required")
	}

	d := &Dispatcher{
		cfg:      cfg,
		backends: maps.Clone(backends),
		synth:    synth,
	}
	for _, o := range opts {
		o(d)
	}
	if d.metrics == nil {
		d.metrics = observe.DefaultMetrics()
	}
	return d, nil
}

// Backends returns the provider name serving each model.
func (d *Dispatcher) Backends() map[model.ID]string {
	out := make(map[model.ID]string, len(d.backends))
	for id, p := range d.backends {
		out[id] = p.Name()
	}
	return out
}

// Dispatch answers one turn. Every returned error is an [*Error]; see its
// Kind for classification. No step is retried.
func (d *Dispatcher) Dispatch(ctx context.Context, req TurnRequest) (resp *TurnResponse, err error) {
	start := time.Now()
	turnID := TurnID(ctx)
	if turnID == "" {
		turnID = uuid.NewString()
		ctx = WithTurnID(ctx, turnID)
	}

	ctx, span := observe.StartSpan(ctx, "dispatch.turn",
		trace.WithAttributes(attribute.String("turn.id", turnID)))
	defer span.End()

	d.metrics.ActiveTurns.Add(ctx, 1)
	defer d.metrics.ActiveTurns.Add(ctx, -1)

	log := observe.Logger(ctx).With("turn_id", turnID)

	// label stays "unknown" until the model is known to be in the closed
	// set, so arbitrary client input never becomes a metric label.
	label := "unknown"
	defer func() {
		d.metrics.RecordTurn(ctx, label, status(err), time.Since(start))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, status(err))
		}
	}()

	if strings.TrimSpace(req.Transcript) == "" {
		return nil, &Error{Kind: ErrValidation, Err: errEmptyMessage}
	}
	id, perr := model.Parse(string(req.Model))
	if perr != nil {
		log.Warn("unsupported model requested", "model", string(req.Model))
		return nil, &Error{Kind: ErrUnsupportedModel, Model: req.Model}
	}
	label = string(id)
	span.SetAttributes(attribute.String("model", string(id)))
	log = log.With("model", string(id))

	prompt := BuildPrompt(req.Transcript)
	log.Debug("dispatching turn", "prompt", prompt)

	reply, err := d.complete(ctx, id, prompt)
	if err != nil {
		log.Error("backend failed", "backend", d.backends[id].Name(), "err", err)
		return nil, &Error{Kind: ErrBackend, Model: id, Err: err}
	}

	text := id.Title() + replyIntro + reply
	audio, err := d.synthesize(ctx, text, d.cfg.Voices.For(id))
	if err != nil {
		log.Error("synthesis failed", "tts", d.synth.Name(), "err", err)
		return nil, &Error{Kind: ErrSynthesis, Model: id, Err: err}
	}

	log.Info("turn answered",
		"reply_chars", len(text),
		"audio_bytes", len(audio),
		"duration", time.Since(start))
	return &TurnResponse{Audio: audio, MimeType: MimeTypeMP3, Model: id}, nil
}

func (d *Dispatcher) complete(ctx context.Context, id model.ID, prompt string) (string, error) {
	backend := d.backends[id]
	req := llm.UserPrompt(d.cfg.SystemPrompt, prompt)
	req.MaxTokens = d.cfg.MaxTokens
	req.Temperature = d.cfg.Temperature

	start := time.Now()
	resp, err := backend.Complete(ctx, req)
	d.metrics.LLMDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(attribute.String("provider", backend.Name())))
	if err == nil && (resp == nil || strings.TrimSpace(resp.Content) == "") {
		err = llm.ErrEmptyResponse
	}
	if err != nil {
		d.metrics.RecordProviderRequest(ctx, backend.Name(), "llm", "error")
		d.metrics.RecordProviderError(ctx, backend.Name(), "llm")
		return "", err
	}
	d.metrics.RecordProviderRequest(ctx, backend.Name(), "llm", "ok")
	return strings.TrimSpace(resp.Content), nil
}

func (d *Dispatcher) synthesize(ctx context.Context, text string, voice types.VoiceProfile) ([]byte, error) {
	start := time.Now()
	audio, err := d.synth.Synthesize(ctx, text, voice)
	d.metrics.TTSDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(attribute.String("provider", d.synth.Name())))
	if err == nil && len(audio) == 0 {
		err = tts.ErrEmptyAudio
	}
	if err != nil {
		d.metrics.RecordProviderRequest(ctx, d.synth.Name(), "tts", "error")
		d.metrics.RecordProviderError(ctx, d.synth.Name(), "tts")
		return nil, err
	}
	d.metrics.RecordProviderRequest(ctx, d.synth.Name(), "tts", "ok")
	return audio, nil
}

// BuildPrompt drops the first word of transcript, which names the model or
// is a filler word, and lowercases the rest. Words are rejoined with single
// spaces. A one-word transcript is used whole.
func BuildPrompt(transcript string) string {
	fields := strings.Fields(strings.ToLower(transcript))
	if len(fields) > 1 {
		fields = fields[1:]
	}
	return strings.Join(fields, " ")
}

type turnIDKey struct{}

// WithTurnID returns ctx carrying id as the turn identifier used in logs.
func WithTurnID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, turnIDKey{}, id)
}

// TurnID returns the turn identifier stored in ctx, or "".
func TurnID(ctx context.Context) string {
	id, _ := ctx.Value(turnIDKey{}).(string)
	return id
}
