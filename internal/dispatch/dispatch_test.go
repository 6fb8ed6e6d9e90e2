package dispatch

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/pkg/model"
	"github.com/MrWong99/parley/pkg/provider/llm"
	llmmock "github.com/MrWong99/parley/pkg/provider/llm/mock"
	ttsmock "github.com/MrWong99/parley/pkg/provider/tts/mock"
	"github.com/MrWong99/parley/pkg/types"
)

var testVoices = Voices{
	Local:  types.VoiceProfile{ID: "onyx", Provider: "openai"},
	Remote: types.VoiceProfile{ID: "alloy", Provider: "openai"},
}

type fixture struct {
	d        *Dispatcher
	backends map[model.ID]*llmmock.Provider
	synth    *ttsmock.Provider
	reader   *sdkmetric.ManualReader
}

// newFixture builds a Dispatcher whose backends each reply with
// "reply from <model>".
func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		backends: make(map[model.ID]*llmmock.Provider),
		synth:    &ttsmock.Provider{Audio: []byte("ID3-mp3-bytes")},
	}
	providers := make(map[model.ID]llm.Provider)
	for _, id := range model.All() {
		m := &llmmock.Provider{
			ProviderName:     "mock/" + string(id),
			CompleteResponse: &llm.CompletionResponse{Content: "reply from " + string(id)},
		}
		f.backends[id] = m
		providers[id] = m
	}

	f.reader = sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(f.reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	met, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	f.d, err = New(Config{Voices: testVoices}, providers, f.synth, WithMetrics(met))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return f
}

func (f *fixture) totalBackendCalls() int {
	n := 0
	for _, m := range f.backends {
		n += len(m.Calls())
	}
	return n
}

func TestNew_RequiresEveryModel(t *testing.T) {
	providers := map[model.ID]llm.Provider{}
	for _, id := range model.All() {
		providers[id] = &llmmock.Provider{}
	}
	delete(providers, model.LocalLlama)
	delete(providers, model.Perplexity)

	_, err := New(Config{Voices: testVoices}, providers, &ttsmock.Provider{})
	if err == nil {
		t.Fatal("expected error for missing backends")
	}
	for _, want := range []string{"local-llama", "perplexity"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not name %q", err, want)
		}
	}
}

func TestNew_Validation(t *testing.T) {
	full := map[model.ID]llm.Provider{}
	for _, id := range model.All() {
		full[id] = &llmmock.Provider{}
	}
	extra := map[model.ID]llm.Provider{"claude": &llmmock.Provider{}}
	for k, v := range full {
		extra[k] = v
	}

	tests := []struct {
		name     string
		cfg      Config
		backends map[model.ID]llm.Provider
		nilTTS   bool
		wantErr  error
	}{
		{name: "nil tts", cfg: Config{Voices: testVoices}, backends: full, nilTTS: true},
		{name: "missing local voice", cfg: Config{Voices: Voices{Remote: testVoices.Remote}}, backends: full},
		{name: "unknown model key", cfg: Config{Voices: testVoices}, backends: extra, wantErr: model.ErrUnsupported},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var synth *ttsmock.Provider
			if !tt.nilTTS {
				synth = &ttsmock.Provider{}
			}
			var err error
			if synth == nil {
				_, err = New(tt.cfg, tt.backends, nil)
			} else {
				_, err = New(tt.cfg, tt.backends, synth)
			}
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestDispatch_EndToEndUpgradedTier(t *testing.T) {
	f := newFixture(t)
	f.backends[model.GPT4].CompleteResponse = &llm.CompletionResponse{Content: "Entropy measures disorder."}

	resp, err := f.d.Dispatch(context.Background(), TurnRequest{
		Transcript: "gpt4 explain entropy",
		Model:      model.GPT4,
	})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	calls := f.backends[model.GPT4].Calls()
	if len(calls) != 1 {
		t.Fatalf("gpt4 backend calls = %d, want 1", len(calls))
	}
	req := calls[0].Req
	if req.SystemPrompt != DefaultSystemPrompt {
		t.Errorf("SystemPrompt = %q", req.SystemPrompt)
	}
	if len(req.Messages) != 1 || req.Messages[0].Role != types.RoleUser || req.Messages[0].Content != "explain entropy" {
		t.Errorf("Messages = %+v, want one user message %q", req.Messages, "explain entropy")
	}
	if n := f.totalBackendCalls(); n != 1 {
		t.Errorf("total backend calls = %d, want 1", n)
	}

	synth := f.synth.Calls()
	if len(synth) != 1 {
		t.Fatalf("synthesize calls = %d, want 1", len(synth))
	}
	if synth[0].Text != "Gpt4 here, Entropy measures disorder." {
		t.Errorf("synthesized text = %q", synth[0].Text)
	}
	if synth[0].Voice.ID != "alloy" {
		t.Errorf("voice = %q, want remote voice alloy", synth[0].Voice.ID)
	}

	if resp.MimeType != "audio/mp3" {
		t.Errorf("MimeType = %q", resp.MimeType)
	}
	if resp.Model != model.GPT4 {
		t.Errorf("Model = %q", resp.Model)
	}
	if !bytes.Equal(resp.Audio, []byte("ID3-mp3-bytes")) {
		t.Errorf("Audio = %q", resp.Audio)
	}
}

func TestDispatch_EveryModelRoundTrips(t *testing.T) {
	for _, id := range model.All() {
		t.Run(string(id), func(t *testing.T) {
			f := newFixture(t)
			resp, err := f.d.Dispatch(context.Background(), TurnRequest{Transcript: "hello there", Model: id})
			if err != nil {
				t.Fatalf("Dispatch: %v", err)
			}
			if resp.Model != id {
				t.Errorf("Model = %q, want %q", resp.Model, id)
			}
			if n := len(f.backends[id].Calls()); n != 1 {
				t.Errorf("%s backend calls = %d, want 1", id, n)
			}
			if n := f.totalBackendCalls(); n != 1 {
				t.Errorf("total backend calls = %d, want 1", n)
			}

			wantVoice := "alloy"
			if id.IsLocal() {
				wantVoice = "onyx"
			}
			call := f.synth.Calls()[0]
			if call.Voice.ID != wantVoice {
				t.Errorf("voice = %q, want %q", call.Voice.ID, wantVoice)
			}
			wantText := id.Title() + " here, reply from " + string(id)
			if call.Text != wantText {
				t.Errorf("text = %q, want %q", call.Text, wantText)
			}
		})
	}
}

func TestDispatch_ModelNormalization(t *testing.T) {
	tests := []struct {
		in   model.ID
		want model.ID
	}{
		{"", model.GPT},
		{"GPT4", model.GPT4},
		{" local-mistral ", model.LocalMistral},
	}
	for _, tt := range tests {
		f := newFixture(t)
		resp, err := f.d.Dispatch(context.Background(), TurnRequest{Transcript: "hi", Model: tt.in})
		if err != nil {
			t.Fatalf("Dispatch(%q): %v", tt.in, err)
		}
		if resp.Model != tt.want {
			t.Errorf("Dispatch(%q).Model = %q, want %q", tt.in, resp.Model, tt.want)
		}
	}
}

func TestDispatch_UnsupportedModel(t *testing.T) {
	f := newFixture(t)
	_, err := f.d.Dispatch(context.Background(), TurnRequest{Transcript: "claude hi", Model: "claude"})
	if !errors.Is(err, ErrUnsupportedModel) {
		t.Fatalf("err = %v, want ErrUnsupportedModel", err)
	}
	var de *Error
	if !errors.As(err, &de) || de.Model != "claude" {
		t.Errorf("error model = %+v", de)
	}
	if n := f.totalBackendCalls(); n != 0 {
		t.Errorf("backend calls = %d, want 0", n)
	}
	if n := len(f.synth.Calls()); n != 0 {
		t.Errorf("synthesize calls = %d, want 0", n)
	}
}

func TestDispatch_EmptyTranscript(t *testing.T) {
	for _, transcript := range []string{"", "   ", "\n\t"} {
		f := newFixture(t)
		_, err := f.d.Dispatch(context.Background(), TurnRequest{Transcript: transcript, Model: model.GPT})
		if !errors.Is(err, ErrValidation) {
			t.Errorf("Dispatch(%q) = %v, want ErrValidation", transcript, err)
		}
		if n := f.totalBackendCalls(); n != 0 {
			t.Errorf("backend calls = %d, want 0", n)
		}
	}
}

func TestDispatch_BackendFailure(t *testing.T) {
	errDown := errors.New("connection refused")
	tests := []struct {
		name    string
		resp    *llm.CompletionResponse
		err     error
		wantErr error
	}{
		{name: "error", err: errDown, wantErr: errDown},
		{name: "not configured", err: llm.ErrNotConfigured, wantErr: llm.ErrNotConfigured},
		{name: "empty content", resp: &llm.CompletionResponse{Content: "  "}, wantErr: llm.ErrEmptyResponse},
		{name: "nil response", wantErr: llm.ErrEmptyResponse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.backends[model.Perplexity].CompleteResponse = tt.resp
			f.backends[model.Perplexity].CompleteErr = tt.err

			_, err := f.d.Dispatch(context.Background(), TurnRequest{Transcript: "perplexity news", Model: model.Perplexity})
			if !errors.Is(err, ErrBackend) {
				t.Fatalf("err = %v, want ErrBackend", err)
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want wrapping %v", err, tt.wantErr)
			}
			if n := len(f.backends[model.Perplexity].Calls()); n != 1 {
				t.Errorf("backend calls = %d, want exactly 1", n)
			}
			if n := len(f.synth.Calls()); n != 0 {
				t.Errorf("synthesize calls = %d, want 0", n)
			}
		})
	}
}

func TestDispatch_SynthesisFailure(t *testing.T) {
	f := newFixture(t)
	f.synth.SynthesizeErr = errors.New("quota exceeded")

	_, err := f.d.Dispatch(context.Background(), TurnRequest{Transcript: "gpt hi", Model: model.GPT})
	if !errors.Is(err, ErrSynthesis) {
		t.Fatalf("err = %v, want ErrSynthesis", err)
	}
	if n := len(f.synth.Calls()); n != 1 {
		t.Errorf("synthesize calls = %d, want 1", n)
	}
}

func TestDispatch_EmptyAudioIsSynthesisFailure(t *testing.T) {
	f := newFixture(t)
	f.synth.Audio = nil

	_, err := f.d.Dispatch(context.Background(), TurnRequest{Transcript: "gpt hi"})
	if !errors.Is(err, ErrSynthesis) {
		t.Fatalf("err = %v, want ErrSynthesis", err)
	}
}

func TestDispatch_Idempotent(t *testing.T) {
	f := newFixture(t)
	req := TurnRequest{Transcript: "mixture tell me a joke", Model: model.Mixture}

	first, err := f.d.Dispatch(context.Background(), req)
	if err != nil {
		t.Fatalf("first Dispatch: %v", err)
	}
	second, err := f.d.Dispatch(context.Background(), req)
	if err != nil {
		t.Fatalf("second Dispatch: %v", err)
	}
	if !bytes.Equal(first.Audio, second.Audio) || first.MimeType != second.MimeType || first.Model != second.Model {
		t.Errorf("responses differ: %+v vs %+v", first, second)
	}
	calls := f.synth.Calls()
	if calls[0].Text != calls[1].Text {
		t.Errorf("synthesized texts differ: %q vs %q", calls[0].Text, calls[1].Text)
	}
}

func TestDispatch_CustomConfig(t *testing.T) {
	providers := map[model.ID]llm.Provider{}
	gpt := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "ok"}}
	for _, id := range model.All() {
		providers[id] = gpt
	}
	d, err := New(Config{
		SystemPrompt: "Be brief.",
		Voices:       testVoices,
		MaxTokens:    80,
		Temperature:  0.2,
	}, providers, &ttsmock.Provider{Audio: []byte{1}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := d.Dispatch(context.Background(), TurnRequest{Transcript: "gpt hi"}); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	req := gpt.Calls()[0].Req
	if req.SystemPrompt != "Be brief." || req.MaxTokens != 80 || req.Temperature != 0.2 {
		t.Errorf("request = %+v", req)
	}
}

func TestDispatch_RecordsTurnMetrics(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, _ = f.d.Dispatch(ctx, TurnRequest{Transcript: "gpt hi"})
	_, _ = f.d.Dispatch(ctx, TurnRequest{Transcript: "x", Model: "bogus"})

	var rm metricdata.ResourceMetrics
	if err := f.reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	got := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "parley.turns" {
				continue
			}
			for _, dp := range m.Data.(metricdata.Sum[int64]).DataPoints {
				mv, _ := dp.Attributes.Value("model")
				sv, _ := dp.Attributes.Value("status")
				got[mv.AsString()+"/"+sv.AsString()] += dp.Value
			}
		}
	}
	if got["gpt/ok"] != 1 {
		t.Errorf("gpt/ok = %d, want 1 (all: %v)", got["gpt/ok"], got)
	}
	if got["unknown/unsupported_model"] != 1 {
		t.Errorf("unknown/unsupported_model = %d, want 1 (all: %v)", got["unknown/unsupported_model"], got)
	}
}

func TestDispatch_TurnIDFromContext(t *testing.T) {
	ctx := WithTurnID(context.Background(), "turn-123")
	if got := TurnID(ctx); got != "turn-123" {
		t.Errorf("TurnID = %q", got)
	}
	if got := TurnID(context.Background()); got != "" {
		t.Errorf("TurnID(empty) = %q", got)
	}
}

func TestBuildPrompt(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"gpt4 explain entropy", "explain entropy"},
		{"GPT4 Explain  Entropy", "explain entropy"},
		{"local mistral please tell me a joke", "mistral please tell me a joke"},
		{"hello", "hello"},
		{"  Perplexity   What is new?  ", "what is new?"},
	}
	for _, tt := range tests {
		if got := BuildPrompt(tt.in); got != tt.want {
			t.Errorf("BuildPrompt(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestVoices_For(t *testing.T) {
	for _, id := range model.All() {
		got := testVoices.For(id).ID
		want := "alloy"
		if id == model.LocalMistral || id == model.LocalLlama {
			want = "onyx"
		}
		if got != want {
			t.Errorf("For(%s) = %q, want %q", id, got, want)
		}
	}
}

func TestError_Message(t *testing.T) {
	cause := errors.New("boom")
	tests := []struct {
		err  *Error
		want string
	}{
		{&Error{Kind: ErrValidation}, "dispatch: invalid request"},
		{&Error{Kind: ErrUnsupportedModel, Model: "claude"}, "dispatch: unsupported model: claude"},
		{&Error{Kind: ErrValidation, Err: cause}, "dispatch: invalid request: boom"},
		{&Error{Kind: ErrBackend, Model: model.GPT, Err: cause}, "dispatch: backend failure: gpt: boom"},
	}
	for _, tt := range tests {
		if got := tt.err.Error(); got != tt.want {
			t.Errorf("Error() = %q, want %q", got, tt.want)
		}
	}
	if !errors.Is(&Error{Kind: ErrBackend, Err: cause}, cause) {
		t.Error("errors.Is does not reach the cause")
	}
}
