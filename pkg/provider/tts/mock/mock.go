// Package mock provides a test double for the tts.Provider interface.
//
// Use Provider to feed controlled audio to consumers and to verify that the
// correct text and VoiceProfile reach the TTS backend.
//
// Example:
//
//	p := &mock.Provider{Audio: []byte("mp3")}
//	audio, _ := p.Synthesize(ctx, "hello", voice)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/parley/pkg/provider/tts"
	"github.com/MrWong99/parley/pkg/types"
)

// SynthesizeCall records a single invocation of Synthesize.
type SynthesizeCall struct {
	// Ctx is the context passed to Synthesize.
	Ctx context.Context
	// Text is the text passed to Synthesize.
	Text string
	// Voice is the VoiceProfile passed to Synthesize.
	Voice types.VoiceProfile
}

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// Audio is returned by Synthesize. A nil or empty slice yields
	// tts.ErrEmptyAudio, matching the real providers.
	Audio []byte

	// SynthesizeErr, if non-nil, is returned from Synthesize.
	SynthesizeErr error

	// ListVoicesResult is returned by ListVoices.
	ListVoicesResult []types.VoiceProfile

	// ListVoicesErr, if non-nil, is returned from ListVoices.
	ListVoicesErr error

	// SynthesizeCalls records every invocation of Synthesize in order.
	SynthesizeCalls []SynthesizeCall
}

var _ tts.Provider = (*Provider)(nil)

// Synthesize implements tts.Provider.
func (p *Provider) Synthesize(ctx context.Context, text string, voice types.VoiceProfile) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SynthesizeCalls = append(p.SynthesizeCalls, SynthesizeCall{Ctx: ctx, Text: text, Voice: voice})
	if p.SynthesizeErr != nil {
		return nil, p.SynthesizeErr
	}
	if len(p.Audio) == 0 {
		return nil, tts.ErrEmptyAudio
	}
	out := make([]byte, len(p.Audio))
	copy(out, p.Audio)
	return out, nil
}

// ListVoices implements tts.Provider.
func (p *Provider) ListVoices(context.Context) ([]types.VoiceProfile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ListVoicesResult, p.ListVoicesErr
}

// Name implements tts.Provider.
func (p *Provider) Name() string { return "mock" }

// Calls returns a snapshot of the recorded Synthesize invocations.
func (p *Provider) Calls() []SynthesizeCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]SynthesizeCall, len(p.SynthesizeCalls))
	copy(out, p.SynthesizeCalls)
	return out
}
