// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a speech synthesis service (the OpenAI speech
// endpoint, ElevenLabs) and turns a complete reply into a single MP3 clip.
// parley answers with one short clip per turn, so synthesis is a blocking
// call rather than a stream.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/parley/pkg/types"
)

// MimeTypeMP3 is the content type of every clip returned by a Provider.
const MimeTypeMP3 = "audio/mp3"

// ErrEmptyAudio is returned when a provider completes without producing any
// audio bytes.
var ErrEmptyAudio = errors.New("tts: provider returned no audio")

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Synthesize renders text with voice and returns the encoded MP3 clip.
	// An empty result is reported as ErrEmptyAudio, never as (nil, nil).
	Synthesize(ctx context.Context, text string, voice types.VoiceProfile) ([]byte, error)

	// ListVoices returns the voice profiles available from this provider.
	ListVoices(ctx context.Context) ([]types.VoiceProfile, error)

	// Name identifies the provider in logs and metrics.
	Name() string
}

// ErrNotConfigured is returned by [Unconfigured] providers.
var ErrNotConfigured = errors.New("tts: provider not configured")

// Unconfigured is a Provider that fails every synthesis with
// [ErrNotConfigured]. It stands in for a provider whose API key was absent at
// startup.
type Unconfigured struct {
	// Provider names the provider, e.g. "openai".
	Provider string
	// Missing names the absent setting, e.g. "OPENAI_API_KEY".
	Missing string
}

var _ Provider = Unconfigured{}

// Synthesize implements Provider.
func (u Unconfigured) Synthesize(context.Context, string, types.VoiceProfile) ([]byte, error) {
	if u.Missing == "" {
		return nil, fmt.Errorf("%s: %w", u.Provider, ErrNotConfigured)
	}
	return nil, fmt.Errorf("%s: %w: %s is not set", u.Provider, ErrNotConfigured, u.Missing)
}

// ListVoices implements Provider. It returns no voices.
func (u Unconfigured) ListVoices(context.Context) ([]types.VoiceProfile, error) {
	return nil, nil
}

// Name implements Provider.
func (u Unconfigured) Name() string { return u.Provider + "/unconfigured" }
