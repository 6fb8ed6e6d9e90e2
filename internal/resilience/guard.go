package resilience

import (
	"context"

	"github.com/MrWong99/parley/pkg/provider/llm"
	"github.com/MrWong99/parley/pkg/provider/tts"
	"github.com/MrWong99/parley/pkg/types"
)

// GuardedLLM is an [llm.Provider] whose calls pass through a
// [CircuitBreaker].
type GuardedLLM struct {
	inner   llm.Provider
	breaker *CircuitBreaker
}

var _ llm.Provider = (*GuardedLLM)(nil)

// GuardLLM wraps p with cb.
func GuardLLM(p llm.Provider, cb *CircuitBreaker) *GuardedLLM {
	return &GuardedLLM{inner: p, breaker: cb}
}

// Complete forwards to the wrapped provider unless the breaker is open.
func (g *GuardedLLM) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	var resp *llm.CompletionResponse
	err := g.breaker.Execute(func() error {
		var err error
		resp, err = g.inner.Complete(ctx, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// Name returns the wrapped provider's name.
func (g *GuardedLLM) Name() string { return g.inner.Name() }

// Breaker returns the breaker guarding this provider.
func (g *GuardedLLM) Breaker() *CircuitBreaker { return g.breaker }

// Unwrap returns the guarded provider.
func (g *GuardedLLM) Unwrap() llm.Provider { return g.inner }

// GuardedTTS is a [tts.Provider] whose synthesis calls pass through a
// [CircuitBreaker]. Voice listing is not guarded.
type GuardedTTS struct {
	inner   tts.Provider
	breaker *CircuitBreaker
}

var _ tts.Provider = (*GuardedTTS)(nil)

// GuardTTS wraps p with cb.
func GuardTTS(p tts.Provider, cb *CircuitBreaker) *GuardedTTS {
	return &GuardedTTS{inner: p, breaker: cb}
}

// Synthesize forwards to the wrapped provider unless the breaker is open.
func (g *GuardedTTS) Synthesize(ctx context.Context, text string, voice types.VoiceProfile) ([]byte, error) {
	var audio []byte
	err := g.breaker.Execute(func() error {
		var err error
		audio, err = g.inner.Synthesize(ctx, text, voice)
		return err
	})
	if err != nil {
		return nil, err
	}
	return audio, nil
}

// ListVoices delegates to the wrapped provider.
func (g *GuardedTTS) ListVoices(ctx context.Context) ([]types.VoiceProfile, error) {
	return g.inner.ListVoices(ctx)
}

// Name returns the wrapped provider's name.
func (g *GuardedTTS) Name() string { return g.inner.Name() }
