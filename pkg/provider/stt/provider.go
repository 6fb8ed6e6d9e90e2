// Package stt defines the Provider interface for Speech-to-Text backends.
//
// An STT provider wraps a real-time transcription service (Deepgram, or a
// console reader for keyboard-driven sessions) and exposes a uniform streaming
// interface. Once opened, a session accepts raw PCM audio and emits two streams
// of Transcript values: low-latency partials that a later result may revise,
// and finals that the provider has committed to.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"

	"github.com/MrWong99/parley/pkg/types"
)

// ErrSessionClosed is returned by SendAudio after Close.
var ErrSessionClosed = errors.New("stt: session is closed")

// StreamConfig describes the audio format and recognition hints for a new
// session.
type StreamConfig struct {
	// SampleRate is the audio sample rate in Hz. Microphone capture uses 16000.
	SampleRate int

	// Channels is the number of audio channels. 1 = mono.
	Channels int

	// Language is the BCP-47 language tag for recognition (e.g., "en-US").
	// Empty lets the provider choose its default.
	Language string

	// Keywords are vocabulary hints, such as the spoken model names, that the
	// provider should favour when recognising speech.
	Keywords []string
}

// SessionHandle represents an open streaming session.
//
// Callers must call Close when the session is no longer needed.
type SessionHandle interface {
	// SendAudio delivers a chunk of 16-bit little-endian PCM matching the
	// StreamConfig. Calling SendAudio after Close returns ErrSessionClosed.
	SendAudio(chunk []byte) error

	// Partials emits interim transcripts. Closed when the session ends.
	Partials() <-chan types.Transcript

	// Finals emits committed transcripts. Closed when the session ends.
	Finals() <-chan types.Transcript

	// Close terminates the session. After Close returns, Partials and Finals
	// are closed. Calling Close more than once is safe.
	Close() error
}

// Provider is the abstraction over any STT backend.
type Provider interface {
	// StartStream opens a new transcription session. The caller owns the
	// returned SessionHandle.
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}
