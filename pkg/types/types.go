// Package types defines the values shared by parley's provider packages.
//
// Each provider package owns its request and response types; the handful of
// structures that cross package boundaries (chat messages, transcripts and
// voice selections) live here to avoid import cycles.
package types

// Chat message roles understood by every LLM adapter.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single entry in a chat completion request.
type Message struct {
	// Role is one of RoleSystem, RoleUser or RoleAssistant.
	Role string

	// Content is the text content of the message.
	Content string
}

// Transcript is a speech-to-text result. Interim and final results share
// this type and are told apart by IsFinal.
type Transcript struct {
	// Text is the recognised speech.
	Text string

	// IsFinal is true once the provider will no longer revise this segment.
	IsFinal bool

	// Confidence is the provider's overall confidence (0.0–1.0), zero when not
	// reported.
	Confidence float64
}

// VoiceProfile selects the voice used for speech synthesis.
type VoiceProfile struct {
	// ID is the provider-specific voice identifier ("alloy", an ElevenLabs
	// voice ID, ...).
	ID string

	// Name is the human-readable voice name.
	Name string

	// Provider names the TTS provider this voice belongs to.
	Provider string

	// SpeedFactor adjusts speaking rate (0.25–4.0). Zero means provider default.
	SpeedFactor float64
}
