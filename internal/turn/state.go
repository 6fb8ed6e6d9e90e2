package turn

import "github.com/MrWong99/parley/pkg/model"

// Phase is the position of the [Controller] in the turn cycle.
type Phase int

const (
	// PhaseIdle: microphone off, nothing in flight.
	PhaseIdle Phase = iota

	// PhaseListening: recording and accumulating transcript. While the
	// silence timer is armed the controller is debouncing.
	PhaseListening

	// PhaseSending: the frozen transcript has been sent and the reply is
	// awaited.
	PhaseSending

	// PhasePlaying: the reply audio is being played.
	PhasePlaying
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseListening:
		return "listening"
	case PhaseSending:
		return "sending"
	case PhasePlaying:
		return "playing"
	default:
		return "unknown"
	}
}

// State is a snapshot of the conversation. Recording and Playing are never
// both true.
type State struct {
	Phase Phase

	// Recording is true while the microphone feeds the transcriber.
	Recording bool

	// Playing is true while reply audio is playing.
	Playing bool

	// Transcript is the text captured for the current or last turn.
	Transcript string

	// Model is the model that answered the last turn, or the one answering
	// right now while Playing.
	Model model.ID

	// Debouncing is true while Listening with an armed silence timer.
	Debouncing bool
}
