package dispatch

import (
	"errors"
	"fmt"

	"github.com/MrWong99/parley/pkg/model"
)

// Error kinds. Every error returned by [Dispatcher.Dispatch] is an [*Error]
// whose Kind is one of these, so callers can classify with errors.Is.
var (
	// ErrValidation marks a request that was rejected before any backend
	// was contacted, e.g. an empty transcript.
	ErrValidation = errors.New("dispatch: invalid request")

	// ErrUnsupportedModel marks a request naming a model outside the closed
	// set. No backend is contacted.
	ErrUnsupportedModel = errors.New("dispatch: unsupported model")

	// ErrBackend marks a failed or empty completion from the LLM backend.
	ErrBackend = errors.New("dispatch: backend failure")

	// ErrSynthesis marks a failed or empty speech synthesis. The reply text
	// produced by the backend is discarded.
	ErrSynthesis = errors.New("dispatch: synthesis failure")
)

// Error is a classified dispatch failure.
type Error struct {
	// Kind is one of ErrValidation, ErrUnsupportedModel, ErrBackend or
	// ErrSynthesis.
	Kind error

	// Model is the model the turn was routed to. Empty for validation
	// failures and for the raw name given in unsupported-model failures.
	Model model.ID

	// Err is the underlying cause, if any.
	Err error
}

func (e *Error) Error() string {
	switch {
	case e.Err == nil && e.Model == "":
		return e.Kind.Error()
	case e.Err == nil:
		return fmt.Sprintf("%s: %s", e.Kind, e.Model)
	case e.Model == "":
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Model, e.Err)
	}
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// status is the metric label for an error kind.
func status(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrValidation):
		return "invalid_request"
	case errors.Is(err, ErrUnsupportedModel):
		return "unsupported_model"
	case errors.Is(err, ErrBackend):
		return "backend_error"
	case errors.Is(err, ErrSynthesis):
		return "synthesis_error"
	default:
		return "error"
	}
}
