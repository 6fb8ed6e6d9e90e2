// Package model defines the closed set of chat model identifiers that parley
// can route a turn to, together with the backend family that serves each one.
//
// The identifier set is fixed at compile time. Anything outside of it is
// rejected by [Parse] with [ErrUnsupported], and every consumer that maps
// identifiers to something else (adapters, voices, keywords) is expected to
// cover all of [All].
package model

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// ErrUnsupported is returned (wrapped) by [Parse] for identifiers outside the
// closed set.
var ErrUnsupported = errors.New("model: unsupported model")

// ID identifies a chat model. The zero value is not a valid ID; callers that
// accept an optional model should substitute [Default].
type ID string

const (
	GPT          ID = "gpt"
	GPT4         ID = "gpt4"
	Perplexity   ID = "perplexity"
	Mixture      ID = "mixture"
	Mistral      ID = "mistral"
	Llama        ID = "llama"
	LocalMistral ID = "local-mistral"
	LocalLlama   ID = "local-llama"
)

// Default is used whenever no model was named or detected.
const Default = GPT

var all = []ID{GPT, GPT4, Perplexity, Mixture, Mistral, Llama, LocalMistral, LocalLlama}

// All returns every supported ID in declaration order. The returned slice is a
// copy and may be modified by the caller.
func All() []ID {
	out := make([]ID, len(all))
	copy(out, all)
	return out
}

// Backend is the adapter family that serves a model.
type Backend int

const (
	BackendUnknown Backend = iota
	// BackendHosted is the hosted GPT-style API (API key, two tiers).
	BackendHosted
	// BackendLocal is a locally running inference server.
	BackendLocal
	// BackendAggregator is a third-party aggregator behind a bearer token.
	BackendAggregator
)

// String implements fmt.Stringer.
func (b Backend) String() string {
	switch b {
	case BackendHosted:
		return "hosted"
	case BackendLocal:
		return "local"
	case BackendAggregator:
		return "aggregator"
	default:
		return "unknown"
	}
}

// Parse converts s into an ID. Surrounding whitespace and case are ignored.
// An empty string yields [Default]. Unknown names return an error wrapping
// [ErrUnsupported].
func Parse(s string) (ID, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return Default, nil
	}
	id := ID(s)
	if !id.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnsupported, s)
	}
	return id, nil
}

// Valid reports whether id is a member of the closed set.
func (id ID) Valid() bool {
	return id.Backend() != BackendUnknown
}

// String implements fmt.Stringer.
func (id ID) String() string { return string(id) }

// Backend returns the adapter family for id.
func (id ID) Backend() Backend {
	switch id {
	case GPT, GPT4:
		return BackendHosted
	case LocalMistral, LocalLlama:
		return BackendLocal
	case Perplexity, Mixture, Mistral, Llama:
		return BackendAggregator
	default:
		return BackendUnknown
	}
}

// IsLocal reports whether id is served by the local inference backend.
func (id ID) IsLocal() bool {
	return id.Backend() == BackendLocal
}

// Title returns id with its first letter upper-cased, e.g. "Gpt4" or
// "Local-mistral". It is used as the speaker name in spoken replies.
func (id ID) Title() string {
	s := string(id)
	if s == "" {
		return ""
	}
	r, size := utf8.DecodeRuneInString(s)
	return string(unicode.ToUpper(r)) + s[size:]
}
