package model

import (
	"slices"
	"strings"
)

// detectWindow is the number of leading transcript tokens that are searched
// for a model keyword.
const detectWindow = 3

// keyword maps a spoken phrase to the model it selects.
type keyword struct {
	phrase string
	id     ID
}

// keywords is the spoken-form table in declaration order. Detector sorts a
// copy by descending phrase length.
var keywords = []keyword{
	{"local mistral", LocalMistral},
	{"local llama", LocalLlama},
	{"perplexity", Perplexity},
	{"mixture", Mixture},
	{"mixtral", Mixture},
	{"mistral", Mistral},
	{"llama", Llama},
	{"gpt-4", GPT4},
	{"gpt 4", GPT4},
	{"gpt4", GPT4},
	{"gpt", GPT},
}

// Detector selects a model from the opening words of a transcript.
// A Detector is read-only after construction and safe for concurrent use.
type Detector struct {
	sorted   []keyword
	phonetic *phoneticMatcher
}

// DetectorOption configures a [Detector].
type DetectorOption func(*Detector)

// WithPhonetic enables a sound-alike fallback for single-word keywords
// ("mist roll", "lamma"). It only runs when no keyword matched literally.
func WithPhonetic() DetectorOption {
	return func(d *Detector) {
		d.phonetic = newPhoneticMatcher(defaultPhoneticThreshold)
	}
}

// WithPhoneticThreshold enables the phonetic fallback with a custom minimum
// Jaro-Winkler score.
func WithPhoneticThreshold(threshold float64) DetectorOption {
	return func(d *Detector) {
		d.phonetic = newPhoneticMatcher(threshold)
	}
}

// NewDetector builds a Detector over the built-in keyword table.
func NewDetector(opts ...DetectorOption) *Detector {
	d := &Detector{sorted: slices.Clone(keywords)}
	// Longest phrase first so "local mistral" beats "mistral". Stable sort
	// keeps declaration order for equal lengths.
	slices.SortStableFunc(d.sorted, func(a, b keyword) int {
		return len(b.phrase) - len(a.phrase)
	})
	for _, o := range opts {
		o(d)
	}
	return d
}

// Detect returns the model named in the first three tokens of transcript, or
// [Default] when none is found.
func (d *Detector) Detect(transcript string) ID {
	tokens := leadingTokens(transcript, detectWindow)
	if len(tokens) == 0 {
		return Default
	}
	window := strings.Join(tokens, " ")
	for _, k := range d.sorted {
		if strings.Contains(window, k.phrase) {
			return k.id
		}
	}
	if d.phonetic != nil {
		if id, ok := d.phonetic.match(tokens, d.sorted); ok {
			return id
		}
	}
	return Default
}

// Keywords returns the distinct spoken phrases the detector listens for.
// Transcription providers use them as recognition hints.
func (d *Detector) Keywords() []string {
	out := make([]string, 0, len(d.sorted))
	for _, k := range d.sorted {
		out = append(out, k.phrase)
	}
	return out
}

// Detect is shorthand for NewDetector().Detect(transcript).
func Detect(transcript string) ID {
	return defaultDetector.Detect(transcript)
}

var defaultDetector = NewDetector()

func leadingTokens(s string, n int) []string {
	fields := strings.Fields(strings.ToLower(s))
	if len(fields) > n {
		fields = fields[:n]
	}
	return fields
}
