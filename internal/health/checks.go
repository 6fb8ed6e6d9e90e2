package health

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/MrWong99/parley/pkg/model"
	"github.com/MrWong99/parley/pkg/provider/llm"
	"github.com/MrWong99/parley/pkg/provider/tts"
	"github.com/MrWong99/parley/pkg/types"
)

// unwrapper is implemented by provider decorators such as circuit breaker
// guards.
type unwrapper interface {
	Unwrap() llm.Provider
}

// Backends passes while at least one model has a configured backend.
func Backends(backends map[model.ID]llm.Provider) Checker {
	return Checker{
		Name: "backends",
		Check: func(context.Context) error {
			if len(Unconfigured(backends)) == len(backends) {
				return errors.New("no backend configured")
			}
			return nil
		},
	}
}

// Unconfigured returns the sorted IDs whose backend is an
// [llm.Unconfigured] placeholder.
func Unconfigured(backends map[model.ID]llm.Provider) []string {
	var out []string
	for id, p := range backends {
		if !configured(p) {
			out = append(out, string(id))
		}
	}
	slices.Sort(out)
	return out
}

func configured(p llm.Provider) bool {
	for {
		switch v := p.(type) {
		case nil:
			return false
		case llm.Unconfigured, *llm.Unconfigured:
			return false
		case unwrapper:
			p = v.Unwrap()
		default:
			return true
		}
	}
}

// Synthesizer passes when a TTS provider is present and configured.
func Synthesizer(p tts.Provider) Checker {
	return Checker{
		Name: "tts",
		Check: func(ctx context.Context) error {
			switch p.(type) {
			case nil:
				return errors.New("no tts provider")
			case tts.Unconfigured:
				_, err := p.Synthesize(ctx, "", types.VoiceProfile{})
				return err
			}
			return nil
		},
	}
}

// Voices fails when the TTS provider's catalogue lacks one of the wanted
// voices, matched by ID or name. A provider that lists no voices passes.
func Voices(p tts.Provider, wanted ...string) Checker {
	return Checker{
		Name: "voices",
		Check: func(ctx context.Context) error {
			if p == nil {
				return nil
			}
			list, err := p.ListVoices(ctx)
			if err != nil {
				return fmt.Errorf("list voices: %w", err)
			}
			if len(list) == 0 {
				return nil
			}
			var missing []string
			for _, w := range wanted {
				if !slices.ContainsFunc(list, func(v types.VoiceProfile) bool {
					return v.ID == w || strings.EqualFold(v.Name, w)
				}) {
					missing = append(missing, w)
				}
			}
			if len(missing) > 0 {
				return fmt.Errorf("%s does not offer voice %s", p.Name(), strings.Join(missing, ", "))
			}
			return nil
		},
	}
}

// Ping wraps a connectivity check, such as a Redis PING, as a Checker.
func Ping(name string, ping func(ctx context.Context) error) Checker {
	return Checker{
		Name: name,
		Check: func(ctx context.Context) error {
			if err := ping(ctx); err != nil {
				return fmt.Errorf("ping: %w", err)
			}
			return nil
		},
	}
}

// Breakers fails while every named breaker reports open. state returns the
// breaker states by name.
func Breakers(state func() map[string]string) Checker {
	return Checker{
		Name: "breakers",
		Check: func(context.Context) error {
			states := state()
			if len(states) == 0 {
				return nil
			}
			var open []string
			for name, s := range states {
				if s == "open" {
					open = append(open, name)
				}
			}
			if len(open) == len(states) {
				slices.Sort(open)
				return fmt.Errorf("all breakers open: %s", strings.Join(open, ", "))
			}
			return nil
		},
	}
}
