package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/parley/internal/config"
	"github.com/MrWong99/parley/internal/health"
	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/internal/resilience"
	"github.com/MrWong99/parley/pkg/model"
	"github.com/MrWong99/parley/pkg/provider/llm"
	"github.com/MrWong99/parley/pkg/provider/llm/aggregator"
	"github.com/MrWong99/parley/pkg/provider/llm/anyllm"
	"github.com/MrWong99/parley/pkg/provider/llm/openai"
	"github.com/MrWong99/parley/pkg/provider/tts"
	"github.com/MrWong99/parley/pkg/provider/tts/cache"
	"github.com/MrWong99/parley/pkg/provider/tts/elevenlabs"
	oaitts "github.com/MrWong99/parley/pkg/provider/tts/openai"
)

// ttsKeyEnv names the environment variable that supplies each TTS
// provider's key. Used in request-time errors when the key is missing.
var ttsKeyEnv = map[string]string{
	"openai":     "OPENAI_API_KEY",
	"elevenlabs": "ELEVENLABS_API_KEY",
}

// registerBuiltinProviders wires the TTS factories that ship with parley
// into reg.
func registerBuiltinProviders(reg *config.Registry) {
	reg.RegisterTTS("openai", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []oaitts.Option
		if entry.Model != "" {
			opts = append(opts, oaitts.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, oaitts.WithBaseURL(entry.BaseURL))
		}
		return oaitts.New(entry.APIKey, opts...)
	})

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if f := config.OptString(entry.Options, "output_format"); f != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(f))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})

	slog.Debug("registered providers", "tts", reg.Names("tts"))
}

// ── Circuit breakers ──────────────────────────────────────────────────────────

// breakerSet creates and tracks the circuit breakers placed in front of each
// backend and the synthesizer.
type breakerSet struct {
	cfg     config.CircuitBreakerConfig
	metrics *observe.Metrics

	mu     sync.Mutex
	byName map[string]*resilience.CircuitBreaker
}

func newBreakerSet(cfg config.CircuitBreakerConfig, m *observe.Metrics) *breakerSet {
	return &breakerSet{cfg: cfg, metrics: m, byName: make(map[string]*resilience.CircuitBreaker)}
}

func (s *breakerSet) enabled() bool { return s.cfg.MaxFailures > 0 }

func (s *breakerSet) breaker(name string) *resilience.CircuitBreaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:         name,
		MaxFailures:  s.cfg.MaxFailures,
		ResetTimeout: s.cfg.ResetTimeout,
		OnStateChange: func(name string, to resilience.State) {
			s.metrics.RecordCircuitStateChange(context.Background(), name, to.String())
		},
	})
	s.byName[name] = cb
	return cb
}

// guardLLM wraps p in a breaker. Placeholders for unconfigured backends are
// left bare so their error stays visible.
func (s *breakerSet) guardLLM(id model.ID, p llm.Provider) llm.Provider {
	if !s.enabled() {
		return p
	}
	if _, ok := p.(llm.Unconfigured); ok {
		return p
	}
	return resilience.GuardLLM(p, s.breaker("llm/"+string(id)))
}

func (s *breakerSet) guardTTS(p tts.Provider) tts.Provider {
	if !s.enabled() {
		return p
	}
	if _, ok := p.(tts.Unconfigured); ok {
		return p
	}
	return resilience.GuardTTS(p, s.breaker("tts/"+p.Name()))
}

// States returns each breaker's current state by name.
func (s *breakerSet) States() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.byName))
	for name, cb := range s.byName {
		out[name] = cb.State().String()
	}
	return out
}

// ── Backends ──────────────────────────────────────────────────────────────────

// buildBackends returns a provider for every model ID. A backend whose
// secret or URL is missing is represented by an [llm.Unconfigured] so that
// its models fail at request time while the others keep working.
func buildBackends(cfg config.BackendsConfig, breakers *breakerSet) (map[model.ID]llm.Provider, error) {
	backends := make(map[model.ID]llm.Provider, len(model.All()))

	for _, id := range model.All() {
		var (
			p   llm.Provider
			err error
		)
		switch id.Backend() {
		case model.BackendHosted:
			p, err = hostedBackend(cfg.Hosted, id)
		case model.BackendLocal:
			p, err = localBackend(cfg.Local, id)
		case model.BackendAggregator:
			p, err = aggregatorBackend(cfg.Aggregator, id)
		default:
			err = fmt.Errorf("%w: %q", model.ErrUnsupported, id)
		}
		if err != nil {
			return nil, fmt.Errorf("backend for %s: %w", id, err)
		}
		backends[id] = breakers.guardLLM(id, p)
	}
	return backends, nil
}

func hostedBackend(cfg config.HostedConfig, id model.ID) (llm.Provider, error) {
	if cfg.APIKey == "" {
		return llm.Unconfigured{Backend: "hosted", Missing: "OPENAI_API_KEY"}, nil
	}
	name := cfg.DefaultModel
	if id == model.GPT4 {
		name = cfg.UpgradedModel
	}
	var opts []openai.Option
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, openai.WithTimeout(cfg.Timeout))
	}
	return openai.New(cfg.APIKey, name, opts...)
}

func localBackend(cfg config.LocalConfig, id model.ID) (llm.Provider, error) {
	if cfg.BaseURL == "" {
		return llm.Unconfigured{Backend: "local", Missing: "LOCAL_INFERENCE_URL"}, nil
	}
	return anyllm.New(cfg.Kind, cfg.Models[string(id)], anyllmlib.WithBaseURL(cfg.BaseURL))
}

func aggregatorBackend(cfg config.AggregatorConfig, id model.ID) (llm.Provider, error) {
	switch {
	case cfg.URL == "":
		return llm.Unconfigured{Backend: "aggregator", Missing: "AGGREGATOR_URL"}, nil
	case cfg.Token == "":
		return llm.Unconfigured{Backend: "aggregator", Missing: "AGGREGATOR_TOKEN"}, nil
	}
	var opts []aggregator.Option
	if cfg.Timeout > 0 {
		opts = append(opts, aggregator.WithTimeout(cfg.Timeout))
	}
	return aggregator.New(cfg.URL, cfg.Token, cfg.Models[string(id)], opts...)
}

// ── Speech synthesis ──────────────────────────────────────────────────────────

// synthesizer is the assembled TTS stack: the configured provider behind a
// breaker and, optionally, a clip cache.
type synthesizer struct {
	// Provider is what the dispatcher calls.
	Provider tts.Provider

	// Raw is the bare provider, for readiness checks.
	Raw tts.Provider

	// Ping checks the cache store. Nil unless the store is remote.
	Ping func(ctx context.Context) error

	closers []func() error
}

// Close releases the cache store connection, if any.
func (s *synthesizer) Close() {
	for _, c := range s.closers {
		if err := c(); err != nil {
			slog.Warn("close synthesizer resource", "err", err)
		}
	}
}

func buildSynthesizer(cfg *config.Config, reg *config.Registry, breakers *breakerSet) (*synthesizer, error) {
	var raw tts.Provider
	if cfg.TTS.APIKey == "" {
		raw = tts.Unconfigured{Provider: cfg.TTS.Name, Missing: ttsKeyEnv[cfg.TTS.Name]}
		slog.Warn("tts provider has no API key; every turn will fail", "provider", cfg.TTS.Name)
	} else {
		p, err := reg.CreateTTS(cfg.TTS)
		if err != nil {
			return nil, fmt.Errorf("create tts provider %q: %w", cfg.TTS.Name, err)
		}
		raw = p
	}

	s := &synthesizer{Raw: raw, Provider: breakers.guardTTS(raw)}

	opts := []cache.Option{cache.WithTTL(cfg.Cache.TTL), cache.WithLogger(slog.Default())}
	switch cfg.Cache.Store {
	case config.CacheMemory:
		s.Provider = cache.New(s.Provider, cache.NewMemoryStore(cache.WithMaxEntries(cfg.Cache.MaxEntries)), opts...)
	case config.CacheRedis:
		store, err := cache.NewRedisStore(cfg.Cache.RedisURL)
		if err != nil {
			return nil, err
		}
		s.Provider = cache.New(s.Provider, store, opts...)
		s.Ping = store.Ping
		s.closers = append(s.closers, store.Close)
	}
	return s, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config, backends map[model.ID]llm.Provider) {
	fmt.Println("╔═══════════════════════════════════════════════╗")
	fmt.Println("║            parley: startup summary            ║")
	fmt.Println("╠═══════════════════════════════════════════════╣")
	for _, id := range model.All() {
		fmt.Printf("║  %-14s: %-29s ║\n", id, backends[id].Name())
	}
	fmt.Printf("║  %-14s: %-29s ║\n", "tts", cfg.TTS.Name)
	store := string(cfg.Cache.Store)
	if store == "" {
		store = string(config.CacheNone)
	}
	fmt.Printf("║  %-14s: %-29s ║\n", "cache", store)
	fmt.Printf("║  %-14s: %-29s ║\n", "listen", cfg.Server.ListenAddr)
	fmt.Println("╚═══════════════════════════════════════════════╝")
	if missing := health.Unconfigured(backends); len(missing) > 0 {
		slog.Warn("models without a configured backend will fail at request time", "models", missing)
	}
}
