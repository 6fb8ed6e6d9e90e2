package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/MrWong99/parley/pkg/model"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"tts": {"openai", "elevenlabs"},
	"stt": {"deepgram", "console"},
}

// LocalKinds lists the supported local inference servers.
var LocalKinds = []string{"ollama", "llamacpp", "llamafile"}

// envOverride binds an environment variable to a config field.
type envOverride struct {
	name  string
	apply func(cfg *Config, v string)
}

// envOverrides are applied after the YAML file, in order. Later entries win
// when two variables target the same field.
var envOverrides = []envOverride{
	{"PARLEY_LISTEN_ADDR", func(c *Config, v string) { c.Server.ListenAddr = v }},
	{"PARLEY_LOG_LEVEL", func(c *Config, v string) { c.Server.LogLevel = LogLevel(strings.ToLower(v)) }},
	{"OPENAI_API_KEY", func(c *Config, v string) {
		c.Backends.Hosted.APIKey = v
		if c.TTS.Name == "openai" && c.TTS.APIKey == "" {
			c.TTS.APIKey = v
		}
	}},
	{"ELEVENLABS_API_KEY", func(c *Config, v string) {
		if c.TTS.Name == "elevenlabs" {
			c.TTS.APIKey = v
		}
	}},
	{"LOCAL_INFERENCE_URL", func(c *Config, v string) { c.Backends.Local.BaseURL = v }},
	{"AGGREGATOR_URL", func(c *Config, v string) { c.Backends.Aggregator.URL = v }},
	{"AGGREGATOR_TOKEN", func(c *Config, v string) { c.Backends.Aggregator.Token = v }},
	{"REDIS_URL", func(c *Config, v string) {
		c.Cache.RedisURL = v
		c.Cache.Store = CacheRedis
	}},
	{"DEEPGRAM_API_KEY", func(c *Config, v string) {
		if c.Client.STT.Name == "deepgram" {
			c.Client.STT.APIKey = v
		}
	}},
}

// LoadDotEnv loads KEY=VALUE pairs from the given files (".env" when none are
// given) into the process environment. Missing files are ignored and
// variables already set are left alone.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("config: load %q: %w", p, err)
		}
	}
	return nil
}

// Load reads the YAML configuration file at path on top of [Default], applies
// environment overrides, and validates the result. A missing file is not an
// error: the defaults and the environment are used as they are.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		slog.Info("config file not found, using defaults and environment", "path", path)
		data = nil
	} else if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}

	cfg, err := parse(data)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r on top of [Default], applies
// environment overrides, and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	return parse(data)
}

func parse(data []byte) (*Config, error) {
	cfg := Default()
	if len(bytes.TrimSpace(data)) > 0 {
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil {
			return nil, fmt.Errorf("config: decode yaml: %w", err)
		}
	}
	ApplyEnv(cfg, os.LookupEnv)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides cfg with the non-empty variables returned by lookup.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) {
	for _, o := range envOverrides {
		if v, ok := lookup(o.name); ok && v != "" {
			o.apply(cfg, v)
		}
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
//
// Missing secrets are not validation failures: the affected models fail at
// request time instead, and a warning is logged here.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.ListenAddr == "" {
		errs = append(errs, errors.New("server.listen_addr is required"))
	}
	if cfg.Server.RequestTimeout < 0 {
		errs = append(errs, fmt.Errorf("server.request_timeout %s must not be negative", cfg.Server.RequestTimeout))
	}
	if cfg.Server.MaxBodyBytes < 0 {
		errs = append(errs, fmt.Errorf("server.max_body_bytes %d must not be negative", cfg.Server.MaxBodyBytes))
	}

	// Dispatch
	if cfg.Dispatch.Voices.Local == "" {
		errs = append(errs, errors.New("dispatch.voices.local is required"))
	}
	if cfg.Dispatch.Voices.Remote == "" {
		errs = append(errs, errors.New("dispatch.voices.remote is required"))
	}
	if cfg.Dispatch.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("dispatch.max_tokens %d must not be negative", cfg.Dispatch.MaxTokens))
	}
	if t := cfg.Dispatch.Temperature; t < 0 || t > 2 {
		errs = append(errs, fmt.Errorf("dispatch.temperature %.2f is out of range [0, 2]", t))
	}

	// Backends
	b := cfg.Backends
	if b.Hosted.DefaultModel == "" {
		errs = append(errs, errors.New("backends.hosted.default_model is required"))
	}
	if b.Hosted.UpgradedModel == "" {
		errs = append(errs, errors.New("backends.hosted.upgraded_model is required"))
	}
	if b.Hosted.APIKey == "" {
		slog.Warn("hosted backend has no API key; gpt and gpt4 turns will fail", "env", "OPENAI_API_KEY")
	}
	if !slices.Contains(LocalKinds, strings.ToLower(b.Local.Kind)) {
		errs = append(errs, fmt.Errorf("backends.local.kind %q is invalid; valid values: %s", b.Local.Kind, strings.Join(LocalKinds, ", ")))
	}
	errs = append(errs, validateModels("backends.local.models", b.Local.Models, model.BackendLocal)...)
	errs = append(errs, validateModels("backends.aggregator.models", b.Aggregator.Models, model.BackendAggregator)...)
	if b.Aggregator.URL == "" || b.Aggregator.Token == "" {
		slog.Warn("aggregator backend is incomplete; its turns will fail", "env", "AGGREGATOR_URL, AGGREGATOR_TOKEN")
	}
	if b.CircuitBreaker.MaxFailures < 0 {
		errs = append(errs, fmt.Errorf("backends.circuit_breaker.max_failures %d must not be negative", b.CircuitBreaker.MaxFailures))
	}
	if b.CircuitBreaker.ResetTimeout < 0 {
		errs = append(errs, fmt.Errorf("backends.circuit_breaker.reset_timeout %s must not be negative", b.CircuitBreaker.ResetTimeout))
	}

	// TTS
	if cfg.TTS.Name == "" {
		errs = append(errs, errors.New("tts.name is required"))
	}
	validateProviderName("tts", cfg.TTS.Name)

	// Cache
	if cfg.Cache.Store != "" && !cfg.Cache.Store.IsValid() {
		errs = append(errs, fmt.Errorf("cache.store %q is invalid; valid values: none, memory, redis", cfg.Cache.Store))
	}
	if cfg.Cache.Store == CacheRedis && cfg.Cache.RedisURL == "" {
		errs = append(errs, errors.New("cache.redis_url is required when cache.store is redis"))
	}
	if cfg.Cache.MaxEntries < 0 {
		errs = append(errs, fmt.Errorf("cache.max_entries %d must not be negative", cfg.Cache.MaxEntries))
	}
	if cfg.Cache.TTL < 0 {
		errs = append(errs, fmt.Errorf("cache.ttl %s must not be negative", cfg.Cache.TTL))
	}

	// Client
	if cfg.Client.Silence < 0 {
		errs = append(errs, fmt.Errorf("client.silence %s must not be negative", cfg.Client.Silence))
	}
	validateProviderName("stt", cfg.Client.STT.Name)

	return errors.Join(errs...)
}

// validateModels checks that m maps exactly the model IDs served by backend.
func validateModels(field string, m map[string]string, backend model.Backend) []error {
	var errs []error
	for key, name := range m {
		id := model.ID(key)
		if id.Backend() != backend {
			errs = append(errs, fmt.Errorf("%s: %q is not served by the %s backend", field, key, backend))
			continue
		}
		if name == "" {
			errs = append(errs, fmt.Errorf("%s.%s must not be empty", field, key))
		}
	}
	for _, id := range model.All() {
		if id.Backend() != backend {
			continue
		}
		if _, ok := m[string(id)]; !ok {
			errs = append(errs, fmt.Errorf("%s.%s is required", field, id))
		}
	}
	return errs
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
