// Package config provides the configuration schema, loader, and provider registry
// for the parley server and listening client.
package config

import "time"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// CacheStore selects where synthesized clips are cached.
type CacheStore string

const (
	CacheNone   CacheStore = "none"
	CacheMemory CacheStore = "memory"
	CacheRedis  CacheStore = "redis"
)

// IsValid reports whether s is a recognised cache store.
func (s CacheStore) IsValid() bool {
	switch s {
	case CacheNone, CacheMemory, CacheRedis:
		return true
	}
	return false
}

// Config is the root configuration structure shared by the server and the
// client. Each binary reads the sections it needs.
//
// Use [Default] for a ready-to-run baseline, or [Load] to overlay a YAML file
// and the environment on top of it.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	Backends BackendsConfig `yaml:"backends"`
	TTS      ProviderEntry  `yaml:"tts"`
	Cache    CacheConfig    `yaml:"cache"`
	Client   ClientConfig   `yaml:"client"`
}

// ServerConfig holds network and logging settings for the server.
type ServerConfig struct {
	// ListenAddr is the address of the chat API (e.g., ":3000").
	ListenAddr string `yaml:"listen_addr"`

	// OpsAddr serves /metrics, /healthz and /readyz. Empty disables it.
	OpsAddr string `yaml:"ops_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// RequestTimeout bounds a whole turn (completion plus synthesis).
	// Zero means no limit beyond the client's.
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// MaxBodyBytes caps the chat request body.
	MaxBodyBytes int64 `yaml:"max_body_bytes"`
}

// DispatchConfig holds per-turn parameters.
type DispatchConfig struct {
	// SystemPrompt is sent with every completion. Empty uses the built-in
	// instruction.
	SystemPrompt string `yaml:"system_prompt"`

	// Voices holds the two-voice policy.
	Voices VoicesConfig `yaml:"voices"`

	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
}

// VoicesConfig names the TTS voice for locally served models and for
// everything else.
type VoicesConfig struct {
	Local  string `yaml:"local"`
	Remote string `yaml:"remote"`
}

// BackendsConfig configures the three completion backend families.
type BackendsConfig struct {
	Hosted         HostedConfig         `yaml:"hosted"`
	Local          LocalConfig          `yaml:"local"`
	Aggregator     AggregatorConfig     `yaml:"aggregator"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// HostedConfig configures the hosted GPT-style API and its two tiers.
type HostedConfig struct {
	// APIKey authenticates with the hosted API. When empty, both hosted
	// models fail at request time.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the API endpoint.
	BaseURL string `yaml:"base_url"`

	// DefaultModel serves "gpt".
	DefaultModel string `yaml:"default_model"`

	// UpgradedModel serves "gpt4".
	UpgradedModel string `yaml:"upgraded_model"`

	Timeout time.Duration `yaml:"timeout"`
}

// LocalConfig configures the local inference server.
type LocalConfig struct {
	// Kind is the server flavour: ollama, llamacpp or llamafile.
	Kind string `yaml:"kind"`

	// BaseURL is the server address.
	BaseURL string `yaml:"base_url"`

	// Models maps each local model ID to the server-side model name.
	Models map[string]string `yaml:"models"`
}

// AggregatorConfig configures the third-party aggregator.
type AggregatorConfig struct {
	// URL is the full chat completion URL.
	URL string `yaml:"url"`

	// Token is the bearer token. When empty, all aggregator models fail at
	// request time.
	Token string `yaml:"token"`

	// Models maps each aggregator model ID to the aggregator-side model
	// string.
	Models map[string]string `yaml:"models"`

	Timeout time.Duration `yaml:"timeout"`
}

// CircuitBreakerConfig configures the breaker placed in front of every
// backend and the TTS provider.
type CircuitBreakerConfig struct {
	// MaxFailures is the number of consecutive failures that open the
	// breaker. Zero disables the breakers.
	MaxFailures int `yaml:"max_failures"`

	// ResetTimeout is how long an open breaker waits before probing again.
	ResetTimeout time.Duration `yaml:"reset_timeout"`
}

// ProviderEntry is the common configuration block for registry-built
// providers. The Name field selects the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "openai",
	// "deepgram").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "tts-1",
	// "nova-3").
	Model string `yaml:"model"`

	// Language is the BCP-47 language tag, for providers that take one.
	Language string `yaml:"language"`

	// Options holds provider-specific values not covered above.
	Options map[string]any `yaml:"options"`
}

// CacheConfig configures the synthesized clip cache.
type CacheConfig struct {
	Store    CacheStore    `yaml:"store"`
	RedisURL string        `yaml:"redis_url"`
	TTL      time.Duration `yaml:"ttl"`

	// MaxEntries caps the memory store. Redis evicts on its own.
	MaxEntries int `yaml:"max_entries"`
}

// ClientConfig holds settings for the listening client.
type ClientConfig struct {
	// Endpoint is the server's chat URL.
	Endpoint string `yaml:"endpoint"`

	// Silence is how long the client waits after the last result before
	// sending the utterance.
	Silence time.Duration `yaml:"silence"`

	// Phonetic enables sound-alike matching for misheard model names.
	Phonetic bool `yaml:"phonetic"`

	// STT selects the transcription provider.
	STT ProviderEntry `yaml:"stt"`
}

// Default returns the baseline configuration. Secrets are empty.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr:     ":3000",
			OpsAddr:        ":9090",
			LogLevel:       LogInfo,
			RequestTimeout: 60 * time.Second,
			MaxBodyBytes:   64 << 10,
		},
		Dispatch: DispatchConfig{
			Voices: VoicesConfig{Local: "onyx", Remote: "alloy"},
		},
		Backends: BackendsConfig{
			Hosted: HostedConfig{
				DefaultModel:  "gpt-3.5-turbo",
				UpgradedModel: "gpt-4",
				Timeout:       30 * time.Second,
			},
			Local: LocalConfig{
				Kind:    "ollama",
				BaseURL: "http://localhost:11434",
				Models: map[string]string{
					"local-mistral": "mistral",
					"local-llama":   "llama2",
				},
			},
			Aggregator: AggregatorConfig{
				URL: "https://api.perplexity.ai/chat/completions",
				Models: map[string]string{
					"perplexity": "pplx-70b-online",
					"mixture":    "mixtral-8x7b-instruct",
					"mistral":    "mistral-7b-instruct",
					"llama":      "llama-2-70b-chat",
				},
				Timeout: 30 * time.Second,
			},
			CircuitBreaker: CircuitBreakerConfig{
				MaxFailures:  5,
				ResetTimeout: 30 * time.Second,
			},
		},
		TTS: ProviderEntry{Name: "openai"},
		Cache: CacheConfig{
			Store:      CacheMemory,
			TTL:        24 * time.Hour,
			MaxEntries: 1024,
		},
		Client: ClientConfig{
			Endpoint: "http://localhost:3000/api/chat",
			Silence:  2 * time.Second,
			STT:      ProviderEntry{Name: "deepgram", Model: "nova-3", Language: "en"},
		},
	}
}
