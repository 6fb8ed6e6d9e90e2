// Package cache provides a read-through caching decorator for tts.Provider.
//
// Clips are keyed by provider, voice and text. Store failures are logged and
// treated as misses; they never fail a synthesis.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/MrWong99/parley/pkg/provider/tts"
	"github.com/MrWong99/parley/pkg/types"
)

const keyPrefix = "parley:tts:"

// Store is a byte-oriented key/value store with expiry.
type Store interface {
	// Get returns the value for key. ok is false on a miss.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	// Set stores value under key for ttl. A zero ttl means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Provider wraps another tts.Provider with a Store.
type Provider struct {
	next  tts.Provider
	store Store
	ttl   time.Duration
	log   *slog.Logger
}

var _ tts.Provider = (*Provider)(nil)

// Option configures a Provider.
type Option func(*Provider)

// WithTTL sets the expiry of cached clips. Default: 24h.
func WithTTL(d time.Duration) Option {
	return func(p *Provider) { p.ttl = d }
}

// WithLogger sets the logger used for store failures.
func WithLogger(l *slog.Logger) Option {
	return func(p *Provider) { p.log = l }
}

// New returns next wrapped with store.
func New(next tts.Provider, store Store, opts ...Option) *Provider {
	p := &Provider{
		next:  next,
		store: store,
		ttl:   24 * time.Hour,
		log:   slog.Default(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Name implements tts.Provider.
func (p *Provider) Name() string { return p.next.Name() }

// ListVoices implements tts.Provider. Voice listings are not cached.
func (p *Provider) ListVoices(ctx context.Context) ([]types.VoiceProfile, error) {
	return p.next.ListVoices(ctx)
}

// Synthesize implements tts.Provider.
func (p *Provider) Synthesize(ctx context.Context, text string, voice types.VoiceProfile) ([]byte, error) {
	key := Key(p.next.Name(), text, voice)

	audio, ok, err := p.store.Get(ctx, key)
	switch {
	case err != nil:
		p.log.Warn("tts cache: get failed", "err", err)
	case ok && len(audio) > 0:
		return audio, nil
	}

	audio, err = p.next.Synthesize(ctx, text, voice)
	if err != nil {
		return nil, err
	}
	if err := p.store.Set(ctx, key, audio, p.ttl); err != nil {
		p.log.Warn("tts cache: set failed", "err", err)
	}
	return audio, nil
}

// Key derives the cache key for a clip.
func Key(provider, text string, voice types.VoiceProfile) string {
	h := sha256.New()
	for _, part := range []string{provider, voice.ID, strconv.FormatFloat(voice.SpeedFactor, 'f', -1, 64), text} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return keyPrefix + hex.EncodeToString(h.Sum(nil))
}

// DefaultMaxEntries bounds a MemoryStore unless [WithMaxEntries] says
// otherwise.
const DefaultMaxEntries = 1024

// MemoryStore is an in-process Store holding at most a fixed number of
// clips. When full, expired clips are swept first and then the oldest clip
// is evicted. It is safe for concurrent use.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	max     int
	seq     uint64
	now     func() time.Time
}

type memoryEntry struct {
	value   []byte
	expires time.Time
	seq     uint64
}

var _ Store = (*MemoryStore)(nil)

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithMaxEntries caps the number of stored clips. Values below 1 are ignored.
func WithMaxEntries(n int) MemoryOption {
	return func(m *MemoryStore) {
		if n > 0 {
			m.max = n
		}
	}
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	m := &MemoryStore{
		entries: make(map[string]memoryEntry),
		max:     DefaultMaxEntries,
		now:     time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Get implements Store.
func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return nil, false, nil
	}
	if e.expired(m.now()) {
		delete(m.entries, key)
		return nil, false, nil
	}
	return e.value, true, nil
}

// Set implements Store.
func (m *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if _, exists := m.entries[key]; !exists && len(m.entries) >= m.max {
		m.sweepLocked(now)
		if len(m.entries) >= m.max {
			m.evictOldestLocked()
		}
	}
	m.seq++
	e := memoryEntry{value: value, seq: m.seq}
	if ttl > 0 {
		e.expires = now.Add(ttl)
	}
	m.entries[key] = e
	return nil
}

func (m *MemoryStore) sweepLocked(now time.Time) {
	for k, e := range m.entries {
		if e.expired(now) {
			delete(m.entries, k)
		}
	}
}

func (m *MemoryStore) evictOldestLocked() {
	var oldest string
	var minSeq uint64
	for k, e := range m.entries {
		if oldest == "" || e.seq < minSeq {
			oldest, minSeq = k, e.seq
		}
	}
	delete(m.entries, oldest)
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expires.IsZero() && !now.Before(e.expires)
}

// Len reports the number of stored entries, including expired ones not yet
// evicted.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
